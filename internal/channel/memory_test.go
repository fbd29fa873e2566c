/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package channel

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestMergeReplacesTopLevelKeys(t *testing.T) {
	base := Snapshot{"schedules": []any{"a"}, "owner": "site-1"}
	patch := Snapshot{"schedules": []any{}}

	merged := Merge(base, patch)

	if got := merged["owner"]; got != "site-1" {
		t.Errorf("owner = %v, want site-1", got)
	}
	if got := merged["schedules"].([]any); len(got) != 0 {
		t.Errorf("schedules = %v, want empty", got)
	}
	if got := base["schedules"].([]any); len(got) != 1 {
		t.Error("Merge modified base")
	}
}

func TestMemoryChannelSubscribeDeliversAggregate(t *testing.T) {
	ctx := context.Background()
	ch := NewMemoryChannel(Snapshot{"schedules": []any{}}, zerolog.Nop())

	var got []Snapshot
	if err := ch.Subscribe(ctx, func(_ context.Context, s Snapshot) { got = append(got, s) }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("initial deliveries = %d, want 1", len(got))
	}

	if err := ch.Publish(ctx, Snapshot{"schedules": []any{map[string]any{"schedule_name": "x"}}}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(got))
	}
	records, err := got[1].Records()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0]["schedule_name"] != "x" {
		t.Errorf("records = %v", records)
	}
}

func TestMemoryChannelEmptyHasNoInitialDelivery(t *testing.T) {
	ch := NewMemoryChannel(nil, zerolog.Nop())
	calls := 0
	if err := ch.Subscribe(context.Background(), func(context.Context, Snapshot) { calls++ }); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}

	agg, err := ch.FetchAggregate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if agg != nil {
		t.Errorf("aggregate = %v, want nil", agg)
	}
}

func TestMemoryChannelFetchReturnsCopy(t *testing.T) {
	ch := NewMemoryChannel(Snapshot{"schedules": []any{map[string]any{"schedule_name": "x"}}}, zerolog.Nop())

	agg, err := ch.FetchAggregate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	records, _ := agg.Records()
	records[0]["schedule_name"] = "mutated"

	again, _ := ch.FetchAggregate(context.Background())
	records, _ = again.Records()
	if records[0]["schedule_name"] != "x" {
		t.Error("FetchAggregate returned an alias of the aggregate")
	}
}

func TestMemoryChannelClosed(t *testing.T) {
	ch := NewMemoryChannel(nil, zerolog.Nop())
	if err := ch.Close(); err != nil {
		t.Fatal(err)
	}
	if err := ch.Publish(context.Background(), Empty()); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish() after Close error = %v, want ErrClosed", err)
	}
}

func TestParseSeedYAML(t *testing.T) {
	data := []byte(`
schedules:
  - schedule_name: pumps
    frequency: daily
    start_time: 1700000000
    end_time: 1700086400
    duration: 3600
    edited: 0
    mode: {type: irrigate}
    timeslots:
      - {start_time: 1700000000, end_time: 1700003600, duration: 3600, edited: 0, mode: {type: irrigate}}
`)
	snap, err := ParseSeed(data)
	if err != nil {
		t.Fatalf("ParseSeed() error = %v", err)
	}
	records, err := snap.Records()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	if got, ok := records[0]["start_time"].(float64); !ok || got != 1700000000 {
		t.Errorf("start_time = %#v, want float64 1700000000", records[0]["start_time"])
	}
}
