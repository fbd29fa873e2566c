/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/rs/zerolog"
)

func runJetStream(t *testing.T) string {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	s := natsserver.RunServer(&opts)
	t.Cleanup(s.Shutdown)
	return s.ClientURL()
}

func newTestNATSChannel(t *testing.T, url string) *NATSChannel {
	t.Helper()
	cfg := DefaultNATSConfig()
	cfg.URL = url
	cfg.Bucket = "SLOTWATCH_TEST"
	nc, err := NewNATSChannel(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewNATSChannel() error = %v", err)
	}
	t.Cleanup(func() { _ = nc.Close() })
	return nc
}

func receive(t *testing.T, got <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case s := <-got:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func TestNATSChannelFetchAndPublishMerge(t *testing.T) {
	nc := newTestNATSChannel(t, runJetStream(t))
	ctx := context.Background()

	agg, err := nc.FetchAggregate(ctx)
	if err != nil {
		t.Fatalf("FetchAggregate() error = %v", err)
	}
	if agg != nil {
		t.Fatalf("aggregate = %v, want nil", agg)
	}

	if err := nc.Publish(ctx, Snapshot{"owner": "site-1", "schedules": []any{map[string]any{"schedule_name": "old"}}}); err != nil {
		t.Fatalf("Publish() create error = %v", err)
	}
	if err := nc.Publish(ctx, Empty()); err != nil {
		t.Fatalf("Publish() update error = %v", err)
	}

	agg, err = nc.FetchAggregate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if agg["owner"] != "site-1" {
		t.Errorf("owner = %v, want site-1", agg["owner"])
	}
	records, err := agg.Records()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("records = %v, want none", records)
	}
}

func TestNATSChannelSubscribe(t *testing.T) {
	url := runJetStream(t)
	nc := newTestNATSChannel(t, url)
	ctx := context.Background()

	if err := nc.Publish(ctx, Snapshot{"revision": "seed"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got := make(chan Snapshot, 8)
	if err := nc.Subscribe(ctx, func(_ context.Context, s Snapshot) { got <- s }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	// The replay delivers the stored aggregate; its end marker is not passed on.
	if s := receive(t, got); s["revision"] != "seed" {
		t.Fatalf("initial delivery = %v, want seed", s)
	}

	remote := newTestNATSChannel(t, url)
	if err := remote.Publish(ctx, Snapshot{"revision": "second"}); err != nil {
		t.Fatalf("remote Publish() error = %v", err)
	}
	if s := receive(t, got); s["revision"] != "second" {
		t.Fatalf("update delivery = %v, want second", s)
	}

	if err := nc.kv.Delete(Name); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if s := receive(t, got); s != nil {
		t.Fatalf("delete delivery = %v, want nil", s)
	}

	select {
	case s := <-got:
		t.Fatalf("unexpected delivery %v", s)
	case <-time.After(50 * time.Millisecond):
	}

	// A deleted key is created again on the next publish.
	if err := nc.Publish(ctx, Snapshot{"revision": "third"}); err != nil {
		t.Fatalf("Publish() after delete error = %v", err)
	}
	if s := receive(t, got); s["revision"] != "third" {
		t.Fatalf("delivery after delete = %v, want third", s)
	}
}

func TestNATSChannelSubscribeWithoutAggregate(t *testing.T) {
	nc := newTestNATSChannel(t, runJetStream(t))

	got := make(chan Snapshot, 1)
	if err := nc.Subscribe(context.Background(), func(_ context.Context, s Snapshot) { got <- s }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	select {
	case s := <-got:
		t.Fatalf("unexpected delivery %v for an empty bucket", s)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNATSChannelConcurrentWriterConflicts(t *testing.T) {
	url := runJetStream(t)
	nc := newTestNATSChannel(t, url)
	remote := newTestNATSChannel(t, url)
	ctx := context.Background()

	tests := []struct {
		name string
		seed bool
	}{
		{"create races create", false},
		{"update races update", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := nc.kv.Purge(Name); err != nil {
				t.Fatalf("Purge() error = %v", err)
			}
			if tt.seed {
				if err := nc.Publish(ctx, Snapshot{"revision": "seed"}); err != nil {
					t.Fatalf("seed Publish() error = %v", err)
				}
			}

			base, revision, err := nc.load()
			if err != nil {
				t.Fatalf("load() error = %v", err)
			}
			if err := remote.Publish(ctx, Snapshot{"revision": "remote"}); err != nil {
				t.Fatalf("remote Publish() error = %v", err)
			}

			err = nc.store(Merge(base, Snapshot{"revision": "local"}), revision)
			if !errors.Is(err, ErrConflict) {
				t.Fatalf("store() error = %v, want ErrConflict", err)
			}

			agg, err := nc.FetchAggregate(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if agg["revision"] != "remote" {
				t.Errorf("revision = %v, want remote", agg["revision"])
			}
		})
	}
}
