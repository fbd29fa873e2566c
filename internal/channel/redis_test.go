/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package channel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
)

func newTestRedisChannel(t *testing.T) (*RedisChannel, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	rc, err := NewRedisChannel(cfg, "node-a", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedisChannel() error = %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestRedisChannelFetchMissingAggregate(t *testing.T) {
	rc, _ := newTestRedisChannel(t)

	agg, err := rc.FetchAggregate(context.Background())
	if err != nil {
		t.Fatalf("FetchAggregate() error = %v", err)
	}
	if agg != nil {
		t.Errorf("aggregate = %v, want nil", agg)
	}
}

func TestRedisChannelPublishMerges(t *testing.T) {
	rc, mr := newTestRedisChannel(t)
	ctx := context.Background()

	if err := mr.Set(rc.cfg.AggregateKey, `{"owner":"site-1","schedules":[{"schedule_name":"old"}]}`); err != nil {
		t.Fatal(err)
	}

	if err := rc.Publish(ctx, Empty()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	agg, err := rc.FetchAggregate(ctx)
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

func TestRedisChannelSubscribeReceivesPublish(t *testing.T) {
	rc, _ := newTestRedisChannel(t)
	ctx := context.Background()

	got := make(chan Snapshot, 4)
	if err := rc.Subscribe(ctx, func(_ context.Context, s Snapshot) { got <- s }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	snap := Snapshot{"schedules": []any{map[string]any{"schedule_name": "pumps"}}}
	if err := rc.Publish(ctx, snap); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case s := <-got:
		records, err := s.Records()
		if err != nil {
			t.Fatal(err)
		}
		if len(records) != 1 || records[0]["schedule_name"] != "pumps" {
			t.Errorf("records = %v", records)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestRedisChannelSubscribeDeliversInOrder(t *testing.T) {
	rc, mr := newTestRedisChannel(t)
	ctx := context.Background()

	cfg := DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	remote, err := NewRedisChannel(cfg, "node-b", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedisChannel() error = %v", err)
	}
	t.Cleanup(func() { _ = remote.Close() })

	if err := rc.Publish(ctx, Snapshot{"revision": "first"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	var (
		mu       sync.Mutex
		seen     []any
		inFlight atomic.Int32
		overlap  atomic.Bool
	)
	done := make(chan struct{})
	h := func(_ context.Context, s Snapshot) {
		if inFlight.Add(1) > 1 {
			overlap.Store(true)
		}
		defer inFlight.Add(-1)

		mu.Lock()
		first := len(seen) == 0
		mu.Unlock()
		if first {
			// Another node writes while the initial aggregate is applied.
			if err := remote.Publish(context.Background(), Snapshot{"revision": "second"}); err != nil {
				t.Errorf("remote Publish() error = %v", err)
			}
			time.Sleep(50 * time.Millisecond)
		}

		mu.Lock()
		seen = append(seen, s["revision"])
		if len(seen) == 2 {
			close(done)
		}
		mu.Unlock()
	}

	if err := rc.Subscribe(ctx, h); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for both deliveries")
	}

	if overlap.Load() {
		t.Error("handler ran concurrently")
	}
	mu.Lock()
	defer mu.Unlock()
	if seen[0] != "first" || seen[1] != "second" {
		t.Errorf("deliveries = %v, want [first second]", seen)
	}
}
