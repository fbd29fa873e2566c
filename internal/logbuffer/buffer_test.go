/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logbuffer

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBufferWrapsAround(t *testing.T) {
	b := New(3)
	for _, msg := range []string{"a", "b", "c", "d"} {
		b.Add(LogEntry{Message: msg})
	}
	all := b.GetAll()
	if len(all) != 3 || all[0].Message != "b" || all[2].Message != "d" {
		t.Fatalf("GetAll = %+v", all)
	}
	if stats := b.Stats(); stats.Count != 3 || stats.Capacity != 3 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestQuery(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := New(10)
	b.Add(LogEntry{Timestamp: base, Level: "info", Message: "schedule update applied", Component: "scheduler"})
	b.Add(LogEntry{Timestamp: base.Add(time.Minute), Level: "error", Message: "callback failed", Component: "scheduler",
		Fields: map[string]any{"callback": "History"}})
	b.Add(LogEntry{Timestamp: base.Add(2 * time.Minute), Level: "info", Message: "webhook delivered", Component: "webhooks"})

	tests := []struct {
		name   string
		params QueryParams
		want   []string
	}{
		{"all newest first", QueryParams{}, []string{"webhook delivered", "callback failed", "schedule update applied"}},
		{"level", QueryParams{Level: "error"}, []string{"callback failed"}},
		{"component", QueryParams{Component: "webhooks"}, []string{"webhook delivered"}},
		{"search fields", QueryParams{Search: "history"}, []string{"callback failed"}},
		{"since", QueryParams{Since: base.Add(30 * time.Second)}, []string{"webhook delivered", "callback failed"}},
		{"limit", QueryParams{Limit: 1}, []string{"webhook delivered"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.Query(tt.params)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d entries, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Message != tt.want[i] {
					t.Fatalf("entry %d = %q, want %q", i, got[i].Message, tt.want[i])
				}
			}
		})
	}
}

func TestWriterCapturesZerolog(t *testing.T) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	b := New(10)
	var fallback bytes.Buffer
	logger := zerolog.New(NewWriter(b, &fallback)).With().Timestamp().Logger()

	logger.Warn().Str("component", "api").Str("path", "/healthz").Msg("slow request")

	entries := b.GetAll()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Level != "warn" || e.Message != "slow request" || e.Component != "api" {
		t.Fatalf("entry = %+v", e)
	}
	if e.Fields["path"] != "/healthz" {
		t.Fatalf("fields = %v", e.Fields)
	}
	if e.Timestamp.IsZero() {
		t.Fatal("timestamp not parsed")
	}
	if fallback.Len() == 0 {
		t.Fatal("fallback writer not called")
	}
}
