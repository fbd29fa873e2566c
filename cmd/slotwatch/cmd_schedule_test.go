/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/friendsincode/slotwatch/internal/models"
)

func TestPrintStatus(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	slot := &models.Timeslot{StartTime: start, EndTime: start.Add(time.Hour), Duration: time.Hour, Mode: "live"}

	tests := []struct {
		name    string
		current *models.Timeslot
		next    *models.Timeslot
		slots   []*models.Timeslot
		want    []string
		absent  []string
	}{
		{
			name:   "empty",
			want:   []string{"Current: none", "Next:    none"},
			absent: []string{"START"},
		},
		{
			name:    "current only",
			current: slot,
			slots:   []*models.Timeslot{slot},
			want: []string{
				"Current: 2026-03-01T12:00:00Z - 2026-03-01T13:00:00Z (live)",
				"Next:    none",
				"START",
				"2026-03-01T12:00:00Z  2026-03-01T13:00:00Z  live",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := printStatus(&buf, tt.current, tt.next, tt.slots); err != nil {
				t.Fatalf("printStatus: %v", err)
			}
			out := buf.String()
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
			for _, absent := range tt.absent {
				if strings.Contains(out, absent) {
					t.Errorf("output unexpectedly contains %q:\n%s", absent, out)
				}
			}
		})
	}
}
