/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package channel implements the schedule channel: the external aggregate
// holding the full schedule definition, its change notifications, and the
// publish path used by maintenance operations.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Name is the channel carrying schedule definitions.
const Name = "schedules"

// SchedulesKey is the top-level key holding the schedule records.
const SchedulesKey = "schedules"

// ErrClosed is returned by operations on a closed channel.
var ErrClosed = errors.New("schedule channel closed")

// ErrConflict is returned by Publish when another writer changed the
// aggregate between the read and the conditional write.
var ErrConflict = errors.New("schedule aggregate changed concurrently")

// Snapshot is the full replace-the-world schedule document,
// {"schedules": [ <schedule-record>, ... ]}.
type Snapshot map[string]any

// Handler receives a full snapshot whenever the aggregate changes. A nil
// snapshot means the aggregate is absent.
type Handler func(ctx context.Context, snap Snapshot)

// Channel is the publish/subscribe collaborator the controller drives.
type Channel interface {
	// Subscribe registers h. The current aggregate, if any, is delivered
	// once before subsequent changes.
	Subscribe(ctx context.Context, h Handler) error
	// FetchAggregate returns the current aggregate, or nil if none exists.
	FetchAggregate(ctx context.Context) (Snapshot, error)
	// Publish merges snap into the aggregate at the top level.
	Publish(ctx context.Context, snap Snapshot) error
	Close() error
}

// Empty returns a snapshot with no schedules.
func Empty() Snapshot {
	return Snapshot{SchedulesKey: []any{}}
}

// Records returns the schedule records of s. A missing key yields nil.
func (s Snapshot) Records() ([]map[string]any, error) {
	raw, ok := s[SchedulesKey]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%q must be a list, got %T", SchedulesKey, raw)
	}
	records := make([]map[string]any, 0, len(list))
	for i, item := range list {
		record, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] must be an object, got %T", SchedulesKey, i, item)
		}
		records = append(records, record)
	}
	return records, nil
}

// Merge applies patch on top of base: every top-level key in patch replaces
// the key in base. Neither argument is modified.
func Merge(base, patch Snapshot) Snapshot {
	out := make(Snapshot, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Encode serializes a snapshot for transport.
func Encode(s Snapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a transported snapshot. JSON null decodes to nil.
func Decode(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// clone deep-copies a snapshot through its wire form so subscribers can
// never alias the aggregate held by a backend.
func clone(s Snapshot) (Snapshot, error) {
	if s == nil {
		return nil, nil
	}
	data, err := Encode(s)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
