/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package channel

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// MemoryChannel keeps the aggregate in process and delivers changes to
// subscribers synchronously, in subscription order.
type MemoryChannel struct {
	logger zerolog.Logger

	mu        sync.RWMutex
	aggregate Snapshot
	handlers  []Handler
	closed    bool
}

// NewMemoryChannel creates a channel holding initial (which may be nil).
func NewMemoryChannel(initial Snapshot, logger zerolog.Logger) *MemoryChannel {
	return &MemoryChannel{
		logger:    logger.With().Str("component", "memory_channel").Logger(),
		aggregate: initial,
	}
}

// Subscribe registers h and delivers the current aggregate if one exists.
func (m *MemoryChannel) Subscribe(ctx context.Context, h Handler) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.handlers = append(m.handlers, h)
	current := m.aggregate
	m.mu.Unlock()

	if current == nil {
		return nil
	}
	snap, err := clone(current)
	if err != nil {
		return err
	}
	h(ctx, snap)
	return nil
}

// FetchAggregate returns a copy of the aggregate.
func (m *MemoryChannel) FetchAggregate(ctx context.Context) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return clone(m.aggregate)
}

// Publish merges snap into the aggregate and notifies every subscriber.
func (m *MemoryChannel) Publish(ctx context.Context, snap Snapshot) error {
	patch, err := clone(snap)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.aggregate = Merge(m.aggregate, patch)
	current := m.aggregate
	handlers := append([]Handler(nil), m.handlers...)
	m.mu.Unlock()

	m.logger.Debug().Int("subscribers", len(handlers)).Msg("schedule aggregate published")

	for _, h := range handlers {
		delivered, err := clone(current)
		if err != nil {
			return err
		}
		h(ctx, delivered)
	}
	return nil
}

// Close drops all subscribers.
func (m *MemoryChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.handlers = nil
	return nil
}
