/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package history persists fired timeslot boundaries.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/slotwatch/internal/models"
	"github.com/friendsincode/slotwatch/internal/scheduler"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Service writes and reads SlotEvent rows.
type Service struct {
	db         *gorm.DB
	instanceID string
	clock      clockwork.Clock
	logger     zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for FiredAt.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// NewService creates a history service. instanceID tags every row.
func NewService(db *gorm.DB, instanceID string, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		db:         db,
		instanceID: instanceID,
		clock:      clockwork.NewRealClock(),
		logger:     logger.With().Str("component", "history").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record stores one fired boundary of slot.
func (s *Service) Record(ctx context.Context, kind models.SlotEventKind, slot *models.Timeslot) (*models.SlotEvent, error) {
	event := &models.SlotEvent{
		ID:         uuid.NewString(),
		Kind:       kind,
		SlotStart:  slot.StartTime.UTC(),
		SlotEnd:    slot.EndTime.UTC(),
		Mode:       slot.Mode,
		ModeParams: slot.ModeParams,
		InstanceID: s.instanceID,
		FiredAt:    s.clock.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return nil, fmt.Errorf("record %s event: %w", kind, err)
	}
	s.logger.Debug().
		Str("kind", string(kind)).
		Time("slot_start", event.SlotStart).
		Msg("slot event recorded")
	return event, nil
}

// Recent returns the newest events first. limit is clamped to
// [1, MaxLimit]; zero or negative means DefaultLimit.
func (s *Service) Recent(ctx context.Context, limit int) ([]models.SlotEvent, error) {
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	var events []models.SlotEvent
	err := s.db.WithContext(ctx).
		Order("fired_at DESC").
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("query slot events: %w", err)
	}
	return events, nil
}

// Prune deletes events fired before cutoff and returns how many were removed.
func (s *Service) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("fired_at < ?", cutoff.UTC()).Delete(&models.SlotEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("prune slot events: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Callbacks returns a start and an end callback that record every firing.
func (s *Service) Callbacks() []scheduler.Callback {
	return []scheduler.Callback{
		{Name: "history", Roles: scheduler.RoleStart, Slot: s.recorder(models.SlotEventStart)},
		{Name: "history", Roles: scheduler.RoleEnd, Slot: s.recorder(models.SlotEventEnd)},
	}
}

func (s *Service) recorder(kind models.SlotEventKind) scheduler.SlotFunc {
	return func(ctx context.Context, slot *models.Timeslot) error {
		_, err := s.Record(ctx, kind, slot)
		return err
	}
}
