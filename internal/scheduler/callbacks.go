/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/slotwatch/internal/models"
	"github.com/friendsincode/slotwatch/internal/telemetry"
)

// Role tags which lists a callback is registered into. Roles combine with |.
type Role uint8

const (
	RoleUpdate Role = 1 << iota
	RoleStart
	RoleEnd
)

func (r Role) String() string {
	var parts []string
	if r&RoleUpdate != 0 {
		parts = append(parts, "update")
	}
	if r&RoleStart != 0 {
		parts = append(parts, "start")
	}
	if r&RoleEnd != 0 {
		parts = append(parts, "end")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// UpdateFunc runs after every successfully ingested schedule update.
type UpdateFunc func(ctx context.Context) error

// SlotFunc runs when a timeslot starts or ends.
type SlotFunc func(ctx context.Context, slot *models.Timeslot) error

// Callback is one registration. Update is required for RoleUpdate, Slot for
// RoleStart and RoleEnd.
type Callback struct {
	Name   string
	Roles  Role
	Update UpdateFunc
	Slot   SlotFunc
}

var errNoRoles = errors.New("callback has no roles")

func (cb Callback) validate() error {
	if cb.Roles&(RoleUpdate|RoleStart|RoleEnd) == 0 {
		return errNoRoles
	}
	if cb.Roles&RoleUpdate != 0 && cb.Update == nil {
		return fmt.Errorf("callback %q: update role requires Update", cb.Name)
	}
	if cb.Roles&(RoleStart|RoleEnd) != 0 && cb.Slot == nil {
		return fmt.Errorf("callback %q: %s role requires Slot", cb.Name, cb.Roles&(RoleStart|RoleEnd))
	}
	return nil
}

// registry holds the three ordered callback lists of one controller.
type registry struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	update []Callback
	start  []Callback
	end    []Callback
}

func newRegistry(logger zerolog.Logger) *registry {
	return &registry{logger: logger}
}

// add validates every callback before registering any of them.
func (r *registry) add(cbs ...Callback) error {
	for _, cb := range cbs {
		if err := cb.validate(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cb := range cbs {
		if cb.Roles&RoleUpdate != 0 {
			r.update = append(r.update, cb)
		}
		if cb.Roles&RoleStart != 0 {
			r.start = append(r.start, cb)
		}
		if cb.Roles&RoleEnd != 0 {
			r.end = append(r.end, cb)
		}
	}
	return nil
}

func (r *registry) list(role Role) []Callback {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch role {
	case RoleUpdate:
		return append([]Callback(nil), r.update...)
	case RoleStart:
		return append([]Callback(nil), r.start...)
	case RoleEnd:
		return append([]Callback(nil), r.end...)
	}
	return nil
}

func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.update, r.start, r.end = nil, nil, nil
}

// dispatch invokes every callback for role in registration order. A
// failing callback is logged and skipped; it never stops its siblings.
func (r *registry) dispatch(ctx context.Context, role Role, slot *models.Timeslot) {
	for _, cb := range r.list(role) {
		telemetry.CallbacksTotal.WithLabelValues(role.String()).Inc()
		if err := invoke(ctx, role, cb, slot); err != nil {
			telemetry.CallbackErrorsTotal.WithLabelValues(role.String()).Inc()
			event := r.logger.Error().Err(err).
				Str("callback", cb.Name).
				Str("event", role.String())
			if slot != nil {
				event = event.Time("slot_start", slot.StartTime).Time("slot_end", slot.EndTime)
			}
			event.Msg("schedule callback failed")
		}
	}
}

func invoke(ctx context.Context, role Role, cb Callback, slot *models.Timeslot) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	if role == RoleUpdate {
		return cb.Update(ctx)
	}
	return cb.Slot(ctx, slot)
}
