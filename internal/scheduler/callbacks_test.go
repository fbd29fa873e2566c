/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/slotwatch/internal/models"
)

func TestRoleString(t *testing.T) {
	tests := []struct {
		role Role
		want string
	}{
		{RoleStart, "start"},
		{RoleUpdate | RoleEnd, "update|end"},
		{RoleUpdate | RoleStart | RoleEnd, "update|start|end"},
		{0, "none"},
	}
	for _, tt := range tests {
		if got := tt.role.String(); got != tt.want {
			t.Errorf("Role(%d).String() = %q, want %q", tt.role, got, tt.want)
		}
	}
}

func TestRegistryValidation(t *testing.T) {
	noop := func(context.Context, *models.Timeslot) error { return nil }

	tests := []struct {
		name string
		cb   Callback
	}{
		{"no roles", Callback{Name: "x", Slot: noop}},
		{"update without func", Callback{Name: "x", Roles: RoleUpdate}},
		{"start without func", Callback{Name: "x", Roles: RoleStart}},
		{"end without func", Callback{Name: "x", Roles: RoleEnd | RoleUpdate, Update: func(context.Context) error { return nil }}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRegistry(zerolog.Nop())
			valid := Callback{Name: "ok", Roles: RoleStart, Slot: noop}
			if err := r.add(valid, tt.cb); err == nil {
				t.Fatal("expected validation error")
			}
			if n := len(r.list(RoleStart)); n != 0 {
				t.Fatalf("registry kept %d callbacks after a failed add", n)
			}
		})
	}
}

func TestRegistryMultiRole(t *testing.T) {
	r := newRegistry(zerolog.Nop())
	var fired []string
	cb := Callback{
		Name:  "both",
		Roles: RoleStart | RoleEnd,
		Slot: func(context.Context, *models.Timeslot) error {
			fired = append(fired, "both")
			return nil
		},
	}
	if err := r.add(cb); err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(r.list(RoleStart)) != 1 || len(r.list(RoleEnd)) != 1 || len(r.list(RoleUpdate)) != 0 {
		t.Fatal("callback not registered into exactly the start and end lists")
	}

	slot := &models.Timeslot{StartTime: t0, EndTime: t0.Add(time.Minute)}
	r.dispatch(context.Background(), RoleStart, slot)
	r.dispatch(context.Background(), RoleEnd, slot)
	if len(fired) != 2 {
		t.Fatalf("fired %d times, want 2", len(fired))
	}
}

func TestDispatchIsolatesFailures(t *testing.T) {
	r := newRegistry(zerolog.Nop())
	var order []string
	record := func(name string, err error, panics bool) Callback {
		return Callback{
			Name:  name,
			Roles: RoleUpdate,
			Update: func(context.Context) error {
				order = append(order, name)
				if panics {
					panic("boom")
				}
				return err
			},
		}
	}

	if err := r.add(
		record("first", errors.New("failed"), false),
		record("second", nil, true),
		record("third", nil, false),
	); err != nil {
		t.Fatalf("add: %v", err)
	}

	r.dispatch(context.Background(), RoleUpdate, nil)

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestDispatchPassesSlot(t *testing.T) {
	r := newRegistry(zerolog.Nop())
	slot := &models.Timeslot{StartTime: t0, EndTime: t0.Add(time.Minute)}
	var got *models.Timeslot
	_ = r.add(Callback{Name: "capture", Roles: RoleEnd, Slot: func(_ context.Context, s *models.Timeslot) error {
		got = s
		return nil
	}})
	r.dispatch(context.Background(), RoleEnd, slot)
	if got != slot {
		t.Fatalf("callback got %v, want %v", got, slot)
	}
}

func TestRegistryClear(t *testing.T) {
	r := newRegistry(zerolog.Nop())
	_ = r.add(Callback{Name: "u", Roles: RoleUpdate, Update: func(context.Context) error { return nil }})
	r.clear()
	if len(r.list(RoleUpdate)) != 0 {
		t.Fatal("clear left callbacks registered")
	}
}
