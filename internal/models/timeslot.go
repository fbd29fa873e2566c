/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"fmt"
	"sort"
	"time"
)

// Timeslot is a single time interval with operating-mode metadata.
// Values are built once from an incoming record and never mutated.
type Timeslot struct {
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Edited     bool
	Mode       string
	ModeParams map[string]any
}

// SlotKey identifies an interval by its boundaries, independent of which
// snapshot the Timeslot value came from.
type SlotKey struct {
	Start int64
	End   int64
}

// Key returns the interval key for t.
func (t *Timeslot) Key() SlotKey {
	return SlotKey{Start: t.StartTime.UnixNano(), End: t.EndTime.UnixNano()}
}

func (t *Timeslot) String() string {
	return fmt.Sprintf("Timeslot(start_time=%s, end_time=%s)",
		t.StartTime.UTC().Format(time.RFC3339), t.EndTime.UTC().Format(time.RFC3339))
}

// Schedule is a named, recurring container of timeslots.
type Schedule struct {
	Name       string
	Frequency  string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Edited     bool
	Mode       string
	ModeParams map[string]any
	Timeslots  []*Timeslot
}

// NewSchedule builds a schedule and sorts its timeslots by start time.
// The order is established here only; callers must not append to
// Timeslots afterwards.
func NewSchedule(name, frequency string, start, end time.Time, duration time.Duration, edited bool, mode string, modeParams map[string]any, timeslots []*Timeslot) *Schedule {
	sort.SliceStable(timeslots, func(i, j int) bool {
		return timeslots[i].StartTime.Before(timeslots[j].StartTime)
	})
	return &Schedule{
		Name:       name,
		Frequency:  frequency,
		StartTime:  start,
		EndTime:    end,
		Duration:   duration,
		Edited:     edited,
		Mode:       mode,
		ModeParams: modeParams,
		Timeslots:  timeslots,
	}
}

// Equal reports whether two schedules share name, start, end, duration and
// mode. Timeslot contents are not compared.
func (s *Schedule) Equal(other *Schedule) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.Name == other.Name &&
		s.StartTime.Equal(other.StartTime) &&
		s.EndTime.Equal(other.EndTime) &&
		s.Duration == other.Duration &&
		s.Mode == other.Mode
}

func (s *Schedule) String() string {
	return fmt.Sprintf("Schedule(name=%s, start_time=%s)", s.Name, s.StartTime.UTC().Format(time.RFC3339))
}

// SortTimeslots flattens the timeslots of all schedules into one list
// ordered by start time.
func SortTimeslots(schedules []*Schedule) []*Timeslot {
	var slots []*Timeslot
	for _, s := range schedules {
		slots = append(slots, s.Timeslots...)
	}
	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].StartTime.Before(slots[j].StartTime)
	})
	return slots
}
