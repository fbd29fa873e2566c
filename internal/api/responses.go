/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"time"

	"github.com/friendsincode/slotwatch/internal/models"
)

// TimeslotResponse is the wire form of a timeslot. Times are RFC 3339,
// duration is in seconds.
type TimeslotResponse struct {
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Duration  float64        `json:"duration"`
	Edited    bool           `json:"edited"`
	Mode      string         `json:"mode"`
	Params    map[string]any `json:"mode_params,omitempty"`
}

// NewTimeslotResponse converts a timeslot.
func NewTimeslotResponse(slot *models.Timeslot) TimeslotResponse {
	return TimeslotResponse{
		StartTime: slot.StartTime.UTC(),
		EndTime:   slot.EndTime.UTC(),
		Duration:  slot.Duration.Seconds(),
		Edited:    slot.Edited,
		Mode:      slot.Mode,
		Params:    slot.ModeParams,
	}
}

// ScheduleResponse is the wire form of a schedule and its timeslots.
type ScheduleResponse struct {
	Name      string             `json:"schedule_name"`
	Frequency string             `json:"frequency"`
	StartTime time.Time          `json:"start_time"`
	EndTime   time.Time          `json:"end_time"`
	Duration  float64            `json:"duration"`
	Edited    bool               `json:"edited"`
	Mode      string             `json:"mode"`
	Timeslots []TimeslotResponse `json:"timeslots"`
}

// NewScheduleResponse converts a schedule.
func NewScheduleResponse(s *models.Schedule) ScheduleResponse {
	slots := make([]TimeslotResponse, 0, len(s.Timeslots))
	for _, slot := range s.Timeslots {
		slots = append(slots, NewTimeslotResponse(slot))
	}
	return ScheduleResponse{
		Name:      s.Name,
		Frequency: s.Frequency,
		StartTime: s.StartTime.UTC(),
		EndTime:   s.EndTime.UTC(),
		Duration:  s.Duration.Seconds(),
		Edited:    s.Edited,
		Mode:      s.Mode,
		Timeslots: slots,
	}
}
