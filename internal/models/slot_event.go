/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// SlotEventKind defines which boundary of a timeslot was crossed.
type SlotEventKind string

const (
	SlotEventStart SlotEventKind = "start"
	SlotEventEnd   SlotEventKind = "end"
)

// SlotEvent records a fired start or end callback for a timeslot.
type SlotEvent struct {
	ID         string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Kind       SlotEventKind  `gorm:"type:varchar(16);index:idx_slot_event_kind;not null" json:"kind"`
	SlotStart  time.Time      `gorm:"index:idx_slot_event_slot;not null" json:"slot_start"`
	SlotEnd    time.Time      `gorm:"not null" json:"slot_end"`
	Mode       string         `gorm:"type:varchar(64)" json:"mode"`
	ModeParams map[string]any `gorm:"serializer:json" json:"mode_params,omitempty"`
	InstanceID string         `gorm:"type:varchar(64)" json:"instance_id"`
	FiredAt    time.Time      `gorm:"index:idx_slot_event_fired;not null" json:"fired_at"`
	CreatedAt  time.Time      `json:"created_at"`
}

// TableName returns the table name for GORM.
func (SlotEvent) TableName() string {
	return "slot_events"
}
