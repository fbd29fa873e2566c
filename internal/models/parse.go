/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedScheduleData is matched by every MalformedDataError.
var ErrMalformedScheduleData = errors.New("malformed schedule data")

// MalformedDataError reports a missing or mistyped field in an incoming
// schedule record. Field is the full path, e.g. "schedules[0].timeslots[2].end_time".
type MalformedDataError struct {
	Field  string
	Reason string
}

func (e *MalformedDataError) Error() string {
	return fmt.Sprintf("malformed schedule data: field %q %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrMalformedScheduleData) succeed.
func (e *MalformedDataError) Is(target error) bool {
	return target == ErrMalformedScheduleData
}

func missing(path string) error {
	return &MalformedDataError{Field: path, Reason: "is missing"}
}

func mistyped(path, want string, got any) error {
	return &MalformedDataError{Field: path, Reason: fmt.Sprintf("must be %s, got %T", want, got)}
}

func join(prefix, field string) string {
	if prefix == "" {
		return field
	}
	return prefix + "." + field
}

// ParseSnapshot parses the top-level {"schedules": [...]} document. A
// missing "schedules" key yields an empty list.
func ParseSnapshot(data map[string]any) ([]*Schedule, error) {
	raw, ok := data["schedules"]
	if !ok || raw == nil {
		return []*Schedule{}, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, mistyped("schedules", "a list", raw)
	}

	schedules := make([]*Schedule, 0, len(list))
	for i, item := range list {
		path := fmt.Sprintf("schedules[%d]", i)
		record, ok := item.(map[string]any)
		if !ok {
			return nil, mistyped(path, "an object", item)
		}
		s, err := parseSchedule(path, record)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, nil
}

// ParseSchedule builds a Schedule from a schedule record.
func ParseSchedule(record map[string]any) (*Schedule, error) {
	return parseSchedule("", record)
}

// ParseTimeslot builds a Timeslot from a timeslot record.
func ParseTimeslot(record map[string]any) (*Timeslot, error) {
	return parseTimeslot("", record)
}

func parseSchedule(path string, record map[string]any) (*Schedule, error) {
	name, err := stringField(path, record, "schedule_name")
	if err != nil {
		return nil, err
	}
	frequency, err := stringField(path, record, "frequency")
	if err != nil {
		return nil, err
	}
	start, err := instantField(path, record, "start_time")
	if err != nil {
		return nil, err
	}
	end, err := instantField(path, record, "end_time")
	if err != nil {
		return nil, err
	}
	duration, err := durationField(path, record, "duration")
	if err != nil {
		return nil, err
	}
	edited, err := flagField(path, record, "edited")
	if err != nil {
		return nil, err
	}
	mode, params, err := modeField(path, record)
	if err != nil {
		return nil, err
	}

	rawSlots, ok := record["timeslots"]
	if !ok {
		return nil, missing(join(path, "timeslots"))
	}
	list, ok := rawSlots.([]any)
	if !ok {
		return nil, mistyped(join(path, "timeslots"), "a list", rawSlots)
	}
	slots := make([]*Timeslot, 0, len(list))
	for i, item := range list {
		slotPath := fmt.Sprintf("%s[%d]", join(path, "timeslots"), i)
		slotRecord, ok := item.(map[string]any)
		if !ok {
			return nil, mistyped(slotPath, "an object", item)
		}
		slot, err := parseTimeslot(slotPath, slotRecord)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}

	return NewSchedule(name, frequency, start, end, duration, edited, mode, params, slots), nil
}

func parseTimeslot(path string, record map[string]any) (*Timeslot, error) {
	start, err := instantField(path, record, "start_time")
	if err != nil {
		return nil, err
	}
	end, err := instantField(path, record, "end_time")
	if err != nil {
		return nil, err
	}
	duration, err := durationField(path, record, "duration")
	if err != nil {
		return nil, err
	}
	edited, err := flagField(path, record, "edited")
	if err != nil {
		return nil, err
	}
	mode, params, err := modeField(path, record)
	if err != nil {
		return nil, err
	}
	return &Timeslot{
		StartTime:  start,
		EndTime:    end,
		Duration:   duration,
		Edited:     edited,
		Mode:       mode,
		ModeParams: params,
	}, nil
}

func stringField(path string, record map[string]any, field string) (string, error) {
	raw, ok := record[field]
	if !ok {
		return "", missing(join(path, field))
	}
	s, ok := raw.(string)
	if !ok {
		return "", mistyped(join(path, field), "a string", raw)
	}
	return s, nil
}

func instantField(path string, record map[string]any, field string) (time.Time, error) {
	raw, ok := record[field]
	if !ok {
		return time.Time{}, missing(join(path, field))
	}
	secs, ok := Number(raw)
	if !ok {
		return time.Time{}, mistyped(join(path, field), "a number", raw)
	}
	return FromUnixSeconds(secs), nil
}

func durationField(path string, record map[string]any, field string) (time.Duration, error) {
	raw, ok := record[field]
	if !ok {
		return 0, missing(join(path, field))
	}
	secs, ok := Number(raw)
	if !ok {
		return 0, mistyped(join(path, field), "a number", raw)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func flagField(path string, record map[string]any, field string) (bool, error) {
	raw, ok := record[field]
	if !ok {
		return false, missing(join(path, field))
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, mistyped(join(path, field), "a boolean", raw)
		}
		return b, nil
	}
	n, ok := Number(raw)
	if !ok {
		return false, mistyped(join(path, field), "a boolean", raw)
	}
	return n != 0, nil
}

func modeField(path string, record map[string]any) (string, map[string]any, error) {
	raw, ok := record["mode"]
	if !ok {
		return "", nil, missing(join(path, "mode"))
	}
	params, ok := raw.(map[string]any)
	if !ok {
		return "", nil, mistyped(join(path, "mode"), "an object", raw)
	}
	rawType, ok := params["type"]
	if !ok {
		return "", nil, missing(join(path, "mode.type"))
	}
	mode, ok := rawType.(string)
	if !ok {
		return "", nil, mistyped(join(path, "mode.type"), "a string", rawType)
	}
	return mode, params, nil
}

// Number converts the numeric shapes produced by JSON and YAML decoders to
// float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// FromUnixSeconds converts fractional epoch seconds to a time.Time.
func FromUnixSeconds(secs float64) time.Time {
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9)))
}

// UnixSeconds is the inverse of FromUnixSeconds.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
