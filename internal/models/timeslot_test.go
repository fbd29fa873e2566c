/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func slotRecord(start, end float64) map[string]any {
	return map[string]any{
		"start_time": start,
		"end_time":   end,
		"duration":   end - start,
		"edited":     0,
		"mode":       map[string]any{"type": "irrigate", "zone": "north"},
	}
}

func scheduleRecord(name string, slots ...map[string]any) map[string]any {
	list := make([]any, 0, len(slots))
	for _, s := range slots {
		list = append(list, s)
	}
	return map[string]any{
		"schedule_name": name,
		"frequency":     "daily",
		"start_time":    1000.0,
		"end_time":      2000.0,
		"duration":      1,
		"edited":        false,
		"mode":          map[string]any{"type": "irrigate"},
		"timeslots":     list,
	}
}

func TestParseTimeslot(t *testing.T) {
	slot, err := ParseTimeslot(slotRecord(1700000000.5, 1700000010))
	if err != nil {
		t.Fatalf("ParseTimeslot() error = %v", err)
	}

	if got, want := slot.StartTime, time.Unix(1700000000, 500000000); !got.Equal(want) {
		t.Errorf("StartTime = %v, want %v", got, want)
	}
	if got, want := slot.Duration, 9500*time.Millisecond; got != want {
		t.Errorf("Duration = %v, want %v", got, want)
	}
	if slot.Edited {
		t.Error("Edited = true, want false")
	}
	if slot.Mode != "irrigate" {
		t.Errorf("Mode = %q, want irrigate", slot.Mode)
	}
	if slot.ModeParams["zone"] != "north" {
		t.Errorf("ModeParams[zone] = %v, want north", slot.ModeParams["zone"])
	}
}

func TestParseTimeslotMissingField(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
		field  string
	}{
		{"start_time", func(r map[string]any) { delete(r, "start_time") }, "start_time"},
		{"end_time", func(r map[string]any) { delete(r, "end_time") }, "end_time"},
		{"duration", func(r map[string]any) { delete(r, "duration") }, "duration"},
		{"edited", func(r map[string]any) { delete(r, "edited") }, "edited"},
		{"mode", func(r map[string]any) { delete(r, "mode") }, "mode"},
		{"mode type", func(r map[string]any) { r["mode"] = map[string]any{} }, "mode.type"},
		{"mode not object", func(r map[string]any) { r["mode"] = "irrigate" }, "mode"},
		{"start not number", func(r map[string]any) { r["start_time"] = "soon" }, "start_time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := slotRecord(10, 20)
			tt.mutate(record)

			_, err := ParseTimeslot(record)
			if !errors.Is(err, ErrMalformedScheduleData) {
				t.Fatalf("error = %v, want ErrMalformedScheduleData", err)
			}
			var malformed *MalformedDataError
			if !errors.As(err, &malformed) {
				t.Fatalf("error %T is not *MalformedDataError", err)
			}
			if malformed.Field != tt.field {
				t.Errorf("Field = %q, want %q", malformed.Field, tt.field)
			}
		})
	}
}

func TestParseSnapshotNamesNestedField(t *testing.T) {
	bad := slotRecord(10, 20)
	delete(bad, "end_time")
	data := map[string]any{
		"schedules": []any{
			scheduleRecord("ok", slotRecord(1, 2)),
			scheduleRecord("broken", slotRecord(3, 4), bad),
		},
	}

	_, err := ParseSnapshot(data)
	var malformed *MalformedDataError
	if !errors.As(err, &malformed) {
		t.Fatalf("error = %v, want *MalformedDataError", err)
	}
	if want := "schedules[1].timeslots[1].end_time"; malformed.Field != want {
		t.Errorf("Field = %q, want %q", malformed.Field, want)
	}
}

func TestParseSnapshotWithoutSchedulesKey(t *testing.T) {
	schedules, err := ParseSnapshot(map[string]any{"other": 1})
	if err != nil {
		t.Fatalf("ParseSnapshot() error = %v", err)
	}
	if len(schedules) != 0 {
		t.Errorf("len(schedules) = %d, want 0", len(schedules))
	}

	if _, err := ParseSnapshot(map[string]any{"schedules": "nope"}); !errors.Is(err, ErrMalformedScheduleData) {
		t.Errorf("non-list schedules error = %v, want ErrMalformedScheduleData", err)
	}
}

func TestScheduleSortsTimeslots(t *testing.T) {
	starts := []float64{50, 10, 40, 10, 30, 20}
	slots := make([]map[string]any, 0, len(starts))
	for _, s := range starts {
		slots = append(slots, slotRecord(s, s+5))
	}

	schedule, err := ParseSchedule(scheduleRecord("sorted", slots...))
	if err != nil {
		t.Fatalf("ParseSchedule() error = %v", err)
	}
	if len(schedule.Timeslots) != len(starts) {
		t.Fatalf("len(Timeslots) = %d, want %d", len(schedule.Timeslots), len(starts))
	}
	for i := 1; i < len(schedule.Timeslots); i++ {
		if schedule.Timeslots[i].StartTime.Before(schedule.Timeslots[i-1].StartTime) {
			t.Fatalf("timeslots not sorted at %d: %v before %v", i,
				schedule.Timeslots[i].StartTime, schedule.Timeslots[i-1].StartTime)
		}
	}
}

func TestScheduleEqualIgnoresTimeslots(t *testing.T) {
	a, err := ParseSchedule(scheduleRecord("pump", slotRecord(1, 2)))
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParseSchedule(scheduleRecord("pump", slotRecord(5, 6), slotRecord(7, 8)))
	if err != nil {
		t.Fatal(err)
	}
	if !a.Equal(b) {
		t.Error("schedules differing only in timeslots should be equal")
	}

	c, err := ParseSchedule(scheduleRecord("other", slotRecord(1, 2)))
	if err != nil {
		t.Fatal(err)
	}
	if a.Equal(c) {
		t.Error("schedules with different names should not be equal")
	}
}

func TestSortTimeslotsAcrossSchedules(t *testing.T) {
	a, _ := ParseSchedule(scheduleRecord("a", slotRecord(30, 40), slotRecord(10, 20)))
	b, _ := ParseSchedule(scheduleRecord("b", slotRecord(25, 26), slotRecord(5, 6)))

	sorted := SortTimeslots([]*Schedule{a, b})
	want := []int64{5, 10, 25, 30}
	if len(sorted) != len(want) {
		t.Fatalf("len = %d, want %d", len(sorted), len(want))
	}
	for i, w := range want {
		if got := sorted[i].StartTime.Unix(); got != w {
			t.Errorf("sorted[%d].StartTime = %d, want %d", i, got, w)
		}
	}
}

func TestNumberShapes(t *testing.T) {
	for _, v := range []any{1, int64(1), uint32(1), float32(1), 1.0, json.Number("1")} {
		n, ok := Number(v)
		if !ok || n != 1 {
			t.Errorf("Number(%T) = %v, %v", v, n, ok)
		}
	}
	if _, ok := Number("1"); ok {
		t.Error("Number(string) should fail")
	}
}

func TestEditedFlag(t *testing.T) {
	for _, v := range []any{true, 1, 2.0, "true"} {
		record := slotRecord(1, 2)
		record["edited"] = v
		slot, err := ParseTimeslot(record)
		if err != nil {
			t.Fatalf("edited=%v: %v", v, err)
		}
		if !slot.Edited {
			t.Errorf("edited=%v parsed as false", v)
		}
	}
}
