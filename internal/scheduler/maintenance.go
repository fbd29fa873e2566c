/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/friendsincode/slotwatch/internal/channel"
	"github.com/friendsincode/slotwatch/internal/models"
	"github.com/friendsincode/slotwatch/internal/telemetry"
)

// FilterExpired drops every timeslot record whose end_time is before now
// and every schedule record left without timeslots. Kept records are
// copied, not modified in place; all other fields pass through unchanged.
func FilterExpired(snap channel.Snapshot, now time.Time) (channel.Snapshot, error) {
	records, err := snap.Records()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedScheduleData, err)
	}

	kept := make([]any, 0, len(records))
	for i, record := range records {
		rawSlots, _ := record["timeslots"].([]any)
		slots := make([]any, 0, len(rawSlots))
		for j, rawSlot := range rawSlots {
			slot, ok := rawSlot.(map[string]any)
			if !ok {
				return nil, &models.MalformedDataError{
					Field:  fmt.Sprintf("schedules[%d].timeslots[%d]", i, j),
					Reason: "must be an object",
				}
			}
			end, ok := models.Number(slot["end_time"])
			if !ok {
				return nil, &models.MalformedDataError{
					Field:  fmt.Sprintf("schedules[%d].timeslots[%d].end_time", i, j),
					Reason: "is missing or not a number",
				}
			}
			if !models.FromUnixSeconds(end).Before(now) {
				slots = append(slots, slot)
			}
		}
		if len(slots) == 0 {
			continue
		}

		filtered := make(map[string]any, len(record))
		for k, v := range record {
			filtered[k] = v
		}
		filtered["timeslots"] = slots
		kept = append(kept, filtered)
	}

	return channel.Snapshot{channel.SchedulesKey: kept}, nil
}

// ClearExpiredTimeslots fetches the authoritative aggregate, removes ended
// timeslots and empty schedules, and publishes the result. Channel errors
// are returned to the caller.
func (c *Controller) ClearExpiredTimeslots(ctx context.Context) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "scheduler", "clear_expired_timeslots")
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
		recordMaintenance("clear_expired", err)
	}()

	current, err := c.channel.FetchAggregate(ctx)
	if err != nil {
		return fmt.Errorf("fetch schedule aggregate: %w", err)
	}
	if current == nil {
		c.logger.Debug().Msg("no schedule aggregate, nothing to clear")
		return nil
	}

	filtered, err := FilterExpired(current, c.clock.Now())
	if err != nil {
		return err
	}
	if err := c.channel.Publish(ctx, filtered); err != nil {
		return fmt.Errorf("publish filtered schedules: %w", err)
	}

	c.logger.Info().
		Int("schedules", len(filtered[channel.SchedulesKey].([]any))).
		Msg("expired timeslots cleared")
	return nil
}

// CheckExpired clears expired timeslots if the first scheduled slot has
// already ended.
func (c *Controller) CheckExpired(ctx context.Context) error {
	slots := c.snap.Load().slots
	if len(slots) == 0 {
		c.logger.Debug().Msg("no timeslots available, waiting for schedule update")
		return nil
	}
	if !slots[0].EndTime.Before(c.clock.Now()) {
		return nil
	}
	c.logger.Info().Stringer("slot", slots[0]).Msg("first timeslot has expired, clearing expired timeslots")
	return c.ClearExpiredTimeslots(ctx)
}

// ClearAllScheduleEvents publishes an empty schedule set.
func (c *Controller) ClearAllScheduleEvents(ctx context.Context) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "scheduler", "clear_all_schedule_events")
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
		recordMaintenance("clear_all", err)
	}()

	if err := c.channel.Publish(ctx, channel.Empty()); err != nil {
		return fmt.Errorf("publish empty schedules: %w", err)
	}
	c.logger.Warn().Msg("all schedule events cleared")
	return nil
}

// RunMaintenance runs CheckExpired every interval until ctx is cancelled.
func (c *Controller) RunMaintenance(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info().Dur("interval", interval).Msg("maintenance loop started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("maintenance loop stopped")
			return ctx.Err()
		case <-ticker.Chan():
			if err := c.CheckExpired(ctx); err != nil {
				c.logger.Error().Err(err).Msg("maintenance check failed")
			}
		}
	}
}

func recordMaintenance(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	telemetry.MaintenanceRunsTotal.WithLabelValues(operation, result).Inc()
}
