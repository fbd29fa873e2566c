/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/slotwatch/internal/models"
	"github.com/friendsincode/slotwatch/internal/telemetry"
)

type watcherKind int

const (
	startWatcher watcherKind = iota
	endWatcher
)

func (k watcherKind) String() string {
	if k == startWatcher {
		return "start"
	}
	return "end"
}

func (k watcherKind) role() Role {
	if k == startWatcher {
		return RoleStart
	}
	return RoleEnd
}

// watcher is one running loop; cancel stops it at its next suspension point.
type watcher struct {
	kind   watcherKind
	cancel context.CancelFunc
	done   chan struct{}
}

// errNoTarget ends a loop when there is nothing left to wait for.
var errNoTarget = errors.New("no timeslot to wait for")

func (c *Controller) startWatcher(kind watcherKind, snap *snapshot) *watcher {
	ctx, cancel := context.WithCancel(c.baseCtx)
	w := &watcher{kind: kind, cancel: cancel, done: make(chan struct{})}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(w.done)
		c.runWatcher(ctx, kind, snap)
	}()
	return w
}

// runWatcher loops SELECT → SLEEP → VALIDATE → FIRE until it runs out of
// targets or is cancelled. Failed cycles back off and retry.
func (c *Controller) runWatcher(ctx context.Context, kind watcherKind, snap *snapshot) {
	logger := c.logger.With().Str("watcher", kind.String()).Logger()
	retry := backoff.NewConstantBackOff(c.retryDelay)

	for {
		err := c.cycle(ctx, logger, kind, snap)
		switch {
		case err == nil:
			continue
		case errors.Is(err, errNoTarget):
			logger.Info().Msg("no timeslot to wait for, exiting until next schedule update")
			return
		case ctx.Err() != nil:
			logger.Debug().Msg("watcher cancelled")
			return
		}

		telemetry.WatcherErrorsTotal.WithLabelValues(kind.String()).Inc()
		logger.Error().Err(err).Msg("error in watcher loop")
		if !c.sleep(ctx, retry.NextBackOff()) {
			logger.Debug().Msg("watcher cancelled")
			return
		}
	}
}

// cycle runs one pass of the loop. A returned ctx error means the watcher
// was cancelled while sleeping.
func (c *Controller) cycle(ctx context.Context, logger zerolog.Logger, kind watcherKind, snap *snapshot) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("watcher panic: %v", rec)
		}
	}()

	target := c.selectTarget(kind, snap)
	if target == nil {
		return errNoTarget
	}

	at := target.StartTime
	if kind == endWatcher {
		at = target.EndTime
	}
	logger.Debug().Stringer("slot", target).Time("wake_at", at).Msg("waiting for timeslot boundary")

	if !c.sleep(ctx, at.Sub(c.clock.Now())) {
		return ctx.Err()
	}

	if kind == startWatcher && !c.isCurrent(target) {
		logger.Warn().Stringer("slot", target).Msg("timeslot is no longer current, skipping start")
		telemetry.WatcherWakeupsTotal.WithLabelValues(kind.String(), "stale").Inc()
		return nil
	}
	if !c.claim(kind.role(), target) {
		telemetry.WatcherWakeupsTotal.WithLabelValues(kind.String(), "duplicate").Inc()
		return nil
	}

	telemetry.WatcherWakeupsTotal.WithLabelValues(kind.String(), "fired").Inc()
	if kind == startWatcher {
		logger.Info().Stringer("slot", target).Msg("timeslot started")
	} else {
		logger.Info().Stringer("slot", target).Msg("timeslot ended")
	}

	// A restart must not interrupt a firing in progress.
	fireCtx, span := telemetry.StartSpan(context.WithoutCancel(ctx), "scheduler", "fire_"+kind.String())
	span.SetAttributes(telemetry.SlotAttributes(target.StartTime, target.EndTime, target.Mode)...)
	c.callbacks.dispatch(fireCtx, kind.role(), target)
	span.End()
	return nil
}

// isCurrent compares by interval: every update rebuilds the slot values.
func (c *Controller) isCurrent(slot *models.Timeslot) bool {
	current := c.CurrentTimeslot()
	return current != nil && current.Key() == slot.Key()
}

// selectTarget picks the slot whose boundary the watcher waits for.
func (c *Controller) selectTarget(kind watcherKind, snap *snapshot) *models.Timeslot {
	now := c.clock.Now()
	if kind == startWatcher {
		return snap.next(now)
	}
	slot := snap.current(now)
	if slot == nil || c.hasFired(RoleEnd, slot) {
		slot = snap.next(now)
	}
	// Only reachable when a slot ends before it starts.
	if slot != nil && c.hasFired(RoleEnd, slot) {
		return nil
	}
	return slot
}

// sleep waits for d on the controller clock. It reports false if ctx was
// cancelled first.
func (c *Controller) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := c.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		// Both may be ready at once; cancellation wins.
		return ctx.Err() == nil
	}
}
