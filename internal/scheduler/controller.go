/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler tracks the current schedule snapshot and drives the
// start and end watcher loops that fire timeslot callbacks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/friendsincode/slotwatch/internal/channel"
	"github.com/friendsincode/slotwatch/internal/models"
	"github.com/friendsincode/slotwatch/internal/telemetry"
)

// DefaultRetryDelay is how long a watcher backs off after a failed cycle.
const DefaultRetryDelay = time.Second

// ErrClosed is returned when ingesting into a closed controller.
var ErrClosed = errors.New("schedule controller closed")

// snapshot is the immutable unit swapped on every update.
type snapshot struct {
	schedules []*models.Schedule
	slots     []*models.Timeslot
}

var emptySnapshot = &snapshot{}

// current returns the first slot if it has started. The end time is not
// checked: a slot past its end stays current until maintenance removes it.
func (s *snapshot) current(now time.Time) *models.Timeslot {
	if len(s.slots) == 0 {
		return nil
	}
	first := s.slots[0]
	if first.StartTime.After(now) {
		return nil
	}
	return first
}

// next returns the first slot starting strictly after now.
func (s *snapshot) next(now time.Time) *models.Timeslot {
	for _, slot := range s.slots {
		if slot.StartTime.After(now) {
			return slot
		}
	}
	return nil
}

// firedKey identifies one fired boundary of one interval.
type firedKey struct {
	role Role
	slot models.SlotKey
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithRetryDelay sets the back-off after a failed watcher cycle.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// Controller owns the schedule snapshot and the two watcher loops.
type Controller struct {
	channel    channel.Channel
	clock      clockwork.Clock
	logger     zerolog.Logger
	retryDelay time.Duration
	callbacks  *registry

	snap atomic.Pointer[snapshot]

	// mu serializes update ingestion with the watcher restart.
	mu       sync.Mutex
	watchers []*watcher
	closed   bool

	firedMu sync.Mutex
	fired   map[firedKey]struct{}

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a controller with an empty snapshot. Watchers start on the
// first update (or Setup).
func New(ch channel.Channel, logger zerolog.Logger, opts ...Option) *Controller {
	logger = logger.With().Str("component", "schedule_controller").Logger()
	c := &Controller{
		channel:    ch,
		clock:      clockwork.NewRealClock(),
		logger:     logger,
		retryDelay: DefaultRetryDelay,
		callbacks:  newRegistry(logger),
		fired:      make(map[firedKey]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.baseCtx, c.baseCancel = context.WithCancel(context.Background())
	c.snap.Store(emptySnapshot)
	return c
}

// Setup subscribes to the schedule channel and starts the watchers against
// the current snapshot.
func (c *Controller) Setup(ctx context.Context) error {
	c.logger.Info().Msg("starting schedule channel subscription")
	if err := c.channel.Subscribe(ctx, c.handleUpdate); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel.Name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	// An initial aggregate delivered during Subscribe already started them.
	if c.watchers == nil {
		c.restartLocked(c.snap.Load())
	}
	return nil
}

// handleUpdate is the channel subscription handler. Rejected updates are
// logged, never surfaced to the channel.
func (c *Controller) handleUpdate(ctx context.Context, snap channel.Snapshot) {
	if err := c.Ingest(ctx, snap); err != nil {
		c.logger.Error().Err(err).Msg("schedule update rejected")
	}
}

// Ingest replaces the snapshot with the parsed update, restarts both
// watchers, then runs the update callbacks. A nil snapshot is a no-op. A
// malformed update leaves the previous snapshot and watchers untouched.
func (c *Controller) Ingest(ctx context.Context, data channel.Snapshot) error {
	if data == nil {
		c.logger.Debug().Msg("empty schedule update ignored")
		telemetry.ScheduleUpdatesTotal.WithLabelValues("empty").Inc()
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, "scheduler", "ingest")
	defer span.End()

	schedules, err := models.ParseSnapshot(data)
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.ScheduleUpdatesTotal.WithLabelValues("malformed").Inc()
		return err
	}
	next := &snapshot{schedules: schedules, slots: models.SortTimeslots(schedules)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.snap.Store(next)
	c.pruneFired(next)
	c.restartLocked(next)
	c.mu.Unlock()

	telemetry.ScheduleUpdatesTotal.WithLabelValues("applied").Inc()
	telemetry.SchedulesLoaded.Set(float64(len(next.schedules)))
	telemetry.TimeslotsLoaded.Set(float64(len(next.slots)))
	span.SetAttributes(
		attribute.Int("schedules", len(next.schedules)),
		attribute.Int("timeslots", len(next.slots)),
	)
	c.logger.Info().
		Int("schedules", len(next.schedules)).
		Int("timeslots", len(next.slots)).
		Msg("schedule update applied")

	c.callbacks.dispatch(ctx, RoleUpdate, nil)
	return nil
}

// restartLocked cancels the running watchers and starts two fresh ones
// against snap. Caller holds c.mu.
func (c *Controller) restartLocked(snap *snapshot) {
	for _, w := range c.watchers {
		w.cancel()
	}
	c.watchers = []*watcher{
		c.startWatcher(startWatcher, snap),
		c.startWatcher(endWatcher, snap),
	}
	telemetry.WatcherRestartsTotal.Inc()
}

// CurrentTimeslot returns the active timeslot, or nil. See snapshot.current
// for the end-time caveat.
func (c *Controller) CurrentTimeslot() *models.Timeslot {
	return c.snap.Load().current(c.clock.Now())
}

// NextTimeslot returns the earliest timeslot starting in the future, or nil.
// It never returns the active timeslot.
func (c *Controller) NextTimeslot() *models.Timeslot {
	return c.snap.Load().next(c.clock.Now())
}

// Schedules returns the schedules of the current snapshot.
func (c *Controller) Schedules() []*models.Schedule {
	return append([]*models.Schedule(nil), c.snap.Load().schedules...)
}

// SortedTimeslots returns every timeslot of the current snapshot ordered by
// start time.
func (c *Controller) SortedTimeslots() []*models.Timeslot {
	return append([]*models.Timeslot(nil), c.snap.Load().slots...)
}

// Register adds callbacks to every list named by their roles.
func (c *Controller) Register(cbs ...Callback) error {
	return c.callbacks.add(cbs...)
}

// OnUpdate registers fn to run after each applied update.
func (c *Controller) OnUpdate(name string, fn UpdateFunc) error {
	return c.Register(Callback{Name: name, Roles: RoleUpdate, Update: fn})
}

// OnStart registers fn to run when a timeslot starts.
func (c *Controller) OnStart(name string, fn SlotFunc) error {
	return c.Register(Callback{Name: name, Roles: RoleStart, Slot: fn})
}

// OnEnd registers fn to run when a timeslot ends.
func (c *Controller) OnEnd(name string, fn SlotFunc) error {
	return c.Register(Callback{Name: name, Roles: RoleEnd, Slot: fn})
}

// claim records that role fired for slot. It returns false if it already
// had, in which case the caller must not fire again.
func (c *Controller) claim(role Role, slot *models.Timeslot) bool {
	key := firedKey{role: role, slot: slot.Key()}
	c.firedMu.Lock()
	defer c.firedMu.Unlock()
	if _, ok := c.fired[key]; ok {
		return false
	}
	c.fired[key] = struct{}{}
	return true
}

func (c *Controller) hasFired(role Role, slot *models.Timeslot) bool {
	c.firedMu.Lock()
	defer c.firedMu.Unlock()
	_, ok := c.fired[firedKey{role: role, slot: slot.Key()}]
	return ok
}

// pruneFired forgets fired intervals that are no longer scheduled.
func (c *Controller) pruneFired(snap *snapshot) {
	live := make(map[models.SlotKey]struct{}, len(snap.slots))
	for _, slot := range snap.slots {
		live[slot.Key()] = struct{}{}
	}
	c.firedMu.Lock()
	defer c.firedMu.Unlock()
	for key := range c.fired {
		if _, ok := live[key.slot]; !ok {
			delete(c.fired, key)
		}
	}
}

// Close cancels both watchers, waits for them to exit and drops all
// callbacks. The channel is owned by the caller and left open.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, w := range c.watchers {
		w.cancel()
	}
	c.watchers = nil
	c.baseCancel()
	c.mu.Unlock()

	c.wg.Wait()
	c.callbacks.clear()
	c.logger.Info().Msg("schedule controller stopped")
	return nil
}
