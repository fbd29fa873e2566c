/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Elector is the part of leadership.Election used to gate maintenance.
type Elector interface {
	Start(ctx context.Context) error
	Stop() error
	IsLeader() bool
	LeaderCh() <-chan bool
}

// LeaderAwareMaintenance runs the maintenance loop only while this instance
// holds leadership, so that a shared channel is cleaned by one writer.
type LeaderAwareMaintenance struct {
	controller *Controller
	election   Elector
	interval   time.Duration
	logger     zerolog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	monitor   chan struct{}
	running   chan struct{}
	cancelRun context.CancelFunc
}

// NewLeaderAware wraps controller maintenance behind an election.
func NewLeaderAware(controller *Controller, election Elector, interval time.Duration, logger zerolog.Logger) *LeaderAwareMaintenance {
	return &LeaderAwareMaintenance{
		controller: controller,
		election:   election,
		interval:   interval,
		logger:     logger.With().Str("component", "leader_aware_maintenance").Logger(),
	}
}

// Start begins the election and follows leadership changes until ctx is
// cancelled or Stop is called.
func (l *LeaderAwareMaintenance) Start(ctx context.Context) error {
	l.logger.Info().Msg("starting leader-aware maintenance")

	ctx, cancel := context.WithCancel(ctx)
	if err := l.election.Start(ctx); err != nil {
		cancel()
		return err
	}

	l.mu.Lock()
	l.cancel = cancel
	l.monitor = make(chan struct{})
	l.mu.Unlock()

	go l.monitorLeadership(ctx, l.monitor)
	return nil
}

// Stop halts maintenance and releases leadership.
func (l *LeaderAwareMaintenance) Stop() error {
	l.logger.Info().Msg("stopping leader-aware maintenance")

	l.mu.Lock()
	cancel, monitor := l.cancel, l.monitor
	l.cancel = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
		<-monitor
	}
	l.stopMaintenance()
	return l.election.Stop()
}

// IsLeader reports whether this instance currently runs maintenance.
func (l *LeaderAwareMaintenance) IsLeader() bool {
	return l.election.IsLeader()
}

// Running reports whether the maintenance loop is active.
func (l *LeaderAwareMaintenance) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running != nil
}

func (l *LeaderAwareMaintenance) monitorLeadership(ctx context.Context, done chan struct{}) {
	defer close(done)

	if l.election.IsLeader() {
		l.startMaintenance(ctx)
	}

	leaderCh := l.election.LeaderCh()
	for {
		select {
		case <-ctx.Done():
			return
		case isLeader := <-leaderCh:
			if isLeader {
				l.logger.Info().Msg("became leader, starting maintenance")
				l.startMaintenance(ctx)
			} else {
				l.logger.Warn().Msg("lost leadership, stopping maintenance")
				l.stopMaintenance()
			}
		}
	}
}

func (l *LeaderAwareMaintenance) startMaintenance(parent context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running != nil {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	l.running = done
	l.cancelRun = cancel

	go func() {
		defer close(done)
		if err := l.controller.RunMaintenance(ctx, l.interval); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Error().Err(err).Msg("maintenance loop error")
		}
	}()
}

func (l *LeaderAwareMaintenance) stopMaintenance() {
	l.mu.Lock()
	done, cancel := l.running, l.cancelRun
	l.running, l.cancelRun = nil, nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
