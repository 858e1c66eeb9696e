// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eds331/musclepro-app/services/profile"
)

// DefaultQuietInterval is how long the aggregate must sit unmodified
// before a scheduled sync fires. Long enough to ride out a burst of set
// logging, short enough that a closed laptop rarely loses the window.
const DefaultQuietInterval = 2 * time.Second

// DefaultSyncTimeout bounds a timer-fired reconcile. Not every backend
// carries its own deadline (the relational one does not), and a hung
// run would pin runMu and stall SyncNow and Close.
const DefaultSyncTimeout = 30 * time.Second

// SchedulerConfig wires a Scheduler to its host application.
type SchedulerConfig struct {
	// QuietInterval overrides DefaultQuietInterval when positive.
	QuietInterval time.Duration

	// SyncTimeout overrides DefaultSyncTimeout when positive. Applies
	// only to timer-fired runs; SyncNow callers bring their own context.
	SyncTimeout time.Duration

	// Snapshot returns a deep copy of the current aggregate. Called at
	// sync time, not at mutation time, so the sync always carries the
	// latest coalesced state. A nil snapshot skips the run.
	Snapshot func() *profile.User

	// OnAdopt is invoked when a reconcile adopted a strictly newer
	// remote copy; the host must replace its in-memory aggregate.
	// Adoption never re-arms the debounce timer.
	OnAdopt func(*profile.User)

	Logger  *slog.Logger
	Metrics *Metrics
}

// Scheduler turns mutation notifications into debounced reconcile runs.
//
// # Description
//
// Every mutation re-arms a quiet-interval timer; the sync fires only
// once edits stop. At most one reconcile is in flight at a time, and
// mutations arriving mid-flight coalesce into a single follow-up run.
// Mutations are ignored until the lifecycle reaches ready, which keeps a
// half-bootstrapped aggregate from ever overwriting the cloud copy.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Scheduler struct {
	engine    *Engine
	lifecycle *Lifecycle
	quiet     time.Duration
	timeout   time.Duration
	snapshot  func() *profile.User
	onAdopt   func(*profile.User)
	logger    *slog.Logger
	metrics   *Metrics

	// runMu serializes reconcile runs.
	runMu sync.Mutex

	mu       sync.Mutex
	timer    *time.Timer
	inFlight bool
	pending  bool
	closed   bool
}

// NewScheduler builds a scheduler. cfg.Snapshot is required.
func NewScheduler(engine *Engine, lifecycle *Lifecycle, cfg SchedulerConfig) *Scheduler {
	quiet := cfg.QuietInterval
	if quiet <= 0 {
		quiet = DefaultQuietInterval
	}
	timeout := cfg.SyncTimeout
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		engine:    engine,
		lifecycle: lifecycle,
		quiet:     quiet,
		timeout:   timeout,
		snapshot:  cfg.Snapshot,
		onAdopt:   cfg.OnAdopt,
		logger:    logger,
		metrics:   cfg.Metrics,
	}
}

// OnMutation records that the aggregate changed. Called after every
// persisted edit; cheap enough for set-by-set logging.
func (s *Scheduler) OnMutation() {
	if !s.lifecycle.Ready() {
		s.logger.Debug("mutation ignored before ready",
			"lifecycle", s.lifecycle.Current())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.inFlight {
		// A sync is running against an older snapshot; queue exactly
		// one follow-up instead of stacking timers.
		s.pending = true
		s.metrics.IncCoalesced()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.metrics.IncDebounceReset()
	}
	s.timer = time.AfterFunc(s.quiet, s.fire)
}

// SyncNow runs a reconcile immediately, bypassing the quiet interval.
// Blocks until any in-flight run finishes, then performs its own.
func (s *Scheduler) SyncNow(ctx context.Context) Outcome {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.engine.status.LastOutcome()
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	return s.run(ctx)
}

// Close stops the timer and waits for any in-flight reconcile to drain.
// Further mutations are ignored.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	// Drain.
	s.runMu.Lock()
	s.runMu.Unlock() //nolint:staticcheck // empty critical section is the drain
}

// Pending reports whether a debounced sync is armed or running. Used by
// shutdown to decide whether a final flush is worthwhile.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil || s.inFlight || s.pending
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) Outcome {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	s.inFlight = true
	s.mu.Unlock()

	// Snapshot inside the run lock so coalesced mutations made while we
	// waited are included.
	local := s.snapshot()
	if local == nil {
		s.logger.Debug("sync skipped, no aggregate to reconcile")
		s.mu.Lock()
		s.inFlight = false
		s.pending = false
		s.mu.Unlock()
		return s.engine.status.LastOutcome()
	}
	updated, outcome := s.engine.Reconcile(ctx, local)

	if outcome.Adopted && s.onAdopt != nil {
		s.onAdopt(updated)
	}

	s.mu.Lock()
	s.inFlight = false
	rearm := s.pending && !s.closed
	s.pending = false
	if rearm {
		s.timer = time.AfterFunc(s.quiet, s.fire)
	}
	s.mu.Unlock()

	return outcome
}
