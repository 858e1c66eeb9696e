// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package syncer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/looplab/fsm"
)

// ===== Lifecycle States =====

const (
	// StateUninitialized means no owner is active; mutations are ignored.
	StateUninitialized = "uninitialized"

	// StateBootstrapping means the initial load/reconcile is running.
	// Mutations arriving now are suppressed so a half-loaded aggregate
	// can never be pushed over the cloud copy.
	StateBootstrapping = "bootstrapping"

	// StateReady means the aggregate is loaded and mutations schedule
	// debounced syncs.
	StateReady = "ready"
)

// ===== Lifecycle Events =====

const (
	eventBeginBootstrap = "begin_bootstrap"
	eventBootstrapDone  = "bootstrap_done"
	eventReset          = "reset"
)

// Lifecycle gates the sync engine through its startup sequence.
//
// # Thread Safety
//
// The underlying FSM serializes transitions; Current and Ready are safe
// to call from any goroutine.
type Lifecycle struct {
	fsm    *fsm.FSM
	logger *slog.Logger
}

// NewLifecycle builds the gate in the uninitialized state.
func NewLifecycle(logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Lifecycle{logger: logger}

	l.fsm = fsm.NewFSM(
		StateUninitialized,
		fsm.Events{
			{Name: eventBeginBootstrap, Src: []string{StateUninitialized}, Dst: StateBootstrapping},
			{Name: eventBootstrapDone, Src: []string{StateBootstrapping}, Dst: StateReady},
			{Name: eventReset, Src: []string{StateUninitialized, StateBootstrapping, StateReady}, Dst: StateUninitialized},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				l.logger.Info("sync lifecycle transition",
					"from", e.Src,
					"to", e.Dst,
					"event", e.Event)
			},
		},
	)
	return l
}

// BeginBootstrap moves uninitialized -> bootstrapping.
func (l *Lifecycle) BeginBootstrap(ctx context.Context) error {
	return l.fsm.Event(ctx, eventBeginBootstrap)
}

// BootstrapDone moves bootstrapping -> ready.
func (l *Lifecycle) BootstrapDone(ctx context.Context) error {
	return l.fsm.Event(ctx, eventBootstrapDone)
}

// Reset returns to uninitialized from any state, e.g. on logout. Resetting
// an already uninitialized lifecycle is a no-op.
func (l *Lifecycle) Reset(ctx context.Context) error {
	err := l.fsm.Event(ctx, eventReset)
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return err
}

// Current reports the present state name.
func (l *Lifecycle) Current() string {
	return l.fsm.Current()
}

// Ready reports whether mutations may schedule syncs.
func (l *Lifecycle) Ready() bool {
	return l.fsm.Is(StateReady)
}
