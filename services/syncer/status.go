// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package syncer

import (
	"sync"
	"time"
)

// Status is the user-visible tri-state sync indicator.
type Status string

const (
	// StatusSynced means the latest reconcile completed against the cloud.
	StatusSynced Status = "synced"

	// StatusSyncing means a reconcile is currently in flight.
	StatusSyncing Status = "syncing"

	// StatusError means the latest reconcile degraded to local-only state.
	// Editing continues; the local cache guarantees no data loss.
	StatusError Status = "error"
)

// Outcome describes the result of one reconcile attempt.
type Outcome struct {
	// Status after the attempt.
	Status Status `json:"status"`

	// Adopted is true when the remote copy was strictly newer and the
	// caller must replace its in-memory aggregate with the returned one.
	Adopted bool `json:"adopted"`

	// Pushed is true when the local aggregate was written to the cloud.
	Pushed bool `json:"pushed"`

	// Created is true when the push created the owner's first remote
	// record.
	Created bool `json:"created"`

	// Degraded is true when a transport or decode failure left local
	// state authoritative.
	Degraded bool `json:"degraded"`

	// Detail is a short human-readable cause, set when Degraded.
	Detail string `json:"detail,omitempty"`

	// At is when the attempt finished.
	At time.Time `json:"at"`
}

// StatusEvent is one indicator transition, as streamed to subscribers.
type StatusEvent struct {
	Status Status    `json:"status"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// StatusPublisher tracks the current indicator state and fans transitions
// out to subscribers (the agent streams these over a websocket).
//
// # Thread Safety
//
// Safe for concurrent use. Slow subscribers drop events rather than
// blocking the sync path.
type StatusPublisher struct {
	mu      sync.Mutex
	current StatusEvent
	last    Outcome
	subs    map[chan StatusEvent]struct{}
}

// NewStatusPublisher starts in the synced state with no outcome recorded.
func NewStatusPublisher() *StatusPublisher {
	return &StatusPublisher{
		current: StatusEvent{Status: StatusSynced, At: time.Now()},
		subs:    make(map[chan StatusEvent]struct{}),
	}
}

// Set transitions the indicator and notifies subscribers.
func (p *StatusPublisher) Set(status Status, detail string) {
	ev := StatusEvent{Status: status, Detail: detail, At: time.Now()}

	p.mu.Lock()
	p.current = ev
	for ch := range p.subs {
		select {
		case ch <- ev:
		default: // subscriber is behind; skip rather than block
		}
	}
	p.mu.Unlock()
}

// RecordOutcome stores the latest reconcile outcome and transitions the
// indicator accordingly.
func (p *StatusPublisher) RecordOutcome(o Outcome) {
	p.mu.Lock()
	p.last = o
	p.mu.Unlock()
	p.Set(o.Status, o.Detail)
}

// Current returns the present indicator state.
func (p *StatusPublisher) Current() StatusEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// LastOutcome returns the most recently recorded reconcile outcome.
func (p *StatusPublisher) LastOutcome() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Subscribe registers a listener for indicator transitions. The returned
// cancel function must be called to release the subscription.
func (p *StatusPublisher) Subscribe() (<-chan StatusEvent, func()) {
	ch := make(chan StatusEvent, 16)

	p.mu.Lock()
	p.subs[ch] = struct{}{}
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		delete(p.subs, ch)
		p.mu.Unlock()
	}
	return ch, cancel
}
