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
	"strings"

	"github.com/eds331/musclepro-app/services/localcache"
	"github.com/eds331/musclepro-app/services/profile"
)

// Bootstrapper performs the initial load for an owner: probe the cloud
// with a placeholder aggregate, fall back to the local cache, and make
// sure whichever side carries the newer data ends up on both.
type Bootstrapper struct {
	engine    *Engine
	lifecycle *Lifecycle
	cache     *localcache.Cache
	logger    *slog.Logger
}

// NewBootstrapper wires the startup loader.
func NewBootstrapper(engine *Engine, lifecycle *Lifecycle, cache *localcache.Cache, logger *slog.Logger) *Bootstrapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrapper{
		engine:    engine,
		lifecycle: lifecycle,
		cache:     cache,
		logger:    logger,
	}
}

// LoadInitial resolves the authoritative aggregate for email and moves
// the lifecycle to ready.
//
// # Description
//
// The first reconcile runs with a zero-timestamp placeholder, so any
// existing cloud copy wins and is adopted wholesale; a brand new owner
// gets an empty record created instead. The local candidate (cached
// aggregate, else a fresh default) is then compared against that result,
// and if it carries a strictly newer mutation timestamp a second
// reconcile pushes it up. That second round is what lets a device that
// edited offline reclaim the cloud copy on reconnect.
//
// Cloud failures never fail the load: the cached or default aggregate is
// returned and the status indicator reports the degradation.
//
// # Inputs
//
//   - ctx: cancels the cloud round trips.
//   - email: the owner's identity. Must be non-empty.
//
// # Outputs
//
//   - *profile.User: the authoritative aggregate for this device.
//   - error: only lifecycle misuse (e.g. bootstrapping twice); cloud
//     failures are not errors.
func (b *Bootstrapper) LoadInitial(ctx context.Context, email string) (*profile.User, error) {
	if email == "" {
		return nil, errors.New("syncer: bootstrap requires an owner email")
	}
	if err := b.lifecycle.BeginBootstrap(ctx); err != nil {
		return nil, err
	}

	cached, err := b.cache.LoadProfile(email)
	if err != nil && !errors.Is(err, localcache.ErrNoEntry) {
		b.logger.Warn("failed to read cached profile during bootstrap",
			"owner", email, "error", err)
	}

	seed := profile.Seed(email)
	got, outcome := b.engine.Reconcile(ctx, seed)

	var current *profile.User
	switch {
	case outcome.Adopted:
		current = got
	case cached != nil:
		current = cached
	default:
		current = profile.NewDefault(email, usernameFromEmail(email))
		b.logger.Info("created default profile for new owner", "owner", email)
	}

	// A device that edited offline outranks whatever the cloud returned.
	if cached != nil && cached.SyncTimestamp > current.SyncTimestamp {
		current = cached
	}

	// Push the local candidate when it is newer than what the first
	// round settled on (including over a just-created empty record).
	if !outcome.Adopted || current.SyncTimestamp > got.SyncTimestamp {
		current, _ = b.engine.Reconcile(ctx, current)
	}

	if err := b.lifecycle.BootstrapDone(ctx); err != nil {
		return nil, err
	}
	b.logger.Info("bootstrap complete",
		"owner", email,
		"sync_timestamp", current.SyncTimestamp,
		"status", b.engine.status.Current().Status)
	return current, nil
}

func usernameFromEmail(email string) string {
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}
