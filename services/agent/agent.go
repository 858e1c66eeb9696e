// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agent hosts the device-local sync agent: it owns the in-memory
// profile aggregate, the session, and the sync pipeline, and exposes them
// to UI shells over a loopback HTTP API.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/eds331/musclepro-app/services/cloudstore"
	"github.com/eds331/musclepro-app/services/localcache"
	"github.com/eds331/musclepro-app/services/profile"
	"github.com/eds331/musclepro-app/services/syncer"
)

// ErrNoSession is returned by profile and sync operations when no owner
// is logged in on this device.
var ErrNoSession = errors.New("agent: no active session")

// ErrNotReady is returned while the initial load is still running.
var ErrNotReady = errors.New("agent: session is still bootstrapping")

// Agent wires the cache, the cloud store and the sync engine into one
// long-running device process.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use; HTTP handlers call
// them directly.
type Agent struct {
	cfgPath string
	logger  *slog.Logger
	cache   *localcache.Cache
	metrics *syncer.Metrics
	status  *syncer.StatusPublisher

	mu        sync.RWMutex
	cfg       Config
	store     cloudstore.CloudStore
	provider  cloudstore.Provider
	lifecycle *syncer.Lifecycle
	scheduler *syncer.Scheduler
	current   *profile.User
	owner     string // session owner email, "" when logged out
}

// New builds the agent and, when the cache holds an active session
// marker, resumes that owner's session immediately.
func New(ctx context.Context, cfg Config, cfgPath string, cache *localcache.Cache, metrics *syncer.Metrics, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}

	store, provider := cloudstore.New(ctx, cfg.Cloud)
	a := &Agent{
		cfgPath:  cfgPath,
		logger:   logger,
		cache:    cache,
		metrics:  metrics,
		status:   syncer.NewStatusPublisher(),
		cfg:      cfg,
		store:    store,
		provider: provider,
	}

	if session, err := cache.LoadSession(); err == nil && session.Active {
		logger.Info("resuming previous session", "owner", session.OwnerKey)
		if _, err := a.Login(ctx, session.OwnerKey); err != nil {
			logger.Error("failed to resume session", "owner", session.OwnerKey, "error", err)
		}
	}
	return a
}

// Login activates a session for email, running the initial load. Logging
// in while another owner is active logs that owner out first, flushing
// any pending sync.
func (a *Agent) Login(ctx context.Context, email string) (*profile.User, error) {
	if email == "" {
		return nil, errors.New("agent: login requires an email")
	}

	a.mu.Lock()
	if a.owner == email && a.lifecycle != nil && a.lifecycle.Ready() {
		current := a.current
		a.mu.Unlock()
		return clone(current)
	}
	a.mu.Unlock()

	if err := a.Logout(ctx); err != nil {
		return nil, fmt.Errorf("agent: logout before login: %w", err)
	}

	a.mu.Lock()
	lifecycle := syncer.NewLifecycle(a.logger)
	engine := syncer.NewEngine(a.store, a.provider, a.cache, a.status, a.metrics, a.logger)
	scheduler := syncer.NewScheduler(engine, lifecycle, syncer.SchedulerConfig{
		QuietInterval: a.cfg.QuietInterval(),
		Snapshot:      a.snapshot,
		OnAdopt:       a.adopt,
		Logger:        a.logger,
		Metrics:       a.metrics,
	})
	// The scheduler must be installed before the lifecycle can reach
	// ready: a mutation or flush racing the end of the bootstrap passes
	// the Ready check and must find a scheduler there.
	a.lifecycle = lifecycle
	a.scheduler = scheduler
	a.owner = email
	a.mu.Unlock()

	// The initial load does network work; the status API keeps serving
	// "bootstrapping" meanwhile.
	boot := syncer.NewBootstrapper(engine, lifecycle, a.cache, a.logger)
	loaded, err := boot.LoadInitial(ctx, email)
	if err != nil {
		scheduler.Close()
		a.mu.Lock()
		a.scheduler = nil
		a.lifecycle = nil
		a.owner = ""
		a.mu.Unlock()
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = loaded

	if err := a.cache.SaveSession(localcache.Session{Active: true, OwnerKey: email}); err != nil {
		a.logger.Warn("failed to persist session marker", "error", err)
	}
	a.metrics.SetSessionActive(true)
	a.logger.Info("session started", "owner", email, "provider", a.provider)
	return clone(loaded)
}

// Logout flushes any pending sync and tears the session down. A logout
// with no active session is a no-op.
func (a *Agent) Logout(ctx context.Context) error {
	a.mu.Lock()
	scheduler := a.scheduler
	lifecycle := a.lifecycle
	owner := a.owner
	a.mu.Unlock()

	if owner == "" {
		return nil
	}

	if scheduler != nil {
		if scheduler.Pending() {
			// Last chance to get unsaved edits off the device.
			scheduler.SyncNow(ctx)
		}
		scheduler.Close()
	}
	if lifecycle != nil {
		if err := lifecycle.Reset(ctx); err != nil {
			a.logger.Warn("lifecycle reset failed during logout", "error", err)
		}
	}

	a.mu.Lock()
	a.scheduler = nil
	a.lifecycle = nil
	a.current = nil
	a.owner = ""
	a.mu.Unlock()

	if err := a.cache.ClearSession(); err != nil {
		a.logger.Warn("failed to clear session marker", "error", err)
	}
	a.metrics.SetSessionActive(false)
	a.logger.Info("session ended", "owner", owner)
	return nil
}

// Profile returns a copy of the current aggregate.
func (a *Agent) Profile() (*profile.User, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.owner == "" {
		return nil, ErrNoSession
	}
	if a.lifecycle == nil || !a.lifecycle.Ready() {
		return nil, ErrNotReady
	}
	return clone(a.current)
}

// UpdateProfile replaces the aggregate wholesale, stamps the mutation
// timestamp, persists locally and schedules a debounced sync. Returns the
// stamped aggregate.
func (a *Agent) UpdateProfile(u *profile.User) (*profile.User, error) {
	if u == nil {
		return nil, errors.New("agent: profile update requires a body")
	}

	a.mu.Lock()
	if a.owner == "" {
		a.mu.Unlock()
		return nil, ErrNoSession
	}
	if a.lifecycle == nil || !a.lifecycle.Ready() {
		a.mu.Unlock()
		return nil, ErrNotReady
	}
	if u.Email != a.owner {
		a.mu.Unlock()
		return nil, fmt.Errorf("agent: profile owner %q does not match session owner %q", u.Email, a.owner)
	}

	// The timestamp is assigned here, at mutation time, never at sync
	// time: a sync may run long after the edit that caused it.
	prev := int64(0)
	if a.current != nil {
		prev = a.current.SyncTimestamp
	}
	if u.SyncTimestamp < prev {
		u.SyncTimestamp = prev
	}
	u.Touch()

	a.current = u
	scheduler := a.scheduler
	a.mu.Unlock()

	if err := a.cache.SaveProfile(u); err != nil {
		// The cache is the durability guarantee; this failure must be
		// loud even though the sync will still run.
		a.logger.Error("failed to persist profile mutation", "owner", u.Email, "error", err)
	}
	scheduler.OnMutation()
	return clone(u)
}

// SyncNow forces an immediate reconcile, skipping the quiet interval.
func (a *Agent) SyncNow(ctx context.Context) (syncer.Outcome, error) {
	a.mu.RLock()
	scheduler := a.scheduler
	ready := a.lifecycle != nil && a.lifecycle.Ready()
	owner := a.owner
	a.mu.RUnlock()

	if owner == "" {
		return syncer.Outcome{}, ErrNoSession
	}
	if !ready {
		return syncer.Outcome{}, ErrNotReady
	}
	return scheduler.SyncNow(ctx), nil
}

// StatusView is the agent's sync state as served by the status API.
type StatusView struct {
	Lifecycle string              `json:"lifecycle"`
	Owner     string              `json:"owner,omitempty"`
	Provider  cloudstore.Provider `json:"provider"`
	Status    syncer.StatusEvent  `json:"status"`
	Last      syncer.Outcome      `json:"lastOutcome"`
}

// Status reports the current sync state.
func (a *Agent) Status() StatusView {
	a.mu.RLock()
	defer a.mu.RUnlock()

	state := syncer.StateUninitialized
	if a.lifecycle != nil {
		state = a.lifecycle.Current()
	}
	return StatusView{
		Lifecycle: state,
		Owner:     a.owner,
		Provider:  a.provider,
		Status:    a.status.Current(),
		Last:      a.status.LastOutcome(),
	}
}

// Subscribe streams status transitions; used by the websocket handler.
func (a *Agent) Subscribe() (<-chan syncer.StatusEvent, func()) {
	return a.status.Subscribe()
}

// ConfigRedacted returns the active configuration with credential
// material masked.
func (a *Agent) ConfigRedacted() Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := a.cfg
	out.Cloud = a.cfg.Cloud.Redacted()
	return out
}

// ApplyCloudConfig validates and activates a new backend configuration,
// persisting it to the YAML file and the cache blob. An active session
// is flushed and re-bootstrapped against the new backend.
func (a *Agent) ApplyCloudConfig(ctx context.Context, cc cloudstore.Config) error {
	if err := cc.Validate(); err != nil {
		return fmt.Errorf("agent: invalid cloud config: %w", err)
	}

	a.mu.Lock()
	if cc == a.cfg.Cloud {
		a.mu.Unlock()
		return nil
	}
	owner := a.owner
	a.mu.Unlock()

	// Flush edits to the old backend before switching.
	if owner != "" {
		if err := a.Logout(ctx); err != nil {
			return err
		}
	}

	store, provider := cloudstore.New(ctx, cc)

	a.mu.Lock()
	a.cfg.Cloud = cc
	a.store = store
	a.provider = provider
	cfg := a.cfg
	a.mu.Unlock()

	a.persistConfig(cfg)
	a.logger.Info("cloud backend switched", "provider", provider)

	if owner != "" {
		if _, err := a.Login(ctx, owner); err != nil {
			return fmt.Errorf("agent: re-login after backend switch: %w", err)
		}
	}
	return nil
}

// Run serves the HTTP API until ctx is cancelled, then flushes and shuts
// down gracefully.
func (a *Agent) Run(ctx context.Context, handler http.Handler) error {
	a.mu.RLock()
	addr := a.cfg.Listen
	a.mu.RUnlock()

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("agent listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Final flush so the last edits survive the shutdown window.
		if _, err := a.SyncNow(shutdownCtx); err != nil &&
			!errors.Is(err, ErrNoSession) && !errors.Is(err, ErrNotReady) {
			a.logger.Warn("final sync on shutdown failed", "error", err)
		}
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// persistConfig writes the config to the YAML file and mirrors it into
// the cache blob so the CLI can read it without the file.
func (a *Agent) persistConfig(cfg Config) {
	if a.cfgPath != "" {
		if err := cfg.Save(a.cfgPath); err != nil {
			a.logger.Warn("failed to save config file", "path", a.cfgPath, "error", err)
		}
	}
	if raw, err := yaml.Marshal(cfg); err == nil {
		if err := a.cache.SaveConfigBlob(raw); err != nil {
			a.logger.Warn("failed to cache config blob", "error", err)
		}
	}
}

// snapshot is the scheduler's view of the aggregate at sync time. Nil
// while the initial load is still installing the aggregate; the
// scheduler skips the run in that case.
func (a *Agent) snapshot() *profile.User {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.current == nil {
		return nil
	}
	c, err := a.current.Clone()
	if err != nil {
		a.logger.Error("failed to snapshot aggregate", "error", err)
		return nil
	}
	return c
}

// adopt replaces the in-memory aggregate after a reconcile found a
// strictly newer remote copy.
func (a *Agent) adopt(u *profile.User) {
	a.mu.Lock()
	a.current = u
	a.mu.Unlock()
	a.logger.Info("adopted newer remote aggregate",
		"owner", u.Email, "sync_timestamp", u.SyncTimestamp)
}

func clone(u *profile.User) (*profile.User, error) {
	if u == nil {
		return nil, ErrNoSession
	}
	return u.Clone()
}
