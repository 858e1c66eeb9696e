// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package syncer reconciles the local profile aggregate against its cloud
// copy. Conflict resolution is whole-aggregate last-writer-wins keyed on
// the aggregate's mutation timestamp: the strictly newer side replaces
// the older one, and ties leave both sides untouched.
//
// Reconciliation never fails from the caller's point of view. Any cloud
// failure degrades to local-only state, surfaces on the status indicator,
// and is retried on the next scheduled sync.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/eds331/musclepro-app/services/cloudstore"
	"github.com/eds331/musclepro-app/services/localcache"
	"github.com/eds331/musclepro-app/services/profile"
)

var tracer = otel.Tracer("musclepro/services/syncer")

// Engine performs single reconcile rounds. Scheduling, debouncing and
// lifecycle gating live in Scheduler; Engine is deliberately stateless
// beyond its collaborators so it can be exercised directly in tests.
type Engine struct {
	store    cloudstore.CloudStore
	provider cloudstore.Provider
	cache    *localcache.Cache
	status   *StatusPublisher
	metrics  *Metrics
	logger   *slog.Logger

	// fetches collapses concurrent lookups for the same owner into one
	// round trip.
	fetches singleflight.Group
}

// NewEngine wires a reconcile engine. metrics may be nil.
func NewEngine(store cloudstore.CloudStore, provider cloudstore.Provider, cache *localcache.Cache, status *StatusPublisher, metrics *Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		provider: provider,
		cache:    cache,
		status:   status,
		metrics:  metrics,
		logger:   logger,
	}
}

// Provider reports which cloud backend this engine reconciles against.
func (e *Engine) Provider() cloudstore.Provider {
	return e.provider
}

// Reconcile runs one sync round for the given local aggregate.
//
// # Description
//
// Fetches the cloud copy (using the cached record ref as a lookup hint),
// compares mutation timestamps, and either adopts the newer remote copy
// or pushes the newer local one. The winning aggregate is persisted to
// the local cache before returning.
//
// # Inputs
//
//   - ctx: cancels the cloud round trip.
//   - local: the device's current aggregate. Never modified; the caller
//     should pass a snapshot when edits may happen concurrently.
//
// # Outputs
//
//   - *profile.User: the authoritative aggregate after the round. Equal
//     to local unless the outcome adopted the remote copy.
//   - Outcome: what happened. Cloud failures appear here as Degraded;
//     Reconcile itself never returns an error.
//
// # Thread Safety
//
// Safe for concurrent use, though the Scheduler guarantees at most one
// in-flight round per owner.
func (e *Engine) Reconcile(ctx context.Context, local *profile.User) (*profile.User, Outcome) {
	ctx, span := tracer.Start(ctx, "syncer.Reconcile")
	defer span.End()

	started := time.Now()
	ownerKey := cloudstore.DiscoveryKey(local.Email)
	span.SetAttributes(
		attribute.String("sync.owner_key", ownerKey),
		attribute.String("sync.provider", string(e.provider)),
		attribute.Int64("sync.local_ts", local.SyncTimestamp),
	)

	e.status.Set(StatusSyncing, "")

	hintRef := e.loadRef(ownerKey)
	remote, err := e.fetch(ctx, local.Email, ownerKey, hintRef)

	switch {
	case err == nil:
		if hintRef != "" && remote.Ref != hintRef {
			e.metrics.IncRefRecovery()
			e.logger.Info("recovered stale record ref",
				"owner_key", ownerKey,
				"provider", e.provider)
		}
		e.saveRef(ownerKey, remote.Ref)
		return e.resolve(ctx, span, started, ownerKey, local, remote)

	case errors.Is(err, cloudstore.ErrNotFound):
		// First contact for this owner on this backend.
		return e.push(ctx, started, ownerKey, local, true)

	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return e.degrade(started, ownerKey, local, "fetch", err)
	}
}

// resolve applies last-writer-wins once both sides are in hand.
func (e *Engine) resolve(ctx context.Context, span trace.Span, started time.Time, ownerKey string, local *profile.User, remote cloudstore.Record) (*profile.User, Outcome) {
	span.SetAttributes(attribute.Int64("sync.remote_ts", remote.User.SyncTimestamp))

	switch {
	case remote.User.SyncTimestamp > local.SyncTimestamp:
		// Remote wins; the caller must replace its in-memory aggregate.
		adopted := remote.User
		if err := e.cache.SaveProfile(adopted); err != nil {
			e.logger.Error("failed to cache adopted profile",
				"owner_key", ownerKey, "error", err)
		}
		return adopted, e.finish(started, Outcome{
			Status:  StatusSynced,
			Adopted: true,
		}, ResultAdopted, ownerKey)

	case remote.User.SyncTimestamp == local.SyncTimestamp:
		// Equal stamps mean identical content: Touch guarantees every
		// observably different version a strictly larger stamp. Skipping
		// the push here is therefore equivalent to writing the same
		// bytes back, minus the request.
		e.cacheLocal(local)
		return local, e.finish(started, Outcome{Status: StatusSynced}, ResultNoop, ownerKey)

	default:
		return e.push(ctx, started, ownerKey, local, false)
	}
}

// push writes the local aggregate to the cloud, retrying transient
// transport failures with exponential backoff.
func (e *Engine) push(ctx context.Context, started time.Time, ownerKey string, local *profile.User, create bool) (*profile.User, Outcome) {
	hintRef := e.loadRef(ownerKey)

	var ref string
	op := func() error {
		var err error
		ref, err = e.store.Upsert(ctx, local.Email, local, hintRef)
		if err == nil {
			return nil
		}
		var decodeErr *cloudstore.DecodeError
		if errors.As(err, &decodeErr) {
			// Malformed responses will not improve on retry.
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(newPushBackOff(), 2), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return e.degrade(started, ownerKey, local, "push", err)
	}

	e.saveRef(ownerKey, ref)
	e.cacheLocal(local)
	return local, e.finish(started, Outcome{
		Status:  StatusSynced,
		Pushed:  true,
		Created: create,
	}, ResultPushed, ownerKey)
}

// degrade records a failed round. Local state stays authoritative and
// editing continues; the cache already holds every mutation.
func (e *Engine) degrade(started time.Time, ownerKey string, local *profile.User, op string, err error) (*profile.User, Outcome) {
	e.cacheLocal(local)
	e.logger.Warn("sync degraded to local-only state",
		"owner_key", ownerKey,
		"provider", e.provider,
		"op", op,
		"error", err)
	return local, e.finish(started, Outcome{
		Status:   StatusError,
		Degraded: true,
		Detail:   op + ": " + err.Error(),
	}, ResultDegraded, ownerKey)
}

func (e *Engine) finish(started time.Time, o Outcome, result, ownerKey string) Outcome {
	o.At = time.Now()
	e.metrics.ObserveReconcile(result, time.Since(started))
	e.status.RecordOutcome(o)
	e.logger.Debug("reconcile finished",
		"owner_key", ownerKey,
		"result", result,
		"elapsed", time.Since(started))
	return o
}

// fetch passes the raw owner email to the store, which applies its own
// keying; ownerKey only scopes the singleflight group.
func (e *Engine) fetch(ctx context.Context, owner, ownerKey, hintRef string) (cloudstore.Record, error) {
	v, err, _ := e.fetches.Do(string(e.provider)+"/"+ownerKey, func() (interface{}, error) {
		return e.store.Fetch(ctx, owner, hintRef)
	})
	if err != nil {
		return cloudstore.Record{}, err
	}
	return v.(cloudstore.Record), nil
}

func (e *Engine) loadRef(ownerKey string) string {
	ref, err := e.cache.LoadRecordRef(string(e.provider), ownerKey)
	if err != nil {
		if !errors.Is(err, localcache.ErrNoEntry) {
			e.logger.Warn("failed to read cached record ref",
				"owner_key", ownerKey, "error", err)
		}
		return ""
	}
	return ref
}

func (e *Engine) saveRef(ownerKey, ref string) {
	if ref == "" {
		return
	}
	if err := e.cache.SaveRecordRef(string(e.provider), ownerKey, ref); err != nil {
		e.logger.Warn("failed to cache record ref",
			"owner_key", ownerKey, "error", err)
	}
}

func (e *Engine) cacheLocal(u *profile.User) {
	if u.IsSeed() {
		// A placeholder must never overwrite a cached real aggregate.
		return
	}
	if err := e.cache.SaveProfile(u); err != nil {
		e.logger.Error("failed to cache profile",
			"owner", u.Email, "error", err)
	}
}

func newPushBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 10 * time.Second
	return b
}
