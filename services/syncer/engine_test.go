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
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eds331/musclepro-app/services/cloudstore"
	"github.com/eds331/musclepro-app/services/localcache"
	"github.com/eds331/musclepro-app/services/profile"
)

const testEmail = "athlete@example.com"

// fakeStore is an in-memory CloudStore holding at most one record. Error
// injection and call counters let tests steer and observe the engine.
type fakeStore struct {
	mu             sync.Mutex
	record         *profile.User
	ref            string
	fetchErr       error
	upsertErr      error
	failUpserts    int // fail this many upserts, then succeed
	upsertDelay    time.Duration
	fetches        int
	upserts        int
	lastFetchHint  string
	lastUpsertHint string
}

func (f *fakeStore) Provider() cloudstore.Provider {
	return cloudstore.ProviderObjectStore
}

func (f *fakeStore) Fetch(_ context.Context, _ string, hintRef string) (cloudstore.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	f.lastFetchHint = hintRef
	if f.fetchErr != nil {
		return cloudstore.Record{}, f.fetchErr
	}
	if f.record == nil {
		return cloudstore.Record{}, cloudstore.ErrNotFound
	}
	clone, err := f.record.Clone()
	if err != nil {
		return cloudstore.Record{}, err
	}
	return cloudstore.Record{Ref: f.ref, User: clone}, nil
}

func (f *fakeStore) Upsert(_ context.Context, _ string, u *profile.User, hintRef string) (string, error) {
	if f.upsertDelay > 0 {
		time.Sleep(f.upsertDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	f.lastUpsertHint = hintRef
	if f.failUpserts > 0 {
		f.failUpserts--
		return "", &cloudstore.TransportError{Op: "fake.upsert", Err: errors.New("injected failure")}
	}
	if f.upsertErr != nil {
		return "", f.upsertErr
	}
	clone, err := u.Clone()
	if err != nil {
		return "", err
	}
	f.record = clone
	if f.ref == "" {
		f.ref = "rec-1"
	}
	return f.ref, nil
}

func (f *fakeStore) snapshot() (int, int, *profile.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches, f.upserts, f.record
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(t *testing.T) *localcache.Cache {
	t.Helper()
	c, err := localcache.Open(localcache.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newTestEngine(t *testing.T, store cloudstore.CloudStore) (*Engine, *localcache.Cache, *StatusPublisher) {
	t.Helper()
	cache := newTestCache(t)
	status := NewStatusPublisher()
	eng := NewEngine(store, cloudstore.ProviderObjectStore, cache, status, nil, discardLogger())
	return eng, cache, status
}

// userAt builds a real (non-placeholder) aggregate pinned to ts.
func userAt(t *testing.T, ts int64) *profile.User {
	t.Helper()
	u := profile.NewDefault(testEmail, "athlete")
	u.SyncTimestamp = ts
	return u
}

func TestReconcileAdoptsStrictlyNewerRemote(t *testing.T) {
	store := &fakeStore{record: userAt(t, 5000), ref: "rec-9"}
	eng, cache, _ := newTestEngine(t, store)

	got, outcome := eng.Reconcile(context.Background(), userAt(t, 1000))

	assert.True(t, outcome.Adopted)
	assert.False(t, outcome.Pushed)
	assert.Equal(t, StatusSynced, outcome.Status)
	assert.Equal(t, int64(5000), got.SyncTimestamp)

	// The adopted copy must be cached so a restart starts from it.
	cached, err := cache.LoadProfile(testEmail)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), cached.SyncTimestamp)

	_, upserts, _ := store.snapshot()
	assert.Zero(t, upserts, "adopting must not write to the cloud")
}

func TestReconcilePushesStrictlyNewerLocal(t *testing.T) {
	store := &fakeStore{record: userAt(t, 1000), ref: "rec-9"}
	eng, _, _ := newTestEngine(t, store)

	local := userAt(t, 2000)
	got, outcome := eng.Reconcile(context.Background(), local)

	assert.True(t, outcome.Pushed)
	assert.False(t, outcome.Adopted)
	assert.Same(t, local, got)

	_, _, remote := store.snapshot()
	assert.Equal(t, int64(2000), remote.SyncTimestamp)
}

func TestReconcileTieMovesNothing(t *testing.T) {
	store := &fakeStore{record: userAt(t, 3000), ref: "rec-9"}
	eng, _, _ := newTestEngine(t, store)

	local := userAt(t, 3000)
	got, outcome := eng.Reconcile(context.Background(), local)

	assert.False(t, outcome.Adopted)
	assert.False(t, outcome.Pushed)
	assert.Equal(t, StatusSynced, outcome.Status)
	assert.Same(t, local, got)

	_, upserts, _ := store.snapshot()
	assert.Zero(t, upserts)
}

func TestReconcileCreatesFirstRecord(t *testing.T) {
	store := &fakeStore{}
	eng, _, _ := newTestEngine(t, store)

	local := userAt(t, 1000)
	_, outcome := eng.Reconcile(context.Background(), local)

	assert.True(t, outcome.Pushed)
	assert.True(t, outcome.Created)

	_, upserts, remote := store.snapshot()
	assert.Equal(t, 1, upserts)
	require.NotNil(t, remote)
	assert.Equal(t, int64(1000), remote.SyncTimestamp)
}

func TestReconcileDegradesOnFetchFailure(t *testing.T) {
	store := &fakeStore{
		fetchErr: &cloudstore.TransportError{Op: "fake.fetch", Err: errors.New("host unreachable")},
	}
	eng, cache, status := newTestEngine(t, store)

	local := userAt(t, 2000)
	got, outcome := eng.Reconcile(context.Background(), local)

	assert.True(t, outcome.Degraded)
	assert.Equal(t, StatusError, outcome.Status)
	assert.Same(t, local, got, "local state stays authoritative")
	assert.Equal(t, StatusError, status.Current().Status)

	// Every mutation is already on disk even when the cloud is gone.
	cached, err := cache.LoadProfile(testEmail)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), cached.SyncTimestamp)
}

func TestReconcileRetriesTransientPushFailure(t *testing.T) {
	store := &fakeStore{record: userAt(t, 1000), ref: "rec-9", failUpserts: 1}
	eng, _, _ := newTestEngine(t, store)

	_, outcome := eng.Reconcile(context.Background(), userAt(t, 2000))

	assert.True(t, outcome.Pushed)
	assert.False(t, outcome.Degraded)

	_, upserts, remote := store.snapshot()
	assert.Equal(t, 2, upserts, "first attempt fails, retry succeeds")
	assert.Equal(t, int64(2000), remote.SyncTimestamp)
}

func TestReconcileDoesNotRetryDecodeFailure(t *testing.T) {
	store := &fakeStore{
		record:    userAt(t, 1000),
		ref:       "rec-9",
		upsertErr: &cloudstore.DecodeError{Op: "fake.upsert", Err: errors.New("garbage body")},
	}
	eng, _, _ := newTestEngine(t, store)

	_, outcome := eng.Reconcile(context.Background(), userAt(t, 2000))

	assert.True(t, outcome.Degraded)

	_, upserts, _ := store.snapshot()
	assert.Equal(t, 1, upserts, "malformed responses must not be retried")
}

func TestReconcileCachesAndReusesRecordRef(t *testing.T) {
	store := &fakeStore{record: userAt(t, 5000), ref: "rec-42"}
	eng, cache, _ := newTestEngine(t, store)

	_, _ = eng.Reconcile(context.Background(), userAt(t, 1000))

	ownerKey := cloudstore.DiscoveryKey(testEmail)
	ref, err := cache.LoadRecordRef(string(cloudstore.ProviderObjectStore), ownerKey)
	require.NoError(t, err)
	assert.Equal(t, "rec-42", ref)

	// The second round must hand the cached ref back as a lookup hint.
	_, _ = eng.Reconcile(context.Background(), userAt(t, 5000))
	store.mu.Lock()
	hint := store.lastFetchHint
	store.mu.Unlock()
	assert.Equal(t, "rec-42", hint)
}

func TestReconcileRepairsChangedRecordRef(t *testing.T) {
	store := &fakeStore{record: userAt(t, 5000), ref: "rec-new"}
	eng, cache, _ := newTestEngine(t, store)

	ownerKey := cloudstore.DiscoveryKey(testEmail)
	require.NoError(t, cache.SaveRecordRef(string(cloudstore.ProviderObjectStore), ownerKey, "rec-stale"))

	_, outcome := eng.Reconcile(context.Background(), userAt(t, 1000))
	assert.True(t, outcome.Adopted)

	ref, err := cache.LoadRecordRef(string(cloudstore.ProviderObjectStore), ownerKey)
	require.NoError(t, err)
	assert.Equal(t, "rec-new", ref, "stale cached ref is replaced silently")
}

func TestReconcilePublishesStatusTransitions(t *testing.T) {
	store := &fakeStore{record: userAt(t, 1000), ref: "rec-9"}
	eng, _, status := newTestEngine(t, store)

	events, cancel := status.Subscribe()
	defer cancel()

	_, _ = eng.Reconcile(context.Background(), userAt(t, 2000))

	first := <-events
	assert.Equal(t, StatusSyncing, first.Status)
	second := <-events
	assert.Equal(t, StatusSynced, second.Status)
}

func TestPlaceholderIsNeverCachedLocally(t *testing.T) {
	store := &fakeStore{}
	eng, cache, _ := newTestEngine(t, store)

	seed := profile.Seed(testEmail)
	_, outcome := eng.Reconcile(context.Background(), seed)
	assert.True(t, outcome.Pushed)

	_, err := cache.LoadProfile(testEmail)
	assert.ErrorIs(t, err, localcache.ErrNoEntry)
}
