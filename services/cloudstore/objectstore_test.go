// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cloudstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eds331/musclepro-app/services/profile"
)

// =============================================================================
// Fake Object-Store Sandbox
// =============================================================================

// fakeSandbox emulates the public object-store API: a flat collection of
// {id, name, data} objects with list, get-by-id, create and update.
type fakeSandbox struct {
	mu      sync.Mutex
	nextID  int
	objects map[string]storedObject // keyed by id

	creates int // POST count, for duplicate-create assertions
	lists   int // GET-collection count
}

func newFakeSandbox() *fakeSandbox {
	return &fakeSandbox{nextID: 1, objects: map[string]storedObject{}}
}

func (f *fakeSandbox) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		id := strings.TrimPrefix(r.URL.Path, "/")
		switch {
		case r.Method == http.MethodGet && id == "":
			f.lists++
			list := make([]storedObject, 0, len(f.objects))
			for _, obj := range f.objects {
				list = append(list, obj)
			}
			_ = json.NewEncoder(w).Encode(list)

		case r.Method == http.MethodGet:
			obj, ok := f.objects[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(obj)

		case r.Method == http.MethodPost:
			f.creates++
			var env objectEnvelope
			_ = json.NewDecoder(r.Body).Decode(&env)
			newID := fmt.Sprintf("obj-%d", f.nextID)
			f.nextID++
			raw, _ := json.Marshal(env.Data)
			f.objects[newID] = storedObject{ID: newID, Name: env.Name, Data: raw}
			_ = json.NewEncoder(w).Encode(createdObject{ID: newID})

		case r.Method == http.MethodPut:
			if _, ok := f.objects[id]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			var env objectEnvelope
			_ = json.NewDecoder(r.Body).Decode(&env)
			raw, _ := json.Marshal(env.Data)
			f.objects[id] = storedObject{ID: id, Name: env.Name, Data: raw}
			w.WriteHeader(http.StatusOK)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

// seed installs a record for the owner and returns its id.
func (f *fakeSandbox) seed(ownerKey string, u *profile.User) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("obj-%d", f.nextID)
	f.nextID++
	raw, _ := json.Marshal(u)
	f.objects[id] = storedObject{ID: id, Name: DiscoveryKey(ownerKey), Data: raw}
	return id
}

func newTestObjectStore(t *testing.T, sandbox *fakeSandbox) *ObjectStoreClient {
	t.Helper()
	server := httptest.NewServer(sandbox.handler())
	t.Cleanup(server.Close)
	return NewObjectStoreClient(Config{EndpointURL: server.URL})
}

// =============================================================================
// Tests
// =============================================================================

func TestDiscoveryKey(t *testing.T) {
	tests := []struct {
		owner string
		want  string
	}{
		{"ed.sanhuezag@gmail.com", "musclepro_v6_final_ed_sanhuezag_gmail_com"},
		{"simple@x.co", "musclepro_v6_final_simple_x_co"},
		{"UPPER+tag@host", "musclepro_v6_final_UPPER_tag_host"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, DiscoveryKey(tc.owner))
	}
}

func TestFetchNotFoundIsNormal(t *testing.T) {
	client := newTestObjectStore(t, newFakeSandbox())

	_, err := client.Fetch(context.Background(), "new@example.com", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchDiscoversByName(t *testing.T) {
	sandbox := newFakeSandbox()
	remote := profile.NewDefault("coach@example.com", "coach")
	id := sandbox.seed("coach@example.com", remote)
	client := newTestObjectStore(t, sandbox)

	rec, err := client.Fetch(context.Background(), "coach@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, id, rec.Ref)
	assert.Equal(t, remote.SyncTimestamp, rec.User.SyncTimestamp)
}

func TestFetchUsesHintWithoutListing(t *testing.T) {
	sandbox := newFakeSandbox()
	id := sandbox.seed("coach@example.com", profile.NewDefault("coach@example.com", "coach"))
	client := newTestObjectStore(t, sandbox)

	_, err := client.Fetch(context.Background(), "coach@example.com", id)
	require.NoError(t, err)
	assert.Zero(t, sandbox.lists, "hinted fetch must not scan the collection")
}

func TestFetchRecoversFromStaleHint(t *testing.T) {
	sandbox := newFakeSandbox()
	id := sandbox.seed("coach@example.com", profile.NewDefault("coach@example.com", "coach"))
	client := newTestObjectStore(t, sandbox)

	rec, err := client.Fetch(context.Background(), "coach@example.com", "deleted-id")
	require.NoError(t, err, "stale hint must fall back to discovery, not error")
	assert.Equal(t, id, rec.Ref)
}

func TestUpsertCreatesOnce(t *testing.T) {
	sandbox := newFakeSandbox()
	client := newTestObjectStore(t, sandbox)
	u := profile.NewDefault("coach@example.com", "coach")

	ref1, err := client.Upsert(context.Background(), u.Email, u, "")
	require.NoError(t, err)
	require.NotEmpty(t, ref1)

	// A second push without a hint rediscovers the first record instead
	// of creating a duplicate.
	u.CurrentXP = 500
	u.Touch()
	ref2, err := client.Upsert(context.Background(), u.Email, u, "")
	require.NoError(t, err)
	assert.Equal(t, ref1, ref2)
	assert.Equal(t, 1, sandbox.creates)
}

func TestUpsertWithStaleHintRediscovers(t *testing.T) {
	sandbox := newFakeSandbox()
	id := sandbox.seed("coach@example.com", profile.NewDefault("coach@example.com", "coach"))
	client := newTestObjectStore(t, sandbox)

	u := profile.NewDefault("coach@example.com", "coach")
	ref, err := client.Upsert(context.Background(), u.Email, u, "gone-id")
	require.NoError(t, err)
	assert.Equal(t, id, ref)
	assert.Zero(t, sandbox.creates)
}

func TestUpsertStoresTimestamp(t *testing.T) {
	sandbox := newFakeSandbox()
	client := newTestObjectStore(t, sandbox)

	u := profile.NewDefault("coach@example.com", "coach")
	u.SyncTimestamp = 2000

	ref, err := client.Upsert(context.Background(), u.Email, u, "")
	require.NoError(t, err)

	rec, err := client.Fetch(context.Background(), u.Email, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), rec.User.SyncTimestamp)
}

func TestTransportFailureIsTyped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)
	client := NewObjectStoreClient(Config{EndpointURL: server.URL})

	_, err := client.Fetch(context.Background(), "coach@example.com", "")
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusInternalServerError, te.Status)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestMalformedBodyIsDecodeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	t.Cleanup(server.Close)
	client := NewObjectStoreClient(Config{EndpointURL: server.URL})

	_, err := client.Fetch(context.Background(), "coach@example.com", "")
	var de *DecodeError
	assert.ErrorAs(t, err, &de)
}

func TestUnreachableHostIsTransportError(t *testing.T) {
	client := NewObjectStoreClient(Config{EndpointURL: "http://127.0.0.1:1"})

	_, err := client.Fetch(context.Background(), "coach@example.com", "")
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Zero(t, te.Status, "no HTTP status when the host is unreachable")
}

func TestCredentialIsSentAsBearer(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("[]"))
	}))
	t.Cleanup(server.Close)
	client := NewObjectStoreClient(Config{EndpointURL: server.URL, Credential: "s3cret"})

	_, _ = client.Fetch(context.Background(), "coach@example.com", "")
	assert.Equal(t, "Bearer s3cret", gotAuth)
}
