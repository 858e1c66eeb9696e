// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eds331/musclepro-app/services/agent"
	"github.com/eds331/musclepro-app/services/agent/routes"
	"github.com/eds331/musclepro-app/services/cloudstore"
	"github.com/eds331/musclepro-app/services/localcache"
	"github.com/eds331/musclepro-app/services/profile"
	"github.com/eds331/musclepro-app/services/syncer"
)

const testEmail = "athlete@example.com"

func init() {
	gin.SetMode(gin.TestMode)
}

// newAPI wires a full agent against an in-test bridge backend and mounts
// the routes, returning the router for direct ServeHTTP calls.
func newAPI(t *testing.T) (*gin.Engine, *agent.Agent) {
	t.Helper()

	var mu sync.Mutex
	profiles := make(map[string]json.RawMessage)
	bridge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			mu.Lock()
			raw, ok := profiles[r.URL.Query().Get("email")]
			mu.Unlock()
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write([]byte(`{"profile_data":` + string(raw) + `}`))
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			var req struct {
				Email       string          `json:"email"`
				ProfileData json.RawMessage `json:"profile_data"`
			}
			_ = json.Unmarshal(body, &req)
			mu.Lock()
			profiles[req.Email] = req.ProfileData
			mu.Unlock()
		}
	}))
	t.Cleanup(bridge.Close)

	cache, err := localcache.Open(localcache.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	cfg := agent.DefaultConfig()
	cfg.QuietIntervalMS = 200
	cfg.Cloud = cloudstore.Config{Provider: cloudstore.ProviderBridge, EndpointURL: bridge.URL}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := agent.New(context.Background(), cfg, "", cache, nil, logger)
	t.Cleanup(func() { _ = a.Logout(context.Background()) })

	router := gin.New()
	routes.SetupRoutes(router, a)
	return router, a
}

// do performs a loopback request against the router.
func do(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "127.0.0.1:54321"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router, _ := newAPI(t)
	w := do(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLoopbackGuardRejectsRemoteClients(t *testing.T) {
	router, _ := newAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "203.0.113.7:44444"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSessionAndProfileFlow(t *testing.T) {
	router, _ := newAPI(t)

	// No session yet.
	w := do(router, http.MethodGet, "/v1/profile", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Login.
	w = do(router, http.MethodPost, "/v1/session/login", gin.H{"email": testEmail})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var u profile.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &u))
	assert.Equal(t, testEmail, u.Email)

	// Read back.
	w = do(router, http.MethodGet, "/v1/profile", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Mutate.
	u.Username = "renamed"
	w = do(router, http.MethodPut, "/v1/profile", u)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var updated profile.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, "renamed", updated.Username)
	assert.Greater(t, updated.SyncTimestamp, u.SyncTimestamp)

	// Logout.
	w = do(router, http.MethodPost, "/v1/session/logout", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(router, http.MethodGet, "/v1/profile", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginValidation(t *testing.T) {
	router, _ := newAPI(t)

	w := do(router, http.MethodPost, "/v1/session/login", gin.H{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/v1/session/login", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPutProfileRejectsForeignOwner(t *testing.T) {
	router, _ := newAPI(t)

	w := do(router, http.MethodPost, "/v1/session/login", gin.H{"email": testEmail})
	require.Equal(t, http.StatusOK, w.Code)

	other := profile.NewDefault("other@example.com", "other")
	w = do(router, http.MethodPut, "/v1/profile", other)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSyncStatusAndNow(t *testing.T) {
	router, _ := newAPI(t)

	w := do(router, http.MethodPost, "/v1/sync/now", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "sync without a session is rejected")

	w = do(router, http.MethodPost, "/v1/session/login", gin.H{"email": testEmail})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodGet, "/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view agent.StatusView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, syncer.StateReady, view.Lifecycle)
	assert.Equal(t, testEmail, view.Owner)

	w = do(router, http.MethodPost, "/v1/sync/now", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var outcome syncer.Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &outcome))
	assert.Equal(t, syncer.StatusSynced, outcome.Status)
}

func TestConfigAPI(t *testing.T) {
	router, _ := newAPI(t)

	w := do(router, http.MethodGet, "/v1/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "s3cret")

	w = do(router, http.MethodPut, "/v1/config", gin.H{"provider": "carrier-pigeon"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSyncEventsStreamsStatus(t *testing.T) {
	router, _ := newAPI(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sync/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	// The current state arrives immediately on connect.
	var ev syncer.StatusEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, syncer.StatusSynced, ev.Status)

	// A login produces syncing transitions on the stream.
	w := do(router, http.MethodPost, "/v1/session/login", gin.H{"email": testEmail})
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, conn.ReadJSON(&ev))
	assert.Contains(t, []syncer.Status{syncer.StatusSyncing, syncer.StatusSynced}, ev.Status)
}
