// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package syncer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleHappyPath(t *testing.T) {
	ctx := context.Background()
	lc := NewLifecycle(discardLogger())

	assert.Equal(t, StateUninitialized, lc.Current())
	assert.False(t, lc.Ready())

	require.NoError(t, lc.BeginBootstrap(ctx))
	assert.Equal(t, StateBootstrapping, lc.Current())
	assert.False(t, lc.Ready())

	require.NoError(t, lc.BootstrapDone(ctx))
	assert.Equal(t, StateReady, lc.Current())
	assert.True(t, lc.Ready())
}

func TestLifecycleRejectsOutOfOrderEvents(t *testing.T) {
	ctx := context.Background()
	lc := NewLifecycle(discardLogger())

	assert.Error(t, lc.BootstrapDone(ctx), "cannot finish a bootstrap that never started")

	require.NoError(t, lc.BeginBootstrap(ctx))
	assert.Error(t, lc.BeginBootstrap(ctx), "bootstrap cannot start twice")
}

func TestLifecycleResetReturnsToUninitialized(t *testing.T) {
	ctx := context.Background()
	lc := NewLifecycle(discardLogger())

	require.NoError(t, lc.BeginBootstrap(ctx))
	require.NoError(t, lc.BootstrapDone(ctx))

	require.NoError(t, lc.Reset(ctx))
	assert.Equal(t, StateUninitialized, lc.Current())

	// A full second session can run after a reset.
	require.NoError(t, lc.BeginBootstrap(ctx))
	require.NoError(t, lc.BootstrapDone(ctx))
	assert.True(t, lc.Ready())
}

func TestLifecycleResetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	lc := NewLifecycle(discardLogger())

	require.NoError(t, lc.Reset(ctx))
	require.NoError(t, lc.Reset(ctx))
	assert.Equal(t, StateUninitialized, lc.Current())
}
