// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTouchAdvancesTimestamp(t *testing.T) {
	u := Seed("coach@example.com")
	first := u.Touch()
	assert.Greater(t, first, int64(0))
	assert.Equal(t, first, u.SyncTimestamp)
}

func TestTouchIsStrictlyMonotonic(t *testing.T) {
	// Consecutive edits inside the same millisecond must still produce
	// strictly increasing timestamps.
	u := Seed("coach@example.com")
	prev := int64(0)
	for i := 0; i < 100; i++ {
		ts := u.Touch()
		assert.Greater(t, ts, prev, "iteration %d", i)
		prev = ts
	}
}

func TestTouchNeverGoesBackward(t *testing.T) {
	// A clock that lags behind the stored timestamp (e.g. after adopting
	// a remote copy stamped by a fast device) must not regress.
	u := Seed("coach@example.com")
	u.SyncTimestamp = 1<<62 - 1
	ts := u.Touch()
	assert.Equal(t, int64(1<<62), ts)
}

func TestCloneIsDeep(t *testing.T) {
	u := NewDefault("coach@example.com", "coach")
	u.History = append(u.History, WorkoutSession{ID: "w1", PlanName: "Push A"})
	u.Agenda = append(u.Agenda, AgendaItem{ID: "a1", Title: "Weigh-in", Type: AgendaReminder})

	clone, err := u.Clone()
	require.NoError(t, err)
	require.NotSame(t, u, clone)
	assert.Equal(t, u.SyncTimestamp, clone.SyncTimestamp)
	assert.Equal(t, u.History, clone.History)

	clone.History[0].PlanName = "mutated"
	clone.Agenda[0].Completed = true
	assert.Equal(t, "Push A", u.History[0].PlanName)
	assert.False(t, u.Agenda[0].Completed)
}

func TestSeedIsRecognizable(t *testing.T) {
	s := Seed("coach@example.com")
	assert.True(t, s.IsSeed())

	full := NewDefault("coach@example.com", "coach")
	assert.False(t, full.IsSeed())

	s.Touch()
	assert.False(t, s.IsSeed(), "a touched seed is no longer a probe")
}

func TestNewDefaultIsReady(t *testing.T) {
	u := NewDefault("coach@example.com", "coach")
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, RoleClient, u.Role)
	assert.Equal(t, 1, u.Level)
	assert.NotNil(t, u.History)
	assert.Greater(t, u.SyncTimestamp, int64(0))
}

func TestLevelForXP(t *testing.T) {
	tests := []struct {
		xp   int
		want int
	}{
		{0, 1},
		{999, 1},
		{1000, 2},
		{4500, 5},
		{-10, 1},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, LevelForXP(tc.xp), "xp=%d", tc.xp)
	}
}
