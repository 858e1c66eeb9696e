// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package profile

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// XPPerLevel is the experience required per gamification level.
const XPPerLevel = 1000

// Touch stamps the aggregate with a new mutation timestamp.
//
// # Description
//
// Sets SyncTimestamp to the current epoch-millisecond time, or to the
// previous value plus one if the clock has not advanced. This guarantees
// the timestamp strictly increases across consecutive edits even when two
// mutations land inside the same millisecond, which the conflict policy
// depends on.
//
// # Outputs
//
//   - int64: The timestamp that was assigned.
func (u *User) Touch() int64 {
	now := time.Now().UnixMilli()
	if now <= u.SyncTimestamp {
		now = u.SyncTimestamp + 1
	}
	u.SyncTimestamp = now
	return now
}

// Clone returns a deep copy of the aggregate.
//
// Background syncs must operate on a snapshot so that edits arriving
// while a push is in flight never leak into the request body. The copy
// goes through JSON, which is cheap at aggregate sizes (tens of KB) and
// guarantees the copy matches what the wire would carry.
func (u *User) Clone() (*User, error) {
	raw, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("clone aggregate: %w", err)
	}
	var out User
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("clone aggregate: %w", err)
	}
	return &out, nil
}

// Seed returns the minimal aggregate used to probe the cloud at login.
//
// Only the owner key is populated and SyncTimestamp is zero, so any
// genuine remote copy is strictly newer and wins the reconcile.
func Seed(email string) *User {
	return &User{
		Email:              email,
		Role:               RoleClient,
		SubscriptionStatus: SubscriptionActive,
		Level:              1,
	}
}

// NewDefault returns a fresh aggregate for a first-ever login.
//
// Used when neither the cloud nor the local cache has data for the owner.
func NewDefault(email, username string) *User {
	u := &User{
		ID:                 uuid.NewString(),
		Username:           username,
		Email:              email,
		Role:               RoleClient,
		SubscriptionStatus: SubscriptionActive,
		Level:              1,
		Badges:             []Badge{},
		History:            []WorkoutSession{},
		DailyLogs:          []DailyLog{},
		Agenda:             []AgendaItem{},
	}
	u.Touch()
	return u
}

// IsSeed reports whether the aggregate still looks like a login probe:
// no identity beyond the owner key and no recorded activity.
func (u *User) IsSeed() bool {
	return u.ID == "" && len(u.History) == 0 && len(u.DailyLogs) == 0 &&
		len(u.Agenda) == 0 && u.SyncTimestamp == 0
}

// LevelForXP converts accumulated experience to a level.
func LevelForXP(xp int) int {
	if xp < 0 {
		return 1
	}
	return xp/XPPerLevel + 1
}
