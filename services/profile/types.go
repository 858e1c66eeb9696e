// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package profile defines the User aggregate, the unit of synchronization
// for the MusclePro sync agent.
//
// # Description
//
// A User holds everything the coaching application knows about one account:
// identity, subscription, gamification progress, the active training plan,
// diet and cardio configuration, workout history, per-day adherence logs,
// and the agenda. The whole object is read and written at once; there is
// no partial-update path.
//
// # Conflict Resolution
//
// SyncTimestamp (epoch milliseconds) is stamped on every state-changing
// edit via Touch and is the sole conflict-resolution signal between
// devices: the copy with the larger timestamp wins in full.
//
// # Thread Safety
//
// User values are not safe for concurrent mutation. The agent owns the
// in-memory aggregate on a single goroutine; background syncs operate on
// deep clones (see Clone).
package profile

// Role identifies the account type.
type Role string

const (
	RoleClient Role = "CLIENT"
	RoleAdmin  Role = "ADMIN"
)

// Gender for the stats block.
type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
	GenderOther  Gender = "OTHER"
)

// Goal is the primary training goal.
type Goal string

const (
	GoalHypertrophy Goal = "HYPERTROPHY"
	GoalStrength    Goal = "STRENGTH"
	GoalWeightLoss  Goal = "WEIGHT_LOSS"
	GoalAthletic    Goal = "ATHLETIC_PERFORMANCE"
)

// ExperienceLevel is the self-reported training experience.
type ExperienceLevel string

const (
	ExperienceBeginner     ExperienceLevel = "BEGINNER"
	ExperienceIntermediate ExperienceLevel = "INTERMEDIATE"
	ExperienceAdvanced     ExperienceLevel = "ADVANCED"
)

// SubscriptionStatus is the billing state of the account.
type SubscriptionStatus string

const (
	SubscriptionActive         SubscriptionStatus = "ACTIVE"
	SubscriptionPaused         SubscriptionStatus = "PAUSED"
	SubscriptionPaymentPending SubscriptionStatus = "PAYMENT_PENDING"
)

// Stats holds the physical profile used by the routine generator.
type Stats struct {
	Age    int             `json:"age"`
	Height int             `json:"height"`
	Weight int             `json:"weight"`
	Gender Gender          `json:"gender"`
	Goal   Goal            `json:"goal"`
	Level  ExperienceLevel `json:"level"`
}

// Exercise is one prescribed movement inside a plan.
type Exercise struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Sets        int    `json:"sets"`
	Reps        string `json:"reps"`
	RPETarget   int    `json:"rpeTarget,omitempty"`
	RestSeconds int    `json:"restSeconds"`
	VideoURL    string `json:"videoUrl,omitempty"`
	GifURL      string `json:"gifUrl,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// Plan is the currently assigned training protocol.
type Plan struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Split       string     `json:"split"`
	Exercises   []Exercise `json:"exercises"`
}

// SetLog is one completed set inside a workout session.
type SetLog struct {
	SetNumber int     `json:"setNumber"`
	Weight    float64 `json:"weight"`
	Reps      int     `json:"reps"`
	RPE       float64 `json:"rpe"`
	Completed bool    `json:"completed"`
}

// ExerciseLog groups the sets logged for one exercise.
type ExerciseLog struct {
	ExerciseID string   `json:"exerciseId"`
	Sets       []SetLog `json:"sets"`
}

// WorkoutSession is one finished workout. History is append-only.
type WorkoutSession struct {
	ID              string        `json:"id"`
	Date            string        `json:"date"`
	PlanName        string        `json:"planName"`
	DurationSeconds int           `json:"durationSeconds"`
	Volume          float64       `json:"volume"`
	Logs            []ExerciseLog `json:"logs"`
	XPEarned        int           `json:"xpEarned,omitempty"`
}

// Meal is one configured meal in the diet plan.
type Meal struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Calories int      `json:"calories"`
	Protein  int      `json:"protein"`
	Carbs    int      `json:"carbs"`
	Fats     int      `json:"fats"`
	Items    []string `json:"items"`
}

// Diet is the nutrition configuration.
type Diet struct {
	Calories int    `json:"calories"`
	Meals    []Meal `json:"meals"`
}

// Cardio is the cardio prescription.
type Cardio struct {
	Frequency string `json:"frequency"`
	Duration  string `json:"duration"`
	Type      string `json:"type"`
}

// DailyLog records per-day adherence, keyed by date (YYYY-MM-DD).
type DailyLog struct {
	Date               string   `json:"date"`
	MealsEaten         []string `json:"mealsEaten"`
	CardioDone         bool     `json:"cardioDone"`
	WorkoutCompletedID string   `json:"workoutCompletedId,omitempty"`
}

// Badge is an earned achievement.
type Badge struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	DateEarned  string `json:"dateEarned"`
}

// AgendaItemType distinguishes agenda entries.
type AgendaItemType string

const (
	AgendaTask        AgendaItemType = "TASK"
	AgendaMeeting     AgendaItemType = "MEETING"
	AgendaReminder    AgendaItemType = "REMINDER"
	AgendaAppointment AgendaItemType = "APPOINTMENT"
)

// AgendaItem is one scheduled entry in the agenda tracker.
type AgendaItem struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Description   string         `json:"description,omitempty"`
	Date          string         `json:"date"`
	Time          string         `json:"time"`
	Type          AgendaItemType `json:"type"`
	Completed     bool           `json:"completed"`
	IsGoogleEvent bool           `json:"isGoogleEvent"`
}

// User is the aggregate: one record per account, synchronized wholesale.
//
// Email doubles as the owner key used to locate the record across devices.
// SyncTimestamp must strictly increase across any two observably different
// versions of the aggregate; use Touch, never set it directly.
type User struct {
	ID                 string             `json:"id"`
	Username           string             `json:"username"`
	Email              string             `json:"email"`
	Role               Role               `json:"role"`
	SubscriptionStatus SubscriptionStatus `json:"subscriptionStatus"`
	Stats              *Stats             `json:"stats,omitempty"`
	Level              int                `json:"level"`
	CurrentXP          int                `json:"currentXP"`
	Badges             []Badge            `json:"badges"`
	CurrentPlan        *Plan              `json:"currentPlan,omitempty"`
	Diet               *Diet              `json:"diet,omitempty"`
	Cardio             *Cardio            `json:"cardio,omitempty"`
	History            []WorkoutSession   `json:"history"`
	DailyLogs          []DailyLog         `json:"dailyLogs"`
	Agenda             []AgendaItem       `json:"agenda"`

	// SyncTimestamp tracks the latest version of the aggregate in the
	// cloud (epoch milliseconds).
	SyncTimestamp int64 `json:"syncTimestamp"`
}
