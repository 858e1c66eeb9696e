// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/eds331/musclepro-app/services/profile"
	"github.com/eds331/musclepro-app/services/syncer"
)

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Start a session for an owner",
	Long: `Starts (or resumes) a session on the running agent. The agent loads the
owner's profile from the cloud, or creates a fresh one for a new owner,
and begins syncing edits.

Example:
  musclesync login coach@example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runLoginCommand,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Flush pending edits and end the session",
	Args:  cobra.NoArgs,
	RunE:  runLogoutCommand,
}

var syncNowCmd = &cobra.Command{
	Use:   "sync",
	Short: "Force an immediate sync",
	Long:  `Triggers a reconcile right now instead of waiting for the quiet interval.`,
	Args:  cobra.NoArgs,
	RunE:  runSyncNowCommand,
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(syncNowCmd)
}

func runLoginCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var u profile.User
	client := newAgentClient(cfg.Listen)
	if err := client.call(http.MethodPost, "/v1/session/login",
		map[string]string{"email": args[0]}, &u); err != nil {
		return err
	}

	fmt.Printf("Logged in as %s (%s), level %d\n", u.Username, u.Email, u.Level)
	return nil
}

func runLogoutCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := newAgentClient(cfg.Listen)
	if err := client.call(http.MethodPost, "/v1/session/logout", nil, nil); err != nil {
		return err
	}
	fmt.Println("Logged out.")
	return nil
}

func runSyncNowCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var outcome syncer.Outcome
	client := newAgentClient(cfg.Listen)
	if err := client.call(http.MethodPost, "/v1/sync/now", nil, &outcome); err != nil {
		return err
	}

	fmt.Println("Sync finished:", string(outcome.Status), summarizeOutcome(outcome))
	if outcome.Detail != "" {
		fmt.Println("Detail:", outcome.Detail)
	}
	return nil
}
