// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/eds331/musclepro-app/services/agent"
	"github.com/eds331/musclepro-app/services/syncer"
)

var statusJSONOutput bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the agent's sync state",
	Long: `Queries the running agent and prints the sync indicator, the active
session and the last reconcile outcome.

Examples:
  musclesync status
  musclesync status --json   # for scripting`,
	RunE: runStatusCommand,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSONOutput, "json", false,
		"Output as JSON for scripting")
	rootCmd.AddCommand(statusCmd)
}

// ===== Styles =====

var (
	styleSynced  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	styleSyncing = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true)
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleLabel   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func runStatusCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var view agent.StatusView
	client := newAgentClient(cfg.Listen)
	if err := client.call(http.MethodGet, "/v1/sync/status", nil, &view); err != nil {
		return err
	}

	if statusJSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	printStatus(view)
	return nil
}

func printStatus(view agent.StatusView) {
	styled := isatty.IsTerminal(os.Stdout.Fd())

	indicator := string(view.Status.Status)
	if styled {
		switch view.Status.Status {
		case syncer.StatusSynced:
			indicator = styleSynced.Render("● synced")
		case syncer.StatusSyncing:
			indicator = styleSyncing.Render("◌ syncing")
		case syncer.StatusError:
			indicator = styleError.Render("✕ error")
		}
	}

	label := func(s string) string {
		if styled {
			return styleLabel.Render(s)
		}
		return s
	}

	fmt.Println(label("Sync:     "), indicator)
	fmt.Println(label("Lifecycle:"), view.Lifecycle)
	fmt.Println(label("Provider: "), view.Provider)
	if view.Owner != "" {
		fmt.Println(label("Owner:    "), view.Owner)
	} else {
		fmt.Println(label("Owner:    "), "(no session)")
	}
	if !view.Last.At.IsZero() {
		fmt.Println(label("Last sync:"), view.Last.At.Format("2006-01-02 15:04:05"),
			summarizeOutcome(view.Last))
	}
	if view.Status.Detail != "" {
		fmt.Println(label("Detail:   "), view.Status.Detail)
	}
}

func summarizeOutcome(o syncer.Outcome) string {
	switch {
	case o.Adopted:
		return "(adopted remote copy)"
	case o.Created:
		return "(created remote record)"
	case o.Pushed:
		return "(pushed local edits)"
	case o.Degraded:
		return "(degraded to local-only)"
	default:
		return "(no changes)"
	}
}
