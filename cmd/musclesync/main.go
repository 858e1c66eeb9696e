// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// musclesync is the device-local sync agent and its control CLI.
//
// The agent owns the profile aggregate, its BadgerDB cache and the cloud
// reconciliation loop, and serves UI shells over loopback HTTP. The other
// subcommands talk to a running agent.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eds331/musclepro-app/services/agent"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "musclesync",
	Short: "Offline-first profile sync agent",
	Long: `musclesync keeps a fitness profile in sync between this device and a
cloud backend. Edits always land locally first; the agent pushes them
after a quiet interval and adopts newer copies written by other devices.

Run the agent:
  musclesync agent

Control a running agent:
  musclesync login coach@example.com
  musclesync status
  musclesync sync
  musclesync logout`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config",
		agent.DefaultConfigPath(), "Path to the agent config file")
}

// loadConfig reads the configured file; flag overrides are applied by
// the individual commands.
func loadConfig() (agent.Config, error) {
	return agent.LoadConfig(configPath)
}
