// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/eds331/musclepro-app/services/cloudstore"
)

var configValidate = validator.New()

// Config is the agent's YAML configuration file.
//
// Missing fields take defaults; an unreadable or invalid file is reported
// so the operator can fix it, except for the cloud section whose failures
// fall back to the default provider inside the cloudstore factory.
type Config struct {
	// Listen is the loopback address the HTTP API binds to.
	Listen string `yaml:"listen" validate:"required,hostname_port"`

	// DataDir roots the local cache and default log directory. Supports
	// a leading ~.
	DataDir string `yaml:"data_dir" validate:"required"`

	// QuietIntervalMS is the debounce window in milliseconds. Zero means
	// the built-in default.
	QuietIntervalMS int `yaml:"quiet_interval_ms" validate:"omitempty,min=100,max=600000"`

	// Log controls verbosity and the optional JSON file stream.
	Log LogConfig `yaml:"log"`

	// Cloud selects the remote backend.
	Cloud cloudstore.Config `yaml:"cloud"`
}

// LogConfig mirrors pkg/logging.Config for the YAML file.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns a runnable zero-setup configuration.
func DefaultConfig() Config {
	return Config{
		Listen:  "127.0.0.1:7600",
		DataDir: "~/.musclesync",
		Cloud:   cloudstore.DefaultConfig(),
	}
}

// DefaultConfigPath is where the agent looks for its file when --config
// is not given.
func DefaultConfigPath() string {
	return filepath.Join("~", ".musclesync", "config.yaml")
}

// LoadConfig reads path over the defaults, then applies MUSCLESYNC_*
// environment overrides. A missing file is not an error; the defaults
// run as-is.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(expandPath(path))
		switch {
		case os.IsNotExist(err):
			// defaults
		case err != nil:
			return cfg, fmt.Errorf("agent: read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("agent: parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("agent: invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv layers environment variables over file values. The credential
// in particular usually arrives this way rather than in the file.
func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	set(&c.Listen, "MUSCLESYNC_LISTEN")
	set(&c.DataDir, "MUSCLESYNC_DATA_DIR")
	set(&c.Log.Level, "MUSCLESYNC_LOG_LEVEL")
	if v, ok := os.LookupEnv("MUSCLESYNC_CLOUD_PROVIDER"); ok {
		c.Cloud.Provider = cloudstore.Provider(v)
	}
	set(&c.Cloud.EndpointURL, "MUSCLESYNC_CLOUD_ENDPOINT")
	set(&c.Cloud.Credential, "MUSCLESYNC_CLOUD_CREDENTIAL")
}

// Validate checks the structural constraints. The cloud section is
// validated separately by the cloudstore factory, which degrades instead
// of failing.
func (c Config) Validate() error {
	return configValidate.Struct(c)
}

// QuietInterval converts the configured window to a duration, zero when
// unset so the scheduler applies its default.
func (c Config) QuietInterval() time.Duration {
	return time.Duration(c.QuietIntervalMS) * time.Millisecond
}

// CacheDir is where the BadgerDB cache lives under DataDir.
func (c Config) CacheDir() string {
	return filepath.Join(expandPath(c.DataDir), "cache")
}

// Save writes the configuration to path, creating parent directories.
// Used by the config API and the CLI's set-provider command.
func (c Config) Save(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("agent: create config dir: %w", err)
	}
	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("agent: encode config: %w", err)
	}
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return fmt.Errorf("agent: write config %s: %w", path, err)
	}
	return nil
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
