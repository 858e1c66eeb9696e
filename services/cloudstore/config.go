// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cloudstore

import (
	"github.com/awnumar/memguard"
	"github.com/go-playground/validator/v10"
)

// configValidate is the validator instance for cloudstore configuration.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
}

// Config selects and parameterizes the remote backend.
//
// # Description
//
// Persisted as the configuration blob in the local cache and editable via
// the admin surface. An empty or invalid Config falls back to the default
// objectstore provider rather than blocking the application; sync is a
// best-effort service.
//
// For the postgres provider, EndpointURL is a connection DSN
// (postgres://...). For bridge it is the bridge endpoint URL. For
// objectstore it overrides the public sandbox base URL when set.
type Config struct {
	Provider    Provider `yaml:"provider" json:"provider" validate:"omitempty,oneof=objectstore bridge postgres"`
	EndpointURL string   `yaml:"endpoint_url" json:"endpointUrl" validate:"omitempty,uri"`
	Credential  string   `yaml:"credential,omitempty" json:"credential,omitempty"`
}

// Validate checks the configuration against its constraints.
func (c Config) Validate() error {
	return configValidate.Struct(c)
}

// DefaultConfig returns the zero-setup configuration: the public
// objectstore sandbox with no credential.
func DefaultConfig() Config {
	return Config{Provider: ProviderObjectStore}
}

// credentialEnclave seals the credential into a memguard enclave and
// returns nil when no credential is configured. Providers hold the
// enclave instead of the plaintext string; the secret is only decrypted
// for the lifetime of a single request.
func (c Config) credentialEnclave() *memguard.Enclave {
	if c.Credential == "" {
		return nil
	}
	return memguard.NewEnclave([]byte(c.Credential))
}

// Redacted returns a copy safe for logging and for the status API.
func (c Config) Redacted() Config {
	out := c
	if out.Credential != "" {
		out.Credential = "[redacted]"
	}
	return out
}
