// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cloudstore

import (
	"context"
	"log/slog"
)

// New builds the CloudStore selected by cfg.
//
// # Description
//
// A configuration problem is fatal to the selected provider only, never
// to the application: on a validation failure, an unknown provider name,
// or a provider whose requirements are not met (bridge/postgres without
// an endpoint), New logs the problem and falls back to the default
// objectstore sandbox so sync keeps operating.
//
// # Inputs
//
//   - ctx: Used for the postgres connection handshake.
//   - cfg: Provider selection and parameters.
//
// # Outputs
//
//   - CloudStore: Never nil.
//   - Provider: The provider actually in effect (after any fallback).
func New(ctx context.Context, cfg Config) (CloudStore, Provider) {
	if err := cfg.Validate(); err != nil {
		slog.Warn("invalid cloudstore configuration, falling back to default provider",
			"error", err)
		return NewObjectStoreClient(DefaultConfig()), ProviderObjectStore
	}

	switch cfg.Provider {
	case ProviderBridge:
		client, err := NewBridgeClient(cfg)
		if err != nil {
			slog.Warn("bridge provider unavailable, falling back to default provider",
				"error", err)
			return NewObjectStoreClient(DefaultConfig()), ProviderObjectStore
		}
		return client, ProviderBridge

	case ProviderPostgres:
		store, err := NewPostgresStore(ctx, cfg)
		if err != nil {
			slog.Warn("postgres provider unavailable, falling back to default provider",
				"error", err)
			return NewObjectStoreClient(DefaultConfig()), ProviderObjectStore
		}
		return store, ProviderPostgres

	case ProviderObjectStore, "":
		return NewObjectStoreClient(cfg), ProviderObjectStore

	default:
		slog.Warn("unknown cloudstore provider, falling back to default provider",
			"provider", string(cfg.Provider))
		return NewObjectStoreClient(DefaultConfig()), ProviderObjectStore
	}
}
