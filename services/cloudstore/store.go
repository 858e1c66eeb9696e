// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cloudstore provides the remote store adapter for the sync agent.
//
// # Description
//
// A CloudStore locates and replaces one owner's aggregate in a remote
// backend. Three interchangeable implementations exist, selected by
// runtime configuration:
//
//   - objectstore: a generic public object-store REST API (the default)
//   - bridge: a custom HTTP bridge endpoint keyed by email
//   - postgres: a hosted relational store reached over the pgx driver
//
// Implementations are stateless transports. "Record not found" is a
// normal outcome for a first-time owner and is reported as ErrNotFound;
// network and decoding failures carry distinguishable error types so the
// sync engine can degrade to local state instead of failing.
//
// # Thread Safety
//
// All implementations are safe for concurrent use.
package cloudstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/eds331/musclepro-app/services/profile"
)

// Provider names a concrete backend.
type Provider string

const (
	// ProviderObjectStore is the public object-store sandbox (default).
	ProviderObjectStore Provider = "objectstore"

	// ProviderBridge is the custom HTTP bridge endpoint.
	ProviderBridge Provider = "bridge"

	// ProviderPostgres is the hosted relational backend.
	ProviderPostgres Provider = "postgres"
)

// ErrNotFound indicates no remote record exists for the owner key.
// This is the expected outcome for a first-time sync, not a failure.
var ErrNotFound = errors.New("cloudstore: record not found")

// TransportError wraps network-level failures: unreachable host, timeout,
// or a non-success HTTP status. The sync engine treats these as a signal
// to keep local state authoritative.
type TransportError struct {
	Op     string // operation that failed, e.g. "objectstore.fetch"
	Status int    // HTTP status if one was received, else 0
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("cloudstore: %s failed with status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("cloudstore: %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError wraps a malformed remote payload: unparseable body or a
// body missing the expected fields. Handled the same way as a transport
// failure by the caller.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cloudstore: %s returned malformed payload: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Record is a fetched remote copy plus the provider-specific identifier
// under which it is stored.
type Record struct {
	// Ref is the provider-specific record identifier. The engine caches
	// it device-side to skip discovery on the next sync. May equal the
	// owner key for backends addressed directly by owner.
	Ref string

	// User is the remote aggregate.
	User *profile.User
}

// CloudStore locates and replaces one owner's aggregate remotely.
//
// ownerKey is the owner's email; each backend derives its own storage
// key from it (the objectstore and postgres adapters sanitize it via
// DiscoveryKey, the bridge uses it verbatim).
//
// Fetch resolves the record for ownerKey. hintRef, when non-empty, is a
// previously cached identifier; implementations must treat a stale hint
// (backend says not-found) as a cue to re-run discovery by owner key
// rather than an error. Fetch returns ErrNotFound when the owner has no
// record anywhere.
//
// Upsert stores the aggregate under ownerKey, creating the record on
// first push and updating it in place thereafter, and returns the
// identifier the record now lives under.
type CloudStore interface {
	Provider() Provider
	Fetch(ctx context.Context, ownerKey, hintRef string) (Record, error)
	Upsert(ctx context.Context, ownerKey string, u *profile.User, hintRef string) (string, error)
}

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// DiscoveryKey derives the deterministic name under which an owner's
// record is stored in name-addressed backends. Two devices for the same
// owner converge on the same remote record without prior coordination.
//
// The key format is fixed; changing it orphans every existing record.
func DiscoveryKey(ownerKey string) string {
	return "musclepro_v6_final_" + nonAlnum.ReplaceAllString(ownerKey, "_")
}
