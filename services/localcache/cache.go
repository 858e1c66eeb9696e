// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package localcache provides the durable device-side cache for the sync
// agent, backed by BadgerDB.
//
// # Description
//
// The cache is the offline safety net: it holds the last-known-good
// aggregate, the active-session marker, the per-owner remote record-ref
// cache, and the provider configuration blob. Every slot is written
// synchronously; after any mutation call returns, a reload of the process
// observes that exact state even if no cloud sync ever succeeds.
//
// Slots:
//
//	profile/<ownerKey>          last serialized aggregate
//	session                     {active, ownerKey}
//	recordref/<provider>/<own>  cached remote record identifier
//	config                      provider configuration blob
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide isolation.
package localcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/eds331/musclepro-app/services/profile"
)

// ErrNoEntry indicates the requested slot has never been written.
var ErrNoEntry = errors.New("localcache: no entry")

const (
	profilePrefix   = "profile/"
	sessionKey      = "session"
	recordRefPrefix = "recordref/"
	configKey       = "config"
)

// Config holds configuration for the cache store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites forces fsync on every write. The cache is the offline
	// safety net, so this defaults to true in production.
	SyncWrites bool

	// Logger receives BadgerDB's internal messages. If nil, internal
	// logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults rooted at the given data dir.
func DefaultConfig(dataDir string) Config {
	return Config{
		Path:       dataDir,
		SyncWrites: true,
	}
}

// InMemoryConfig returns configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Session is the active-session marker.
type Session struct {
	Active   bool   `json:"active"`
	OwnerKey string `json:"ownerKey"`
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Cache is the durable key-value store for one device.
type Cache struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open creates and opens the cache with the given configuration.
//
// # Description
//
// Opens BadgerDB at the configured path (creating the directory if
// needed), or in memory when InMemory is set. The caller must Close()
// the returned cache.
//
// # Inputs
//
//   - cfg: Cache configuration. Path is required unless InMemory is true.
//
// # Outputs
//
//   - *Cache: The opened cache.
//   - error: Non-nil if the path is invalid or the database cannot open.
func Open(cfg Config) (*Cache, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("localcache: path is required for persistent cache")
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("localcache: create data dir: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	}

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("localcache: open badger: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{db: db, logger: logger}, nil
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// SaveProfile writes the aggregate to its owner's slot synchronously.
func (c *Cache) SaveProfile(u *profile.User) error {
	if u == nil || u.Email == "" {
		return errors.New("localcache: profile without owner key")
	}
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("localcache: encode profile: %w", err)
	}
	return c.set(profilePrefix+u.Email, raw)
}

// LoadProfile returns the cached aggregate for the owner, or ErrNoEntry.
func (c *Cache) LoadProfile(ownerKey string) (*profile.User, error) {
	raw, err := c.get(profilePrefix + ownerKey)
	if err != nil {
		return nil, err
	}
	var u profile.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("localcache: decode profile: %w", err)
	}
	return &u, nil
}

// DeleteProfile removes the owner's cached aggregate.
func (c *Cache) DeleteProfile(ownerKey string) error {
	return c.delete(profilePrefix + ownerKey)
}

// SaveSession writes the active-session marker. Created at login.
func (c *Cache) SaveSession(s Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("localcache: encode session: %w", err)
	}
	return c.set(sessionKey, raw)
}

// LoadSession returns the session marker, or ErrNoEntry.
func (c *Cache) LoadSession() (Session, error) {
	var s Session
	raw, err := c.get(sessionKey)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("localcache: decode session: %w", err)
	}
	return s, nil
}

// ClearSession removes the session marker. Called at logout.
func (c *Cache) ClearSession() error {
	return c.delete(sessionKey)
}

// SaveRecordRef caches the provider-specific remote record identifier so
// the next sync can skip discovery-by-owner-key.
func (c *Cache) SaveRecordRef(provider, ownerKey, ref string) error {
	return c.set(recordRefPrefix+provider+"/"+ownerKey, []byte(ref))
}

// LoadRecordRef returns the cached record identifier, or ErrNoEntry.
func (c *Cache) LoadRecordRef(provider, ownerKey string) (string, error) {
	raw, err := c.get(recordRefPrefix + provider + "/" + ownerKey)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DeleteRecordRef drops a stale record identifier so the next sync falls
// back to discovery.
func (c *Cache) DeleteRecordRef(provider, ownerKey string) error {
	return c.delete(recordRefPrefix + provider + "/" + ownerKey)
}

// SaveConfigBlob writes the provider configuration blob.
func (c *Cache) SaveConfigBlob(raw []byte) error {
	return c.set(configKey, raw)
}

// LoadConfigBlob returns the configuration blob, or ErrNoEntry.
func (c *Cache) LoadConfigBlob() ([]byte, error) {
	return c.get(configKey)
}

func (c *Cache) set(key string, value []byte) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("localcache: write %q: %w", key, err)
	}
	return nil
}

func (c *Cache) get(key string) ([]byte, error) {
	var out []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNoEntry
	}
	if err != nil {
		return nil, fmt.Errorf("localcache: read %q: %w", key, err)
	}
	return out, nil
}

func (c *Cache) delete(key string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("localcache: delete %q: %w", key, err)
	}
	return nil
}
