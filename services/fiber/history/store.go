// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history keeps committed fiber snapshots in an embedded BadgerDB.
//
// Watch mode records one snapshot per commit so earlier trees can be
// inspected after the fact. Snapshots are stored under their cycle ID with a
// time-ordered index next to them:
//
//	snap/<cycle_id>              -> snapshot JSON
//	idx/<unix_nanos>/<cycle_id>  -> cycle_id
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianFiber/services/fiber/reconciler"
)

var (
	// ErrNotFound is returned by Get for an unknown cycle ID.
	ErrNotFound = errors.New("snapshot not found")

	// ErrInvalidSnapshot is returned by Put for a nil or unverified snapshot.
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)

const (
	snapPrefix = "snap/"
	idxPrefix  = "idx/"
)

// Config holds configuration for a Store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Useful for tests.
	InMemory bool

	// SyncWrites makes every Put durable before it returns.
	SyncWrites bool

	// Retain bounds the number of snapshots kept; the oldest are evicted
	// first. Zero keeps everything.
	Retain int

	// Logger receives BadgerDB's internal logs. If nil they are discarded.
	Logger *slog.Logger
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Store is a snapshot history.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *badger.DB
	retain int
}

// Open opens or creates a store.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*Store - The open store. Caller must call Close.
//	error - Non-nil if the path is missing or the database cannot open.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent history")
	}
	if cfg.Retain < 0 {
		return nil, fmt.Errorf("retain must not be negative, got %d", cfg.Retain)
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create history directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	return &Store{db: db, retain: cfg.Retain}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put records snap. Storing a cycle ID twice overwrites the snapshot and
// keeps a single index entry.
//
// Outputs:
//
//	error - ErrInvalidSnapshot if snap is nil or fails Verify, or a
//	        database error.
func (s *Store) Put(snap *reconciler.Snapshot) error {
	if !snap.Verify() {
		return ErrInvalidSnapshot
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := s.dropIndex(txn, snap.CycleID); err != nil {
			return err
		}
		if err := txn.Set([]byte(snapPrefix+snap.CycleID), data); err != nil {
			return err
		}
		return txn.Set(indexKey(snap), []byte(snap.CycleID))
	})
	if err != nil {
		return fmt.Errorf("put snapshot %s: %w", snap.CycleID, err)
	}
	return s.evict()
}

// Get returns the snapshot of cycleID.
func (s *Store) Get(cycleID string) (*reconciler.Snapshot, error) {
	var snap reconciler.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapPrefix + cycleID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// List returns up to limit cycle IDs, newest first. A limit <= 0 returns
// all of them.
func (s *Store) List(limit int) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(idxPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration must seek past the last key with the prefix.
		for it.Seek([]byte(idxPrefix + "\xff")); it.ValidForPrefix(opts.Prefix); it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				ids = append(ids, string(val))
				return nil
			}); err != nil {
				return err
			}
			if limit > 0 && len(ids) == limit {
				break
			}
		}
		return nil
	})
	return ids, err
}

// Len returns the number of stored snapshots.
func (s *Store) Len() (int, error) {
	ids, err := s.List(0)
	return len(ids), err
}

// evict deletes the oldest snapshots beyond the retain bound.
func (s *Store) evict() error {
	if s.retain == 0 {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(idxPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)

		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for i := 0; i < len(keys)-s.retain; i++ {
			id := keys[i][strings.LastIndexByte(string(keys[i]), '/')+1:]
			if err := txn.Delete(keys[i]); err != nil {
				return err
			}
			if err := txn.Delete(append([]byte(snapPrefix), id...)); err != nil {
				return err
			}
		}
		return nil
	})
}

// dropIndex removes the index entry of cycleID, if any.
func (s *Store) dropIndex(txn *badger.Txn, cycleID string) error {
	item, err := txn.Get([]byte(snapPrefix + cycleID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var old reconciler.Snapshot
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &old)
	}); err != nil {
		return err
	}
	return txn.Delete(indexKey(&old))
}

// indexKey orders snapshots by commit time; zero-padding keeps the byte
// order equal to numeric order.
func indexKey(snap *reconciler.Snapshot) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", idxPrefix, snap.Timestamp.UnixNano(), snap.CycleID))
}
