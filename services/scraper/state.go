// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scraper

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const statePrefix = "protocol:"

// StateConfig configures the resume state database.
type StateConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps state in memory only. Useful for testing.
	InMemory bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
}

// State records which protocol pages have been saved, so interrupted runs
// resume without refetching.
//
// # Thread Safety
//
// Safe for concurrent use.
type State struct {
	db *badger.DB
}

// ProtocolRecord is the value stored per scraped protocol URL.
type ProtocolRecord struct {
	File    string    `json:"file"`
	SavedAt time.Time `json:"saved_at"`
}

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

// OpenState opens or creates the state database.
func OpenState(cfg StateConfig) (*State, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent state")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create state directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	return &State{db: db}, nil
}

// Seen reports whether protocolURL has been saved before.
func (s *State) Seen(protocolURL string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(statePrefix + protocolURL))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read state for %s: %w", protocolURL, err)
	}
	return true, nil
}

// Record marks protocolURL as saved to file.
func (s *State) Record(protocolURL, file string) error {
	value, err := json.Marshal(ProtocolRecord{File: file, SavedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal state record: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(statePrefix+protocolURL), value)
	})
	if err != nil {
		return fmt.Errorf("write state for %s: %w", protocolURL, err)
	}
	return nil
}

// Lookup returns the record for protocolURL, or nil when none exists.
func (s *State) Lookup(protocolURL string) (*ProtocolRecord, error) {
	var rec *ProtocolRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(statePrefix + protocolURL))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec = &ProtocolRecord{}
			return json.Unmarshal(val, rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state for %s: %w", protocolURL, err)
	}
	return rec, nil
}

// Count returns the number of recorded protocols.
func (s *State) Count() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(statePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}
