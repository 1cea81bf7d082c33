// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"
)

// recordPrefix namespaces record keys inside the shared badger database.
const recordPrefix = "rec:"

// BadgerStore persists records in BadgerDB. Keys are
// "rec:<unixnano-zero-padded>:<id>" so an ascending key scan is a
// chronological scan.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a badger database at dir. An empty dir
// opens an in-memory database, used by tests.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// NewBadgerStore wraps an already-open database. The caller retains
// ownership; Close is a no-op path for shared databases.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func recordKey(rec *Record) []byte {
	// Zero-padded nanoseconds keep lexicographic order equal to time order.
	return []byte(fmt.Sprintf("%s%020d:%s", recordPrefix, rec.Timestamp.UnixNano(), rec.ID))
}

// Append persists one record.
func (s *BadgerStore) Append(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}
	return nil
}

// Query returns records matching the filter, newest first.
func (s *BadgerStore) Query(ctx context.Context, filter Filter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts from the highest key under the prefix.
		seek := []byte(recordPrefix + "\xff")
		for it.Seek(seek); it.ValidForPrefix([]byte(recordPrefix)); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("failed to decode record: %w", err)
			}
			if !matches(&rec, filter) {
				continue
			}
			out = append(out, rec)
			if len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func matches(rec *Record, filter Filter) bool {
	if filter.Actor != "" && rec.Actor != filter.Actor {
		return false
	}
	if filter.Command != "" && rec.Command != filter.Command {
		return false
	}
	if filter.Kind != "" && rec.Kind != filter.Kind {
		return false
	}
	if !filter.Since.IsZero() && rec.Timestamp.Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && !rec.Timestamp.Before(filter.Until) {
		return false
	}
	return true
}

// DeleteOlderThan removes records with timestamps before the cutoff.
func (s *BadgerStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	cutoffNanos := cutoff.UnixNano()

	// Collect keys first; deleting inside an iterator invalidates it.
	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(recordPrefix)); it.ValidForPrefix([]byte(recordPrefix)); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().KeyCopy(nil)
			nanos, ok := parseKeyNanos(key)
			if !ok {
				continue
			}
			if nanos >= cutoffNanos {
				// Keys are time-ordered; nothing later is stale.
				break
			}
			stale = append(stale, key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, key := range stale {
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete record: %w", err)
		}
		deleted++
	}
	return deleted, nil
}

func parseKeyNanos(key []byte) (int64, bool) {
	rest := strings.TrimPrefix(string(key), recordPrefix)
	idx := strings.IndexByte(rest, ':')
	if idx < 0 {
		return 0, false
	}
	nanos, err := strconv.ParseInt(rest[:idx], 10, 64)
	if err != nil {
		return 0, false
	}
	return nanos, true
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
