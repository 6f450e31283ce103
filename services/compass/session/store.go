// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/datatypes"
)

// keyPrefix namespaces session records in the key-value store.
const keyPrefix = "session/"

// Store is the durable per-session key-value store backing the actors.
// Values are JSON-encoded Session records.
type Store struct {
	db *badger.DB
}

// OpenStore opens a persistent store at the given directory.
func OpenStore(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening session store at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemoryStore opens a store without disk persistence, for tests.
func OpenInMemoryStore() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening in-memory session store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func sessionKey(id string) []byte {
	return []byte(keyPrefix + id)
}

// Put writes one session record.
func (s *Store) Put(sess *datatypes.Session) error {
	value, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", sess.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(sess.ID), value)
	})
	if err != nil {
		return fmt.Errorf("persisting session %s: %w", sess.ID, err)
	}
	return nil
}

// Get reads one session record. Returns ErrNotFound for unknown ids.
func (s *Store) Get(id string) (*datatypes.Session, error) {
	var sess datatypes.Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sess)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", id, err)
	}
	return &sess, nil
}

// Has reports whether a session record exists.
func (s *Store) Has(id string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(sessionKey(id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking session %s: %w", id, err)
	}
	return true, nil
}

// Delete removes one session record. Deleting an absent id is a no-op.
func (s *Store) Delete(id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(sessionKey(id))
	})
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

// IdleSessionIDs returns ids whose last activity is before the cutoff.
// Used by the periodic sweep.
func (s *Store) IdleSessionIDs(cutoff time.Time) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var sess datatypes.Session
				if err := json.Unmarshal(val, &sess); err != nil {
					// A corrupt record should not wedge the sweep.
					slog.Warn("Skipping undecodable session record", "key", string(item.Key()), "error", err)
					return nil
				}
				if sess.LastActive.Before(cutoff) {
					ids = append(ids, sess.ID)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning idle sessions: %w", err)
	}
	return ids, nil
}
