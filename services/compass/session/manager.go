// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/datatypes"
)

// Update carries a partial session mutation. Nil fields are left untouched,
// so concurrent updates to different fields merge instead of clobbering each
// other.
type Update struct {
	Goal       *string
	Analysis   *datatypes.Analysis
	StudyPlan  *datatypes.StudyPlan
	Flashcards []datatypes.Flashcard
	Struggles  []string
	Messages   []datatypes.Message
	Ingest     *datatypes.IngestState
}

// Manager maps session ids to live actors, rehydrating idle sessions from
// the durable store on demand.
//
// # Description
//
//	The manager is the only component that creates or destroys actors. A
//	session exists once Init has persisted it; its actor may come and go
//	(eviction, restart) without the session being lost.
type Manager struct {
	mu     sync.Mutex
	actors map[string]*Actor
	store  *Store
}

// NewManager returns a manager backed by the given store.
func NewManager(store *Store) *Manager {
	return &Manager{
		actors: make(map[string]*Actor),
		store:  store,
	}
}

// Init creates and persists a new session. Returns ErrAlreadyExists if the
// id is already live or already on disk; in that case nothing is written.
func (m *Manager) Init(sess *datatypes.Session) (*Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.actors[sess.ID]; ok {
		return nil, ErrAlreadyExists
	}
	exists, err := m.store.Has(sess.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyExists
	}

	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.LastActive = now
	if err := m.store.Put(sess); err != nil {
		return nil, err
	}
	a := newActor(sess, m.store)
	m.actors[sess.ID] = a
	return a, nil
}

// Actor returns the live actor for id, rehydrating it from the store if
// needed. Returns ErrNotFound for ids that were never created or have been
// evicted past retention.
func (m *Manager) Actor(id string) (*Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.actors[id]; ok {
		return a, nil
	}
	sess, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	a := newActor(sess, m.store)
	m.actors[id] = a
	return a, nil
}

// Snapshot returns a deep copy of the session's current state.
func (m *Manager) Snapshot(id string) (*datatypes.Session, error) {
	a, err := m.Actor(id)
	if err != nil {
		return nil, err
	}
	return a.Snapshot()
}

// ApplyUpdate merges the non-nil fields of upd into the session. Struggles
// and Messages append; the pointer fields replace.
func (m *Manager) ApplyUpdate(id string, upd Update) error {
	a, err := m.Actor(id)
	if err != nil {
		return err
	}
	return a.Mutate(func(sess *datatypes.Session) error {
		if upd.Goal != nil {
			sess.Goal = *upd.Goal
		}
		if upd.Analysis != nil {
			sess.Analysis = upd.Analysis
		}
		if upd.StudyPlan != nil {
			sess.StudyPlan = upd.StudyPlan
		}
		if upd.Flashcards != nil {
			sess.Flashcards = upd.Flashcards
		}
		if upd.Ingest != nil {
			sess.Ingest = upd.Ingest
		}
		if len(upd.Struggles) > 0 {
			sess.AddStruggles(upd.Struggles)
		}
		sess.Messages = append(sess.Messages, upd.Messages...)
		return nil
	})
}

// Touch refreshes the session's last-activity timestamp.
func (m *Manager) Touch(id string) error {
	a, err := m.Actor(id)
	if err != nil {
		return err
	}
	return a.Mutate(func(*datatypes.Session) error { return nil })
}

// Evict stops the session's actor (if live) and deletes its durable record.
// Used by the retention sweeper; safe to call for ids with no live actor.
func (m *Manager) Evict(id string) error {
	m.mu.Lock()
	if a, ok := m.actors[id]; ok {
		a.stop()
		delete(m.actors, id)
	}
	m.mu.Unlock()

	if err := m.store.Delete(id); err != nil {
		slog.Error("Failed to delete session record", "session", id, "error", err)
		return err
	}
	return nil
}

// Close stops every live actor. Durable state is untouched.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.actors {
		a.stop()
		delete(m.actors, id)
	}
}
