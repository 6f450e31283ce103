// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session implements the addressable, durable, single-threaded owner
// of one learner's session. All reads and mutations for an id are posted to
// that id's actor goroutine, so read-modify-write sequences are race-free by
// construction rather than by locking.
package session

import (
	"log/slog"
	"time"

	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/datatypes"
)

// Subscriber receives realtime events for a session. Implemented by the
// WebSocket gateway's connection handles.
type Subscriber interface {
	Notify(ev datatypes.ServerEvent)
}

// state is owned exclusively by the actor goroutine.
type state struct {
	sess  *datatypes.Session
	conns map[Subscriber]struct{}
	store *Store
}

// Actor owns one session id. At most one live actor exists per id (the
// Manager enforces this), so its mailbox goroutine is the single writer of
// the session's state.
type Actor struct {
	id       string
	mailbox  chan func(*state)
	done     chan struct{}
	turnSlot chan struct{}
}

func newActor(sess *datatypes.Session, store *Store) *Actor {
	a := &Actor{
		id:       sess.ID,
		mailbox:  make(chan func(*state)),
		done:     make(chan struct{}),
		turnSlot: make(chan struct{}, 1),
	}
	st := &state{
		sess:  sess,
		conns: make(map[Subscriber]struct{}),
		store: store,
	}
	go a.run(st)
	return a
}

func (a *Actor) run(st *state) {
	for {
		select {
		case fn := <-a.mailbox:
			fn(st)
		case <-a.done:
			return
		}
	}
}

// post runs fn on the actor goroutine and waits for completion. Returns
// ErrStopped if the actor has been torn down.
func (a *Actor) post(fn func(*state) error) error {
	reply := make(chan error, 1)
	select {
	case a.mailbox <- func(st *state) { reply <- fn(st) }:
		return <-reply
	case <-a.done:
		return ErrStopped
	}
}

// Snapshot returns a deep copy of the session, safe to use outside the
// actor.
func (a *Actor) Snapshot() (*datatypes.Session, error) {
	var snap *datatypes.Session
	err := a.post(func(st *state) error {
		snap = st.sess.Clone()
		return nil
	})
	return snap, err
}

// Mutate applies fn to the session, refreshes last-activity, and persists.
// fn must not call back into the actor.
func (a *Actor) Mutate(fn func(sess *datatypes.Session) error) error {
	return a.post(func(st *state) error {
		if err := fn(st.sess); err != nil {
			return err
		}
		st.sess.LastActive = time.Now()
		if err := st.store.Put(st.sess); err != nil {
			slog.Error("Failed to persist session", "session", a.id, "error", err)
			return err
		}
		return nil
	})
}

// TryAcquireTurn claims the session's single turn slot without blocking.
// It returns false while another turn is in flight or after the actor has
// stopped; callers reject the request instead of queueing. Turns are
// serialized per session; other sessions are unaffected.
func (a *Actor) TryAcquireTurn() bool {
	select {
	case <-a.done:
		return false
	default:
	}
	select {
	case a.turnSlot <- struct{}{}:
		return true
	default:
		return false
	}
}

// ReleaseTurn frees the turn slot.
func (a *Actor) ReleaseTurn() {
	select {
	case <-a.turnSlot:
	default:
	}
}

// Attach registers a realtime subscriber. The session survives its
// connections; detaching the last one does not tear the actor down.
func (a *Actor) Attach(sub Subscriber) error {
	return a.post(func(st *state) error {
		st.conns[sub] = struct{}{}
		return nil
	})
}

// Detach drops a subscriber handle.
func (a *Actor) Detach(sub Subscriber) {
	_ = a.post(func(st *state) error {
		delete(st.conns, sub)
		return nil
	})
}

// Broadcast delivers an event to every attached subscriber. Calls from one
// goroutine are delivered in order.
func (a *Actor) Broadcast(ev datatypes.ServerEvent) {
	_ = a.post(func(st *state) error {
		for sub := range st.conns {
			sub.Notify(ev)
		}
		return nil
	})
}

// stop terminates the mailbox goroutine. Pending posts fail with ErrStopped.
func (a *Actor) stop() {
	close(a.done)
}
