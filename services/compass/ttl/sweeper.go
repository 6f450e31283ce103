// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ttl evicts sessions that have been idle past the retention window.
package ttl

import (
	"log/slog"
	"sync"
	"time"
)

// Evictor tears down one session by id. Implemented by the session manager.
type Evictor interface {
	Evict(id string) error
}

// IdleLister reports session ids whose last activity predates the cutoff.
// Implemented by the session store.
type IdleLister interface {
	IdleSessionIDs(cutoff time.Time) ([]string, error)
}

// Sweeper periodically scans the store and evicts idle sessions.
type Sweeper struct {
	store     IdleLister
	evictor   Evictor
	retention time.Duration
	interval  time.Duration
	clock     Clock

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewSweeper creates a sweeper that evicts sessions idle for longer than
// retention, checking every interval.
func NewSweeper(store IdleLister, evictor Evictor, retention, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:     store,
		evictor:   evictor,
		retention: retention,
		interval:  interval,
		clock:     RealClock{},
	}
}

// WithClock overrides the sweeper's clock. Test hook.
func (s *Sweeper) WithClock(c Clock) *Sweeper {
	s.clock = c
	return s
}

// Start launches the background sweep loop. Calling Start on a running
// sweeper is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.done)
	slog.Info("Session sweeper started", "retention", s.retention, "interval", s.interval)
}

// Stop terminates the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Sweeper) loop(done chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.SweepOnce()
		case <-done:
			return
		}
	}
}

// SweepOnce evicts every session idle past retention and returns the number
// evicted. Exported so tests and admin paths can trigger a sweep directly.
func (s *Sweeper) SweepOnce() int {
	cutoff := s.clock.Now().Add(-s.retention)
	ids, err := s.store.IdleSessionIDs(cutoff)
	if err != nil {
		slog.Error("Idle session scan failed", "error", err)
		return 0
	}
	evicted := 0
	for _, id := range ids {
		if err := s.evictor.Evict(id); err != nil {
			slog.Warn("Failed to evict idle session", "session", id, "error", err)
			continue
		}
		evicted++
	}
	if evicted > 0 {
		slog.Info("Evicted idle sessions", "count", evicted)
	}
	return evicted
}
