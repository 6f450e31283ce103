// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/datatypes"
)

func newTestManager(t *testing.T) (*Manager, *Store) {
	t.Helper()
	store, err := OpenInMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	m := NewManager(store)
	t.Cleanup(m.Close)
	return m, store
}

func testSession(id string) *datatypes.Session {
	return &datatypes.Session{
		ID:   id,
		Repo: datatypes.RepoRef{Owner: "octo", Name: "demo"},
		Goal: "understand the request lifecycle",
	}
}

// ============================================================================
// Lifecycle Tests
// ============================================================================

func TestManager_InitAndSnapshot(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Init(testSession("s1"))
	require.NoError(t, err)

	snap, err := m.Snapshot("s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", snap.ID)
	assert.Equal(t, "octo/demo", snap.Repo.ID())
	assert.False(t, snap.CreatedAt.IsZero())
	assert.False(t, snap.LastActive.IsZero())
}

func TestManager_InitDuplicateFails(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Init(testSession("dup"))
	require.NoError(t, err)

	_, err = m.Init(testSession("dup"))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestManager_UnknownSessionFails(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Snapshot("ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	err = m.ApplyUpdate("ghost", Update{Struggles: []string{"closures"}})
	assert.ErrorIs(t, err, ErrNotFound, "updates to unknown sessions must have no side effect")
}

func TestManager_RehydratesFromStore(t *testing.T) {
	store, err := OpenInMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	m1 := NewManager(store)
	_, err = m1.Init(testSession("persisted"))
	require.NoError(t, err)
	require.NoError(t, m1.ApplyUpdate("persisted", Update{Struggles: []string{"goroutines"}}))
	m1.Close()

	// A fresh manager over the same store must recover the session.
	m2 := NewManager(store)
	defer m2.Close()
	snap, err := m2.Snapshot("persisted")
	require.NoError(t, err)
	assert.Equal(t, []string{"goroutines"}, snap.Struggles)
}

func TestManager_EvictRemovesDurableRecord(t *testing.T) {
	m, store := newTestManager(t)

	_, err := m.Init(testSession("gone"))
	require.NoError(t, err)
	require.NoError(t, m.Evict("gone"))

	_, err = m.Snapshot("gone")
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := store.Has("gone")
	require.NoError(t, err)
	assert.False(t, exists)
}

// ============================================================================
// Update Merge Tests
// ============================================================================

func TestApplyUpdate_MergesOnlyProvidedFields(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Init(testSession("merge"))
	require.NoError(t, err)

	goal := "trace a request end to end"
	require.NoError(t, m.ApplyUpdate("merge", Update{Goal: &goal}))
	require.NoError(t, m.ApplyUpdate("merge", Update{
		Analysis: &datatypes.Analysis{RepoID: "octo/demo", ReadTimeMinutes: 30},
	}))

	snap, err := m.Snapshot("merge")
	require.NoError(t, err)
	assert.Equal(t, goal, snap.Goal, "the analysis update must not clear the goal")
	require.NotNil(t, snap.Analysis)
	assert.Equal(t, 30, snap.Analysis.ReadTimeMinutes)
}

func TestApplyUpdate_AppendsMessagesAndStruggles(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Init(testSession("append"))
	require.NoError(t, err)

	require.NoError(t, m.ApplyUpdate("append", Update{
		Messages:  []datatypes.Message{{Role: datatypes.RoleUser, Content: "hi"}},
		Struggles: []string{"interfaces"},
	}))
	require.NoError(t, m.ApplyUpdate("append", Update{
		Messages:  []datatypes.Message{{Role: datatypes.RoleAssistant, Content: "hello"}},
		Struggles: []string{"interfaces", "channels"},
	}))

	snap, err := m.Snapshot("append")
	require.NoError(t, err)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "hi", snap.Messages[0].Content)
	assert.Equal(t, []string{"interfaces", "channels"}, snap.Struggles,
		"struggles must deduplicate while preserving insertion order")
}

func TestApplyUpdate_ConcurrentWritersAllLand(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Init(testSession("race"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.ApplyUpdate("race", Update{
				Messages: []datatypes.Message{{Role: datatypes.RoleUser, Content: "m"}},
			})
		}()
	}
	wg.Wait()

	snap, err := m.Snapshot("race")
	require.NoError(t, err)
	assert.Len(t, snap.Messages, 20, "every concurrent append must survive")
}

// ============================================================================
// Actor Tests
// ============================================================================

func TestActor_SnapshotIsACopy(t *testing.T) {
	m, _ := newTestManager(t)
	a, err := m.Init(testSession("copy"))
	require.NoError(t, err)

	snap, err := a.Snapshot()
	require.NoError(t, err)
	snap.Goal = "mutated locally"

	again, err := a.Snapshot()
	require.NoError(t, err)
	assert.NotEqual(t, "mutated locally", again.Goal)
}

func TestActor_TurnSlotSerializesTurns(t *testing.T) {
	m, _ := newTestManager(t)
	a, err := m.Init(testSession("turns"))
	require.NoError(t, err)

	require.True(t, a.TryAcquireTurn())
	assert.False(t, a.TryAcquireTurn(), "a second turn must be rejected, not queued")

	a.ReleaseTurn()
	require.True(t, a.TryAcquireTurn(), "the slot must free up after release")
	a.ReleaseTurn()
}

func TestActor_TurnSlotUnavailableAfterStop(t *testing.T) {
	m, _ := newTestManager(t)
	a, err := m.Init(testSession("turns-stopped"))
	require.NoError(t, err)

	require.NoError(t, m.Evict("turns-stopped"))
	assert.False(t, a.TryAcquireTurn())
}

type recordingSubscriber struct {
	mu     sync.Mutex
	events []datatypes.ServerEvent
}

func (r *recordingSubscriber) Notify(ev datatypes.ServerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSubscriber) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func TestActor_BroadcastReachesAllSubscribersInOrder(t *testing.T) {
	m, _ := newTestManager(t)
	a, err := m.Init(testSession("fanout"))
	require.NoError(t, err)

	s1 := &recordingSubscriber{}
	s2 := &recordingSubscriber{}
	require.NoError(t, a.Attach(s1))
	require.NoError(t, a.Attach(s2))

	a.Broadcast(datatypes.StatusEvent("thinking"))
	a.Broadcast(datatypes.ResponseEvent("done", time.Now()))

	want := []string{datatypes.ServerEventStatus, datatypes.ServerEventTextResponse}
	assert.Equal(t, want, s1.types())
	assert.Equal(t, want, s2.types())

	a.Detach(s2)
	a.Broadcast(datatypes.StatusEvent("again"))
	assert.Len(t, s2.types(), 2, "detached subscribers must stop receiving events")
	assert.Len(t, s1.types(), 3)
}

func TestActor_StoppedActorRejectsWork(t *testing.T) {
	m, _ := newTestManager(t)
	a, err := m.Init(testSession("stopped"))
	require.NoError(t, err)
	require.NoError(t, m.Evict("stopped"))

	_, err = a.Snapshot()
	assert.ErrorIs(t, err, ErrStopped)
}

// ============================================================================
// Store Tests
// ============================================================================

func TestStore_IdleSessionIDs(t *testing.T) {
	store, err := OpenInMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	old := testSession("old")
	old.LastActive = time.Now().Add(-48 * time.Hour)
	fresh := testSession("fresh")
	fresh.LastActive = time.Now()
	require.NoError(t, store.Put(old))
	require.NoError(t, store.Put(fresh))

	ids, err := store.IdleSessionIDs(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids)
}
