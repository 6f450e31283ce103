// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides the data structures shared across the compass
// service: sessions, messages, reasoning steps, repository analyses, and the
// JSON-framed realtime events.
package datatypes

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// StepKind identifies one unit of the orchestrator's intermediate work.
type StepKind string

const (
	// StepToolInvoked is emitted just before a tool handler runs.
	StepToolInvoked StepKind = "tool_invoked"

	// StepToolResult is emitted after a tool handler returns.
	StepToolResult StepKind = "tool_result"

	// StepThinking carries free-text progress notes (e.g. transcription).
	StepThinking StepKind = "thinking"
)

// ReasoningStep is one observable unit of a turn's intermediate work.
//
// Steps for a turn are ordered by emission time and append-only until the
// turn completes.
type ReasoningStep struct {
	Kind      StepKind        `json:"kind"`
	Tool      string          `json:"tool,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Message is one conversation entry. Steps is only populated for assistant
// messages produced through tool-augmented turns.
type Message struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
	Steps     []ReasoningStep `json:"steps,omitempty"`
}

// RepoRef identifies a hosted repository and the ref to read from.
type RepoRef struct {
	Owner  string `json:"owner"`
	Name   string `json:"name"`
	Branch string `json:"branch,omitempty"`
}

// ID returns the canonical "owner/name" form used as the repository
// identifier in the vector index and in analyses.
func (r RepoRef) ID() string {
	return r.Owner + "/" + r.Name
}

// Ref returns the branch to read from, defaulting to "main".
func (r RepoRef) Ref() string {
	if r.Branch == "" {
		return "main"
	}
	return r.Branch
}

func (r RepoRef) String() string {
	return fmt.Sprintf("%s/%s@%s", r.Owner, r.Name, r.Ref())
}

// IngestState is the resumable indexing cursor for a session's repository.
// NextIndex is the position in the sorted ingestible file list where the
// next batch starts.
type IngestState struct {
	NextIndex    int       `json:"next_index"`
	FilesDone    int       `json:"files_done"`
	FilesFailed  int       `json:"files_failed"`
	ChunksStored int       `json:"chunks_stored"`
	Complete     bool      `json:"complete"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Session is one learner's ongoing tutoring conversation about one
// repository. Exactly one live copy exists per id; all mutations are
// serialized by the owning session actor.
type Session struct {
	ID         string       `json:"id"`
	Repo       RepoRef      `json:"repo"`
	Goal       string       `json:"goal"`
	Messages   []Message    `json:"messages"`
	Struggles  []string     `json:"struggles,omitempty"`
	Analysis   *Analysis    `json:"analysis,omitempty"`
	StudyPlan  *StudyPlan   `json:"study_plan,omitempty"`
	Flashcards []Flashcard  `json:"flashcards,omitempty"`
	Ingest     *IngestState `json:"ingest,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	LastActive time.Time    `json:"last_active"`
}

// AddStruggles appends concepts not already tracked, preserving insertion
// order. Returns the number of newly added concepts.
func (s *Session) AddStruggles(concepts []string) int {
	seen := make(map[string]bool, len(s.Struggles))
	for _, c := range s.Struggles {
		seen[c] = true
	}
	added := 0
	for _, c := range concepts {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		s.Struggles = append(s.Struggles, c)
		added++
	}
	return added
}

// Clone returns a deep copy safe to hand outside the owning actor. No slice
// or map is shared with the original.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		cp.Messages[i] = m
		if m.Steps != nil {
			steps := make([]ReasoningStep, len(m.Steps))
			for j, step := range m.Steps {
				steps[j] = step
				steps[j].Payload = append(json.RawMessage(nil), step.Payload...)
			}
			cp.Messages[i].Steps = steps
		}
	}
	cp.Struggles = append([]string(nil), s.Struggles...)
	cp.Flashcards = append([]Flashcard(nil), s.Flashcards...)
	if s.Ingest != nil {
		ing := *s.Ingest
		cp.Ingest = &ing
	}
	if s.Analysis != nil {
		a := *s.Analysis
		a.Files = append([]RankedFile(nil), s.Analysis.Files...)
		a.Prerequisites = append([]Prerequisite(nil), s.Analysis.Prerequisites...)
		if s.Analysis.Hotspots != nil {
			a.Hotspots = make(map[string][]string, len(s.Analysis.Hotspots))
			for k, v := range s.Analysis.Hotspots {
				a.Hotspots[k] = append([]string(nil), v...)
			}
		}
		cp.Analysis = &a
	}
	if s.StudyPlan != nil {
		p := *s.StudyPlan
		p.Steps = make([]PlanStep, len(s.StudyPlan.Steps))
		for i, step := range s.StudyPlan.Steps {
			p.Steps[i] = step
			p.Steps[i].Paths = append([]string(nil), step.Paths...)
		}
		cp.StudyPlan = &p
	}
	return &cp
}
