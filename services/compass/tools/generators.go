// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/datatypes"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/inference"
)

const (
	// FlashcardCount is the exact number of cards every generation returns.
	FlashcardCount = 5

	// PlanBudgetMinutes is the fixed total duration budget for study plans.
	PlanBudgetMinutes = 120

	generatorSystem = "You are a programming tutor generating study material. " +
		"Answer with exactly the JSON shape requested, no prose around it."
)

// Generators produces study material through templated prompts against the
// hosted model. Every structured output is parsed defensively: a response
// that is not valid JSON in the expected shape falls back to a documented
// default instead of aborting the turn.
type Generators struct {
	chat inference.ChatClient
}

// NewGenerators creates the generator set.
func NewGenerators(chat inference.ChatClient) *Generators {
	return &Generators{chat: chat}
}

// ConceptPrimer returns a short free-text explanation of one concept in the
// context of the session's repository and goal.
func (g *Generators) ConceptPrimer(ctx context.Context, concept string, sess *datatypes.Session) (string, error) {
	prompt := fmt.Sprintf(
		"The learner is studying the repository %s with the goal %q.\n"+
			"Write a primer of at most 200 words explaining %q for them. Plain text only.",
		sess.Repo.ID(), sess.Goal, concept)
	text, err := g.chat.Complete(ctx, generatorSystem, prompt)
	if err != nil {
		return "", fmt.Errorf("generating primer for %q: %w", concept, err)
	}
	return strings.TrimSpace(text), nil
}

// SocraticQuestion returns one probing question about the topic. If the
// model's output does not parse as the expected shape, the raw text is
// wrapped as a best-effort question rather than discarded.
func (g *Generators) SocraticQuestion(ctx context.Context, topic string, sess *datatypes.Session) (string, error) {
	prompt := fmt.Sprintf(
		"The learner is studying the repository %s with the goal %q.\n"+
			"Generate one Socratic question probing their understanding of %q.\n"+
			`Respond as JSON: {"question": "..."}`,
		sess.Repo.ID(), sess.Goal, topic)
	text, err := g.chat.Complete(ctx, generatorSystem, prompt)
	if err != nil {
		return "", fmt.Errorf("generating question for %q: %w", topic, err)
	}

	var out struct {
		Question string `json:"question"`
	}
	if err := parseJSON(text, &out); err != nil || out.Question == "" {
		slog.Warn("Socratic question output did not parse, wrapping raw text", "topic", topic)
		return bestEffortQuestion(text, topic), nil
	}
	return out.Question, nil
}

// StudyPlan returns a plan for the session goal within PlanBudgetMinutes.
// Fallback on parse failure: a single step covering the whole budget.
func (g *Generators) StudyPlan(ctx context.Context, sess *datatypes.Session) (*datatypes.StudyPlan, error) {
	var paths []string
	if sess.Analysis != nil {
		for i, f := range sess.Analysis.Files {
			if i >= 10 {
				break
			}
			paths = append(paths, f.Path)
		}
	}
	prompt := fmt.Sprintf(
		"The learner wants to %q in the repository %s.\n"+
			"Key files: %s\nConcepts they struggled with: %s\n"+
			"Produce a study plan totaling %d minutes.\n"+
			`Respond as JSON: {"steps": [{"title": "...", "description": "...", "minutes": 30, "paths": ["..."]}]}`,
		sess.Goal, sess.Repo.ID(), strings.Join(paths, ", "), strings.Join(sess.Struggles, ", "),
		PlanBudgetMinutes)

	text, err := g.chat.Complete(ctx, generatorSystem, prompt)
	if err != nil {
		return nil, fmt.Errorf("generating study plan: %w", err)
	}

	var out struct {
		Steps []datatypes.PlanStep `json:"steps"`
	}
	if err := parseJSON(text, &out); err != nil || len(out.Steps) == 0 {
		slog.Warn("Study plan output did not parse, using fallback", "session", sess.ID)
		return &datatypes.StudyPlan{
			Goal:         sess.Goal,
			TotalMinutes: PlanBudgetMinutes,
			Steps: []datatypes.PlanStep{{
				Title:       "Read the key files",
				Description: "Work through the repository's highest-ranked files top to bottom.",
				Minutes:     PlanBudgetMinutes,
				Paths:       paths,
			}},
		}, nil
	}

	total := 0
	for _, s := range out.Steps {
		total += s.Minutes
	}
	return &datatypes.StudyPlan{Goal: sess.Goal, TotalMinutes: total, Steps: out.Steps}, nil
}

// Flashcards returns exactly FlashcardCount cards for the topic, or the
// documented empty-list fallback when the output cannot be parsed into that
// shape. Never 1-4 and never more than 5.
func (g *Generators) Flashcards(ctx context.Context, topic string, sess *datatypes.Session) ([]datatypes.Flashcard, error) {
	if topic == "" {
		topic = sess.Goal
	}
	prompt := fmt.Sprintf(
		"The learner is studying the repository %s with the goal %q.\n"+
			"Concepts they struggled with: %s\n"+
			"Generate exactly %d flashcards about %q.\n"+
			`Respond as JSON: {"cards": [{"front": "...", "back": "..."}]}`,
		sess.Repo.ID(), sess.Goal, strings.Join(sess.Struggles, ", "), FlashcardCount, topic)

	text, err := g.chat.Complete(ctx, generatorSystem, prompt)
	if err != nil {
		return nil, fmt.Errorf("generating flashcards: %w", err)
	}

	var out struct {
		Cards []datatypes.Flashcard `json:"cards"`
	}
	if err := parseJSON(text, &out); err != nil || len(out.Cards) < FlashcardCount {
		slog.Warn("Flashcard output did not parse to five cards, falling back to empty list",
			"topic", topic, "parsed", len(out.Cards))
		return []datatypes.Flashcard{}, nil
	}
	return out.Cards[:FlashcardCount], nil
}

// Prerequisites infers concepts a learner should know before reading the
// repository. Fallback on parse failure: empty list.
func (g *Generators) Prerequisites(ctx context.Context, ref datatypes.RepoRef, languages []string) ([]datatypes.Prerequisite, error) {
	prompt := fmt.Sprintf(
		"The repository %s is written in: %s.\n"+
			"List up to 5 concepts a learner should know before reading it.\n"+
			`Respond as JSON: {"prerequisites": [{"concept": "...", "description": "...", "difficulty": "beginner|intermediate|advanced"}]}`,
		ref.ID(), strings.Join(languages, ", "))

	text, err := g.chat.Complete(ctx, generatorSystem, prompt)
	if err != nil {
		return nil, fmt.Errorf("generating prerequisites: %w", err)
	}

	var out struct {
		Prerequisites []datatypes.Prerequisite `json:"prerequisites"`
	}
	if err := parseJSON(text, &out); err != nil {
		slog.Warn("Prerequisite output did not parse, using empty list", "repo", ref.ID())
		return []datatypes.Prerequisite{}, nil
	}
	return out.Prerequisites, nil
}

// parseJSON unmarshals model output after stripping markdown code fences.
func parseJSON(text string, out any) error {
	return json.Unmarshal([]byte(stripFences(text)), out)
}

// stripFences removes a surrounding ```json ... ``` block if present.
func stripFences(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}

// bestEffortQuestion turns arbitrary model text into a question.
func bestEffortQuestion(text, topic string) string {
	t := strings.TrimSpace(stripFences(text))
	if t == "" {
		return fmt.Sprintf("Can you explain how %s works in this codebase?", topic)
	}
	if !strings.HasSuffix(t, "?") {
		t += "?"
	}
	return t
}
