// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"regexp"
	"strings"

	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/datatypes"
)

// maxConceptsPerTurn caps concept extraction for one utterance.
const maxConceptsPerTurn = 5

// Classifier reports whether an utterance indicates the learner is
// struggling. It is a swappable function so the substring heuristic can be
// replaced by a model-based classifier without touching callers.
type Classifier func(utterance string) bool

// struggleMarkers are the confusion phrasings the default classifier
// matches. Substring matching on lowercased input.
var struggleMarkers = []string{
	"i don't understand",
	"i dont understand",
	"i'm confused",
	"im confused",
	"confusing",
	"makes no sense",
	"doesn't make sense",
	"i'm lost",
	"im lost",
	"what is",
	"what does",
	"why does",
	"can you explain",
	"not sure",
	"don't get",
	"dont get",
}

// DefaultClassifier is the substring-based struggle heuristic.
func DefaultClassifier(utterance string) bool {
	lower := strings.ToLower(utterance)
	for _, marker := range struggleMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

var (
	backtickPattern   = regexp.MustCompile("`([^`]{2,60})`")
	identifierPattern = regexp.MustCompile(`\b(?:[a-z]+[A-Z][A-Za-z0-9]*|[A-Z][a-z0-9]+[A-Z][A-Za-z0-9]*|[a-z]+_[a-z0-9_]+)\b`)
)

// ExtractConcepts pulls candidate concept tokens from recent conversation
// history: backticked spans first, then code-shaped identifiers (camelCase
// or snake_case). Deduplicated, insertion-ordered, capped at
// maxConceptsPerTurn.
func ExtractConcepts(utterance string, history []datatypes.Message) []string {
	// The utterance plus the last few messages, newest first.
	texts := []string{utterance}
	for i := len(history) - 1; i >= 0 && len(texts) < 4; i-- {
		texts = append(texts, history[i].Content)
	}

	seen := make(map[string]bool)
	var concepts []string
	add := func(c string) {
		c = strings.TrimSpace(c)
		if c == "" || seen[strings.ToLower(c)] || len(concepts) >= maxConceptsPerTurn {
			return
		}
		seen[strings.ToLower(c)] = true
		concepts = append(concepts, c)
	}

	for _, text := range texts {
		for _, m := range backtickPattern.FindAllStringSubmatch(text, -1) {
			add(m[1])
		}
	}
	for _, text := range texts {
		for _, m := range identifierPattern.FindAllString(text, -1) {
			add(m)
		}
	}
	return concepts
}

// DetectStruggles applies the classifier to the utterance and, on a match,
// returns the candidate concepts to add to the session's struggle set.
func DetectStruggles(classify Classifier, utterance string, history []datatypes.Message) []string {
	if classify == nil {
		classify = DefaultClassifier
	}
	if !classify(utterance) {
		return nil
	}
	return ExtractConcepts(utterance, history)
}
