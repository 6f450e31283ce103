// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tools defines the fixed set of capabilities the turn orchestrator
// can invoke. The set is a closed enumeration dispatched by switch, so an
// unknown tool reference is a typed error rather than a silent map miss.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/datatypes"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/inference"
)

// ErrUnknownTool is returned when the model references a name outside the
// registry.
var ErrUnknownTool = errors.New("unknown tool")

// Name identifies one registry capability.
type Name string

const (
	NameAnalyzeStructure Name = "analyze_structure"
	NameSearchCode       Name = "search_code"
	NameConceptPrimer    Name = "concept_primer"
	NameSocraticQuestion Name = "socratic_question"
	NameStudyPlan        Name = "study_plan"
	NameFlashcards       Name = "generate_flashcards"
)

// Searcher is the vector-index surface the search_code tool consumes.
// Satisfied by *vector.CodeIndex.
type Searcher interface {
	Search(ctx context.Context, vec []float32, repoID string, topK int) ([]datatypes.SearchHit, error)
}

// StructureReporter summarizes a repository's structure for the model.
// Satisfied by *analyze.Analyzer.
type StructureReporter interface {
	Report(ctx context.Context, ref datatypes.RepoRef, cached *datatypes.Analysis) (string, error)
}

// Registry holds the tool handlers and their shared collaborators. Handlers
// share no mutable state with each other.
type Registry struct {
	embedder  inference.Embedder
	searcher  Searcher
	structure StructureReporter
	gen       *Generators
}

// NewRegistry creates the registry. Any collaborator may be nil, in which
// case the corresponding tool reports unavailability instead of panicking.
func NewRegistry(embedder inference.Embedder, searcher Searcher, structure StructureReporter, gen *Generators) *Registry {
	return &Registry{embedder: embedder, searcher: searcher, structure: structure, gen: gen}
}

// Definitions returns the tool-calling schema advertised to the model.
func (r *Registry) Definitions() []openai.Tool {
	fn := func(name Name, description string, params jsonschema.Definition) openai.Tool {
		return openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        string(name),
				Description: description,
				Parameters:  params,
			},
		}
	}

	noArgs := jsonschema.Definition{Type: jsonschema.Object, Properties: map[string]jsonschema.Definition{}}

	return []openai.Tool{
		fn(NameAnalyzeStructure,
			"Summarize the repository's structure: most important files, hotspots, and languages.",
			noArgs),
		fn(NameSearchCode,
			"Semantic search over the repository's source code. Returns file paths with short previews.",
			jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"query": {Type: jsonschema.String, Description: "What to look for"},
					"top_k": {Type: jsonschema.Integer, Description: "Number of results (default 5)"},
				},
				Required: []string{"query"},
			}),
		fn(NameConceptPrimer,
			"Generate a short primer explaining one programming concept in the context of this repository.",
			jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"concept": {Type: jsonschema.String, Description: "The concept to explain"},
				},
				Required: []string{"concept"},
			}),
		fn(NameSocraticQuestion,
			"Generate a Socratic question that probes the learner's understanding of a topic.",
			jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"topic": {Type: jsonschema.String, Description: "The topic to probe"},
				},
				Required: []string{"topic"},
			}),
		fn(NameStudyPlan,
			"Generate a study plan for the session goal within a fixed time budget.",
			noArgs),
		fn(NameFlashcards,
			"Generate exactly five flashcards for a topic.",
			jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"topic": {Type: jsonschema.String, Description: "The topic to make cards for"},
				},
				Required: []string{"topic"},
			}),
	}
}

// Dispatch runs one tool by name against the session snapshot and returns
// the textual result fed back into the model's context.
//
// Handlers never return structured payloads larger than a short summary; the
// search tool in particular returns previews, not full files, so results fit
// back into the context window.
func (r *Registry) Dispatch(ctx context.Context, name Name, rawArgs json.RawMessage, sess *datatypes.Session) (string, error) {
	switch name {
	case NameAnalyzeStructure:
		return r.analyzeStructure(ctx, sess)
	case NameSearchCode:
		return r.searchCode(ctx, rawArgs, sess)
	case NameConceptPrimer:
		var args struct {
			Concept string `json:"concept"`
		}
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return "", fmt.Errorf("concept_primer arguments: %w", err)
		}
		return r.gen.ConceptPrimer(ctx, args.Concept, sess)
	case NameSocraticQuestion:
		var args struct {
			Topic string `json:"topic"`
		}
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return "", fmt.Errorf("socratic_question arguments: %w", err)
		}
		return r.gen.SocraticQuestion(ctx, args.Topic, sess)
	case NameStudyPlan:
		plan, err := r.gen.StudyPlan(ctx, sess)
		if err != nil {
			return "", err
		}
		out, err := json.Marshal(plan)
		if err != nil {
			return "", fmt.Errorf("encoding study plan: %w", err)
		}
		return string(out), nil
	case NameFlashcards:
		var args struct {
			Topic string `json:"topic"`
		}
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return "", fmt.Errorf("generate_flashcards arguments: %w", err)
		}
		cards, err := r.gen.Flashcards(ctx, args.Topic, sess)
		if err != nil {
			return "", err
		}
		out, err := json.Marshal(cards)
		if err != nil {
			return "", fmt.Errorf("encoding flashcards: %w", err)
		}
		return string(out), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
}

func (r *Registry) analyzeStructure(ctx context.Context, sess *datatypes.Session) (string, error) {
	if r.structure == nil {
		return "Structure analysis is not available right now.", nil
	}
	return r.structure.Report(ctx, sess.Repo, sess.Analysis)
}

func (r *Registry) searchCode(ctx context.Context, rawArgs json.RawMessage, sess *datatypes.Session) (string, error) {
	var args struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return "", fmt.Errorf("search_code arguments: %w", err)
	}
	if r.searcher == nil || r.embedder == nil {
		return "Code search is not available right now.", nil
	}

	vec, err := r.embedder.Embed(ctx, args.Query)
	if err != nil {
		return "", fmt.Errorf("embedding search query: %w", err)
	}
	hits, err := r.searcher.Search(ctx, vec, sess.Repo.ID(), args.TopK)
	if err != nil {
		return "", fmt.Errorf("searching code: %w", err)
	}
	return FormatHits(args.Query, hits), nil
}

// FormatHits renders search hits for the model. An empty result set becomes
// a descriptive sentence so the model can relay it directly.
func FormatHits(query string, hits []datatypes.SearchHit) string {
	if len(hits) == 0 {
		return fmt.Sprintf("No indexed code matched %q. The repository may still be ingesting.", query)
	}
	out := fmt.Sprintf("Found %d matching chunks:\n", len(hits))
	for _, h := range hits {
		out += fmt.Sprintf("- %s (%s, chunk %d/%d, score %.2f):\n%s\n",
			h.FilePath, h.Language, h.ChunkIndex+1, h.TotalChunks, h.Score, h.Preview)
	}
	return out
}
