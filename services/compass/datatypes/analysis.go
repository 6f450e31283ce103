// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Hotspot categories used to group notable files in an Analysis.
const (
	HotspotEntrypoint = "entrypoint"
	HotspotAPI        = "api"
	HotspotRouter     = "router"
	HotspotConfig     = "config"
	HotspotDocs       = "docs"
)

// RankedFile is one source file with its importance score.
type RankedFile struct {
	Path     string  `json:"path"`
	Score    float64 `json:"score"`
	Language string  `json:"language"`
}

// Prerequisite is a concept the learner should know before reading the
// repository.
type Prerequisite struct {
	Concept     string `json:"concept"`
	Description string `json:"description"`
	// Difficulty is one of "beginner", "intermediate", "advanced".
	Difficulty string `json:"difficulty"`
}

// Analysis is the cached structural summary of one repository.
type Analysis struct {
	RepoID          string              `json:"repo_id"`
	Files           []RankedFile        `json:"files"`
	Hotspots        map[string][]string `json:"hotspots"`
	Prerequisites   []Prerequisite      `json:"prerequisites,omitempty"`
	Primer          string              `json:"primer,omitempty"`
	ReadTimeMinutes int                 `json:"read_time_minutes"`
}

// PlanStep is one unit of a study plan.
type PlanStep struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Minutes     int      `json:"minutes"`
	Paths       []string `json:"paths,omitempty"`
}

// StudyPlan is a generated reading plan bounded by a total minute budget.
type StudyPlan struct {
	Goal         string     `json:"goal"`
	TotalMinutes int        `json:"total_minutes"`
	Steps        []PlanStep `json:"steps"`
}

// Flashcard is one front/back study card.
type Flashcard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

// SearchHit is one code-search result. Preview is a short excerpt, never the
// full file, so tool results stay small enough to re-inject into the model's
// context window.
type SearchHit struct {
	FilePath    string  `json:"file_path"`
	Language    string  `json:"language"`
	Score       float64 `json:"score"`
	Preview     string  `json:"preview"`
	ChunkIndex  int     `json:"chunk_index"`
	TotalChunks int     `json:"total_chunks"`
}
