// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package analyze builds the structural summary of a repository: ranked
// files, hotspot groups, inferred prerequisites, and a primer.
package analyze

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/datatypes"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/ingest"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/repo"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/tools"
)

// maxRankedFiles caps the ranked list stored in an Analysis.
const maxRankedFiles = 50

// readBytesPerMinute is the assumed reading rate for the estimate.
const readBytesPerMinute = 5000

// Analyzer crawls a repository and produces its Analysis.
type Analyzer struct {
	repo repo.Lister
	gen  *tools.Generators
}

// NewAnalyzer creates an analyzer. gen may be nil, in which case the
// prerequisite and primer sections are left empty.
func NewAnalyzer(lister repo.Lister, gen *tools.Generators) *Analyzer {
	return &Analyzer{repo: lister, gen: gen}
}

// Analyze builds the full Analysis for a repository. Generator failures
// degrade to empty sections rather than failing the analysis.
func (a *Analyzer) Analyze(ctx context.Context, ref datatypes.RepoRef) (*datatypes.Analysis, error) {
	entries, err := a.repo.ListTree(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("analyzing %s: %w", ref, err)
	}

	ranked, totalBytes := rankFiles(entries)
	analysis := &datatypes.Analysis{
		RepoID:          ref.ID(),
		Files:           ranked,
		Hotspots:        groupHotspots(ranked),
		ReadTimeMinutes: int(totalBytes/readBytesPerMinute) + 1,
	}

	if a.gen != nil {
		langs := languages(ranked)
		prereqs, err := a.gen.Prerequisites(ctx, ref, langs)
		if err != nil {
			slog.Warn("Prerequisite generation failed", "repo", ref.ID(), "error", err)
		} else {
			analysis.Prerequisites = prereqs
		}

		primer, err := a.gen.ConceptPrimer(ctx, "the overall architecture of this repository",
			&datatypes.Session{Repo: ref, Goal: "understand the codebase"})
		if err != nil {
			slog.Warn("Primer generation failed", "repo", ref.ID(), "error", err)
		} else {
			analysis.Primer = primer
		}
	}

	slog.Info("Repository analyzed",
		"repo", ref.ID(), "files", len(ranked), "read_minutes", analysis.ReadTimeMinutes)
	return analysis, nil
}

// Report implements tools.StructureReporter. It renders the cached analysis
// when present, otherwise a fresh listing-only ranking.
func (a *Analyzer) Report(ctx context.Context, ref datatypes.RepoRef, cached *datatypes.Analysis) (string, error) {
	analysis := cached
	if analysis == nil {
		entries, err := a.repo.ListTree(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("listing %s for structure report: %w", ref, err)
		}
		ranked, _ := rankFiles(entries)
		analysis = &datatypes.Analysis{
			RepoID:   ref.ID(),
			Files:    ranked,
			Hotspots: groupHotspots(ranked),
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Repository %s, %d ranked source files.\n", analysis.RepoID, len(analysis.Files))
	for category, paths := range analysis.Hotspots {
		fmt.Fprintf(&b, "%s: %s\n", category, strings.Join(paths, ", "))
	}
	b.WriteString("Most important files:\n")
	for i, f := range analysis.Files {
		if i >= 10 {
			break
		}
		fmt.Fprintf(&b, "- %s (%s, %.2f)\n", f.Path, f.Language, f.Score)
	}
	return b.String(), nil
}

// rankFiles scores the ingestible files and returns them sorted by
// descending importance, capped at maxRankedFiles, plus the total byte size.
func rankFiles(entries []repo.TreeEntry) ([]datatypes.RankedFile, int64) {
	var ranked []datatypes.RankedFile
	var totalBytes int64

	for _, e := range entries {
		lang := ingest.Language(e.Path)
		if lang == "" {
			continue
		}
		totalBytes += e.Size
		ranked = append(ranked, datatypes.RankedFile{
			Path:     e.Path,
			Score:    scoreFile(e.Path),
			Language: lang,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Path < ranked[j].Path
	})
	if len(ranked) > maxRankedFiles {
		ranked = ranked[:maxRankedFiles]
	}
	return ranked, totalBytes
}

// scoreFile assigns an importance score in 0..1 from path heuristics.
func scoreFile(path string) float64 {
	score := 0.3
	base := strings.ToLower(baseName(path))

	switch {
	case strings.HasPrefix(base, "main."), strings.HasPrefix(base, "index."), strings.HasPrefix(base, "app."):
		score += 0.4
	case base == "readme.md":
		score += 0.35
	case strings.Contains(base, "route"), strings.Contains(base, "router"):
		score += 0.25
	case strings.Contains(base, "handler"), strings.Contains(base, "controller"), strings.Contains(base, "api"):
		score += 0.2
	case strings.Contains(base, "config"), base == "go.mod", base == "package.json":
		score += 0.15
	}

	// Shallow files are usually more central.
	depth := strings.Count(path, "/")
	if depth == 0 {
		score += 0.15
	} else if depth == 1 {
		score += 0.05
	}
	if strings.Contains(path, "test") || strings.Contains(path, "vendor/") {
		score -= 0.25
	}

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// groupHotspots buckets notable files by category.
func groupHotspots(files []datatypes.RankedFile) map[string][]string {
	hotspots := make(map[string][]string)
	add := func(category, path string) {
		if len(hotspots[category]) < 5 {
			hotspots[category] = append(hotspots[category], path)
		}
	}

	for _, f := range files {
		base := strings.ToLower(baseName(f.Path))
		switch {
		case strings.HasPrefix(base, "main."), strings.HasPrefix(base, "index."), strings.HasPrefix(base, "app."),
			strings.HasPrefix(f.Path, "cmd/"):
			add(datatypes.HotspotEntrypoint, f.Path)
		case strings.Contains(base, "route"), strings.Contains(base, "router"):
			add(datatypes.HotspotRouter, f.Path)
		case strings.Contains(base, "handler"), strings.Contains(base, "controller"), strings.Contains(base, "api"):
			add(datatypes.HotspotAPI, f.Path)
		case strings.Contains(base, "config"), base == "go.mod", base == "package.json",
			strings.HasSuffix(base, ".yaml"), strings.HasSuffix(base, ".yml"), strings.HasSuffix(base, ".toml"):
			add(datatypes.HotspotConfig, f.Path)
		case strings.HasSuffix(base, ".md"):
			add(datatypes.HotspotDocs, f.Path)
		}
	}
	return hotspots
}

// languages returns the distinct languages present, most common first.
func languages(files []datatypes.RankedFile) []string {
	counts := make(map[string]int)
	for _, f := range files {
		counts[f.Language]++
	}
	langs := make([]string, 0, len(counts))
	for l := range counts {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool {
		if counts[langs[i]] != counts[langs[j]] {
			return counts[langs[i]] > counts[langs[j]]
		}
		return langs[i] < langs[j]
	})
	return langs
}

func baseName(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}
