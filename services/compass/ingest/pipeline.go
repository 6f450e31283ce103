// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/datatypes"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/inference"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/repo"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/vector"
)

// ChunkWriter is the index surface the pipeline writes to. Satisfied by
// *vector.CodeIndex; tests inject fakes.
type ChunkWriter interface {
	UpsertChunks(ctx context.Context, records []vector.ChunkRecord) (int, error)
}

// Config tunes one pipeline instance.
type Config struct {
	// ChunkSize is the target chunk size in characters.
	ChunkSize int

	// MaxConcurrent limits concurrent file embeds within one batch.
	MaxConcurrent int

	// PreviewLength is the excerpt length stored per chunk.
	PreviewLength int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:     DefaultChunkSize,
		MaxConcurrent: 4,
		PreviewLength: 200,
	}
}

// Result reports one ingestion invocation.
type Result struct {
	TotalFiles     int  `json:"total_files"`
	FilesProcessed int  `json:"files_processed"`
	FilesFailed    int  `json:"files_failed"`
	ChunksIndexed  int  `json:"chunks_indexed"`
	HasMore        bool `json:"has_more"`
	NextIndex      int  `json:"next_index"`
}

// Pipeline embeds a repository's source text into the vector index across
// repeated, cursor-driven invocations.
type Pipeline struct {
	repo     repo.Lister
	embedder inference.Embedder
	index    ChunkWriter
	config   Config
}

// NewPipeline creates a pipeline over the given collaborators.
func NewPipeline(lister repo.Lister, embedder inference.Embedder, index ChunkWriter, config Config) (*Pipeline, error) {
	if lister == nil || embedder == nil || index == nil {
		return nil, fmt.Errorf("pipeline requires a lister, an embedder, and an index")
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	if config.PreviewLength <= 0 {
		config.PreviewLength = 200
	}
	return &Pipeline{repo: lister, embedder: embedder, index: index, config: config}, nil
}

// Ingest processes the slice [startIndex, startIndex+batchSize) of the
// filtered, deterministically sorted file list.
//
// Per file: fetch content, split it into chunks, embed all chunks in one
// batch call, and upsert the resulting records in one batched write. A failed file
// is counted and skipped, never retried within the invocation. Files within
// the slice run concurrently up to MaxConcurrent.
//
// HasMore is true iff startIndex+batchSize is still short of the filtered
// file count; the caller re-invokes with NextIndex until HasMore is false.
// Chunk ids are deterministic, so overlapping or repeated invocations are
// safe to retry.
func (p *Pipeline) Ingest(ctx context.Context, ref datatypes.RepoRef, startIndex, batchSize int) (*Result, error) {
	if startIndex < 0 {
		return nil, fmt.Errorf("start index must be non-negative, got %d", startIndex)
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	start := time.Now()

	entries, err := p.repo.ListTree(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("listing repository files: %w", err)
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if Ingestible(e.Path) {
			paths = append(paths, e.Path)
		}
	}
	sort.Strings(paths)

	result := &Result{TotalFiles: len(paths)}

	if startIndex >= len(paths) {
		result.NextIndex = startIndex
		return result, nil
	}

	end := startIndex + batchSize
	if end > len(paths) {
		end = len(paths)
	}
	slice := paths[startIndex:end]
	result.HasMore = end < len(paths)
	result.NextIndex = end

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.MaxConcurrent)

	for _, filePath := range slice {
		g.Go(func() error {
			chunks, err := p.ingestFile(gctx, ref, filePath)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("File ingestion failed, skipping",
					"repo", ref.ID(), "path", filePath, "error", err)
				result.FilesFailed++
				return nil
			}
			result.FilesProcessed++
			result.ChunksIndexed += chunks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	slog.Info("Ingestion batch complete",
		"repo", ref.ID(),
		"start_index", startIndex,
		"processed", result.FilesProcessed,
		"failed", result.FilesFailed,
		"chunks", result.ChunksIndexed,
		"has_more", result.HasMore,
		"duration", time.Since(start))

	return result, nil
}

// ingestFile fetches, chunks, embeds, and upserts one file. Returns the
// number of chunks written.
func (p *Pipeline) ingestFile(ctx context.Context, ref datatypes.RepoRef, filePath string) (int, error) {
	content, err := p.repo.FetchFile(ctx, ref, filePath)
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}

	chunks, err := SplitFile(filePath, content, p.config.ChunkSize)
	if err != nil {
		return 0, fmt.Errorf("split: %w", err)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed: %w", err)
	}

	lang := Language(filePath)
	records := make([]vector.ChunkRecord, len(chunks))
	for i, c := range chunks {
		records[i] = vector.ChunkRecord{
			RepoID:      ref.ID(),
			FilePath:    filePath,
			Language:    lang,
			ChunkIndex:  c.Index,
			TotalChunks: len(chunks),
			Preview:     preview(c.Text, p.config.PreviewLength),
			Vector:      vecs[i],
		}
	}

	written, err := p.index.UpsertChunks(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("upsert: %w", err)
	}
	return written, nil
}

func preview(text string, n int) string {
	if len(text) <= n {
		return text
	}
	return text[:n]
}
