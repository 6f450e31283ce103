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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/datatypes"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/repo"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/vector"
)

// ============================================================================
// Test Fakes
// ============================================================================

type fakeLister struct {
	entries []repo.TreeEntry
	files   map[string]string
	failOn  map[string]bool
}

func (f *fakeLister) ListTree(_ context.Context, _ datatypes.RepoRef) ([]repo.TreeEntry, error) {
	return f.entries, nil
}

func (f *fakeLister) FetchFile(_ context.Context, _ datatypes.RepoRef, path string) (string, error) {
	if f.failOn[path] {
		return "", fmt.Errorf("fetch failed for %s", path)
	}
	return f.files[path], nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func (fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{0.1, 0.2}
	}
	return vecs, nil
}

type fakeWriter struct {
	mu      sync.Mutex
	records []vector.ChunkRecord
}

func (w *fakeWriter) UpsertChunks(_ context.Context, records []vector.ChunkRecord) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records, records...)
	return len(records), nil
}

func (w *fakeWriter) paths() map[string]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]int)
	for _, r := range w.records {
		out[r.FilePath]++
	}
	return out
}

func testLister(n int) *fakeLister {
	f := &fakeLister{
		files:  make(map[string]string),
		failOn: make(map[string]bool),
	}
	for i := 0; i < n; i++ {
		path := fmt.Sprintf("src/file%02d.go", i)
		f.entries = append(f.entries, repo.TreeEntry{Path: path, Type: "blob", Size: 30})
		f.files[path] = fmt.Sprintf("package src\n\n// file %d\n", i)
	}
	// Non-text entries must be filtered out before the cursor is applied.
	f.entries = append(f.entries,
		repo.TreeEntry{Path: "assets/logo.png", Type: "blob", Size: 9000},
		repo.TreeEntry{Path: "bin/tool.exe", Type: "blob", Size: 9000})
	return f
}

func newTestPipeline(t *testing.T, lister *fakeLister) (*Pipeline, *fakeWriter) {
	t.Helper()
	writer := &fakeWriter{}
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 2
	p, err := NewPipeline(lister, fakeEmbedder{}, writer, cfg)
	require.NoError(t, err)
	return p, writer
}

var testRef = datatypes.RepoRef{Owner: "octo", Name: "demo"}

// ============================================================================
// Cursor Walk Tests
// ============================================================================

func TestIngest_SingleBatchCoversSmallRepo(t *testing.T) {
	p, writer := newTestPipeline(t, testLister(3))

	res, err := p.Ingest(context.Background(), testRef, 0, 10)
	require.NoError(t, err)

	assert.Equal(t, 3, res.TotalFiles)
	assert.Equal(t, 3, res.FilesProcessed)
	assert.Equal(t, 0, res.FilesFailed)
	assert.False(t, res.HasMore)
	assert.Equal(t, 3, res.NextIndex)
	assert.Len(t, writer.paths(), 3)
}

func TestIngest_CursorVisitsEveryFileExactlyOnce(t *testing.T) {
	p, writer := newTestPipeline(t, testLister(7))

	start := 0
	batches := 0
	for {
		res, err := p.Ingest(context.Background(), testRef, start, 3)
		require.NoError(t, err)
		batches++
		if !res.HasMore {
			break
		}
		assert.Equal(t, start+3, res.NextIndex)
		start = res.NextIndex
	}

	assert.Equal(t, 3, batches)
	seen := writer.paths()
	assert.Len(t, seen, 7)
	for path, count := range seen {
		assert.Equal(t, 1, count, "file %q written more than once", path)
	}
}

func TestIngest_StartIndexBeyondEnd(t *testing.T) {
	p, writer := newTestPipeline(t, testLister(2))

	res, err := p.Ingest(context.Background(), testRef, 50, 10)
	require.NoError(t, err)

	assert.Equal(t, 0, res.FilesProcessed)
	assert.False(t, res.HasMore)
	assert.Equal(t, 50, res.NextIndex, "cursor must not move backwards")
	assert.Empty(t, writer.paths())
}

func TestIngest_FailedFileIsCountedAndSkipped(t *testing.T) {
	lister := testLister(4)
	lister.failOn["src/file02.go"] = true
	p, writer := newTestPipeline(t, lister)

	res, err := p.Ingest(context.Background(), testRef, 0, 10)
	require.NoError(t, err, "one bad file must not fail the batch")

	assert.Equal(t, 3, res.FilesProcessed)
	assert.Equal(t, 1, res.FilesFailed)
	assert.False(t, res.HasMore)
	assert.NotContains(t, writer.paths(), "src/file02.go")
}

func TestIngest_RejectsInvalidArguments(t *testing.T) {
	p, _ := newTestPipeline(t, testLister(1))

	_, err := p.Ingest(context.Background(), testRef, -1, 5)
	assert.Error(t, err)

	_, err = p.Ingest(context.Background(), testRef, 0, 0)
	assert.Error(t, err)
}

func TestIngest_ChunkRecordsAreDeterministic(t *testing.T) {
	p, writer := newTestPipeline(t, testLister(1))

	_, err := p.Ingest(context.Background(), testRef, 0, 10)
	require.NoError(t, err)
	first := append([]vector.ChunkRecord(nil), writer.records...)

	writer.records = nil
	_, err = p.Ingest(context.Background(), testRef, 0, 10)
	require.NoError(t, err)

	require.Equal(t, len(first), len(writer.records))
	firstID := vector.ChunkID(first[0].RepoID, first[0].FilePath, first[0].ChunkIndex)
	secondID := vector.ChunkID(writer.records[0].RepoID, writer.records[0].FilePath,
		writer.records[0].ChunkIndex)
	assert.Equal(t, firstID, secondID,
		"re-ingesting the same file must produce the same chunk id")
}
