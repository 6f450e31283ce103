// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package vector stores and queries embedded code chunks in Weaviate.
package vector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/datatypes"
)

// CodeChunkClassName is the Weaviate class for embedded code chunks.
const CodeChunkClassName = "CodeChunk"

// chunkNamespace seeds deterministic object UUIDs so re-ingestion overwrites
// rather than duplicates.
var chunkNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// ChunkRecord is one embedded chunk ready to upsert.
type ChunkRecord struct {
	RepoID      string
	FilePath    string
	Language    string
	ChunkIndex  int
	TotalChunks int
	Preview     string
	Vector      []float32
}

// ChunkID returns the short stable identifier for (repository, path, chunk
// index). It is a hash rather than the raw path to respect index key-length
// limits, and deterministic so repeated ingestion is idempotent.
func ChunkID(repoID, path string, chunkIndex int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", repoID, path, chunkIndex)))
	return hex.EncodeToString(h[:])[:16]
}

// objectUUID derives the Weaviate object UUID from the chunk id.
func objectUUID(chunkID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(chunkNamespace, []byte(chunkID)).String())
}

// CodeIndex wraps the Weaviate client for chunk upsert and nearest-neighbor
// query. Vectors are supplied by the caller; the class has no vectorizer.
type CodeIndex struct {
	client *weaviate.Client
}

// NewCodeIndex creates an index over the given client.
func NewCodeIndex(client *weaviate.Client) (*CodeIndex, error) {
	if client == nil {
		return nil, fmt.Errorf("weaviate client is nil")
	}
	return &CodeIndex{client: client}, nil
}

// codeChunkSchema returns the CodeChunk class definition.
func codeChunkSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       CodeChunkClassName,
		Description: "Embedded source-code chunks for repository code search",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "chunkId",
				DataType:        []string{"text"},
				Description:     "Deterministic id: hash of repo, path, chunk index",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "repoId",
				DataType:        []string{"text"},
				Description:     "Repository identifier (owner/name)",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "filePath",
				DataType:     []string{"text"},
				Description:  "Path of the source file within the repository",
				Tokenization: "word",
			},
			{
				Name:            "language",
				DataType:        []string{"text"},
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:     "chunkIndex",
				DataType: []string{"int"},
			},
			{
				Name:     "totalChunks",
				DataType: []string{"int"},
			},
			{
				Name:         "preview",
				DataType:     []string{"text"},
				Description:  "Short content excerpt returned with search hits",
				Tokenization: "word",
			},
		},
	}
}

// EnsureSchema creates the CodeChunk class if it does not exist. Idempotent.
func (x *CodeIndex) EnsureSchema(ctx context.Context) error {
	_, err := x.client.Schema().ClassGetter().WithClassName(CodeChunkClassName).Do(ctx)
	if err == nil {
		return nil
	}

	slog.Info("Creating CodeChunk schema")
	if err := x.client.Schema().ClassCreator().WithClass(codeChunkSchema()).Do(ctx); err != nil {
		return fmt.Errorf("creating CodeChunk schema: %w", err)
	}
	return nil
}

// UpsertChunks writes all records in one batched call. Object UUIDs are
// derived from the chunk id, so writing the same chunk twice overwrites.
func (x *CodeIndex) UpsertChunks(ctx context.Context, records []ChunkRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	objects := make([]*models.Object, len(records))
	for i, r := range records {
		id := ChunkID(r.RepoID, r.FilePath, r.ChunkIndex)
		objects[i] = &models.Object{
			Class:  CodeChunkClassName,
			ID:     objectUUID(id),
			Vector: r.Vector,
			Properties: map[string]interface{}{
				"chunkId":     id,
				"repoId":      r.RepoID,
				"filePath":    r.FilePath,
				"language":    r.Language,
				"chunkIndex":  r.ChunkIndex,
				"totalChunks": r.TotalChunks,
				"preview":     r.Preview,
			},
		}
	}

	result, err := x.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("batch upsert failed: %w", err)
	}

	written := 0
	for _, obj := range result {
		if obj.Result != nil && obj.Result.Errors == nil {
			written++
		}
	}
	return written, nil
}

// Search returns the topK nearest chunks for the vector, filtered to one
// repository. Score is 1 - distance.
func (x *CodeIndex) Search(ctx context.Context, vec []float32, repoID string, topK int) ([]datatypes.SearchHit, error) {
	if topK <= 0 {
		topK = 5
	}

	nearVector := x.client.GraphQL().NearVectorArgBuilder().WithVector(vec)
	where := filters.Where().
		WithPath([]string{"repoId"}).
		WithOperator(filters.Equal).
		WithValueString(repoID)

	fields := []graphql.Field{
		{Name: "filePath"},
		{Name: "language"},
		{Name: "chunkIndex"},
		{Name: "totalChunks"},
		{Name: "preview"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	result, err := x.client.GraphQL().Get().
		WithClassName(CodeChunkClassName).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithWhere(where).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("vector search error: %s", result.Errors[0].Message)
	}

	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	objects, ok := data[CodeChunkClassName].([]interface{})
	if !ok {
		return nil, nil
	}

	hits := make([]datatypes.SearchHit, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		hit := datatypes.SearchHit{
			FilePath:    getString(m, "filePath"),
			Language:    getString(m, "language"),
			Preview:     getString(m, "preview"),
			ChunkIndex:  getInt(m, "chunkIndex"),
			TotalChunks: getInt(m, "totalChunks"),
		}
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			if d, ok := add["distance"].(float64); ok {
				hit.Score = 1 - d
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// PurgeRepo deletes all chunks for one repository.
func (x *CodeIndex) PurgeRepo(ctx context.Context, repoID string) error {
	where := filters.Where().
		WithPath([]string{"repoId"}).
		WithOperator(filters.Equal).
		WithValueString(repoID)

	_, err := x.client.Batch().ObjectsBatchDeleter().
		WithClassName(CodeChunkClassName).
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("purging chunks for %s: %w", repoID, err)
	}
	slog.Info("Purged code chunks", "repo", repoID)
	return nil
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getInt(m map[string]interface{}, key string) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return 0
}
