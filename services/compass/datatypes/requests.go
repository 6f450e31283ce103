// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// AnalyzeRequest creates a session and triggers ingestion for a repository.
type AnalyzeRequest struct {
	Owner     string `json:"owner" binding:"required"`
	Repo      string `json:"repo" binding:"required"`
	Branch    string `json:"branch"`
	Goal      string `json:"goal" binding:"required"`
	SessionID string `json:"session_id"`
}

// SendMessageRequest is the non-streaming fallback to the realtime path.
type SendMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// SendMessageResponse returns the assistant reply with the buffered steps.
type SendMessageResponse struct {
	Message Message         `json:"message"`
	Steps   []ReasoningStep `json:"steps,omitempty"`
}

// FlashcardRequest narrows flashcard generation to a topic. An empty topic
// falls back to the session goal.
type FlashcardRequest struct {
	Topic string `json:"topic"`
}

// IngestRequest triggers one ingestion batch for a repository.
type IngestRequest struct {
	Owner      string `json:"owner" binding:"required"`
	Repo       string `json:"repo" binding:"required"`
	Branch     string `json:"branch"`
	StartIndex int    `json:"start_index"`
	BatchSize  int    `json:"batch_size"`
}

// SearchRequest performs a direct code search against the vector index.
type SearchRequest struct {
	Owner string `json:"owner" binding:"required"`
	Repo  string `json:"repo" binding:"required"`
	Query string `json:"query" binding:"required"`
	TopK  int    `json:"top_k"`
}
