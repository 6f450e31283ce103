// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package inference wraps the hosted model capabilities the compass service
// depends on: tool-augmented chat completion, text embedding, and speech
// transcription. All three are treated as black-box network dependencies.
package inference

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
)

// ChatClient issues chat completions against the hosted language model.
type ChatClient interface {
	// ChatWithTools sends the full message history plus the available tool
	// definitions and returns the model's next message, which either carries
	// tool calls or a final natural-language answer.
	ChatWithTools(ctx context.Context, messages []openai.ChatCompletionMessage,
		tools []openai.Tool) (openai.ChatCompletionMessage, error)

	// Complete issues a single system+user prompt and returns the text reply.
	// Generator tools use this for templated prompts with JSON output
	// expectations.
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Embedder turns text into fixed-length vectors. The same embedder must be
// used at ingestion and query time so distances are comparable.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Transcriber converts a decoded audio payload into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}
