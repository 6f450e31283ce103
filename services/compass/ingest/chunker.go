// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ingest walks a repository's source files, chunks and embeds them,
// and upserts the results into the vector index. Each invocation processes a
// bounded slice of the file list and returns a cursor so the caller can
// resume, because any single invocation is capped in how many outbound calls
// it may issue.
package ingest

import (
	"path"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// DefaultChunkSize is the target chunk size in characters.
const DefaultChunkSize = 1000

// Separator sets per file family. Every separator starts at a line boundary
// and the overlap is zero, so a line is never split across chunks and never
// duplicated between them.
var (
	plainSeparators  = []string{"\n\n", "\n"}
	pythonSeparators = []string{"\nclass ", "\ndef ", "\n\n", "\n"}
	cStyleSeparators = []string{
		"\nfunc ", "\ntype ", "\nclass ", "\ninterface ",
		"\npublic ", "\nprivate ", "\nprotected ",
		"\n\n", "\n",
	}
	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ",
		"\n\n", "\n",
	}
)

// Chunk is one segment of a file.
type Chunk struct {
	Index int
	Text  string
}

func splitterFor(filePath string, chunkSize int) textsplitter.TextSplitter {
	seps := plainSeparators
	switch strings.ToLower(path.Ext(filePath)) {
	case ".py", ".rb":
		seps = pythonSeparators
	case ".go", ".js", ".jsx", ".ts", ".tsx", ".java", ".kt",
		".c", ".h", ".cc", ".cpp", ".hpp", ".cs", ".php", ".swift", ".rs":
		seps = cStyleSeparators
	case ".md":
		seps = markdownSeparators
	}
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(0),
		textsplitter.WithSeparators(seps),
	)
}

// SplitFile splits content into indexed chunks of roughly chunkSize
// characters, preferring declaration boundaries for code files. A single
// line longer than chunkSize is kept intact as its own oversized chunk.
// Whitespace-only chunks are dropped.
func SplitFile(filePath, content string, chunkSize int) ([]Chunk, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	parts, err := splitterFor(filePath, chunkSize).SplitText(content)
	if err != nil {
		return nil, err
	}
	chunks := make([]Chunk, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Text: p})
	}
	return chunks, nil
}

// textExtensions is the allow-list of text-like source extensions considered
// for ingestion.
var textExtensions = map[string]string{
	".go":    "go",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".py":    "python",
	".rb":    "ruby",
	".rs":    "rust",
	".java":  "java",
	".kt":    "kotlin",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".swift": "swift",
	".sh":    "shell",
	".sql":   "sql",
	".html":  "html",
	".css":   "css",
	".scss":  "css",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".md":    "markdown",
	".txt":   "text",
}

// Language returns the language for a file path, or "" if the file is not on
// the ingestion allow-list.
func Language(filePath string) string {
	ext := strings.ToLower(path.Ext(filePath))
	return textExtensions[ext]
}

// Ingestible reports whether the path passes the text-like allow-list.
func Ingestible(filePath string) bool {
	return Language(filePath) != ""
}
