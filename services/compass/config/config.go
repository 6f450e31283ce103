// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads compass service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all service settings. Every field has an environment override
// and a production default.
type Config struct {
	Port string `env:"COMPASS_PORT" envDefault:"8080"`

	// GitHubToken authenticates repository API calls. Optional; unauthenticated
	// requests work for public repositories at a lower rate limit.
	GitHubToken  string `env:"GITHUB_TOKEN"`
	GitHubAPIURL string `env:"GITHUB_API_URL" envDefault:"https://api.github.com"`

	OpenAIKey      string `env:"OPENAI_API_KEY"`
	ChatModel      string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	EmbeddingModel string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`

	WeaviateURL string `env:"WEAVIATE_SERVICE_URL"`

	// BadgerPath is the directory for the durable session store.
	BadgerPath string `env:"COMPASS_BADGER_PATH" envDefault:"/var/lib/compass/sessions"`

	// SessionRetention is how long an idle session survives before the sweep
	// deletes it.
	SessionRetention time.Duration `env:"SESSION_RETENTION" envDefault:"24h"`

	// SweepInterval is how often the idle-session sweep runs.
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`

	// IngestBatchSize is the number of files processed per ingestion
	// invocation. Bounded because each invocation is capped in how many
	// outbound calls it may issue.
	IngestBatchSize int `env:"INGEST_BATCH_SIZE" envDefault:"10"`

	// IngestConcurrency limits concurrent file embeds within one batch.
	IngestConcurrency int `env:"INGEST_CONCURRENCY" envDefault:"4"`

	// MaxToolIterations bounds tool round-trips within a single turn.
	MaxToolIterations int `env:"MAX_TOOL_ITERATIONS" envDefault:"6"`

	OTELEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.IngestBatchSize <= 0 {
		return Config{}, fmt.Errorf("INGEST_BATCH_SIZE must be positive, got %d", cfg.IngestBatchSize)
	}
	if cfg.SessionRetention <= 0 {
		return Config{}, fmt.Errorf("SESSION_RETENTION must be positive, got %s", cfg.SessionRetention)
	}
	return cfg, nil
}
