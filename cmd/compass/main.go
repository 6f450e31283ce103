// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"

	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/analyze"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/config"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/handlers"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/inference"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/ingest"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/orchestrator"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/repo"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/routes"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/session"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/tools"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/ttl"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/vector"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/voice"
)

func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("compass-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// newWeaviateClient parses and validates the configured URL, returning nil
// when the index is not configured so the service can run in lightweight
// mode (chat without code search).
func newWeaviateClient(rawURL string) *weaviate.Client {
	// Sanitize: trim quotes and whitespace in case the runtime passes them
	// literally.
	rawURL = strings.Trim(rawURL, "\"' ")
	if rawURL == "" || !strings.Contains(rawURL, "http") {
		slog.Info("WEAVIATE_SERVICE_URL not set or empty. Running in lightweight mode (chat only).")
		return nil
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("WEAVIATE_SERVICE_URL is invalid. Running in lightweight mode.",
			"url", rawURL, "error", err)
		return nil
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		slog.Error("Failed to create Weaviate client", "error", err)
		return nil
	}
	return client
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if cfg.OTELEndpoint != "" {
		cleanup, err := initTracer(cfg.OTELEndpoint)
		if err != nil {
			log.Fatalf("failed to setup the OTLP tracer: %v", err)
		}
		defer cleanup(context.Background())
	}

	store, err := session.OpenStore(cfg.BadgerPath)
	if err != nil {
		log.Fatalf("failed to open the session store: %v", err)
	}
	defer store.Close()

	ai, err := inference.NewOpenAIClient(cfg.OpenAIKey, cfg.ChatModel, cfg.EmbeddingModel)
	if err != nil {
		log.Fatalf("failed to create the inference client: %v", err)
	}

	repoClient := repo.NewClient(cfg.GitHubAPIURL, cfg.GitHubToken)

	// Typed-nil pointers must not leak into the interface fields below, so
	// the lightweight-mode branches assign only when the index exists.
	var searcher tools.Searcher
	var purger handlers.Purger
	var pipeline *ingest.Pipeline
	if weaviateClient := newWeaviateClient(cfg.WeaviateURL); weaviateClient != nil {
		index, err := vector.NewCodeIndex(weaviateClient)
		if err != nil {
			log.Fatalf("failed to create the code index: %v", err)
		}
		if err := index.EnsureSchema(context.Background()); err != nil {
			slog.Error("Failed to ensure the CodeChunk schema", "error", err)
		}
		searcher = index
		purger = index

		ingestCfg := ingest.DefaultConfig()
		ingestCfg.MaxConcurrent = cfg.IngestConcurrency
		pipeline, err = ingest.NewPipeline(repoClient, ai, index, ingestCfg)
		if err != nil {
			log.Fatalf("failed to create the ingestion pipeline: %v", err)
		}
	}

	generators := tools.NewGenerators(ai)
	analyzer := analyze.NewAnalyzer(repoClient, generators)
	registry := tools.NewRegistry(ai, searcher, analyzer, generators)
	turns := orchestrator.New(ai, registry, cfg.MaxToolIterations)
	voicePipe := voice.NewPipeline(ai, turns)

	manager := session.NewManager(store)
	defer manager.Close()

	sweeper := ttl.NewSweeper(store, manager, cfg.SessionRetention, cfg.SweepInterval)
	sweeper.Start()
	defer sweeper.Stop()

	deps := handlers.Deps{
		Manager:    manager,
		Analyzer:   analyzer,
		Ingest:     pipeline,
		Searcher:   searcher,
		Purger:     purger,
		Embedder:   ai,
		Generators: generators,
		Chat: handlers.ChatTurns{
			Turns:    turns,
			Voice:    voicePipe,
			Classify: orchestrator.DefaultClassifier,
		},
		IngestBatchSize: cfg.IngestBatchSize,
	}

	router := gin.Default()
	router.Use(otelgin.Middleware("compass-service"))
	routes.SetupRoutes(router, deps)

	slog.Info("Starting the compass server", "port", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
