// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/analyze"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/datatypes"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/inference"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/ingest"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/orchestrator"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/session"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/tools"
)

// Purger removes a repository's chunks from the vector index. Satisfied by
// *vector.CodeIndex.
type Purger interface {
	PurgeRepo(ctx context.Context, repoID string) error
}

// Deps carries the collaborators the REST handlers need.
type Deps struct {
	Manager    *session.Manager
	Analyzer   *analyze.Analyzer
	Ingest     *ingest.Pipeline
	Searcher   tools.Searcher
	Purger     Purger
	Embedder   inference.Embedder
	Generators *tools.Generators
	Chat       ChatTurns

	// IngestBatchSize sizes the background batches kicked off by analyze.
	IngestBatchSize int
}

// HandleAnalyzeRepo handles POST /v1/repos/analyze.
//
// # Description
//
//	Creates a tutoring session for the repository, runs the structural
//	analysis synchronously, and kicks off background ingestion that walks
//	the cursor until every ingestible file is indexed. Returns 409 when the
//	requested session id already exists.
func HandleAnalyzeRepo(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AnalyzeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		id := req.SessionID
		if id == "" {
			id = uuid.New().String()
		}
		sess := &datatypes.Session{
			ID:   id,
			Repo: datatypes.RepoRef{Owner: req.Owner, Name: req.Repo, Branch: req.Branch},
			Goal: req.Goal,
		}
		actor, err := deps.Manager.Init(sess)
		if err != nil {
			if errors.Is(err, session.ErrAlreadyExists) {
				c.JSON(http.StatusConflict, gin.H{"error": "session already exists", "sessionId": id})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		analysis, err := deps.Analyzer.Analyze(c.Request.Context(), sess.Repo)
		if err != nil {
			slog.Error("Repository analysis failed", "repo", sess.Repo.ID(), "error", err)
			// The session is useless without its analysis; drop it so a
			// retry with the same id is not rejected as a duplicate.
			if evictErr := deps.Manager.Evict(id); evictErr != nil {
				slog.Warn("Failed to evict session after analysis failure",
					"session", id, "error", evictErr)
			}
			c.JSON(http.StatusBadGateway, gin.H{"error": "could not analyze repository: " + err.Error()})
			return
		}
		if err := deps.Manager.ApplyUpdate(id, session.Update{Analysis: analysis}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if deps.Ingest != nil {
			go runBackgroundIngestion(deps, actor, sess.Repo)
		}

		snap, err := deps.Manager.Snapshot(id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, snap)
	}
}

// runBackgroundIngestion walks the ingestion cursor until the repository is
// fully indexed, persisting the cursor after every batch so a restart can
// resume where it left off.
func runBackgroundIngestion(deps Deps, actor *session.Actor, ref datatypes.RepoRef) {
	ctx := context.Background()
	start := 0
	if snap, err := actor.Snapshot(); err == nil && snap.Ingest != nil {
		if snap.Ingest.Complete {
			return
		}
		start = snap.Ingest.NextIndex
	}

	state := datatypes.IngestState{NextIndex: start}
	for {
		res, err := deps.Ingest.Ingest(ctx, ref, state.NextIndex, deps.IngestBatchSize)
		if err != nil {
			slog.Error("Background ingestion batch failed", "repo", ref.ID(),
				"start", state.NextIndex, "error", err)
			return
		}
		state.NextIndex = res.NextIndex
		state.FilesDone += res.FilesProcessed
		state.FilesFailed += res.FilesFailed
		state.ChunksStored += res.ChunksIndexed
		state.Complete = !res.HasMore
		state.UpdatedAt = time.Now()

		cursor := state
		if err := actor.Mutate(func(s *datatypes.Session) error {
			s.Ingest = &cursor
			return nil
		}); err != nil {
			slog.Warn("Failed to persist ingestion cursor", "repo", ref.ID(), "error", err)
		}
		if state.Complete {
			slog.Info("Repository fully indexed", "repo", ref.ID(),
				"files", state.FilesDone, "failed", state.FilesFailed, "chunks", state.ChunksStored)
			return
		}
	}
}

// HandleGetSession handles GET /v1/sessions/:id.
func HandleGetSession(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := deps.Manager.Snapshot(c.Param("id"))
		if err != nil {
			respondSessionError(c, err)
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

// HandleSendMessage handles POST /v1/sessions/:id/message, the non-realtime
// fallback to the WebSocket path. Reasoning steps are buffered and returned
// with the reply instead of streamed.
func HandleSendMessage(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var req datatypes.SendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		actor, err := deps.Manager.Actor(id)
		if err != nil {
			respondSessionError(c, err)
			return
		}
		if !actor.TryAcquireTurn() {
			c.JSON(http.StatusConflict, gin.H{"error": "a turn is already in flight"})
			return
		}
		defer actor.ReleaseTurn()

		sess, err := actor.Snapshot()
		if err != nil {
			respondSessionError(c, err)
			return
		}

		var steps []datatypes.ReasoningStep
		sink := orchestrator.StepFunc(func(step datatypes.ReasoningStep) {
			steps = append(steps, step)
		})
		reply := deps.Chat.Turns.RunTurn(c.Request.Context(), sess, req.Message, sink)

		classify := deps.Chat.Classify
		if classify == nil {
			classify = orchestrator.DefaultClassifier
		}
		struggles := orchestrator.DetectStruggles(classify, req.Message, sess.Messages)

		now := time.Now()
		err = actor.Mutate(func(s *datatypes.Session) error {
			s.Messages = append(s.Messages,
				datatypes.Message{Role: datatypes.RoleUser, Content: req.Message, Timestamp: now},
				reply)
			s.AddStruggles(struggles)
			return nil
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, datatypes.SendMessageResponse{Message: reply, Steps: steps})
	}
}

// HandleStudyPlan handles POST /v1/sessions/:id/plan.
func HandleStudyPlan(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		sess, err := deps.Manager.Snapshot(id)
		if err != nil {
			respondSessionError(c, err)
			return
		}
		plan, err := deps.Generators.StudyPlan(c.Request.Context(), sess)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "could not generate study plan: " + err.Error()})
			return
		}
		if err := deps.Manager.ApplyUpdate(id, session.Update{StudyPlan: plan}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, plan)
	}
}

// HandleFlashcards handles POST /v1/sessions/:id/flashcards. Topic defaults
// to the learner's tracked struggles (or the session goal) when omitted.
func HandleFlashcards(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		// An absent body is fine; a malformed one is not.
		var req datatypes.FlashcardRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		sess, err := deps.Manager.Snapshot(id)
		if err != nil {
			respondSessionError(c, err)
			return
		}
		topic := req.Topic
		if topic == "" {
			topic = sess.Goal
		}
		cards, err := deps.Generators.Flashcards(c.Request.Context(), topic, sess)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "could not generate flashcards: " + err.Error()})
			return
		}
		if len(cards) > 0 {
			if err := deps.Manager.ApplyUpdate(id, session.Update{Flashcards: cards}); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"cards": cards})
	}
}

// HandleIngest handles POST /v1/ingest: one explicit cursor-driven batch.
func HandleIngest(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Ingest == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vector index is not configured"})
			return
		}
		var req datatypes.IngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		batch := req.BatchSize
		if batch <= 0 {
			batch = deps.IngestBatchSize
		}
		ref := datatypes.RepoRef{Owner: req.Owner, Name: req.Repo, Branch: req.Branch}
		res, err := deps.Ingest.Ingest(c.Request.Context(), ref, req.StartIndex, batch)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// HandleSearch handles POST /v1/search: embed the query and return the
// nearest indexed chunks for the repository.
func HandleSearch(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Searcher == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vector index is not configured"})
			return
		}
		var req datatypes.SearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		topK := req.TopK
		if topK <= 0 {
			topK = 5
		}
		vec, err := deps.Embedder.Embed(c.Request.Context(), req.Query)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "could not embed query: " + err.Error()})
			return
		}
		repoID := req.Owner + "/" + req.Repo
		hits, err := deps.Searcher.Search(c.Request.Context(), vec, repoID, topK)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"hits": hits})
	}
}

// HandlePurgeIndex handles DELETE /v1/index/:owner/:repo.
func HandlePurgeIndex(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Purger == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vector index is not configured"})
			return
		}
		repoID := c.Param("owner") + "/" + c.Param("repo")
		if err := deps.Purger.PurgeRepo(c.Request.Context(), repoID); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "purged", "repo": repoID})
	}
}

// HandleHealth handles GET /health.
func HandleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func respondSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, session.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "session already exists"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
