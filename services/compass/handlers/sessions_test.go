// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/analyze"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/datatypes"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/orchestrator"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/repo"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/session"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/tools"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ============================================================================
// Test Fakes
// ============================================================================

type stubLister struct{}

func (stubLister) ListTree(context.Context, datatypes.RepoRef) ([]repo.TreeEntry, error) {
	return []repo.TreeEntry{
		{Path: "main.go", Type: "blob", Size: 1000},
		{Path: "routes.go", Type: "blob", Size: 2000},
	}, nil
}

func (stubLister) FetchFile(context.Context, datatypes.RepoRef, string) (string, error) {
	return "package main\n", nil
}

// flakyLister fails its first listing and recovers afterwards.
type flakyLister struct{ calls int }

func (f *flakyLister) ListTree(ctx context.Context, ref datatypes.RepoRef) ([]repo.TreeEntry, error) {
	f.calls++
	if f.calls == 1 {
		return nil, fmt.Errorf("upstream 500")
	}
	return stubLister{}.ListTree(ctx, ref)
}

func (f *flakyLister) FetchFile(ctx context.Context, ref datatypes.RepoRef, path string) (string, error) {
	return stubLister{}.FetchFile(ctx, ref, path)
}

// echoTurns returns a canned assistant message with one reasoning step.
type echoTurns struct{}

func (echoTurns) RunTurn(_ context.Context, _ *datatypes.Session, userText string,
	sink orchestrator.StepSink) datatypes.Message {

	sink.Emit(datatypes.ReasoningStep{
		Kind:      datatypes.StepToolInvoked,
		Tool:      "search_code",
		Timestamp: time.Now(),
	})
	sink.Emit(datatypes.ReasoningStep{
		Kind:      datatypes.StepToolResult,
		Tool:      "search_code",
		Timestamp: time.Now(),
	})
	return datatypes.Message{
		Role:      datatypes.RoleAssistant,
		Content:   "echo: " + userText,
		Timestamp: time.Now(),
	}
}

type stubChat struct{ reply string }

func (c stubChat) ChatWithTools(context.Context, []openai.ChatCompletionMessage,
	[]openai.Tool) (openai.ChatCompletionMessage, error) {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: c.reply}, nil
}

func (c stubChat) Complete(context.Context, string, string) (string, error) {
	return c.reply, nil
}

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	store, err := session.OpenInMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	manager := session.NewManager(store)
	t.Cleanup(manager.Close)

	gen := tools.NewGenerators(stubChat{reply: "not json"})
	return Deps{
		Manager:    manager,
		Analyzer:   analyze.NewAnalyzer(stubLister{}, nil),
		Generators: gen,
		Chat: ChatTurns{
			Turns:    echoTurns{},
			Classify: orchestrator.DefaultClassifier,
		},
		IngestBatchSize: 10,
	}
}

func newTestRouter(deps Deps) *gin.Engine {
	router := gin.New()
	router.POST("/v1/repos/analyze", HandleAnalyzeRepo(deps))
	router.GET("/v1/sessions/:id", HandleGetSession(deps))
	router.POST("/v1/sessions/:id/message", HandleSendMessage(deps))
	router.POST("/v1/sessions/:id/plan", HandleStudyPlan(deps))
	router.POST("/v1/sessions/:id/flashcards", HandleFlashcards(deps))
	router.POST("/v1/ingest", HandleIngest(deps))
	router.POST("/v1/search", HandleSearch(deps))
	return router
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// ============================================================================
// Analyze Tests
// ============================================================================

func TestAnalyzeRepo_CreatesSession(t *testing.T) {
	router := newTestRouter(newTestDeps(t))

	w := doJSON(router, http.MethodPost, "/v1/repos/analyze", datatypes.AnalyzeRequest{
		Owner: "octo", Repo: "demo", Goal: "learn routing", SessionID: "sess-1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var sess datatypes.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, "sess-1", sess.ID)
	assert.Equal(t, "learn routing", sess.Goal)
	require.NotNil(t, sess.Analysis)
	assert.Len(t, sess.Analysis.Files, 2)
}

func TestAnalyzeRepo_DuplicateSessionConflicts(t *testing.T) {
	router := newTestRouter(newTestDeps(t))

	req := datatypes.AnalyzeRequest{Owner: "octo", Repo: "demo", Goal: "g", SessionID: "dup"}
	require.Equal(t, http.StatusCreated, doJSON(router, http.MethodPost, "/v1/repos/analyze", req).Code)
	assert.Equal(t, http.StatusConflict, doJSON(router, http.MethodPost, "/v1/repos/analyze", req).Code)
}

func TestAnalyzeRepo_FailedAnalysisFreesTheSessionID(t *testing.T) {
	deps := newTestDeps(t)
	deps.Analyzer = analyze.NewAnalyzer(&flakyLister{}, nil)
	router := newTestRouter(deps)

	req := datatypes.AnalyzeRequest{Owner: "octo", Repo: "demo", Goal: "g", SessionID: "retry"}
	require.Equal(t, http.StatusBadGateway, doJSON(router, http.MethodPost, "/v1/repos/analyze", req).Code)

	// The failed attempt must not leave an analysis-less session behind.
	_, err := deps.Manager.Snapshot("retry")
	assert.ErrorIs(t, err, session.ErrNotFound)

	// A retry with the same id succeeds once the upstream recovers.
	assert.Equal(t, http.StatusCreated, doJSON(router, http.MethodPost, "/v1/repos/analyze", req).Code)
}

func TestAnalyzeRepo_MissingFieldsRejected(t *testing.T) {
	router := newTestRouter(newTestDeps(t))

	w := doJSON(router, http.MethodPost, "/v1/repos/analyze", map[string]string{"owner": "octo"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ============================================================================
// Session Read and Turn Tests
// ============================================================================

func TestGetSession_UnknownIs404(t *testing.T) {
	router := newTestRouter(newTestDeps(t))

	w := doJSON(router, http.MethodGet, "/v1/sessions/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendMessage_PersistsTurnWithBufferedSteps(t *testing.T) {
	deps := newTestDeps(t)
	router := newTestRouter(deps)

	createSession(t, router, "sess-msg")

	w := doJSON(router, http.MethodPost, "/v1/sessions/sess-msg/message",
		datatypes.SendMessageRequest{Message: "where is the router?"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp datatypes.SendMessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "echo: where is the router?", resp.Message.Content)
	require.Len(t, resp.Steps, 2)
	assert.Equal(t, datatypes.StepToolInvoked, resp.Steps[0].Kind)
	assert.Equal(t, datatypes.StepToolResult, resp.Steps[1].Kind)

	snap, err := deps.Manager.Snapshot("sess-msg")
	require.NoError(t, err)
	require.Len(t, snap.Messages, 2, "user and assistant messages must both persist")
	assert.Equal(t, datatypes.RoleUser, snap.Messages[0].Role)
	assert.Equal(t, datatypes.RoleAssistant, snap.Messages[1].Role)
}

func TestSendMessage_StruggleUtteranceRecordsConcepts(t *testing.T) {
	deps := newTestDeps(t)
	router := newTestRouter(deps)
	createSession(t, router, "sess-struggle")

	w := doJSON(router, http.MethodPost, "/v1/sessions/sess-struggle/message",
		datatypes.SendMessageRequest{Message: "I don't understand `SetupRoutes` at all"})
	require.Equal(t, http.StatusOK, w.Code)

	snap, err := deps.Manager.Snapshot("sess-struggle")
	require.NoError(t, err)
	assert.Contains(t, snap.Struggles, "SetupRoutes")
}

func TestSendMessage_BusySessionIs409(t *testing.T) {
	deps := newTestDeps(t)
	router := newTestRouter(deps)
	createSession(t, router, "sess-busy")

	actor, err := deps.Manager.Actor("sess-busy")
	require.NoError(t, err)
	require.True(t, actor.TryAcquireTurn())
	defer actor.ReleaseTurn()

	w := doJSON(router, http.MethodPost, "/v1/sessions/sess-busy/message",
		datatypes.SendMessageRequest{Message: "hi"})
	assert.Equal(t, http.StatusConflict, w.Code, "an in-flight turn must reject, not queue")
}

func TestSendMessage_UnknownSessionIs404(t *testing.T) {
	router := newTestRouter(newTestDeps(t))

	w := doJSON(router, http.MethodPost, "/v1/sessions/ghost/message",
		datatypes.SendMessageRequest{Message: "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ============================================================================
// Study Material Tests
// ============================================================================

func TestStudyPlan_FallbackPlanIsPersisted(t *testing.T) {
	deps := newTestDeps(t)
	router := newTestRouter(deps)
	createSession(t, router, "sess-plan")

	// The stub chat returns unparseable output, so the single-step fallback
	// plan applies.
	w := doJSON(router, http.MethodPost, "/v1/sessions/sess-plan/plan", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var plan datatypes.StudyPlan
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &plan))
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, tools.PlanBudgetMinutes, plan.TotalMinutes)

	snap, err := deps.Manager.Snapshot("sess-plan")
	require.NoError(t, err)
	require.NotNil(t, snap.StudyPlan)
}

func TestFlashcards_UnparseableOutputIsEmptyList(t *testing.T) {
	deps := newTestDeps(t)
	router := newTestRouter(deps)
	createSession(t, router, "sess-cards")

	w := doJSON(router, http.MethodPost, "/v1/sessions/sess-cards/flashcards",
		datatypes.FlashcardRequest{Topic: "routing"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Cards []datatypes.Flashcard `json:"cards"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Cards)
}

// ============================================================================
// Index Surface Tests
// ============================================================================

func TestIngest_WithoutIndexIs503(t *testing.T) {
	router := newTestRouter(newTestDeps(t))

	w := doJSON(router, http.MethodPost, "/v1/ingest", datatypes.IngestRequest{
		Owner: "octo", Repo: "demo",
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSearch_WithoutIndexIs503(t *testing.T) {
	router := newTestRouter(newTestDeps(t))

	w := doJSON(router, http.MethodPost, "/v1/search", datatypes.SearchRequest{
		Owner: "octo", Repo: "demo", Query: "router",
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func createSession(t *testing.T, router *gin.Engine, id string) {
	t.Helper()
	w := doJSON(router, http.MethodPost, "/v1/repos/analyze", datatypes.AnalyzeRequest{
		Owner: "octo", Repo: "demo", Goal: "learn the codebase", SessionID: id,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}
