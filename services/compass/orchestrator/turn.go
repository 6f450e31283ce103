// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator drives one tool-augmented language-model turn,
// streaming reasoning steps to the caller while the turn is still executing.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"

	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/datatypes"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/inference"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/tools"
)

var tracer = otel.Tracer("compass.orchestrator")

// apologyMessage is the assistant reply used when the hosted model call
// itself fails. The turn still completes and persists, so the conversation
// stays usable.
const apologyMessage = "I hit an error while thinking about that. Please try again."

// maxResultPayload bounds the summarized tool result attached to a
// reasoning step.
const maxResultPayload = 500

// StepSink receives reasoning steps synchronously in emission order, letting
// the caller forward them to a live channel before the turn finishes.
type StepSink interface {
	Emit(step datatypes.ReasoningStep)
}

// StepFunc adapts a function to StepSink.
type StepFunc func(step datatypes.ReasoningStep)

// Emit implements StepSink.
func (f StepFunc) Emit(step datatypes.ReasoningStep) { f(step) }

// DiscardSteps ignores all steps.
var DiscardSteps = StepFunc(func(datatypes.ReasoningStep) {})

// ToolDispatcher is the registry surface the orchestrator consumes.
// Satisfied by *tools.Registry.
type ToolDispatcher interface {
	Definitions() []openai.Tool
	Dispatch(ctx context.Context, name tools.Name, args json.RawMessage, sess *datatypes.Session) (string, error)
}

// Orchestrator runs turns against a chat model and a tool registry.
type Orchestrator struct {
	chat          inference.ChatClient
	tools         ToolDispatcher
	maxIterations int
}

// New creates an orchestrator. maxIterations bounds tool round-trips per
// turn; values below one default to six.
func New(chat inference.ChatClient, dispatcher ToolDispatcher, maxIterations int) *Orchestrator {
	if maxIterations < 1 {
		maxIterations = 6
	}
	return &Orchestrator{chat: chat, tools: dispatcher, maxIterations: maxIterations}
}

// RunTurn executes one logical turn: system instruction + running history +
// the new utterance, with tool calls resolved sequentially until the model
// produces a final natural-language answer.
//
// Every tool call emits a tool_invoked step before the handler runs and a
// tool_result step after it returns, both delivered to sink before the final
// message exists. A hosted-model failure is converted into the apologetic
// assistant message rather than propagated.
func (o *Orchestrator) RunTurn(ctx context.Context, sess *datatypes.Session, userText string, sink StepSink) datatypes.Message {
	ctx, span := tracer.Start(ctx, "orchestrator.RunTurn")
	defer span.End()

	if sink == nil {
		sink = DiscardSteps
	}

	messages := o.buildMessages(sess, userText)
	defs := o.tools.Definitions()
	var steps []datatypes.ReasoningStep

	emit := func(step datatypes.ReasoningStep) {
		steps = append(steps, step)
		sink.Emit(step)
	}

	for i := 0; i < o.maxIterations; i++ {
		reply, err := o.chat.ChatWithTools(ctx, messages, defs)
		if err != nil {
			slog.Error("Model call failed mid-turn", "session", sess.ID, "error", err)
			return assistantMessage(apologyMessage, steps)
		}

		if len(reply.ToolCalls) == 0 {
			return assistantMessage(reply.Content, steps)
		}

		if reply.Content != "" {
			emit(datatypes.ReasoningStep{
				Kind:      datatypes.StepThinking,
				Timestamp: time.Now(),
				Payload:   mustJSON(map[string]string{"text": reply.Content}),
			})
		}

		// The assistant message carrying the tool calls must precede the
		// tool results in the model's context.
		messages = append(messages, reply)

		for _, tc := range reply.ToolCalls {
			name := tc.Function.Name
			args := json.RawMessage(tc.Function.Arguments)

			emit(datatypes.ReasoningStep{
				Kind:      datatypes.StepToolInvoked,
				Tool:      name,
				Timestamp: time.Now(),
				Payload:   stepPayload(args),
			})

			result, err := o.tools.Dispatch(ctx, tools.Name(name), args, sess)
			if err != nil {
				slog.Warn("Tool call failed, feeding error back to model",
					"session", sess.ID, "tool", name, "error", err)
				result = fmt.Sprintf("The %s tool failed: %v", name, err)
			}

			emit(datatypes.ReasoningStep{
				Kind:      datatypes.StepToolResult,
				Tool:      name,
				Timestamp: time.Now(),
				Payload:   mustJSON(map[string]string{"result": truncate(result, maxResultPayload)}),
			})

			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}

	// Tool budget exhausted; ask for a final answer without tools.
	reply, err := o.chat.ChatWithTools(ctx, messages, nil)
	if err != nil {
		slog.Error("Final model call failed after tool budget", "session", sess.ID, "error", err)
		return assistantMessage(apologyMessage, steps)
	}
	return assistantMessage(reply.Content, steps)
}

// buildMessages assembles the system instruction, prior history, and the new
// utterance.
func (o *Orchestrator) buildMessages(sess *datatypes.Session, userText string) []openai.ChatCompletionMessage {
	system := fmt.Sprintf(
		"You are a Socratic programming tutor interviewing a learner about the repository %s. "+
			"Their stated goal: %q. Prefer asking probing questions over lecturing. "+
			"Use the available tools to ground every claim in the actual code.",
		sess.Repo.ID(), sess.Goal)
	if len(sess.Struggles) > 0 {
		system += fmt.Sprintf(" They have struggled with: %v. Revisit those gently.", sess.Struggles)
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(sess.Messages)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleSystem, Content: system,
	})
	for _, m := range sess.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == datatypes.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: userText,
	})
}

func assistantMessage(content string, steps []datatypes.ReasoningStep) datatypes.Message {
	return datatypes.Message{
		Role:      datatypes.RoleAssistant,
		Content:   content,
		Timestamp: time.Now(),
		Steps:     steps,
	}
}

// stepPayload returns a payload safe to embed in a persisted step. Models
// occasionally emit argument strings that are not JSON; storing one verbatim
// would make the whole session unmarshalable.
func stepPayload(args json.RawMessage) json.RawMessage {
	if len(args) > 0 && json.Valid(args) {
		return args
	}
	return mustJSON(map[string]string{"raw": string(args)})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
