// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers contains the gin handlers for the REST surface and the
// realtime WebSocket channel.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/datatypes"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/orchestrator"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/session"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/voice"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	// Sized for base64 voice payloads.
	ReadBufferSize:  10 * 1024 * 1024,
	WriteBufferSize: 1024 * 1024,
}

// wsConn wraps one WebSocket connection behind a buffered send channel so
// that broadcasts from the session actor never block on a slow client. The
// single write pump goroutine is the only writer on the socket.
type wsConn struct {
	ws   *websocket.Conn
	send chan datatypes.ServerEvent
	done chan struct{}
}

func newWSConn(ws *websocket.Conn) *wsConn {
	c := &wsConn{
		ws:   ws,
		send: make(chan datatypes.ServerEvent, 64),
		done: make(chan struct{}),
	}
	go c.writePump()
	return c
}

// Notify implements session.Subscriber. Events for a closed or saturated
// connection are dropped; the durable transcript is the source of truth.
func (c *wsConn) Notify(ev datatypes.ServerEvent) {
	select {
	case c.send <- ev:
	case <-c.done:
	default:
		slog.Warn("Dropping event for slow WebSocket client", "type", ev.Type)
	}
}

func (c *wsConn) writePump() {
	for {
		select {
		case ev := <-c.send:
			if err := c.ws.WriteJSON(ev); err != nil {
				slog.Warn("Failed to write WebSocket JSON", "error", err)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) close() {
	close(c.done)
	_ = c.ws.Close()
}

// ChatTurns binds the orchestrator, voice pipeline, and struggle detection
// used by the realtime channel.
type ChatTurns struct {
	Turns    voice.TurnRunner
	Voice    *voice.Pipeline
	Classify orchestrator.Classifier
}

// HandleSessionWebSocket upgrades GET /v1/sessions/:id/ws to a realtime
// tutoring channel.
//
// # Description
//
//	The channel accepts text, voice, and ping events. Each text or voice
//	event runs one tool-augmented turn; intermediate reasoning steps are
//	pushed to every attached connection while the turn is still executing,
//	followed by exactly one terminal text_response or error event. Malformed
//	or unknown events produce an error event without closing the channel.
func HandleSessionWebSocket(manager *session.Manager, chat ChatTurns) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		actor, err := manager.Actor(id)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("Failed to upgrade the websocket", "error", err)
			return
		}
		conn := newWSConn(ws)
		defer conn.close()

		if err := actor.Attach(conn); err != nil {
			return
		}
		defer actor.Detach(conn)

		slog.Info("WebSocket client connected", "session", id)
		conn.Notify(datatypes.ConnectedEvent(id))

		for {
			var ev datatypes.ClientEvent
			if err := ws.ReadJSON(&ev); err != nil {
				slog.Info("WebSocket client disconnected", "session", id, "error", err.Error())
				return
			}
			if err := ev.Validate(); err != nil {
				conn.Notify(datatypes.ErrorEvent("invalid event: " + err.Error()))
				continue
			}

			ctx := c.Request.Context()
			switch ev.Type {
			case datatypes.ClientEventPing:
				// Liveness only; answered on this connection, no session state.
				conn.Notify(datatypes.ServerEvent{Type: datatypes.ServerEventPong})

			case datatypes.ClientEventText:
				runTextTurn(ctx, actor, chat, conn, ev.Message)

			case datatypes.ClientEventVoice:
				runVoiceTurn(ctx, actor, chat, conn, ev.Audio)

			default:
				conn.Notify(datatypes.ErrorEvent("unknown event type: " + ev.Type))
			}
		}
	}
}

// runTextTurn executes one text turn end to end: acquire the session's turn
// slot, run the tool loop with live step fan-out, then persist the user and
// assistant messages plus any detected struggles in a single mutation.
func runTextTurn(ctx context.Context, actor *session.Actor, chat ChatTurns, conn *wsConn, text string) {
	if text == "" {
		conn.Notify(datatypes.ErrorEvent("empty message"))
		return
	}
	if !actor.TryAcquireTurn() {
		conn.Notify(datatypes.ErrorEvent("session is busy"))
		return
	}
	defer actor.ReleaseTurn()

	sess, err := actor.Snapshot()
	if err != nil {
		conn.Notify(datatypes.ErrorEvent("session unavailable"))
		return
	}

	actor.Broadcast(datatypes.StatusEvent("thinking"))
	sink := orchestrator.StepFunc(func(step datatypes.ReasoningStep) {
		actor.Broadcast(datatypes.StepEvent(step))
	})
	reply := chat.Turns.RunTurn(ctx, sess, text, sink)

	finishTurn(actor, chat, conn, sess, text, reply)
}

// runVoiceTurn transcribes the audio, broadcasts the transcript, then
// continues like a text turn with the transcript as the utterance.
func runVoiceTurn(ctx context.Context, actor *session.Actor, chat ChatTurns, conn *wsConn, audioBase64 string) {
	if !actor.TryAcquireTurn() {
		conn.Notify(datatypes.ErrorEvent("session is busy"))
		return
	}
	defer actor.ReleaseTurn()

	sess, err := actor.Snapshot()
	if err != nil {
		conn.Notify(datatypes.ErrorEvent("session unavailable"))
		return
	}

	actor.Broadcast(datatypes.StatusEvent("transcribing"))
	sink := orchestrator.StepFunc(func(step datatypes.ReasoningStep) {
		actor.Broadcast(datatypes.StepEvent(step))
	})

	// The transcript goes out before any reasoning step, so clients know
	// what utterance the steps belong to.
	onTranscript := func(transcript string) {
		actor.Broadcast(datatypes.TranscriptionEvent(transcript))
	}
	transcript, reply, err := chat.Voice.HandleVoice(ctx, audioBase64, sess, onTranscript, sink)
	if err != nil {
		if errors.Is(err, voice.ErrEmptyTranscript) {
			conn.Notify(datatypes.ErrorEvent("no speech detected"))
		} else {
			slog.Warn("Voice turn failed", "session", sess.ID, "error", err)
			conn.Notify(datatypes.ErrorEvent("could not process audio"))
		}
		return
	}

	finishTurn(actor, chat, conn, sess, transcript, reply)
}

// finishTurn persists the exchange and emits the terminal response event.
func finishTurn(actor *session.Actor, chat ChatTurns, conn *wsConn, sess *datatypes.Session,
	userText string, reply datatypes.Message) {

	classify := chat.Classify
	if classify == nil {
		classify = orchestrator.DefaultClassifier
	}
	struggles := orchestrator.DetectStruggles(classify, userText, sess.Messages)

	now := time.Now()
	err := actor.Mutate(func(s *datatypes.Session) error {
		s.Messages = append(s.Messages,
			datatypes.Message{Role: datatypes.RoleUser, Content: userText, Timestamp: now},
			reply)
		s.AddStruggles(struggles)
		return nil
	})
	if err != nil {
		slog.Error("Failed to persist turn", "session", sess.ID, "error", err)
		conn.Notify(datatypes.ErrorEvent("failed to save the conversation"))
		return
	}

	actor.Broadcast(datatypes.ResponseEvent(reply.Content, reply.Timestamp))
}
