// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// This file contains the JSON-framed event types exchanged over the realtime
// channel. For REST request types, see requests.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// MaxClientMessageBytes caps a single text utterance.
	MaxClientMessageBytes = 32 * 1024 // 32KB

	// MaxVoicePayloadBytes caps a base64 audio payload.
	MaxVoicePayloadBytes = 10 * 1024 * 1024 // 10MB
)

// Client-to-server event types.
const (
	ClientEventText  = "text"
	ClientEventVoice = "voice"
	ClientEventPing  = "ping"
)

// Server-to-client event types.
const (
	ServerEventConnected     = "connected"
	ServerEventStatus        = "status"
	ServerEventReasoningStep = "reasoning_step"
	ServerEventTranscription = "transcription"
	ServerEventTextResponse  = "text_response"
	ServerEventError         = "error"
	ServerEventPong          = "pong"
)

// eventValidate validates inbound client events.
var eventValidate = validator.New()

func init() {
	_ = eventValidate.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxClientMessageBytes
	})
	_ = eventValidate.RegisterValidation("maxaudio", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxVoicePayloadBytes
	})
}

// ClientEvent is a message received on the realtime channel.
type ClientEvent struct {
	Type    string `json:"type" validate:"required"`
	Message string `json:"message,omitempty" validate:"maxbytes"`
	Audio   string `json:"audio,omitempty" validate:"maxaudio"`
}

// Validate checks field-level constraints. The event type itself is routed
// (not validated) so unknown types can produce an error event without
// closing the channel.
func (e *ClientEvent) Validate() error {
	return eventValidate.Struct(e)
}

// ServerEvent is a message sent on the realtime channel.
//
// The ordering contract: for a given client message the server emits zero or
// more status/reasoning_step/transcription events followed by exactly one
// terminal text_response or error.
type ServerEvent struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId,omitempty"`
	Message   string         `json:"message,omitempty"`
	Text      string         `json:"text,omitempty"`
	Step      *ReasoningStep `json:"step,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
}

// ConnectedEvent is sent once when a channel is accepted.
func ConnectedEvent(sessionID string) ServerEvent {
	return ServerEvent{Type: ServerEventConnected, SessionID: sessionID}
}

// StatusEvent carries transient progress text.
func StatusEvent(message string) ServerEvent {
	return ServerEvent{Type: ServerEventStatus, Message: message}
}

// StepEvent wraps one reasoning step.
func StepEvent(step ReasoningStep) ServerEvent {
	return ServerEvent{Type: ServerEventReasoningStep, Step: &step}
}

// TranscriptionEvent reports the text recovered from a voice payload.
func TranscriptionEvent(text string) ServerEvent {
	return ServerEvent{Type: ServerEventTranscription, Text: text}
}

// ResponseEvent is the terminal event of a successful turn.
func ResponseEvent(message string, ts time.Time) ServerEvent {
	return ServerEvent{Type: ServerEventTextResponse, Message: message, Timestamp: ts}
}

// ErrorEvent is the terminal event of a failed client message.
func ErrorEvent(message string) ServerEvent {
	return ServerEvent{Type: ServerEventError, Message: message}
}
