// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package voice turns a base64 audio payload into a processed turn.
package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/datatypes"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/inference"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/orchestrator"
)

// ErrEmptyTranscript is returned when transcription yields no text. The
// caller surfaces it as a user-visible error event instead of silently
// continuing with an empty utterance.
var ErrEmptyTranscript = errors.New("transcription produced no text")

// TurnRunner is the orchestrator surface the pipeline delegates to.
type TurnRunner interface {
	RunTurn(ctx context.Context, sess *datatypes.Session, userText string, sink orchestrator.StepSink) datatypes.Message
}

// Pipeline decodes audio, transcribes it, and delegates the transcript to
// the turn orchestrator.
type Pipeline struct {
	transcriber inference.Transcriber
	turns       TurnRunner
}

// NewPipeline creates a voice pipeline.
func NewPipeline(transcriber inference.Transcriber, turns TurnRunner) *Pipeline {
	return &Pipeline{transcriber: transcriber, turns: turns}
}

// HandleVoice processes one voice event. Once the transcript exists it is
// handed to onTranscript before the turn is delegated, so the caller can
// surface it to the client ahead of any reasoning steps. Decode and
// transcription failures return an error and no message.
func (p *Pipeline) HandleVoice(ctx context.Context, audioBase64 string, sess *datatypes.Session,
	onTranscript func(string), sink orchestrator.StepSink) (string, datatypes.Message, error) {

	audio, err := base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		return "", datatypes.Message{}, fmt.Errorf("decoding audio payload: %w", err)
	}
	if len(audio) == 0 {
		return "", datatypes.Message{}, ErrEmptyTranscript
	}

	transcript, err := p.transcriber.Transcribe(ctx, audio, "voice.webm")
	if err != nil {
		return "", datatypes.Message{}, fmt.Errorf("transcribing audio: %w", err)
	}
	if transcript == "" {
		return "", datatypes.Message{}, ErrEmptyTranscript
	}

	slog.Info("Voice payload transcribed",
		"session", sess.ID, "audio_bytes", len(audio), "transcript_len", len(transcript))

	if onTranscript != nil {
		onTranscript(transcript)
	}

	reply := p.turns.RunTurn(ctx, sess, transcript, sink)
	return transcript, reply, nil
}
