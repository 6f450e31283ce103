// Copyright (C) 2026 Suraj Ranganath
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package voice

import (
	"context"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/datatypes"
	"github.com/suraj-ranganath/cf-ai-code-compass/services/compass/orchestrator"
)

type fakeTranscriber struct {
	transcript string
	err        error
	gotAudio   []byte
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio []byte, _ string) (string, error) {
	f.gotAudio = audio
	return f.transcript, f.err
}

type fakeTurns struct {
	gotText string
	reply   datatypes.Message
	onRun   func()
}

func (f *fakeTurns) RunTurn(_ context.Context, _ *datatypes.Session, userText string,
	_ orchestrator.StepSink) datatypes.Message {
	f.gotText = userText
	if f.onRun != nil {
		f.onRun()
	}
	return f.reply
}

func voiceSession() *datatypes.Session {
	return &datatypes.Session{ID: "s1", Repo: datatypes.RepoRef{Owner: "octo", Name: "demo"}}
}

func TestHandleVoice_TranscriptDrivesTheTurn(t *testing.T) {
	transcriber := &fakeTranscriber{transcript: "what does the router do"}
	turns := &fakeTurns{reply: datatypes.Message{
		Role: datatypes.RoleAssistant, Content: "it maps paths to handlers",
	}}
	p := NewPipeline(transcriber, turns)

	audio := base64.StdEncoding.EncodeToString([]byte("fake-opus-bytes"))
	transcript, reply, err := p.HandleVoice(context.Background(), audio, voiceSession(), nil, orchestrator.DiscardSteps)

	require.NoError(t, err)
	assert.Equal(t, "what does the router do", transcript)
	assert.Equal(t, "what does the router do", turns.gotText,
		"the turn must see the transcript as the utterance")
	assert.Equal(t, "it maps paths to handlers", reply.Content)
	assert.Equal(t, []byte("fake-opus-bytes"), transcriber.gotAudio)
}

func TestHandleVoice_TranscriptCallbackFiresBeforeTheTurn(t *testing.T) {
	var order []string
	turns := &fakeTurns{onRun: func() { order = append(order, "turn") }}
	p := NewPipeline(&fakeTranscriber{transcript: "explain the router"}, turns)

	audio := base64.StdEncoding.EncodeToString([]byte("bytes"))
	onTranscript := func(transcript string) {
		order = append(order, "transcript:"+transcript)
	}
	_, _, err := p.HandleVoice(context.Background(), audio, voiceSession(), onTranscript, orchestrator.DiscardSteps)

	require.NoError(t, err)
	assert.Equal(t, []string{"transcript:explain the router", "turn"}, order,
		"the caller must learn the transcript before the turn starts")
}

func TestHandleVoice_InvalidBase64(t *testing.T) {
	p := NewPipeline(&fakeTranscriber{}, &fakeTurns{})

	_, _, err := p.HandleVoice(context.Background(), "%%not-base64%%", voiceSession(), nil, orchestrator.DiscardSteps)
	assert.Error(t, err)
}

func TestHandleVoice_EmptyPayload(t *testing.T) {
	p := NewPipeline(&fakeTranscriber{}, &fakeTurns{})

	_, _, err := p.HandleVoice(context.Background(), "", voiceSession(), nil, orchestrator.DiscardSteps)
	assert.ErrorIs(t, err, ErrEmptyTranscript)
}

func TestHandleVoice_EmptyTranscript(t *testing.T) {
	p := NewPipeline(&fakeTranscriber{transcript: ""}, &fakeTurns{})

	audio := base64.StdEncoding.EncodeToString([]byte("silence"))
	_, _, err := p.HandleVoice(context.Background(), audio, voiceSession(), nil, orchestrator.DiscardSteps)
	assert.ErrorIs(t, err, ErrEmptyTranscript)
}

func TestHandleVoice_TranscriberFailure(t *testing.T) {
	p := NewPipeline(&fakeTranscriber{err: fmt.Errorf("whisper unavailable")}, &fakeTurns{})

	audio := base64.StdEncoding.EncodeToString([]byte("bytes"))
	_, _, err := p.HandleVoice(context.Background(), audio, voiceSession(), nil, orchestrator.DiscardSteps)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEmptyTranscript)
}
