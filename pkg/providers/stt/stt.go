// Package stt is the speech-to-text provider boundary. The real engine is
// explicitly out of scope (spec.md §1 Non-goals); this is the local/stub
// implementation that fills the interface so the pipeline can exercise it
// end to end in dev and tests.
package stt

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

// Transcriber turns one audio chunk into a text segment.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, contentType string) (string, error)
}

// StubTranscriber reports the byte size of each chunk instead of running a
// real model, enough to exercise the raw_transcript artifact's append path
// without a speech engine dependency.
type StubTranscriber struct{}

func NewStubTranscriber() *StubTranscriber { return &StubTranscriber{} }

func (StubTranscriber) Transcribe(_ context.Context, audio io.Reader, contentType string) (string, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, audio)
	if err != nil {
		return "", fmt.Errorf("stt: read audio: %w", err)
	}
	return fmt.Sprintf("[segment %s, %d bytes]", contentType, n), nil
}
