package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/codeready-toolchain/meetingsvc/pkg/jobs"
	"github.com/codeready-toolchain/meetingsvc/pkg/store"
	"github.com/codeready-toolchain/meetingsvc/pkg/worker"
)

// HandleSTT consumes one chunk (or a bare finalize signal), appends a
// transcribed segment to raw_transcript, and — once the meeting is
// finalized — enqueues the Enhancer stage (spec.md §4.4).
func (p *Pipeline) HandleSTT(ctx context.Context, env jobs.Envelope) worker.Result {
	var payload ChunkPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return worker.Result{Outcome: worker.OutcomeDLQ, Reason: fmt.Sprintf("malformed stt payload: %v", err)}
	}

	key, claimed, err := p.claim(ctx, env)
	if err != nil {
		return worker.Result{Outcome: worker.OutcomeRetry, Reason: err.Error()}
	}

	if claimed && !payload.Finalize {
		if err := p.transcribeChunk(ctx, env, payload); err != nil {
			return worker.Result{Outcome: worker.OutcomeRetry, Reason: err.Error()}
		}
		if err := p.Idempotency.SetResult(ctx, key, string(store.ArtifactRawTranscript)); err != nil {
			return worker.Result{Outcome: worker.OutcomeRetry, Reason: err.Error()}
		}
	}

	if !payload.Finalize {
		return worker.Result{Outcome: worker.OutcomeSuccess}
	}

	if err := p.Meetings.SetStatus(ctx, env.MeetingID, store.StatusProcessing); err != nil && !errors.Is(err, store.ErrInvalidStatusTransition) {
		return worker.Result{Outcome: worker.OutcomeRetry, Reason: err.Error()}
	}

	if err := p.Dispatch(ctx, jobs.StepEnhancer, env.MeetingID, env.Epoch, StagePayload{MeetingID: env.MeetingID}, env.TraceID, env.SpanID); err != nil {
		return worker.Result{Outcome: worker.OutcomeRetry, Reason: err.Error()}
	}
	return worker.Result{Outcome: worker.OutcomeSuccess}
}

func (p *Pipeline) transcribeChunk(ctx context.Context, env jobs.Envelope, payload ChunkPayload) error {
	r, err := p.Blobs.Get(ctx, payload.BlobRef)
	if err != nil {
		return fmt.Errorf("stt: read blob %s: %w", payload.BlobRef, err)
	}
	defer r.Close()

	segment, err := p.Transcriber.Transcribe(ctx, r, payload.ContentType)
	if err != nil {
		return fmt.Errorf("stt: transcribe %s: %w", payload.ChunkID, err)
	}

	existing, err := p.Meetings.GetArtifact(ctx, env.MeetingID, store.ArtifactRawTranscript)
	content := ""
	if err == nil {
		content = existing.Content
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("stt: read raw_transcript: %w", err)
	}
	if content != "" {
		content += "\n"
	}
	content += segment

	return p.Meetings.UpsertArtifact(ctx, store.Artifact{
		MeetingID: env.MeetingID,
		Kind:      store.ArtifactRawTranscript,
		Content:   content,
		Epoch:     env.Epoch,
	})
}
