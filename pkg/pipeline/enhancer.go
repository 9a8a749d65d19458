package pipeline

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/meetingsvc/pkg/jobs"
	"github.com/codeready-toolchain/meetingsvc/pkg/store"
	"github.com/codeready-toolchain/meetingsvc/pkg/worker"
)

// HandleEnhancer rewrites raw_transcript into enhanced_transcript and
// enqueues the Analytics stage (spec.md §4.4).
func (p *Pipeline) HandleEnhancer(ctx context.Context, env jobs.Envelope) worker.Result {
	key, claimed, err := p.claim(ctx, env)
	if err != nil {
		return worker.Result{Outcome: worker.OutcomeRetry, Reason: err.Error()}
	}

	if claimed {
		raw, err := p.Meetings.GetArtifact(ctx, env.MeetingID, store.ArtifactRawTranscript)
		if err != nil {
			return worker.Result{Outcome: worker.OutcomeRetry, Reason: fmt.Sprintf("read raw_transcript: %v", err)}
		}

		enhanced, err := p.Enhancer.Enhance(ctx, raw.Content)
		if err != nil {
			return worker.Result{Outcome: worker.OutcomeRetry, Reason: fmt.Sprintf("enhance: %v", err)}
		}

		if err := p.Meetings.UpsertArtifact(ctx, store.Artifact{
			MeetingID: env.MeetingID,
			Kind:      store.ArtifactEnhancedTranscript,
			Content:   enhanced,
			Epoch:     env.Epoch,
		}); err != nil {
			return worker.Result{Outcome: worker.OutcomeRetry, Reason: err.Error()}
		}
		if err := p.Idempotency.SetResult(ctx, key, string(store.ArtifactEnhancedTranscript)); err != nil {
			return worker.Result{Outcome: worker.OutcomeRetry, Reason: err.Error()}
		}
	}

	if err := p.Dispatch(ctx, jobs.StepAnalytics, env.MeetingID, env.Epoch, StagePayload{MeetingID: env.MeetingID}, env.TraceID, env.SpanID); err != nil {
		return worker.Result{Outcome: worker.OutcomeRetry, Reason: err.Error()}
	}
	return worker.Result{Outcome: worker.OutcomeSuccess}
}
