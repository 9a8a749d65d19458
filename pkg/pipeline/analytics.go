package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/codeready-toolchain/meetingsvc/pkg/jobs"
	"github.com/codeready-toolchain/meetingsvc/pkg/store"
	"github.com/codeready-toolchain/meetingsvc/pkg/worker"
)

// HandleAnalytics builds report and scorecard from enhanced_transcript and,
// if a delivery recipe is configured, enqueues the Delivery stage
// (spec.md §4.4).
func (p *Pipeline) HandleAnalytics(ctx context.Context, env jobs.Envelope) worker.Result {
	key, claimed, err := p.claim(ctx, env)
	if err != nil {
		return worker.Result{Outcome: worker.OutcomeRetry, Reason: err.Error()}
	}

	if claimed {
		enhanced, err := p.Meetings.GetArtifact(ctx, env.MeetingID, store.ArtifactEnhancedTranscript)
		if err != nil {
			return worker.Result{Outcome: worker.OutcomeRetry, Reason: fmt.Sprintf("read enhanced_transcript: %v", err)}
		}

		result, err := p.Analyzer.Analyze(ctx, enhanced.Content)
		if err != nil {
			return worker.Result{Outcome: worker.OutcomeRetry, Reason: fmt.Sprintf("analyze: %v", err)}
		}

		if err := p.Meetings.UpsertArtifact(ctx, store.Artifact{
			MeetingID: env.MeetingID, Kind: store.ArtifactReport, Content: result.Report, Epoch: env.Epoch,
		}); err != nil {
			return worker.Result{Outcome: worker.OutcomeRetry, Reason: err.Error()}
		}
		if err := p.Meetings.UpsertArtifact(ctx, store.Artifact{
			MeetingID: env.MeetingID, Kind: store.ArtifactScorecard, Content: result.Scorecard, Epoch: env.Epoch,
		}); err != nil {
			return worker.Result{Outcome: worker.OutcomeRetry, Reason: err.Error()}
		}
		if err := p.Idempotency.SetResult(ctx, key, string(store.ArtifactReport)); err != nil {
			return worker.Result{Outcome: worker.OutcomeRetry, Reason: err.Error()}
		}
	}

	if p.ReportSender == nil {
		if err := p.Meetings.SetStatus(ctx, env.MeetingID, store.StatusDone); err != nil && !errors.Is(err, store.ErrInvalidStatusTransition) {
			return worker.Result{Outcome: worker.OutcomeRetry, Reason: err.Error()}
		}
		return worker.Result{Outcome: worker.OutcomeSuccess}
	}

	if err := p.Dispatch(ctx, jobs.StepDelivery, env.MeetingID, env.Epoch, StagePayload{MeetingID: env.MeetingID}, env.TraceID, env.SpanID); err != nil {
		return worker.Result{Outcome: worker.OutcomeRetry, Reason: err.Error()}
	}
	return worker.Result{Outcome: worker.OutcomeSuccess}
}
