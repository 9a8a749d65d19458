package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/codeready-toolchain/meetingsvc/pkg/jobs"
	"github.com/codeready-toolchain/meetingsvc/pkg/providers/delivery"
	"github.com/codeready-toolchain/meetingsvc/pkg/store"
	"github.com/codeready-toolchain/meetingsvc/pkg/worker"
)

// HandleDelivery sends the report artifact via the configured delivery
// provider and marks the meeting done (spec.md §4.4). Unlike operational
// alerts, a delivery failure here is the stage's own failure and retries
// through the normal worker path.
func (p *Pipeline) HandleDelivery(ctx context.Context, env jobs.Envelope) worker.Result {
	key, claimed, err := p.claim(ctx, env)
	if err != nil {
		return worker.Result{Outcome: worker.OutcomeRetry, Reason: err.Error()}
	}

	if claimed {
		report, err := p.Meetings.GetArtifact(ctx, env.MeetingID, store.ArtifactReport)
		if err != nil {
			return worker.Result{Outcome: worker.OutcomeRetry, Reason: fmt.Sprintf("read report: %v", err)}
		}

		meeting, err := p.Meetings.GetMeeting(ctx, "", env.MeetingID)
		if err != nil {
			return worker.Result{Outcome: worker.OutcomeRetry, Reason: fmt.Sprintf("read meeting: %v", err)}
		}

		if err := p.ReportSender.SendReport(ctx, delivery.Report{
			MeetingID: env.MeetingID,
			Title:     meeting.Title,
			Summary:   report.Content,
		}); err != nil {
			return worker.Result{Outcome: worker.OutcomeRetry, Reason: fmt.Sprintf("send report: %v", err)}
		}
		if err := p.Idempotency.SetResult(ctx, key, "delivered"); err != nil {
			return worker.Result{Outcome: worker.OutcomeRetry, Reason: err.Error()}
		}
	}

	if err := p.Meetings.SetStatus(ctx, env.MeetingID, store.StatusDone); err != nil && !errors.Is(err, store.ErrInvalidStatusTransition) {
		return worker.Result{Outcome: worker.OutcomeRetry, Reason: err.Error()}
	}
	return worker.Result{Outcome: worker.OutcomeSuccess}
}
