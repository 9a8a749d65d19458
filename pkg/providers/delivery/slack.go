package delivery

import (
	"context"

	"github.com/codeready-toolchain/meetingsvc/pkg/slack"
)

// SlackSender adapts pkg/slack.Service to the ReportSender/AlertNotifier
// interfaces.
type SlackSender struct {
	svc *slack.Service
}

// NewSlackSender wraps svc. svc may be nil (no Slack token configured); all
// methods become no-ops, matching pkg/slack.Service's own nil-safety.
func NewSlackSender(svc *slack.Service) *SlackSender {
	return &SlackSender{svc: svc}
}

func (s *SlackSender) SendReport(ctx context.Context, r Report) error {
	return s.svc.DeliverReport(ctx, slack.ReportInput{
		MeetingID: r.MeetingID,
		Title:     r.Title,
		Summary:   r.Summary,
		ReportURL: r.ReportURL,
	})
}

func (s *SlackSender) NotifyAlert(ctx context.Context, a Alert) {
	s.svc.NotifyAlert(ctx, slack.AlertInput{
		Kind:    a.Kind,
		Subject: a.Subject,
		Detail:  a.Detail,
	})
}
