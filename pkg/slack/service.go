package slack

import (
	"context"
	"log/slog"
	"time"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token   string
	Channel string
}

// Service delivers meeting reports and operational alerts to Slack.
// Nil-safe: all methods are no-ops when the service itself is nil, matching
// the pattern used when a deployment has no Slack token configured.
type Service struct {
	client *Client
	logger *slog.Logger
}

// NewService creates a new Slack delivery service, or nil if Token/Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client: NewClient(cfg.Token, cfg.Channel),
		logger: slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient builds a Service from a pre-built Client (for testing
// against a mock API server via NewClientWithAPIURL).
func NewServiceWithClient(client *Client) *Service {
	return &Service{
		client: client,
		logger: slog.Default().With("component", "slack-service"),
	}
}

// DeliverReport sends a meeting report notification. Returns the delivery
// error so the calling pipeline stage can decide whether to retry/DLQ —
// unlike operational alerts, report delivery is the stage's actual job.
func (s *Service) DeliverReport(ctx context.Context, input ReportInput) error {
	if s == nil {
		return nil
	}
	return s.client.PostMessage(ctx, BuildReportMessage(input), 10*time.Second)
}

// NotifyAlert sends an operational alert (DLQ entry, breaker trip).
// Fail-open: errors are logged, never returned — an alert-delivery failure
// must not itself become a DLQ entry.
func (s *Service) NotifyAlert(ctx context.Context, input AlertInput) {
	if s == nil {
		return
	}
	if err := s.client.PostMessage(ctx, BuildAlertMessage(input), 5*time.Second); err != nil {
		s.logger.Error("failed to send Slack alert", "kind", input.Kind, "subject", input.Subject, "error", err)
	}
}
