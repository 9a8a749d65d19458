// Package delivery is the report/alert delivery provider boundary for the
// "Delivery" pipeline stage (spec.md §4.4) and for operational notifications
// (DLQ entries, breaker trips). Two implementations are wired: SMTP email
// and Slack (adapting pkg/slack).
package delivery

import (
	"context"
)

// Report is what the Delivery stage sends once a meeting's report artifact
// is ready.
type Report struct {
	MeetingID string
	Title     string
	Summary   string
	ReportURL string
}

// Alert is an operational notification, not tied to any one meeting.
type Alert struct {
	Kind    string // "dlq" | "breaker_open"
	Subject string
	Detail  string
}

// ReportSender delivers a completed meeting report. Errors are meaningful —
// unlike alerts, report delivery failing means the pipeline stage itself
// failed and should retry/DLQ per spec.md §4.4.
type ReportSender interface {
	SendReport(ctx context.Context, r Report) error
}

// AlertNotifier delivers operational alerts. Fail-open by convention: a
// failure to notify must never itself produce a retryable/DLQ error.
type AlertNotifier interface {
	NotifyAlert(ctx context.Context, a Alert)
}
