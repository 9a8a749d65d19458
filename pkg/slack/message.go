package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

// ReportInput carries the fields needed to render a completed meeting's
// analytics report as a Slack message (C3 delivery stage, spec.md §4.4).
type ReportInput struct {
	MeetingID  string
	Title      string
	Summary    string
	ReportURL  string
}

// BuildReportMessage renders the delivery blocks for a completed meeting report.
func BuildReportMessage(input ReportInput) []goslack.Block {
	title := input.Title
	if title == "" {
		title = input.MeetingID
	}

	header := fmt.Sprintf(":memo: *Meeting report ready — %s*", title)
	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
			nil, nil,
		),
	}

	if input.Summary != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(input.Summary), false, false),
			nil, nil,
		))
	}

	if input.ReportURL != "" {
		btn := goslack.NewButtonBlockElement("", "",
			goslack.NewTextBlockObject(goslack.PlainTextType, "View Report", false, false))
		btn.URL = input.ReportURL
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}

	return blocks
}

// AlertInput carries an operational alert (DLQ entry, breaker trip) for delivery.
type AlertInput struct {
	Kind    string // "dlq" | "breaker_open"
	Subject string
	Detail  string
}

// BuildAlertMessage renders an operational alert as Slack blocks.
func BuildAlertMessage(input AlertInput) []goslack.Block {
	emoji := ":rotating_light:"
	text := fmt.Sprintf("%s *%s*\n%s", emoji, input.Subject, truncateForSlack(input.Detail))
	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
