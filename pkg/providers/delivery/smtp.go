package delivery

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
)

// SMTPSender sends meeting report notifications as plain email. No pack
// example ships an email client, and none is warranted for a single
// send-and-forget message — net/smtp is used directly (justified in
// DESIGN.md).
type SMTPSender struct {
	addr string // host:port
	from string
	to   []string
	auth smtp.Auth
}

// NewSMTPSender builds a sender against addr (host:port), authenticating
// with auth if non-nil (e.g. smtp.PlainAuth for a real relay; nil for local
// dev relays that accept unauthenticated mail).
func NewSMTPSender(addr, from string, to []string, auth smtp.Auth) *SMTPSender {
	return &SMTPSender{addr: addr, from: from, to: to, auth: auth}
}

// SendReport ignores ctx: net/smtp has no context-aware dial, so the call is
// bounded only by the underlying TCP timeouts. Acceptable for the
// low-volume, best-effort email path this backs.
func (s *SMTPSender) SendReport(_ context.Context, r Report) error {
	if len(s.to) == 0 {
		return nil
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Subject: Meeting report ready: %s\r\n", reportTitle(r))
	fmt.Fprintf(&buf, "From: %s\r\n", s.from)
	fmt.Fprintf(&buf, "To: %s\r\n\r\n", joinAddrs(s.to))
	fmt.Fprintf(&buf, "%s\r\n", r.Summary)
	if r.ReportURL != "" {
		fmt.Fprintf(&buf, "\r\nFull report: %s\r\n", r.ReportURL)
	}

	if err := smtp.SendMail(s.addr, s.auth, s.from, s.to, buf.Bytes()); err != nil {
		return fmt.Errorf("delivery: smtp send: %w", err)
	}
	return nil
}

func reportTitle(r Report) string {
	if r.Title != "" {
		return r.Title
	}
	return r.MeetingID
}

func joinAddrs(addrs []string) string {
	out := addrs[0]
	for _, a := range addrs[1:] {
		out += ", " + a
	}
	return out
}
