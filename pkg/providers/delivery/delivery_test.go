package delivery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestSMTPSender_SendReport_NoRecipientsIsNoop ensures an unconfigured
// recipient list never dials out.
func TestSMTPSender_SendReport_NoRecipientsIsNoop(t *testing.T) {
	s := NewSMTPSender("127.0.0.1:1", "reports@example.com", nil, nil)
	err := s.SendReport(context.Background(), Report{MeetingID: "m-1"})
	require.NoError(t, err)
}

// TestSMTPSender_SendReport_DialFailureReturnsError exercises the error path
// against a guaranteed-closed local port, without requiring a real SMTP relay.
func TestSMTPSender_SendReport_DialFailureReturnsError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close()) // nothing listening now

	s := NewSMTPSender(addr, "reports@example.com", []string{"ops@example.com"}, nil)

	done := make(chan error, 1)
	go func() { done <- s.SendReport(context.Background(), Report{MeetingID: "m-1", Summary: "hi"}) }()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("smtp send did not fail fast against a closed port")
	}
}

func TestNewSlackSender_NilServiceIsNoop(t *testing.T) {
	s := NewSlackSender(nil)
	err := s.SendReport(context.Background(), Report{MeetingID: "m-1"})
	require.NoError(t, err)
	s.NotifyAlert(context.Background(), Alert{Kind: "dlq"})
}
