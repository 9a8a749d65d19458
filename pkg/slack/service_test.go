package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSlackServer(t *testing.T, onPostMessage func(body map[string]any)) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if onPostMessage != nil {
			onPostMessage(body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1234.5678"}`))
	})
	return httptest.NewServer(mux)
}

func TestService_DeliverReport(t *testing.T) {
	var captured map[string]any
	srv := newMockSlackServer(t, func(body map[string]any) { captured = body })
	defer srv.Close()

	client := NewClientWithAPIURL("xoxb-test", "C123", srv.URL+"/")
	svc := NewServiceWithClient(client)

	err := svc.DeliverReport(context.Background(), ReportInput{
		MeetingID: "m-1",
		Title:     "Weekly Sync",
		Summary:   "Discussed roadmap.",
		ReportURL: "https://example.com/reports/m-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "C123", captured["channel"])
}

func TestService_DeliverReport_NilServiceIsNoop(t *testing.T) {
	var svc *Service
	assert.NoError(t, svc.DeliverReport(context.Background(), ReportInput{MeetingID: "m-1"}))
}

func TestService_NotifyAlert_FailsOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClientWithAPIURL("xoxb-test", "C123", srv.URL+"/")
	svc := NewServiceWithClient(client)

	assert.NotPanics(t, func() {
		svc.NotifyAlert(context.Background(), AlertInput{Kind: "dlq", Subject: "job stuck"})
	})
}

func TestNewService_EmptyTokenReturnsNil(t *testing.T) {
	assert.Nil(t, NewService(ServiceConfig{}))
}
