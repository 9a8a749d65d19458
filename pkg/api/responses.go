package api

import "github.com/codeready-toolchain/meetingsvc/pkg/store"

// StartMeetingResponse is returned by POST /v1/meetings/start.
type StartMeetingResponse struct {
	MeetingID          string `json:"meeting_id"`
	Mode               string `json:"mode"`
	ConnectorAutoJoin  bool   `json:"connector_auto_join,omitempty"`
	ConnectorProvider  string `json:"connector_provider,omitempty"`
	ConnectorConnected bool   `json:"connector_connected,omitempty"`
}

// IngestChunkResponse is returned by POST .../chunks.
type IngestChunkResponse struct {
	ChunkSeq int64 `json:"chunk_seq"`
}

// MeetingResponse is returned by GET /v1/meetings/{id}.
type MeetingResponse struct {
	MeetingID          string  `json:"meeting_id"`
	TenantID           string  `json:"tenant_id,omitempty"`
	Title              string  `json:"title,omitempty"`
	Mode               string  `json:"mode"`
	Status             string  `json:"status"`
	Epoch              int64   `json:"epoch"`
	RawTranscript      string  `json:"raw_transcript,omitempty"`
	EnhancedTranscript string  `json:"enhanced_transcript,omitempty"`
	Report             string  `json:"report,omitempty"`
	Scorecard          string  `json:"scorecard,omitempty"`
	Comparison         string  `json:"comparison,omitempty"`
}

func newMeetingResponse(m *store.Meeting, artifacts map[store.ArtifactKind]*store.Artifact) MeetingResponse {
	resp := MeetingResponse{
		MeetingID: m.ID, TenantID: m.TenantID, Title: m.Title,
		Mode: string(m.Mode), Status: string(m.Status), Epoch: m.Epoch,
	}
	if a := artifacts[store.ArtifactRawTranscript]; a != nil {
		resp.RawTranscript = a.Content
	}
	if a := artifacts[store.ArtifactEnhancedTranscript]; a != nil {
		resp.EnhancedTranscript = a.Content
	}
	if a := artifacts[store.ArtifactReport]; a != nil {
		resp.Report = a.Content
	}
	if a := artifacts[store.ArtifactScorecard]; a != nil {
		resp.Scorecard = a.Content
	}
	if a := artifacts[store.ArtifactComparison]; a != nil {
		resp.Comparison = a.Content
	}
	return resp
}

// RebuildResponse is returned by POST .../artifacts/rebuild and the
// finalize convenience endpoint, both of which re-dispatch a pipeline
// stage and report back the epoch the dispatch ran under.
type RebuildResponse struct {
	MeetingID       string `json:"meeting_id"`
	Epoch           int64  `json:"epoch"`
	DispatchedStep  string `json:"dispatched_step"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// QueueHealth reports one queue's depth/DLQ state for the admin surface.
// Error is set, and the depth fields left at their zero value, when a
// broker call for this queue failed — callers must not read a zero depth
// as "empty queue" without first checking Error.
type QueueHealth struct {
	Queue        string `json:"queue"`
	Depth        int64  `json:"depth"`
	PendingDepth int64  `json:"pending_depth"`
	DLQDepth     int64  `json:"dlq_depth"`
	Error        string `json:"error,omitempty"`
}

// QueuesHealthResponse is returned by GET /v1/admin/queues/health.
type QueuesHealthResponse struct {
	BrokerReachable bool          `json:"broker_reachable"`
	Queues          []QueueHealth `json:"queues"`
}

// StorageHealthResponse is returned by GET /v1/admin/storage/health.
type StorageHealthResponse struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// ConnectorSessionResponse mirrors store.ConnectorSession for the admin surface.
type ConnectorSessionResponse struct {
	MeetingID           string `json:"meeting_id"`
	ConnectorKind       string `json:"connector_kind"`
	State               string `json:"state"`
	ExternalRef         string `json:"external_ref,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

func newConnectorSessionResponse(s *store.ConnectorSession) ConnectorSessionResponse {
	resp := ConnectorSessionResponse{
		MeetingID: s.MeetingID, ConnectorKind: s.ConnectorKind,
		State: string(s.State), ConsecutiveFailures: s.ConsecutiveFailures,
	}
	if s.ExternalRef != nil {
		resp.ExternalRef = *s.ExternalRef
	}
	return resp
}
