// Package pipeline implements the four forward pipeline stages (C4):
// STT, Enhancer, Analytics, Delivery. Each is a worker.Handler, idempotent
// per (meeting_id, step, epoch, payload); the same stage bodies back both
// the queued worker path and QUEUE_MODE=inline's synchronous path.
package pipeline

// ChunkPayload is the q:stt job payload: either one newly-ingested chunk, or
// a bare finalize signal (Finalize=true, ChunkID empty) from an explicit
// finalize call (HTTP endpoint or WebSocket frame); no inactivity timer
// emits one.
type ChunkPayload struct {
	ChunkID     string `json:"chunk_id,omitempty"`
	ChunkSeq    int64  `json:"chunk_seq,omitempty"`
	BlobRef     string `json:"blob_ref,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Finalize    bool   `json:"finalize,omitempty"`
}

// StagePayload is the payload for q:enhancer/q:analytics/q:delivery jobs,
// which operate on the meeting's current artifacts rather than a specific
// chunk; it carries nothing beyond what the envelope already has, but
// exists as a distinct, named type so the idempotency hash has a stable
// shape per stage.
type StagePayload struct {
	MeetingID string `json:"meeting_id"`
}
