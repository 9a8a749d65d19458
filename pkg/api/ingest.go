package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/meetingsvc/pkg/blob"
	"github.com/codeready-toolchain/meetingsvc/pkg/connector"
	"github.com/codeready-toolchain/meetingsvc/pkg/jobs"
	"github.com/codeready-toolchain/meetingsvc/pkg/pipeline"
	"github.com/codeready-toolchain/meetingsvc/pkg/store"
)

// IngestFacade is the single normalization path spec.md §4.9 requires: HTTP
// chunk uploads, WebSocket chunk frames, and connector live-pull all funnel
// through it before anything touches storage or the queue, so ordering and
// idempotency behave identically regardless of entry point.
type IngestFacade struct {
	Meetings *store.MeetingStore
	Blobs    blob.Store
	Pipeline *pipeline.Pipeline
}

// Ingest assigns chunk_seq, persists data to blob storage, writes the chunk
// record, and dispatches the STT stage. Returns the assigned chunk_seq.
func (f *IngestFacade) Ingest(ctx context.Context, meetingID, contentType string, data []byte, source string) (int64, error) {
	seq, err := f.Meetings.NextChunkSeq(ctx, meetingID)
	if err != nil {
		return 0, fmt.Errorf("ingest: assign chunk_seq: %w", err)
	}
	ref := blob.Ref(meetingID, seq)
	size, err := f.Blobs.Put(ctx, ref, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("ingest: store blob: %w", err)
	}
	return seq, f.finish(ctx, meetingID, seq, ref, size, contentType, source)
}

// IngestRef persists a chunk whose media already lives at blobRef (e.g. a
// client that uploaded directly to shared storage out of band), skipping
// the Put.
func (f *IngestFacade) IngestRef(ctx context.Context, meetingID, contentType, blobRef string, byteSize int64, source string) (int64, error) {
	ok, err := f.Blobs.Probe(ctx, blobRef)
	if err != nil {
		return 0, fmt.Errorf("ingest: probe blob_ref: %w", err)
	}
	if !ok {
		return 0, store.ErrNotFound
	}
	seq, err := f.Meetings.NextChunkSeq(ctx, meetingID)
	if err != nil {
		return 0, fmt.Errorf("ingest: assign chunk_seq: %w", err)
	}
	return seq, f.finish(ctx, meetingID, seq, blobRef, byteSize, contentType, source)
}

func (f *IngestFacade) finish(ctx context.Context, meetingID string, seq int64, blobRef string, byteSize int64, contentType, source string) error {
	if err := f.Meetings.PutChunk(ctx, store.Chunk{
		ID: uuid.New().String(), MeetingID: meetingID, ChunkSeq: seq,
		BlobRef: blobRef, ByteSize: byteSize, ContentType: contentType, Source: source,
		CreatedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("ingest: persist chunk record: %w", err)
	}
	if err := f.Meetings.SetStatus(ctx, meetingID, store.StatusIngesting); err != nil && !errors.Is(err, store.ErrInvalidStatusTransition) {
		return fmt.Errorf("ingest: mark ingesting: %w", err)
	}

	meeting, err := f.Meetings.GetMeeting(ctx, "", meetingID)
	if err != nil {
		return fmt.Errorf("ingest: read meeting epoch: %w", err)
	}

	payload := pipeline.ChunkPayload{ChunkSeq: seq, BlobRef: blobRef, ContentType: contentType}
	return f.Pipeline.Dispatch(ctx, jobs.StepSTT, meetingID, meeting.Epoch, payload, jobs.NewTraceID(), "")
}

// Finalize marks ingestion complete and sends the finalize signal down
// q:stt, which the STT stage treats as the trigger to enqueue enhancement
// (pkg/pipeline.HandleSTT). Finalize is explicit only (POST .../finalize or
// a `finalize` WebSocket frame); there is no inactivity timer. Safe to call
// more than once: the finalize payload hashes identically across calls
// within an epoch, so a repeat call re-dispatches the stages, and each one
// skips its provider call once its idempotency key is complete.
func (f *IngestFacade) Finalize(ctx context.Context, meetingID string) error {
	meeting, err := f.Meetings.GetMeeting(ctx, "", meetingID)
	if err != nil {
		return fmt.Errorf("ingest: read meeting epoch: %w", err)
	}
	return f.Pipeline.Dispatch(ctx, jobs.StepSTT, meetingID, meeting.Epoch,
		pipeline.ChunkPayload{Finalize: true}, jobs.NewTraceID(), "")
}

// wsIngestAdapter adapts IngestFacade to events.ChunkIngester. The WebSocket
// frame's client-supplied seq is used only for the client's own ack
// correlation (pkg/events echoes it back); the facade always assigns the
// authoritative chunk_seq itself.
type wsIngestAdapter struct{ facade *IngestFacade }

// NewWSIngestAdapter returns the events.ChunkIngester the WebSocket
// connection manager drives.
func NewWSIngestAdapter(f *IngestFacade) interface {
	IngestChunk(ctx context.Context, meetingID string, seq int64, contentType string, data []byte) error
	Finalize(ctx context.Context, meetingID string) error
} {
	return wsIngestAdapter{facade: f}
}

func (a wsIngestAdapter) IngestChunk(ctx context.Context, meetingID string, _ int64, contentType string, data []byte) error {
	_, err := a.facade.Ingest(ctx, meetingID, contentType, data, "client")
	return err
}

func (a wsIngestAdapter) Finalize(ctx context.Context, meetingID string) error {
	return a.facade.Finalize(ctx, meetingID)
}

// connectorIngestAdapter adapts IngestFacade to connector.Ingester, so
// live-pulled chunks flow through exactly the same normalization path as a
// client POST (spec.md §4.6).
type connectorIngestAdapter struct{ facade *IngestFacade }

// NewConnectorIngestAdapter returns the connector.Ingester a connector
// lifecycle Manager drives from LivePull.
func NewConnectorIngestAdapter(f *IngestFacade) connector.Ingester {
	return connectorIngestAdapter{facade: f}
}

func (a connectorIngestAdapter) IngestChunk(ctx context.Context, meetingID string, chunk connector.RawChunk) error {
	data, err := io.ReadAll(chunk.Data)
	if err != nil {
		return fmt.Errorf("connector ingest: read chunk data: %w", err)
	}
	_, err = a.facade.Ingest(ctx, meetingID, chunk.ContentType, data, "connector")
	return err
}
