package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/meetingsvc/pkg/connector"
	"github.com/codeready-toolchain/meetingsvc/pkg/jobs"
	"github.com/codeready-toolchain/meetingsvc/pkg/pipeline"
	"github.com/codeready-toolchain/meetingsvc/pkg/reconcile"
	"github.com/codeready-toolchain/meetingsvc/pkg/store"
)

// TestScenario_CrashAfterClaimBeforeArtifact_RedeliveryCompletesIt exercises
// S2: a worker claims an STT job, then crashes before transcribeChunk/
// SetResult ever runs. The job is redelivered (here: the same handler is
// invoked a second time against the same envelope, which is exactly what
// the worker pool does on redelivery). The redelivered attempt must still
// produce the artifact — a bare existence check on the idempotency row
// would instead see the crashed claim and skip the side effect forever.
func TestScenario_CrashAfterClaimBeforeArtifact_RedeliveryCompletesIt(t *testing.T) {
	app := NewTestApp(t)
	ctx := context.Background()

	meeting, err := app.Meetings.CreateMeeting(ctx, "tenant-1", "S2 crash/redelivery", store.ModeBatch)
	require.NoError(t, err)

	blobRef := "chunks/" + meeting.ID + "/0"
	_, err = app.Blobs.Put(ctx, blobRef, bytes.NewReader([]byte("hello from the meeting")))
	require.NoError(t, err)

	payload := pipeline.ChunkPayload{ChunkID: "chunk-0", ChunkSeq: 0, BlobRef: blobRef, ContentType: "audio/wav"}
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	env := jobs.Envelope{
		JobID: "job-crash-1", Queue: jobs.StepSTT.Queue(), MeetingID: meeting.ID, Step: jobs.StepSTT,
		Attempt: 1, MaxAttempts: 5, Payload: data, Epoch: 0,
		TraceID: jobs.NewTraceID(), SpanID: jobs.NewSpanID(),
	}

	// Simulate the crashed first attempt: it claimed the key (the INSERT
	// committed) but the process died before transcribeChunk/SetResult ran.
	require.NoError(t, app.Idempotency.Claim(ctx, env.Key(), env.MeetingID, string(env.Step), env.Epoch))

	_, err = app.Meetings.GetArtifact(ctx, meeting.ID, store.ArtifactRawTranscript)
	require.ErrorIs(t, err, store.ErrNotFound, "precondition: crashed attempt must not have written the artifact")

	// Redelivery: the worker pool hands the same envelope to the handler again.
	result := app.Pipeline.HandleSTT(ctx, env)
	require.Equal(t, "", result.Reason)

	artifact, err := app.Meetings.GetArtifact(ctx, meeting.ID, store.ArtifactRawTranscript)
	require.NoError(t, err, "redelivery must retry the side effect a crashed pending claim left undone")
	require.NotEmpty(t, artifact.Content)

	// The key is now complete: a second redelivery (e.g. a duplicate at-least-
	// once delivery after the ack itself was lost) must not transcribe again.
	result2 := app.Pipeline.HandleSTT(ctx, env)
	require.Equal(t, "", result2.Reason)
	artifact2, err := app.Meetings.GetArtifact(ctx, meeting.ID, store.ArtifactRawTranscript)
	require.NoError(t, err)
	require.Equal(t, artifact.Content, artifact2.Content, "a completed key must not be retranscribed")
}

// flakyThenHealthyClient fails Pull until reconnected past failAfter
// attempts, then behaves like a healthy provider. Join always succeeds,
// making the disconnected -> reconnect() -> joining -> connected path
// deterministic to observe.
type flakyThenHealthyClient struct {
	pulls int
}

func (c *flakyThenHealthyClient) Join(_ context.Context, meetingID string) (string, error) {
	return "ext-" + meetingID, nil
}
func (c *flakyThenHealthyClient) Leave(_ context.Context, _, _ string) error { return nil }
func (c *flakyThenHealthyClient) HealthCheck(_ context.Context, _, _ string) error { return nil }
func (c *flakyThenHealthyClient) Pull(_ context.Context, _, _ string, _ int) ([]connector.RawChunk, error) {
	c.pulls++
	if c.pulls <= 2 {
		return nil, &connector.ProviderError{Category: connector.CategoryRetryable, Err: context.DeadlineExceeded}
	}
	return nil, nil
}

type noopIngester struct{}

func (noopIngester) IngestChunk(_ context.Context, _ string, _ connector.RawChunk) error { return nil }

// TestScenario_ConnectorReconnectsAfterFailureThreshold exercises S6: once
// LivePull trips FailReconnectThreshold, the session is parked in
// SessionDisconnected. Before the fix, no reconciliation scan ever read
// that state back — the session stayed stuck there forever. The
// reconciliation loop's reconnectStale must walk it back through Join.
func TestScenario_ConnectorReconnectsAfterFailureThreshold(t *testing.T) {
	app := NewTestApp(t)
	ctx := context.Background()

	client := &flakyThenHealthyClient{}
	mgr := app.NewManager(client, noopIngester{}, "meet")
	mgr.FailReconnectThreshold = 2

	meeting, err := app.Meetings.CreateMeeting(ctx, "tenant-1", "S6 reconnect threshold", store.ModeRealtime)
	require.NoError(t, err)

	_, err = mgr.Join(ctx, meeting.ID)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := mgr.LivePull(ctx, meeting.ID)
		require.Error(t, err)
	}

	sess, err := mgr.Status(ctx, meeting.ID)
	require.NoError(t, err)
	require.Equal(t, store.SessionDisconnected, sess.State, "FailReconnectThreshold consecutive failures must park the session as disconnected")

	loop := app.reconcileLoop(mgr, reconcile.Config{
		Interval: time.Second, StaleAfter: time.Hour, ReconciliationLimit: 10,
		AutoReconnectAfterFails: 1, LivePullSessionsLimit: 10, LivePullBatchLimit: 10, FanOut: 1,
	})
	require.NoError(t, loop.Tick(ctx))

	sess, err = mgr.Status(ctx, meeting.ID)
	require.NoError(t, err)
	require.Equal(t, store.SessionConnected, sess.State, "reconciliation must walk a disconnected session back through reconnect()")
}
