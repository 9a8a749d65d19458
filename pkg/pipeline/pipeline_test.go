package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/meetingsvc/pkg/blob"
	"github.com/codeready-toolchain/meetingsvc/pkg/broker"
	"github.com/codeready-toolchain/meetingsvc/pkg/config"
	"github.com/codeready-toolchain/meetingsvc/pkg/jobs"
	"github.com/codeready-toolchain/meetingsvc/pkg/store"
	"github.com/codeready-toolchain/meetingsvc/pkg/worker"
)

type sttStub struct{}

func (sttStub) Transcribe(_ context.Context, r io.Reader, _ string) (string, error) {
	_, _ = io.ReadAll(r)
	return "hello", nil
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func newPipeline(t *testing.T) (*Pipeline, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	blobs, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	return &Pipeline{
		Meetings:    store.NewMeetingStore(sqlxDB),
		Idempotency: store.NewIdempotencyStore(sqlxDB),
		Blobs:       blobs,
		Transcriber: sttStub{},
	}, mock
}

func TestHandleSTT_AppendsSegmentAndSucceeds(t *testing.T) {
	p, mock := newPipeline(t)

	_, err := p.Blobs.Put(context.Background(), "m-1/0", strings.NewReader("audio bytes"))
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO idempotency_keys").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT \\* FROM artifacts").WillReturnError(sql.ErrNoRows)
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO artifacts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE idempotency_keys").WillReturnResult(sqlmock.NewResult(0, 1))

	env := jobs.Envelope{
		JobID: "job-1", MeetingID: "m-1", Step: jobs.StepSTT, Epoch: 0,
		Payload: mustJSON(t, ChunkPayload{ChunkID: "c-1", BlobRef: "m-1/0", ContentType: "audio/wav"}),
	}
	result := p.HandleSTT(context.Background(), env)
	require.Equal(t, worker.OutcomeSuccess, result.Outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleSTT_MalformedPayloadGoesToDLQ(t *testing.T) {
	p, _ := newPipeline(t)

	env := jobs.Envelope{JobID: "job-2", MeetingID: "m-1", Step: jobs.StepSTT, Payload: json.RawMessage(`not json`)}
	result := p.HandleSTT(context.Background(), env)
	require.Equal(t, worker.OutcomeDLQ, result.Outcome)
}

func TestDispatch_QueueModeEnqueuesOntoBroker(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	p := &Pipeline{Broker: broker.New(rdb), QueueMode: config.QueueModeQueue, MaxAttempts: 3}

	err = p.Dispatch(context.Background(), jobs.StepEnhancer, "m-1", 0, StagePayload{MeetingID: "m-1"}, "", "")
	require.NoError(t, err)

	depth, err := p.Broker.Depth(context.Background(), jobs.StepEnhancer.Queue())
	require.NoError(t, err)
	require.EqualValues(t, 1, depth)
}
