package connector

import (
	"bytes"
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/meetingsvc/pkg/breaker"
	"github.com/codeready-toolchain/meetingsvc/pkg/store"
)

type stubClient struct {
	joinRef string
	joinErr error
	pulled  []RawChunk
	pullErr error
}

func (s *stubClient) Join(_ context.Context, _ string) (string, error) { return s.joinRef, s.joinErr }
func (s *stubClient) Leave(_ context.Context, _, _ string) error       { return nil }
func (s *stubClient) HealthCheck(_ context.Context, _, _ string) error { return nil }
func (s *stubClient) Pull(_ context.Context, _, _ string, _ int) ([]RawChunk, error) {
	return s.pulled, s.pullErr
}

type stubIngester struct{ ingested int }

func (s *stubIngester) IngestChunk(_ context.Context, _ string, _ RawChunk) error {
	s.ingested++
	return nil
}

func newManager(t *testing.T, client Client, ingest Ingester) (*Manager, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	sessions := store.NewConnectorSessionStore(sqlx.NewDb(db, "sqlmock"))

	br := breaker.NewManager(5, time.Minute, time.Second)
	return NewManager(sessions, client, br, ingest, "zoom"), mock
}

func TestManager_Join_NewSessionReachesConnected(t *testing.T) {
	client := &stubClient{joinRef: "ext-1"}
	m, mock := newManager(t, client, &stubIngester{})

	mock.ExpectExec("UPDATE connector_sessions").WillReturnResult(sqlmock.NewResult(0, 1)) // AcquireLock
	mock.ExpectQuery("SELECT \\* FROM connector_sessions").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO connector_sessions").WillReturnResult(sqlmock.NewResult(0, 1)) // joining
	mock.ExpectExec("INSERT INTO connector_sessions").WillReturnResult(sqlmock.NewResult(0, 1)) // connected
	mock.ExpectExec("UPDATE connector_sessions").WillReturnResult(sqlmock.NewResult(0, 1))      // ReleaseLock

	sess, err := m.Join(context.Background(), "m-1")
	require.NoError(t, err)
	require.Equal(t, store.SessionConnected, sess.State)
	require.Equal(t, "ext-1", *sess.ExternalRef)
}

func TestManager_Join_LockBusyFailsFast(t *testing.T) {
	m, mock := newManager(t, &stubClient{}, &stubIngester{})

	mock.ExpectExec("UPDATE connector_sessions").WillReturnResult(sqlmock.NewResult(0, 0)) // contended

	_, err := m.Join(context.Background(), "m-1")
	require.ErrorIs(t, err, ErrBusy)
}

func TestManager_LivePull_IngestsValidChunksAndSkipsInvalid(t *testing.T) {
	client := &stubClient{pulled: []RawChunk{
		{ContentType: "audio/wav", Data: bytes.NewReader([]byte("a"))},
		{ContentType: "", Data: bytes.NewReader([]byte("b"))}, // invalid, no content type
	}}
	ingest := &stubIngester{}
	m, mock := newManager(t, client, ingest)

	ref := "ext-1"
	rows := sqlmock.NewRows([]string{
		"id", "meeting_id", "connector_kind", "state", "external_ref", "last_pull_at",
		"consecutive_failures", "lock_token", "lock_expires_at", "created_at", "updated_at",
	}).AddRow("sess-1", "m-1", "zoom", string(store.SessionConnected), ref, time.Now(), 0, nil, nil, time.Now(), time.Now())

	mock.ExpectExec("UPDATE connector_sessions").WillReturnResult(sqlmock.NewResult(0, 1)) // AcquireLock
	mock.ExpectQuery("SELECT \\* FROM connector_sessions").WillReturnRows(rows)
	mock.ExpectExec("UPDATE connector_sessions").WillReturnResult(sqlmock.NewResult(0, 1)) // ResetFailures
	mock.ExpectExec("UPDATE connector_sessions").WillReturnResult(sqlmock.NewResult(0, 1)) // ReleaseLock

	pulled, err := m.LivePull(context.Background(), "m-1")
	require.NoError(t, err)
	require.Equal(t, 1, pulled)
	require.Equal(t, 1, ingest.ingested)
}
