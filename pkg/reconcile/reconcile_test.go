package reconcile

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/meetingsvc/pkg/breaker"
	"github.com/codeready-toolchain/meetingsvc/pkg/connector"
	"github.com/codeready-toolchain/meetingsvc/pkg/store"
)

type noopClient struct{}

func (noopClient) Join(_ context.Context, _ string) (string, error)            { return "ext", nil }
func (noopClient) Leave(_ context.Context, _, _ string) error                  { return nil }
func (noopClient) HealthCheck(_ context.Context, _, _ string) error            { return nil }
func (noopClient) Pull(_ context.Context, _, _ string, _ int) ([]connector.RawChunk, error) {
	return nil, nil
}

type noopIngester struct{}

func (noopIngester) IngestChunk(_ context.Context, _ string, _ connector.RawChunk) error { return nil }

func newLoop(t *testing.T) (*Loop, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	sessions := store.NewConnectorSessionStore(sqlx.NewDb(db, "sqlmock"))

	br := breaker.NewManager(5, time.Minute, time.Second)
	mgr := connector.NewManager(sessions, noopClient{}, br, noopIngester{}, "zoom")

	loop := NewLoop(sessions, mgr, br, Config{
		Interval:                time.Second,
		StaleAfter:              time.Minute,
		ReconciliationLimit:     10,
		LivePullSessionsLimit:   10,
		LivePullBatchLimit:      10,
		AutoReconnectAfterFails: 3,
		FanOut:                  1,
	})
	return loop, mock
}

func TestTick_NoSessionsIsNoop(t *testing.T) {
	loop, mock := newLoop(t)

	mock.ExpectQuery("SELECT \\* FROM connector_sessions").WillReturnRows(
		sqlmock.NewRows([]string{"id"})) // ListStale: empty
	mock.ExpectQuery("SELECT \\* FROM connector_sessions").WillReturnRows(
		sqlmock.NewRows([]string{"id"})) // ListDisconnected: empty (AutoReconnectAfterFails > 0)
	mock.ExpectQuery("SELECT \\* FROM connector_sessions").WillReturnRows(
		sqlmock.NewRows([]string{"id"})) // ListActive: empty

	require.NoError(t, loop.Tick(context.Background()))
}

func TestTick_StaleSessionBusyIsTolerated(t *testing.T) {
	loop, mock := newLoop(t)

	rows := sqlmock.NewRows([]string{
		"id", "meeting_id", "connector_kind", "state", "external_ref", "last_pull_at",
		"consecutive_failures", "lock_token", "lock_expires_at", "created_at", "updated_at",
	}).AddRow("sess-1", "m-1", "zoom", string(store.SessionConnected), nil, nil, 0, nil, nil, time.Now(), time.Now())

	mock.ExpectQuery("SELECT \\* FROM connector_sessions").WillReturnRows(rows) // ListStale: one
	mock.ExpectQuery("SELECT \\* FROM connector_sessions").WillReturnRows(
		sqlmock.NewRows([]string{"id"})) // ListDisconnected: empty
	mock.ExpectExec("UPDATE connector_sessions").WillReturnResult(sqlmock.NewResult(0, 0)) // AcquireLock busy
	mock.ExpectQuery("SELECT \\* FROM connector_sessions").WillReturnRows(
		sqlmock.NewRows([]string{"id"})) // ListActive: empty

	require.NoError(t, loop.Tick(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTick_DisconnectedSessionReconnects(t *testing.T) {
	loop, mock := newLoop(t)

	rows := sqlmock.NewRows([]string{
		"id", "meeting_id", "connector_kind", "state", "external_ref", "last_pull_at",
		"consecutive_failures", "lock_token", "lock_expires_at", "created_at", "updated_at",
	}).AddRow("sess-2", "m-2", "zoom", string(store.SessionDisconnected), nil, nil, 3, nil, nil, time.Now(), time.Now())

	mock.ExpectQuery("SELECT \\* FROM connector_sessions").WillReturnRows(
		sqlmock.NewRows([]string{"id"})) // ListStale: empty
	mock.ExpectQuery("SELECT \\* FROM connector_sessions").WillReturnRows(rows) // ListDisconnected: one

	// Manager.Reconnect: mark disconnected, then Join (acquire lock, read
	// session, upsert joining, provider join, upsert connected, release lock).
	mock.ExpectExec("UPDATE connector_sessions").WillReturnResult(sqlmock.NewResult(0, 1)) // AcquireLock (mark disconnected)
	mock.ExpectExec("INSERT INTO connector_sessions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE connector_sessions").WillReturnResult(sqlmock.NewResult(0, 1)) // ReleaseLock
	mock.ExpectExec("UPDATE connector_sessions").WillReturnResult(sqlmock.NewResult(0, 1)) // AcquireLock (join)
	mock.ExpectQuery("SELECT \\* FROM connector_sessions").WillReturnRows(rows)             // GetByMeeting
	mock.ExpectExec("INSERT INTO connector_sessions").WillReturnResult(sqlmock.NewResult(0, 1)) // upsert joining
	mock.ExpectExec("INSERT INTO connector_sessions").WillReturnResult(sqlmock.NewResult(0, 1)) // upsert connected
	mock.ExpectExec("UPDATE connector_sessions").WillReturnResult(sqlmock.NewResult(0, 1))       // ReleaseLock

	mock.ExpectQuery("SELECT \\* FROM connector_sessions").WillReturnRows(
		sqlmock.NewRows([]string{"id"})) // ListActive: empty

	require.NoError(t, loop.Tick(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
