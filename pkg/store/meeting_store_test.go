package store

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*MeetingStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewMeetingStore(sqlx.NewDb(db, "sqlmock")), mock
}

func TestMeetingStore_CreateMeeting(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO meetings").WillReturnResult(sqlmock.NewResult(1, 1))

	m, err := store.CreateMeeting(context.Background(), "tenant-1", "Weekly Sync", ModeBatch)
	require.NoError(t, err)
	require.Equal(t, StatusCreated, m.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMeetingStore_SetStatus_RejectsBackwardTransition(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM meetings").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(StatusDone)))
	mock.ExpectRollback()

	err := store.SetStatus(context.Background(), "m-1", StatusIngesting)
	require.ErrorIs(t, err, ErrInvalidStatusTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMeetingStore_SetStatus_RejectsFailedToProcessingWithoutRebuild(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM meetings").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(StatusFailed)))
	mock.ExpectRollback()

	err := store.SetStatus(context.Background(), "m-1", StatusProcessing)
	require.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestMeetingStore_SetStatus_AllowsForwardTransition(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM meetings").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(StatusCreated)))
	mock.ExpectExec("UPDATE meetings SET status").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.SetStatus(context.Background(), "m-1", StatusIngesting)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
