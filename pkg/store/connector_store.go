package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ConnectorSessionStore persists the per-meeting connector state machine
// (C6) and its TTL-bounded operation lock.
type ConnectorSessionStore struct {
	db *sqlx.DB
}

func NewConnectorSessionStore(db *sqlx.DB) *ConnectorSessionStore {
	return &ConnectorSessionStore{db: db}
}

// GetByMeeting returns the (at most one, per spec.md §3) non-terminal
// session for (meeting_id, connector_kind), or ErrNotFound.
func (s *ConnectorSessionStore) GetByMeeting(ctx context.Context, meetingID, connectorKind string) (*ConnectorSession, error) {
	var sess ConnectorSession
	err := s.db.GetContext(ctx, &sess,
		`SELECT * FROM connector_sessions WHERE meeting_id = $1 AND connector_kind = $2`,
		meetingID, connectorKind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &sess, err
}

// AcquireLock attempts to take the per-(meeting, connector) operation lock
// for ttl. Returns false if a live lock is already held by someone else
// (spec.md §4.6 "concurrent operations on the same meeting fail fast with
// a busy error").
func (s *ConnectorSessionStore) AcquireLock(ctx context.Context, meetingID, connectorKind string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.New().String()
	expiresAt := time.Now().Add(ttl)

	res, err := s.db.ExecContext(ctx, `
		UPDATE connector_sessions
		SET lock_token = $1, lock_expires_at = $2, updated_at = now()
		WHERE meeting_id = $3 AND connector_kind = $4
		  AND (lock_token IS NULL OR lock_expires_at < now())`,
		token, expiresAt, meetingID, connectorKind)
	if err != nil {
		return "", false, fmt.Errorf("store: acquire connector lock: %w", err)
	}
	n, _ := res.RowsAffected()
	return token, n == 1, nil
}

// ReleaseLock clears the lock if held with the given token (avoids
// releasing a lock some other operation already re-acquired after expiry).
func (s *ConnectorSessionStore) ReleaseLock(ctx context.Context, meetingID, connectorKind, token string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE connector_sessions SET lock_token = NULL, lock_expires_at = NULL, updated_at = now()
		WHERE meeting_id = $1 AND connector_kind = $2 AND lock_token = $3`,
		meetingID, connectorKind, token)
	return err
}

// Upsert creates or updates the session row for (meeting_id, connector_kind).
func (s *ConnectorSessionStore) Upsert(ctx context.Context, sess ConnectorSession) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connector_sessions
			(id, meeting_id, connector_kind, state, external_ref, last_pull_at, consecutive_failures, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (meeting_id, connector_kind) DO UPDATE SET
			state = EXCLUDED.state, external_ref = EXCLUDED.external_ref,
			last_pull_at = EXCLUDED.last_pull_at, consecutive_failures = EXCLUDED.consecutive_failures,
			updated_at = now()`,
		sess.ID, sess.MeetingID, sess.ConnectorKind, sess.State, sess.ExternalRef, sess.LastPullAt, sess.ConsecutiveFailures)
	return err
}

// Remove deletes the session row, used on successful `leave` (the "absent" state).
func (s *ConnectorSessionStore) Remove(ctx context.Context, meetingID, connectorKind string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM connector_sessions WHERE meeting_id = $1 AND connector_kind = $2`, meetingID, connectorKind)
	return err
}

// ListStale returns connected sessions whose last_pull_at is older than
// staleAfter, for the reconciliation loop's stale-reconnect scan, bounded by limit.
func (s *ConnectorSessionStore) ListStale(ctx context.Context, staleAfter time.Duration, limit int) ([]ConnectorSession, error) {
	var sessions []ConnectorSession
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT * FROM connector_sessions
		WHERE state = $1 AND (last_pull_at IS NULL OR last_pull_at < $2)
		ORDER BY updated_at ASC LIMIT $3`,
		SessionConnected, time.Now().Add(-staleAfter), limit)
	return sessions, err
}

// ListActive returns connected sessions for the reconciliation loop's
// live-pull scan, bounded by limit.
func (s *ConnectorSessionStore) ListActive(ctx context.Context, limit int) ([]ConnectorSession, error) {
	var sessions []ConnectorSession
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT * FROM connector_sessions WHERE state = $1 ORDER BY updated_at ASC LIMIT $2`,
		SessionConnected, limit)
	return sessions, err
}

// ListDisconnected returns sessions parked in SessionDisconnected (a
// connector that tripped FailReconnectThreshold), for the reconciliation
// loop's auto-reconnect scan — the C6 state diagram's
// disconnected--reconnect()-->joining edge otherwise has nothing left to
// drive it, since disconnected sessions are the terminal write of
// Manager.LivePull's failure path and no admin call walks them back.
func (s *ConnectorSessionStore) ListDisconnected(ctx context.Context, limit int) ([]ConnectorSession, error) {
	var sessions []ConnectorSession
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT * FROM connector_sessions WHERE state = $1 ORDER BY updated_at ASC LIMIT $2`,
		SessionDisconnected, limit)
	return sessions, err
}

// IncrementFailures bumps consecutive_failures and returns the new count,
// for the live-pull-fail-reconnect-threshold check (spec.md §4.6).
func (s *ConnectorSessionStore) IncrementFailures(ctx context.Context, meetingID, connectorKind string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		UPDATE connector_sessions SET consecutive_failures = consecutive_failures + 1, updated_at = now()
		WHERE meeting_id = $1 AND connector_kind = $2
		RETURNING consecutive_failures`, meetingID, connectorKind)
	return count, err
}

// ResetFailures zeroes consecutive_failures on a successful live-pull.
func (s *ConnectorSessionStore) ResetFailures(ctx context.Context, meetingID, connectorKind string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE connector_sessions SET consecutive_failures = 0, last_pull_at = now(), updated_at = now()
		WHERE meeting_id = $1 AND connector_kind = $2`, meetingID, connectorKind)
	return err
}
