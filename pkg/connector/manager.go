package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/meetingsvc/pkg/breaker"
	"github.com/codeready-toolchain/meetingsvc/pkg/metrics"
	"github.com/codeready-toolchain/meetingsvc/pkg/store"
)

// ErrBusy is returned when a concurrent operation already holds the
// per-meeting operation lock (spec.md §4.6 "fail fast with a busy error").
var ErrBusy = errors.New("connector: operation in progress")

// Ingester is the shared ingest normalization path (C9) that live-pull
// reuses so provider-pulled chunks and client-pushed chunks go through
// identical validation/persistence/enqueue logic.
type Ingester interface {
	IngestChunk(ctx context.Context, meetingID string, chunk RawChunk) error
}

// Manager drives the per-meeting connector state machine (spec.md §4.6).
type Manager struct {
	Sessions *store.ConnectorSessionStore
	Provider Client
	Breaker  *breaker.Manager
	Ingest   Ingester

	ConnectorKind          string
	OpLockTTL              time.Duration
	JoinIdempotentTTL      time.Duration
	LivePullBatchLimit     int
	FailReconnectThreshold int

	logger *slog.Logger
}

// NewManager constructs a Manager with default TTLs, batch limit and failure
// threshold; it logs through slog.Default().
func NewManager(sessions *store.ConnectorSessionStore, provider Client, br *breaker.Manager, ingest Ingester, connectorKind string) *Manager {
	return &Manager{
		Sessions:               sessions,
		Provider:               provider,
		Breaker:                br,
		Ingest:                 ingest,
		ConnectorKind:          connectorKind,
		OpLockTTL:              30 * time.Second,
		JoinIdempotentTTL:      5 * time.Minute,
		LivePullBatchLimit:     50,
		FailReconnectThreshold: 3,
		logger:                 slog.Default().With("component", "connector", "kind", connectorKind),
	}
}

// withLock acquires the per-meeting operation lock for the duration of fn,
// failing fast with ErrBusy if another operation already holds it
// (spec.md §5 "parallel attempts fail fast, they do not queue").
func (m *Manager) withLock(ctx context.Context, meetingID string, fn func(ctx context.Context) error) error {
	token, ok, err := m.Sessions.AcquireLock(ctx, meetingID, m.ConnectorKind, m.OpLockTTL)
	if err != nil {
		return fmt.Errorf("connector: acquire lock: %w", err)
	}
	if !ok {
		return ErrBusy
	}
	defer func() {
		if err := m.Sessions.ReleaseLock(ctx, meetingID, m.ConnectorKind, token); err != nil {
			m.logger.Warn("failed to release operation lock", "meeting_id", meetingID, "error", err)
		}
	}()
	return fn(ctx)
}

// Join starts or idempotently resumes a connected session for meetingID.
func (m *Manager) Join(ctx context.Context, meetingID string) (*store.ConnectorSession, error) {
	var result *store.ConnectorSession
	err := m.withLock(ctx, meetingID, func(ctx context.Context) error {
		existing, err := m.Sessions.GetByMeeting(ctx, meetingID, m.ConnectorKind)
		if err == nil && existing.State == store.SessionConnected {
			if existing.LastPullAt == nil || time.Since(*existing.LastPullAt) < m.JoinIdempotentTTL {
				result = existing
				return nil
			}
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("connector: read session: %w", err)
		}

		if err := m.Sessions.Upsert(ctx, store.ConnectorSession{
			MeetingID: meetingID, ConnectorKind: m.ConnectorKind, State: store.SessionJoining,
		}); err != nil {
			return fmt.Errorf("connector: upsert joining: %w", err)
		}

		var externalRef string
		callErr := m.Breaker.Call(ctx, m.ConnectorKind, func(ctx context.Context) error {
			var err error
			externalRef, err = m.Provider.Join(ctx, meetingID)
			return err
		})

		if callErr != nil {
			state := store.SessionJoining
			if errors.Is(callErr, breaker.ErrOpen) || CategoryOf(callErr).Retryable() {
				state = store.SessionJoining // left in joining for the caller to retry
			} else {
				state = store.SessionDead
			}
			_ = m.Sessions.Upsert(ctx, store.ConnectorSession{
				MeetingID: meetingID, ConnectorKind: m.ConnectorKind, State: state,
			})
			return fmt.Errorf("connector: join: %w", callErr)
		}

		ref := externalRef
		now := time.Now()
		sess := store.ConnectorSession{
			MeetingID: meetingID, ConnectorKind: m.ConnectorKind,
			State: store.SessionConnected, ExternalRef: &ref, LastPullAt: &now,
		}
		if err := m.Sessions.Upsert(ctx, sess); err != nil {
			return fmt.Errorf("connector: upsert connected: %w", err)
		}
		result = &sess
		return nil
	})
	return result, err
}

// Leave ends a session and removes its record (the "absent" state).
func (m *Manager) Leave(ctx context.Context, meetingID string) error {
	return m.withLock(ctx, meetingID, func(ctx context.Context) error {
		sess, err := m.Sessions.GetByMeeting(ctx, meetingID, m.ConnectorKind)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("connector: read session: %w", err)
		}

		if sess.ExternalRef != nil {
			callErr := m.Breaker.Call(ctx, m.ConnectorKind, func(ctx context.Context) error {
				return m.Provider.Leave(ctx, meetingID, *sess.ExternalRef)
			})
			if callErr != nil && !errors.Is(callErr, breaker.ErrOpen) {
				m.logger.Warn("provider leave failed, removing session anyway", "meeting_id", meetingID, "error", callErr)
			}
		}
		return m.Sessions.Remove(ctx, meetingID, m.ConnectorKind)
	})
}

// Reconnect forces a disconnected/stale session back through joining.
func (m *Manager) Reconnect(ctx context.Context, meetingID string) (*store.ConnectorSession, error) {
	var result *store.ConnectorSession
	err := m.withLock(ctx, meetingID, func(ctx context.Context) error {
		if err := m.Sessions.Upsert(ctx, store.ConnectorSession{
			MeetingID: meetingID, ConnectorKind: m.ConnectorKind, State: store.SessionDisconnected,
		}); err != nil {
			return fmt.Errorf("connector: mark disconnected: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.Join(ctx, meetingID)
}

// Status returns the current session record, or ErrNotFound if absent.
func (m *Manager) Status(ctx context.Context, meetingID string) (*store.ConnectorSession, error) {
	return m.Sessions.GetByMeeting(ctx, meetingID, m.ConnectorKind)
}

// LivePull fetches the next batch of chunks for a connected session and
// hands each to the ingest facade exactly as a client-pushed chunk
// (spec.md §4.6). After FailReconnectThreshold consecutive failures it marks
// the session disconnected; the reconciliation loop's auto-reconnect scan is
// what walks it back through Reconnect.
func (m *Manager) LivePull(ctx context.Context, meetingID string) (pulled int, err error) {
	err = m.withLock(ctx, meetingID, func(ctx context.Context) error {
		sess, err := m.Sessions.GetByMeeting(ctx, meetingID, m.ConnectorKind)
		if err != nil {
			return fmt.Errorf("connector: read session: %w", err)
		}
		if sess.State != store.SessionConnected || sess.ExternalRef == nil {
			return fmt.Errorf("connector: session not connected")
		}

		var chunks []RawChunk
		callErr := m.Breaker.Call(ctx, m.ConnectorKind, func(ctx context.Context) error {
			var err error
			chunks, err = m.Provider.Pull(ctx, meetingID, *sess.ExternalRef, m.LivePullBatchLimit)
			return err
		})
		if callErr != nil {
			metrics.IncLivePullOutcome(m.ConnectorKind, "failure")
			count, incErr := m.Sessions.IncrementFailures(ctx, meetingID, m.ConnectorKind)
			if incErr != nil {
				return fmt.Errorf("connector: increment failures: %w", incErr)
			}
			if count >= m.FailReconnectThreshold {
				_ = m.Sessions.Upsert(ctx, store.ConnectorSession{
					MeetingID: meetingID, ConnectorKind: m.ConnectorKind, State: store.SessionDisconnected,
				})
			}
			return fmt.Errorf("connector: live_pull: %w", callErr)
		}

		invalid := 0
		for _, chunk := range chunks {
			if chunk.ContentType == "" {
				invalid++
				continue
			}
			if err := m.Ingest.IngestChunk(ctx, meetingID, chunk); err != nil {
				invalid++
				continue
			}
			pulled++
		}
		if invalid > 0 {
			m.logger.Warn("live_pull rejected invalid chunks", "meeting_id", meetingID, "count", invalid)
		}

		metrics.IncLivePullOutcome(m.ConnectorKind, "success")
		return m.Sessions.ResetFailures(ctx, meetingID, m.ConnectorKind)
	})
	return pulled, err
}
