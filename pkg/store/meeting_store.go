package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// statusRank enforces spec.md §3's monotone status invariant: a write that
// would move status backward is rejected, except the explicit rebuild path
// (processing -> failed -> processing), which callers express via
// RebuildMeeting rather than SetStatus.
var statusRank = map[MeetingStatus]int{
	StatusCreated:    0,
	StatusIngesting:  1,
	StatusProcessing: 2,
	StatusDone:       3,
	StatusFailed:     2, // same rank as processing: forward from ingesting, not from done
}

// MeetingStore is the C5 meeting/chunk/artifact store.
type MeetingStore struct {
	db *sqlx.DB
}

func NewMeetingStore(db *sqlx.DB) *MeetingStore {
	return &MeetingStore{db: db}
}

// CreateMeeting inserts a new meeting in StatusCreated.
func (s *MeetingStore) CreateMeeting(ctx context.Context, tenantID, title string, mode MeetingMode) (*Meeting, error) {
	m := &Meeting{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Title:     title,
		Mode:      mode,
		Status:    StatusCreated,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meetings (id, tenant_id, title, mode, status, epoch, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $6)`,
		m.ID, m.TenantID, m.Title, m.Mode, m.Status, m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: create meeting: %w", err)
	}
	return m, nil
}

// GetMeeting loads a meeting, optionally scoped by tenant (tenant
// enforcement per spec.md §4.10 — pass "" to skip the filter from
// service-contour callers that already validated tenant independently).
func (s *MeetingStore) GetMeeting(ctx context.Context, tenantID, meetingID string) (*Meeting, error) {
	var m Meeting
	query := `SELECT * FROM meetings WHERE id = $1`
	args := []any{meetingID}
	if tenantID != "" {
		query += ` AND tenant_id = $2`
		args = append(args, tenantID)
	}
	err := s.db.GetContext(ctx, &m, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get meeting %s: %w", meetingID, err)
	}
	return &m, nil
}

// SetStatus enforces the monotone invariant before writing.
func (s *MeetingStore) SetStatus(ctx context.Context, meetingID string, next MeetingStatus) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var current MeetingStatus
		if err := tx.GetContext(ctx, &current, `SELECT status FROM meetings WHERE id = $1 FOR UPDATE`, meetingID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("store: read status: %w", err)
		}
		if current == StatusDone {
			return fmt.Errorf("%w: %s is terminal", ErrInvalidStatusTransition, current)
		}
		if statusRank[next] < statusRank[current] {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, current, next)
		}
		if current == StatusFailed && next == StatusProcessing {
			return fmt.Errorf("%w: %s -> %s requires an explicit rebuild", ErrInvalidStatusTransition, current, next)
		}
		_, err := tx.ExecContext(ctx, `UPDATE meetings SET status = $1, updated_at = now() WHERE id = $2`, next, meetingID)
		return err
	})
}

// Rebuild bumps the meeting's epoch and forces status back to processing,
// the one explicit exception to forward-only status (spec.md §3, §4.4).
func (s *MeetingStore) Rebuild(ctx context.Context, meetingID string) (epoch int64, err error) {
	err = withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE meetings SET epoch = epoch + 1, status = $1, updated_at = now()
			WHERE id = $2 RETURNING epoch`, StatusProcessing, meetingID)
		return row.Scan(&epoch)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return epoch, err
}

// NextChunkSeq assigns a strictly increasing chunk_seq for a meeting,
// serialized by a Postgres advisory lock (spec.md §5: "serialized by a
// per-meeting advisory lock").
func (s *MeetingStore) NextChunkSeq(ctx context.Context, meetingID string) (int64, error) {
	var seq int64
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := lockMeeting(ctx, tx, meetingID); err != nil {
			return err
		}
		err := tx.GetContext(ctx, &seq, `
			SELECT COALESCE(MAX(chunk_seq), -1) + 1 FROM chunks WHERE meeting_id = $1`, meetingID)
		return err
	})
	return seq, err
}

// PutChunk persists an immutable chunk record under the per-meeting lock,
// rejecting a duplicate chunk_seq (spec.md §8 property 4).
func (s *MeetingStore) PutChunk(ctx context.Context, c Chunk) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := lockMeeting(ctx, tx, c.MeetingID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (id, meeting_id, chunk_seq, blob_ref, byte_size, content_type, source, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.ID, c.MeetingID, c.ChunkSeq, c.BlobRef, c.ByteSize, c.ContentType, c.Source, c.CreatedAt)
		if isUniqueViolation(err) {
			return ErrDuplicateChunkSeq
		}
		return err
	})
}

// ListChunks returns all chunks for a meeting ordered by chunk_seq (for STT
// stage reassembly — processing is not order-preserving, but reassembly is).
func (s *MeetingStore) ListChunks(ctx context.Context, meetingID string) ([]Chunk, error) {
	var chunks []Chunk
	err := s.db.SelectContext(ctx, &chunks,
		`SELECT * FROM chunks WHERE meeting_id = $1 ORDER BY chunk_seq ASC`, meetingID)
	return chunks, err
}

// UpsertArtifact writes an artifact under the per-meeting lock; write-wins,
// current epoch stamped. A write whose epoch is older than the stored row's
// is skipped without an error.
func (s *MeetingStore) UpsertArtifact(ctx context.Context, a Artifact) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := lockMeeting(ctx, tx, a.MeetingID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO artifacts (meeting_id, kind, content, content_ref, epoch, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
			ON CONFLICT (meeting_id, kind) DO UPDATE SET
				content = EXCLUDED.content, content_ref = EXCLUDED.content_ref,
				epoch = EXCLUDED.epoch, updated_at = now()
			WHERE artifacts.epoch <= EXCLUDED.epoch`,
			a.MeetingID, a.Kind, a.Content, a.ContentRef, a.Epoch)
		return err
	})
}

// GetArtifact reads an artifact; reads are free (no lock), per spec.md §4.1/§4.5.
func (s *MeetingStore) GetArtifact(ctx context.Context, meetingID string, kind ArtifactKind) (*Artifact, error) {
	var a Artifact
	err := s.db.GetContext(ctx, &a,
		`SELECT * FROM artifacts WHERE meeting_id = $1 AND kind = $2`, meetingID, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &a, err
}

// ClearDownstreamArtifacts deletes the artifact kind from and every kind
// downstream of it,
// the "rebuild clears downstream artifacts" invariant (spec.md §3).
var artifactOrder = []ArtifactKind{
	ArtifactRawTranscript, ArtifactEnhancedTranscript, ArtifactReport, ArtifactScorecard, ArtifactComparison,
}

func (s *MeetingStore) ClearDownstreamArtifacts(ctx context.Context, meetingID string, from ArtifactKind) error {
	idx := -1
	for i, k := range artifactOrder {
		if k == from {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("store: unknown artifact kind %q", from)
	}
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := lockMeeting(ctx, tx, meetingID); err != nil {
			return err
		}
		kinds := artifactOrder[idx:]
		query, args, err := sqlx.In(`DELETE FROM artifacts WHERE meeting_id = ? AND kind IN (?)`, meetingID, kinds)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(query), args...)
		return err
	})
}

func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// lockMeeting takes the per-meeting advisory lock for the transaction's
// lifetime (released at commit/rollback — spec.md §9: "the advisory lock
// releases at transaction end").
func lockMeeting(ctx context.Context, tx *sqlx.Tx, meetingID string) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, meetingID)
	if err != nil {
		return fmt.Errorf("store: advisory lock %s: %w", meetingID, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
