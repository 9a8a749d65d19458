package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// IdempotencyStore backs C2: a keyed store that handlers check before
// producing side effects, so re-delivery of the same key returns the prior
// result rather than repeating external calls.
type IdempotencyStore struct {
	db *sqlx.DB
}

func NewIdempotencyStore(db *sqlx.DB) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

// ErrAlreadyProcessed is returned by Claim when the key was already recorded
// with status "complete".
var ErrAlreadyProcessed = errors.New("store: idempotency key already processed")

// Claim records a key as in-progress ("pending") the first time it is seen,
// and returns nil again — without inserting — on every redelivery until
// SetResult marks it "complete". This two-phase status is what makes
// redelivery safe: a worker that crashes after Claim but before the stage's
// side effect (provider call, UpsertArtifact) leaves the row in "pending",
// so the next delivery re-enters the claimed branch and retries the side
// effect instead of silently skipping it (spec.md §8 property 2). Only a
// "complete" row causes Claim to report ErrAlreadyProcessed.
func (s *IdempotencyStore) Claim(ctx context.Context, key, meetingID string, step string, epoch int64) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, meeting_id, step, epoch, status, created_at)
		VALUES ($1, $2, $3, $4, 'pending', now())
		ON CONFLICT (key) DO NOTHING`,
		key, meetingID, step, epoch)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 1 {
		return nil // fresh claim
	}

	var status string
	if err := s.db.GetContext(ctx, &status, `SELECT status FROM idempotency_keys WHERE key = $1`, key); err != nil {
		return err
	}
	if status == "complete" {
		return ErrAlreadyProcessed
	}
	return nil // still pending from an earlier, crashed attempt — retry
}

// SetResult records the result reference for a claimed key and marks it
// "complete", the point after which Claim starts reporting
// ErrAlreadyProcessed for redeliveries of the same key.
func (s *IdempotencyStore) SetResult(ctx context.Context, key, resultRef string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE idempotency_keys SET result_ref = $1, status = 'complete' WHERE key = $2`, resultRef, key)
	return err
}

// Get returns the stored result reference and creation time for a key, if present.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (resultRef string, createdAt time.Time, err error) {
	var row struct {
		ResultRef *string   `db:"result_ref"`
		CreatedAt time.Time `db:"created_at"`
	}
	err = s.db.GetContext(ctx, &row, `SELECT result_ref, created_at FROM idempotency_keys WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, ErrNotFound
	}
	if err != nil {
		return "", time.Time{}, err
	}
	if row.ResultRef != nil {
		resultRef = *row.ResultRef
	}
	return resultRef, row.CreatedAt, nil
}
