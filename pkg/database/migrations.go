package database

import (
	"context"
	"database/sql"
	"fmt"
)

// createGINIndexes creates full-text search GIN indexes that golang-migrate's
// plain SQL migrations don't carry (kept separate so they can be skipped/retried
// independently of the schema migration chain).
func createGINIndexes(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_content_gin
		ON artifacts USING gin(to_tsvector('english', content))`)
	if err != nil {
		return fmt.Errorf("failed to create artifacts content GIN index: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_detail_gin
		ON security_audit_events USING gin(to_tsvector('english', COALESCE(detail, '')))`)
	if err != nil {
		return fmt.Errorf("failed to create audit event detail GIN index: %w", err)
	}

	return nil
}
