package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// AuditStore is the append-only security audit trail (spec.md §3, §4.10).
type AuditStore struct {
	db *sqlx.DB
}

func NewAuditStore(db *sqlx.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Record appends one audit event. It never returns an error to the caller's
// request path in practice (pkg/auth logs-and-continues on failure) but
// returns one here so callers can choose.
func (s *AuditStore) Record(ctx context.Context, ev AuditEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO security_audit_events (id, tenant_id, actor, action, meeting_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		ev.ID, ev.TenantID, ev.Actor, ev.Action, ev.MeetingID, ev.Detail)
	return err
}

// List returns the most recent audit events for a tenant, for the admin
// surface's audit-trail read.
func (s *AuditStore) List(ctx context.Context, tenantID string, limit int) ([]AuditEvent, error) {
	var events []AuditEvent
	err := s.db.SelectContext(ctx, &events, `
		SELECT * FROM security_audit_events WHERE tenant_id = $1
		ORDER BY created_at DESC LIMIT $2`, tenantID, limit)
	return events, err
}
