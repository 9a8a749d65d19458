// Package store is the meeting store (C5): durable meetings, chunks, and
// artifacts over Postgres via jmoiron/sqlx, plus the connector-session,
// audit, and idempotency tables spec.md §6 names.
package store

import "time"

// MeetingMode selects client-pushed batch ingest vs. connector-driven realtime ingest.
type MeetingMode string

const (
	ModeBatch    MeetingMode = "batch"
	ModeRealtime MeetingMode = "realtime"
)

// MeetingStatus is spec.md §3's monotone status; statusRank (meeting.go) enforces ordering.
type MeetingStatus string

const (
	StatusCreated    MeetingStatus = "created"
	StatusIngesting  MeetingStatus = "ingesting"
	StatusProcessing MeetingStatus = "processing"
	StatusDone       MeetingStatus = "done"
	StatusFailed     MeetingStatus = "failed"
)

// Meeting is spec.md §3's Meeting record.
type Meeting struct {
	ID            string        `db:"id"`
	TenantID      string        `db:"tenant_id"`
	Title         string        `db:"title"`
	Mode          MeetingMode   `db:"mode"`
	Status        MeetingStatus `db:"status"`
	Epoch         int64         `db:"epoch"`
	ConnectorKind *string       `db:"connector_kind"`
	ConnectorRef  *string       `db:"connector_ref"`
	CreatedAt     time.Time     `db:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at"`
	FinalizedAt   *time.Time    `db:"finalized_at"`
}

// Chunk is spec.md §3's Chunk record; immutable once persisted.
type Chunk struct {
	ID          string    `db:"id"`
	MeetingID   string    `db:"meeting_id"`
	ChunkSeq    int64     `db:"chunk_seq"`
	BlobRef     string    `db:"blob_ref"`
	ByteSize    int64     `db:"byte_size"`
	ContentType string    `db:"content_type"`
	Source      string    `db:"source"` // "client" | "connector"
	CreatedAt   time.Time `db:"created_at"`
}

// ArtifactKind enumerates spec.md §3's artifact kinds.
type ArtifactKind string

const (
	ArtifactRawTranscript      ArtifactKind = "raw_transcript"
	ArtifactEnhancedTranscript ArtifactKind = "enhanced_transcript"
	ArtifactReport             ArtifactKind = "report"
	ArtifactScorecard          ArtifactKind = "scorecard"
	ArtifactComparison         ArtifactKind = "comparison"
)

// Artifact is spec.md §3's Artifact record; one row per (meeting_id, kind).
type Artifact struct {
	MeetingID string       `db:"meeting_id"`
	Kind      ArtifactKind `db:"kind"`
	Content   string       `db:"content"`
	ContentRef *string     `db:"content_ref"`
	Epoch     int64        `db:"epoch"`
	CreatedAt time.Time    `db:"created_at"`
	UpdatedAt time.Time    `db:"updated_at"`
}

// ConnectorSessionState is spec.md §4.6's state machine.
type ConnectorSessionState string

const (
	SessionJoining      ConnectorSessionState = "joining"
	SessionConnected    ConnectorSessionState = "connected"
	SessionDisconnected ConnectorSessionState = "disconnected"
	SessionLeaving      ConnectorSessionState = "leaving"
	SessionDead         ConnectorSessionState = "dead"
)

// ConnectorSession is spec.md §3's Connector session record.
type ConnectorSession struct {
	ID                  string                `db:"id"`
	MeetingID           string                `db:"meeting_id"`
	ConnectorKind       string                `db:"connector_kind"`
	State               ConnectorSessionState `db:"state"`
	ExternalRef         *string               `db:"external_ref"`
	LastPullAt          *time.Time            `db:"last_pull_at"`
	ConsecutiveFailures int                   `db:"consecutive_failures"`
	LockToken           *string               `db:"lock_token"`
	LockExpiresAt       *time.Time            `db:"lock_expires_at"`
	CreatedAt           time.Time             `db:"created_at"`
	UpdatedAt           time.Time             `db:"updated_at"`
}

// AuditDecision is spec.md §3's allow/deny outcome.
type AuditDecision string

const (
	AuditAllow AuditDecision = "allow"
	AuditDeny  AuditDecision = "deny"
)

// AuditEvent is spec.md §3's append-only audit record.
type AuditEvent struct {
	ID        string        `db:"id"`
	TenantID  string        `db:"tenant_id"`
	Actor     string        `db:"actor"`
	Action    string        `db:"action"`
	MeetingID *string       `db:"meeting_id"`
	Detail    *string       `db:"detail"`
	CreatedAt time.Time     `db:"created_at"`
}
