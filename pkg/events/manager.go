package events

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// ChunkIngester is the shared ingest normalization path (C9): WebSocket chunk
// and finalize frames are handed to it exactly as an HTTP POST would be.
type ChunkIngester interface {
	IngestChunk(ctx context.Context, meetingID string, seq int64, contentType string, data []byte) error
	Finalize(ctx context.Context, meetingID string) error
}

// ConnectionManager tracks live WebSocket connections grouped by meeting, so
// pipeline progress (transcript updates, the finished report) can be pushed
// to every client watching a meeting.
type ConnectionManager struct {
	ingest       ChunkIngester
	writeTimeout time.Duration

	mu          sync.RWMutex
	connections map[string]*connection          // connection id -> connection
	byMeeting   map[string]map[string]bool       // meeting id -> set of connection ids
	logger      *slog.Logger
}

type connection struct {
	id        string
	meetingID string
	conn      *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewConnectionManager constructs a ConnectionManager. writeTimeout bounds
// each outbound frame write.
func NewConnectionManager(ingest ChunkIngester, writeTimeout time.Duration) *ConnectionManager {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &ConnectionManager{
		ingest:       ingest,
		writeTimeout: writeTimeout,
		connections:  make(map[string]*connection),
		byMeeting:    make(map[string]map[string]bool),
		logger:       slog.Default().With("component", "events"),
	}
}

// HandleConnection drives one accepted WebSocket connection scoped to
// meetingID until it closes. Blocks; call from the HTTP handler's goroutine.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, meetingID string) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &connection{id: uuid.New().String(), meetingID: meetingID, conn: conn, ctx: ctx, cancel: cancel}

	m.register(c)
	defer m.unregister(c)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.sendJSON(c, newError("bad_request", "malformed frame"))
			continue
		}
		m.handleClientMessage(ctx, c, msg)
	}
}

func (m *ConnectionManager) handleClientMessage(ctx context.Context, c *connection, msg ClientMessage) {
	switch msg.Type {
	case "chunk":
		data, err := base64.StdEncoding.DecodeString(msg.MediaB64)
		if err != nil {
			m.sendJSON(c, newError("bad_request", "media_b64 is not valid base64"))
			return
		}
		if err := m.ingest.IngestChunk(ctx, c.meetingID, msg.Seq, "audio/webm", data); err != nil {
			m.sendJSON(c, newError("ingest_failed", err.Error()))
			return
		}
		m.sendJSON(c, newAck(msg.Seq))

	case "finalize":
		if err := m.ingest.Finalize(ctx, c.meetingID); err != nil {
			m.sendJSON(c, newError("ingest_failed", err.Error()))
		}

	default:
		m.sendJSON(c, newError("bad_request", "unknown frame type"))
	}
}

// Broadcast sends an already-marshalled frame to every connection watching meetingID.
func (m *ConnectionManager) Broadcast(meetingID string, payload []byte) {
	m.mu.RLock()
	ids := m.byMeeting[meetingID]
	conns := make([]*connection, 0, len(ids))
	for id := range ids {
		if c, ok := m.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range conns {
		if err := m.sendRaw(c, payload); err != nil {
			m.logger.Warn("failed to send frame", "connection_id", c.id, "meeting_id", meetingID, "error", err)
		}
	}
}

// BroadcastTranscriptUpdate is a typed convenience wrapper over Broadcast.
func (m *ConnectionManager) BroadcastTranscriptUpdate(meetingID, text string, seqHigh int64) {
	m.broadcastJSON(meetingID, TranscriptUpdateMessage{Type: "transcript.update", Text: text, SeqHigh: seqHigh})
}

// BroadcastReport is a typed convenience wrapper over Broadcast.
func (m *ConnectionManager) BroadcastReport(meetingID, title, summary, reportURL string) {
	m.broadcastJSON(meetingID, ReportMessage{
		Type: "report", MeetingID: meetingID, Title: title, Summary: summary, ReportURL: reportURL,
	})
}

// BroadcastError is a typed convenience wrapper over Broadcast.
func (m *ConnectionManager) BroadcastError(meetingID, code, reason string) {
	m.broadcastJSON(meetingID, newError(code, reason))
}

func (m *ConnectionManager) broadcastJSON(meetingID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("failed to marshal broadcast frame", "error", err)
		return
	}
	m.Broadcast(meetingID, data)
}

// ActiveConnections returns the count of live connections, for the admin queue/health surface.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *ConnectionManager) register(c *connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.id] = c
	if m.byMeeting[c.meetingID] == nil {
		m.byMeeting[c.meetingID] = make(map[string]bool)
	}
	m.byMeeting[c.meetingID][c.id] = true
}

func (m *ConnectionManager) unregister(c *connection) {
	m.mu.Lock()
	delete(m.connections, c.id)
	if subs, ok := m.byMeeting[c.meetingID]; ok {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(m.byMeeting, c.meetingID)
		}
	}
	m.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (m *ConnectionManager) sendJSON(c *connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("failed to marshal frame", "connection_id", c.id, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		m.logger.Warn("failed to send frame", "connection_id", c.id, "error", err)
	}
}

func (m *ConnectionManager) sendRaw(c *connection, data []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}
