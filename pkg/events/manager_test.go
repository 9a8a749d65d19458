package events

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

type stubIngester struct {
	mu        sync.Mutex
	chunks    []int64
	finalized bool
	ingestErr error
}

func (s *stubIngester) IngestChunk(_ context.Context, _ string, seq int64, _ string, _ []byte) error {
	if s.ingestErr != nil {
		return s.ingestErr
	}
	s.mu.Lock()
	s.chunks = append(s.chunks, seq)
	s.mu.Unlock()
	return nil
}

func (s *stubIngester) Finalize(_ context.Context, _ string) error {
	s.finalized = true
	return nil
}

func setupTestManager(t *testing.T, ingest *stubIngester) (*ConnectionManager, *httptest.Server) {
	t.Helper()
	manager := NewConnectionManager(ingest, 5*time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		manager.HandleConnection(r.Context(), conn, "m-1")
	}))
	t.Cleanup(server.Close)
	return manager, server
}

func connectWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func writeJSON(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestHandleConnection_ChunkFrameIsIngestedAndAcked(t *testing.T) {
	ingest := &stubIngester{}
	_, server := setupTestManager(t, ingest)
	conn := connectWS(t, server)

	writeJSON(t, conn, ClientMessage{Type: "chunk", Seq: 1, MediaB64: base64.StdEncoding.EncodeToString([]byte("hi"))})

	msg := readJSON(t, conn)
	require.Equal(t, "ack", msg["type"])
	require.EqualValues(t, 1, msg["seq"])
}

func TestHandleConnection_MalformedBase64RespondsWithError(t *testing.T) {
	ingest := &stubIngester{}
	_, server := setupTestManager(t, ingest)
	conn := connectWS(t, server)

	writeJSON(t, conn, ClientMessage{Type: "chunk", Seq: 1, MediaB64: "not-base64!!"})

	msg := readJSON(t, conn)
	require.Equal(t, "error", msg["type"])
	require.Equal(t, "bad_request", msg["code"])
}

func TestHandleConnection_FinalizeCallsIngester(t *testing.T) {
	ingest := &stubIngester{}
	_, server := setupTestManager(t, ingest)
	conn := connectWS(t, server)

	writeJSON(t, conn, ClientMessage{Type: "finalize"})
	_ = conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return ingest.finalized }, time.Second, 10*time.Millisecond)
}

func TestBroadcast_DeliversToConnectionsOnTheSameMeeting(t *testing.T) {
	ingest := &stubIngester{}
	manager, server := setupTestManager(t, ingest)
	conn := connectWS(t, server)

	require.Eventually(t, func() bool { return manager.ActiveConnections() == 1 }, time.Second, 10*time.Millisecond)

	manager.BroadcastTranscriptUpdate("m-1", "hello world", 3)

	msg := readJSON(t, conn)
	require.Equal(t, "transcript.update", msg["type"])
	require.Equal(t, "hello world", msg["text"])
}
