package ws

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/respond"
	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/session"
)

func newTestServer(t *testing.T) (*httptest.Server, *session.Registry) {
	t.Helper()
	dir := t.TempDir()
	registry := session.NewRegistry(session.Config{
		Responder:       respond.NewScripted(),
		GenerateTimeout: time.Second,
		TracesDir:       dir + "/traces",
		ReportsDir:      dir + "/reports",
	})
	srv := httptest.NewServer(NewHandler(HandlerConfig{Registry: registry}))
	t.Cleanup(func() {
		srv.Close()
		registry.Shutdown()
	})
	return srv, registry
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHandlerRecognizeResultsRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"recognizeResults","text":"good morning","sessionId":"123"}`)))

	msg := readFrame(t, conn)
	assert.Equal(t, "startSpeaking", msg["type"])
	assert.Equal(t, "Echo: good morning", msg["text"])
	assert.Equal(t, "123", msg["sessionId"])
}

func TestHandlerMalformedPayloadAcked(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":`)))

	msg := readFrame(t, conn)
	assert.Equal(t, "error", msg["status"])

	// The connection survives: the next valid turn still works.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"recognizeResults","text":"hi","sessionId":"123"}`)))
	msg = readFrame(t, conn)
	assert.Equal(t, "startSpeaking", msg["type"])
}

func TestHandlerSchemaViolationCostsTurnNotSession(t *testing.T) {
	srv, registry := newTestServer(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"conversationRequest","text":"","sessionId":"123","kind":"init"}`)))
	msg := readFrame(t, conn)
	assert.Equal(t, "Hello there!", msg["text"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"recognizeResults","text":123,"sessionId":"123"}`)))
	msg = readFrame(t, conn)
	assert.Equal(t, "error", msg["status"])

	sess, ok := registry.Get("123")
	require.True(t, ok)
	assert.Equal(t, session.StateResponding, sess.Machine.State(), "invalid input never advances state")
}

// A schema-invalid first frame whose session id still parsed binds the
// connection and lands in that session's trace.
func TestHandlerFirstFrameSchemaViolationStillTraced(t *testing.T) {
	srv, registry := newTestServer(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"recognizeResults","text":123,"sessionId":"123"}`)))
	msg := readFrame(t, conn)
	assert.Equal(t, "error", msg["status"])

	sess, ok := registry.Get("123")
	require.True(t, ok, "the parsed session id creates the session")
	assert.Equal(t, session.StateNew, sess.Machine.State())

	data, err := os.ReadFile(sess.Recorder.TracePath())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 1, "the rejected payload is the one trace record")
}

func TestHandlerRefusesSecondSessionID(t *testing.T) {
	srv, registry := newTestServer(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"recognizeResults","text":"hi","sessionId":"A"}`)))
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"recognizeResults","text":"hi","sessionId":"B"}`)))
	msg := readFrame(t, conn)
	assert.Equal(t, "error", msg["status"])
	assert.Equal(t, "connection bound to session A", msg["message"])

	_, ok := registry.Get("B")
	assert.False(t, ok, "a refused identifier never creates a session")
}

func TestHandlerEndSessionRejectsFurtherEvents(t *testing.T) {
	srv, registry := newTestServer(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"recognizeResults","text":"hi","sessionId":"123"}`)))
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"endSession","sessionId":"123"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"recognizeResults","text":"anyone","sessionId":"123"}`)))

	msg := readFrame(t, conn)
	assert.Equal(t, "error", msg["status"])
	assert.Equal(t, "session closed", msg["message"])

	_, ok := registry.Get("123")
	assert.False(t, ok, "closed session removed from the live map")
}

func TestHandlerConcurrentSessionsStayIsolated(t *testing.T) {
	srv, _ := newTestServer(t)

	connA := dial(t, srv)
	connB := dial(t, srv)

	for i := 0; i < 10; i++ {
		require.NoError(t, connA.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"recognizeResults","text":"from A","sessionId":"A"}`)))
		require.NoError(t, connB.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"recognizeResults","text":"from B","sessionId":"B"}`)))

		msgA := readFrame(t, connA)
		msgB := readFrame(t, connB)
		assert.Equal(t, "A", msgA["sessionId"])
		assert.Equal(t, "Echo: from A", msgA["text"])
		assert.Equal(t, "B", msgB["sessionId"])
		assert.Equal(t, "Echo: from B", msgB["text"])
	}
}
