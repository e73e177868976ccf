package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/metrics"
	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/protocol"
	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/session"
	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/trace"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandlerConfig holds the shared collaborators for all dialog sessions.
type HandlerConfig struct {
	Registry      *session.Registry
	MaxConcurrent int
}

// Handler manages WebSocket dialog sessions with admission control.
type Handler struct {
	cfg HandlerConfig
	sem chan struct{}
}

// NewHandler creates a WebSocket handler with a concurrency limit.
func NewHandler(cfg HandlerConfig) *Handler {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 100
	}
	return &Handler{
		cfg: cfg,
		sem: make(chan struct{}, maxConc),
	}
}

// ServeHTTP upgrades the connection and runs the dialog session.
// Returns 503 if at max concurrent session capacity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.runSession(conn)
}

// runSession reads text frames in a loop. Each connection carries one
// session: the first frame bearing a session identifier binds it. The read
// loop is the session's single processing path, so the in-flight frame always
// finishes being recorded before the disconnect path finalizes the trace.
func (h *Handler) runSession(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	send := newFrameSender(conn)

	var bound *session.Session
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			slog.Info("connection closed", "error", err)
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		bound = h.handleFrame(ctx, bound, data, send)
	}

	if bound != nil {
		if err := h.cfg.Registry.Close(bound.ID); err != nil {
			slog.Error("finalize session", "session_id", bound.ID, "error", err)
		}
	}
}

func (h *Handler) handleFrame(ctx context.Context, bound *session.Session, raw []byte, send func([]byte)) *session.Session {
	ev, decodeErr := protocol.Decode(raw, time.Now().UTC())
	if decodeErr != nil {
		return h.rejectFrame(bound, ev, raw, decodeErr, send)
	}

	// One session per connection. A frame carrying a different identifier is
	// refused; resolving it would create a session nothing ever finalizes.
	if bound != nil && bound.ID != ev.SessionID {
		slog.Warn("connection carries second session id", "bound", bound.ID, "got", ev.SessionID)
		sendErrorAck(send, "connection bound to session "+bound.ID)
		return bound
	}

	sess := bound
	if sess == nil {
		resolved, err := h.cfg.Registry.Resolve(ev.SessionID)
		if err != nil {
			slog.Error("resolve session", "session_id", ev.SessionID, "error", err)
			sendErrorAck(send, "session unavailable")
			return bound
		}
		sess = resolved
		bound = sess
	}

	seq, err := sess.Recorder.RecordRecv(raw)
	if errors.Is(err, trace.ErrAlreadyFinalized) {
		sendErrorAck(send, "session closed")
		return bound
	}
	if err != nil {
		slog.Error("record event", "session_id", sess.ID, "error", err)
	}

	cmds, err := sess.Machine.Handle(ctx, ev)
	if errors.Is(err, session.ErrSessionClosed) {
		slog.Info("event for closed session rejected", "session_id", sess.ID, "event_id", ev.ID)
		sendErrorAck(send, "session closed")
		return bound
	}

	status := "ok"
	var replyText string
	for _, cmd := range cmds {
		out := protocol.Encode(cmd)
		if _, recErr := sess.Recorder.RecordSent(out, seq); recErr != nil {
			slog.Error("record command", "session_id", sess.ID, "error", recErr)
		}
		send(out)
		replyText = cmd.Text
	}
	if len(cmds) == 0 && (ev.Type == protocol.EventRecognizeResults || ev.Type == protocol.EventConversationRequest) {
		status = "no_reply"
	}
	sess.IndexTurn(seq, string(ev.Type), ev.Text, replyText, status)

	if ev.Type == protocol.EventEndSession {
		if closeErr := h.cfg.Registry.Close(sess.ID); closeErr != nil {
			slog.Error("finalize session", "session_id", sess.ID, "error", closeErr)
		}
	}

	return bound
}

// rejectFrame records an undecodable payload against its session and
// acknowledges the error to the client. When the connection is not yet bound
// and the payload's session identifier parsed, the session is created and
// bound so the payload still lands in a trace. Invalid input costs a turn,
// never the session.
func (h *Handler) rejectFrame(bound *session.Session, ev protocol.Event, raw []byte, decodeErr error, send func([]byte)) *session.Session {
	kind := "schema"
	if errors.Is(decodeErr, protocol.ErrMalformedPayload) {
		kind = "malformed"
	}
	metrics.DecodeErrors.WithLabelValues(kind).Inc()

	sess := bound
	switch {
	case sess == nil && ev.SessionID != "":
		resolved, err := h.cfg.Registry.Resolve(ev.SessionID)
		if err != nil {
			slog.Error("resolve session", "session_id", ev.SessionID, "error", err)
		} else {
			sess = resolved
			bound = sess
		}
	case sess != nil && ev.SessionID != "" && ev.SessionID != sess.ID:
		// A mismatched identifier never lands in the bound session's trace.
		sess = nil
	}

	if sess != nil {
		if _, err := sess.Recorder.RecordRecv(raw); err != nil && !errors.Is(err, trace.ErrAlreadyFinalized) {
			slog.Error("record invalid payload", "session_id", sess.ID, "error", err)
		}
	}
	slog.Warn("unrecognized message", "error", decodeErr)
	sendErrorAck(send, decodeErr.Error())
	return bound
}

func newFrameSender(conn *websocket.Conn) func([]byte) {
	var mu sync.Mutex
	return func(raw []byte) {
		mu.Lock()
		defer mu.Unlock()
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			slog.Error("write frame", "error", err)
		}
	}
}

func sendErrorAck(send func([]byte), message string) {
	ack, err := json.Marshal(map[string]string{"status": "error", "message": message})
	if err != nil {
		return
	}
	send(ack)
}
