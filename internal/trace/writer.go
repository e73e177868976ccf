package trace

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const maxIOLen = 500

type indexMsg struct {
	kind string // "session_create", "session_end", "turn"
	// session fields
	id         string
	sessionID  string
	tracePath  string
	reportPath string
	startedAt  time.Time
	// turn fields
	turn Turn
}

// Writer indexes sessions asynchronously via a buffered channel so store
// latency never sits on a session's processing path. All methods are nil-safe
// (no-op on nil receiver), which keeps the index optional.
type Writer struct {
	store *Store
	ch    chan indexMsg
	done  chan struct{}
}

// NewWriter creates an index writer. Must call Close when done.
func NewWriter(store *Store) *Writer {
	w := &Writer{
		store: store,
		ch:    make(chan indexMsg, 64),
		done:  make(chan struct{}),
	}
	go w.drain()
	return w
}

func (w *Writer) drain() {
	defer close(w.done)
	for msg := range w.ch {
		w.handle(msg)
	}
}

func (w *Writer) handle(m indexMsg) {
	handlers := map[string]func() error{
		"session_create": func() error {
			return w.store.CreateSession(m.id, m.sessionID, m.tracePath, m.reportPath, m.startedAt)
		},
		"session_end": func() error { return w.store.EndSession(m.id) },
		"turn":        func() error { return w.store.CreateTurn(m.turn) },
	}
	fn, ok := handlers[m.kind]
	if !ok {
		return
	}
	if err := fn(); err != nil {
		slog.Warn("session index write failed", "kind", m.kind, "error", err)
	}
}

// StartSession indexes a new session and returns its index ID.
func (w *Writer) StartSession(sessionID, tracePath, reportPath string, startedAt time.Time) string {
	if w == nil {
		return ""
	}
	id := uuid.NewString()
	w.ch <- indexMsg{
		kind:       "session_create",
		id:         id,
		sessionID:  sessionID,
		tracePath:  tracePath,
		reportPath: reportPath,
		startedAt:  startedAt,
	}
	return id
}

// EndSession marks an indexed session as ended.
func (w *Writer) EndSession(id string) {
	if w == nil {
		return
	}
	w.ch <- indexMsg{kind: "session_end", id: id}
}

// RecordTurn indexes one completed event/command exchange.
func (w *Writer) RecordTurn(indexID string, seq int, eventType, input, output, status string) {
	if w == nil {
		return
	}
	w.ch <- indexMsg{
		kind: "turn",
		turn: Turn{
			ID:        uuid.NewString(),
			SessionID: indexID,
			Seq:       seq,
			EventType: eventType,
			Input:     truncate(input, maxIOLen),
			Output:    truncate(output, maxIOLen),
			Status:    status,
			CreatedAt: time.Now().UTC(),
		},
	}
}

// Close drains pending writes and shuts down the background goroutine.
func (w *Writer) Close() {
	if w == nil {
		return
	}
	close(w.ch)
	<-w.done
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
