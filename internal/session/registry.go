package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/metrics"
	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/respond"
	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/trace"
)

// Config holds the shared collaborators for all sessions.
type Config struct {
	Responder       respond.Responder
	GenerateTimeout time.Duration
	TracesDir       string
	ReportsDir      string
	Index           *trace.Writer // optional; nil disables the session index
}

// Session bundles one live conversation: its state machine and its recorder.
type Session struct {
	ID        string
	StartedAt time.Time
	Machine   *Machine
	Recorder  *trace.Recorder

	index   *trace.Writer
	indexID string
}

// IndexTurn records one completed exchange in the session index.
func (s *Session) IndexTurn(seq int, eventType, input, output, status string) {
	s.index.RecordTurn(s.indexID, seq, eventType, input, output, status)
}

// Registry maps session identifiers to live sessions. It is the sole creation
// point, so at most one machine exists per identifier at any time. The map is
// guarded by its own mutex; per-session ordering lives in each Machine.
type Registry struct {
	cfg      Config
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Resolve returns the live session for sessionID, creating it on first use.
func (r *Registry) Resolve(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[sessionID]; ok {
		return sess, nil
	}

	startedAt := time.Now().UTC()
	recorder, err := trace.NewRecorder(r.cfg.TracesDir, r.cfg.ReportsDir, sessionID, startedAt)
	if err != nil {
		return nil, fmt.Errorf("create session %q: %w", sessionID, err)
	}

	sess := &Session{
		ID:        sessionID,
		StartedAt: startedAt,
		Machine:   NewMachine(sessionID, r.cfg.Responder, r.cfg.GenerateTimeout),
		Recorder:  recorder,
		index:     r.cfg.Index,
	}
	sess.indexID = r.cfg.Index.StartSession(sessionID, recorder.TracePath(), recorder.ReportPath(), startedAt)
	r.sessions[sessionID] = sess

	metrics.SessionsTotal.Inc()
	metrics.SessionsActive.Inc()
	slog.Info("session created", "session_id", sessionID, "trace", recorder.TracePath())

	return sess, nil
}

// Get returns the live session without creating one.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	return sess, ok
}

// Close transitions the session to its terminal state, finalizes its trace
// and removes it from the live map. Closing an unknown identifier is a no-op.
func (r *Registry) Close(sessionID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if !ok {
		return nil
	}

	sess.Machine.Close()
	err := sess.Recorder.Finalize()
	sess.index.EndSession(sess.indexID)
	metrics.SessionsActive.Dec()
	slog.Info("session closed", "session_id", sessionID, "turns", sess.Machine.Turns())
	return err
}

// Shutdown closes every live session. Called once at server teardown.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.Close(id); err != nil {
			slog.Warn("session close during shutdown", "session_id", id, "error", err)
		}
	}
}
