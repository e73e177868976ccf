// Package session owns per-session conversational state: one Machine per
// session identifier, created and looked up through the Registry.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/metrics"
	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/protocol"
	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/respond"
)

// State of a session's conversation.
type State string

const (
	StateNew        State = "new"        // no events yet
	StateListening  State = "listening"  // awaiting recognized speech or a request
	StateResponding State = "responding" // a response has been emitted
	StateClosed     State = "closed"     // terminal
)

// ErrSessionClosed rejects events arriving after the session ended. The
// transport layer logs and acknowledges it; the event is not silently dropped.
var ErrSessionClosed = errors.New("session closed")

// Machine is the state machine for one session. Handle serializes all event
// processing under an exclusive lock, so events for a session are consumed
// strictly in arrival order and never overlap.
type Machine struct {
	mu        sync.Mutex
	id        string
	state     State
	turns     int
	responder respond.Responder
	timeout   time.Duration
}

// NewMachine creates a machine in StateNew for the given session identifier.
// timeout bounds each response-generation call; zero means no bound.
func NewMachine(id string, responder respond.Responder, timeout time.Duration) *Machine {
	return &Machine{
		id:        id,
		state:     StateNew,
		responder: responder,
		timeout:   timeout,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Turns returns how many commands the session has emitted.
func (m *Machine) Turns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turns
}

// Handle consumes one validated event and returns the commands it produced.
//
// Speech and request events invoke the responder; on success the session
// moves to StateResponding and one command is emitted. A responder failure is
// recoverable: the event is consumed, nothing is emitted, the session stays
// usable. Invalid and unknown events never change state. An end event closes
// the session from any state and is idempotent.
func (m *Machine) Handle(ctx context.Context, ev protocol.Event) ([]protocol.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics.EventsTotal.WithLabelValues(string(ev.Type)).Inc()

	if ev.Type == protocol.EventEndSession {
		m.state = StateClosed
		return nil, nil
	}

	if m.state == StateClosed {
		return nil, ErrSessionClosed
	}

	switch ev.Type {
	case protocol.EventInvalid, protocol.EventUnknown:
		return nil, nil
	case protocol.EventRecognizeResults, protocol.EventConversationRequest:
		return m.respond(ctx, ev)
	default:
		return nil, nil
	}
}

func (m *Machine) respond(ctx context.Context, ev protocol.Event) ([]protocol.Command, error) {
	// The first valid utterance marks the session as actively listening;
	// only a successful response advances it to StateResponding.
	if m.state == StateNew {
		m.state = StateListening
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	reply, err := m.responder.Respond(ctx, respond.Request{
		SessionID: m.id,
		State:     string(m.state),
		Text:      ev.Text,
		Init:      ev.Kind == "init",
	})
	if err != nil {
		metrics.Errors.WithLabelValues("session", "generation").Inc()
		slog.Warn("response generation failed", "session_id", m.id, "event_id", ev.ID, "error", err)
		return nil, nil
	}

	m.state = StateResponding
	m.turns++

	cmd := protocol.Command{
		Type:      commandTypeFor(ev.Type),
		SessionID: ev.SessionID,
		Text:      reply.Text,
		Variables: reply.Variables,
		Fallback:  reply.Fallback,
		CauseID:   ev.ID,
		EmittedAt: time.Now().UTC(),
	}
	metrics.CommandsTotal.WithLabelValues(string(cmd.Type)).Inc()
	return []protocol.Command{cmd}, nil
}

// commandTypeFor maps each inbound channel to its outbound channel:
// recognized speech is answered on the speech channel, conversation requests
// on the conversation channel.
func commandTypeFor(t protocol.EventType) protocol.CommandType {
	if t == protocol.EventRecognizeResults {
		return protocol.CommandStartSpeaking
	}
	return protocol.CommandConversationResponse
}

// Close transitions to StateClosed. Idempotent.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateClosed
}
