// Package respond generates the avatar's side of a conversation. The state
// machine talks to it through the Responder interface so that tests and the
// replay engine can substitute a deterministic stub.
package respond

import (
	"context"
	"errors"
)

// ErrGenerationFailed wraps any backend failure. The state machine treats it
// as recoverable: the triggering event is consumed but produces no command.
var ErrGenerationFailed = errors.New("generation failed")

// Request carries everything a backend may condition a reply on.
type Request struct {
	SessionID string
	State     string // session state at the time of the event
	Text      string // recognized or requested user text
	Init      bool   // greeting turn (conversationRequest with kind "init")
}

// Reply is a generated avatar response.
type Reply struct {
	Text      string
	Variables map[string]any
	Fallback  bool
}

// Responder produces a reply for one user utterance.
type Responder interface {
	Respond(ctx context.Context, req Request) (*Reply, error)
}
