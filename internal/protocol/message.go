package protocol

import (
	"encoding/json"
	"time"
)

// EventType identifies an inbound wire message.
type EventType string

const (
	EventRecognizeResults    EventType = "recognizeResults"
	EventConversationRequest EventType = "conversationRequest"
	EventEndSession          EventType = "endSession"

	// EventUnknown is any well-formed message whose type we don't handle.
	// It is recorded for forward compatibility but never transitions state.
	EventUnknown EventType = "unknown"

	// EventInvalid carries a payload that failed decoding, together with the
	// validation error. It is recorded but never reaches the state machine.
	EventInvalid EventType = "invalid"
)

// Event is a validated inbound message.
type Event struct {
	ID         string
	Type       EventType
	SessionID  string
	Text       string
	Kind       string // optional request kind, e.g. "init" for the greeting turn
	ReceivedAt time.Time
	Raw        json.RawMessage
	Err        error // set only for EventInvalid
}

// CommandType identifies an outbound wire message.
type CommandType string

const (
	CommandStartSpeaking        CommandType = "startSpeaking"
	CommandConversationResponse CommandType = "conversationResponse"
)

// Command is an outbound message produced by the state machine.
// CauseID references the ID of the event that produced it.
type Command struct {
	Type      CommandType
	SessionID string
	Text      string
	Variables map[string]any
	Fallback  bool
	CauseID   string
	EmittedAt time.Time
}
