package protocol

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedPayload means the payload is not well-formed JSON.
var ErrMalformedPayload = errors.New("malformed payload")

// SchemaError means a required field is missing or has the wrong type.
type SchemaError struct {
	Field string
}

func (e *SchemaError) Error() string {
	return "schema violation: field " + e.Field
}

type wireEvent struct {
	Type      json.RawMessage `json:"type"`
	Text      json.RawMessage `json:"text"`
	SessionID json.RawMessage `json:"sessionId"`
	Kind      string          `json:"kind,omitempty"`
}

// Decode parses and validates a raw inbound payload. On failure the returned
// Event is an EventInvalid carrying the raw bytes and the validation error,
// plus the session identifier when that field itself parsed, so callers can
// still record the payload against its session. Decode performs no I/O.
func Decode(raw []byte, now time.Time) (Event, error) {
	var wire wireEvent
	if err := json.Unmarshal(raw, &wire); err != nil {
		return invalid(raw, now, "", ErrMalformedPayload), ErrMalformedPayload
	}

	sessionID, sidErr := requireString(wire.SessionID, "sessionId")
	if sidErr == nil && sessionID == "" {
		sidErr = &SchemaError{Field: "sessionId"}
	}

	typ, err := requireString(wire.Type, "type")
	if err != nil {
		return invalid(raw, now, sessionID, err), err
	}
	if sidErr != nil {
		return invalid(raw, now, "", sidErr), sidErr
	}

	ev := Event{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Kind:       wire.Kind,
		ReceivedAt: now,
		Raw:        raw,
	}

	switch EventType(typ) {
	case EventRecognizeResults, EventConversationRequest:
		ev.Type = EventType(typ)
		text, err := requireString(wire.Text, "text")
		if err != nil {
			return invalid(raw, now, sessionID, err), err
		}
		ev.Text = text
	case EventEndSession:
		ev.Type = EventEndSession
	default:
		ev.Type = EventUnknown
	}

	return ev, nil
}

func invalid(raw []byte, now time.Time, sessionID string, err error) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       EventInvalid,
		SessionID:  sessionID,
		ReceivedAt: now,
		Raw:        append([]byte(nil), raw...),
		Err:        err,
	}
}

func requireString(field json.RawMessage, name string) (string, error) {
	if field == nil {
		return "", &SchemaError{Field: name}
	}
	var s string
	if err := json.Unmarshal(field, &s); err != nil {
		return "", &SchemaError{Field: name}
	}
	return s, nil
}

type wireCommand struct {
	Type      CommandType    `json:"type"`
	Text      string         `json:"text"`
	SessionID string         `json:"sessionId"`
	Variables map[string]any `json:"variables,omitempty"`
	Fallback  bool           `json:"fallback,omitempty"`
}

// Encode serializes a command to the wire format. It is total for any
// well-formed Command: all fields marshal without error.
func Encode(cmd Command) []byte {
	raw, err := json.Marshal(wireCommand{
		Type:      cmd.Type,
		Text:      cmd.Text,
		SessionID: cmd.SessionID,
		Variables: cmd.Variables,
		Fallback:  cmd.Fallback,
	})
	if err != nil {
		// Variables holding a non-JSON value is the only way here.
		raw, _ = json.Marshal(wireCommand{Type: cmd.Type, Text: cmd.Text, SessionID: cmd.SessionID})
	}
	return raw
}

// DecodeCommand parses an outbound wire payload back into a Command.
// The replay engine uses it to compare recorded output against produced output.
func DecodeCommand(raw []byte) (Command, error) {
	var wire wireCommand
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Command{}, ErrMalformedPayload
	}
	switch wire.Type {
	case CommandStartSpeaking, CommandConversationResponse:
	default:
		return Command{}, &SchemaError{Field: "type"}
	}
	return Command{
		Type:      wire.Type,
		Text:      wire.Text,
		SessionID: wire.SessionID,
		Variables: wire.Variables,
		Fallback:  wire.Fallback,
	}, nil
}
