package replay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/respond"
	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/trace"
)

// Stub replays recorded outputs for recorded inputs, making replay
// deterministic regardless of which responder produced the original trace.
// Replies are keyed by the full request the responder saw, so the same text
// on a greeting turn and a normal turn resolves to its own recorded reply.
type Stub struct {
	replies map[stubKey]string
}

type stubKey struct {
	init bool
	text string
}

// StubFromTrace builds a stub by pairing each sent record with the recv
// record its causal reference points at.
func StubFromTrace(records []trace.Record) *Stub {
	bySeq := make(map[int]trace.Record, len(records))
	for _, rec := range records {
		bySeq[rec.Seq] = rec
	}

	replies := make(map[stubKey]string)
	for _, rec := range records {
		if rec.Direction != trace.DirectionSent || rec.Cause == 0 {
			continue
		}
		cause, ok := bySeq[rec.Cause]
		if !ok || cause.Direction != trace.DirectionRecv {
			continue
		}
		input, init, ok := requestOf(cause.Data)
		if !ok {
			continue
		}
		output, ok := textOf(rec.Data)
		if !ok {
			continue
		}
		replies[stubKey{init: init, text: input}] = output
	}
	return &Stub{replies: replies}
}

func (s *Stub) Respond(_ context.Context, req respond.Request) (*respond.Reply, error) {
	text, ok := s.replies[stubKey{init: req.Init, text: req.Text}]
	if !ok {
		// The live session produced nothing for this input; fail the
		// generation so replay produces nothing either.
		return nil, fmt.Errorf("%w: no recorded reply for %q", respond.ErrGenerationFailed, req.Text)
	}
	return &respond.Reply{Text: text}, nil
}

func requestOf(raw json.RawMessage) (text string, init bool, ok bool) {
	var msg struct {
		Text *string `json:"text"`
		Kind string  `json:"kind"`
	}
	if json.Unmarshal(raw, &msg) != nil || msg.Text == nil {
		return "", false, false
	}
	return *msg.Text, msg.Kind == "init", true
}

func textOf(raw json.RawMessage) (string, bool) {
	var msg struct {
		Text *string `json:"text"`
	}
	if json.Unmarshal(raw, &msg) != nil || msg.Text == nil {
		return "", false
	}
	return *msg.Text, true
}
