// Package replay re-drives a recorded session trace through a fresh state
// machine and compares the commands it produces against the recorded ones.
// With a deterministic responder it turns any trace into a regression test.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/protocol"
	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/respond"
	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/session"
	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/trace"
)

// Mismatch is one recorded command the replay did not reproduce.
type Mismatch struct {
	Index    int               // position among the trace's recorded commands
	Recorded protocol.Command  // what the trace says was sent
	Produced *protocol.Command // what replay produced at that position, nil if nothing
	Reason   string
}

func (m Mismatch) String() string {
	if m.Produced == nil {
		return fmt.Sprintf("command %d: %s", m.Index, m.Reason)
	}
	return fmt.Sprintf("command %d: %s (recorded %q, produced %q)", m.Index, m.Reason, m.Recorded.Text, m.Produced.Text)
}

// Result is the outcome of replaying one trace.
type Result struct {
	SessionID  string
	Events     int
	Recorded   int
	Produced   int
	Mismatches []Mismatch
}

// OK reports whether every recorded command was reproduced exactly.
func (r *Result) OK() bool {
	return len(r.Mismatches) == 0
}

// LoadTrace reads a JSONL session trace from disk.
func LoadTrace(path string) ([]trace.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()

	var records []trace.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec trace.Record
		if err = json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("trace line %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	return records, nil
}

// Replay feeds the trace's inbound events, in original order, through a fresh
// state machine backed by responder, and compares the produced commands
// against the recorded ones position by position. Matching means same
// variant, same session, equal text.
func Replay(ctx context.Context, records []trace.Record, responder respond.Responder) (*Result, error) {
	result := &Result{SessionID: sessionIDOf(records)}

	machine := session.NewMachine(result.SessionID, responder, 0)

	var produced []protocol.Command
	for _, rec := range records {
		if rec.Direction != trace.DirectionRecv {
			continue
		}
		result.Events++

		// Invalid payloads were recorded too; they produced nothing live
		// and must produce nothing here.
		ev, _ := protocol.Decode(rec.Data, rec.Timestamp)
		cmds, err := machine.Handle(ctx, ev)
		if err != nil && !errors.Is(err, session.ErrSessionClosed) {
			return nil, fmt.Errorf("replay event %d: %w", result.Events, err)
		}
		produced = append(produced, cmds...)
	}
	result.Produced = len(produced)

	for _, rec := range records {
		if rec.Direction != trace.DirectionSent {
			continue
		}
		i := result.Recorded
		result.Recorded++

		recorded, err := protocol.DecodeCommand(rec.Data)
		if err != nil {
			result.Mismatches = append(result.Mismatches, Mismatch{
				Index: i, Reason: fmt.Sprintf("recorded command does not decode: %v", err),
			})
			continue
		}

		if i >= len(produced) {
			result.Mismatches = append(result.Mismatches, Mismatch{
				Index: i, Recorded: recorded, Reason: "no command produced",
			})
			continue
		}

		got := produced[i]
		if reason, ok := match(recorded, got); !ok {
			result.Mismatches = append(result.Mismatches, Mismatch{
				Index: i, Recorded: recorded, Produced: &got, Reason: reason,
			})
		}
	}

	for i := result.Recorded; i < len(produced); i++ {
		got := produced[i]
		result.Mismatches = append(result.Mismatches, Mismatch{
			Index: i, Produced: &got, Reason: "extra command not in trace",
		})
	}

	return result, nil
}

// ReplayFile loads and replays a trace from disk.
func ReplayFile(ctx context.Context, path string, responder respond.Responder) (*Result, error) {
	records, err := LoadTrace(path)
	if err != nil {
		return nil, err
	}
	return Replay(ctx, records, responder)
}

func match(recorded, got protocol.Command) (string, bool) {
	switch {
	case got.Type != recorded.Type:
		return "command variant differs", false
	case got.SessionID != recorded.SessionID:
		return "session identifier differs", false
	case got.Text != recorded.Text:
		return "text differs", false
	}
	return "", true
}

func sessionIDOf(records []trace.Record) string {
	for _, rec := range records {
		var msg struct {
			SessionID string `json:"sessionId"`
		}
		if json.Unmarshal(rec.Data, &msg) == nil && msg.SessionID != "" {
			return msg.SessionID
		}
	}
	return ""
}
