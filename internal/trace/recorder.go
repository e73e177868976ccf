// Package trace records every session as a replayable JSONL trace plus a
// reduced spoken-dialog report, and keeps an optional Postgres index of
// sessions and turns for the inspection API.
package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/metrics"
)

// ErrAlreadyFinalized is returned by Record calls after Finalize. It signals
// an ordering bug in the caller, not a recoverable condition.
var ErrAlreadyFinalized = errors.New("session already finalized")

// Direction of a trace record relative to the server.
type Direction string

const (
	DirectionRecv Direction = "recv"
	DirectionSent Direction = "sent"
)

// Record is one line of a session trace. Cause holds, for sent records, the
// Seq of the recv record that produced it.
type Record struct {
	Seq       int             `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Direction Direction       `json:"direction"`
	Cause     int             `json:"cause,omitempty"`
	Data      json.RawMessage `json:"data"`
}

type reportLine struct {
	speaker string
	text    string
}

// Recorder appends one session's records to its trace file and accumulates
// the spoken-dialog report written at Finalize. Appends happen in call order;
// the caller (the session's single processing path) provides that order.
type Recorder struct {
	mu         sync.Mutex
	sessionID  string
	startedAt  time.Time
	tracePath  string
	reportPath string
	traceFile  *os.File
	seq        int
	transcript []reportLine
	finalized  bool
}

// NewRecorder opens trace and report artifacts for one session, keyed by
// session id and start time so restarts never collide.
func NewRecorder(tracesDir, reportsDir, sessionID string, startedAt time.Time) (*Recorder, error) {
	if err := os.MkdirAll(tracesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create traces dir: %w", err)
	}
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create reports dir: %w", err)
	}

	name := fmt.Sprintf("%s_%s", sanitize(sessionID), startedAt.UTC().Format("20060102_150405"))
	tracePath := filepath.Join(tracesDir, name+".jsonl")
	reportPath := filepath.Join(reportsDir, name+".rpt")

	f, err := os.OpenFile(tracePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}

	return &Recorder{
		sessionID:  sessionID,
		startedAt:  startedAt,
		tracePath:  tracePath,
		reportPath: reportPath,
		traceFile:  f,
	}, nil
}

// TracePath returns the session's trace file path.
func (r *Recorder) TracePath() string { return r.tracePath }

// ReportPath returns the session's report file path.
func (r *Recorder) ReportPath() string { return r.reportPath }

// RecordRecv appends an inbound payload and returns its sequence number,
// used as the causal reference for any command it produces.
func (r *Recorder) RecordRecv(raw []byte) (int, error) {
	return r.append(DirectionRecv, raw, 0)
}

// RecordSent appends an outbound payload caused by the recv record at cause.
func (r *Recorder) RecordSent(raw []byte, cause int) (int, error) {
	return r.append(DirectionSent, raw, cause)
}

func (r *Recorder) append(dir Direction, raw []byte, cause int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return 0, ErrAlreadyFinalized
	}

	r.seq++
	rec := Record{
		Seq:       r.seq,
		Timestamp: time.Now().UTC(),
		Direction: dir,
		Cause:     cause,
		Data:      json.RawMessage(raw),
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("marshal trace record: %w", err)
	}
	if _, err = r.traceFile.Write(append(line, '\n')); err != nil {
		return 0, fmt.Errorf("append trace record: %w", err)
	}

	metrics.TraceRecords.WithLabelValues(string(dir)).Inc()

	if speaker, text, ok := spokenText(dir, raw); ok {
		r.transcript = append(r.transcript, reportLine{speaker: speaker, text: text})
	}

	return r.seq, nil
}

// Finalize writes the report, flushes and closes the trace. It is idempotent;
// only Record calls after it fail.
func (r *Recorder) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return nil
	}
	r.finalized = true

	if err := r.writeReport(); err != nil {
		return err
	}

	if err := r.traceFile.Sync(); err != nil {
		return fmt.Errorf("sync trace file: %w", err)
	}
	return r.traceFile.Close()
}

func (r *Recorder) writeReport() error {
	var b strings.Builder
	fmt.Fprintf(&b, "Datetime: %s\n", r.startedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "SessionId: %s\n", r.sessionID)
	for _, line := range r.transcript {
		fmt.Fprintf(&b, "%s: %s\n", line.speaker, line.text)
	}
	if err := os.WriteFile(r.reportPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// spokenText extracts the dialog-relevant text of a payload, if any. Invalid
// or unknown payloads contribute to the trace but never to the report.
func spokenText(dir Direction, raw []byte) (speaker, text string, ok bool) {
	var msg struct {
		Type string          `json:"type"`
		Text json.RawMessage `json:"text"`
	}
	if json.Unmarshal(raw, &msg) != nil {
		return "", "", false
	}
	var t string
	if json.Unmarshal(msg.Text, &t) != nil || t == "" {
		return "", "", false
	}

	switch {
	case dir == DirectionRecv && (msg.Type == "recognizeResults" || msg.Type == "conversationRequest"):
		return "User", t, true
	case dir == DirectionSent && (msg.Type == "startSpeaking" || msg.Type == "conversationResponse"):
		return "Avatar", t, true
	}
	return "", "", false
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
