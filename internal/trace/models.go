package trace

import "time"

// Session is one indexed dialog session.
type Session struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	TracePath  string     `json:"trace_path,omitempty"`
	ReportPath string     `json:"report_path,omitempty"`
	TurnCount  int        `json:"turn_count,omitempty"`
}

// Turn is one event/command exchange within a session.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	EventType string    `json:"event_type"`
	Input     string    `json:"input,omitempty"`
	Output    string    `json:"output,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
