package trace

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const maxIndexedSessions = 200

// Store persists the session/turn index to PostgreSQL. Trace files remain the
// source of truth for replay; the store only serves the inspection API.
type Store struct {
	db *sql.DB
}

// Open connects to the session index database at connStr.
func Open(connStr string) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("trace open: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace ping: %w", err)
	}
	if err = migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}

	var current int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), -1) FROM schema_version`)
	if err = row.Scan(&current); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile("migrations/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := db.Exec(string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := db.Exec(`INSERT INTO schema_version (version) VALUES ($1)`, i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session and prunes the oldest beyond the cap.
func (s *Store) CreateSession(id, sessionID, tracePath, reportPath string, startedAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO dialog_sessions (id, session_id, started_at, trace_path, report_path) VALUES ($1, $2, $3, $4, $5)`,
		id, sessionID, startedAt.UTC(), tracePath, reportPath,
	)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`DELETE FROM dialog_sessions WHERE id NOT IN (SELECT id FROM dialog_sessions ORDER BY started_at DESC LIMIT $1)`,
		maxIndexedSessions,
	)
	return err
}

// EndSession sets the ended_at timestamp.
func (s *Store) EndSession(id string) error {
	_, err := s.db.Exec(
		`UPDATE dialog_sessions SET ended_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	return err
}

// CreateTurn inserts one event/command exchange.
func (s *Store) CreateTurn(t Turn) error {
	_, err := s.db.Exec(
		`INSERT INTO dialog_turns (id, session_id, seq, event_type, input, output, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.SessionID, t.Seq, t.EventType, t.Input, t.Output, t.Status, t.CreatedAt.UTC(),
	)
	return err
}

// ListSessions returns sessions ordered newest first, with turn counts.
func (s *Store) ListSessions(limit, offset int) ([]Session, int, error) {
	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM dialog_sessions`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(`
		SELECT s.id, s.session_id, s.started_at, s.ended_at, s.trace_path, s.report_path, COUNT(t.id) as turn_count
		FROM dialog_sessions s
		LEFT JOIN dialog_turns t ON t.session_id = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var endedAt sql.NullTime
		if err = rows.Scan(&sess.ID, &sess.SessionID, &sess.StartedAt, &endedAt, &sess.TracePath, &sess.ReportPath, &sess.TurnCount); err != nil {
			return nil, 0, err
		}
		if endedAt.Valid {
			sess.EndedAt = &endedAt.Time
		}
		sessions = append(sessions, sess)
	}
	return sessions, total, rows.Err()
}

// GetSession returns a single session with its turns in order.
func (s *Store) GetSession(id string) (*Session, []Turn, error) {
	var sess Session
	var endedAt sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, session_id, started_at, ended_at, trace_path, report_path FROM dialog_sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.SessionID, &sess.StartedAt, &endedAt, &sess.TracePath, &sess.ReportPath)
	if err != nil {
		return nil, nil, err
	}
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}

	rows, err := s.db.Query(
		`SELECT id, session_id, seq, event_type, input, output, status, created_at
		 FROM dialog_turns WHERE session_id = $1 ORDER BY seq ASC`,
		id,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err = rows.Scan(&t.ID, &t.SessionID, &t.Seq, &t.EventType, &t.Input, &t.Output, &t.Status, &t.CreatedAt); err != nil {
			return nil, nil, err
		}
		turns = append(turns, t)
	}
	return &sess, turns, rows.Err()
}
