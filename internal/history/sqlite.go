package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"pdfchat/internal/helper"
)

const schema = `CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL
)`

// SQLite stores one session of the conversation in a SQLite file. Rows are
// only ever inserted.
type SQLite struct {
	db        *sql.DB
	sessionID string
}

// NewSQLite opens path and starts a session. An empty sessionID starts a new
// one.
func NewSQLite(ctx context.Context, path, sessionID string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	if err := helper.CreateFolder(filepath.Dir(path)); err != nil {
		return nil, err
	}
	if sessionID == "" {
		id, err := helper.GenerateUUID()
		if err != nil {
			return nil, err
		}
		sessionID = id
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history table: %w", err)
	}
	log.Debug().Str("path", path).Str("session", sessionID).Msg("Opened history")
	return &SQLite{db: db, sessionID: sessionID}, nil
}

func (s *SQLite) SessionID() string { return s.sessionID }

func (s *SQLite) Append(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(session_id, role, content, created_at) VALUES(?,?,?,?)`,
		s.sessionID, e.Role, e.Content, e.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (s *SQLite) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM messages WHERE session_id = ? ORDER BY id`, s.sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.Role, &e.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, s.sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
