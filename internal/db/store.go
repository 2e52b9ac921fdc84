package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
	CREATE TABLE IF NOT EXISTS books (
		fileName TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		position REAL NOT NULL DEFAULT 0,
		sessionId TEXT NOT NULL DEFAULT '',
		updatedAt REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversation_lines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sessionId TEXT NOT NULL,
		fileName TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		createdAt REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_lines_session ON conversation_lines(sessionId, id);
`

// Store provides access to the book-buddy SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path with WAL and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store, err := newStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func newStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Book returns the saved state of fileName, or nil if it was never opened.
func (s *Store) Book(ctx context.Context, fileName string) (*BookState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT fileName, title, position, sessionId, updatedAt
		FROM books
		WHERE fileName = ?
	`, fileName)

	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Books returns every known book, most recently used first.
func (s *Store) Books(ctx context.Context) ([]BookState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fileName, title, position, sessionId, updatedAt
		FROM books
		ORDER BY updatedAt DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query books: %w", err)
	}
	defer rows.Close()

	var books []BookState
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, *b)
	}
	return books, rows.Err()
}

// SavePosition records the listening position of fileName.
func (s *Store) SavePosition(ctx context.Context, fileName string, position float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO books (fileName, position, updatedAt) VALUES (?, ?, ?)
		ON CONFLICT(fileName) DO UPDATE SET position = excluded.position, updatedAt = excluded.updatedAt
	`, fileName, position, s.timestamp())
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

// SetTitle records a display title for fileName.
func (s *Store) SetTitle(ctx context.Context, fileName, title string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO books (fileName, title, updatedAt) VALUES (?, ?, ?)
		ON CONFLICT(fileName) DO UPDATE SET title = excluded.title, updatedAt = excluded.updatedAt
	`, fileName, title, s.timestamp())
	if err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	return nil
}

// RecordSession stores the last voice conversation of fileName.
func (s *Store) RecordSession(ctx context.Context, fileName, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO books (fileName, sessionId, updatedAt) VALUES (?, ?, ?)
		ON CONFLICT(fileName) DO UPDATE SET sessionId = excluded.sessionId, updatedAt = excluded.updatedAt
	`, fileName, sessionID, s.timestamp())
	if err != nil {
		return fmt.Errorf("record session: %w", err)
	}
	return nil
}

// AddLine appends a transcript line.
func (s *Store) AddLine(ctx context.Context, line ConversationLine) error {
	created := line.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_lines (sessionId, fileName, role, text, createdAt)
		VALUES (?, ?, ?, ?, ?)
	`, line.SessionID, line.FileName, line.Role, line.Text, unixFromTime(created))
	if err != nil {
		return fmt.Errorf("add line: %w", err)
	}
	return nil
}

// LinesForSession returns the transcript of a conversation in order.
func (s *Store) LinesForSession(ctx context.Context, sessionID string) ([]ConversationLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sessionId, fileName, role, text, createdAt
		FROM conversation_lines
		WHERE sessionId = ?
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query lines: %w", err)
	}
	defer rows.Close()

	var lines []ConversationLine
	for rows.Next() {
		var l ConversationLine
		var createdAt float64
		if err := rows.Scan(&l.SessionID, &l.FileName, &l.Role, &l.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan line: %w", err)
		}
		l.CreatedAt = timeFromUnix(createdAt)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBook(row scanner) (*BookState, error) {
	var b BookState
	var updatedAt float64
	if err := row.Scan(&b.FileName, &b.Title, &b.Position, &b.SessionID, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan book: %w", err)
	}
	b.UpdatedAt = timeFromUnix(updatedAt)
	return &b, nil
}

func (s *Store) timestamp() float64 {
	return unixFromTime(s.now())
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
