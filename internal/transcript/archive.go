// Package transcript persists finished conversations to SQLite so they
// outlive the session that produced them.
package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voxloop-ai/voxloop/internal/realtime"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		archived_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		session_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		item_id TEXT NOT NULL,
		role TEXT NOT NULL,
		status TEXT NOT NULL,
		text TEXT NOT NULL,
		PRIMARY KEY (session_id, position),
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	)`,
}

// Entry is one archived conversation item.
type Entry struct {
	Position int
	ItemID   string
	Role     realtime.Role
	Status   realtime.ItemStatus
	Text     string
}

// SessionRecord summarises one archived session.
type SessionRecord struct {
	ID         string
	ArchivedAt time.Time
	ItemCount  int
}

// Archive is the SQLite transcript store.
type Archive struct {
	db   *sql.DB
	path string
}

// Open initialises the archive at path, creating it if needed.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("transcript: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON", "PRAGMA journal_mode = WAL"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("transcript: apply pragma %q: %w", pragma, err)
		}
	}
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("transcript: apply schema: %w", err)
		}
	}

	return &Archive{db: db, path: path}, nil
}

// Close finalises the underlying database connection.
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Path returns the filesystem path of the backing database.
func (a *Archive) Path() string {
	return a.path
}

// SaveTranscript archives the item sequence under sessionID. Saving the same
// session twice replaces the earlier transcript.
func (a *Archive) SaveTranscript(ctx context.Context, sessionID string, items []realtime.Item) error {
	if sessionID == "" {
		return fmt.Errorf("transcript: empty session id")
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("transcript: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, archived_at) VALUES (?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET archived_at = CURRENT_TIMESTAMP`,
		sessionID,
	); err != nil {
		return fmt.Errorf("transcript: upsert session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("transcript: clear prior items: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO items (session_id, position, item_id, role, status, text) VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("transcript: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, item := range items {
		if _, err := stmt.ExecContext(ctx, sessionID, i, item.ID, string(item.Role), string(item.Status), item.Text()); err != nil {
			return fmt.Errorf("transcript: insert item %s: %w", item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("transcript: commit: %w", err)
	}
	return nil
}

// LoadTranscript returns the archived items for sessionID in order.
func (a *Archive) LoadTranscript(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT position, item_id, role, status, text FROM items WHERE session_id = ? ORDER BY position`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("transcript: load %s: %w", sessionID, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var role, status string
		if err := rows.Scan(&entry.Position, &entry.ItemID, &role, &status, &entry.Text); err != nil {
			return nil, fmt.Errorf("transcript: scan item: %w", err)
		}
		entry.Role = realtime.Role(role)
		entry.Status = realtime.ItemStatus(status)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcript: iterate items: %w", err)
	}
	return entries, nil
}

// Sessions lists archived sessions, newest first.
func (a *Archive) Sessions(ctx context.Context) ([]SessionRecord, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT s.id, s.archived_at, COUNT(i.item_id)
		FROM sessions s LEFT JOIN items i ON i.session_id = s.id
		GROUP BY s.id ORDER BY s.archived_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("transcript: list sessions: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var record SessionRecord
		var archivedAt string
		if err := rows.Scan(&record.ID, &archivedAt, &record.ItemCount); err != nil {
			return nil, fmt.Errorf("transcript: scan session: %w", err)
		}
		if ts, err := time.Parse("2006-01-02 15:04:05", archivedAt); err == nil {
			record.ArchivedAt = ts
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcript: iterate sessions: %w", err)
	}
	return records, nil
}
