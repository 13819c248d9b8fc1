package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend implements StorageBackend over a single SQLite database.
// Metadata lives in indexed columns; the full session state is a JSON
// document in the data column, replaced whole on every save.
type SQLiteBackend struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT PRIMARY KEY,
    project    TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    last_used  INTEGER NOT NULL,
    status     TEXT NOT NULL DEFAULT 'active',
    msg_count  INTEGER NOT NULL DEFAULT 0,
    data       TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project, last_used);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status, last_used);
`

// NewSQLiteBackend opens (creating if needed) the database at path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer; sqlite serializes writes anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// SaveMeta creates or updates a session row's metadata columns, leaving
// the state document untouched.
func (b *SQLiteBackend) SaveMeta(ctx context.Context, meta *SessionMeta) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO sessions (id, project, created_at, last_used, status, msg_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project = excluded.project,
			created_at = excluded.created_at,
			last_used = excluded.last_used,
			status = excluded.status,
			msg_count = excluded.msg_count`,
		meta.ID,
		meta.Project,
		meta.CreatedAt.UnixMilli(),
		meta.LastUsedAt.UnixMilli(),
		string(meta.Status),
		meta.MessageCount,
	)
	if err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	return nil
}

// LoadMeta retrieves session metadata by ID.
func (b *SQLiteBackend) LoadMeta(ctx context.Context, sessionID string) (*SessionMeta, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, project, created_at, last_used, status, msg_count
		FROM sessions WHERE id = ?`, sessionID)

	meta, err := scanMeta(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load meta: %w", err)
	}
	return meta, nil
}

// ListMetas returns session metadata matching the filter options, most
// recently used first. An empty project matches all projects.
func (b *SQLiteBackend) ListMetas(ctx context.Context, project string, opts ListOptions) ([]*SessionMeta, error) {
	query := `SELECT id, project, created_at, last_used, status, msg_count FROM sessions WHERE 1=1`
	var args []any

	if project != "" {
		query += ` AND project = ?`
		args = append(args, project)
	}
	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(opts.Status))
	}

	query += ` ORDER BY last_used DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			query += ` LIMIT -1`
		}
		query += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var metas []*SessionMeta
	for rows.Next() {
		meta, err := scanMeta(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return metas, nil
}

// SaveState replaces the session's state document. The row must already
// exist; Store always persists metadata for a new session in the same
// operation.
func (b *SQLiteBackend) SaveState(ctx context.Context, sessionID string, state *SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}

	res, err := b.db.ExecContext(ctx,
		`UPDATE sessions SET data = ? WHERE id = ?`, string(data), sessionID)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// New session: insert a placeholder row; SaveMeta fills the rest.
		_, err := b.db.ExecContext(ctx, `
			INSERT INTO sessions (id, project, created_at, last_used, status, msg_count, data)
			VALUES (?, '', 0, 0, 'active', 0, ?)
			ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
			sessionID, string(data))
		if err != nil {
			return fmt.Errorf("save state: %w", err)
		}
	}
	return nil
}

// LoadState retrieves the session's state document.
func (b *SQLiteBackend) LoadState(ctx context.Context, sessionID string) (*SessionState, error) {
	var data sql.NullString
	err := b.db.QueryRowContext(ctx,
		`SELECT data FROM sessions WHERE id = ?`, sessionID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load state: %w", err)
	}

	if !data.Valid || data.String == "" {
		return &SessionState{}, nil
	}

	var state SessionState
	if err := json.Unmarshal([]byte(data.String), &state); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	return &state, nil
}

// DeleteSession removes a session row.
func (b *SQLiteBackend) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := b.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Sweep applies the retention policy in two statements instead of a
// per-session walk.
func (b *SQLiteBackend) Sweep(ctx context.Context, archiveBefore, deleteBefore time.Time) (int, int, error) {
	res, err := b.db.ExecContext(ctx,
		`UPDATE sessions SET status = ? WHERE status = ? AND last_used < ?`,
		string(StatusArchived), string(StatusActive), archiveBefore.UnixMilli())
	if err != nil {
		return 0, 0, fmt.Errorf("archive stale sessions: %w", err)
	}
	archived, _ := res.RowsAffected()

	res, err = b.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE status = ? AND last_used < ?`,
		string(StatusArchived), deleteBefore.UnixMilli())
	if err != nil {
		return int(archived), 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	deleted, _ := res.RowsAffected()

	return int(archived), int(deleted), nil
}

// Close releases the database handle.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeta(row rowScanner) (*SessionMeta, error) {
	var (
		meta      SessionMeta
		createdAt int64
		lastUsed  int64
		status    string
	)
	if err := row.Scan(&meta.ID, &meta.Project, &createdAt, &lastUsed, &status, &meta.MessageCount); err != nil {
		return nil, err
	}
	meta.CreatedAt = time.UnixMilli(createdAt).UTC()
	meta.LastUsedAt = time.UnixMilli(lastUsed).UTC()
	meta.Status = Status(status)
	return &meta, nil
}
