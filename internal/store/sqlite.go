package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"rendezvous/signal/internal/store/migrations"
	"rendezvous/signal/internal/types"

	_ "modernc.org/sqlite"
)

// sortable, fixed width, UTC
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite persists one row per room with the full record as JSON.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	clean := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(clean), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dsn := "file:" + clean + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer at a time; sqlite serializes anyway
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Get(ctx context.Context, code string) (*types.Room, error) {
	var record string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM rooms WHERE code = ?`, code).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get room: %v", ErrUnavailable, err)
	}
	return decodeRecord(code, record)
}

func (s *SQLite) Save(ctx context.Context, room *types.Room) error {
	b, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("%w: encode room: %v", ErrUnavailable, err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO rooms (code, state, created_at, expires_at, record)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(code) DO UPDATE SET
	state = excluded.state,
	created_at = excluded.created_at,
	expires_at = excluded.expires_at,
	record = excluded.record
`,
		room.Code,
		string(room.State),
		room.CreatedAt.UTC().Format(sqliteTimeLayout),
		room.ExpiresAt.UTC().Format(sqliteTimeLayout),
		string(b),
	)
	if err != nil {
		return fmt.Errorf("%w: save room: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, code string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE code = ?`, code)
	if err != nil {
		return false, fmt.Errorf("%w: delete room: %v", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: delete room: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

func (s *SQLite) List(ctx context.Context) ([]*types.Room, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, record FROM rooms ORDER BY created_at, code`)
	if err != nil {
		return nil, fmt.Errorf("%w: list rooms: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []*types.Room
	for rows.Next() {
		var code, record string
		if err := rows.Scan(&code, &record); err != nil {
			return nil, fmt.Errorf("%w: scan room: %v", ErrUnavailable, err)
		}
		r, err := decodeRecord(code, record)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list rooms: %v", ErrUnavailable, err)
	}
	return out, nil
}

func decodeRecord(code, record string) (*types.Room, error) {
	var r types.Room
	if err := json.Unmarshal([]byte(record), &r); err != nil {
		return nil, fmt.Errorf("%w: decode room %s: %v", ErrUnavailable, code, err)
	}
	r.Code = code
	return normalize(&r), nil
}

const migrationTable = "schema_migrations"

// applyMigrations runs the Up section of each embedded .sql file once.
func applyMigrations(db *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, name := range files {
		var n int
		if err := db.QueryRow(`SELECT COUNT(1) FROM `+migrationTable+` WHERE name = ?`, name).Scan(&n); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if n > 0 {
			continue
		}
		content, err := fs.ReadFile(migrationFS, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.Exec(upSection(string(content))); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`, name, time.Now().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	i := strings.Index(content, up)
	if i == -1 {
		return content
	}
	rest := content[i+len(up):]
	if j := strings.Index(rest, down); j != -1 {
		return rest[:j]
	}
	return rest
}
