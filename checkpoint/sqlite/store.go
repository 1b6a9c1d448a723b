// Package sqlite persists thread checkpoints in a SQLite database using the
// pure Go modernc.org/sqlite driver. The schema is managed with embedded
// goose migrations that run when the store is opened.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/hupe1980/researchmesh/core"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements core.CheckpointStore on SQLite.
type Store struct {
	db *sql.DB
}

var _ core.CheckpointStore = (*Store)(nil)

// Open opens (creating if needed) the database at path and migrates it.
// Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return err
	}
	_, err = p.Up(ctx)
	return err
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Load implements core.CheckpointStore.
func (s *Store) Load(ctx context.Context, threadKey string) (*core.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT next_state, context, messages, updated_at
	FROM checkpoints
	WHERE thread_key = ?`, threadKey)

	var next, ecJSON, msgsJSON, updated string
	if err := row.Scan(&next, &ecJSON, &msgsJSON, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	cp := core.Checkpoint{ThreadKey: threadKey, Next: next}
	if err := json.Unmarshal([]byte(ecJSON), &cp.Context); err != nil {
		return nil, fmt.Errorf("decode checkpoint context: %w", err)
	}
	if err := json.Unmarshal([]byte(msgsJSON), &cp.Messages); err != nil {
		return nil, fmt.Errorf("decode checkpoint messages: %w", err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		cp.UpdatedAt = ts
	}
	return &cp, nil
}

// Save implements core.CheckpointStore.
func (s *Store) Save(ctx context.Context, threadKey string, cp core.Checkpoint) error {
	if threadKey == "" {
		return errors.New("thread key cannot be empty")
	}
	ecJSON, err := json.Marshal(cp.Context)
	if err != nil {
		return fmt.Errorf("encode checkpoint context: %w", err)
	}
	msgs := cp.Messages
	if msgs == nil {
		msgs = []core.Message{}
	}
	msgsJSON, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode checkpoint messages: %w", err)
	}
	updated := cp.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO checkpoints (thread_key, run_id, next_state, context, messages, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(thread_key) DO UPDATE SET
		run_id = excluded.run_id,
		next_state = excluded.next_state,
		context = excluded.context,
		messages = excluded.messages,
		updated_at = excluded.updated_at`,
		threadKey, cp.Context.RunID, cp.Next, string(ecJSON), string(msgsJSON), updated.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}
