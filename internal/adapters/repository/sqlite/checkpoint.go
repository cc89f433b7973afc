// Package sqlite stores checkpoints in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/flowgraph/stategraph/internal/core/checkpoint"
	"github.com/flowgraph/stategraph/pkg/serialization"
)

var (
	_ checkpoint.Store   = (*Store)(nil)
	_ checkpoint.Lister  = (*Store)(nil)
	_ checkpoint.Deleter = (*Store)(nil)
)

// Store keeps one row per checkpoint, keyed by thread and sequence. The
// whole checkpoint is held in an encoded payload; the other columns exist
// for ordering and filtering.
type Store struct {
	db         *sql.DB
	serializer *serialization.Serializer
	table      string
	owned      bool
}

// New wraps an open database. Call Migrate before first use.
func New(db *sql.DB, serializer *serialization.Serializer) *Store {
	if serializer == nil {
		serializer = serialization.Default()
	}
	return &Store{db: db, serializer: serializer, table: "checkpoints"}
}

// Open opens dsn with the modernc driver and creates the table. An
// in-memory database is pinned to one connection so every query sees it.
func Open(ctx context.Context, dsn string, serializer *serialization.Serializer) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}
	s := New(db, serializer)
	s.owned = true
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// WithTable overrides the table name. Only letters, digits and
// underscores are accepted; anything else keeps the current name.
func (s *Store) WithTable(name string) *Store {
	if isSafeIdent(name) {
		s.table = name
	}
	return s
}

func isSafeIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			continue
		}
		return false
	}
	return true
}

// Migrate creates the table and its indexes.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			id TEXT NOT NULL,
			graph_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			source TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			codec TEXT NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (thread_id, seq)
		)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created ON %s (thread_id, created_at)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.table, err)
		}
	}
	return nil
}

// Save appends cp under the next sequence number of the thread.
func (s *Store) Save(ctx context.Context, threadID string, cp *checkpoint.Checkpoint) error {
	if cp == nil {
		return checkpoint.ErrNilCheckpoint
	}
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("checkpoint validation failed: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	row := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT COALESCE(MAX(seq), 0) + 1 FROM %s WHERE thread_id = ?`, s.table), threadID)
	if err := row.Scan(&seq); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	stored := cp.Clone()
	stored.Seq = seq
	payload, err := s.serializer.Serialize(stored)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s
		(thread_id, seq, id, graph_id, step, source, created_at, codec, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table),
		threadID, seq, cp.ID, cp.GraphID, int64(cp.Step), string(cp.Metadata.Source),
		cp.Timestamp.UnixNano(), s.serializer.Codec(), payload)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	cp.Seq = seq
	return nil
}

// Load returns the newest checkpoint of the thread.
func (s *Store) Load(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT payload FROM %s WHERE thread_id = ? ORDER BY seq DESC LIMIT 1`, s.table),
		threadID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checkpoint.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return s.decode(payload)
}

// List returns the thread's checkpoints matching filter, oldest first.
func (s *Store) List(ctx context.Context, threadID string, filter checkpoint.Filter) ([]*checkpoint.Checkpoint, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("filter validation failed: %w", err)
	}
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE thread_id = ?`, s.table)
	args := []any{threadID}
	if filter.Source != "" {
		query += " AND source = ?"
		args = append(args, string(filter.Source))
	}
	if filter.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, filter.Since.UnixNano())
	}
	if filter.Before != nil {
		query += " AND created_at < ?"
		args = append(args, filter.Before.UnixNano())
	}
	query += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var all []*checkpoint.Checkpoint
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		cp, err := s.decode(payload)
		if err != nil {
			return nil, err
		}
		all = append(all, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return filter.Apply(all), nil
}

// Delete removes every checkpoint of the thread.
func (s *Store) Delete(ctx context.Context, threadID string) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE thread_id = ?`, s.table), threadID)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	if n == 0 {
		return checkpoint.ErrCheckpointNotFound
	}
	return nil
}

// Threads lists thread ids with at least one checkpoint.
func (s *Store) Threads(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT thread_id FROM %s ORDER BY thread_id`, s.table))
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Close closes the database when the store opened it.
func (s *Store) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

func (s *Store) decode(payload []byte) (*checkpoint.Checkpoint, error) {
	var cp checkpoint.Checkpoint
	if err := s.serializer.Deserialize(payload, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if cp.State == nil {
		cp.State = map[string]any{}
	}
	cp.Timestamp = cp.Timestamp.UTC()
	return &cp, nil
}
