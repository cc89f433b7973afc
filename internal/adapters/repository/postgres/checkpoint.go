// Package postgres stores checkpoints in PostgreSQL and enforces one
// writer per thread across processes with advisory locks.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowgraph/stategraph/internal/core/checkpoint"
	"github.com/flowgraph/stategraph/pkg/serialization"
)

var (
	_ checkpoint.Store   = (*Store)(nil)
	_ checkpoint.Lister  = (*Store)(nil)
	_ checkpoint.Deleter = (*Store)(nil)
	_ checkpoint.Locker  = (*Store)(nil)
)

// Store keeps one row per checkpoint, keyed by thread and sequence.
type Store struct {
	pool       *pgxpool.Pool
	serializer *serialization.Serializer
	table      string
	owned      bool
}

// New wraps an existing pool. Call Migrate before first use.
func New(pool *pgxpool.Pool, serializer *serialization.Serializer) *Store {
	if serializer == nil {
		serializer = serialization.Default()
	}
	return &Store{pool: pool, serializer: serializer, table: "checkpoints"}
}

// Open connects to dsn and creates the table.
func Open(ctx context.Context, dsn string, serializer *serialization.Serializer) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := New(pool, serializer)
	s.owned = true
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
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
			seq BIGINT NOT NULL,
			id TEXT NOT NULL,
			graph_id TEXT NOT NULL,
			step BIGINT NOT NULL,
			source TEXT NOT NULL,
			tags TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			codec TEXT NOT NULL,
			payload BYTEA NOT NULL,
			PRIMARY KEY (thread_id, seq)
		)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created ON %s (thread_id, created_at)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.table, err)
		}
	}
	return nil
}

// Save appends cp under the next sequence number of the thread. The
// primary key rejects a concurrent writer that raced for the same number.
func (s *Store) Save(ctx context.Context, threadID string, cp *checkpoint.Checkpoint) error {
	if cp == nil {
		return checkpoint.ErrNilCheckpoint
	}
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("checkpoint validation failed: %w", err)
	}
	payload, err := s.serializer.Serialize(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	tags := cp.Metadata.Tags
	if tags == nil {
		tags = []string{}
	}

	var seq int64
	err = s.pool.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %[1]s (thread_id, seq, id, graph_id, step, source, tags, created_at, codec, payload)
		SELECT $1::text, COALESCE(MAX(seq), 0) + 1, $2::text, $3::text, $4::bigint, $5::text,
			$6::text[], $7::timestamptz, $8::text, $9::bytea
		FROM %[1]s WHERE thread_id = $1::text
		RETURNING seq`, s.table),
		threadID, cp.ID, cp.GraphID, int64(cp.Step), string(cp.Metadata.Source), tags,
		cp.Timestamp, s.serializer.Codec(), payload,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	cp.Seq = seq
	return nil
}

// Load returns the newest checkpoint of the thread.
func (s *Store) Load(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	var (
		seq     int64
		payload []byte
	)
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT seq, payload FROM %s WHERE thread_id = $1 ORDER BY seq DESC LIMIT 1`, s.table),
		threadID).Scan(&seq, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, checkpoint.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return s.decode(seq, payload)
}

// List returns the thread's checkpoints matching filter, oldest first.
// Every predicate, offset and limit run in the database.
func (s *Store) List(ctx context.Context, threadID string, filter checkpoint.Filter) ([]*checkpoint.Checkpoint, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("filter validation failed: %w", err)
	}
	query, args := s.listQuery(threadID, filter)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*checkpoint.Checkpoint
	for rows.Next() {
		var (
			seq     int64
			payload []byte
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		cp, err := s.decode(seq, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return out, nil
}

func (s *Store) listQuery(threadID string, filter checkpoint.Filter) (string, []any) {
	query := fmt.Sprintf(`SELECT seq, payload FROM %s WHERE thread_id = $1`, s.table)
	args := []any{threadID}
	add := func(clause string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(clause, len(args))
	}
	if filter.Source != "" {
		add(" AND source = $%d", string(filter.Source))
	}
	if filter.Since != nil {
		add(" AND created_at >= $%d", *filter.Since)
	}
	if filter.Before != nil {
		add(" AND created_at < $%d", *filter.Before)
	}
	if len(filter.Tags) > 0 {
		add(" AND tags @> $%d", filter.Tags)
	}
	query += " ORDER BY seq ASC"
	if filter.Limit > 0 {
		add(" LIMIT $%d", filter.Limit)
	}
	if filter.Offset > 0 {
		add(" OFFSET $%d", filter.Offset)
	}
	return query, args
}

// Delete removes every checkpoint of the thread.
func (s *Store) Delete(ctx context.Context, threadID string) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE thread_id = $1`, s.table), threadID)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return checkpoint.ErrCheckpointNotFound
	}
	return nil
}

// Lock takes a session advisory lock on the thread id. The lock lives on
// a dedicated pooled connection until unlock is called, so another
// process resuming the same thread fails fast with ErrThreadLocked.
func (s *Store) Lock(ctx context.Context, threadID string) (func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtextextended($1, 0))`, threadID).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, fmt.Errorf("%w: %s", checkpoint.ErrThreadLocked, threadID)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, threadID); err != nil {
			// A connection that may still hold the lock must not go back to the pool.
			_ = conn.Conn().Close(ctx)
		}
		conn.Release()
	}, nil
}

// Close closes the pool when the store opened it.
func (s *Store) Close() {
	if s.owned {
		s.pool.Close()
	}
}

func (s *Store) decode(seq int64, payload []byte) (*checkpoint.Checkpoint, error) {
	var cp checkpoint.Checkpoint
	if err := s.serializer.Deserialize(payload, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if cp.State == nil {
		cp.State = map[string]any{}
	}
	cp.Seq = seq
	cp.Timestamp = cp.Timestamp.UTC()
	return &cp, nil
}
