package wal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is an optional persisted mirror of the write-ahead
// log, for deployments that want replication state to survive a
// process restart rather than relying on the in-memory default.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pool against dsn and ensures the wal_entries
// schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS wal_entries (
			shard_id INTEGER NOT NULL,
			index BIGINT NOT NULL,
			message_id BIGINT NOT NULL,
			queue_name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (shard_id, index)
		)`)
	if err != nil {
		return fmt.Errorf("ensure wal schema: %w", err)
	}
	return nil
}

// Append persists one WAL entry. The caller (Log.Append) has already
// assigned e.Index; the primary key enforces per-shard monotonicity.
func (s *PostgresStore) Append(shardID int, e Entry) error {
	ctx := context.Background()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wal_entries (shard_id, index, message_id, queue_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (shard_id, index) DO NOTHING
	`, shardID, e.Index, e.MessageID, e.QueueName, e.Timestamp)
	if err != nil {
		return fmt.Errorf("append wal entry: %w", err)
	}
	return nil
}

// Entries returns every entry for shardID at or after fromIndex.
func (s *PostgresStore) Entries(shardID int, fromIndex uint64) ([]Entry, error) {
	ctx := context.Background()
	rows, err := s.pool.Query(ctx, `
		SELECT index, message_id, queue_name, created_at
		FROM wal_entries
		WHERE shard_id = $1 AND index >= $2
		ORDER BY index ASC
	`, shardID, fromIndex)
	if err != nil {
		return nil, fmt.Errorf("query wal entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Index, &e.MessageID, &e.QueueName, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan wal entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastIndex returns the highest index appended to shardID, or 0.
func (s *PostgresStore) LastIndex(shardID int) uint64 {
	ctx := context.Background()
	var idx uint64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(index), 0) FROM wal_entries WHERE shard_id = $1
	`, shardID).Scan(&idx)
	if err != nil && err != pgx.ErrNoRows {
		return 0
	}
	return idx
}
