package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS schedsync_ledger (
	recipient_key TEXT NOT NULL,
	fingerprint   TEXT NOT NULL,
	seen_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (recipient_key, fingerprint)
)`

// PostgresStore keeps the ledger in a shared Postgres table so several
// hosts can run passes against the same recipients.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the ledger table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the ledger table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("migrate ledger table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Load reads every recorded (recipient, fingerprint) pair.
func (s *PostgresStore) Load(ctx context.Context) (*Ledger, error) {
	rows, err := s.pool.Query(ctx, `SELECT recipient_key, fingerprint FROM schedsync_ledger`)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	l := New()
	for rows.Next() {
		var recipient, fp string
		if err := rows.Scan(&recipient, &fp); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		l.MarkSeen(recipient, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read ledger rows: %w", err)
	}
	return l, nil
}

// Save inserts every entry of l in one transaction. Rows written by other
// hosts are kept; existing pairs are left untouched.
func (s *PostgresStore) Save(ctx context.Context, l *Ledger) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for recipient, fps := range l.Snapshot() {
			for _, fp := range fps {
				batch.Queue(`INSERT INTO schedsync_ledger (recipient_key, fingerprint)
VALUES ($1, $2) ON CONFLICT (recipient_key, fingerprint) DO NOTHING`, recipient, fp)
			}
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save ledger: %w", err)
		}
		return nil
	})
}
