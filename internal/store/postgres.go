package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blitztime/server/internal/timer"
)

const schema = `
CREATE TABLE IF NOT EXISTS timers (
    id         UUID PRIMARY KEY,
    record     JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps one JSONB record per timer.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and ensures the timers table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	id, err := uuid.Parse(rec.Snapshot.ID)
	if err != nil {
		return fmt.Errorf("%w: bad timer id %q", timer.ErrInvalidInput, rec.Snapshot.ID)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO timers (id, record, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET record = EXCLUDED.record, updated_at = now()`,
		id, data)
	if err != nil {
		return fmt.Errorf("save timer %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, id uuid.UUID) (Record, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT record FROM timers WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, timer.ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load timer %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal timer %s: %w", id, err)
	}
	return rec, nil
}

func (s *PostgresStore) LoadAll(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT record FROM timers ORDER BY updated_at`)
	if err != nil {
		return nil, fmt.Errorf("load timers: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan timer record: %w", err)
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal timer record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timer records: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
