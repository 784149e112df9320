package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"steamharvest/internal/config"
	"steamharvest/internal/domain"
	"steamharvest/internal/ports"
)

// Mirror replicates flushed batches into Postgres for ad hoc querying.
// The JSONL output store stays authoritative; every insert is idempotent
// so replaying a batch after a crash leaves existing rows untouched.
type Mirror struct {
	pool  *pgxpool.Pool
	table string
}

var _ ports.RecordMirror = (*Mirror)(nil)

// Connect opens the pool, verifies connectivity and ensures the mirror table.
func Connect(ctx context.Context, cfg config.PostgresConfig) (*Mirror, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	m := &Mirror{pool: pool, table: cfg.Table}
	if err := m.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return m, nil
}

func (m *Mirror) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		app_id       BIGINT PRIMARY KEY,
		name         TEXT NOT NULL,
		kind         TEXT NOT NULL,
		is_free      BOOLEAN NOT NULL,
		release_date TEXT NOT NULL DEFAULT '',
		payload      JSONB NOT NULL,
		mirrored_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`, m.table)

	if _, err := m.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure mirror table: %w", err)
	}
	return nil
}

// MirrorBatch queues one idempotent insert per record and sends them in a
// single round trip.
func (m *Mirror) MirrorBatch(ctx context.Context, records []domain.CanonicalRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record %d: %w", rec.AppID, err)
		}

		query, args, err := sq.Insert(m.table).
			Columns("app_id", "name", "kind", "is_free", "release_date", "payload").
			Values(rec.AppID, rec.Name, rec.Kind, rec.IsFree, rec.ReleaseDate, payload).
			Suffix("ON CONFLICT (app_id) DO NOTHING").
			PlaceholderFormat(sq.Dollar).
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert for %d: %w", rec.AppID, err)
		}
		batch.Queue(query, args...)
	}

	results := m.pool.SendBatch(ctx, batch)
	for _, rec := range records {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("mirror record %d: %w", rec.AppID, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close mirror batch: %w", err)
	}

	return nil
}

// Close releases the connection pool.
func (m *Mirror) Close() {
	if m.pool != nil {
		m.pool.Close()
	}
}
