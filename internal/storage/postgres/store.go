package postgres

/*
Файл store.go: хранилище учета в PostgreSQL.

Атомарность Acquire держится на pg_advisory_xact_lock по digest бакета:
конкурентные транзакции одного бакета выстраиваются в очередь, разные бакеты не мешают друг другу.
Лок снимается вместе с COMMIT/ROLLBACK.

Массовая очистка идет пачками с паузами через rate.Limiter,
чтобы sweeper не занимал базу, которую делит с сайтом.
*/

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/ratewarden/internal/domain"
	"github.com/xela07ax/ratewarden/internal/governor"
	"github.com/xela07ax/ratewarden/internal/storage"
	"golang.org/x/time/rate"
)

//go:embed schema.sql
var schema string

type Options struct {
	// SweepBatch: сколько строк удаляет один DELETE
	SweepBatch int
	// SweepRate: сколько пачек в секунду допускается
	SweepRate float64
}

type Store struct {
	pool    *pgxpool.Pool
	batch   int
	limiter *rate.Limiter
}

var _ governor.Store = (*Store)(nil)

// Connect открывает пул. Пул живет все время процесса и закрывается через Close.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	return pool, nil
}

func New(pool *pgxpool.Pool, opts Options) *Store {
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = 5000
	}
	if opts.SweepRate <= 0 {
		opts.SweepRate = 10
	}
	return &Store{
		pool:    pool,
		batch:   opts.SweepBatch,
		limiter: rate.NewLimiter(rate.Limit(opts.SweepRate), 1),
	}
}

// Migrate создает таблицу и индексы, если их еще нет.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (s *Store) Acquire(ctx context.Context, b domain.Bucket, nowMillis int64, limit domain.Limit) (u domain.Usage, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return u, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.Background())
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, storage.LockID(b)); err != nil {
		return u, fmt.Errorf("postgres: lock bucket: %w", err)
	}

	cutoff := nowMillis - limit.WindowMillis()
	if _, err = tx.Exec(ctx, `
		DELETE FROM governor_entries
		WHERE identity = $1 AND endpoint_key = $2 AND ts_ms < $3`,
		b.Identity, b.EndpointKey, cutoff); err != nil {
		return u, fmt.Errorf("postgres: prune bucket: %w", err)
	}

	var oldest *int64
	if err = tx.QueryRow(ctx, `
		SELECT count(*), min(ts_ms) FROM governor_entries
		WHERE identity = $1 AND endpoint_key = $2 AND ts_ms >= $3`,
		b.Identity, b.EndpointKey, cutoff).Scan(&u.Count, &oldest); err != nil {
		return u, fmt.Errorf("postgres: count bucket: %w", err)
	}

	if u.Count < limit.Requests {
		if _, err = tx.Exec(ctx, `
			INSERT INTO governor_entries (identity, endpoint_key, ts_ms) VALUES ($1, $2, $3)`,
			b.Identity, b.EndpointKey, nowMillis); err != nil {
			return u, fmt.Errorf("postgres: insert entry: %w", err)
		}
		u.Admitted = true
	}

	switch {
	case oldest != nil:
		u.OldestMillis = *oldest
		if u.Admitted && nowMillis < u.OldestMillis {
			u.OldestMillis = nowMillis
		}
	case u.Admitted:
		u.OldestMillis = nowMillis
	}

	if err = tx.Commit(ctx); err != nil {
		return u, fmt.Errorf("postgres: commit: %w", err)
	}
	return u, nil
}

func (s *Store) CountSince(ctx context.Context, b domain.Bucket, sinceMillis int64) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM governor_entries
		WHERE identity = $1 AND endpoint_key = $2 AND ts_ms >= $3`,
		b.Identity, b.EndpointKey, sinceMillis).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count: %w", err)
	}
	return n, nil
}

func (s *Store) Insert(ctx context.Context, b domain.Bucket, tsMillis int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO governor_entries (identity, endpoint_key, ts_ms) VALUES ($1, $2, $3)`,
		b.Identity, b.EndpointKey, tsMillis)
	if err != nil {
		return fmt.Errorf("postgres: insert: %w", err)
	}
	return nil
}

func (s *Store) DeleteBefore(ctx context.Context, b domain.Bucket, beforeMillis int64) (int64, error) {
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM governor_entries
		WHERE identity = $1 AND endpoint_key = $2 AND ts_ms < $3`,
		b.Identity, b.EndpointKey, beforeMillis)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete: %w", err)
	}
	return ct.RowsAffected(), nil
}

func (s *Store) DeleteOlderThan(ctx context.Context, beforeMillis int64) (int64, error) {
	var deleted int64
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return deleted, err
		}

		ct, err := s.pool.Exec(ctx, `
			DELETE FROM governor_entries
			WHERE id IN (SELECT id FROM governor_entries WHERE ts_ms < $1 LIMIT $2)`,
			beforeMillis, s.batch)
		if err != nil {
			return deleted, fmt.Errorf("postgres: sweep: %w", err)
		}

		deleted += ct.RowsAffected()
		if ct.RowsAffected() < int64(s.batch) {
			return deleted, nil
		}
	}
}

func (s *Store) DeleteIdentity(ctx context.Context, identity, endpointKey string) (int64, error) {
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM governor_entries
		WHERE identity = $1 AND ($2::text = '' OR endpoint_key = $2::text)`,
		identity, endpointKey)
	if err != nil {
		return 0, fmt.Errorf("postgres: reset: %w", err)
	}
	return ct.RowsAffected(), nil
}

func (s *Store) Scan(ctx context.Context, sinceMillis int64, fn func(domain.Entry) error) error {
	rows, err := s.pool.Query(ctx, `
		SELECT identity, endpoint_key, ts_ms FROM governor_entries WHERE ts_ms >= $1`,
		sinceMillis)
	if err != nil {
		return fmt.Errorf("postgres: scan: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e domain.Entry
		if err := rows.Scan(&e.Identity, &e.EndpointKey, &e.TimestampMillis); err != nil {
			return fmt.Errorf("postgres: scan row: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

