// Package pg implementa core.Store sobre PostgreSQL con pgxpool.
package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skygenesisenterprise/aether-broker/internal/observability/logger"
	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
)

type Store struct{ pool *pgxpool.Pool }

// Pool expone el pool interno para usos avanzados (metrics/migraciones).
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// New crea el store. El ping de arranque es best-effort: la app puede
// levantar con la DB momentáneamente caída.
func New(ctx context.Context, dsn string) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if pcfg.MaxConns == 0 {
		pcfg.MaxConns = 8
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		logger.Named("pg").Warn("startup ping failed", logger.Err(err))
	} else {
		logger.Named("pg").Info("pool ready", logger.Int("max_conns", int(pcfg.MaxConns)))
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close cierra el pool subyacente (idempotente).
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// mapErr traduce errores de pgx a los sentinels de core.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return core.ErrConflict
	}
	return err
}
