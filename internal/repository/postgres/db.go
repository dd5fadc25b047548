package postgres

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/xela07ax/perfwatch/internal/infra"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store — единая точка доступа к PostgreSQL. Методы разнесены по файлам *_repo.go.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewStore открывает пул соединений и проверяет доступность базы.
func NewStore(ctx context.Context, cfg infra.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	poolCfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create pool: %w", err)
	}

	s := &Store{pool: pool, logger: logger.Named("postgres")}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: database unreachable: %w", err)
	}
	return s, nil
}

// Migrate применяет встроенную схему. Скрипт идемпотентен (IF NOT EXISTS).
func (s *Store) Migrate(ctx context.Context) error {
	schema, err := migrationsFS.ReadFile("migrations/001_schema.sql")
	if err != nil {
		return fmt.Errorf("postgres: failed to read schema: %w", err)
	}
	if _, err := s.pool.Exec(ctx, string(schema)); err != nil {
		return fmt.Errorf("postgres: failed to apply schema: %w", err)
	}
	return nil
}

// Ping проверяет доступность базы при старте
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}
