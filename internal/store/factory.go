// Package store arma el repository.Store según config (postgres o memory).
package store

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/passgate/internal/config"
	"github.com/dropDatabas3/passgate/internal/domain/repository"
	"github.com/dropDatabas3/passgate/internal/observability/logger"
	"github.com/dropDatabas3/passgate/internal/store/adapters/memory"
	"github.com/dropDatabas3/passgate/internal/store/adapters/pg"
	"github.com/dropDatabas3/passgate/internal/store/migrate"
)

// Open crea el store configurado. Con postgres y migrate_on_start aplica las
// migraciones pendientes antes de retornar.
func Open(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	log := logger.From(ctx).With(logger.Component("store"))

	switch cfg.Storage.Driver {
	case "memory":
		log.Warn("storage en memoria: los datos se pierden al reiniciar")
		return memory.New(), nil

	case "postgres":
		s, err := pg.Open(ctx, pg.Config{
			DSN:             cfg.Storage.DSN,
			MaxConns:        cfg.Storage.Postgres.MaxConns,
			MinConns:        cfg.Storage.Postgres.MinConns,
			MaxConnLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		if cfg.Storage.MigrateOnStart {
			if _, err := migrate.Up(ctx, s.Pool()); err != nil {
				s.Close()
				return nil, fmt.Errorf("store: migrate: %w", err)
			}
		}
		log.Info("storage postgres listo")
		return s, nil

	default:
		return nil, fmt.Errorf("store: driver desconocido %q", cfg.Storage.Driver)
	}
}
