// Package migrate aplica los scripts embebidos en migrations/postgres bajo un
// advisory lock, registrando las versiones aplicadas en schema_migrations.
package migrate

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dropDatabas3/passgate/internal/observability/logger"
	migrations "github.com/dropDatabas3/passgate/migrations/postgres"
)

const lockKey = "passgate:schema_migrations"

// lockID deriva un id estable para pg_advisory_lock.
func lockID() int64 {
	h := sha256.Sum256([]byte(lockKey))
	return int64(binary.BigEndian.Uint64(h[:8]))
}

// Script es un archivo de migración.
type Script struct {
	Version string // "0001_init"
	Name    string // nombre del archivo
	SQL     string
}

// Scripts lista los scripts up o down de fsys ordenados por versión
// (down en orden inverso).
func Scripts(fsys fs.FS, down bool) ([]Script, error) {
	suffix := "_up.sql"
	if down {
		suffix = "_down.sql"
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	var out []Script
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(name), suffix) {
			continue
		}
		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		out = append(out, Script{Version: strings.TrimSuffix(name, suffix), Name: name, SQL: string(b)})
	}
	sort.Slice(out, func(i, j int) bool {
		if down {
			return out[i].Version > out[j].Version
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// Up aplica las migraciones pendientes y retorna cuántas se aplicaron.
func Up(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	scripts, err := Scripts(migrations.FS, false)
	if err != nil {
		return 0, err
	}
	return run(ctx, pool, func(ctx context.Context, conn *pgxpool.Conn, applied map[string]bool) (int, error) {
		n := 0
		for _, s := range scripts {
			if applied[s.Version] {
				continue
			}
			if err := exec(ctx, conn, s, `INSERT INTO schema_migrations (version) VALUES ($1)`); err != nil {
				return n, err
			}
			n++
		}
		return n, nil
	})
}

// Down revierte las últimas steps migraciones aplicadas.
func Down(ctx context.Context, pool *pgxpool.Pool, steps int) (int, error) {
	scripts, err := Scripts(migrations.FS, true)
	if err != nil {
		return 0, err
	}
	return run(ctx, pool, func(ctx context.Context, conn *pgxpool.Conn, applied map[string]bool) (int, error) {
		n := 0
		for _, s := range scripts {
			if n >= steps {
				break
			}
			if !applied[s.Version] {
				continue
			}
			if err := exec(ctx, conn, s, `DELETE FROM schema_migrations WHERE version = $1`); err != nil {
				return n, err
			}
			n++
		}
		return n, nil
	})
}

type stepFn func(ctx context.Context, conn *pgxpool.Conn, applied map[string]bool) (int, error)

// run toma una conexión dedicada: el advisory lock es por sesión de postgres.
func run(ctx context.Context, pool *pgxpool.Pool, step stepFn) (int, error) {
	log := logger.From(ctx).With(logger.Component("migrate"))

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("migrate: acquire conn: %w", err)
	}
	defer conn.Release()

	id := lockID()
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, id); err != nil {
		return 0, fmt.Errorf("migrate: advisory lock: %w", err)
	}
	defer func() {
		if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, id); err != nil {
			log.Warn("no se pudo liberar el lock de migraciones", logger.Err(err))
		}
	}()

	if _, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return 0, fmt.Errorf("migrate: schema_migrations: %w", err)
	}

	rows, err := conn.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return 0, fmt.Errorf("migrate: list applied: %w", err)
	}
	applied := map[string]bool{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return 0, err
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	n, err := step(ctx, conn, applied)
	if err != nil {
		return n, err
	}
	log.Info("migraciones ejecutadas", logger.Count(n), zap.Int("previously_applied", len(applied)))
	return n, nil
}

// exec corre el script y su registro en una misma transacción.
func exec(ctx context.Context, conn *pgxpool.Conn, s Script, record string) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, s.SQL); err != nil {
		return fmt.Errorf("migrate: exec %s: %w", s.Name, err)
	}
	if _, err := tx.Exec(ctx, record, s.Version); err != nil {
		return fmt.Errorf("migrate: record %s: %w", s.Version, err)
	}
	return tx.Commit(ctx)
}
