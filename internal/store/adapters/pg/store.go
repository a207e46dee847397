// Package pg implementa repository.Store sobre PostgreSQL (pgx/v5).
//
// Todas las garantías de concurrencia (canje de invites, contador de firmas)
// se apoyan en el aislamiento de la base: UPDATE condicional y SELECT ... FOR
// UPDATE dentro de InTx. No hay locks en proceso.
package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/passgate/internal/domain/repository"
)

// querier lo satisfacen *pgxpool.Pool y pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config del pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Store implementa repository.Store.
type Store struct {
	pool *pgxpool.Pool
	repos
}

var _ repository.Store = (*Store)(nil)

// Open crea el pool y verifica conectividad.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pg: new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return New(pool), nil
}

// New envuelve un pool existente.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, repos: repos{q: pool}}
}

// Pool expone el pool (migraciones, métricas).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Driver() string { return "postgres" }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() { s.pool.Close() }

// InTx corre fn en una transacción READ COMMITTED. El rollback corre sin el
// cancel del ctx para no dejar la conexión colgada si el request se cortó.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Repositories) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("pg: begin: %w", err)
	}
	bg := context.WithoutCancel(ctx)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(bg)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(bg)
			return
		}
		if cerr := tx.Commit(ctx); cerr != nil {
			err = mapErr(fmt.Errorf("pg: commit: %w", cerr))
		}
	}()

	return fn(repos{q: tx, inTx: true})
}

// repos agrupa los repositorios sobre un querier (pool o tx).
type repos struct {
	q    querier
	inTx bool
}

func (r repos) Users() repository.UserRepository { return &userRepo{q: r.q, inTx: r.inTx} }
func (r repos) Credentials() repository.CredentialRepository {
	return &credentialRepo{q: r.q, inTx: r.inTx}
}
func (r repos) Invites() repository.InviteRepository   { return &inviteRepo{q: r.q, inTx: r.inTx} }
func (r repos) Sessions() repository.SessionRepository { return &sessionRepo{q: r.q, inTx: r.inTx} }
