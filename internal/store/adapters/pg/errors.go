package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dropDatabas3/passgate/internal/domain/repository"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeSerialization       = "40001"
	codeDeadlock            = "40P01"
)

// mapErr traduce errores de pgx a los sentinels del dominio, conservando la causa.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", repository.ErrConflict, pgErr.ConstraintName)
		case codeForeignKeyViolation, codeCheckViolation:
			return fmt.Errorf("%w: %s", repository.ErrInvalidInput, pgErr.ConstraintName)
		}
	}
	return err
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeSerialization || pgErr.Code == codeDeadlock
	}
	return false
}

// retryRead reintenta lecturas sueltas ante fallas de serialización. Dentro de
// una transacción no se reintenta: el error debe abortarla completa.
func retryRead(ctx context.Context, inTx bool, fn func() error) error {
	const attempts = 3
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || inTx || !isTransient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 10 * time.Millisecond):
		}
	}
	return err
}
