package repository

import "errors"

var (
	// ErrNotFound indica que el recurso solicitado no existe.
	ErrNotFound = errors.New("not found")

	// ErrConflict indica un duplicado o una violación de constraint.
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indica que los datos de entrada son inválidos.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoDatabase indica que no hay base de datos configurada.
	ErrNoDatabase = errors.New("no database configured")

	// ErrTxRequired indica que la operación solo es válida dentro de InTx.
	ErrTxRequired = errors.New("operation requires a transaction")
)

// IsNotFound verifica si el error es ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict verifica si el error es ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
