// Package repository define el modelo de dominio persistido y los contratos
// que implementan los adapters de storage (pg, memory).
package repository

import "context"

// Repositories agrupa los repos. Dentro de InTx todos comparten la transacción.
type Repositories interface {
	Users() UserRepository
	Credentials() CredentialRepository
	Invites() InviteRepository
	Sessions() SessionRepository
}

// Store es el punto de entrada del storage.
type Store interface {
	Repositories

	// InTx ejecuta fn en una transacción. Commit solo si fn retorna nil;
	// error o panic => rollback. El panic se re-lanza.
	InTx(ctx context.Context, fn func(tx Repositories) error) error

	Ping(ctx context.Context) error
	Close()
	// Driver retorna "postgres" o "memory".
	Driver() string
}
