package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CredentialFlags son los flags del authenticator que hay que persistir para
// poder re-verificar consistencia (BE/BS) en cada login.
type CredentialFlags struct {
	UserPresent    bool
	UserVerified   bool
	BackupEligible bool
	BackupState    bool
}

// Credential es una clave pública WebAuthn registrada para un usuario.
type Credential struct {
	// ID opaco emitido por el authenticator, único globalmente.
	ID              []byte
	UserID          uuid.UUID
	PublicKey       []byte // COSE
	SignCount       uint32
	AAGUID          []byte
	AttestationType string
	Transports      []string
	Attachment      string
	Flags           CredentialFlags
	// CloneWarning queda en true tras un rollback de contador.
	CloneWarning bool
	FlaggedAt    *time.Time
	CreatedAt    time.Time
	LastUsedAt   *time.Time
}

// CredentialUsage es lo que se actualiza tras un login aceptado.
type CredentialUsage struct {
	SignCount    uint32
	UserVerified bool
	BackupState  bool
	UsedAt       time.Time
}

// CredentialRepository define operaciones sobre credenciales.
type CredentialRepository interface {
	// Create inserta la credencial. ID duplicado => ErrConflict.
	Create(ctx context.Context, c *Credential) error
	Get(ctx context.Context, id []byte) (*Credential, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Credential, error)
	CountByUser(ctx context.Context, userID uuid.UUID) (int, error)

	// LockForUpdate lee la fila bloqueándola hasta el fin de la transacción.
	// Fuera de InTx retorna ErrTxRequired.
	LockForUpdate(ctx context.Context, id []byte) (*Credential, error)

	UpdateUsage(ctx context.Context, id []byte, u CredentialUsage) error
	MarkCloneWarning(ctx context.Context, id []byte, at time.Time) error

	// Delete borra la credencial solo si pertenece a userID; si no, ErrNotFound.
	Delete(ctx context.Context, userID uuid.UUID, id []byte) error
}
