package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role de un usuario. El primer usuario registrado es admin.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid indica si r es un rol conocido.
func (r Role) Valid() bool { return r == RoleAdmin || r == RoleMember }

// User es una identidad registrada. El ID es inmutable y se usa como user handle WebAuthn.
type User struct {
	ID          uuid.UUID
	DisplayName string
	Role        Role
	// InviteCode es el código canjeado al registrarse (nil si no hizo falta).
	InviteCode *string
	CreatedAt  time.Time
}

// ListUsersFilter opciones para listar usuarios.
type ListUsersFilter struct {
	Limit  int // default 50, max 500
	Offset int
}

// Normalize aplica los límites de paginación.
func (f ListUsersFilter) Normalize() ListUsersFilter {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// UserRepository define operaciones sobre usuarios.
type UserRepository interface {
	// Create inserta el usuario. Nombre duplicado => ErrConflict.
	Create(ctx context.Context, u *User) error
	// GetByID retorna ErrNotFound si no existe.
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	// GetByName busca por display name exacto (case-sensitive).
	GetByName(ctx context.Context, name string) (*User, error)
	List(ctx context.Context, f ListUsersFilter) ([]User, error)
	Count(ctx context.Context) (int, error)
	// LockEnrollment serializa la decisión del primer usuario hasta el fin
	// de la transacción. Fuera de InTx retorna ErrTxRequired.
	LockEnrollment(ctx context.Context) error
	UpdateRole(ctx context.Context, id uuid.UUID, role Role) error
}
