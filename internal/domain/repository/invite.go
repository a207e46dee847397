package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Invite es un código que autoriza registrar una identidad nueva o, si
// LinkUserID está presente, agregar una credencial a un usuario existente.
type Invite struct {
	Code          string
	RemainingUses int
	// ExpiresAt nil = no vence.
	ExpiresAt  *time.Time
	CreatedBy  string
	CreatedAt  time.Time
	RevokedAt  *time.Time
	LinkUserID *uuid.UUID
}

// Expired indica si el invite venció en now.
func (i *Invite) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && !now.Before(*i.ExpiresAt)
}

// Redeemable indica si el invite admite un canje en now.
func (i *Invite) Redeemable(now time.Time) bool {
	return i.RevokedAt == nil && !i.Expired(now) && i.RemainingUses > 0
}

// Redemption registra un canje.
type Redemption struct {
	Code       string
	UserID     uuid.UUID
	RedeemedAt time.Time
}

// InviteStats agregados para el CLI/admin.
type InviteStats struct {
	Total       int
	Active      int
	Exhausted   int
	Expired     int
	Revoked     int
	Redemptions int
}

// InviteRepository define operaciones sobre invitaciones.
type InviteRepository interface {
	// Create inserta el invite. Código duplicado => ErrConflict.
	Create(ctx context.Context, inv *Invite) error
	Get(ctx context.Context, code string) (*Invite, error)
	List(ctx context.Context, activeOnly bool, now time.Time) ([]Invite, error)
	// Revoke retorna ErrNotFound si el código no existe.
	Revoke(ctx context.Context, code string, at time.Time) error

	// DecrementUse descuenta un uso solo si el invite sigue canjeable en now
	// (no revocado, no vencido, usos > 0). Es atómico respecto de otros
	// canjeadores concurrentes. Sin fila canjeable retorna ErrNotFound.
	DecrementUse(ctx context.Context, code string, now time.Time) (*Invite, error)

	AddRedemption(ctx context.Context, r Redemption) error
	Redemptions(ctx context.Context, code string) ([]Redemption, error)
	Stats(ctx context.Context, now time.Time) (InviteStats, error)
}
