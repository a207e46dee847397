package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Session es una sesión server-side. Solo se guarda el hash del token.
type Session struct {
	IDHash    string
	UserID    uuid.UUID
	IssuedAt  time.Time
	ExpiresAt time.Time // techo absoluto
	// IdleExpiresAt se desliza con el uso, nunca más allá de ExpiresAt.
	IdleExpiresAt time.Time
	LastSeenAt    time.Time
	RevokedAt     *time.Time
	UserAgent     string
	IP            string
}

// SessionRepository define operaciones sobre sesiones.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	GetByHash(ctx context.Context, idHash string) (*Session, error)
	// Touch mueve idle expiry y last_seen; no revive sesiones revocadas.
	Touch(ctx context.Context, idHash string, idleExpiresAt, seenAt time.Time) error
	// Revoke es idempotente; hash desconocido no es error.
	Revoke(ctx context.Context, idHash string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int, error)
	// DeleteExpired borra sesiones vencidas en now o revocadas antes de revokedBefore.
	DeleteExpired(ctx context.Context, now, revokedBefore time.Time) (int, error)
}
