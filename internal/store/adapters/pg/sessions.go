package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/passgate/internal/domain/repository"
)

type sessionRepo struct {
	q    querier
	inTx bool
}

func (r *sessionRepo) Create(ctx context.Context, s *repository.Session) error {
	const q = `
		INSERT INTO sessions (
			id_hash, user_id, issued_at, expires_at, idle_expires_at, last_seen_at, user_agent, ip
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.q.Exec(ctx, q, s.IDHash, s.UserID, s.IssuedAt, s.ExpiresAt, s.IdleExpiresAt,
		s.LastSeenAt, s.UserAgent, s.IP)
	if err != nil {
		return fmt.Errorf("create session: %w", mapErr(err))
	}
	return nil
}

func (r *sessionRepo) GetByHash(ctx context.Context, idHash string) (*repository.Session, error) {
	const q = `
		SELECT id_hash, user_id, issued_at, expires_at, idle_expires_at, last_seen_at, revoked_at, user_agent, ip
		FROM sessions WHERE id_hash = $1`
	var s repository.Session
	err := retryRead(ctx, r.inTx, func() error {
		return r.q.QueryRow(ctx, q, idHash).Scan(&s.IDHash, &s.UserID, &s.IssuedAt, &s.ExpiresAt,
			&s.IdleExpiresAt, &s.LastSeenAt, &s.RevokedAt, &s.UserAgent, &s.IP)
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return &s, nil
}

func (r *sessionRepo) Touch(ctx context.Context, idHash string, idleExpiresAt, seenAt time.Time) error {
	const q = `
		UPDATE sessions
		SET idle_expires_at = LEAST($2, expires_at), last_seen_at = $3
		WHERE id_hash = $1 AND revoked_at IS NULL`
	if _, err := r.q.Exec(ctx, q, idHash, idleExpiresAt, seenAt); err != nil {
		return fmt.Errorf("touch session: %w", mapErr(err))
	}
	return nil
}

func (r *sessionRepo) Revoke(ctx context.Context, idHash string, at time.Time) error {
	_, err := r.q.Exec(ctx,
		`UPDATE sessions SET revoked_at = $2 WHERE id_hash = $1 AND revoked_at IS NULL`, idHash, at)
	if err != nil {
		return fmt.Errorf("revoke session: %w", mapErr(err))
	}
	return nil
}

func (r *sessionRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int, error) {
	tag, err := r.q.Exec(ctx,
		`UPDATE sessions SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`, userID, at)
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: %w", mapErr(err))
	}
	return int(tag.RowsAffected()), nil
}

func (r *sessionRepo) DeleteExpired(ctx context.Context, now, revokedBefore time.Time) (int, error) {
	tag, err := r.q.Exec(ctx, `
		DELETE FROM sessions
		WHERE (revoked_at IS NULL AND idle_expires_at <= $1)
		   OR (revoked_at IS NOT NULL AND revoked_at < $2)`, now, revokedBefore)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
