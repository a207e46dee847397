package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/dropDatabas3/passgate/internal/domain/repository"
)

type inviteRepo struct {
	q    querier
	inTx bool
}

const inviteCols = `code, remaining_uses, expires_at, created_by, created_at, revoked_at, link_user_id`

func scanInvite(row interface{ Scan(...any) error }) (*repository.Invite, error) {
	var inv repository.Invite
	if err := row.Scan(&inv.Code, &inv.RemainingUses, &inv.ExpiresAt, &inv.CreatedBy,
		&inv.CreatedAt, &inv.RevokedAt, &inv.LinkUserID); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *inviteRepo) Create(ctx context.Context, inv *repository.Invite) error {
	const q = `
		INSERT INTO invites (code, remaining_uses, expires_at, created_by, created_at, link_user_id)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.q.Exec(ctx, q, inv.Code, inv.RemainingUses, inv.ExpiresAt, inv.CreatedBy, inv.CreatedAt, inv.LinkUserID)
	if err != nil {
		return fmt.Errorf("create invite: %w", mapErr(err))
	}
	return nil
}

func (r *inviteRepo) Get(ctx context.Context, code string) (*repository.Invite, error) {
	var inv *repository.Invite
	err := retryRead(ctx, r.inTx, func() (err error) {
		inv, err = scanInvite(r.q.QueryRow(ctx, `SELECT `+inviteCols+` FROM invites WHERE code = $1`, code))
		return err
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return inv, nil
}

func (r *inviteRepo) List(ctx context.Context, activeOnly bool, now time.Time) ([]repository.Invite, error) {
	const q = `
		SELECT ` + inviteCols + `
		FROM invites
		WHERE NOT $1
		   OR (revoked_at IS NULL AND remaining_uses > 0 AND (expires_at IS NULL OR expires_at > $2))
		ORDER BY created_at DESC, code`
	rows, err := r.q.Query(ctx, q, activeOnly, now)
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	defer rows.Close()

	var out []repository.Invite
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

func (r *inviteRepo) Revoke(ctx context.Context, code string, at time.Time) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE invites SET revoked_at = COALESCE(revoked_at, $2) WHERE code = $1`, code, at)
	if err != nil {
		return fmt.Errorf("revoke invite: %w", mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DecrementUse: el UPDATE toma el row lock; un canjeador concurrente espera y
// re-evalúa el WHERE sobre la versión nueva, así nunca se pasa de cero.
func (r *inviteRepo) DecrementUse(ctx context.Context, code string, now time.Time) (*repository.Invite, error) {
	const q = `
		UPDATE invites
		SET remaining_uses = remaining_uses - 1
		WHERE code = $1
		  AND remaining_uses > 0
		  AND revoked_at IS NULL
		  AND (expires_at IS NULL OR expires_at > $2)
		RETURNING ` + inviteCols
	inv, err := scanInvite(r.q.QueryRow(ctx, q, code, now))
	if err != nil {
		return nil, mapErr(err)
	}
	return inv, nil
}

func (r *inviteRepo) AddRedemption(ctx context.Context, red repository.Redemption) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO invite_redemptions (code, user_id, redeemed_at) VALUES ($1, $2, $3)`,
		red.Code, red.UserID, red.RedeemedAt)
	if err != nil {
		return fmt.Errorf("add redemption: %w", mapErr(err))
	}
	return nil
}

func (r *inviteRepo) Redemptions(ctx context.Context, code string) ([]repository.Redemption, error) {
	rows, err := r.q.Query(ctx,
		`SELECT code, user_id, redeemed_at FROM invite_redemptions WHERE code = $1 ORDER BY redeemed_at, id`, code)
	if err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	defer rows.Close()

	var out []repository.Redemption
	for rows.Next() {
		var red repository.Redemption
		if err := rows.Scan(&red.Code, &red.UserID, &red.RedeemedAt); err != nil {
			return nil, err
		}
		out = append(out, red)
	}
	return out, rows.Err()
}

func (r *inviteRepo) Stats(ctx context.Context, now time.Time) (repository.InviteStats, error) {
	const q = `
		SELECT
			count(*),
			count(*) FILTER (WHERE revoked_at IS NULL AND remaining_uses > 0 AND (expires_at IS NULL OR expires_at > $1)),
			count(*) FILTER (WHERE revoked_at IS NULL AND remaining_uses = 0),
			count(*) FILTER (WHERE revoked_at IS NULL AND remaining_uses > 0 AND expires_at IS NOT NULL AND expires_at <= $1),
			count(*) FILTER (WHERE revoked_at IS NOT NULL),
			(SELECT count(*) FROM invite_redemptions)
		FROM invites`
	var s repository.InviteStats
	err := r.q.QueryRow(ctx, q, now).Scan(&s.Total, &s.Active, &s.Exhausted, &s.Expired, &s.Revoked, &s.Redemptions)
	if err != nil {
		return s, fmt.Errorf("invite stats: %w", err)
	}
	return s, nil
}
