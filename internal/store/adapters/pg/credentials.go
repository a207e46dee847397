package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/passgate/internal/domain/repository"
)

type credentialRepo struct {
	q    querier
	inTx bool
}

const credentialCols = `id, user_id, public_key, sign_count, aaguid, attestation_type, transports,
	attachment, flag_user_present, flag_user_verified, flag_backup_eligible, flag_backup_state,
	clone_warning, flagged_at, created_at, last_used_at`

func scanCredential(row interface{ Scan(...any) error }) (*repository.Credential, error) {
	var c repository.Credential
	var signCount int64
	err := row.Scan(
		&c.ID, &c.UserID, &c.PublicKey, &signCount, &c.AAGUID, &c.AttestationType, &c.Transports,
		&c.Attachment, &c.Flags.UserPresent, &c.Flags.UserVerified, &c.Flags.BackupEligible, &c.Flags.BackupState,
		&c.CloneWarning, &c.FlaggedAt, &c.CreatedAt, &c.LastUsedAt,
	)
	if err != nil {
		return nil, err
	}
	c.SignCount = uint32(signCount)
	return &c, nil
}

func (r *credentialRepo) Create(ctx context.Context, c *repository.Credential) error {
	const q = `
		INSERT INTO credentials (
			id, user_id, public_key, sign_count, aaguid, attestation_type, transports,
			attachment, flag_user_present, flag_user_verified, flag_backup_eligible, flag_backup_state,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	transports := c.Transports
	if transports == nil {
		transports = []string{}
	}
	_, err := r.q.Exec(ctx, q,
		c.ID, c.UserID, c.PublicKey, int64(c.SignCount), c.AAGUID, c.AttestationType, transports,
		c.Attachment, c.Flags.UserPresent, c.Flags.UserVerified, c.Flags.BackupEligible, c.Flags.BackupState,
		c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create credential: %w", mapErr(err))
	}
	return nil
}

func (r *credentialRepo) Get(ctx context.Context, id []byte) (*repository.Credential, error) {
	var c *repository.Credential
	err := retryRead(ctx, r.inTx, func() (err error) {
		c, err = scanCredential(r.q.QueryRow(ctx, `SELECT `+credentialCols+` FROM credentials WHERE id = $1`, id))
		return err
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return c, nil
}

func (r *credentialRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]repository.Credential, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+credentialCols+` FROM credentials WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []repository.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *credentialRepo) CountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	if err := r.q.QueryRow(ctx, `SELECT count(*) FROM credentials WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count credentials: %w", err)
	}
	return n, nil
}

func (r *credentialRepo) LockForUpdate(ctx context.Context, id []byte) (*repository.Credential, error) {
	if !r.inTx {
		return nil, repository.ErrTxRequired
	}
	c, err := scanCredential(r.q.QueryRow(ctx,
		`SELECT `+credentialCols+` FROM credentials WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return c, nil
}

func (r *credentialRepo) UpdateUsage(ctx context.Context, id []byte, u repository.CredentialUsage) error {
	const q = `
		UPDATE credentials
		SET sign_count = $2, flag_user_verified = $3, flag_backup_state = $4, last_used_at = $5
		WHERE id = $1`
	tag, err := r.q.Exec(ctx, q, id, int64(u.SignCount), u.UserVerified, u.BackupState, u.UsedAt)
	if err != nil {
		return fmt.Errorf("update credential usage: %w", mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *credentialRepo) MarkCloneWarning(ctx context.Context, id []byte, at time.Time) error {
	const q = `
		UPDATE credentials
		SET clone_warning = true, flagged_at = COALESCE(flagged_at, $2)
		WHERE id = $1`
	tag, err := r.q.Exec(ctx, q, id, at)
	if err != nil {
		return fmt.Errorf("mark clone warning: %w", mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *credentialRepo) Delete(ctx context.Context, userID uuid.UUID, id []byte) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM credentials WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
