package pg

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dropDatabas3/passgate/internal/domain/repository"
)

type userRepo struct {
	q    querier
	inTx bool
}

const userCols = `id, display_name, role, invite_code, created_at`

func scanUser(row interface{ Scan(...any) error }) (*repository.User, error) {
	var u repository.User
	var role string
	if err := row.Scan(&u.ID, &u.DisplayName, &role, &u.InviteCode, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = repository.Role(role)
	return &u, nil
}

func (r *userRepo) Create(ctx context.Context, u *repository.User) error {
	const q = `
		INSERT INTO users (id, display_name, role, invite_code, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.q.Exec(ctx, q, u.ID, u.DisplayName, string(u.Role), u.InviteCode, u.CreatedAt); err != nil {
		return fmt.Errorf("create user: %w", mapErr(err))
	}
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.User, error) {
	var u *repository.User
	err := retryRead(ctx, r.inTx, func() (err error) {
		u, err = scanUser(r.q.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
		return err
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return u, nil
}

func (r *userRepo) GetByName(ctx context.Context, name string) (*repository.User, error) {
	var u *repository.User
	err := retryRead(ctx, r.inTx, func() (err error) {
		u, err = scanUser(r.q.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE display_name = $1`, name))
		return err
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return u, nil
}

func (r *userRepo) List(ctx context.Context, f repository.ListUsersFilter) ([]repository.User, error) {
	f = f.Normalize()
	rows, err := r.q.Query(ctx,
		`SELECT `+userCols+` FROM users ORDER BY created_at, id LIMIT $1 OFFSET $2`, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []repository.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (r *userRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.q.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// enrollmentLockKey es la clave del pg_advisory_xact_lock del primer registro.
const enrollmentLockKey int64 = 0x7061737367617465 // "passgate"

func (r *userRepo) LockEnrollment(ctx context.Context) error {
	if !r.inTx {
		return repository.ErrTxRequired
	}
	if _, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, enrollmentLockKey); err != nil {
		return fmt.Errorf("lock enrollment: %w", err)
	}
	return nil
}

func (r *userRepo) UpdateRole(ctx context.Context, id uuid.UUID, role repository.Role) error {
	if !role.Valid() {
		return repository.ErrInvalidInput
	}
	tag, err := r.q.Exec(ctx, `UPDATE users SET role = $2 WHERE id = $1`, id, string(role))
	if err != nil {
		return fmt.Errorf("update role: %w", mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
