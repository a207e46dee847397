// Package memory implementa repository.Store en memoria para desarrollo y tests.
//
// Un único mutex serializa todas las operaciones; InTx lo mantiene tomado
// durante toda la función y restaura un snapshot si falla, lo que da las
// mismas garantías observables que las transacciones de postgres.
package memory

import (
	"bytes"
	"context"
	"encoding/base64"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/passgate/internal/domain/repository"
)

type state struct {
	users       map[uuid.UUID]repository.User
	credentials map[string]repository.Credential // key: base64url(id)
	invites     map[string]repository.Invite
	redemptions []repository.Redemption
	sessions    map[string]repository.Session
}

func newState() *state {
	return &state{
		users:       map[uuid.UUID]repository.User{},
		credentials: map[string]repository.Credential{},
		invites:     map[string]repository.Invite{},
		sessions:    map[string]repository.Session{},
	}
}

// clone copia profunda para poder revertir una transacción fallida.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.credentials {
		c.credentials[k] = copyCredential(v)
	}
	for k, v := range s.invites {
		c.invites[k] = v
	}
	c.redemptions = append([]repository.Redemption(nil), s.redemptions...)
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	return c
}

// Store implementa repository.Store.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ repository.Store = (*Store)(nil)

func New() *Store { return &Store{st: newState()} }

func (s *Store) Driver() string                 { return "memory" }
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }
func (s *Store) Close()                         {}

func (s *Store) Users() repository.UserRepository { return &userRepo{v: view{s: s}} }
func (s *Store) Credentials() repository.CredentialRepository {
	return &credentialRepo{v: view{s: s}}
}
func (s *Store) Invites() repository.InviteRepository   { return &inviteRepo{v: view{s: s}} }
func (s *Store) Sessions() repository.SessionRepository { return &sessionRepo{v: view{s: s}} }

// InTx toma el lock global durante fn. Error o panic restauran el snapshot.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Repositories) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	defer func() {
		if p := recover(); p != nil {
			s.st = snapshot
			panic(p)
		}
		if err != nil {
			s.st = snapshot
		}
	}()

	return fn(txRepos{v: view{s: s, locked: true}})
}

type txRepos struct{ v view }

func (t txRepos) Users() repository.UserRepository             { return &userRepo{v: t.v} }
func (t txRepos) Credentials() repository.CredentialRepository { return &credentialRepo{v: t.v} }
func (t txRepos) Invites() repository.InviteRepository         { return &inviteRepo{v: t.v} }
func (t txRepos) Sessions() repository.SessionRepository       { return &sessionRepo{v: t.v} }

// view da acceso al estado; fuera de InTx cada operación toma el lock.
type view struct {
	s      *Store
	locked bool
}

func (v view) do(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !v.locked {
		v.s.mu.Lock()
		defer v.s.mu.Unlock()
	}
	return fn(v.s.st)
}

func credKey(id []byte) string { return base64.RawURLEncoding.EncodeToString(id) }

func copyCredential(c repository.Credential) repository.Credential {
	c.ID = bytes.Clone(c.ID)
	c.PublicKey = bytes.Clone(c.PublicKey)
	c.AAGUID = bytes.Clone(c.AAGUID)
	c.Transports = append([]string(nil), c.Transports...)
	return c
}

func timePtr(t time.Time) *time.Time { return &t }

// =================================================================================
// USERS
// =================================================================================

type userRepo struct{ v view }

func (r *userRepo) Create(ctx context.Context, u *repository.User) error {
	return r.v.do(ctx, func(st *state) error {
		if _, ok := st.users[u.ID]; ok {
			return repository.ErrConflict
		}
		for _, x := range st.users {
			if x.DisplayName == u.DisplayName {
				return repository.ErrConflict
			}
		}
		st.users[u.ID] = *u
		return nil
	})
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.User, error) {
	var out *repository.User
	err := r.v.do(ctx, func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &u
		return nil
	})
	return out, err
}

func (r *userRepo) GetByName(ctx context.Context, name string) (*repository.User, error) {
	var out *repository.User
	err := r.v.do(ctx, func(st *state) error {
		for _, u := range st.users {
			if u.DisplayName == name {
				u := u
				out = &u
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r *userRepo) List(ctx context.Context, f repository.ListUsersFilter) ([]repository.User, error) {
	f = f.Normalize()
	var out []repository.User
	err := r.v.do(ctx, func(st *state) error {
		all := make([]repository.User, 0, len(st.users))
		for _, u := range st.users {
			all = append(all, u)
		}
		sort.Slice(all, func(i, j int) bool {
			if all[i].CreatedAt.Equal(all[j].CreatedAt) {
				return all[i].ID.String() < all[j].ID.String()
			}
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		})
		if f.Offset >= len(all) {
			return nil
		}
		end := min(f.Offset+f.Limit, len(all))
		out = all[f.Offset:end]
		return nil
	})
	return out, err
}

func (r *userRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.v.do(ctx, func(st *state) error { n = len(st.users); return nil })
	return n, err
}

// LockEnrollment: InTx ya tiene el lock global.
func (r *userRepo) LockEnrollment(context.Context) error {
	if !r.v.locked {
		return repository.ErrTxRequired
	}
	return nil
}

func (r *userRepo) UpdateRole(ctx context.Context, id uuid.UUID, role repository.Role) error {
	if !role.Valid() {
		return repository.ErrInvalidInput
	}
	return r.v.do(ctx, func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return repository.ErrNotFound
		}
		u.Role = role
		st.users[id] = u
		return nil
	})
}

// =================================================================================
// CREDENTIALS
// =================================================================================

type credentialRepo struct{ v view }

func (r *credentialRepo) Create(ctx context.Context, c *repository.Credential) error {
	return r.v.do(ctx, func(st *state) error {
		k := credKey(c.ID)
		if _, ok := st.credentials[k]; ok {
			return repository.ErrConflict
		}
		if _, ok := st.users[c.UserID]; !ok {
			return repository.ErrInvalidInput
		}
		st.credentials[k] = copyCredential(*c)
		return nil
	})
}

func (r *credentialRepo) Get(ctx context.Context, id []byte) (*repository.Credential, error) {
	var out *repository.Credential
	err := r.v.do(ctx, func(st *state) error {
		c, ok := st.credentials[credKey(id)]
		if !ok {
			return repository.ErrNotFound
		}
		c = copyCredential(c)
		out = &c
		return nil
	})
	return out, err
}

func (r *credentialRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]repository.Credential, error) {
	var out []repository.Credential
	err := r.v.do(ctx, func(st *state) error {
		for _, c := range st.credentials {
			if c.UserID == userID {
				out = append(out, copyCredential(c))
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return bytes.Compare(out[i].ID, out[j].ID) < 0
			}
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
		return nil
	})
	return out, err
}

func (r *credentialRepo) CountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	n := 0
	err := r.v.do(ctx, func(st *state) error {
		for _, c := range st.credentials {
			if c.UserID == userID {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *credentialRepo) LockForUpdate(ctx context.Context, id []byte) (*repository.Credential, error) {
	if !r.v.locked {
		return nil, repository.ErrTxRequired
	}
	return r.Get(ctx, id)
}

func (r *credentialRepo) UpdateUsage(ctx context.Context, id []byte, u repository.CredentialUsage) error {
	return r.v.do(ctx, func(st *state) error {
		k := credKey(id)
		c, ok := st.credentials[k]
		if !ok {
			return repository.ErrNotFound
		}
		c.SignCount = u.SignCount
		c.Flags.UserVerified = u.UserVerified
		c.Flags.BackupState = u.BackupState
		c.LastUsedAt = timePtr(u.UsedAt)
		st.credentials[k] = c
		return nil
	})
}

func (r *credentialRepo) MarkCloneWarning(ctx context.Context, id []byte, at time.Time) error {
	return r.v.do(ctx, func(st *state) error {
		k := credKey(id)
		c, ok := st.credentials[k]
		if !ok {
			return repository.ErrNotFound
		}
		c.CloneWarning = true
		if c.FlaggedAt == nil {
			c.FlaggedAt = timePtr(at)
		}
		st.credentials[k] = c
		return nil
	})
}

func (r *credentialRepo) Delete(ctx context.Context, userID uuid.UUID, id []byte) error {
	return r.v.do(ctx, func(st *state) error {
		k := credKey(id)
		c, ok := st.credentials[k]
		if !ok || c.UserID != userID {
			return repository.ErrNotFound
		}
		delete(st.credentials, k)
		return nil
	})
}

// =================================================================================
// INVITES
// =================================================================================

type inviteRepo struct{ v view }

func (r *inviteRepo) Create(ctx context.Context, inv *repository.Invite) error {
	return r.v.do(ctx, func(st *state) error {
		if _, ok := st.invites[inv.Code]; ok {
			return repository.ErrConflict
		}
		if inv.RemainingUses < 0 {
			return repository.ErrInvalidInput
		}
		if inv.LinkUserID != nil {
			if _, ok := st.users[*inv.LinkUserID]; !ok {
				return repository.ErrInvalidInput
			}
		}
		st.invites[inv.Code] = *inv
		return nil
	})
}

func (r *inviteRepo) Get(ctx context.Context, code string) (*repository.Invite, error) {
	var out *repository.Invite
	err := r.v.do(ctx, func(st *state) error {
		inv, ok := st.invites[code]
		if !ok {
			return repository.ErrNotFound
		}
		out = &inv
		return nil
	})
	return out, err
}

func (r *inviteRepo) List(ctx context.Context, activeOnly bool, now time.Time) ([]repository.Invite, error) {
	var out []repository.Invite
	err := r.v.do(ctx, func(st *state) error {
		for _, inv := range st.invites {
			if activeOnly && !inv.Redeemable(now) {
				continue
			}
			out = append(out, inv)
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].Code < out[j].Code
			}
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
		return nil
	})
	return out, err
}

func (r *inviteRepo) Revoke(ctx context.Context, code string, at time.Time) error {
	return r.v.do(ctx, func(st *state) error {
		inv, ok := st.invites[code]
		if !ok {
			return repository.ErrNotFound
		}
		if inv.RevokedAt == nil {
			inv.RevokedAt = timePtr(at)
			st.invites[code] = inv
		}
		return nil
	})
}

func (r *inviteRepo) DecrementUse(ctx context.Context, code string, now time.Time) (*repository.Invite, error) {
	var out *repository.Invite
	err := r.v.do(ctx, func(st *state) error {
		inv, ok := st.invites[code]
		if !ok || !inv.Redeemable(now) {
			return repository.ErrNotFound
		}
		inv.RemainingUses--
		st.invites[code] = inv
		out = &inv
		return nil
	})
	return out, err
}

func (r *inviteRepo) AddRedemption(ctx context.Context, red repository.Redemption) error {
	return r.v.do(ctx, func(st *state) error {
		if _, ok := st.invites[red.Code]; !ok {
			return repository.ErrInvalidInput
		}
		st.redemptions = append(st.redemptions, red)
		return nil
	})
}

func (r *inviteRepo) Redemptions(ctx context.Context, code string) ([]repository.Redemption, error) {
	var out []repository.Redemption
	err := r.v.do(ctx, func(st *state) error {
		for _, red := range st.redemptions {
			if red.Code == code {
				out = append(out, red)
			}
		}
		return nil
	})
	return out, err
}

func (r *inviteRepo) Stats(ctx context.Context, now time.Time) (repository.InviteStats, error) {
	var s repository.InviteStats
	err := r.v.do(ctx, func(st *state) error {
		for _, inv := range st.invites {
			s.Total++
			switch {
			case inv.RevokedAt != nil:
				s.Revoked++
			case inv.RemainingUses == 0:
				s.Exhausted++
			case inv.Expired(now):
				s.Expired++
			default:
				s.Active++
			}
		}
		s.Redemptions = len(st.redemptions)
		return nil
	})
	return s, err
}

// =================================================================================
// SESSIONS
// =================================================================================

type sessionRepo struct{ v view }

func (r *sessionRepo) Create(ctx context.Context, s *repository.Session) error {
	return r.v.do(ctx, func(st *state) error {
		if _, ok := st.sessions[s.IDHash]; ok {
			return repository.ErrConflict
		}
		if _, ok := st.users[s.UserID]; !ok {
			return repository.ErrInvalidInput
		}
		st.sessions[s.IDHash] = *s
		return nil
	})
}

func (r *sessionRepo) GetByHash(ctx context.Context, idHash string) (*repository.Session, error) {
	var out *repository.Session
	err := r.v.do(ctx, func(st *state) error {
		s, ok := st.sessions[idHash]
		if !ok {
			return repository.ErrNotFound
		}
		out = &s
		return nil
	})
	return out, err
}

func (r *sessionRepo) Touch(ctx context.Context, idHash string, idleExpiresAt, seenAt time.Time) error {
	return r.v.do(ctx, func(st *state) error {
		s, ok := st.sessions[idHash]
		if !ok || s.RevokedAt != nil {
			return nil
		}
		if idleExpiresAt.After(s.ExpiresAt) {
			idleExpiresAt = s.ExpiresAt
		}
		s.IdleExpiresAt = idleExpiresAt
		s.LastSeenAt = seenAt
		st.sessions[idHash] = s
		return nil
	})
}

func (r *sessionRepo) Revoke(ctx context.Context, idHash string, at time.Time) error {
	return r.v.do(ctx, func(st *state) error {
		s, ok := st.sessions[idHash]
		if !ok || s.RevokedAt != nil {
			return nil
		}
		s.RevokedAt = timePtr(at)
		st.sessions[idHash] = s
		return nil
	})
}

func (r *sessionRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int, error) {
	n := 0
	err := r.v.do(ctx, func(st *state) error {
		for k, s := range st.sessions {
			if s.UserID == userID && s.RevokedAt == nil {
				s.RevokedAt = timePtr(at)
				st.sessions[k] = s
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *sessionRepo) DeleteExpired(ctx context.Context, now, revokedBefore time.Time) (int, error) {
	n := 0
	err := r.v.do(ctx, func(st *state) error {
		for k, s := range st.sessions {
			dead := (s.RevokedAt == nil && !now.Before(s.IdleExpiresAt)) ||
				(s.RevokedAt != nil && s.RevokedAt.Before(revokedBefore))
			if dead {
				delete(st.sessions, k)
				n++
			}
		}
		return nil
	})
	return n, err
}
