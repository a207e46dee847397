// Package invite administra códigos de invitación: generación, validación
// advisory y canje autoritativo dentro de la transacción de registro.
package invite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/passgate/internal/audit"
	"github.com/dropDatabas3/passgate/internal/domain/repository"
	"github.com/dropDatabas3/passgate/internal/observability/logger"
)

var (
	ErrInviteNotFound  = errors.New("invite not found")
	ErrInviteExpired   = errors.New("invite expired")
	ErrInviteExhausted = errors.New("invite exhausted")
	ErrInvalidCode     = errors.New("invalid invite code")
)

// IsInviteError indica si err es uno de los motivos de rechazo de un invite.
func IsInviteError(err error) bool {
	return errors.Is(err, ErrInviteNotFound) || errors.Is(err, ErrInviteExpired) || errors.Is(err, ErrInviteExhausted)
}

const (
	minCustomLength = 6
	maxCustomLength = 128

	createAttempts = 5
)

// Format del código generado.
type Format string

const (
	FormatWords  Format = "words"
	FormatRandom Format = "random"
)

// Options configura el Registry.
type Options struct {
	DefaultTTL   time.Duration
	DefaultUses  int
	DefaultWords int
	// LinkTTL aplica a invites de vinculación de cuenta.
	LinkTTL time.Duration
	Clock   func() time.Time
}

// Registry opera sobre la tabla de invites.
type Registry struct {
	store repository.Store
	gen   *Generator
	opts  Options
}

func NewRegistry(store repository.Store, gen *Generator, opts Options) *Registry {
	if opts.DefaultUses <= 0 {
		opts.DefaultUses = 1
	}
	if opts.DefaultWords == 0 {
		opts.DefaultWords = 3
	}
	if opts.LinkTTL <= 0 {
		opts.LinkTTL = 24 * time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if gen == nil {
		gen = NewGenerator("")
	}
	return &Registry{store: store, gen: gen, opts: opts}
}

// Generator expone el generador (CLI: wordlist check).
func (r *Registry) Generator() *Generator { return r.gen }

func (r *Registry) now() time.Time { return r.opts.Clock().UTC() }

// NormalizeCode recorta espacios. Los códigos de palabras se comparan en minúscula.
func NormalizeCode(code string) string {
	code = strings.TrimSpace(code)
	if strings.Contains(code, "-") && isWordCode(code) {
		return strings.ToLower(code)
	}
	return code
}

func isWordCode(code string) bool {
	for _, p := range strings.Split(code, "-") {
		if p == "" {
			return false
		}
		for i := 0; i < len(p); i++ {
			c := p[i] | 0x20
			if c < 'a' || c > 'z' {
				return false
			}
		}
	}
	return true
}

// ValidateCustomCode: 6-128 caracteres de [A-Za-z0-9-].
func ValidateCustomCode(code string) error {
	if len(code) < minCustomLength || len(code) > maxCustomLength {
		return fmt.Errorf("%w: largo %d (rango %d-%d)", ErrInvalidCode, len(code), minCustomLength, maxCustomLength)
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
		default:
			return fmt.Errorf("%w: caracter %q no permitido", ErrInvalidCode, c)
		}
	}
	return nil
}

// classify traduce el estado de un invite al motivo de rechazo. nil si es canjeable.
func classify(inv *repository.Invite, now time.Time) error {
	switch {
	case inv == nil, inv.RevokedAt != nil:
		return ErrInviteNotFound
	case inv.Expired(now):
		return ErrInviteExpired
	case inv.RemainingUses <= 0:
		return ErrInviteExhausted
	}
	return nil
}

// Validate retorna el invite si hoy es canjeable, o el motivo tipado.
// Es advisory: el canje real lo decide Redeem.
func (r *Registry) Validate(ctx context.Context, code string) (*repository.Invite, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrInviteNotFound
	}
	inv, err := r.store.Invites().Get(ctx, code)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrInviteNotFound
		}
		return nil, fmt.Errorf("invite validate: %w", err)
	}
	if err := classify(inv, r.now()); err != nil {
		return nil, err
	}
	return inv, nil
}

// CheckRedeemable es la versión booleana de Validate.
func (r *Registry) CheckRedeemable(ctx context.Context, code string) bool {
	_, err := r.Validate(ctx, code)
	return err == nil
}

// Redeem descuenta un uso dentro de tx y registra el canje. Si no hay fila
// canjeable, relee para reportar el motivo.
func (r *Registry) Redeem(ctx context.Context, tx repository.Repositories, code string, userID uuid.UUID) (*repository.Invite, error) {
	code = NormalizeCode(code)
	now := r.now()
	inv, err := tx.Invites().DecrementUse(ctx, code, now)
	if err != nil {
		if !repository.IsNotFound(err) {
			return nil, fmt.Errorf("invite redeem: %w", err)
		}
		cur, gerr := tx.Invites().Get(ctx, code)
		if gerr != nil && !repository.IsNotFound(gerr) {
			return nil, fmt.Errorf("invite redeem: %w", gerr)
		}
		reason := classify(cur, now)
		if reason == nil {
			// la fila cambió entre el UPDATE y la lectura; se reporta como agotado
			reason = ErrInviteExhausted
		}
		return nil, reason
	}
	if err := tx.Invites().AddRedemption(ctx, repository.Redemption{Code: code, UserID: userID, RedeemedAt: now}); err != nil {
		return nil, fmt.Errorf("invite redemption: %w", err)
	}
	return inv, nil
}

// CreateInput describe un invite nuevo. Code vacío => se genera según Format.
type CreateInput struct {
	Code   string
	Format Format
	Words  int
	Length int
	Uses   int
	// TTL cero => DefaultTTL (o LinkTTL si LinkUserID != nil).
	TTL        time.Duration
	NoExpiry   bool
	CreatedBy  string
	LinkUserID *uuid.UUID
}

// Create persiste un invite. Los códigos generados se reintentan ante colisión.
func (r *Registry) Create(ctx context.Context, in CreateInput) (*repository.Invite, error) {
	if in.Uses == 0 {
		in.Uses = r.opts.DefaultUses
	}
	if in.Uses < 1 {
		return nil, fmt.Errorf("%w: uses debe ser >= 1", repository.ErrInvalidInput)
	}
	if in.TTL < 0 {
		return nil, fmt.Errorf("%w: ttl negativo", repository.ErrInvalidInput)
	}
	if in.LinkUserID != nil {
		if _, err := r.store.Users().GetByID(ctx, *in.LinkUserID); err != nil {
			return nil, fmt.Errorf("invite link target: %w", err)
		}
	}

	now := r.now()
	inv := &repository.Invite{
		RemainingUses: in.Uses,
		CreatedBy:     strings.TrimSpace(in.CreatedBy),
		CreatedAt:     now,
		LinkUserID:    in.LinkUserID,
	}
	if !in.NoExpiry {
		ttl := in.TTL
		if ttl == 0 {
			ttl = r.opts.DefaultTTL
			if in.LinkUserID != nil {
				ttl = r.opts.LinkTTL
			}
		}
		if ttl > 0 {
			exp := now.Add(ttl)
			inv.ExpiresAt = &exp
		}
	}

	custom := strings.TrimSpace(in.Code)
	if custom != "" {
		if err := ValidateCustomCode(custom); err != nil {
			return nil, err
		}
		inv.Code = NormalizeCode(custom)
		if err := r.store.Invites().Create(ctx, inv); err != nil {
			return nil, fmt.Errorf("invite create: %w", err)
		}
		r.logCreated(ctx, inv)
		return inv, nil
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		code, err := r.generate(in)
		if err != nil {
			return nil, err
		}
		inv.Code = code
		err = r.store.Invites().Create(ctx, inv)
		if err == nil {
			r.logCreated(ctx, inv)
			return inv, nil
		}
		if !repository.IsConflict(err) {
			return nil, fmt.Errorf("invite create: %w", err)
		}
	}
	return nil, fmt.Errorf("invite create: %w: colisiones repetidas", repository.ErrConflict)
}

func (r *Registry) generate(in CreateInput) (string, error) {
	switch in.Format {
	case FormatRandom:
		length := in.Length
		if length == 0 {
			length = 16
		}
		return RandomCode(length)
	case FormatWords, "":
		n := in.Words
		if n == 0 {
			n = r.opts.DefaultWords
		}
		return r.gen.WordCode(n)
	default:
		return "", fmt.Errorf("%w: formato %q", ErrInvalidCode, in.Format)
	}
}

func (r *Registry) logCreated(ctx context.Context, inv *repository.Invite) {
	logger.From(ctx).Info("invite creado",
		logger.Component("invite"),
		logger.Invite(inv.Code),
		zap.Int("uses", inv.RemainingUses),
		zap.Bool("link", inv.LinkUserID != nil),
	)
}

// CreateLink emite un invite de un uso para agregar una passkey a userID.
func (r *Registry) CreateLink(ctx context.Context, userID uuid.UUID, createdBy string) (*repository.Invite, error) {
	return r.Create(ctx, CreateInput{Uses: 1, CreatedBy: createdBy, LinkUserID: &userID})
}

func (r *Registry) List(ctx context.Context, activeOnly bool) ([]repository.Invite, error) {
	return r.store.Invites().List(ctx, activeOnly, r.now())
}

// Revoke invalida el código; desconocido => ErrInviteNotFound.
func (r *Registry) Revoke(ctx context.Context, code string) error {
	code = NormalizeCode(code)
	err := r.store.Invites().Revoke(ctx, code, r.now())
	if repository.IsNotFound(err) {
		return ErrInviteNotFound
	}
	if err != nil {
		return err
	}
	audit.Log(ctx, audit.InviteRevoked, logger.Invite(code))
	return nil
}

func (r *Registry) Redemptions(ctx context.Context, code string) ([]repository.Redemption, error) {
	return r.store.Invites().Redemptions(ctx, NormalizeCode(code))
}

func (r *Registry) Stats(ctx context.Context) (repository.InviteStats, error) {
	return r.store.Invites().Stats(ctx, r.now())
}
