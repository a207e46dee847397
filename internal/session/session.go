// Package session emite y valida sesiones opacas server-side. El token se
// entrega una sola vez; en el store solo queda su hash.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/passgate/internal/audit"
	"github.com/dropDatabas3/passgate/internal/domain/repository"
	"github.com/dropDatabas3/passgate/internal/metrics"
	"github.com/dropDatabas3/passgate/internal/observability/logger"
	tokens "github.com/dropDatabas3/passgate/internal/security/token"
)

// TokenBytes es la entropía del token de sesión (256 bits).
const TokenBytes = 32

var ErrInvalidOptions = errors.New("session: invalid options")

// Options de ciclo de vida.
type Options struct {
	IdleTTL     time.Duration
	AbsoluteTTL time.Duration
	// Sliding extiende el idle expiry en cada validación exitosa.
	Sliding       bool
	TouchInterval time.Duration
	// RevokedRetention es cuánto se conserva una sesión revocada antes del sweep.
	RevokedRetention time.Duration
	Clock            func() time.Time
}

// IssueMeta datos del cliente que se guardan con la sesión.
type IssueMeta struct {
	UserAgent string
	IP        string
}

// Issued es lo que se devuelve al emitir. Token no se puede recuperar después.
type Issued struct {
	Token         string
	UserID        uuid.UUID
	ExpiresAt     time.Time
	IdleExpiresAt time.Time
}

type Manager struct {
	store repository.Store
	opts  Options
	sf    singleflight.Group
}

func NewManager(store repository.Store, opts Options) (*Manager, error) {
	if opts.IdleTTL <= 0 || opts.AbsoluteTTL <= 0 {
		return nil, fmt.Errorf("%w: ttl debe ser > 0", ErrInvalidOptions)
	}
	if opts.IdleTTL > opts.AbsoluteTTL {
		return nil, fmt.Errorf("%w: idle_ttl > absolute_ttl", ErrInvalidOptions)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Manager{store: store, opts: opts}, nil
}

func (m *Manager) now() time.Time { return m.opts.Clock().UTC() }

// Issue crea una sesión para userID.
func (m *Manager) Issue(ctx context.Context, userID uuid.UUID, meta IssueMeta) (*Issued, error) {
	tok, err := tokens.GenerateOpaqueToken(TokenBytes)
	if err != nil {
		return nil, fmt.Errorf("session issue: %w", err)
	}
	now := m.now()
	abs := now.Add(m.opts.AbsoluteTTL)
	s := &repository.Session{
		IDHash:        tokens.SHA256Base64URL(tok),
		UserID:        userID,
		IssuedAt:      now,
		ExpiresAt:     abs,
		IdleExpiresAt: minTime(now.Add(m.opts.IdleTTL), abs),
		LastSeenAt:    now,
		UserAgent:     truncate(meta.UserAgent, 512),
		IP:            meta.IP,
	}
	if err := m.store.Sessions().Create(ctx, s); err != nil {
		return nil, fmt.Errorf("session issue: %w", err)
	}
	metrics.SessionsIssued.Inc()
	logger.From(ctx).Debug("sesión emitida", logger.Component("session"), logger.UserID(userID))
	return &Issued{Token: tok, UserID: userID, ExpiresAt: abs, IdleExpiresAt: s.IdleExpiresAt}, nil
}

// Validate retorna el usuario dueño del token si la sesión está vigente.
// Cualquier otra situación, incluido un error del store, da (uuid.Nil, false).
// Cada llamada lee la fila: una revocación ya confirmada nunca se pierde.
func (m *Manager) Validate(ctx context.Context, token string) (uuid.UUID, bool) {
	hash := tokens.SHA256Base64URL(token)
	now := m.now()
	s, err := m.store.Sessions().GetByHash(ctx, hash)
	if err != nil && !repository.IsNotFound(err) {
		logger.From(ctx).Error("validación de sesión falló", logger.Component("session"), logger.Err(err))
		metrics.SessionValidations.WithLabelValues(metrics.ResultError).Inc()
		return uuid.Nil, false
	}

	// todas las condiciones se evalúan juntas
	found := err == nil && s != nil
	var cur repository.Session
	if found {
		cur = *s
	}
	ok := found &&
		tokens.WellFormed(token, TokenBytes) &&
		tokens.EqualHash(cur.IDHash, hash) &&
		cur.RevokedAt == nil &&
		now.Before(cur.ExpiresAt) &&
		now.Before(cur.IdleExpiresAt)

	if !ok {
		metrics.SessionValidations.WithLabelValues(metrics.ResultRejected).Inc()
		return uuid.Nil, false
	}
	metrics.SessionValidations.WithLabelValues(metrics.ResultOK).Inc()

	if m.opts.Sliding && now.Sub(cur.LastSeenAt) >= m.opts.TouchInterval {
		m.touch(ctx, &cur, now)
	}
	return cur.UserID, true
}

// touch extiende el idle expiry. Requests concurrentes del mismo token
// comparten una sola escritura; el resultado no afecta la validación.
func (m *Manager) touch(ctx context.Context, s *repository.Session, now time.Time) {
	idle := minTime(now.Add(m.opts.IdleTTL), s.ExpiresAt)
	_, err, _ := m.sf.Do(s.IDHash, func() (any, error) {
		return nil, m.store.Sessions().Touch(context.WithoutCancel(ctx), s.IDHash, idle, now)
	})
	if err != nil {
		logger.From(ctx).Warn("no se pudo extender la sesión", logger.Component("session"), logger.UserID(s.UserID), logger.Err(err))
	}
}

// Revoke invalida la sesión del token. Token desconocido no es error.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.store.Sessions().Revoke(ctx, tokens.SHA256Base64URL(token), m.now()); err != nil {
		return fmt.Errorf("session revoke: %w", err)
	}
	return nil
}

// RevokeAllForUser revoca todas las sesiones vigentes del usuario.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	n, err := m.store.Sessions().RevokeAllForUser(ctx, userID, m.now())
	if err != nil {
		return 0, fmt.Errorf("session revoke all: %w", err)
	}
	if n > 0 {
		audit.Log(ctx, audit.SessionsRevoked, logger.UserID(userID), logger.Count(n))
	}
	return n, nil
}

// Sweep borra sesiones vencidas y revocadas hace más de RevokedRetention.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	now := m.now()
	n, err := m.store.Sessions().DeleteExpired(ctx, now, now.Add(-m.opts.RevokedRetention))
	if err != nil {
		return 0, fmt.Errorf("session sweep: %w", err)
	}
	metrics.SessionsSwept.Add(float64(n))
	return n, nil
}

// RunSweeper ejecuta Sweep cada interval hasta que ctx se cancele.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	log := logger.L().With(logger.Component("session.sweeper"))
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := m.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Warn("sweep falló", logger.Err(err))
				continue
			}
			if n > 0 {
				log.Info("sesiones purgadas", zap.Int("deleted", n))
			}
		}
	}
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// truncate corta s a n bytes sin partir runas. Bytes inválidos se descartan
// porque postgres rechaza UTF-8 inválido en TEXT.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
