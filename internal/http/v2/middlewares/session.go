package middlewares

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/dropDatabas3/passgate/internal/domain/repository"
	"github.com/dropDatabas3/passgate/internal/http/v2/errors"
	"github.com/dropDatabas3/passgate/internal/http/v2/helpers"
	"github.com/dropDatabas3/passgate/internal/observability/logger"
)

// SessionValidator es lo que RequireSession necesita de session.Manager.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (uuid.UUID, bool)
}

// UserLookup resuelve el usuario de la sesión.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*repository.User, error)
}

// RequireSession exige una sesión válida (cookie o bearer) y deja el usuario
// en el contexto. Cualquier duda (token inválido, store caído, usuario
// borrado) termina en 401.
func RequireSession(sessions SessionValidator, users UserLookup, transport helpers.SessionTransport) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token := transport.Token(r)
			if token == "" {
				errors.WriteErrorCtx(ctx, w, errors.ErrUnauthorized)
				return
			}
			userID, ok := sessions.Validate(ctx, token)
			if !ok {
				errors.WriteErrorCtx(ctx, w, errors.ErrUnauthorized)
				return
			}
			u, err := users.GetByID(ctx, userID)
			if err != nil {
				if !repository.IsNotFound(err) {
					logger.From(ctx).Error("session user lookup failed", logger.Component("auth"), logger.Err(err))
				}
				errors.WriteErrorCtx(ctx, w, errors.ErrUnauthorized)
				return
			}

			ctx = WithUser(ctx, u)
			ctx = withToken(ctx, token)
			ctx = logger.ToContext(ctx, logger.From(ctx).With(logger.UserID(u.ID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin exige rol admin. Va siempre después de RequireSession.
func RequireAdmin() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := GetUser(r.Context())
			if u == nil {
				errors.WriteErrorCtx(r.Context(), w, errors.ErrUnauthorized)
				return
			}
			if u.Role != repository.RoleAdmin {
				logger.From(r.Context()).Warn("admin route denied", logger.Component("auth"), logger.UserID(u.ID))
				errors.WriteErrorCtx(r.Context(), w, errors.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
