package middlewares

import (
	"context"

	"github.com/dropDatabas3/passgate/internal/domain/repository"
)

// =================================================================================
// CONTEXT KEYS
// =================================================================================

type ctxKey string

const (
	ctxRequestIDKey ctxKey = "request_id"
	// ctxUserKey guarda el usuario autenticado por RequireSession
	ctxUserKey ctxKey = "user"
	// ctxTokenKey guarda el token de sesión validado
	ctxTokenKey ctxKey = "session_token"
)

func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

// WithUser inyecta el usuario autenticado. Lo usan RequireSession y los tests.
func WithUser(ctx context.Context, u *repository.User) context.Context {
	return context.WithValue(ctx, ctxUserKey, u)
}

func withToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxTokenKey, token)
}

// =================================================================================
// CONTEXT GETTERS
// =================================================================================

// GetRequestID retorna "" si no hay request ID.
func GetRequestID(ctx context.Context) string {
	if s, ok := ctx.Value(ctxRequestIDKey).(string); ok {
		return s
	}
	return ""
}

// GetUser retorna nil fuera de rutas con RequireSession.
func GetUser(ctx context.Context) *repository.User {
	if u, ok := ctx.Value(ctxUserKey).(*repository.User); ok {
		return u
	}
	return nil
}

// MustGetUser hace panic si no hay usuario.
// Usar solo en handlers montados detrás de RequireSession.
func MustGetUser(ctx context.Context) *repository.User {
	u := GetUser(ctx)
	if u == nil {
		panic("middlewares: no user in context")
	}
	return u
}

// GetSessionToken retorna el token que validó RequireSession.
func GetSessionToken(ctx context.Context) string {
	if s, ok := ctx.Value(ctxTokenKey).(string); ok {
		return s
	}
	return ""
}
