package middlewares

import (
	"net/http"
	"runtime/debug"

	"github.com/dropDatabas3/passgate/internal/http/v2/errors"
	"github.com/dropDatabas3/passgate/internal/observability/logger"
)

// WithRecover captura panics y devuelve un error 500 en lugar de crashear.
// http.ErrAbortHandler se re-lanza: es la forma de net/http de cortar la respuesta.
func WithRecover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.From(r.Context()).Error("panic recovered",
					logger.Op("recover"),
					logger.Any("panic", rec),
					logger.String("stack", string(debug.Stack())),
				)
				errors.WriteError(w, errors.ErrInternalServerError.WithDetail("panic recovered"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
