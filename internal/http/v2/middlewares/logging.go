package middlewares

import (
	"net/http"
	"time"

	"github.com/dropDatabas3/passgate/internal/http/v2/helpers"
	"github.com/dropDatabas3/passgate/internal/observability/logger"
)

// =================================================================================
// STATUS RECORDER
// =================================================================================

// statusRecorder captura el status code y bytes escritos de la respuesta.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.wroteHeader {
		return
	}
	s.status = code
	s.wroteHeader = true
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wroteHeader {
		s.WriteHeader(http.StatusOK)
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// recorder reutiliza el statusRecorder de un middleware exterior si existe.
func recorder(w http.ResponseWriter) (*statusRecorder, http.ResponseWriter) {
	if rec, ok := w.(*statusRecorder); ok {
		return rec, w
	}
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	return rec, rec
}

// =================================================================================
// LOGGING MIDDLEWARE
// =================================================================================

// WithLogging inyecta un logger "scoped" (request_id, method, path) en el
// contexto y registra cada request al terminar. El nivel depende del status.
//
// Ejemplo (prod):
//
//	{"level":"info","ts":"2026-01-15T15:04:05.000Z","msg":"request completed","request_id":"ab12","method":"POST","path":"/v2/auth/login/finish","status":200,"bytes":256,"duration_ms":45}
func WithLogging(trustProxy bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqLog := logger.L().With(
				logger.RequestID(GetRequestID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.ClientIP(helpers.ClientIP(r, trustProxy)),
			)
			ctx := logger.ToContext(r.Context(), reqLog)

			rec, rw := recorder(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			fields := []logger.Field{
				logger.Status(rec.status),
				logger.Bytes(rec.bytes),
				logger.DurationMs(time.Since(start)),
			}
			switch {
			case rec.status >= 500:
				reqLog.Error("request failed", fields...)
			case rec.status >= 400:
				reqLog.Warn("request completed with client error", fields...)
			default:
				reqLog.Info("request completed", fields...)
			}
		})
	}
}
