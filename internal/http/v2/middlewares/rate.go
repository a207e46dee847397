package middlewares

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dropDatabas3/passgate/internal/http/v2/errors"
	"github.com/dropDatabas3/passgate/internal/http/v2/helpers"
	"github.com/dropDatabas3/passgate/internal/metrics"
	"github.com/dropDatabas3/passgate/internal/observability/logger"
	"github.com/dropDatabas3/passgate/internal/rate"
)

// RateKeyFunc define cómo generar la clave de rate limiting.
type RateKeyFunc func(r *http.Request) string

// IPRateKey arma la clave solo con la IP del cliente.
func IPRateKey(trustProxy bool) RateKeyFunc {
	return func(r *http.Request) string {
		return helpers.ClientIP(r, trustProxy)
	}
}

// IPPathRateKey arma la clave con IP y path: cada endpoint de ceremonia tiene
// su propio cupo.
func IPPathRateKey(trustProxy bool) RateKeyFunc {
	return func(r *http.Request) string {
		return helpers.ClientIP(r, trustProxy) + "|" + r.URL.Path
	}
}

// RateLimitConfig configura el middleware de rate limiting.
type RateLimitConfig struct {
	Limiter rate.Limiter
	// Scope es el label de la métrica passgate_rate_limited_total.
	Scope   string
	KeyFunc RateKeyFunc
}

// WithRateLimit rechaza con 429 cuando se agota el cupo de la ventana. Si el
// limiter falla el request pasa (fail-open) y se loguea.
func WithRateLimit(cfg RateLimitConfig) Middleware {
	if cfg.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = IPRateKey(false)
	}
	if cfg.Scope == "" {
		cfg.Scope = "default"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := cfg.Limiter.Allow(r.Context(), cfg.Scope+"|"+cfg.KeyFunc(r))
			if err != nil {
				logger.From(r.Context()).Warn("rate limiter error", logger.Component("rate"), logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}

			if res.WindowTTL > 0 {
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(res.WindowTTL).Unix(), 10))
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))

			if !res.Allowed {
				if secs := int(res.RetryAfter.Seconds()); secs > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(secs))
				}
				metrics.RateLimited.WithLabelValues(cfg.Scope).Inc()
				errors.WriteErrorCtx(r.Context(), w, errors.ErrRateLimitExceeded)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
