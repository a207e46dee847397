package middlewares

import "net/http"

// WithNoStore agrega Cache-Control: no-store. Las respuestas de ceremonia y
// sesión llevan challenges y tokens que ningún cache debe guardar.
func WithNoStore() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Pragma", "no-cache")
			next.ServeHTTP(w, r)
		})
	}
}
