package middlewares

import "net/http"

// Middleware es un decorador de http.Handler. Es compatible con chi.Router.Use.
type Middleware func(http.Handler) http.Handler

// Chain aplica middlewares en orden de izquierda a derecha.
// Chain(h, A, B, C) ejecuta: A -> B -> C -> h
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Funcs adapta una lista de Middleware al tipo que espera chi.
func Funcs(mws ...Middleware) []func(http.Handler) http.Handler {
	out := make([]func(http.Handler) http.Handler, len(mws))
	for i, m := range mws {
		out[i] = m
	}
	return out
}
