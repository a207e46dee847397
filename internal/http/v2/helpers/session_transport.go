package helpers

import (
	"net/http"
	"strings"
	"time"
)

// SessionTransport define cómo viaja el token de sesión: cookie HttpOnly y,
// opcionalmente, Authorization: Bearer.
type SessionTransport struct {
	CookieName   string
	CookieDomain string
	SameSite     http.SameSite
	Secure       bool
	AllowBearer  bool
}

// ParseSameSite traduce el valor de config (Lax|Strict|None).
func ParseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// Token extrae el token del request. La cookie tiene prioridad sobre el header.
func (t SessionTransport) Token(r *http.Request) string {
	if c, err := r.Cookie(t.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if t.AllowBearer {
		return BearerToken(r)
	}
	return ""
}

// SetCookie entrega el token como cookie que vence con el techo absoluto de la sesión.
func (t SessionTransport) SetCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     t.CookieName,
		Value:    token,
		Path:     "/",
		Domain:   t.CookieDomain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   t.Secure,
		SameSite: t.SameSite,
	})
}

// ClearCookie emite la cookie de borrado.
func (t SessionTransport) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     t.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   t.CookieDomain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   t.Secure,
		SameSite: t.SameSite,
	})
}
