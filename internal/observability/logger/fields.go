package logger

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Field es un alias para no importar zap desde los handlers.
type Field = zap.Field

// =================================================================================
// CAMPOS HTTP
// =================================================================================

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }
func Bytes(v int) zap.Field        { return zap.Int("bytes", v) }
func ClientIP(v string) zap.Field  { return zap.String("client_ip", v) }
func UserAgent(v string) zap.Field { return zap.String("user_agent", v) }

// DurationMs registra la duración en milisegundos.
func DurationMs(d time.Duration) zap.Field { return zap.Int64("duration_ms", d.Milliseconds()) }

// =================================================================================
// CAMPOS DE CAPA
// =================================================================================

func Component(v string) zap.Field { return zap.String("component", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }
func Layer(v string) zap.Field     { return zap.String("layer", v) }

// Err agrega el error; nil produce un campo vacío.
func Err(err error) zap.Field {
	if err == nil {
		return zap.Skip()
	}
	return zap.Error(err)
}

// =================================================================================
// CAMPOS DE DOMINIO
// =================================================================================

func UserID(id uuid.UUID) zap.Field { return zap.String("user_id", id.String()) }

func CeremonyKind(v string) zap.Field { return zap.String("ceremony_kind", v) }

// CeremonyID loguea solo un prefijo: el id completo permite terminar la ceremonia.
func CeremonyID(v string) zap.Field { return zap.String("ceremony_id", redact(v, 8)) }

// CredentialID codifica el id binario en base64url.
func CredentialID(id []byte) zap.Field {
	return zap.String("credential_id", base64.RawURLEncoding.EncodeToString(id))
}

// Invite loguea el código recortado.
func Invite(code string) zap.Field { return zap.String("invite", redact(code, 4)) }

func Count(v int) zap.Field { return zap.Int("count", v) }

// Email enmascara la parte local y el primer label del dominio: a…@e….com
func Email(addr string) zap.Field { return zap.String("email", maskEmail(addr)) }

func maskEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	at := strings.LastIndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return redact(s, 1)
	}
	local, domain := s[:at], s[at+1:]
	labels := strings.Split(domain, ".")
	if len(labels[0]) > 1 {
		labels[0] = labels[0][:1] + "…"
	}
	return local[:1] + "…@" + strings.Join(labels, ".")
}

func redact(s string, keep int) string {
	if len(s) <= keep {
		return "***"
	}
	return s[:keep] + "***"
}

// =================================================================================
// GENÉRICOS
// =================================================================================

func String(k, v string) zap.Field    { return zap.String(k, v) }
func Int(k string, v int) zap.Field   { return zap.Int(k, v) }
func Bool(k string, v bool) zap.Field { return zap.Bool(k, v) }
func Any(k string, v any) zap.Field   { return zap.Any(k, v) }
