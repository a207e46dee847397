package errors

import (
	"fmt"
	"net/http"
)

// AppError define la estructura estándar para errores de la API v2
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"-"` // No se serializa, usado para el header
	Err        error  `json:"-"` // Causa original, solo para logs
}

// Error implementa la interfaz error
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap permite acceder al error original
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is compara por código: errors.Is(err, ErrChallengeExpired) funciona aunque
// err sea una copia con detalle o causa.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// New crea un nuevo AppError
func New(status int, code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: status,
	}
}

// Wrap crea un AppError envolviendo un error existente
func Wrap(err error, status int, code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: status,
		Err:        err,
	}
}

// FromError convierte un error genérico en un AppError. Primero intenta el
// mapeo de errores de dominio; lo que no se reconoce es un 500 que conserva la
// causa para el log.
func FromError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	if appErr := FromDomain(err); appErr != nil {
		return appErr
	}
	return ErrInternalServerError.WithCause(err)
}

// WithDetail devuelve una COPIA con detalle; no muta las variables base.
func (e *AppError) WithDetail(detail string) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WithCause devuelve una COPIA con la causa original.
func (e *AppError) WithCause(err error) *AppError {
	cp := *e
	cp.Err = err
	return &cp
}

// =================================================================================
// ERRORES PREDEFINIDOS
// =================================================================================

// ---------------------------------------------------------------------------------
// 400 Bad Request
// ---------------------------------------------------------------------------------

var (
	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "La solicitud no es válida.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidJSON = &AppError{
		Code:       "INVALID_JSON",
		Message:    "El cuerpo de la solicitud no es un JSON válido.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrUnsupportedMediaType = &AppError{
		Code:       "UNSUPPORTED_MEDIA_TYPE",
		Message:    "Content-Type debe ser application/json.",
		HTTPStatus: http.StatusUnsupportedMediaType,
	}

	ErrValidation = &AppError{
		Code:       "VALIDATION_FAILED",
		Message:    "Uno o más campos son inválidos.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInviteInvalid = &AppError{
		Code:       "INVITE_INVALID",
		Message:    "El código de invitación no es válido.",
		HTTPStatus: http.StatusBadRequest,
	}
)

// ---------------------------------------------------------------------------------
// 401 Unauthorized
// ---------------------------------------------------------------------------------

var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Se requiere una sesión válida.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrVerificationFailed = &AppError{
		Code:       "VERIFICATION_FAILED",
		Message:    "No se pudo verificar la credencial.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrCounterRollback = &AppError{
		Code:       "COUNTER_ROLLBACK",
		Message:    "No se pudo verificar la credencial.",
		HTTPStatus: http.StatusUnauthorized,
	}
)

// ---------------------------------------------------------------------------------
// 403 Forbidden
// ---------------------------------------------------------------------------------

var (
	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "No tiene permisos para esta operación.",
		HTTPStatus: http.StatusForbidden,
	}
)

// ---------------------------------------------------------------------------------
// 404 Not Found
// ---------------------------------------------------------------------------------

var (
	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "El recurso solicitado no existe.",
		HTTPStatus: http.StatusNotFound,
	}

	ErrRouteNotFound = &AppError{
		Code:       "ROUTE_NOT_FOUND",
		Message:    "La ruta solicitada no existe.",
		HTTPStatus: http.StatusNotFound,
	}

	ErrChallengeNotFound = &AppError{
		Code:       "CHALLENGE_NOT_FOUND",
		Message:    "La ceremonia no existe o ya fue utilizada.",
		HTTPStatus: http.StatusNotFound,
	}

	ErrUserNotFound = &AppError{
		Code:       "USER_NOT_FOUND",
		Message:    "El usuario no existe.",
		HTTPStatus: http.StatusNotFound,
	}

	ErrInviteNotFound = &AppError{
		Code:       "INVITE_NOT_FOUND",
		Message:    "La invitación no existe.",
		HTTPStatus: http.StatusNotFound,
	}
)

// ---------------------------------------------------------------------------------
// 405 Method Not Allowed
// ---------------------------------------------------------------------------------

var (
	ErrMethodNotAllowed = &AppError{
		Code:       "METHOD_NOT_ALLOWED",
		Message:    "Método HTTP no permitido para esta ruta.",
		HTTPStatus: http.StatusMethodNotAllowed,
	}
)

// ---------------------------------------------------------------------------------
// 409 Conflict
// ---------------------------------------------------------------------------------

var (
	ErrConflict = &AppError{
		Code:       "CONFLICT",
		Message:    "El recurso ya existe o está en conflicto.",
		HTTPStatus: http.StatusConflict,
	}

	ErrIdentityTaken = &AppError{
		Code:       "IDENTITY_TAKEN",
		Message:    "El nombre ya está registrado.",
		HTTPStatus: http.StatusConflict,
	}

	ErrInviteExhausted = &AppError{
		Code:       "INVITE_EXHAUSTED",
		Message:    "La invitación ya no tiene usos disponibles.",
		HTTPStatus: http.StatusConflict,
	}

	ErrLastCredential = &AppError{
		Code:       "LAST_CREDENTIAL",
		Message:    "No se puede eliminar la última credencial de la cuenta.",
		HTTPStatus: http.StatusConflict,
	}
)

// ---------------------------------------------------------------------------------
// 410 Gone
// ---------------------------------------------------------------------------------

var (
	ErrChallengeExpired = &AppError{
		Code:       "CHALLENGE_EXPIRED",
		Message:    "La ceremonia expiró. Vuelva a empezar.",
		HTTPStatus: http.StatusGone,
	}

	ErrInviteExpired = &AppError{
		Code:       "INVITE_EXPIRED",
		Message:    "La invitación expiró.",
		HTTPStatus: http.StatusGone,
	}
)

// ---------------------------------------------------------------------------------
// 413 Payload Too Large
// ---------------------------------------------------------------------------------

var (
	ErrBodyTooLarge = &AppError{
		Code:       "BODY_TOO_LARGE",
		Message:    "El cuerpo de la solicitud excede el tamaño permitido.",
		HTTPStatus: http.StatusRequestEntityTooLarge,
	}
)

// ---------------------------------------------------------------------------------
// 429 Too Many Requests
// ---------------------------------------------------------------------------------

var (
	ErrRateLimitExceeded = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Ha excedido el límite de solicitudes. Intente más tarde.",
		HTTPStatus: http.StatusTooManyRequests,
	}
)

// ---------------------------------------------------------------------------------
// 500+ Server Errors
// ---------------------------------------------------------------------------------

var (
	ErrInternalServerError = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Ocurrió un error interno en el servidor.",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrServiceUnavailable = &AppError{
		Code:       "SERVICE_UNAVAILABLE",
		Message:    "El servicio no está disponible temporalmente.",
		HTTPStatus: http.StatusServiceUnavailable,
	}
)
