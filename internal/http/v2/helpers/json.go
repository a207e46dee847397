package helpers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	httperrors "github.com/dropDatabas3/passgate/internal/http/v2/errors"
)

// MaxBodyBytes es el límite de los cuerpos JSON (1 MiB).
const MaxBodyBytes = 1 << 20

// Validator es lo que ReadJSON necesita para validar el DTO decodificado.
type Validator interface {
	Struct(i any) error
}

// ReadJSON decodifica JSON de forma tolerante (no falla por campos desconocidos),
// valida Content-Type, limita el body a 1 MiB y, si v != nil, valida el DTO.
// Retorna un *AppError listo para WriteError.
func ReadJSON(w http.ResponseWriter, r *http.Request, dst any, v Validator) error {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.Contains(ct, "application/json") {
		return httperrors.ErrUnsupportedMediaType
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return httperrors.ErrBodyTooLarge.WithCause(err)
		}
		return httperrors.ErrInvalidJSON.WithCause(err)
	}

	if v != nil {
		if err := v.Struct(dst); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSON escribe una respuesta JSON estándar.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// NoContent responde 204.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
