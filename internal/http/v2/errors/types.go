package errors

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dropDatabas3/passgate/internal/observability/logger"
)

// errorResponse estructura interna para la serialización JSON.
// Controla exactamente qué campos se envían al cliente.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// WriteError escribe la respuesta JSON para err. Los 5xx se loguean con la
// causa, que nunca llega al cliente.
func WriteError(w http.ResponseWriter, err error) {
	WriteErrorCtx(context.Background(), w, err)
}

// WriteErrorCtx es WriteError usando el logger del request.
func WriteErrorCtx(ctx context.Context, w http.ResponseWriter, err error) {
	appErr := FromError(err)

	if appErr.HTTPStatus >= http.StatusInternalServerError {
		logger.From(ctx).Error("request error",
			logger.Layer("http"),
			logger.String("code", appErr.Code),
			logger.Err(appErr.Err),
		)
	}

	resp := errorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(resp)
}
