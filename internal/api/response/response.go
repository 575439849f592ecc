package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/trustgate/internal/apperr"
)

type envelope struct {
	Data any `json:"data"`
}

type collectionEnvelope struct {
	Data any      `json:"data"`
	Meta ListMeta `json:"meta"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ListMeta struct {
	Total int `json:"total"`
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Data: data})
}

func Accepted(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusAccepted, envelope{Data: data})
}

func Collection(w http.ResponseWriter, data any, total int) {
	writeJSON(w, http.StatusOK, collectionEnvelope{Data: data, Meta: ListMeta{Total: total}})
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// FromError writes err using the status that matches its apperr kind.
// Unclassified errors are logged and reported as a generic 500.
func FromError(w http.ResponseWriter, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		slog.Error("unhandled error", "error", err)
		Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}

	switch e.Kind {
	case apperr.KindValidation:
		Error(w, http.StatusBadRequest, e.Code, e.Message, e.Details)
	case apperr.KindPermission:
		Error(w, http.StatusForbidden, e.Code, e.Message, e.Details)
	case apperr.KindNotFound:
		Error(w, http.StatusNotFound, e.Code, e.Message, e.Details)
	case apperr.KindConflict:
		Error(w, http.StatusConflict, e.Code, e.Message, e.Details)
	case apperr.KindEligibility:
		Error(w, http.StatusUnprocessableEntity, e.Code, e.Message, map[string]string{"reason": e.Reason})
	case apperr.KindTransientInfra:
		slog.Warn("dependency unavailable", "error", err)
		Error(w, http.StatusServiceUnavailable, e.Code, e.Message, nil)
	default:
		slog.Error("request failed", "error", err)
		Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
