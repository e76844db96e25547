package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hiroki-koketsu/taskboard/internal/model"
)

// dataEnvelope wraps successful responses.
type dataEnvelope struct {
	Data any `json:"data"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string             `json:"code"`
	Message string             `json:"message"`
	Status  int                `json:"status"`
	Details []model.FieldError `json:"details,omitempty"`
}

// errorFromDomain maps an error to its response. Only TaskError messages reach
// the client; anything else becomes a generic internal error.
func errorFromDomain(err error) ErrorResponse {
	var te *model.TaskError
	if errors.As(err, &te) {
		return ErrorResponse{
			Code:    string(te.Kind),
			Message: te.Message,
			Status:  te.Status,
			Details: te.Details,
		}
	}
	return ErrorResponse{
		Code:    string(model.KindInternal),
		Message: model.ErrInternal.Message,
		Status:  http.StatusInternalServerError,
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, kind model.ErrorKind, message string) {
	respondJSON(w, status, ErrorResponse{
		Code:    string(kind),
		Message: message,
		Status:  status,
	})
}
