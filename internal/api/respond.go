package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"appointly/internal/database"
	"appointly/internal/lifecycle"
	"appointly/internal/payments"
	"appointly/internal/service"
)

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// errorResponse maps domain sentinels to a status code and body. Unknown
// errors become a bare 500 so internals are not leaked.
func errorResponse(err error) (int, any) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, map[string]any{
			"error":  service.ErrValidation.Error(),
			"fields": verr.Fields,
		}
	case errors.Is(err, service.ErrValidation):
		return http.StatusUnprocessableEntity, errorBody(err.Error())
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound, errorBody("not found")
	case errors.Is(err, database.ErrSlotUnavailable):
		return http.StatusConflict, errorBody("slot is no longer available")
	case errors.Is(err, database.ErrConcurrentModification):
		return http.StatusConflict, errorBody("booking was modified concurrently, retry")
	case errors.Is(err, lifecycle.ErrInvalidTransition), errors.Is(err, database.ErrServiceInUse):
		return http.StatusConflict, errorBody(err.Error())
	case errors.Is(err, payments.ErrNotConfigured), errors.Is(err, payments.ErrUnsupportedGateway):
		return http.StatusServiceUnavailable, errorBody(err.Error())
	default:
		return http.StatusInternalServerError, errorBody("internal error")
	}
}

func errorBody(message string) map[string]string {
	return map[string]string{"error": message}
}
