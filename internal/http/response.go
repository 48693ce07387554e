package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/go_cart/shop-service/internal/service"
	"github.com/fjod/go_cart/shop-service/pkg/logger"
)

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// headers are already sent; a failed write means the client went away
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleServiceError converts service errors to HTTP status codes.
func handleServiceError(w http.ResponseWriter, r *http.Request, log logger.Logger, err error) {
	var validationErr *service.ValidationError
	var persistenceErr *service.PersistenceError

	switch {
	case errors.Is(err, service.ErrEmptyCart):
		respondError(w, http.StatusBadRequest, "empty_cart", err.Error())
	case errors.As(err, &validationErr):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "validation failed",
			Code:   "invalid_argument",
			Fields: validationErr.Fields,
		})
	case errors.Is(err, service.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "not_found", "order not found")
	case errors.Is(err, service.ErrIllegalTransition):
		respondError(w, http.StatusConflict, "illegal_transition", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	case errors.As(err, &persistenceErr):
		log.WithContext(r.Context()).Warn("order store unavailable",
			logger.String("op", persistenceErr.Op), logger.Error(persistenceErr.Err))
		respondError(w, http.StatusServiceUnavailable, "service_unavailable", "order store unavailable, retry later")
	default:
		log.WithContext(r.Context()).Error("unexpected error", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
