package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/macstore/internal/checkout"
	"github.com/fjod/macstore/internal/domain"
	"github.com/fjod/macstore/internal/notify"
	"github.com/fjod/macstore/internal/service"
)

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	Notices []notify.Notice   `json:"notices,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Notices: drainNotices(r.Context()),
	})
}

func drainNotices(ctx context.Context) []notify.Notice {
	if c := notify.FromContext(ctx); c != nil {
		return c.Drain()
	}
	return nil
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// handleServiceError converts service and domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *checkout.ValidationError
	if errors.As(err, &verr) {
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "validation failed",
			Code:    "validation_failed",
			Fields:  verr.Fields,
			Notices: drainNotices(r.Context()),
		})
		return
	}

	var httpStatus int
	var code string

	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		httpStatus, code = http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, service.ErrCheckoutNotFound), errors.Is(err, service.ErrPaymentSessionNotFound):
		httpStatus, code = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidTransition):
		httpStatus, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, service.ErrPaymentNotReady), errors.Is(err, service.ErrPaymentSessionClosed):
		httpStatus, code = http.StatusConflict, "payment_not_ready"
	case errors.Is(err, service.ErrEmptyCart):
		httpStatus, code = http.StatusBadRequest, "empty_cart"
	case errors.Is(err, service.ErrInvalidAmount):
		httpStatus, code = http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, service.ErrMissingToken):
		httpStatus, code = http.StatusBadRequest, "missing_token"
	case errors.Is(err, service.ErrPaymentDeclined):
		httpStatus, code = http.StatusPaymentRequired, "payment_declined"
	case errors.Is(err, service.ErrGatewayUnavailable):
		httpStatus, code = http.StatusServiceUnavailable, "service_unavailable"
	case errors.Is(err, service.ErrSessionCreationFailed), errors.Is(err, service.ErrConfirmationFailed):
		httpStatus, code = http.StatusBadGateway, "gateway_error"
	case errors.Is(err, context.DeadlineExceeded):
		httpStatus, code = http.StatusGatewayTimeout, "timeout"
	default:
		httpStatus, code = http.StatusInternalServerError, "internal_error"
	}

	resp := ErrorResponse{
		Error:   http.StatusText(httpStatus),
		Code:    code,
		Notices: drainNotices(r.Context()),
	}
	if httpStatus < http.StatusInternalServerError {
		resp.Details = err.Error()
	} else {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "code", code, "error", err)
	}
	respondJSON(w, httpStatus, resp)
}
