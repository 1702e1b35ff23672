package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/macstore/internal/domain"
	"github.com/fjod/macstore/internal/service"
)

type PaymentGateway interface {
	CreatePaymentSession(ctx context.Context, userID string, amount int64, orderID, checkoutID string) (*domain.PaymentSession, error)
	Session(ctx context.Context, token string) (*domain.PaymentSession, error)
}

// TokenConfirmer settles a token the same way the gateway return page does.
type TokenConfirmer interface {
	Confirm(ctx context.Context, token string) service.ConfirmationResult
}

// WebpayHandler is the same-origin relay in front of the gateway, so browser
// code never holds merchant credentials.
type WebpayHandler struct {
	payments  PaymentGateway
	confirmer TokenConfirmer
	timeout   time.Duration
}

func NewWebpayHandler(payments PaymentGateway, confirmer TokenConfirmer, timeout time.Duration) *WebpayHandler {
	return &WebpayHandler{
		payments:  payments,
		confirmer: confirmer,
		timeout:   timeout,
	}
}

type CreateTransactionRequestDTO struct {
	Amount  int64  `json:"amount"`
	OrderID string `json:"orderId"`
}

type CreateTransactionResponseDTO struct {
	Token      string `json:"token"`
	FormAction string `json:"formAction"`
}

type ConfirmTransactionRequestDTO struct {
	Token string `json:"token"`
}

func (h *WebpayHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CreateTransactionRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	session, err := h.payments.CreatePaymentSession(ctx, UserIDFromContext(r.Context()), req.Amount, strings.TrimSpace(req.OrderID), "")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, CreateTransactionResponseDTO{Token: session.Token, FormAction: session.FormAction})
}

// Confirm returns the normalized commit result. A declined charge is a
// successful relay call; callers read responseCode. Only the session's owner
// may commit it.
func (h *WebpayHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req ConfirmTransactionRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	token := strings.TrimSpace(req.Token)
	session, err := h.payments.Session(ctx, token)
	if err == nil && session.UserID != UserIDFromContext(r.Context()) {
		err = service.ErrPaymentSessionNotFound
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	res := h.confirmer.Confirm(ctx, token)
	if res.Confirmation == nil {
		handleServiceError(w, r, res.Err)
		return
	}
	respondJSON(w, http.StatusOK, res.Confirmation)
}
