package http

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/fjod/macstore/internal/checkout"
	"github.com/fjod/macstore/internal/domain"
	"github.com/fjod/macstore/internal/money"
	"github.com/fjod/macstore/internal/notify"
	"github.com/fjod/macstore/internal/store"
	"github.com/go-chi/chi/v5"
)

type CheckoutOperator interface {
	Start(ctx context.Context, userID string) (*store.WizardSession, error)
	Get(ctx context.Context, userID, id string) (*store.WizardSession, error)
	SubmitPersonalInfo(ctx context.Context, userID, id string, form checkout.PersonalInfoForm) (*store.WizardSession, error)
	SubmitShippingAddress(ctx context.Context, userID, id string, form checkout.ShippingAddressForm) (*store.WizardSession, error)
	SubmitPaymentDetails(ctx context.Context, userID, id string, form checkout.PaymentDetailsForm) (*store.WizardSession, error)
	Back(ctx context.Context, userID, id string) (*store.WizardSession, error)
	Pay(ctx context.Context, userID, id string) (*domain.PaymentSession, error)
}

type CheckoutHandler struct {
	checkouts CheckoutOperator
	timeout   time.Duration
}

func NewCheckoutHandler(checkouts CheckoutOperator, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		checkouts: checkouts,
		timeout:   timeout,
	}
}

type CheckoutResponse struct {
	ID           string              `json:"id"`
	Step         domain.CheckoutStep `json:"step"`
	StepName     string              `json:"stepName"`
	Status       domain.WizardStatus `json:"status"`
	Data         domain.CheckoutData `json:"data"`
	PaymentToken string              `json:"paymentToken,omitempty"`
	ExpiresAt    time.Time           `json:"expiresAt"`
	Notices      []notify.Notice     `json:"notices,omitempty"`
}

func newCheckoutResponse(ctx context.Context, w *store.WizardSession) CheckoutResponse {
	return CheckoutResponse{
		ID:           w.ID,
		Step:         w.State.Step,
		StepName:     w.State.Step.String(),
		Status:       w.State.Status,
		Data:         w.Data,
		PaymentToken: w.PaymentToken,
		ExpiresAt:    w.ExpiresAt,
		Notices:      drainNotices(ctx),
	}
}

type PaymentSessionResponse struct {
	Token           string          `json:"token"`
	FormAction      string          `json:"formAction"`
	BuyOrder        string          `json:"buyOrder"`
	Amount          int64           `json:"amount"`
	AmountFormatted string          `json:"amountFormatted"`
	RedirectURL     string          `json:"redirectUrl"`
	Notices         []notify.Notice `json:"notices,omitempty"`
}

func newPaymentSessionResponse(ctx context.Context, s *domain.PaymentSession) PaymentSessionResponse {
	return PaymentSessionResponse{
		Token:           s.Token,
		FormAction:      s.FormAction,
		BuyOrder:        s.BuyOrderID,
		Amount:          s.Amount,
		AmountFormatted: money.FormatCLP(s.Amount),
		RedirectURL:     redirectPath + "?token=" + url.QueryEscape(s.Token),
		Notices:         drainNotices(ctx),
	}
}

func (h *CheckoutHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session, err := h.checkouts.Start(ctx, UserIDFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, newCheckoutResponse(ctx, session))
}

func (h *CheckoutHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session, err := h.checkouts.Get(ctx, UserIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newCheckoutResponse(ctx, session))
}

func (h *CheckoutHandler) SubmitPersonalInfo(w http.ResponseWriter, r *http.Request) {
	var form checkout.PersonalInfoForm
	h.submit(w, r, &form, func(ctx context.Context, userID, id string) (*store.WizardSession, error) {
		return h.checkouts.SubmitPersonalInfo(ctx, userID, id, form)
	})
}

func (h *CheckoutHandler) SubmitShippingAddress(w http.ResponseWriter, r *http.Request) {
	var form checkout.ShippingAddressForm
	h.submit(w, r, &form, func(ctx context.Context, userID, id string) (*store.WizardSession, error) {
		return h.checkouts.SubmitShippingAddress(ctx, userID, id, form)
	})
}

func (h *CheckoutHandler) SubmitPaymentDetails(w http.ResponseWriter, r *http.Request) {
	var form checkout.PaymentDetailsForm
	h.submit(w, r, &form, func(ctx context.Context, userID, id string) (*store.WizardSession, error) {
		return h.checkouts.SubmitPaymentDetails(ctx, userID, id, form)
	})
}

func (h *CheckoutHandler) Back(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, nil, func(ctx context.Context, userID, id string) (*store.WizardSession, error) {
		return h.checkouts.Back(ctx, userID, id)
	})
}

// Pay opens the gateway payment for a wizard awaiting card payment.
func (h *CheckoutHandler) Pay(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	payment, err := h.checkouts.Pay(ctx, UserIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, newPaymentSessionResponse(ctx, payment))
}

// submit decodes the optional form body into dst and applies one wizard step.
func (h *CheckoutHandler) submit(w http.ResponseWriter, r *http.Request, dst any,
	step func(ctx context.Context, userID, id string) (*store.WizardSession, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if dst != nil {
		if err := decodeJSON(r, dst); err != nil {
			respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return
		}
	}

	session, err := step(ctx, UserIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newCheckoutResponse(ctx, session))
}
