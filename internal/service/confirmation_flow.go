package service

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/fjod/macstore/internal/domain"
	"github.com/fjod/macstore/internal/notify"
)

type ResultState string

const (
	ResultSuccess ResultState = "success"
	ResultError   ResultState = "error"
)

// Failure reasons shown on the error page.
const (
	ReasonMissingToken = "missing_token"
	ReasonAborted      = "aborted"
	ReasonDeclined     = "declined"
	ReasonFailed       = "failed"
)

type ConfirmationResult struct {
	State            ResultState
	Reason           string
	Confirmation     *domain.PaymentConfirmation
	AlreadyConfirmed bool
	Err              error
}

// CartClearer empties a user's persisted cart.
type CartClearer interface {
	ClearUserCart(ctx context.Context, userID string) error
}

// Confirmer is the part of the gateway adapter the return page needs.
type Confirmer interface {
	ConfirmPaymentSession(ctx context.Context, token string) (*ConfirmResult, error)
	ClaimCartClear(ctx context.Context, token string) (bool, error)
	ReleaseCartClear(ctx context.Context, token string) error
	Abort(ctx context.Context, token string) error
}

// ConfirmationFlow runs when the shopper's browser comes back from the
// gateway's hosted page, and behind the confirm relay.
type ConfirmationFlow struct {
	payments Confirmer
	carts    CartClearer
	notifier notify.Notifier
	log      *slog.Logger
}

func NewConfirmationFlow(payments Confirmer, carts CartClearer, notifier notify.Notifier, log *slog.Logger) *ConfirmationFlow {
	return &ConfirmationFlow{
		payments: payments,
		carts:    carts,
		notifier: notifier,
		log:      log,
	}
}

// Run handles the gateway return parameters.
func (f *ConfirmationFlow) Run(ctx context.Context, params url.Values) ConfirmationResult {
	token := params.Get("token_ws")
	if token == "" {
		// the shopper cancelled on the gateway page
		if aborted := params.Get("TBK_TOKEN"); aborted != "" {
			if err := f.payments.Abort(ctx, aborted); err != nil {
				f.log.WarnContext(ctx, "failed to mark payment session aborted", "error", err)
			}
			notify.Error(ctx, f.notifier, msgPaymentError)
			return ConfirmationResult{State: ResultError, Reason: ReasonAborted, Err: ErrMissingToken}
		}
	}
	return f.Confirm(ctx, token)
}

// Confirm makes at most one gateway commit for token. The buyer's cart is
// cleared, and the success notice raised, by whichever caller first sees the
// approval; that claim is stored on the payment session.
func (f *ConfirmationFlow) Confirm(ctx context.Context, token string) ConfirmationResult {
	if token == "" {
		notify.Error(ctx, f.notifier, msgPaymentError)
		return ConfirmationResult{State: ResultError, Reason: ReasonMissingToken, Err: ErrMissingToken}
	}

	res, err := f.payments.ConfirmPaymentSession(ctx, token)
	if err != nil {
		f.log.ErrorContext(ctx, "payment confirmation failed", "error", err)
		notify.Error(ctx, f.notifier, msgPaymentError)
		return ConfirmationResult{State: ResultError, Reason: ReasonFailed, Err: err}
	}

	if !res.Confirmation.Approved() {
		notify.Error(ctx, f.notifier, msgPaymentError)
		return ConfirmationResult{
			State:            ResultError,
			Reason:           ReasonDeclined,
			Confirmation:     res.Confirmation,
			AlreadyConfirmed: !res.First,
			Err:              ErrPaymentDeclined,
		}
	}

	claimed, err := f.payments.ClaimCartClear(ctx, token)
	if err != nil {
		f.log.ErrorContext(ctx, "failed to claim cart clear", "buy_order", res.Session.BuyOrderID, "error", err)
		return ConfirmationResult{State: ResultSuccess, Confirmation: res.Confirmation, AlreadyConfirmed: !res.First}
	}
	if !claimed {
		return ConfirmationResult{State: ResultSuccess, Confirmation: res.Confirmation, AlreadyConfirmed: true}
	}

	if err := f.carts.ClearUserCart(ctx, res.Session.UserID); err != nil {
		// payment stands; the next confirmation of the token retries the clear
		f.log.ErrorContext(ctx, "failed to clear cart after payment",
			"user_id", res.Session.UserID, "buy_order", res.Session.BuyOrderID, "error", err)
		if err := f.payments.ReleaseCartClear(ctx, token); err != nil {
			f.log.ErrorContext(ctx, "failed to release cart clear", "buy_order", res.Session.BuyOrderID, "error", err)
		}
	}
	notify.Success(ctx, f.notifier, msgPaymentSuccess)

	return ConfirmationResult{State: ResultSuccess, Confirmation: res.Confirmation}
}
