package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/macstore/internal/checkout"
	"github.com/fjod/macstore/internal/domain"
	"github.com/fjod/macstore/internal/money"
	"github.com/fjod/macstore/internal/notify"
	"github.com/fjod/macstore/internal/repository"
	"github.com/fjod/macstore/internal/store"
)

type CartReader interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
}

type PaymentSessionCreator interface {
	CreatePaymentSession(ctx context.Context, userID string, amount int64, orderID, checkoutID string) (*domain.PaymentSession, error)
	PendingSession(ctx context.Context, token string) (*domain.PaymentSession, error)
}

type OutboxWriter interface {
	InsertOutboxEvent(ctx context.Context, event *repository.OutboxEvent) error
}

// CheckoutService drives the three-step wizard. Wizard state lives only in
// the session store.
type CheckoutService struct {
	sessions  store.SessionStore
	carts     CartReader
	payments  PaymentSessionCreator
	outbox    OutboxWriter
	validator *checkout.Validator
	notifier  notify.Notifier
	log       *slog.Logger
}

func NewCheckoutService(sessions store.SessionStore, carts CartReader, payments PaymentSessionCreator,
	outbox OutboxWriter, notifier notify.Notifier, log *slog.Logger) *CheckoutService {
	return &CheckoutService{
		sessions:  sessions,
		carts:     carts,
		payments:  payments,
		outbox:    outbox,
		validator: checkout.NewValidator(),
		notifier:  notifier,
		log:       log,
	}
}

func (s *CheckoutService) Start(ctx context.Context, userID string) (*store.WizardSession, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		return nil, ErrEmptyCart
	}

	session := s.sessions.Create(userID)
	s.log.InfoContext(ctx, "checkout started", "checkout_id", session.ID, "user_id", userID)
	return session, nil
}

func (s *CheckoutService) Get(_ context.Context, userID, id string) (*store.WizardSession, error) {
	session, err := s.sessions.Get(id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if session.UserID != userID {
		return nil, ErrCheckoutNotFound
	}
	return session, nil
}

func (s *CheckoutService) SubmitPersonalInfo(ctx context.Context, userID, id string, form checkout.PersonalInfoForm) (*store.WizardSession, error) {
	info, err := s.validator.PersonalInfo(form)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, userID, id, func(w *store.WizardSession) error {
		next, err := domain.Transition(w.State, domain.EventSubmitPersonalInfo)
		if err != nil {
			return err
		}
		w.State = next
		w.Data.PersonalInfo = info
		return nil
	})
}

func (s *CheckoutService) SubmitShippingAddress(ctx context.Context, userID, id string, form checkout.ShippingAddressForm) (*store.WizardSession, error) {
	addr, err := s.validator.ShippingAddress(form)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, userID, id, func(w *store.WizardSession) error {
		next, err := domain.Transition(w.State, domain.EventSubmitShipping)
		if err != nil {
			return err
		}
		w.State = next
		w.Data.ShippingAddress = addr
		return nil
	})
}

// SubmitPaymentDetails finishes step 3. Offline methods hand the order off
// immediately; the card gateway leaves the wizard awaiting Pay.
func (s *CheckoutService) SubmitPaymentDetails(ctx context.Context, userID, id string, form checkout.PaymentDetailsForm) (*store.WizardSession, error) {
	details, err := s.validator.PaymentDetails(form)
	if err != nil {
		return nil, err
	}

	event := domain.EventSubmitPayment
	if details.PaymentMethod.UsesGateway() {
		event = domain.EventSubmitGatewayMethod
	}

	var cart *domain.Cart
	if !details.PaymentMethod.UsesGateway() {
		if cart, err = s.carts.GetCart(ctx, userID); err != nil {
			return nil, err
		}
		if cart.IsEmpty() {
			return nil, ErrEmptyCart
		}
	}

	session, err := s.update(ctx, userID, id, func(w *store.WizardSession) error {
		next, err := domain.Transition(w.State, event)
		if err != nil {
			return err
		}
		w.Data.PaymentDetails = details
		if next.Status == domain.WizardStatusSubmitted {
			if err := s.handOff(ctx, w, cart); err != nil {
				return err
			}
		}
		w.State = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	if session.State.Status == domain.WizardStatusSubmitted {
		notify.Success(ctx, s.notifier, msgOrderSubmitted)
	}
	return session, nil
}

func (s *CheckoutService) Back(ctx context.Context, userID, id string) (*store.WizardSession, error) {
	return s.update(ctx, userID, id, func(w *store.WizardSession) error {
		next, err := domain.Transition(w.State, domain.EventBack)
		if err != nil {
			return err
		}
		w.State = next
		return nil
	})
}

// Pay opens a gateway payment session for the current cart total. A still
// open session for the same total is returned again instead.
func (s *CheckoutService) Pay(ctx context.Context, userID, id string) (*domain.PaymentSession, error) {
	session, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if session.State.Status != domain.WizardStatusAwaitingPayment {
		return nil, ErrPaymentNotReady
	}

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		return nil, ErrEmptyCart
	}

	if session.PaymentToken != "" {
		pending, err := s.payments.PendingSession(ctx, session.PaymentToken)
		if err == nil && pending.Amount == cart.TotalPrice() {
			return pending, nil
		}
	}

	payment, err := s.payments.CreatePaymentSession(ctx, userID, cart.TotalPrice(), NewBuyOrder(), id)
	if err != nil {
		return nil, err
	}

	_, err = s.sessions.Update(id, func(w *store.WizardSession) error {
		w.PaymentToken = payment.Token
		return nil
	})
	if err != nil {
		// the payment session is durable; losing the wizard is tolerated
		s.log.WarnContext(ctx, "failed to attach payment token to checkout", "checkout_id", id, "error", err)
	}
	return payment, nil
}

func (s *CheckoutService) handOff(ctx context.Context, w *store.WizardSession, cart *domain.Cart) error {
	if w.Data.PersonalInfo == nil || w.Data.ShippingAddress == nil {
		return &domain.InvalidTransitionError{Step: w.State.Step, Status: w.State.Status, Event: domain.EventSubmitPayment}
	}

	payload, err := json.Marshal(domain.CheckoutSubmittedPayload{
		CheckoutID:      w.ID,
		UserID:          w.UserID,
		PersonalInfo:    *w.Data.PersonalInfo,
		ShippingAddress: *w.Data.ShippingAddress,
		PaymentMethod:   w.Data.PaymentDetails.PaymentMethod,
		Items:           cart.Items,
		TotalAmount:     cart.TotalPrice(),
		Currency:        money.Currency,
		SubmittedAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal checkout payload: %w", err)
	}

	err = s.outbox.InsertOutboxEvent(ctx, &repository.OutboxEvent{
		AggregateID: w.ID,
		EventType:   domain.EventTypeCheckoutSubmitted,
		Payload:     payload,
	})
	if err != nil {
		return fmt.Errorf("hand off checkout: %w", err)
	}

	s.log.InfoContext(ctx, "checkout submitted",
		"checkout_id", w.ID, "method", w.Data.PaymentDetails.PaymentMethod, "total", money.FormatCLP(cart.TotalPrice()))
	return nil
}

func (s *CheckoutService) update(_ context.Context, userID, id string, fn func(*store.WizardSession) error) (*store.WizardSession, error) {
	session, err := s.sessions.Update(id, func(w *store.WizardSession) error {
		if w.UserID != userID {
			return ErrCheckoutNotFound
		}
		return fn(w)
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return session, nil
}

func mapStoreErr(err error) error {
	if errors.Is(err, store.ErrSessionNotFound) || errors.Is(err, store.ErrSessionExpired) {
		return fmt.Errorf("%w: %w", ErrCheckoutNotFound, err)
	}
	return err
}
