package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fjod/macstore/internal/domain"
	"github.com/fjod/macstore/internal/gateway/webpay"
	"github.com/fjod/macstore/internal/money"
	"github.com/fjod/macstore/internal/notify"
	"github.com/fjod/macstore/internal/repository"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Gateway buy orders are limited to 26 characters.
const maxBuyOrderLen = 26

type Gateway interface {
	CreateTransaction(ctx context.Context, req webpay.CreateRequest) (*webpay.CreateResponse, error)
	CommitTransaction(ctx context.Context, token string) (*webpay.CommitResponse, error)
}

// ConfirmResult is the outcome of confirming a token. First is false when
// the token had already been settled and the stored result was returned.
type ConfirmResult struct {
	Session      *domain.PaymentSession
	Confirmation *domain.PaymentConfirmation
	First        bool
}

type PaymentService struct {
	gateway   Gateway
	repo      repository.PaymentRepository
	notifier  notify.Notifier
	returnURL string
	log       *slog.Logger
	sfg       singleflight.Group
	firsts    sync.Map
}

func NewPaymentService(gateway Gateway, repo repository.PaymentRepository, notifier notify.Notifier, returnURL string, log *slog.Logger) *PaymentService {
	return &PaymentService{
		gateway:   gateway,
		repo:      repo,
		notifier:  notifier,
		returnURL: returnURL,
		log:       log,
	}
}

func NewBuyOrder() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:maxBuyOrderLen]
}

// CreatePaymentSession opens a gateway transaction for amount under orderID
// and records it so the return page can find the shopper again. Failures are
// not retried.
func (s *PaymentService) CreatePaymentSession(ctx context.Context, userID string, amount int64, orderID, checkoutID string) (*domain.PaymentSession, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if orderID == "" {
		orderID = NewBuyOrder()
	}
	if len(orderID) > maxBuyOrderLen {
		return nil, fmt.Errorf("%w: buy order longer than %d characters", ErrSessionCreationFailed, maxBuyOrderLen)
	}

	resp, err := s.gateway.CreateTransaction(ctx, webpay.CreateRequest{
		BuyOrder:  orderID,
		SessionID: orderID,
		Amount:    amount,
		ReturnURL: s.returnURL,
	})
	if err != nil {
		notify.Error(ctx, s.notifier, msgSessionFailed)
		if errors.Is(err, webpay.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrSessionCreationFailed, err)
	}

	session := &domain.PaymentSession{
		Token:      resp.Token,
		FormAction: resp.URL,
		BuyOrderID: orderID,
		SessionID:  orderID,
		UserID:     userID,
		CheckoutID: checkoutID,
		Amount:     amount,
		Status:     domain.PaymentSessionCreated,
	}
	if err := s.repo.CreatePaymentSession(ctx, session); err != nil {
		notify.Error(ctx, s.notifier, msgSessionFailed)
		return nil, fmt.Errorf("%w: %w", ErrSessionCreationFailed, err)
	}

	s.log.InfoContext(ctx, "payment session created",
		"buy_order", orderID, "amount", money.FormatCLP(amount), "user_id", userID)
	return session, nil
}

// ConfirmPaymentSession commits token with the gateway once. Later calls for
// the same token return the stored result without contacting the gateway.
func (s *PaymentService) ConfirmPaymentSession(ctx context.Context, token string) (*ConfirmResult, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	v, err, _ := s.sfg.Do(token, func() (interface{}, error) {
		return s.confirm(ctx, token)
	})
	if err != nil {
		return nil, err
	}

	// callers collapsed by singleflight share one result; only one of them
	// may act on the first confirmation
	res := *v.(*ConfirmResult)
	res.First = res.First && s.claimFirst(token)
	return &res, nil
}

func (s *PaymentService) markFirst(token string, first bool) {
	if first {
		s.firsts.Store(token, struct{}{})
	}
}

func (s *PaymentService) claimFirst(token string) bool {
	_, ok := s.firsts.LoadAndDelete(token)
	return ok
}

func (s *PaymentService) confirm(ctx context.Context, token string) (*ConfirmResult, error) {
	session, stored, err := s.repo.GetPaymentSession(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfirmationFailed, err)
	}
	if stored != nil {
		return &ConfirmResult{Session: session, Confirmation: stored}, nil
	}
	if session.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: session %s is %s", ErrConfirmationFailed, session.BuyOrderID, session.Status)
	}

	resp, err := s.gateway.CommitTransaction(ctx, token)
	if err != nil {
		if errors.Is(err, webpay.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrConfirmationFailed, err)
	}

	confirmation := normalize(resp)
	status := domain.PaymentSessionDeclined
	var event *repository.OutboxEvent
	if confirmation.Approved() {
		status = domain.PaymentSessionApproved
		event, err = paymentConfirmedEvent(session, confirmation)
		if err != nil {
			return nil, err
		}
	}

	first, err := s.repo.RecordConfirmation(ctx, token, confirmation, status, event)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfirmationFailed, err)
	}
	if !first {
		// another instance stored its result between our read and commit
		_, stored, err := s.repo.GetPaymentSession(ctx, token)
		if err != nil || stored == nil {
			s.log.ErrorContext(ctx, "gateway result could not be recorded",
				"buy_order", session.BuyOrderID, "response_code", confirmation.ResponseCode, "error", err)
			return nil, fmt.Errorf("%w: result for %s not recorded", ErrConfirmationFailed, session.BuyOrderID)
		}
		confirmation = stored
		status = domain.PaymentSessionDeclined
		if stored.Approved() {
			status = domain.PaymentSessionApproved
		}
	}
	session.Status = status

	s.log.InfoContext(ctx, "payment confirmed",
		"buy_order", confirmation.BuyOrder,
		"response_code", confirmation.ResponseCode,
		"card", confirmation.MaskedCard(),
		"first", first)

	s.markFirst(token, first)
	return &ConfirmResult{Session: session, Confirmation: confirmation, First: first}, nil
}

// PendingSession returns the open session for token so the shopper can be
// sent to the gateway page.
func (s *PaymentService) PendingSession(ctx context.Context, token string) (*domain.PaymentSession, error) {
	session, err := s.Session(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrPaymentSessionClosed, session.Status)
	}
	return session, nil
}

// Session returns the session for token in any status.
func (s *PaymentService) Session(ctx context.Context, token string) (*domain.PaymentSession, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	session, _, err := s.repo.GetPaymentSession(ctx, token)
	if errors.Is(err, repository.ErrPaymentSessionNotFound) {
		return nil, ErrPaymentSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ClaimCartClear reports whether the caller is the one that must empty the
// buyer's cart for the approved token.
func (s *PaymentService) ClaimCartClear(ctx context.Context, token string) (bool, error) {
	return s.repo.ClaimCartClear(ctx, token)
}

func (s *PaymentService) ReleaseCartClear(ctx context.Context, token string) error {
	return s.repo.ReleaseCartClear(ctx, token)
}

// Abort records that the shopper left the gateway page without paying.
func (s *PaymentService) Abort(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.repo.MarkAborted(ctx, token)
}

func normalize(resp *webpay.CommitResponse) *domain.PaymentConfirmation {
	return &domain.PaymentConfirmation{
		Status:            resp.Status,
		Amount:            resp.Amount,
		BuyOrder:          resp.BuyOrder,
		SessionID:         resp.SessionID,
		TransactionDate:   resp.TransactionDate,
		CardNumber:        resp.CardDetail.CardNumber,
		PaymentTypeCode:   resp.PaymentTypeCode,
		ResponseCode:      resp.ResponseCode,
		AuthorizationCode: resp.AuthorizationCode,
		Installments:      resp.InstallmentsNumber,
	}
}

func paymentConfirmedEvent(session *domain.PaymentSession, c *domain.PaymentConfirmation) (*repository.OutboxEvent, error) {
	payload, err := json.Marshal(domain.PaymentConfirmedPayload{
		BuyOrder:          session.BuyOrderID,
		UserID:            session.UserID,
		CheckoutID:        session.CheckoutID,
		Amount:            c.Amount,
		Currency:          money.Currency,
		AuthorizationCode: c.AuthorizationCode,
		CardNumber:        c.MaskedCard(),
		PaymentTypeCode:   c.PaymentTypeCode,
		ConfirmedAt:       time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payment confirmed payload: %w", err)
	}
	return &repository.OutboxEvent{
		AggregateID: session.BuyOrderID,
		EventType:   domain.EventTypePaymentConfirmed,
		Payload:     payload,
	}, nil
}
