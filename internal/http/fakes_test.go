package http

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/fjod/macstore/internal/cache"
	"github.com/fjod/macstore/internal/checkout"
	"github.com/fjod/macstore/internal/domain"
	"github.com/fjod/macstore/internal/notify"
	"github.com/fjod/macstore/internal/repository"
	"github.com/fjod/macstore/internal/service"
	"github.com/fjod/macstore/internal/store"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := token.SignedString(testSecret)
	require.NoError(t, err)
	return s
}

// memCartRepository implements repository.CartRepository
type memCartRepository struct {
	m     sync.RWMutex
	carts map[string]*domain.Cart
}

func newMemCartRepository() *memCartRepository {
	return &memCartRepository{carts: make(map[string]*domain.Cart)}
}

func (r *memCartRepository) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	r.m.RLock()
	defer r.m.RUnlock()
	c, ok := r.carts[userID]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	return c.Clone(), nil
}

func (r *memCartRepository) SaveCart(_ context.Context, cart *domain.Cart) error {
	r.m.Lock()
	defer r.m.Unlock()
	r.carts[cart.UserID] = cart.Clone()
	return nil
}

func (r *memCartRepository) DeleteCart(_ context.Context, userID string) error {
	r.m.Lock()
	defer r.m.Unlock()
	delete(r.carts, userID)
	return nil
}

// noCache always misses.
type noCache struct{}

func (noCache) Get(context.Context, string) (*domain.Cart, error) { return nil, cache.ErrCacheMiss }
func (noCache) Set(context.Context, string, *domain.Cart) error   { return nil }
func (noCache) Delete(context.Context, string) error              { return nil }

func newTestCartService() *service.CartService {
	return service.NewCartService(newMemCartRepository(), noCache{}, notify.ContextNotifier{}, discardLogger())
}

// fakeCheckout implements CheckoutOperator with a canned result per call.
type fakeCheckout struct {
	m        sync.RWMutex
	session  *store.WizardSession
	payment  *domain.PaymentSession
	err      error
	lastUser string
	lastID   string
	lastForm any
}

func (f *fakeCheckout) record(userID, id string, form any) (*store.WizardSession, error) {
	f.m.Lock()
	defer f.m.Unlock()
	f.lastUser, f.lastID, f.lastForm = userID, id, form
	return f.session, f.err
}

func (f *fakeCheckout) Start(_ context.Context, userID string) (*store.WizardSession, error) {
	return f.record(userID, "", nil)
}

func (f *fakeCheckout) Get(_ context.Context, userID, id string) (*store.WizardSession, error) {
	return f.record(userID, id, nil)
}

func (f *fakeCheckout) SubmitPersonalInfo(_ context.Context, userID, id string, form checkout.PersonalInfoForm) (*store.WizardSession, error) {
	return f.record(userID, id, form)
}

func (f *fakeCheckout) SubmitShippingAddress(_ context.Context, userID, id string, form checkout.ShippingAddressForm) (*store.WizardSession, error) {
	return f.record(userID, id, form)
}

func (f *fakeCheckout) SubmitPaymentDetails(_ context.Context, userID, id string, form checkout.PaymentDetailsForm) (*store.WizardSession, error) {
	return f.record(userID, id, form)
}

func (f *fakeCheckout) Back(_ context.Context, userID, id string) (*store.WizardSession, error) {
	return f.record(userID, id, nil)
}

func (f *fakeCheckout) Pay(_ context.Context, userID, id string) (*domain.PaymentSession, error) {
	if _, err := f.record(userID, id, nil); err != nil {
		return nil, err
	}
	return f.payment, nil
}

// fakePayments implements PaymentGateway and PendingSessionFinder.
type fakePayments struct {
	m          sync.RWMutex
	session    *domain.PaymentSession
	err        error
	lastAmount int64
	lastOrder  string
}

func (f *fakePayments) CreatePaymentSession(_ context.Context, userID string, amount int64, orderID, _ string) (*domain.PaymentSession, error) {
	f.m.Lock()
	defer f.m.Unlock()
	f.lastAmount, f.lastOrder = amount, orderID
	if f.err != nil {
		return nil, f.err
	}
	if userID == "" {
		return nil, service.ErrUnauthenticated
	}
	return f.session, nil
}

func (f *fakePayments) Session(context.Context, string) (*domain.PaymentSession, error) {
	f.m.RLock()
	defer f.m.RUnlock()
	return f.session, f.err
}

func (f *fakePayments) PendingSession(context.Context, string) (*domain.PaymentSession, error) {
	f.m.RLock()
	defer f.m.RUnlock()
	return f.session, f.err
}

type fakeFlow struct {
	m         sync.Mutex
	result    service.ConfirmationResult
	params    url.Values
	notice    string
	confirmed []string
}

func (f *fakeFlow) Confirm(_ context.Context, token string) service.ConfirmationResult {
	f.m.Lock()
	defer f.m.Unlock()
	f.confirmed = append(f.confirmed, token)
	return f.result
}

func (f *fakeFlow) confirmedTokens() []string {
	f.m.Lock()
	defer f.m.Unlock()
	return append([]string(nil), f.confirmed...)
}

func (f *fakeFlow) Run(ctx context.Context, params url.Values) service.ConfirmationResult {
	f.m.Lock()
	defer f.m.Unlock()
	f.params = params
	if f.notice != "" {
		notify.Success(ctx, notify.ContextNotifier{}, f.notice)
	}
	return f.result
}
