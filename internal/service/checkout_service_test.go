package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/fjod/macstore/internal/checkout"
	"github.com/fjod/macstore/internal/domain"
	"github.com/fjod/macstore/internal/gateway/webpay"
	"github.com/fjod/macstore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkoutFixture struct {
	svc      *CheckoutService
	carts    *cartFixture
	payments *paymentFixture
	sessions *store.MemoryStore
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	f := &checkoutFixture{
		carts:    newCartFixture(),
		payments: newPaymentFixture(),
		sessions: store.NewMemoryStore(time.Minute),
	}
	t.Cleanup(func() { f.sessions.Close() })
	f.svc = NewCheckoutService(f.sessions, f.carts.svc, f.payments.svc, f.payments.repo, f.payments.notifier, discardLogger())

	ctx := context.Background()
	_, err := f.carts.svc.Do(ctx, "user-1", func(s *CartStore) error {
		return s.AddToCart(ctx, iphone, 2)
	})
	require.NoError(t, err)
	return f
}

var (
	validPersonal = checkout.PersonalInfoForm{Name: "Ana Pérez", Email: "ana@example.cl", Phone: "912345678"}
	validAddress  = checkout.ShippingAddressForm{Address: "Av. Apoquindo 3000", City: "Santiago", State: "RM", ZipCode: "7550000"}
)

func (f *checkoutFixture) toPaymentStep(t *testing.T) *store.WizardSession {
	ctx := context.Background()
	w, err := f.svc.Start(ctx, "user-1")
	require.NoError(t, err)
	_, err = f.svc.SubmitPersonalInfo(ctx, "user-1", w.ID, validPersonal)
	require.NoError(t, err)
	w, err = f.svc.SubmitShippingAddress(ctx, "user-1", w.ID, validAddress)
	require.NoError(t, err)
	require.Equal(t, domain.StepPaymentDetails, w.State.Step)
	return w
}

func TestCheckout_StartRequiresUserAndItems(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = f.svc.Start(ctx, "user-empty")
	assert.ErrorIs(t, err, ErrEmptyCart)

	w, err := f.svc.Start(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StepPersonalInfo, w.State.Step)
}

func TestCheckout_InvalidStepKeepsState(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	w, err := f.svc.Start(ctx, "user-1")
	require.NoError(t, err)

	_, err = f.svc.SubmitPersonalInfo(ctx, "user-1", w.ID, checkout.PersonalInfoForm{Name: "A", Email: "bad", Phone: "1"})
	var verr *checkout.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Fields, 3)

	got, err := f.svc.Get(ctx, "user-1", w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StepPersonalInfo, got.State.Step)
	assert.Nil(t, got.Data.PersonalInfo)
}

func TestCheckout_SubmitOutOfOrder(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	w, err := f.svc.Start(ctx, "user-1")
	require.NoError(t, err)

	_, err = f.svc.SubmitShippingAddress(ctx, "user-1", w.ID, validAddress)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCheckout_BackClampsAndKeepsData(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	w := f.toPaymentStep(t)

	for i := 0; i < 4; i++ {
		var err error
		w, err = f.svc.Back(ctx, "user-1", w.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, domain.StepPersonalInfo, w.State.Step)
	require.NotNil(t, w.Data.ShippingAddress)
	assert.Equal(t, "Santiago", w.Data.ShippingAddress.City)
}

func TestCheckout_OfflineMethodHandsOff(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	w := f.toPaymentStep(t)

	w, err := f.svc.SubmitPaymentDetails(ctx, "user-1", w.ID, checkout.PaymentDetailsForm{PaymentMethod: "transferencia", TermsAccepted: true})
	require.NoError(t, err)
	assert.Equal(t, domain.WizardStatusSubmitted, w.State.Status)
	assert.Equal(t, domain.PaymentMethodBankTransfer, w.Data.PaymentDetails.PaymentMethod)

	events := f.payments.repo.outboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTypeCheckoutSubmitted, events[0].EventType)
	assert.Equal(t, w.ID, events[0].AggregateID)

	var payload domain.CheckoutSubmittedPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, int64(2000), payload.TotalAmount)
	assert.Equal(t, "CLP", payload.Currency)
	assert.Equal(t, "Ana Pérez", payload.PersonalInfo.Name)
	assert.Len(t, payload.Items, 1)

	_, err = f.svc.Back(ctx, "user-1", w.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCheckout_HandOffFailureKeepsWizardOpen(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	w := f.toPaymentStep(t)
	f.payments.repo.outboxErr = errors.New("postgres down")

	_, err := f.svc.SubmitPaymentDetails(ctx, "user-1", w.ID, checkout.PaymentDetailsForm{PaymentMethod: "mercadopago", TermsAccepted: true})
	require.Error(t, err)

	got, err := f.svc.Get(ctx, "user-1", w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WizardStatusInProgress, got.State.Status)
	assert.Nil(t, got.Data.PaymentDetails)
}

func TestCheckout_GatewayMethodAwaitsPayment(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	w := f.toPaymentStep(t)

	_, err := f.svc.Pay(ctx, "user-1", w.ID)
	assert.ErrorIs(t, err, ErrPaymentNotReady)

	w, err = f.svc.SubmitPaymentDetails(ctx, "user-1", w.ID, checkout.PaymentDetailsForm{PaymentMethod: "webpay", TermsAccepted: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StepPaymentDetails, w.State.Step)
	assert.Equal(t, domain.WizardStatusAwaitingPayment, w.State.Status)
	assert.Empty(t, f.payments.repo.outboxEvents())

	payment, err := f.svc.Pay(ctx, "user-1", w.ID)
	require.NoError(t, err)
	assert.Equal(t, "T1", payment.Token)
	assert.Equal(t, int64(2000), f.payments.gateway.lastCreate.Amount)
	assert.Len(t, f.payments.gateway.lastCreate.BuyOrder, maxBuyOrderLen)

	got, err := f.svc.Get(ctx, "user-1", w.ID)
	require.NoError(t, err)
	assert.Equal(t, "T1", got.PaymentToken)
}

func TestCheckout_OtherUserCannotSeeWizard(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	w, err := f.svc.Start(ctx, "user-1")
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, "user-2", w.ID)
	assert.ErrorIs(t, err, ErrCheckoutNotFound)

	_, err = f.svc.SubmitPersonalInfo(ctx, "user-2", w.ID, validPersonal)
	assert.ErrorIs(t, err, ErrCheckoutNotFound)

	_, err = f.svc.Get(ctx, "user-1", "missing")
	assert.ErrorIs(t, err, ErrCheckoutNotFound)
}

func TestCheckout_PayTwiceReusesOpenSession(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	w := f.toPaymentStep(t)
	_, err := f.svc.SubmitPaymentDetails(ctx, "user-1", w.ID, checkout.PaymentDetailsForm{PaymentMethod: "webpay", TermsAccepted: true})
	require.NoError(t, err)

	first, err := f.svc.Pay(ctx, "user-1", w.ID)
	require.NoError(t, err)
	again, err := f.svc.Pay(ctx, "user-1", w.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Token, again.Token)
	assert.Equal(t, first.BuyOrderID, again.BuyOrderID)
	assert.Equal(t, 1, f.payments.gateway.createCalls)

	// a changed total or a closed session needs a fresh transaction
	_, err = f.carts.svc.Do(ctx, "user-1", func(s *CartStore) error {
		return s.AddToCart(ctx, cable, 1)
	})
	require.NoError(t, err)
	f.payments.gateway.createResp = &webpay.CreateResponse{Token: "T2", URL: "https://gateway/init"}
	changed, err := f.svc.Pay(ctx, "user-1", w.ID)
	require.NoError(t, err)
	assert.Equal(t, "T2", changed.Token)
	assert.Equal(t, int64(2500), changed.Amount)

	require.NoError(t, f.payments.svc.Abort(ctx, "T2"))
	f.payments.gateway.createResp = &webpay.CreateResponse{Token: "T3", URL: "https://gateway/init"}
	reopened, err := f.svc.Pay(ctx, "user-1", w.ID)
	require.NoError(t, err)
	assert.Equal(t, "T3", reopened.Token)
	assert.Equal(t, 3, f.payments.gateway.createCalls)
}
