package service

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/fjod/macstore/internal/cache"
	"github.com/fjod/macstore/internal/domain"
	"github.com/fjod/macstore/internal/gateway/webpay"
	"github.com/fjod/macstore/internal/notify"
	"github.com/fjod/macstore/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockCartRepository struct {
	m       sync.RWMutex
	carts   map[string]*domain.Cart
	err     error
	saves   int
	deletes int

	// when set, the next GetCart takes its snapshot, signals readHeld and
	// waits for readGate before returning
	readGate chan struct{}
	readHeld chan struct{}
}

func newMockCartRepository() *mockCartRepository {
	return &mockCartRepository{carts: make(map[string]*domain.Cart)}
}

func (m *mockCartRepository) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	m.m.Lock()
	if m.err != nil {
		m.m.Unlock()
		return nil, m.err
	}
	var snapshot *domain.Cart
	if cart, ok := m.carts[userID]; ok {
		snapshot = cart.Clone()
	}
	gate, held := m.readGate, m.readHeld
	m.readGate, m.readHeld = nil, nil
	m.m.Unlock()

	if gate != nil {
		held <- struct{}{}
		<-gate
	}
	if snapshot == nil {
		return nil, repository.ErrCartNotFound
	}
	return snapshot, nil
}

func (m *mockCartRepository) holdNextRead() (held <-chan struct{}, release func()) {
	m.m.Lock()
	defer m.m.Unlock()
	gate, h := make(chan struct{}), make(chan struct{}, 1)
	m.readGate, m.readHeld = gate, h
	return h, func() { close(gate) }
}

func (m *mockCartRepository) SaveCart(_ context.Context, cart *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves++
	m.carts[cart.UserID] = cart.Clone()
	return nil
}

func (m *mockCartRepository) DeleteCart(_ context.Context, userID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	m.deletes++
	delete(m.carts, userID)
	return nil
}

func (m *mockCartRepository) stored(userID string) (*domain.Cart, bool) {
	m.m.RLock()
	defer m.m.RUnlock()
	c, ok := m.carts[userID]
	return c, ok
}

func (m *mockCartRepository) setErr(err error) {
	m.m.Lock()
	m.err = err
	m.m.Unlock()
}

// mockCache always misses and counts invalidations.
type mockCache struct {
	m           sync.Mutex
	invalidated []string
}

func (c *mockCache) Get(context.Context, string) (*domain.Cart, error) {
	return nil, cache.ErrCacheMiss
}

func (c *mockCache) Set(context.Context, string, *domain.Cart) error {
	return nil
}

func (c *mockCache) Delete(_ context.Context, userID string) error {
	c.m.Lock()
	defer c.m.Unlock()
	c.invalidated = append(c.invalidated, userID)
	return nil
}

// memoryCache keeps entries like Redis would.
type memoryCache struct {
	m       sync.Mutex
	entries map[string]*domain.Cart
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]*domain.Cart)}
}

func (c *memoryCache) Get(_ context.Context, userID string) (*domain.Cart, error) {
	c.m.Lock()
	defer c.m.Unlock()
	cart, ok := c.entries[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return cart.Clone(), nil
}

func (c *memoryCache) Set(_ context.Context, userID string, cart *domain.Cart) error {
	c.m.Lock()
	defer c.m.Unlock()
	c.entries[userID] = cart.Clone()
	return nil
}

func (c *memoryCache) Delete(_ context.Context, userID string) error {
	c.m.Lock()
	defer c.m.Unlock()
	delete(c.entries, userID)
	return nil
}

func (c *memoryCache) entry(userID string) (*domain.Cart, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	cart, ok := c.entries[userID]
	return cart, ok
}

type recordingNotifier struct {
	m       sync.Mutex
	notices []notify.Notice
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notice) {
	r.m.Lock()
	defer r.m.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recordingNotifier) all() []notify.Notice {
	r.m.Lock()
	defer r.m.Unlock()
	return append([]notify.Notice(nil), r.notices...)
}

func (r *recordingNotifier) count(level notify.Level, msg string) int {
	n := 0
	for _, notice := range r.all() {
		if notice.Level == level && notice.Message == msg {
			n++
		}
	}
	return n
}

type mockGateway struct {
	m           sync.Mutex
	createResp  *webpay.CreateResponse
	createErr   error
	commitResp  *webpay.CommitResponse
	commitErr   error
	createCalls int
	commitCalls int
	lastCreate  webpay.CreateRequest
	commitGate  chan struct{}
	commitHeld  chan struct{} // signalled before waiting on commitGate
}

func (g *mockGateway) CreateTransaction(_ context.Context, req webpay.CreateRequest) (*webpay.CreateResponse, error) {
	g.m.Lock()
	defer g.m.Unlock()
	g.createCalls++
	g.lastCreate = req
	if g.createErr != nil {
		return nil, g.createErr
	}
	return g.createResp, nil
}

func (g *mockGateway) CommitTransaction(_ context.Context, _ string) (*webpay.CommitResponse, error) {
	if g.commitGate != nil {
		if g.commitHeld != nil {
			g.commitHeld <- struct{}{}
		}
		<-g.commitGate
	}
	g.m.Lock()
	defer g.m.Unlock()
	g.commitCalls++
	if g.commitErr != nil {
		return nil, g.commitErr
	}
	resp := *g.commitResp
	return &resp, nil
}

func (g *mockGateway) commits() int {
	g.m.Lock()
	defer g.m.Unlock()
	return g.commitCalls
}

type storedSession struct {
	session      domain.PaymentSession
	confirmation *domain.PaymentConfirmation
	cartCleared  bool
}

type mockPaymentRepository struct {
	m         sync.Mutex
	sessions  map[string]*storedSession
	events    []*repository.OutboxEvent
	createErr error
	outboxErr error
}

func newMockPaymentRepository() *mockPaymentRepository {
	return &mockPaymentRepository{sessions: make(map[string]*storedSession)}
}

func (r *mockPaymentRepository) CreatePaymentSession(_ context.Context, s *domain.PaymentSession) error {
	r.m.Lock()
	defer r.m.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.sessions[s.Token] = &storedSession{session: *s}
	return nil
}

func (r *mockPaymentRepository) GetPaymentSession(_ context.Context, token string) (*domain.PaymentSession, *domain.PaymentConfirmation, error) {
	r.m.Lock()
	defer r.m.Unlock()
	st, ok := r.sessions[token]
	if !ok {
		return nil, nil, repository.ErrPaymentSessionNotFound
	}
	s := st.session
	if st.confirmation == nil {
		return &s, nil, nil
	}
	c := *st.confirmation
	return &s, &c, nil
}

func (r *mockPaymentRepository) GetPaymentSessionByBuyOrder(_ context.Context, buyOrder string) (*domain.PaymentSession, error) {
	r.m.Lock()
	defer r.m.Unlock()
	for _, st := range r.sessions {
		if st.session.BuyOrderID == buyOrder {
			s := st.session
			return &s, nil
		}
	}
	return nil, repository.ErrPaymentSessionNotFound
}

func (r *mockPaymentRepository) RecordConfirmation(_ context.Context, token string, c *domain.PaymentConfirmation,
	status domain.PaymentSessionStatus, event *repository.OutboxEvent) (bool, error) {
	r.m.Lock()
	defer r.m.Unlock()
	st, ok := r.sessions[token]
	if !ok || st.confirmation != nil {
		return false, nil
	}
	cp := *c
	st.confirmation = &cp
	st.session.Status = status
	if event != nil {
		r.events = append(r.events, event)
	}
	return true, nil
}

func (r *mockPaymentRepository) MarkAborted(_ context.Context, token string) error {
	r.m.Lock()
	defer r.m.Unlock()
	if st, ok := r.sessions[token]; ok && st.session.Status == domain.PaymentSessionCreated {
		st.session.Status = domain.PaymentSessionAborted
	}
	return nil
}

func (r *mockPaymentRepository) ClaimCartClear(_ context.Context, token string) (bool, error) {
	r.m.Lock()
	defer r.m.Unlock()
	st, ok := r.sessions[token]
	if !ok || st.session.Status != domain.PaymentSessionApproved || st.cartCleared {
		return false, nil
	}
	st.cartCleared = true
	return true, nil
}

func (r *mockPaymentRepository) ReleaseCartClear(_ context.Context, token string) error {
	r.m.Lock()
	defer r.m.Unlock()
	if st, ok := r.sessions[token]; ok {
		st.cartCleared = false
	}
	return nil
}

func (r *mockPaymentRepository) setStatus(token string, status domain.PaymentSessionStatus) {
	r.m.Lock()
	defer r.m.Unlock()
	if st, ok := r.sessions[token]; ok {
		st.session.Status = status
	}
}

func (r *mockPaymentRepository) InsertOutboxEvent(_ context.Context, event *repository.OutboxEvent) error {
	r.m.Lock()
	defer r.m.Unlock()
	if r.outboxErr != nil {
		return r.outboxErr
	}
	r.events = append(r.events, event)
	return nil
}

func (r *mockPaymentRepository) outboxEvents() []*repository.OutboxEvent {
	r.m.Lock()
	defer r.m.Unlock()
	return append([]*repository.OutboxEvent(nil), r.events...)
}

func (r *mockPaymentRepository) status(token string) domain.PaymentSessionStatus {
	r.m.Lock()
	defer r.m.Unlock()
	if st, ok := r.sessions[token]; ok {
		return st.session.Status
	}
	return ""
}
