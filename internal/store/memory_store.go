package store

import (
	"sync"
	"time"

	"github.com/fjod/macstore/internal/domain"
	"github.com/google/uuid"
)

const (
	DefaultSessionTTL = 30 * time.Minute
	CleanupInterval   = 30 * time.Second
)

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*WizardSession
	ttl      time.Duration
	now      func() time.Time

	stopCleanup chan struct{}
	wg          sync.WaitGroup
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	s := &MemoryStore{
		sessions:    make(map[string]*WizardSession),
		ttl:         ttl,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.cleanupLoop()

	return s
}

func (s *MemoryStore) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.expireSessions()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) expireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, session := range s.sessions {
		if session.IsExpired(now) {
			delete(s.sessions, id)
		}
	}
}

func (s *MemoryStore) Create(userID string) *WizardSession {
	now := s.now()
	session := &WizardSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		State:     domain.InitialWizardState(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return clone(session)
}

func (s *MemoryStore) Get(id string) (*WizardSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	if session.IsExpired(s.now()) {
		return nil, ErrSessionExpired
	}
	return clone(session), nil
}

// Update refreshes the expiry on every successful change.
func (s *MemoryStore) Update(id string, fn func(*WizardSession) error) (*WizardSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	now := s.now()
	if session.IsExpired(now) {
		return nil, ErrSessionExpired
	}

	working := clone(session)
	if err := fn(working); err != nil {
		return nil, err
	}
	working.ExpiresAt = now.Add(s.ttl)
	s.sessions[id] = working
	return clone(working), nil
}

func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Close stops the background cleanup and waits for it to finish
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	s.wg.Wait()
	return nil
}

func clone(w *WizardSession) *WizardSession {
	cp := *w
	if w.Data.PersonalInfo != nil {
		v := *w.Data.PersonalInfo
		cp.Data.PersonalInfo = &v
	}
	if w.Data.ShippingAddress != nil {
		v := *w.Data.ShippingAddress
		cp.Data.ShippingAddress = &v
	}
	if w.Data.PaymentDetails != nil {
		v := *w.Data.PaymentDetails
		cp.Data.PaymentDetails = &v
	}
	return &cp
}
