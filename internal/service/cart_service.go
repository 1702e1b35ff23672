package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjod/macstore/internal/cache"
	"github.com/fjod/macstore/internal/domain"
	"github.com/fjod/macstore/internal/notify"
	"github.com/fjod/macstore/internal/repository"
	"golang.org/x/sync/singleflight"
)

const cacheWriteTimeout = time.Second

// CartService owns the persisted cart slots. In-memory carts are handed out
// as CartStore values bound to one user.
type CartService struct {
	repo     repository.CartRepository
	cache    cache.CartCache
	notifier notify.Notifier
	log      *slog.Logger
	sfg      singleflight.Group
	locks    sync.Map // userID -> *sync.Mutex
	gens     sync.Map // userID -> *atomic.Uint64, bumped on every invalidation
}

func NewCartService(repo repository.CartRepository, cache cache.CartCache, notifier notify.Notifier, log *slog.Logger) *CartService {
	return &CartService{
		repo:     repo,
		cache:    cache,
		notifier: notifier,
		log:      log,
	}
}

// GetCart reads the user's snapshot, falling back to an empty cart when the
// slot is absent.
func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		gen := s.generation(userID).Load()

		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WarnContext(ctx, "cart cache get failed", "user_id", userID, "error", err)
		}

		cart, err = s.repo.GetCart(ctx, userID)
		if errors.Is(err, repository.ErrCartNotFound) {
			return domain.NewCart(userID), nil
		}
		if err != nil {
			return nil, fmt.Errorf("load cart: %w", err)
		}

		go s.fill(userID, gen, cart.Clone())

		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	// singleflight shares the value between callers
	return v.(*domain.Cart).Clone(), nil
}

// Load returns the in-memory cart of userID. An empty userID yields an
// anonymous store that rejects additions.
func (s *CartService) Load(ctx context.Context, userID string) (*CartStore, error) {
	store := &CartStore{svc: s, cart: domain.NewCart("")}
	if err := store.SwitchUser(ctx, userID); err != nil {
		return nil, err
	}
	return store, nil
}

// Do runs fn against a freshly loaded store while holding the user's cart
// lock, so mutations from concurrent requests of one user apply in order.
func (s *CartService) Do(ctx context.Context, userID string, fn func(*CartStore) error) (*domain.Cart, error) {
	if userID == "" {
		notify.Error(ctx, s.notifier, msgLoginRequired)
		return nil, ErrUnauthenticated
	}

	unlock := s.lock(userID)
	defer unlock()

	// writes start from the durable slot; the cache may lag behind it
	cart, err := s.readSlot(ctx, userID)
	if err != nil {
		return nil, err
	}
	store := &CartStore{svc: s, userID: userID, cart: cart}
	if err := fn(store); err != nil {
		return nil, err
	}
	return store.Snapshot(), nil
}

// ClearUserCart empties the slot of userID without going through a session
// store. The confirmation flow uses it after an approved payment.
func (s *CartService) ClearUserCart(ctx context.Context, userID string) error {
	unlock := s.lock(userID)
	defer unlock()

	return s.delete(ctx, userID)
}

func (s *CartService) readSlot(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return domain.NewCart(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	return cart, nil
}

// fill caches a snapshot read at generation gen. It is dropped when a save
// or delete happened after the read.
func (s *CartService) fill(userID string, gen uint64, snapshot *domain.Cart) {
	unlock := s.lock(userID)
	defer unlock()

	if s.generation(userID).Load() != gen {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
	defer cancel()
	if err := s.cache.Set(ctx, userID, snapshot); err != nil {
		s.log.Warn("cart cache set failed", "user_id", userID, "error", err)
	}
}

func (s *CartService) generation(userID string) *atomic.Uint64 {
	v, _ := s.gens.LoadOrStore(userID, new(atomic.Uint64))
	return v.(*atomic.Uint64)
}

func (s *CartService) lock(userID string) func() {
	v, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *CartService) save(ctx context.Context, cart *domain.Cart) error {
	if err := s.repo.SaveCart(ctx, cart); err != nil {
		s.log.ErrorContext(ctx, "cart save failed", "user_id", cart.UserID, "error", err)
		return fmt.Errorf("save cart: %w", err)
	}
	s.invalidate(ctx, cart.UserID)
	return nil
}

func (s *CartService) delete(ctx context.Context, userID string) error {
	if err := s.repo.DeleteCart(ctx, userID); err != nil {
		s.log.ErrorContext(ctx, "cart delete failed", "user_id", userID, "error", err)
		return fmt.Errorf("delete cart: %w", err)
	}
	s.invalidate(ctx, userID)
	return nil
}

// invalidate also drops cache fills of reads that started before it.
func (s *CartService) invalidate(ctx context.Context, userID string) {
	s.generation(userID).Add(1)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheWriteTimeout)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.WarnContext(ctx, "cart cache invalidate failed", "user_id", userID, "error", err)
	}
}
