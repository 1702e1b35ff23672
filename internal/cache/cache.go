// Package cache keeps short-lived copies of cart snapshots in front of the
// MongoDB slot.
package cache

import (
	"context"
	"errors"

	"github.com/fjod/macstore/internal/domain"
)

// ErrCacheMiss means no copy is held for the user; callers read the slot.
var ErrCacheMiss = errors.New("cache miss")

// CartCache is a read-through copy of the cart snapshot slot. Entries are
// dropped on every write, never updated in place.
type CartCache interface {
	// Get returns ErrCacheMiss when nothing is cached for userID
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	Set(ctx context.Context, userID string, cart *domain.Cart) error
	Delete(ctx context.Context, userID string) error
}
