package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/fjod/macstore/internal/domain"
	"github.com/fjod/macstore/internal/notify"
)

// CartStore is the in-memory cart of the current user identity. Every
// mutation writes the complete snapshot back to the user's slot.
type CartStore struct {
	svc *CartService

	mu     sync.Mutex
	userID string
	cart   *domain.Cart
}

func (c *CartStore) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Snapshot returns a copy of the current cart.
func (c *CartStore) Snapshot() *domain.Cart {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cart.Clone()
}

func (c *CartStore) TotalItems() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cart.TotalItems()
}

func (c *CartStore) TotalPrice() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cart.TotalPrice()
}

// AddToCart requires an identified user. A non-positive quantity counts as 1.
func (c *CartStore) AddToCart(ctx context.Context, item domain.CartLineItem, quantity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.userID == "" {
		notify.Error(ctx, c.svc.notifier, msgLoginRequired)
		return ErrUnauthenticated
	}
	if quantity <= 0 {
		quantity = 1
	}

	c.cart.Add(item, quantity)
	if err := c.persist(ctx); err != nil {
		return err
	}
	notify.Success(ctx, c.svc.notifier, fmt.Sprintf(msgItemAdded, item.Name))
	return nil
}

// RemoveFromCart drops the line with id. Removing an absent id succeeds.
func (c *CartStore) RemoveFromCart(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cart.Remove(id)
	if err := c.persist(ctx); err != nil {
		return err
	}
	notify.Success(ctx, c.svc.notifier, msgItemRemoved)
	return nil
}

// UpdateQuantity ignores quantities below 1 and leaves the cart untouched.
func (c *CartStore) UpdateQuantity(ctx context.Context, id string, quantity int) error {
	if quantity < 1 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cart.SetQuantity(id, quantity) {
		return nil
	}
	return c.persist(ctx)
}

// ClearCart empties the cart and removes the persisted slot.
func (c *CartStore) ClearCart(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cart = domain.NewCart(c.userID)
	if c.userID != "" {
		if err := c.svc.delete(ctx, c.userID); err != nil {
			notify.Error(ctx, c.svc.notifier, msgCartSaveFailed)
			return err
		}
	}
	notify.Success(ctx, c.svc.notifier, msgCartCleared)
	return nil
}

// SwitchUser replaces the in-memory cart with the snapshot of userID. An
// empty userID models logout: memory is cleared, the old slot is kept.
func (c *CartStore) SwitchUser(ctx context.Context, userID string) error {
	if userID == "" {
		c.mu.Lock()
		c.userID = ""
		c.cart = domain.NewCart("")
		c.mu.Unlock()
		return nil
	}

	cart, err := c.svc.GetCart(ctx, userID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.userID = userID
	c.cart = cart
	c.mu.Unlock()
	return nil
}

// persist must be called with mu held.
func (c *CartStore) persist(ctx context.Context) error {
	if c.userID == "" {
		return nil
	}
	c.cart.UserID = c.userID
	if err := c.svc.save(ctx, c.cart.Clone()); err != nil {
		notify.Error(ctx, c.svc.notifier, msgCartSaveFailed)
		return err
	}
	return nil
}
