package store

import (
	"errors"
	"time"

	"github.com/fjod/macstore/internal/domain"
)

var (
	ErrSessionNotFound = errors.New("checkout session not found")
	ErrSessionExpired  = errors.New("checkout session has expired")
)

// WizardSession is the page-lifetime state of one checkout wizard.
type WizardSession struct {
	ID           string              `json:"id"`
	UserID       string              `json:"-"`
	State        domain.WizardState  `json:"state"`
	Data         domain.CheckoutData `json:"data"`
	PaymentToken string              `json:"paymentToken,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
	ExpiresAt    time.Time           `json:"expiresAt"`
}

func (w *WizardSession) IsExpired(now time.Time) bool {
	return now.After(w.ExpiresAt)
}

// SessionStore holds wizard sessions. Nothing in it survives a restart.
type SessionStore interface {
	// Create opens a session at step 1 for userID
	Create(userID string) *WizardSession

	// Get returns a copy of the session
	Get(id string) (*WizardSession, error)

	// Update applies fn to the stored session atomically. A non-nil error from
	// fn leaves the session untouched.
	Update(id string, fn func(*WizardSession) error) (*WizardSession, error)

	Delete(id string)

	// Close shuts down the store and any background processes
	Close() error
}
