package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/macstore/internal/domain"
	"github.com/fjod/macstore/internal/money"
	"github.com/fjod/macstore/internal/notify"
	"github.com/fjod/macstore/internal/service"
	"github.com/go-chi/chi/v5"
)

const maxLineQuantity = 99

type CartOperator interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	Do(ctx context.Context, userID string, fn func(*service.CartStore) error) (*domain.Cart, error)
}

type CartHandler struct {
	carts   CartOperator
	timeout time.Duration
}

func NewCartHandler(carts CartOperator, timeout time.Duration) *CartHandler {
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
	}
}

type AddItemRequestDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
	Image    string `json:"image"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type CartResponse struct {
	UserID              string                `json:"userId,omitempty"`
	Items               []domain.CartLineItem `json:"items"`
	TotalItems          int                   `json:"totalItems"`
	TotalPrice          int64                 `json:"totalPrice"`
	TotalPriceFormatted string                `json:"totalPriceFormatted"`
	Currency            string                `json:"currency"`
	Notices             []notify.Notice       `json:"notices,omitempty"`
}

func newCartResponse(ctx context.Context, cart *domain.Cart) CartResponse {
	return CartResponse{
		UserID:              cart.UserID,
		Items:               cart.Items,
		TotalItems:          cart.TotalItems(),
		TotalPrice:          cart.TotalPrice(),
		TotalPriceFormatted: money.FormatCLP(cart.TotalPrice()),
		Currency:            money.Currency,
		Notices:             drainNotices(ctx),
	}
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := UserIDFromContext(r.Context())
	if userID == "" {
		respondJSON(w, http.StatusOK, newCartResponse(ctx, domain.NewCart("")))
		return
	}

	cart, err := h.carts.GetCart(ctx, userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newCartResponse(ctx, cart))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		respondError(w, r, http.StatusBadRequest, "invalid_product_id", "id is required")
		return
	}
	if req.Price < 0 {
		respondError(w, r, http.StatusBadRequest, "invalid_price", "price must not be negative")
		return
	}
	if req.Quantity < 0 || req.Quantity > maxLineQuantity {
		respondError(w, r, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	item := domain.CartLineItem{ID: req.ID, Name: req.Name, Price: req.Price, Image: req.Image}
	cart, err := h.carts.Do(ctx, UserIDFromContext(r.Context()), func(s *service.CartStore) error {
		return s.AddToCart(ctx, item, req.Quantity)
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, newCartResponse(ctx, cart))
}

// UpdateQuantity leaves the cart unchanged for quantities below 1.
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := chi.URLParam(r, "id")
	var req UpdateQuantityRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity > maxLineQuantity {
		respondError(w, r, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	cart, err := h.carts.Do(ctx, UserIDFromContext(r.Context()), func(s *service.CartStore) error {
		return s.UpdateQuantity(ctx, id, req.Quantity)
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newCartResponse(ctx, cart))
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := chi.URLParam(r, "id")
	cart, err := h.carts.Do(ctx, UserIDFromContext(r.Context()), func(s *service.CartStore) error {
		return s.RemoveFromCart(ctx, id)
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newCartResponse(ctx, cart))
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.Do(ctx, UserIDFromContext(r.Context()), func(s *service.CartStore) error {
		return s.ClearCart(ctx)
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newCartResponse(ctx, cart))
}
