package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/example/bookstore/internal/domain"
)

// CartDeactivator rotates a user's cart after checkout.
type CartDeactivator interface {
	Deactivate(ctx context.Context, userID, cartID int64) error
}

// ISBNFilter seeds the existence filter.
type ISBNFilter interface {
	Add(ctx context.Context, isbn string)
}

// Handler processes the bookstore's event topics. Both handlers are
// idempotent because delivery is at-least-once.
type Handler struct {
	carts  CartDeactivator
	filter ISBNFilter
}

func NewHandler(carts CartDeactivator, filter ISBNFilter) *Handler {
	return &Handler{carts: carts, filter: filter}
}

// HandleCartDeactivated retires the cart named in the event. A redelivered
// event finds the cart already rotated and no-ops; a user with no active
// cart at all is also treated as already processed.
func (h *Handler) HandleCartDeactivated(ctx context.Context, key, value []byte) error {
	var payload domain.CartDeactivatedPayload
	if err := json.Unmarshal(value, &payload); err != nil {
		return fmt.Errorf("unmarshal cart deactivated event: %w", err)
	}

	log.Printf("[Worker] Deactivating cart %d for user %d (order %s)",
		payload.CartID, payload.UserID, payload.OrderNumber)

	err := h.carts.Deactivate(ctx, payload.UserID, payload.CartID)
	if errors.Is(err, domain.ErrNoActiveCart) {
		log.Printf("[Worker] User %d has no active cart, event already processed", payload.UserID)
		return nil
	}
	return err
}

// HandleBookCreated seeds the existence filter with the new book's ISBN.
// Search indexing of the payload is handled by a separate consumer.
func (h *Handler) HandleBookCreated(ctx context.Context, key, value []byte) error {
	var payload domain.BookCreatedPayload
	if err := json.Unmarshal(value, &payload); err != nil {
		return fmt.Errorf("unmarshal book created event: %w", err)
	}
	if payload.ISBN == "" {
		log.Printf("[Worker] Book %d has no ISBN, skipping filter seed", payload.ID)
		return nil
	}

	h.filter.Add(ctx, payload.ISBN)
	log.Printf("[Worker] Seeded existence filter with ISBN %s (book %d)", payload.ISBN, payload.ID)
	return nil
}
