package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/bookstore/internal/domain"
	"github.com/example/bookstore/internal/infrastructure/store"
	"github.com/example/bookstore/internal/retry"
)

// Engine converts a locked cart into a confirmed order. Each attempt is one
// database transaction: cart lock, bulk book locks, stock re-validation,
// decrement, order insert and the CART_DEACTIVATED outbox row all commit or
// roll back together. Write conflicts retry the whole attempt; business
// failures surface immediately.
type Engine struct {
	txm store.TxManager

	policy retry.Policy

	// notify nudges the outbox relay after a successful commit. Advisory
	// only; the relay polls regardless.
	notify func()
}

func NewEngine(txm store.TxManager, notify func()) *Engine {
	return &Engine{
		txm:    txm,
		policy: retry.Exponential(5, 100*time.Millisecond),
		notify: notify,
	}
}

// Checkout converts the user's active cart into a CONFIRMED order.
func (e *Engine) Checkout(ctx context.Context, userID int64) (*domain.Order, error) {
	var order *domain.Order

	err := retry.Do(ctx, e.policy, store.IsConflict, func() error {
		var err error
		order, err = e.attempt(ctx, userID)
		if store.IsConflict(err) {
			log.Printf("[Checkout] Write conflict for user %d, retrying: %v", userID, err)
		}
		return err
	})
	if err != nil {
		if store.IsConflict(err) {
			log.Printf("[Checkout] Retry budget exhausted for user %d", userID)
			return nil, domain.ErrCheckoutConflict
		}
		return nil, err
	}

	if e.notify != nil {
		e.notify()
	}
	log.Printf("[Checkout] Order %s created for user %d (total %s)", order.Number, userID, order.Total)
	return order, nil
}

func (e *Engine) attempt(ctx context.Context, userID int64) (*domain.Order, error) {
	var order *domain.Order

	err := e.txm.WithTx(ctx, func(ctx context.Context, txn store.Txn) error {
		cart, err := txn.Carts().LockActiveByUser(ctx, userID)
		if err != nil {
			if errors.Is(err, domain.ErrNoActiveCart) {
				return domain.ErrEmptyCart
			}
			return err
		}
		if len(cart.Lines) == 0 {
			return domain.ErrEmptyCart
		}

		// Lock every referenced book in one ordered statement. Each
		// checkout acquires its full book set atomically, so two checkouts
		// over overlapping sets cannot deadlock on lock order.
		books, err := txn.Books().LockByIDs(ctx, cart.BookIDs())
		if err != nil {
			return err
		}
		byID := make(map[int64]*domain.Book, len(books))
		for i := range books {
			byID[books[i].ID] = &books[i]
		}

		lines := make([]domain.OrderLine, 0, len(cart.Lines))
		total := decimal.Zero
		for _, line := range cart.Lines {
			book, ok := byID[line.BookID]
			if !ok {
				return fmt.Errorf("book %d: %w", line.BookID, domain.ErrBookNotFound)
			}
			// Validate against the just-locked stock, never a cached value.
			if book.Stock < line.Quantity {
				return &domain.InsufficientStockError{
					BookID:    book.ID,
					Title:     book.Title,
					Available: book.Stock,
					Requested: line.Quantity,
				}
			}
			book.Stock -= line.Quantity

			subtotal := book.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
			lines = append(lines, domain.OrderLine{
				BookID:    book.ID,
				Title:     book.Title,
				Quantity:  line.Quantity,
				UnitPrice: book.Price,
				Subtotal:  subtotal,
			})
			total = total.Add(subtotal)
		}

		if err := txn.Books().UpdateStocks(ctx, books); err != nil {
			return err
		}

		order = &domain.Order{
			Number: newOrderNumber(),
			UserID: userID,
			Status: domain.OrderConfirmed,
			Lines:  lines,
			Total:  total,
		}
		if err := txn.Orders().Create(ctx, order); err != nil {
			return err
		}

		// Cart deactivation happens out-of-band via this event, never
		// inline: checkout latency stays independent of the transport.
		payload, err := json.Marshal(domain.CartDeactivatedPayload{
			UserID:      userID,
			CartID:      cart.ID,
			OrderNumber: order.Number,
		})
		if err != nil {
			return fmt.Errorf("marshal cart deactivation payload: %w", err)
		}
		return txn.Outbox().Append(ctx, &domain.OutboxEvent{
			AggregateType: domain.AggregateCart,
			AggregateID:   strconv.FormatInt(cart.ID, 10),
			EventType:     domain.EventCartDeactivated,
			Payload:       payload,
		})
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// newOrderNumber builds a globally unique, human-traceable order number
// from a random component and a timestamp component. Not reused across
// retries: each attempt generates a fresh one.
func newOrderNumber() string {
	random := strings.ToUpper(uuid.NewString()[:8])
	return fmt.Sprintf("ORD-%s-%d", random, time.Now().UnixMilli())
}
