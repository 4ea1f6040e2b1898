package cart

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/example/bookstore/internal/domain"
	"github.com/example/bookstore/internal/infrastructure/store"
	"github.com/example/bookstore/internal/retry"
)

// Line is a requested cart line: a book reference and a quantity.
type Line struct {
	BookID   int64 `json:"book_id"`
	Quantity int   `json:"quantity"`
}

// Manager owns the cart lifecycle. All mutations lock the cart row first
// and every referenced book in one bulk statement before validating, so a
// validated quantity cannot be invalidated mid-operation.
type Manager struct {
	txm store.TxManager

	// Conflicting edits are retried a few times before the caller is told
	// to try again.
	editPolicy retry.Policy
}

func NewManager(txm store.TxManager) *Manager {
	return &Manager{
		txm:        txm,
		editPolicy: retry.Fixed(3, 50*time.Millisecond),
	}
}

// GetOrCreateActive returns the user's active cart, creating an empty one
// on first access. Idempotent.
func (m *Manager) GetOrCreateActive(ctx context.Context, userID int64) (*domain.Cart, error) {
	var cart *domain.Cart
	err := retry.Do(ctx, m.editPolicy, store.IsConflict, func() error {
		return m.txm.WithTx(ctx, func(ctx context.Context, txn store.Txn) error {
			var err error
			cart, err = getOrCreate(ctx, txn, userID, false)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

func getOrCreate(ctx context.Context, txn store.Txn, userID int64, lock bool) (*domain.Cart, error) {
	var (
		cart *domain.Cart
		err  error
	)
	if lock {
		cart, err = txn.Carts().LockActiveByUser(ctx, userID)
	} else {
		cart, err = txn.Carts().GetActiveByUser(ctx, userID)
	}
	if errors.Is(err, domain.ErrNoActiveCart) {
		return txn.Carts().Create(ctx, userID)
	}
	return cart, err
}

// Edit replaces the cart's entire content with the requested lines: the
// request is the source of truth, lines omitted from it are dropped. Every
// referenced book is locked and validated before anything is written.
func (m *Manager) Edit(ctx context.Context, userID int64, lines []Line) (*domain.Cart, error) {
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("book %d: %w", line.BookID, domain.ErrInvalidQuantity)
		}
	}

	var cart *domain.Cart
	err := retry.Do(ctx, m.editPolicy, store.IsConflict, func() error {
		return m.txm.WithTx(ctx, func(ctx context.Context, txn store.Txn) error {
			locked, err := getOrCreate(ctx, txn, userID, true)
			if err != nil {
				return err
			}

			ids := make([]int64, 0, len(lines))
			for _, line := range lines {
				ids = append(ids, line.BookID)
			}

			books, err := txn.Books().LockByIDs(ctx, ids)
			if err != nil {
				return err
			}
			byID := make(map[int64]*domain.Book, len(books))
			for i := range books {
				byID[books[i].ID] = &books[i]
			}

			newLines := make([]domain.CartLine, 0, len(lines))
			for _, line := range lines {
				book, ok := byID[line.BookID]
				if !ok {
					return fmt.Errorf("book %d: %w", line.BookID, domain.ErrBookNotFound)
				}
				if book.Stock < line.Quantity {
					return &domain.InsufficientStockError{
						BookID:    book.ID,
						Title:     book.Title,
						Available: book.Stock,
						Requested: line.Quantity,
					}
				}
				newLines = append(newLines, domain.CartLine{
					BookID:    line.BookID,
					Quantity:  line.Quantity,
					Title:     book.Title,
					UnitPrice: book.Price,
				})
			}

			if err := txn.Carts().ReplaceLines(ctx, locked.ID, newLines); err != nil {
				return err
			}

			cart, err = txn.Carts().GetActiveByUser(ctx, userID)
			return err
		})
	})
	if err != nil {
		if store.IsConflict(err) {
			log.Printf("[Cart] Edit for user %d exhausted retries: %v", userID, err)
			return nil, domain.ErrConcurrentModification
		}
		return nil, err
	}

	log.Printf("[Cart] Cart %d overwritten for user %d with %d lines", cart.ID, userID, len(cart.Lines))
	return cart, nil
}

// RemoveLine deletes one line from the active cart. Removing a line that is
// no longer there is a no-op.
func (m *Manager) RemoveLine(ctx context.Context, userID, lineID int64) (*domain.Cart, error) {
	var cart *domain.Cart
	err := m.txm.WithTx(ctx, func(ctx context.Context, txn store.Txn) error {
		locked, err := txn.Carts().LockActiveByUser(ctx, userID)
		if err != nil {
			return err
		}
		if err := txn.Carts().DeleteLine(ctx, locked.ID, lineID); err != nil {
			return err
		}
		cart, err = txn.Carts().GetActiveByUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// Clear empties the active cart, creating one first if the user has none.
func (m *Manager) Clear(ctx context.Context, userID int64) error {
	return retry.Do(ctx, m.editPolicy, store.IsConflict, func() error {
		return m.txm.WithTx(ctx, func(ctx context.Context, txn store.Txn) error {
			locked, err := getOrCreate(ctx, txn, userID, true)
			if err != nil {
				return err
			}
			return txn.Carts().ClearLines(ctx, locked.ID)
		})
	})
}

// Deactivate retires the user's active cart and immediately replaces it
// with a fresh empty one. It runs after a confirmed checkout, triggered by
// the CART_DEACTIVATED event.
//
// cartID is the cart named in the event. Delivery is at-least-once, so when
// the active cart is already a different one the event was processed before
// and this call is a no-op. Pass zero to deactivate unconditionally.
func (m *Manager) Deactivate(ctx context.Context, userID, cartID int64) error {
	return m.txm.WithTx(ctx, func(ctx context.Context, txn store.Txn) error {
		cart, err := txn.Carts().LockActiveByUser(ctx, userID)
		if err != nil {
			return err
		}
		if cartID != 0 && cart.ID != cartID {
			log.Printf("[Cart] Skipping deactivation for user %d: cart %d already rotated (active is %d)",
				userID, cartID, cart.ID)
			return nil
		}

		if err := txn.Carts().Deactivate(ctx, cart.ID); err != nil {
			return err
		}
		fresh, err := txn.Carts().Create(ctx, userID)
		if err != nil {
			return err
		}

		log.Printf("[Cart] Deactivated cart %d and created cart %d for user %d", cart.ID, fresh.ID, userID)
		return nil
	})
}
