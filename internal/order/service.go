package order

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/example/bookstore/internal/domain"
	"github.com/example/bookstore/internal/infrastructure/store"
	"github.com/example/bookstore/internal/retry"
)

// Service reads and cancels orders. Orders themselves are created only by
// the checkout engine.
type Service struct {
	txm store.TxManager

	cancelPolicy retry.Policy
}

func NewService(txm store.TxManager) *Service {
	return &Service{
		txm:          txm,
		cancelPolicy: retry.Fixed(3, 50*time.Millisecond),
	}
}

func (s *Service) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	var order *domain.Order
	err := s.txm.WithTx(ctx, func(ctx context.Context, txn store.Txn) error {
		var err error
		order, err = txn.Orders().GetByNumber(ctx, number)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) ListByUser(ctx context.Context, userID int64) ([]domain.Order, error) {
	var orders []domain.Order
	err := s.txm.WithTx(ctx, func(ctx context.Context, txn store.Txn) error {
		var err error
		orders, err = txn.Orders().ListByUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// Cancel transitions an order to CANCELLED and restores the stock of every
// line. The order row is locked first and its status re-checked under that
// lock, so two concurrent cancels cannot both restore stock.
func (s *Service) Cancel(ctx context.Context, number string) (*domain.Order, error) {
	var order *domain.Order

	err := retry.Do(ctx, s.cancelPolicy, store.IsConflict, func() error {
		return s.txm.WithTx(ctx, func(ctx context.Context, txn store.Txn) error {
			locked, err := txn.Orders().LockByNumber(ctx, number)
			if err != nil {
				return err
			}
			if !locked.Status.Cancellable() {
				return fmt.Errorf("order %s is %s: %w", number, locked.Status, domain.ErrOrderNotCancellable)
			}

			ids := make([]int64, 0, len(locked.Lines))
			seen := make(map[int64]bool, len(locked.Lines))
			for _, line := range locked.Lines {
				if !seen[line.BookID] {
					seen[line.BookID] = true
					ids = append(ids, line.BookID)
				}
			}

			books, err := txn.Books().LockByIDs(ctx, ids)
			if err != nil {
				return err
			}
			byID := make(map[int64]*domain.Book, len(books))
			for i := range books {
				byID[books[i].ID] = &books[i]
			}

			for _, line := range locked.Lines {
				book, ok := byID[line.BookID]
				if !ok {
					return fmt.Errorf("book %d: %w", line.BookID, domain.ErrBookNotFound)
				}
				book.Stock += line.Quantity
			}

			if err := txn.Books().UpdateStocks(ctx, books); err != nil {
				return err
			}
			if err := txn.Orders().UpdateStatus(ctx, locked.ID, domain.OrderCancelled); err != nil {
				return err
			}

			locked.Status = domain.OrderCancelled
			order = locked
			return nil
		})
	})
	if err != nil {
		if store.IsConflict(err) {
			return nil, domain.ErrConcurrentModification
		}
		return nil, err
	}

	log.Printf("[Order] Order %s cancelled, stock restored", number)
	return order, nil
}
