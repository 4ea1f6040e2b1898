package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/example/bookstore/internal/domain"
)

// PGCartStore persists carts and their lines in PostgreSQL. A partial
// unique index on (user_id) WHERE is_active enforces the one-active-cart
// invariant at the database level.
type PGCartStore struct {
	q DBTX
}

func (s *PGCartStore) GetActiveByUser(ctx context.Context, userID int64) (*domain.Cart, error) {
	return s.activeByUser(ctx, userID, false)
}

func (s *PGCartStore) LockActiveByUser(ctx context.Context, userID int64) (*domain.Cart, error) {
	return s.activeByUser(ctx, userID, true)
}

func (s *PGCartStore) activeByUser(ctx context.Context, userID int64, lock bool) (*domain.Cart, error) {
	query := `SELECT id, user_id, is_active, created_at, updated_at
		 FROM carts WHERE user_id = $1 AND is_active`
	if lock {
		query += ` FOR UPDATE`
	}

	var c domain.Cart
	err := s.q.QueryRowContext(ctx, query, userID).
		Scan(&c.ID, &c.UserID, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", userID, domain.ErrNoActiveCart)
	}
	if err != nil {
		return nil, fmt.Errorf("get active cart: %w", err)
	}

	if err := s.loadLines(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PGCartStore) loadLines(ctx context.Context, cart *domain.Cart) error {
	rows, err := s.q.QueryContext(ctx,
		`SELECT cl.id, cl.book_id, cl.quantity, b.title, b.price
		 FROM cart_lines cl JOIN books b ON b.id = cl.book_id
		 WHERE cl.cart_id = $1
		 ORDER BY cl.id`,
		cart.ID)
	if err != nil {
		return fmt.Errorf("load cart lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(&line.ID, &line.BookID, &line.Quantity, &line.Title, &line.UnitPrice); err != nil {
			return fmt.Errorf("scan cart line: %w", err)
		}
		cart.Lines = append(cart.Lines, line)
	}
	return rows.Err()
}

func (s *PGCartStore) Create(ctx context.Context, userID int64) (*domain.Cart, error) {
	var c domain.Cart
	err := s.q.QueryRowContext(ctx,
		`INSERT INTO carts (user_id, is_active) VALUES ($1, TRUE)
		 RETURNING id, user_id, is_active, created_at, updated_at`,
		userID,
	).Scan(&c.ID, &c.UserID, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			// Lost the race against a concurrent get-or-create; the caller
			// retries and finds the winner's cart.
			return nil, fmt.Errorf("active cart for user %d: %w", userID, ErrSerialization)
		}
		return nil, fmt.Errorf("create cart: %w", err)
	}
	return &c, nil
}

func (s *PGCartStore) ReplaceLines(ctx context.Context, cartID int64, lines []domain.CartLine) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("clear cart lines: %w", err)
	}
	for _, line := range lines {
		if _, err := s.q.ExecContext(ctx,
			`INSERT INTO cart_lines (cart_id, book_id, quantity) VALUES ($1, $2, $3)`,
			cartID, line.BookID, line.Quantity,
		); err != nil {
			return fmt.Errorf("insert cart line: %w", err)
		}
	}
	return s.touch(ctx, cartID)
}

func (s *PGCartStore) DeleteLine(ctx context.Context, cartID, lineID int64) error {
	if _, err := s.q.ExecContext(ctx,
		`DELETE FROM cart_lines WHERE cart_id = $1 AND id = $2`, cartID, lineID,
	); err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	return s.touch(ctx, cartID)
}

func (s *PGCartStore) ClearLines(ctx context.Context, cartID int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("clear cart lines: %w", err)
	}
	return s.touch(ctx, cartID)
}

func (s *PGCartStore) Deactivate(ctx context.Context, cartID int64) error {
	if _, err := s.q.ExecContext(ctx,
		`UPDATE carts SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, cartID,
	); err != nil {
		return fmt.Errorf("deactivate cart: %w", err)
	}
	return nil
}

func (s *PGCartStore) touch(ctx context.Context, cartID int64) error {
	if _, err := s.q.ExecContext(ctx,
		`UPDATE carts SET updated_at = NOW() WHERE id = $1`, cartID,
	); err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}
	return nil
}
