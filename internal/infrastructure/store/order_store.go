package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/bookstore/internal/domain"
)

// PGOrderStore persists orders and their lines in PostgreSQL.
type PGOrderStore struct {
	q DBTX
}

func (s *PGOrderStore) Create(ctx context.Context, order *domain.Order) error {
	err := s.q.QueryRowContext(ctx,
		`INSERT INTO orders (order_number, user_id, status, total)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		order.Number, order.UserID, order.Status, order.Total,
	).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range order.Lines {
		line := &order.Lines[i]
		err := s.q.QueryRowContext(ctx,
			`INSERT INTO order_lines (order_id, book_id, title, quantity, unit_price, subtotal)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id`,
			order.ID, line.BookID, line.Title, line.Quantity, line.UnitPrice, line.Subtotal,
		).Scan(&line.ID)
		if err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}
	return nil
}

func (s *PGOrderStore) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return s.byNumber(ctx, number, false)
}

func (s *PGOrderStore) LockByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return s.byNumber(ctx, number, true)
}

func (s *PGOrderStore) byNumber(ctx context.Context, number string, lock bool) (*domain.Order, error) {
	query := `SELECT id, order_number, user_id, status, total, created_at
		 FROM orders WHERE order_number = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var o domain.Order
	err := s.q.QueryRowContext(ctx, query, number).
		Scan(&o.ID, &o.Number, &o.UserID, &o.Status, &o.Total, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", number, domain.ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}

	if err := s.loadLines(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PGOrderStore) loadLines(ctx context.Context, order *domain.Order) error {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, book_id, title, quantity, unit_price, subtotal
		 FROM order_lines WHERE order_id = $1 ORDER BY id`,
		order.ID)
	if err != nil {
		return fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ID, &line.BookID, &line.Title, &line.Quantity, &line.UnitPrice, &line.Subtotal); err != nil {
			return fmt.Errorf("scan order line: %w", err)
		}
		order.Lines = append(order.Lines, line)
	}
	return rows.Err()
}

func (s *PGOrderStore) ListByUser(ctx context.Context, userID int64) ([]domain.Order, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, order_number, user_id, status, total, created_at
		 FROM orders WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.Number, &o.UserID, &o.Status, &o.Total, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		if err := s.loadLines(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *PGOrderStore) UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error {
	if _, err := s.q.ExecContext(ctx,
		`UPDATE orders SET status = $1 WHERE id = $2`, status, orderID,
	); err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}
