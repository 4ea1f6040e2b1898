package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderConfirmed  OrderStatus = "CONFIRMED"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderShipped    OrderStatus = "SHIPPED"
	OrderDelivered  OrderStatus = "DELIVERED"
	OrderCancelled  OrderStatus = "CANCELLED"
)

// Cancellable reports whether an order may still transition to CANCELLED.
// Shipped and delivered orders are past the point of no return.
func (s OrderStatus) Cancellable() bool {
	switch s {
	case OrderShipped, OrderDelivered, OrderCancelled:
		return false
	}
	return true
}

// Order is an immutable record of a completed checkout. Line unit prices
// are snapshots taken at checkout time and are never recomputed.
type Order struct {
	ID        int64           `json:"id"`
	Number    string          `json:"order_number"`
	UserID    int64           `json:"user_id"`
	Status    OrderStatus     `json:"status"`
	Lines     []OrderLine     `json:"lines"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
}

type OrderLine struct {
	ID        int64           `json:"id"`
	BookID    int64           `json:"book_id"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}
