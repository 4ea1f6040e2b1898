package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cart is a user's mutable line-item collection. A user has at most one
// cart with Active=true at any time; inactive carts are immutable history.
type Cart struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Active    bool       `json:"active"`
	Lines     []CartLine `json:"lines"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CartLine references a Book with a positive quantity. A line with
// quantity zero is removed, never stored.
type CartLine struct {
	ID       int64 `json:"id"`
	BookID   int64 `json:"book_id"`
	Quantity int   `json:"quantity"`

	// Denormalized from the referenced book when the cart is loaded.
	Title     string          `json:"title,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// BookIDs returns the distinct book ids referenced by the cart.
func (c *Cart) BookIDs() []int64 {
	seen := make(map[int64]bool, len(c.Lines))
	var ids []int64
	for _, line := range c.Lines {
		if !seen[line.BookID] {
			seen[line.BookID] = true
			ids = append(ids, line.BookID)
		}
	}
	return ids
}
