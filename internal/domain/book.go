package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Book is a catalog item. Stock is never negative; Version is incremented
// on every successful mutation of the row.
type Book struct {
	ID          int64           `json:"id"`
	ISBN        string          `json:"isbn"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Genre       string          `json:"genre"`
	AuthorID    int64           `json:"author_id"`
	AuthorName  string          `json:"author_name"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Version     int             `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type Author struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
