package domain

import (
	"errors"
	"fmt"
)

var (
	ErrBookNotFound   = errors.New("book not found")
	ErrAuthorNotFound = errors.New("author not found")
	ErrOrderNotFound  = errors.New("order not found")
	ErrUserNotFound   = errors.New("user not found")

	ErrEmptyCart       = errors.New("cart is empty")
	ErrNoActiveCart    = errors.New("no active cart")
	ErrInvalidQuantity = errors.New("quantity must be positive")

	ErrDuplicateISBN       = errors.New("isbn already exists")
	ErrOrderNotCancellable = errors.New("order can no longer be cancelled")

	// Conflict-ceiling errors: the caller may retry the whole operation.
	ErrConcurrentModification = errors.New("modified concurrently, try again")
	ErrCheckoutConflict       = errors.New("checkout hit concurrent modifications, try again")

	ErrInsufficientStock = errors.New("insufficient stock")
)

// InsufficientStockError names the offending book and quantities so the
// caller can act on it. It matches ErrInsufficientStock under errors.Is.
type InsufficientStockError struct {
	BookID    int64
	Title     string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for book %q (id=%d): available %d, requested %d",
		e.Title, e.BookID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
