package store

import (
	"context"

	"github.com/example/bookstore/internal/domain"
)

// TxManager runs a function inside one database transaction. The Txn handle
// is only valid for the duration of the callback; any error return rolls
// the whole transaction back.
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txn Txn) error) error
}

// Txn exposes the per-transaction stores. Every store obtained from the
// same Txn shares the same underlying transaction.
type Txn interface {
	Books() BookStore
	Authors() AuthorStore
	Carts() CartStore
	Orders() OrderStore
	Outbox() OutboxAppender
	Users() UserStore
}

type BookStore interface {
	Create(ctx context.Context, book *domain.Book) error
	GetByID(ctx context.Context, id int64) (*domain.Book, error)
	List(ctx context.Context) ([]domain.Book, error)
	FindByISBN(ctx context.Context, isbn string) (*domain.Book, error)
	// LockByIDs acquires exclusive row locks on all given books in a single
	// statement, ordered by id so concurrent callers lock in the same order.
	LockByIDs(ctx context.Context, ids []int64) ([]domain.Book, error)
	// UpdateStocks persists new stock counts for all books in one bulk
	// statement, incrementing each row's version.
	UpdateStocks(ctx context.Context, books []domain.Book) error
}

type AuthorStore interface {
	Create(ctx context.Context, author *domain.Author) error
	GetByID(ctx context.Context, id int64) (*domain.Author, error)
	List(ctx context.Context) ([]domain.Author, error)
}

type CartStore interface {
	// GetActiveByUser returns the user's active cart with its lines, or
	// domain.ErrNoActiveCart.
	GetActiveByUser(ctx context.Context, userID int64) (*domain.Cart, error)
	// LockActiveByUser is GetActiveByUser with an exclusive lock on the
	// cart row, held until the transaction ends.
	LockActiveByUser(ctx context.Context, userID int64) (*domain.Cart, error)
	Create(ctx context.Context, userID int64) (*domain.Cart, error)
	// ReplaceLines swaps the cart's entire line collection.
	ReplaceLines(ctx context.Context, cartID int64, lines []domain.CartLine) error
	DeleteLine(ctx context.Context, cartID, lineID int64) error
	ClearLines(ctx context.Context, cartID int64) error
	Deactivate(ctx context.Context, cartID int64) error
}

type OrderStore interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByNumber(ctx context.Context, number string) (*domain.Order, error)
	// LockByNumber acquires an exclusive lock on the order row so status
	// checks and transitions are serialized.
	LockByNumber(ctx context.Context, number string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error
}

// OutboxAppender is the write half of the outbox, used inside domain
// transactions.
type OutboxAppender interface {
	Append(ctx context.Context, event *domain.OutboxEvent) error
}

// OutboxStore is the relay-facing half, used outside domain transactions.
type OutboxStore interface {
	// FetchPending returns PENDING events oldest first.
	FetchPending(ctx context.Context) ([]domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id int64) error
	// MarkAttempt records a failed delivery attempt; terminal flips the
	// event to FAILED.
	MarkAttempt(ctx context.Context, id int64, attempts int, terminal bool) error
}

type UserStore interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}
