package order

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bookstore/internal/domain"
	"github.com/example/bookstore/internal/infrastructure/store/mocks"
)

func seedOrder(mem *mocks.MemStore, number string, userID int64, status domain.OrderStatus, bookID int64, qty int) *domain.Order {
	return mem.PutOrder(domain.Order{
		Number: number,
		UserID: userID,
		Status: status,
		Lines: []domain.OrderLine{{
			BookID:    bookID,
			Quantity:  qty,
			UnitPrice: decimal.RequireFromString("10.00"),
			Subtotal:  decimal.RequireFromString("10.00").Mul(decimal.NewFromInt(int64(qty))),
		}},
		Total: decimal.RequireFromString("10.00").Mul(decimal.NewFromInt(int64(qty))),
	})
}

func TestGetByNumber(t *testing.T) {
	mem := mocks.NewMemStore()
	book := mem.PutBook(domain.Book{Title: "Book", Price: decimal.RequireFromString("10.00"), Stock: 5})
	seedOrder(mem, "ORD-AAAA0001-1", 1, domain.OrderConfirmed, book.ID, 1)

	svc := NewService(mem)

	order, err := svc.GetByNumber(context.Background(), "ORD-AAAA0001-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderConfirmed, order.Status)

	_, err = svc.GetByNumber(context.Background(), "ORD-MISSING-1")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestListByUser(t *testing.T) {
	mem := mocks.NewMemStore()
	book := mem.PutBook(domain.Book{Title: "Book", Price: decimal.RequireFromString("10.00"), Stock: 5})
	seedOrder(mem, "ORD-AAAA0001-1", 1, domain.OrderConfirmed, book.ID, 1)
	seedOrder(mem, "ORD-AAAA0002-1", 1, domain.OrderShipped, book.ID, 1)
	seedOrder(mem, "ORD-BBBB0001-1", 2, domain.OrderConfirmed, book.ID, 1)

	svc := NewService(mem)
	orders, err := svc.ListByUser(context.Background(), 1)

	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestCancel_RestoresStock(t *testing.T) {
	mem := mocks.NewMemStore()
	book := mem.PutBook(domain.Book{Title: "Book", Price: decimal.RequireFromString("10.00"), Stock: 3})
	seedOrder(mem, "ORD-AAAA0001-1", 1, domain.OrderConfirmed, book.ID, 2)

	svc := NewService(mem)
	order, err := svc.Cancel(context.Background(), "ORD-AAAA0001-1")

	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, order.Status)
	assert.Equal(t, 5, mem.GetBook(book.ID).Stock)
}

func TestCancel_RejectsTerminalStatuses(t *testing.T) {
	mem := mocks.NewMemStore()
	book := mem.PutBook(domain.Book{Title: "Book", Price: decimal.RequireFromString("10.00"), Stock: 3})

	for i, status := range []domain.OrderStatus{
		domain.OrderShipped,
		domain.OrderDelivered,
		domain.OrderCancelled,
	} {
		number := seedOrder(mem, "ORD-AAAA000"+string(rune('1'+i))+"-1", 1, status, book.ID, 2).Number

		svc := NewService(mem)
		_, err := svc.Cancel(context.Background(), number)

		assert.ErrorIs(t, err, domain.ErrOrderNotCancellable, "status %s", status)
	}

	// No stock came back from any rejected cancel.
	assert.Equal(t, 3, mem.GetBook(book.ID).Stock)
}

func TestCancel_SecondCancelRejected(t *testing.T) {
	mem := mocks.NewMemStore()
	book := mem.PutBook(domain.Book{Title: "Book", Price: decimal.RequireFromString("10.00"), Stock: 0})
	seedOrder(mem, "ORD-AAAA0001-1", 1, domain.OrderConfirmed, book.ID, 1)

	svc := NewService(mem)

	_, err := svc.Cancel(context.Background(), "ORD-AAAA0001-1")
	require.NoError(t, err)
	assert.Equal(t, 1, mem.GetBook(book.ID).Stock)

	// The status re-check under the order lock makes a second cancel fail
	// instead of restoring stock twice.
	_, err = svc.Cancel(context.Background(), "ORD-AAAA0001-1")
	assert.ErrorIs(t, err, domain.ErrOrderNotCancellable)
	assert.Equal(t, 1, mem.GetBook(book.ID).Stock)
}

func TestCancel_UnknownOrder(t *testing.T) {
	mem := mocks.NewMemStore()
	svc := NewService(mem)

	_, err := svc.Cancel(context.Background(), "ORD-MISSING-1")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestCancel_RetriesConflicts(t *testing.T) {
	mem := mocks.NewMemStore()
	book := mem.PutBook(domain.Book{Title: "Book", Price: decimal.RequireFromString("10.00"), Stock: 0})
	seedOrder(mem, "ORD-AAAA0001-1", 1, domain.OrderConfirmed, book.ID, 1)
	mem.ConflictsBeforeCommit = 1

	svc := NewService(mem)
	order, err := svc.Cancel(context.Background(), "ORD-AAAA0001-1")

	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, order.Status)
	assert.Equal(t, 1, mem.GetBook(book.ID).Stock)
}
