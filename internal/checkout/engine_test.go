package checkout

import (
	"context"
	"encoding/json"
	"regexp"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bookstore/internal/cart"
	"github.com/example/bookstore/internal/domain"
	"github.com/example/bookstore/internal/infrastructure/store/mocks"
)

var orderNumberPattern = regexp.MustCompile(`^ORD-[0-9A-F]{8}-\d+$`)

func fillCart(t *testing.T, mem *mocks.MemStore, userID int64, lines []cart.Line) {
	t.Helper()
	_, err := cart.NewManager(mem).Edit(context.Background(), userID, lines)
	require.NoError(t, err)
}

func TestCheckout_CreatesConfirmedOrder(t *testing.T) {
	mem := mocks.NewMemStore()
	book := mem.PutBook(domain.Book{
		Title: "The Go Programming Language",
		Price: decimal.RequireFromString("39.99"),
		Stock: 10,
	})
	fillCart(t, mem, 1, []cart.Line{{BookID: book.ID, Quantity: 2}})

	notified := 0
	engine := NewEngine(mem, func() { notified++ })

	order, err := engine.Checkout(context.Background(), 1)

	require.NoError(t, err)
	assert.Regexp(t, orderNumberPattern, order.Number)
	assert.Equal(t, domain.OrderConfirmed, order.Status)
	require.Len(t, order.Lines, 1)
	assert.Equal(t, 2, order.Lines[0].Quantity)
	assert.True(t, order.Lines[0].UnitPrice.Equal(decimal.RequireFromString("39.99")))
	assert.True(t, order.Total.Equal(decimal.RequireFromString("79.98")))

	// Stock decremented, relay nudged.
	assert.Equal(t, 8, mem.GetBook(book.ID).Stock)
	assert.Equal(t, 1, notified)
}

func TestCheckout_PriceSnapshotSurvivesLaterChanges(t *testing.T) {
	mem := mocks.NewMemStore()
	book := mem.PutBook(domain.Book{
		Title: "Snapshot Book",
		Price: decimal.RequireFromString("10.00"),
		Stock: 10,
	})
	fillCart(t, mem, 1, []cart.Line{{BookID: book.ID, Quantity: 1}})

	engine := NewEngine(mem, nil)
	order, err := engine.Checkout(context.Background(), 1)
	require.NoError(t, err)

	// Reprice the catalog entry after checkout; the order keeps the price
	// it was sold at.
	mem.Books[book.ID].Price = decimal.RequireFromString("99.99")
	assert.True(t, order.Lines[0].UnitPrice.Equal(decimal.RequireFromString("10.00")))
	assert.True(t, order.Total.Equal(decimal.RequireFromString("10.00")))
}

func TestCheckout_WritesOutboxRowInSameTransaction(t *testing.T) {
	mem := mocks.NewMemStore()
	book := mem.PutBook(domain.Book{
		Title: "Book",
		Price: decimal.RequireFromString("5.00"),
		Stock: 3,
	})
	fillCart(t, mem, 1, []cart.Line{{BookID: book.ID, Quantity: 1}})
	activeCart := mem.ActiveCart(1)

	engine := NewEngine(mem, nil)
	order, err := engine.Checkout(context.Background(), 1)
	require.NoError(t, err)

	events := mem.OutboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventCartDeactivated, events[0].EventType)
	assert.Equal(t, domain.AggregateCart, events[0].AggregateType)
	assert.Equal(t, domain.OutboxPending, events[0].Status)

	var payload domain.CartDeactivatedPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, int64(1), payload.UserID)
	assert.Equal(t, activeCart.ID, payload.CartID)
	assert.Equal(t, order.Number, payload.OrderNumber)

	// Cart deactivation is out-of-band: the cart is still active until the
	// event is consumed.
	assert.NotNil(t, mem.ActiveCart(1))
}

func TestCheckout_EmptyCart(t *testing.T) {
	mem := mocks.NewMemStore()
	engine := NewEngine(mem, nil)

	// No cart at all.
	_, err := engine.Checkout(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrEmptyCart)

	// Active cart with no lines.
	_, err = cart.NewManager(mem).GetOrCreateActive(context.Background(), 2)
	require.NoError(t, err)
	_, err = engine.Checkout(context.Background(), 2)
	assert.ErrorIs(t, err, domain.ErrEmptyCart)

	assert.Equal(t, 0, mem.OrderCount())
}

func TestCheckout_InsufficientStockRollsEverythingBack(t *testing.T) {
	mem := mocks.NewMemStore()
	a := mem.PutBook(domain.Book{
		Title: "Plentiful",
		Price: decimal.RequireFromString("5.00"),
		Stock: 100,
	})
	b := mem.PutBook(domain.Book{
		Title: "Scarce",
		Price: decimal.RequireFromString("50.00"),
		Stock: 5,
	})
	fillCart(t, mem, 1, []cart.Line{
		{BookID: a.ID, Quantity: 10},
		{BookID: b.ID, Quantity: 5},
	})
	// Stock validated at edit time can be gone by checkout time.
	mem.Books[b.ID].Stock = 3

	notified := 0
	engine := NewEngine(mem, func() { notified++ })
	_, err := engine.Checkout(context.Background(), 1)

	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, b.ID, stockErr.BookID)
	assert.Equal(t, 3, stockErr.Available)
	assert.Equal(t, 5, stockErr.Requested)

	// Nothing committed: no order, no outbox row, stock of the first book
	// untouched even though it was validated before the failure.
	assert.Equal(t, 0, mem.OrderCount())
	assert.Empty(t, mem.OutboxEvents())
	assert.Equal(t, 100, mem.GetBook(a.ID).Stock)
	assert.Equal(t, 0, notified)

	// Business failure is not retried.
	assert.Equal(t, 2, mem.TxCount) // cart edit + single checkout attempt
}

func TestCheckout_RetriesConflictsThenSucceeds(t *testing.T) {
	mem := mocks.NewMemStore()
	book := mem.PutBook(domain.Book{
		Title: "Book",
		Price: decimal.RequireFromString("5.00"),
		Stock: 10,
	})
	fillCart(t, mem, 1, []cart.Line{{BookID: book.ID, Quantity: 1}})
	mem.ConflictsBeforeCommit = 2

	engine := NewEngine(mem, nil)
	order, err := engine.Checkout(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, domain.OrderConfirmed, order.Status)
	assert.Equal(t, 9, mem.GetBook(book.ID).Stock)
	assert.Equal(t, 1, mem.OrderCount())
}

func TestCheckout_ConflictBudgetExhausted(t *testing.T) {
	mem := mocks.NewMemStore()
	book := mem.PutBook(domain.Book{
		Title: "Book",
		Price: decimal.RequireFromString("5.00"),
		Stock: 10,
	})
	fillCart(t, mem, 1, []cart.Line{{BookID: book.ID, Quantity: 1}})
	mem.ConflictsBeforeCommit = 100

	engine := NewEngine(mem, nil)
	_, err := engine.Checkout(context.Background(), 1)

	assert.ErrorIs(t, err, domain.ErrCheckoutConflict)
	assert.Equal(t, 0, mem.OrderCount())
	assert.Equal(t, 10, mem.GetBook(book.ID).Stock)
}

func TestCheckout_ConcurrentBuyersOfLastCopy(t *testing.T) {
	mem := mocks.NewMemStore()
	book := mem.PutBook(domain.Book{
		Title: "Last Copy",
		Price: decimal.RequireFromString("25.00"),
		Stock: 1,
	})
	fillCart(t, mem, 1, []cart.Line{{BookID: book.ID, Quantity: 1}})
	fillCart(t, mem, 2, []cart.Line{{BookID: book.ID, Quantity: 1}})

	engine := NewEngine(mem, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, userID := range []int64{1, 2} {
		wg.Add(1)
		go func(i int, userID int64) {
			defer wg.Done()
			_, errs[i] = engine.Checkout(context.Background(), userID)
		}(i, userID)
	}
	wg.Wait()

	// Exactly one buyer gets the copy; the other fails on stock, never on
	// an oversold count.
	var succeeded, failed int
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, domain.ErrInsufficientStock)
			failed++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 0, mem.GetBook(book.ID).Stock)
	assert.Equal(t, 1, mem.OrderCount())
}
