package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/bookstore/internal/domain"
	"github.com/example/bookstore/internal/infrastructure/store"
)

// MemStore is an in-memory implementation of store.TxManager and
// store.OutboxStore for testing. Transactions are serialized by a single
// mutex, which mirrors the exclusive-lock discipline of the real store, and
// every transaction runs against live state with a snapshot taken first so
// an error rolls all mutations back.
type MemStore struct {
	mu     sync.Mutex
	nextID int64

	Books   map[int64]*domain.Book
	Authors map[int64]*domain.Author
	Carts   map[int64]*domain.Cart
	Orders  map[int64]*domain.Order
	Outbox  []*domain.OutboxEvent
	Users   map[int64]*domain.User

	// ConflictsBeforeCommit makes that many transactions fail at commit
	// time with store.ErrSerialization after rolling back their work.
	ConflictsBeforeCommit int
	// FailTxErr, when set, fails every transaction up front.
	FailTxErr error
	// TxCount counts started transactions.
	TxCount int
}

func NewMemStore() *MemStore {
	return &MemStore{
		Books:   make(map[int64]*domain.Book),
		Authors: make(map[int64]*domain.Author),
		Carts:   make(map[int64]*domain.Cart),
		Orders:  make(map[int64]*domain.Order),
		Users:   make(map[int64]*domain.User),
	}
}

func (m *MemStore) WithTx(ctx context.Context, fn func(ctx context.Context, txn store.Txn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TxCount++
	if m.FailTxErr != nil {
		return m.FailTxErr
	}

	snap := m.snapshot()
	err := fn(ctx, &memTxn{m: m})
	if err == nil && m.ConflictsBeforeCommit > 0 {
		m.ConflictsBeforeCommit--
		err = fmt.Errorf("commit: %w", store.ErrSerialization)
	}
	if err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *MemStore) id() int64 {
	m.nextID++
	return m.nextID
}

// Seed helpers. They take the lock so tests can call them at any time.

func (m *MemStore) PutAuthor(a domain.Author) *domain.Author {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == 0 {
		a.ID = m.id()
	}
	m.Authors[a.ID] = &a
	return &a
}

func (m *MemStore) PutBook(b domain.Book) *domain.Book {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == 0 {
		b.ID = m.id()
	}
	m.Books[b.ID] = &b
	return &b
}

func (m *MemStore) PutUser(u domain.User) *domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == 0 {
		u.ID = m.id()
	}
	m.Users[u.ID] = &u
	return &u
}

func (m *MemStore) PutCart(c domain.Cart) *domain.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == 0 {
		c.ID = m.id()
	}
	m.Carts[c.ID] = &c
	return &c
}

func (m *MemStore) PutOrder(o domain.Order) *domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == 0 {
		o.ID = m.id()
	}
	m.Orders[o.ID] = &o
	return &o
}

// GetBook returns a copy for assertions.
func (m *MemStore) GetBook(id int64) domain.Book {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.Books[id]
}

// ActiveCart returns a copy of the user's active cart, or nil.
func (m *MemStore) ActiveCart(userID int64) *domain.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Carts {
		if c.UserID == userID && c.Active {
			cp := copyCart(c)
			return cp
		}
	}
	return nil
}

// OrderCount returns the number of stored orders.
func (m *MemStore) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Orders)
}

// OutboxEvents returns copies of all outbox rows.
func (m *MemStore) OutboxEvents() []domain.OutboxEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.OutboxEvent, len(m.Outbox))
	for i, e := range m.Outbox {
		out[i] = *e
	}
	return out
}

// store.OutboxStore implementation (relay side).

func (m *MemStore) FetchPending(ctx context.Context) ([]domain.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OutboxEvent
	for _, e := range m.Outbox {
		if e.Status == domain.OutboxPending {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemStore) MarkPublished(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Outbox {
		if e.ID == id {
			e.Status = domain.OutboxPublished
			return nil
		}
	}
	return fmt.Errorf("outbox event %d not found", id)
}

func (m *MemStore) MarkAttempt(ctx context.Context, id int64, attempts int, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Outbox {
		if e.ID == id {
			e.AttemptCount = attempts
			if terminal {
				e.Status = domain.OutboxFailed
			}
			return nil
		}
	}
	return fmt.Errorf("outbox event %d not found", id)
}

// Snapshot / restore.

type memSnapshot struct {
	nextID  int64
	books   map[int64]*domain.Book
	authors map[int64]*domain.Author
	carts   map[int64]*domain.Cart
	orders  map[int64]*domain.Order
	outbox  []*domain.OutboxEvent
	users   map[int64]*domain.User
}

func (m *MemStore) snapshot() memSnapshot {
	snap := memSnapshot{
		nextID:  m.nextID,
		books:   make(map[int64]*domain.Book, len(m.Books)),
		authors: make(map[int64]*domain.Author, len(m.Authors)),
		carts:   make(map[int64]*domain.Cart, len(m.Carts)),
		orders:  make(map[int64]*domain.Order, len(m.Orders)),
		users:   make(map[int64]*domain.User, len(m.Users)),
	}
	for id, b := range m.Books {
		cp := *b
		snap.books[id] = &cp
	}
	for id, a := range m.Authors {
		cp := *a
		snap.authors[id] = &cp
	}
	for id, c := range m.Carts {
		snap.carts[id] = copyCart(c)
	}
	for id, o := range m.Orders {
		snap.orders[id] = copyOrder(o)
	}
	for id, u := range m.Users {
		cp := *u
		snap.users[id] = &cp
	}
	for _, e := range m.Outbox {
		cp := *e
		snap.outbox = append(snap.outbox, &cp)
	}
	return snap
}

func (m *MemStore) restore(snap memSnapshot) {
	m.nextID = snap.nextID
	m.Books = snap.books
	m.Authors = snap.authors
	m.Carts = snap.carts
	m.Orders = snap.orders
	m.Outbox = snap.outbox
	m.Users = snap.users
}

func copyCart(c *domain.Cart) *domain.Cart {
	cp := *c
	cp.Lines = append([]domain.CartLine(nil), c.Lines...)
	return &cp
}

func copyOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return &cp
}

// memTxn implements store.Txn over the already-locked MemStore.
type memTxn struct {
	m *MemStore
}

func (t *memTxn) Books() store.BookStore       { return &memBooks{m: t.m} }
func (t *memTxn) Authors() store.AuthorStore   { return &memAuthors{m: t.m} }
func (t *memTxn) Carts() store.CartStore       { return &memCarts{m: t.m} }
func (t *memTxn) Orders() store.OrderStore     { return &memOrders{m: t.m} }
func (t *memTxn) Outbox() store.OutboxAppender { return &memOutbox{m: t.m} }
func (t *memTxn) Users() store.UserStore       { return &memUsers{m: t.m} }

type memBooks struct{ m *MemStore }

func (s *memBooks) Create(ctx context.Context, book *domain.Book) error {
	for _, b := range s.m.Books {
		if b.ISBN == book.ISBN {
			return fmt.Errorf("isbn %s: %w", book.ISBN, domain.ErrDuplicateISBN)
		}
	}
	book.ID = s.m.id()
	book.Version = 0
	book.CreatedAt = time.Now()
	book.UpdatedAt = book.CreatedAt
	if a, ok := s.m.Authors[book.AuthorID]; ok {
		book.AuthorName = a.Name
	}
	cp := *book
	s.m.Books[book.ID] = &cp
	return nil
}

func (s *memBooks) GetByID(ctx context.Context, id int64) (*domain.Book, error) {
	b, ok := s.m.Books[id]
	if !ok {
		return nil, fmt.Errorf("book %d: %w", id, domain.ErrBookNotFound)
	}
	cp := *b
	return &cp, nil
}

func (s *memBooks) FindByISBN(ctx context.Context, isbn string) (*domain.Book, error) {
	for _, b := range s.m.Books {
		if b.ISBN == isbn {
			cp := *b
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("isbn %s: %w", isbn, domain.ErrBookNotFound)
}

func (s *memBooks) List(ctx context.Context) ([]domain.Book, error) {
	var out []domain.Book
	for _, b := range s.m.Books {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memBooks) LockByIDs(ctx context.Context, ids []int64) ([]domain.Book, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var out []domain.Book
	for _, id := range sorted {
		if b, ok := s.m.Books[id]; ok {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (s *memBooks) UpdateStocks(ctx context.Context, books []domain.Book) error {
	for _, b := range books {
		cur, ok := s.m.Books[b.ID]
		if !ok {
			return fmt.Errorf("book %d: %w", b.ID, domain.ErrBookNotFound)
		}
		cur.Stock = b.Stock
		cur.Version++
		cur.UpdatedAt = time.Now()
	}
	return nil
}

type memAuthors struct{ m *MemStore }

func (s *memAuthors) Create(ctx context.Context, author *domain.Author) error {
	author.ID = s.m.id()
	author.CreatedAt = time.Now()
	cp := *author
	s.m.Authors[author.ID] = &cp
	return nil
}

func (s *memAuthors) GetByID(ctx context.Context, id int64) (*domain.Author, error) {
	a, ok := s.m.Authors[id]
	if !ok {
		return nil, fmt.Errorf("author %d: %w", id, domain.ErrAuthorNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *memAuthors) List(ctx context.Context) ([]domain.Author, error) {
	var out []domain.Author
	for _, a := range s.m.Authors {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type memCarts struct{ m *MemStore }

func (s *memCarts) active(userID int64) *domain.Cart {
	for _, c := range s.m.Carts {
		if c.UserID == userID && c.Active {
			return c
		}
	}
	return nil
}

func (s *memCarts) load(c *domain.Cart) *domain.Cart {
	cp := copyCart(c)
	for i := range cp.Lines {
		if b, ok := s.m.Books[cp.Lines[i].BookID]; ok {
			cp.Lines[i].Title = b.Title
			cp.Lines[i].UnitPrice = b.Price
		}
	}
	return cp
}

func (s *memCarts) GetActiveByUser(ctx context.Context, userID int64) (*domain.Cart, error) {
	c := s.active(userID)
	if c == nil {
		return nil, fmt.Errorf("user %d: %w", userID, domain.ErrNoActiveCart)
	}
	return s.load(c), nil
}

func (s *memCarts) LockActiveByUser(ctx context.Context, userID int64) (*domain.Cart, error) {
	return s.GetActiveByUser(ctx, userID)
}

func (s *memCarts) Create(ctx context.Context, userID int64) (*domain.Cart, error) {
	if s.active(userID) != nil {
		return nil, fmt.Errorf("active cart for user %d: %w", userID, store.ErrSerialization)
	}
	c := &domain.Cart{
		ID:        s.m.id(),
		UserID:    userID,
		Active:    true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.m.Carts[c.ID] = c
	return copyCart(c), nil
}

func (s *memCarts) ReplaceLines(ctx context.Context, cartID int64, lines []domain.CartLine) error {
	c, ok := s.m.Carts[cartID]
	if !ok {
		return fmt.Errorf("cart %d: %w", cartID, domain.ErrNoActiveCart)
	}
	c.Lines = nil
	for _, line := range lines {
		line.ID = s.m.id()
		c.Lines = append(c.Lines, line)
	}
	c.UpdatedAt = time.Now()
	return nil
}

func (s *memCarts) DeleteLine(ctx context.Context, cartID, lineID int64) error {
	c, ok := s.m.Carts[cartID]
	if !ok {
		return fmt.Errorf("cart %d: %w", cartID, domain.ErrNoActiveCart)
	}
	kept := c.Lines[:0]
	for _, line := range c.Lines {
		if line.ID != lineID {
			kept = append(kept, line)
		}
	}
	c.Lines = kept
	c.UpdatedAt = time.Now()
	return nil
}

func (s *memCarts) ClearLines(ctx context.Context, cartID int64) error {
	return s.ReplaceLines(ctx, cartID, nil)
}

func (s *memCarts) Deactivate(ctx context.Context, cartID int64) error {
	c, ok := s.m.Carts[cartID]
	if !ok {
		return fmt.Errorf("cart %d: %w", cartID, domain.ErrNoActiveCart)
	}
	c.Active = false
	c.UpdatedAt = time.Now()
	return nil
}

type memOrders struct{ m *MemStore }

func (s *memOrders) Create(ctx context.Context, order *domain.Order) error {
	order.ID = s.m.id()
	order.CreatedAt = time.Now()
	for i := range order.Lines {
		order.Lines[i].ID = s.m.id()
	}
	s.m.Orders[order.ID] = copyOrder(order)
	return nil
}

func (s *memOrders) byNumber(number string) *domain.Order {
	for _, o := range s.m.Orders {
		if o.Number == number {
			return o
		}
	}
	return nil
}

func (s *memOrders) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	o := s.byNumber(number)
	if o == nil {
		return nil, fmt.Errorf("order %s: %w", number, domain.ErrOrderNotFound)
	}
	return copyOrder(o), nil
}

func (s *memOrders) LockByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return s.GetByNumber(ctx, number)
}

func (s *memOrders) ListByUser(ctx context.Context, userID int64) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range s.m.Orders {
		if o.UserID == userID {
			out = append(out, *copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memOrders) UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error {
	o, ok := s.m.Orders[orderID]
	if !ok {
		return fmt.Errorf("order %d: %w", orderID, domain.ErrOrderNotFound)
	}
	o.Status = status
	return nil
}

type memOutbox struct{ m *MemStore }

func (s *memOutbox) Append(ctx context.Context, event *domain.OutboxEvent) error {
	event.ID = s.m.id()
	event.Status = domain.OutboxPending
	event.CreatedAt = time.Now()
	cp := *event
	s.m.Outbox = append(s.m.Outbox, &cp)
	return nil
}

type memUsers struct{ m *MemStore }

func (s *memUsers) Create(ctx context.Context, user *domain.User) error {
	user.ID = s.m.id()
	user.CreatedAt = time.Now()
	cp := *user
	s.m.Users[user.ID] = &cp
	return nil
}

func (s *memUsers) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	u, ok := s.m.Users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, domain.ErrUserNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *memUsers) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	for _, u := range s.m.Users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", email, domain.ErrUserNotFound)
}
