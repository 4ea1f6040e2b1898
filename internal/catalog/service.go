package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/example/bookstore/internal/domain"
	"github.com/example/bookstore/internal/filter"
	"github.com/example/bookstore/internal/infrastructure/store"
)

// ExistenceFilter is the catalog's view of the ISBN filter.
type ExistenceFilter interface {
	MightContain(ctx context.Context, isbn string) bool
	DefinitelyExists(ctx context.Context, isbn string) bool
}

// NewBook is a catalog entry request.
type NewBook struct {
	ISBN        string          `json:"isbn"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Genre       string          `json:"genre"`
	AuthorID    int64           `json:"author_id"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

// ISBNCheck is the diagnostic result of probing one ISBN through every
// layer of the duplicate gate.
type ISBNCheck struct {
	ISBN             string `json:"isbn"`
	Exists           bool   `json:"exists"`
	MightExist       bool   `json:"might_exist"`
	DefinitelyExists bool   `json:"definitely_exists"`
	FalsePositive    bool   `json:"false_positive"`
}

// Service manages books and authors. Creation is gated by the existence
// filter before the database is touched; the ISBN unique constraint remains
// the final authority.
type Service struct {
	txm    store.TxManager
	filter ExistenceFilter
}

func NewService(txm store.TxManager, f ExistenceFilter) *Service {
	return &Service{txm: txm, filter: f}
}

// CreateBook inserts a new book and its BOOK_CREATED outbox row in one
// transaction. Duplicate ISBNs are caught cheaply by the filter first, then
// by the unique constraint for anything the filter missed.
func (s *Service) CreateBook(ctx context.Context, req NewBook) (*domain.Book, error) {
	isbn := filter.Normalize(req.ISBN)
	if isbn == "" {
		return nil, fmt.Errorf("isbn is required: %w", domain.ErrDuplicateISBN)
	}

	if s.filter != nil && s.filter.DefinitelyExists(ctx, isbn) {
		log.Printf("[Catalog] Rejected duplicate ISBN %s via exact set", isbn)
		return nil, domain.ErrDuplicateISBN
	}

	book := &domain.Book{
		ISBN:        isbn,
		Title:       req.Title,
		Description: req.Description,
		Genre:       req.Genre,
		AuthorID:    req.AuthorID,
		Price:       req.Price,
		Stock:       req.Stock,
	}

	err := s.txm.WithTx(ctx, func(ctx context.Context, txn store.Txn) error {
		author, err := txn.Authors().GetByID(ctx, req.AuthorID)
		if err != nil {
			return err
		}

		// A bloom hit can be a false positive, so verify inside the
		// transaction before rejecting.
		if s.filter != nil && s.filter.MightContain(ctx, isbn) {
			if _, err := txn.Books().FindByISBN(ctx, isbn); err == nil {
				return domain.ErrDuplicateISBN
			} else if !errors.Is(err, domain.ErrBookNotFound) {
				return err
			}
		}

		if err := txn.Books().Create(ctx, book); err != nil {
			return err
		}
		book.AuthorName = author.Name

		payload, err := json.Marshal(domain.BookCreatedPayload{
			ID:          book.ID,
			ISBN:        book.ISBN,
			Title:       book.Title,
			Description: book.Description,
			Genre:       book.Genre,
			AuthorName:  author.Name,
			Price:       book.Price.String(),
			Stock:       book.Stock,
		})
		if err != nil {
			return fmt.Errorf("marshal book created payload: %w", err)
		}
		return txn.Outbox().Append(ctx, &domain.OutboxEvent{
			AggregateType: domain.AggregateBook,
			AggregateID:   strconv.FormatInt(book.ID, 10),
			EventType:     domain.EventBookCreated,
			Payload:       payload,
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Catalog] Created book %d (%s) by author %d", book.ID, book.ISBN, book.AuthorID)
	return book, nil
}

// CheckISBN probes an ISBN through the bloom filter, the database and the
// exact set, and reports where they disagree. Mainly an operational
// diagnostic for observing the filter's false positive rate.
func (s *Service) CheckISBN(ctx context.Context, isbn string) (*ISBNCheck, error) {
	isbn = filter.Normalize(isbn)
	check := &ISBNCheck{ISBN: isbn}
	if isbn == "" {
		return check, nil
	}

	if s.filter != nil {
		check.MightExist = s.filter.MightContain(ctx, isbn)
		check.DefinitelyExists = s.filter.DefinitelyExists(ctx, isbn)
	}

	if check.MightExist {
		err := s.txm.WithTx(ctx, func(ctx context.Context, txn store.Txn) error {
			_, err := txn.Books().FindByISBN(ctx, isbn)
			return err
		})
		switch {
		case err == nil:
			check.Exists = true
		case errors.Is(err, domain.ErrBookNotFound):
			check.FalsePositive = true
		default:
			return nil, err
		}
	}
	return check, nil
}

func (s *Service) GetBook(ctx context.Context, id int64) (*domain.Book, error) {
	var book *domain.Book
	err := s.txm.WithTx(ctx, func(ctx context.Context, txn store.Txn) error {
		var err error
		book, err = txn.Books().GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}

func (s *Service) ListBooks(ctx context.Context) ([]domain.Book, error) {
	var books []domain.Book
	err := s.txm.WithTx(ctx, func(ctx context.Context, txn store.Txn) error {
		var err error
		books, err = txn.Books().List(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return books, nil
}

// UpdateStock applies a signed delta to a book's stock under a row lock.
// The result floors at zero rather than erroring, matching how manual
// corrections are used operationally.
func (s *Service) UpdateStock(ctx context.Context, bookID int64, delta int) (*domain.Book, error) {
	var book *domain.Book
	err := s.txm.WithTx(ctx, func(ctx context.Context, txn store.Txn) error {
		books, err := txn.Books().LockByIDs(ctx, []int64{bookID})
		if err != nil {
			return err
		}
		if len(books) == 0 {
			return fmt.Errorf("book %d: %w", bookID, domain.ErrBookNotFound)
		}

		books[0].Stock += delta
		if books[0].Stock < 0 {
			books[0].Stock = 0
		}
		if err := txn.Books().UpdateStocks(ctx, books); err != nil {
			return err
		}
		books[0].Version++
		book = &books[0]
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Catalog] Stock for book %d adjusted by %+d to %d", bookID, delta, book.Stock)
	return book, nil
}

func (s *Service) CreateAuthor(ctx context.Context, author *domain.Author) error {
	return s.txm.WithTx(ctx, func(ctx context.Context, txn store.Txn) error {
		return txn.Authors().Create(ctx, author)
	})
}

func (s *Service) ListAuthors(ctx context.Context) ([]domain.Author, error) {
	var authors []domain.Author
	err := s.txm.WithTx(ctx, func(ctx context.Context, txn store.Txn) error {
		var err error
		authors, err = txn.Authors().List(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return authors, nil
}
