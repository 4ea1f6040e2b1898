package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/example/bookstore/internal/domain"
)

// PGBookStore persists books in PostgreSQL.
type PGBookStore struct {
	q DBTX
}

const bookColumns = `b.id, b.isbn, b.title, b.description, b.genre, b.author_id, a.name,
	 b.price, b.stock, b.version, b.created_at, b.updated_at`

func scanBook(row interface{ Scan(...any) error }) (*domain.Book, error) {
	var b domain.Book
	err := row.Scan(&b.ID, &b.ISBN, &b.Title, &b.Description, &b.Genre, &b.AuthorID,
		&b.AuthorName, &b.Price, &b.Stock, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PGBookStore) Create(ctx context.Context, book *domain.Book) error {
	err := s.q.QueryRowContext(ctx,
		`INSERT INTO books (isbn, title, description, genre, author_id, price, stock, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
		 RETURNING id, version, created_at, updated_at`,
		book.ISBN, book.Title, book.Description, book.Genre, book.AuthorID, book.Price, book.Stock,
	).Scan(&book.ID, &book.Version, &book.CreatedAt, &book.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("isbn %s: %w", book.ISBN, domain.ErrDuplicateISBN)
		}
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

func (s *PGBookStore) GetByID(ctx context.Context, id int64) (*domain.Book, error) {
	book, err := scanBook(s.q.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books b JOIN authors a ON a.id = b.author_id WHERE b.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("book %d: %w", id, domain.ErrBookNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	return book, nil
}

func (s *PGBookStore) FindByISBN(ctx context.Context, isbn string) (*domain.Book, error) {
	book, err := scanBook(s.q.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books b JOIN authors a ON a.id = b.author_id WHERE b.isbn = $1`, isbn))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("isbn %s: %w", isbn, domain.ErrBookNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find book by isbn: %w", err)
	}
	return book, nil
}

func (s *PGBookStore) List(ctx context.Context) ([]domain.Book, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+bookColumns+` FROM books b JOIN authors a ON a.id = b.author_id ORDER BY b.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	var books []domain.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, *book)
	}
	return books, rows.Err()
}

// LockByIDs locks all requested rows in one statement. ORDER BY id keeps the
// lock acquisition order identical across concurrent transactions, which
// prevents lock-order deadlocks between checkouts with overlapping books.
func (s *PGBookStore) LockByIDs(ctx context.Context, ids []int64) ([]domain.Book, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+bookColumns+`
		 FROM books b JOIN authors a ON a.id = b.author_id
		 WHERE b.id = ANY($1)
		 ORDER BY b.id
		 FOR UPDATE OF b`,
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("lock books: %w", err)
	}
	defer rows.Close()

	var books []domain.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan locked book: %w", err)
		}
		books = append(books, *book)
	}
	return books, rows.Err()
}

func (s *PGBookStore) UpdateStocks(ctx context.Context, books []domain.Book) error {
	if len(books) == 0 {
		return nil
	}

	ids := make([]int64, len(books))
	stocks := make([]int64, len(books))
	for i, b := range books {
		ids[i] = b.ID
		stocks[i] = int64(b.Stock)
	}

	_, err := s.q.ExecContext(ctx,
		`UPDATE books AS b
		 SET stock = v.stock, version = b.version + 1, updated_at = NOW()
		 FROM (SELECT unnest($1::bigint[]) AS id, unnest($2::bigint[]) AS stock) AS v
		 WHERE b.id = v.id`,
		pq.Array(ids), pq.Array(stocks))
	if err != nil {
		return fmt.Errorf("update stocks: %w", err)
	}
	return nil
}

// PGAuthorStore persists authors in PostgreSQL.
type PGAuthorStore struct {
	q DBTX
}

func (s *PGAuthorStore) Create(ctx context.Context, author *domain.Author) error {
	err := s.q.QueryRowContext(ctx,
		`INSERT INTO authors (name) VALUES ($1) RETURNING id, created_at`,
		author.Name,
	).Scan(&author.ID, &author.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert author: %w", err)
	}
	return nil
}

func (s *PGAuthorStore) GetByID(ctx context.Context, id int64) (*domain.Author, error) {
	var a domain.Author
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM authors WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("author %d: %w", id, domain.ErrAuthorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get author: %w", err)
	}
	return &a, nil
}

func (s *PGAuthorStore) List(ctx context.Context) ([]domain.Author, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name, created_at FROM authors ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list authors: %w", err)
	}
	defer rows.Close()

	var authors []domain.Author
	for rows.Next() {
		var a domain.Author
		if err := rows.Scan(&a.ID, &a.Name, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan author: %w", err)
		}
		authors = append(authors, a)
	}
	return authors, rows.Err()
}
