package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ErrSerialization marks a write conflict with a concurrent transaction.
// Callers retry the whole operation when IsConflict reports true.
var ErrSerialization = errors.New("concurrent update conflict")

// IsConflict reports whether err is a transient lock/serialization conflict
// worth retrying, as opposed to a business-rule failure.
func IsConflict(err error) bool {
	if errors.Is(err, ErrSerialization) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return true
		}
	}
	return false
}

// Connect establishes a pooled connection to PostgreSQL.
func Connect(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// PGTxManager implements TxManager over a *sql.DB.
type PGTxManager struct {
	db *sql.DB
}

func NewTxManager(db *sql.DB) *PGTxManager {
	return &PGTxManager{db: db}
}

func (m *PGTxManager) WithTx(ctx context.Context, fn func(ctx context.Context, txn Txn) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &pgTxn{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgTxn struct {
	tx *sql.Tx
}

func (t *pgTxn) Books() BookStore       { return &PGBookStore{q: t.tx} }
func (t *pgTxn) Authors() AuthorStore   { return &PGAuthorStore{q: t.tx} }
func (t *pgTxn) Carts() CartStore       { return &PGCartStore{q: t.tx} }
func (t *pgTxn) Orders() OrderStore     { return &PGOrderStore{q: t.tx} }
func (t *pgTxn) Outbox() OutboxAppender { return &PGOutboxStore{q: t.tx} }
func (t *pgTxn) Users() UserStore       { return &PGUserStore{q: t.tx} }
