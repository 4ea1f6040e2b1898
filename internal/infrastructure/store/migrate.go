package store

import (
	"database/sql"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS authors (
		id         BIGSERIAL PRIMARY KEY,
		name       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGSERIAL PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		name          TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS books (
		id          BIGSERIAL PRIMARY KEY,
		isbn        TEXT NOT NULL UNIQUE,
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		genre       TEXT NOT NULL DEFAULT '',
		author_id   BIGINT NOT NULL REFERENCES authors(id),
		price       NUMERIC(12,2) NOT NULL,
		stock       INT NOT NULL CHECK (stock >= 0),
		version     INT NOT NULL DEFAULT 0,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS carts (
		id         BIGSERIAL PRIMARY KEY,
		user_id    BIGINT NOT NULL,
		is_active  BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS carts_one_active_per_user
		ON carts (user_id) WHERE is_active`,
	`CREATE TABLE IF NOT EXISTS cart_lines (
		id       BIGSERIAL PRIMARY KEY,
		cart_id  BIGINT NOT NULL REFERENCES carts(id) ON DELETE CASCADE,
		book_id  BIGINT NOT NULL REFERENCES books(id),
		quantity INT NOT NULL CHECK (quantity > 0)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id           BIGSERIAL PRIMARY KEY,
		order_number TEXT NOT NULL UNIQUE,
		user_id      BIGINT NOT NULL,
		status       TEXT NOT NULL,
		total        NUMERIC(12,2) NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS order_lines (
		id         BIGSERIAL PRIMARY KEY,
		order_id   BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		book_id    BIGINT NOT NULL REFERENCES books(id),
		title      TEXT NOT NULL,
		quantity   INT NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC(12,2) NOT NULL,
		subtotal   NUMERIC(12,2) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id             BIGSERIAL PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id   TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		payload        JSONB NOT NULL,
		status         TEXT NOT NULL DEFAULT 'PENDING',
		attempt_count  INT NOT NULL DEFAULT 0,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_events_pending
		ON outbox_events (created_at) WHERE status = 'PENDING'`,
}

// Migrate applies the schema. Statements are idempotent so this is safe to
// run on every startup.
func Migrate(db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
