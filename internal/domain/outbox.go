package domain

import (
	"encoding/json"
	"time"
)

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "PENDING"
	OutboxPublished OutboxStatus = "PUBLISHED"
	OutboxFailed    OutboxStatus = "FAILED"
)

const (
	AggregateBook = "BOOK"
	AggregateCart = "CART"
)

const (
	EventBookCreated     = "BOOK_CREATED"
	EventCartDeactivated = "CART_DEACTIVATED"
)

// OutboxEvent is written in the same transaction as the domain mutation it
// describes, so the row exists if and only if the mutation committed.
type OutboxEvent struct {
	ID            int64           `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Status        OutboxStatus    `json:"status"`
	AttemptCount  int             `json:"attempt_count"`
	CreatedAt     time.Time       `json:"created_at"`
}

// BookCreatedPayload is the BOOK_CREATED event body consumed by the search
// indexer and the existence filter seeder.
type BookCreatedPayload struct {
	ID          int64  `json:"id"`
	ISBN        string `json:"isbn"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Genre       string `json:"genre"`
	AuthorName  string `json:"author_name"`
	Price       string `json:"price"`
	Stock       int    `json:"stock"`
}

// CartDeactivatedPayload triggers the out-of-band cart rotation after a
// confirmed checkout. Field names match the wire format consumers expect.
type CartDeactivatedPayload struct {
	UserID      int64  `json:"userId"`
	CartID      int64  `json:"cartId"`
	OrderNumber string `json:"orderNumber"`
}
