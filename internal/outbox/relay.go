package outbox

import (
	"context"
	"log"
	"time"

	"github.com/example/bookstore/internal/domain"
	"github.com/example/bookstore/internal/infrastructure/store"
)

// maxAttempts is the delivery budget per event. An event that fails this
// many times is parked as FAILED and left for operator intervention.
const maxAttempts = 3

// Transport delivers one event payload to the message broker. Topic is the
// event type and key is the aggregate ID, so events for the same aggregate
// stay ordered on a single partition.
type Transport interface {
	Send(ctx context.Context, topic, key string, payload []byte) error
}

// Relay drains PENDING outbox rows to the transport. A single goroutine
// polls on a fixed interval and can be nudged between ticks via Notify, so
// a just-committed checkout does not wait out a full poll cycle.
type Relay struct {
	outbox    store.OutboxStore
	transport Transport
	interval  time.Duration

	notify chan struct{}
	done   chan struct{}
}

func NewRelay(outbox store.OutboxStore, transport Transport, interval time.Duration) *Relay {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Relay{
		outbox:    outbox,
		transport: transport,
		interval:  interval,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Notify wakes the relay for an early drain. Never blocks; a wake-up that
// coincides with one already pending is coalesced.
func (r *Relay) Notify() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled. Call it from exactly one goroutine.
func (r *Relay) Run(ctx context.Context) {
	log.Printf("[Outbox] Relay started, polling every %s", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Outbox] Relay stopped")
			return
		case <-ticker.C:
		case <-r.notify:
		}
		r.drain(ctx)
	}
}

// Done is closed once Run has returned.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// drain publishes every PENDING event in creation order. One event failing
// does not block the rest of the batch; it just burns one of that event's
// attempts.
func (r *Relay) drain(ctx context.Context) {
	events, err := r.outbox.FetchPending(ctx)
	if err != nil {
		log.Printf("[Outbox] Failed to fetch pending events: %v", err)
		return
	}
	if len(events) == 0 {
		return
	}

	published := 0
	for _, event := range events {
		if err := r.publish(ctx, event); err != nil {
			continue
		}
		published++
	}
	log.Printf("[Outbox] Published %d/%d pending events", published, len(events))
}

func (r *Relay) publish(ctx context.Context, event domain.OutboxEvent) error {
	err := r.transport.Send(ctx, event.EventType, event.AggregateID, event.Payload)
	if err == nil {
		if err := r.outbox.MarkPublished(ctx, event.ID); err != nil {
			log.Printf("[Outbox] Event %d sent but not marked published: %v", event.ID, err)
			return err
		}
		return nil
	}

	attempts := event.AttemptCount + 1
	terminal := attempts >= maxAttempts
	if terminal {
		log.Printf("[Outbox] Event %d (%s) failed attempt %d/%d, giving up: %v",
			event.ID, event.EventType, attempts, maxAttempts, err)
	} else {
		log.Printf("[Outbox] Event %d (%s) failed attempt %d/%d: %v",
			event.ID, event.EventType, attempts, maxAttempts, err)
	}
	if markErr := r.outbox.MarkAttempt(ctx, event.ID, attempts, terminal); markErr != nil {
		log.Printf("[Outbox] Failed to record attempt for event %d: %v", event.ID, markErr)
	}
	return err
}
