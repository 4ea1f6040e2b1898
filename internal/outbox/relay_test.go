package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bookstore/internal/domain"
	"github.com/example/bookstore/internal/infrastructure/store"
	"github.com/example/bookstore/internal/infrastructure/store/mocks"
)

type sentMessage struct {
	Topic   string
	Key     string
	Payload string
}

// fakeTransport records sends and can fail a configurable number of times.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []sentMessage
	failures int
}

func (t *fakeTransport) Send(ctx context.Context, topic, key string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failures > 0 {
		t.failures--
		return errors.New("broker unavailable")
	}
	t.sent = append(t.sent, sentMessage{Topic: topic, Key: key, Payload: string(payload)})
	return nil
}

func (t *fakeTransport) Sent() []sentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]sentMessage(nil), t.sent...)
}

func appendEvent(t *testing.T, mem *mocks.MemStore, eventType, aggregateID, payload string) {
	t.Helper()
	err := mem.WithTx(context.Background(), func(ctx context.Context, txn store.Txn) error {
		return txn.Outbox().Append(ctx, &domain.OutboxEvent{
			AggregateType: domain.AggregateCart,
			AggregateID:   aggregateID,
			EventType:     eventType,
			Payload:       []byte(payload),
		})
	})
	require.NoError(t, err)
}

func TestDrain_PublishesOldestFirst(t *testing.T) {
	mem := mocks.NewMemStore()
	appendEvent(t, mem, domain.EventCartDeactivated, "11", `{"seq":1}`)
	appendEvent(t, mem, domain.EventBookCreated, "22", `{"seq":2}`)

	transport := &fakeTransport{}
	relay := NewRelay(mem, transport, time.Second)
	relay.drain(context.Background())

	sent := transport.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, domain.EventCartDeactivated, sent[0].Topic)
	assert.Equal(t, "11", sent[0].Key)
	assert.Equal(t, `{"seq":1}`, sent[0].Payload)
	assert.Equal(t, domain.EventBookCreated, sent[1].Topic)

	for _, e := range mem.OutboxEvents() {
		assert.Equal(t, domain.OutboxPublished, e.Status)
	}

	// A second drain finds nothing pending and sends nothing.
	relay.drain(context.Background())
	assert.Len(t, transport.Sent(), 2)
}

func TestDrain_FailureBurnsOneAttempt(t *testing.T) {
	mem := mocks.NewMemStore()
	appendEvent(t, mem, domain.EventCartDeactivated, "11", `{}`)

	transport := &fakeTransport{failures: 1}
	relay := NewRelay(mem, transport, time.Second)

	relay.drain(context.Background())
	events := mem.OutboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, domain.OutboxPending, events[0].Status)
	assert.Equal(t, 1, events[0].AttemptCount)

	// The transport recovered; the next drain delivers.
	relay.drain(context.Background())
	events = mem.OutboxEvents()
	assert.Equal(t, domain.OutboxPublished, events[0].Status)
}

func TestDrain_ThirdFailureIsTerminal(t *testing.T) {
	mem := mocks.NewMemStore()
	appendEvent(t, mem, domain.EventCartDeactivated, "11", `{}`)

	transport := &fakeTransport{failures: 100}
	relay := NewRelay(mem, transport, time.Second)

	for i := 0; i < 3; i++ {
		relay.drain(context.Background())
	}

	events := mem.OutboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, domain.OutboxFailed, events[0].Status)
	assert.Equal(t, 3, events[0].AttemptCount)

	// FAILED events are parked: further drains ignore them.
	relay.drain(context.Background())
	assert.Equal(t, 3, mem.OutboxEvents()[0].AttemptCount)
}

func TestDrain_OneBadEventDoesNotBlockTheBatch(t *testing.T) {
	mem := mocks.NewMemStore()
	appendEvent(t, mem, domain.EventCartDeactivated, "11", `{"seq":1}`)
	appendEvent(t, mem, domain.EventBookCreated, "22", `{"seq":2}`)

	// Only the first send fails.
	transport := &fakeTransport{failures: 1}
	relay := NewRelay(mem, transport, time.Second)
	relay.drain(context.Background())

	sent := transport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.EventBookCreated, sent[0].Topic)

	events := mem.OutboxEvents()
	assert.Equal(t, domain.OutboxPending, events[0].Status)
	assert.Equal(t, domain.OutboxPublished, events[1].Status)
}

func TestRun_NotifyTriggersEarlyDrain(t *testing.T) {
	mem := mocks.NewMemStore()
	appendEvent(t, mem, domain.EventCartDeactivated, "11", `{}`)

	transport := &fakeTransport{}
	// Interval long enough that only a notify can explain a delivery.
	relay := NewRelay(mem, transport, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go relay.Run(ctx)

	relay.Notify()

	require.Eventually(t, func() bool {
		return len(transport.Sent()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-relay.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after context cancellation")
	}
}

func TestNotify_NeverBlocks(t *testing.T) {
	relay := NewRelay(mocks.NewMemStore(), &fakeTransport{}, time.Hour)

	// No goroutine is draining; repeated notifies must coalesce, not block.
	for i := 0; i < 10; i++ {
		relay.Notify()
	}
}
