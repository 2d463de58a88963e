package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MATTHEWPURBA/server-myshoes-store/internal/domain"
)

var errBrokerDown = errors.New("broker unavailable")

// MemoryBroker is an in-process Broker used by tests and by local
// development without a RabbitMQ instance. It mirrors the AMQP
// semantics that matter: handler errors dead-letter the message, and
// publishes while "down" spill to the local queue.
type MemoryBroker struct {
	log   *slog.Logger
	spill *SpillQueue

	mu          sync.Mutex
	down        bool
	drain       DrainHandler
	reqHandler  RequestHandler
	respHandler ResponseHandler
	deadLetters []string
}

func NewMemory(log *slog.Logger) *MemoryBroker {
	return &MemoryBroker{
		log:   log,
		spill: NewSpillQueue(SpillLimit, log),
	}
}

// SetDown simulates a broker outage. Recovering drains the spill
// queue, matching the reconnect behavior of the AMQP broker.
func (b *MemoryBroker) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	drain := b.drain
	b.mu.Unlock()
	if !down && drain != nil {
		b.spill.Drain(context.Background(), drain)
	}
}

func (b *MemoryBroker) SetDrainHandler(handler DrainHandler) {
	b.mu.Lock()
	b.drain = handler
	b.mu.Unlock()
}

func (b *MemoryBroker) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.down
}

func (b *MemoryBroker) ConnectionHealth() Health {
	b.mu.Lock()
	down := b.down
	b.mu.Unlock()
	h := Health{Connected: !down, LocalQueueDepth: b.spill.Len()}
	if !down {
		h.LastSuccessAt = time.Now()
	}
	return h
}

// Spilled reports how many requests are waiting in the local queue.
func (b *MemoryBroker) Spilled() int {
	return b.spill.Len()
}

// DeadLetters lists the IDs of rejected messages, newest last.
func (b *MemoryBroker) DeadLetters() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.deadLetters...)
}

func (b *MemoryBroker) PublishRequest(ctx context.Context, req domain.QueuedRequest) error {
	b.mu.Lock()
	down := b.down
	handler := b.reqHandler
	b.mu.Unlock()

	if down || handler == nil {
		b.spill.Add(req)
		return errBrokerDown
	}
	if err := handler(ctx, req); err != nil {
		b.deadLetter(req.MessageID, err)
	}
	return nil
}

func (b *MemoryBroker) PublishResponse(ctx context.Context, resp domain.QueuedResponse) error {
	b.mu.Lock()
	down := b.down
	handler := b.respHandler
	b.mu.Unlock()

	if down {
		return errBrokerDown
	}
	if handler == nil {
		return nil
	}
	if err := handler(ctx, resp); err != nil {
		b.deadLetter(resp.MessageID, err)
	}
	return nil
}

func (b *MemoryBroker) ConsumeRequests(_ context.Context, handler RequestHandler) error {
	b.mu.Lock()
	b.reqHandler = handler
	b.mu.Unlock()
	return nil
}

func (b *MemoryBroker) ConsumeResponses(_ context.Context, handler ResponseHandler) error {
	b.mu.Lock()
	b.respHandler = handler
	b.mu.Unlock()
	return nil
}

func (b *MemoryBroker) deadLetter(messageID string, err error) {
	b.log.Error("message rejected to dead-letter queue", "message_id", messageID, "error", err)
	b.mu.Lock()
	b.deadLetters = append(b.deadLetters, messageID)
	b.mu.Unlock()
}

func (b *MemoryBroker) Close() error { return nil }
