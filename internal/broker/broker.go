// Package broker moves chat work through a message broker with
// reconnect-with-backoff, dead-lettering for poisoned messages, and a
// bounded local spill queue that degrades to rule-based handling when
// the broker is unreachable.
package broker

import (
	"context"
	"time"

	"github.com/MATTHEWPURBA/server-myshoes-store/internal/domain"
)

// RequestHandler processes one queued chat request. A non-nil error
// rejects the delivery without requeue, routing it to the dead-letter
// queue.
type RequestHandler func(ctx context.Context, req domain.QueuedRequest) error

// ResponseHandler processes one generated reply on its way back to the
// transport layer. Same rejection semantics as RequestHandler.
type ResponseHandler func(ctx context.Context, resp domain.QueuedResponse) error

// DrainHandler receives requests recovered from the local spill queue.
// It is best effort and must produce a user-facing reply itself.
type DrainHandler func(ctx context.Context, req domain.QueuedRequest)

// Health is a point-in-time snapshot of the broker connection.
type Health struct {
	Connected       bool      `json:"connected"`
	LastSuccessAt   time.Time `json:"last_success_at"`
	LocalQueueDepth int       `json:"local_queue_depth"`
}

// Broker is the messaging surface the chat pipeline depends on.
// Publishing never loses user work silently: requests that cannot
// reach the broker land in the spill queue and are drained through the
// registered DrainHandler.
type Broker interface {
	PublishRequest(ctx context.Context, req domain.QueuedRequest) error
	PublishResponse(ctx context.Context, resp domain.QueuedResponse) error

	ConsumeRequests(ctx context.Context, handler RequestHandler) error
	ConsumeResponses(ctx context.Context, handler ResponseHandler) error

	// SetDrainHandler registers the spill-queue drain path. Must be
	// called before publishing.
	SetDrainHandler(handler DrainHandler)

	// Healthy reports whether the broker connection is currently usable.
	Healthy() bool

	// ConnectionHealth returns the connection state, the time of the
	// last successful broker operation, and the spill queue depth.
	ConnectionHealth() Health

	Close() error
}
