package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MATTHEWPURBA/server-myshoes-store/internal/domain"
)

const (
	// SpillLimit bounds the in-process queue of requests that could not
	// be published. Beyond it the oldest entry is dropped.
	SpillLimit = 200

	// spillMaxAge marks how long a spilled request stays worth
	// answering. A chat user who waited longer has moved on.
	spillMaxAge = 2 * time.Minute
)

type spillEntry struct {
	req      domain.QueuedRequest
	queuedAt time.Time
}

// SpillQueue is the bounded FIFO holding requests while the broker is
// down. Safe for concurrent use.
type SpillQueue struct {
	mu      sync.Mutex
	entries []spillEntry
	limit   int
	log     *slog.Logger

	now func() time.Time
}

func NewSpillQueue(limit int, log *slog.Logger) *SpillQueue {
	if limit <= 0 {
		limit = SpillLimit
	}
	return &SpillQueue{limit: limit, log: log, now: time.Now}
}

// Add enqueues a request, evicting the oldest entry when full.
func (q *SpillQueue) Add(req domain.QueuedRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= q.limit {
		q.log.Warn("spill queue full, dropping oldest request",
			"limit", q.limit, "dropped_session", q.entries[0].req.SessionID)
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, spillEntry{req: req, queuedAt: q.now()})
	q.log.Info("request spilled to local queue", "session_id", req.SessionID, "size", len(q.entries))
}

func (q *SpillQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Drain pops every entry in order and hands the non-stale ones to fn.
// Returns how many were processed. Entries added while draining are
// picked up too.
func (q *SpillQueue) Drain(ctx context.Context, fn DrainHandler) int {
	processed := 0
	for {
		q.mu.Lock()
		if len(q.entries) == 0 {
			q.mu.Unlock()
			return processed
		}
		entry := q.entries[0]
		q.entries = q.entries[1:]
		q.mu.Unlock()

		if ctx.Err() != nil {
			return processed
		}
		if q.now().Sub(entry.queuedAt) > spillMaxAge {
			q.log.Warn("skipping stale spilled request",
				"session_id", entry.req.SessionID, "queued_at", entry.queuedAt)
			continue
		}
		fn(ctx, entry.req)
		processed++
	}
}
