// Package chat is the worker orchestrating one request's path through
// the pipeline: consume, generate, persist, publish, deliver. Every
// request ends in a user-facing reply no matter which dependencies are
// down.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MATTHEWPURBA/server-myshoes-store/internal/broker"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/cache"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/catalog"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/domain"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/engine"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/fallback"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/resilience"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/store"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/transport"
)

const (
	// generateTimeout bounds one reply-generation attempt. The engine's
	// own inference timeouts usually finish first; this is the hard stop.
	generateTimeout = 25 * time.Second

	generateAttempts = 3

	// Failed generation attempts back off 1s, 2s, 4s before retrying.
	generateRetryBase = time.Second
	generateRetryMult = 2.0
	generateRetryMax  = 4 * time.Second

	historyWindow = 10
)

// Notifier is the transport surface the worker needs to reach users.
type Notifier interface {
	SendMessageToSession(sessionID string, msg transport.MessagePayload)
	SendTypingIndicator(sessionID string, isTyping bool)
}

type Worker struct {
	queue    broker.Broker
	repo     store.Repository
	cache    *cache.Store
	engine   *engine.Engine
	rules    *fallback.Engine
	notifier Notifier
	log      *slog.Logger

	locks *sessionLocks

	retryBase      time.Duration // test hook, defaults to generateRetryBase
	attemptTimeout time.Duration // test hook, defaults to generateTimeout
}

func NewWorker(queue broker.Broker, repo store.Repository, cacheStore *cache.Store, eng *engine.Engine, rules *fallback.Engine, notifier Notifier, log *slog.Logger) *Worker {
	return &Worker{
		queue:    queue,
		repo:     repo,
		cache:    cacheStore,
		engine:   eng,
		rules:    rules,
		notifier: notifier,
		log:      log,
		locks:    newSessionLocks(),

		retryBase:      generateRetryBase,
		attemptTimeout: generateTimeout,
	}
}

// Start registers the worker's consumers and the spill drain path.
// Consumer registration failures while the broker is down are not
// fatal; the broker re-registers them after reconnecting.
func (w *Worker) Start(ctx context.Context) {
	w.queue.SetDrainHandler(w.drainSpilled)

	if err := w.queue.ConsumeRequests(ctx, w.HandleRequest); err != nil {
		w.log.Warn("request consumer not yet registered", "error", err)
	}
	if err := w.queue.ConsumeResponses(ctx, w.HandleResponse); err != nil {
		w.log.Warn("response consumer not yet registered", "error", err)
	}
}

// HandleRequest processes one queued chat request end to end. The
// returned error dead-letters the delivery; anything recoverable is
// absorbed so the user still gets a reply.
func (w *Worker) HandleRequest(ctx context.Context, req domain.QueuedRequest) error {
	if req.SessionID == "" || req.Content == "" {
		return errors.New("request missing sessionId or content")
	}

	// Redelivered work after a consumer crash must not double-reply.
	if req.MessageID != "" {
		replied, err := w.repo.HasReplyTo(ctx, req.MessageID)
		if err != nil {
			w.log.Warn("dedupe check failed", "message_id", req.MessageID, "error", err)
		} else if replied {
			w.log.Info("skipping already-answered request", "message_id", req.MessageID)
			return nil
		}
	}

	w.notifier.SendTypingIndicator(req.SessionID, true)

	history := w.history(ctx, req.SessionID)
	result := w.generate(ctx, req, history)

	msg := w.persistReply(ctx, req, result)
	w.updateContext(ctx, req, result, history)

	resp := domain.QueuedResponse{
		SessionID: req.SessionID,
		MessageID: msg.ID,
		Content:   result.Message,
		Metadata:  msg.Metadata,
	}
	if err := w.queue.PublishResponse(ctx, resp); err != nil {
		// Do not lose the reply: deliver straight over the transport.
		w.log.Warn("response publish failed, delivering directly", "session_id", req.SessionID, "error", err)
		w.deliver(resp)
	}
	return nil
}

// HandleResponse moves a generated reply from the queue to the user's
// live connections.
func (w *Worker) HandleResponse(_ context.Context, resp domain.QueuedResponse) error {
	if resp.SessionID == "" {
		return errors.New("response missing sessionId")
	}
	w.deliver(resp)
	return nil
}

func (w *Worker) deliver(resp domain.QueuedResponse) {
	w.notifier.SendMessageToSession(resp.SessionID, transport.MessagePayload{
		ID:        resp.MessageID,
		Content:   resp.Content,
		Timestamp: time.Now(),
		Metadata:  resp.Metadata,
	})
}

// generate races the engine against the per-attempt timeout. If every
// attempt times out, the rule engine answers; the user never waits
// forever and never sees an error.
func (w *Worker) generate(ctx context.Context, req domain.QueuedRequest, history []domain.HistoryEntry) engine.Result {
	for attempt := 1; attempt <= generateAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, w.attemptTimeout)
		done := make(chan engine.Result, 1)
		go func() {
			done <- w.engine.GenerateResponse(attemptCtx, req.Content, history)
		}()

		select {
		case result := <-done:
			cancel()
			return result
		case <-attemptCtx.Done():
			cancel()
			w.log.Warn("reply generation timed out", "session_id", req.SessionID, "attempt", attempt)
		}

		if attempt < generateAttempts {
			delay := resilience.Backoff(w.retryBase, generateRetryMult, attempt-1, generateRetryMax)
			select {
			case <-ctx.Done():
				attempt = generateAttempts
			case <-time.After(delay):
			}
		}
	}

	w.log.Warn("reply generation exhausted, using rule engine", "session_id", req.SessionID)
	return engine.Result{
		Message: w.rules.Respond(ctx, req.SessionID, req.Content),
		Metadata: engine.Metadata{
			Intent:    engine.DetectIntent(req.Content),
			Sentiment: engine.DetectSentiment(req.Content),
			Source:    engine.SourceFallback,
		},
		Context: engine.ContextUpdate{LastQuery: req.Content},
	}
}

// persistReply stores the bot message. Storage failures are logged and
// swallowed: the in-flight reply still reaches the user.
func (w *Worker) persistReply(ctx context.Context, req domain.QueuedRequest, result engine.Result) domain.ChatMessage {
	metadata := map[string]any{
		"intent":    result.Metadata.Intent,
		"sentiment": result.Metadata.Sentiment,
		"source":    result.Metadata.Source,
	}
	if len(result.Metadata.Products) > 0 {
		metadata["products"] = result.Metadata.Products
	}
	if req.MessageID != "" {
		metadata["reply_to"] = req.MessageID
	}

	msg := domain.ChatMessage{
		ID:        "bot_" + uuid.NewString(),
		SessionID: req.SessionID,
		Content:   result.Message,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
	if err := w.repo.InsertMessage(ctx, &msg); err != nil {
		w.log.Warn("could not store reply", "session_id", req.SessionID, "error", err)
	}
	return msg
}

// updateContext merges the turn's deltas into the session context and
// refreshes the cached history. Serialized per session.
func (w *Worker) updateContext(ctx context.Context, req domain.QueuedRequest, result engine.Result, history []domain.HistoryEntry) {
	unlock := w.locks.acquire(req.SessionID)
	defer unlock()

	cc := w.cache.Context(ctx, req.SessionID)
	cc.Filters = cc.Filters.Merge(catalog.ExtractFilters(req.Content))
	cc.LastQuery = result.Context.LastQuery
	if len(result.Context.MentionedProducts) > 0 {
		cc.MentionedProducts = result.Context.MentionedProducts
	}
	w.cache.StoreContext(ctx, req.SessionID, cc)

	entries := append(history,
		domain.HistoryEntry{Role: domain.RoleUser, Content: req.Content},
		domain.HistoryEntry{Role: domain.RoleAssistant, Content: result.Message},
	)
	if len(entries) > historyWindow {
		entries = entries[len(entries)-historyWindow:]
	}
	w.cache.StoreHistory(ctx, req.SessionID, entries)
}

// history prefers the cached conversation window and falls back to the
// database when the cache has nothing.
func (w *Worker) history(ctx context.Context, sessionID string) []domain.HistoryEntry {
	if cached := w.cache.History(ctx, sessionID); len(cached) > 0 {
		return cached
	}
	messages, err := w.repo.History(ctx, sessionID, historyWindow)
	if err != nil {
		w.log.Warn("could not load history", "session_id", sessionID, "error", err)
		return nil
	}
	entries := make([]domain.HistoryEntry, len(messages))
	for i, msg := range messages {
		entries[i] = msg.AsHistoryEntry()
	}
	return entries
}

// drainSpilled answers a request recovered from the local spill queue
// through the rule engine and delivers it directly.
func (w *Worker) drainSpilled(ctx context.Context, req domain.QueuedRequest) {
	w.notifier.SendTypingIndicator(req.SessionID, true)
	resp := w.rules.HandleSpill(ctx, req)
	w.deliver(resp)
}
