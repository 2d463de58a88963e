package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

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

// fakeNotifier records everything the worker tries to deliver.
type fakeNotifier struct {
	mu       sync.Mutex
	messages []transport.MessagePayload
	typing   []bool
}

func (f *fakeNotifier) SendMessageToSession(_ string, msg transport.MessagePayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
}

func (f *fakeNotifier) SendTypingIndicator(_ string, isTyping bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, isTyping)
}

func (f *fakeNotifier) delivered() []transport.MessagePayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.MessagePayload(nil), f.messages...)
}

type pipeline struct {
	worker   *Worker
	queue    *broker.MemoryBroker
	repo     *store.SQLiteStore
	cache    *cache.Store
	notifier *fakeNotifier
}

// newPipeline wires the full worker stack against an in-memory broker
// and a stub inference upstream.
func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	return newPipelineWith(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"generated_text":"[ASSISTANT]: Happy to help with shoes!"}]`)
	}))
}

func newPipelineWith(t *testing.T, handler http.Handler) *pipeline {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	upstream := httptest.NewServer(handler)
	t.Cleanup(upstream.Close)

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	cacheStore := cache.NewMemory(log)
	cat := catalog.NewService(repo, nil, log)
	breaker := resilience.NewCircuitBreaker(5, 5*time.Minute)
	client := engine.NewInferenceClient(upstream.URL, "key", []string{"test/model"}, breaker, log)
	eng := engine.New(client, cat, cacheStore, breaker, log)
	rules := fallback.NewEngine(cat, repo, cacheStore, log)

	queue := broker.NewMemory(log)
	notifier := &fakeNotifier{}
	worker := NewWorker(queue, repo, cacheStore, eng, rules, notifier, log)
	worker.Start(context.Background())

	return &pipeline{worker: worker, queue: queue, repo: repo, cache: cacheStore, notifier: notifier}
}

func userRequest(sessionID, messageID, content string) domain.QueuedRequest {
	return domain.QueuedRequest{
		SessionID: sessionID,
		MessageID: messageID,
		Content:   content,
		Timestamp: time.Now(),
	}
}

func TestRequestFlowsEndToEnd(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if err := p.queue.PublishRequest(ctx, userRequest("s1", "m1", "do you have red shoes?")); err != nil {
		t.Fatalf("PublishRequest: %v", err)
	}

	delivered := p.notifier.delivered()
	if len(delivered) != 1 {
		t.Fatalf("delivered = %d messages, want 1", len(delivered))
	}
	if delivered[0].Content != "Happy to help with shoes!" {
		t.Errorf("reply = %q", delivered[0].Content)
	}

	replied, err := p.repo.HasReplyTo(ctx, "m1")
	if err != nil {
		t.Fatalf("HasReplyTo: %v", err)
	}
	if !replied {
		t.Error("expected persisted reply linked to the request message")
	}

	history, err := p.repo.History(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].IsFromUser {
		t.Errorf("history = %+v, want one bot message", history)
	}

	if typing := p.notifier.typing; len(typing) == 0 || !typing[0] {
		t.Errorf("typing events = %v, want leading typing-on", typing)
	}
}

func TestRedeliveredRequestIsNotAnsweredTwice(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	req := userRequest("s1", "m1", "do you have red shoes?")
	if err := p.queue.PublishRequest(ctx, req); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := p.queue.PublishRequest(ctx, req); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	if n := len(p.notifier.delivered()); n != 1 {
		t.Errorf("delivered = %d messages, want 1 after redelivery", n)
	}
	history, _ := p.repo.History(ctx, "s1", 10)
	if len(history) != 1 {
		t.Errorf("history = %d messages, want 1", len(history))
	}
}

func TestContextAccumulatesAcrossTurns(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.queue.PublishRequest(ctx, userRequest("s1", "m1", "show me red shoes"))
	p.queue.PublishRequest(ctx, userRequest("s1", "m2", "size 9 please"))

	cc := p.cache.Context(ctx, "s1")
	if cc.Filters.Color != "red" || cc.Filters.Size != 9 {
		t.Errorf("context filters = %+v, want red size 9 accumulated", cc.Filters)
	}

	entries := p.cache.History(ctx, "s1")
	if len(entries) != 4 {
		t.Fatalf("cached history = %d entries, want 4", len(entries))
	}
	if entries[0].Role != domain.RoleUser || entries[1].Role != domain.RoleAssistant {
		t.Errorf("history roles = %s, %s", entries[0].Role, entries[1].Role)
	}
}

func TestBrokerOutageDrainsThroughRuleEngine(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.queue.SetDown(true)
	for i := 0; i < 3; i++ {
		p.queue.PublishRequest(ctx, userRequest("s1", fmt.Sprintf("m%d", i), "what is your return policy?"))
	}
	if got := len(p.notifier.delivered()); got != 0 {
		t.Fatalf("delivered during outage = %d, want 0", got)
	}
	if p.queue.Spilled() != 3 {
		t.Fatalf("spilled = %d, want 3", p.queue.Spilled())
	}

	p.queue.SetDown(false)

	delivered := p.notifier.delivered()
	if len(delivered) != 3 {
		t.Fatalf("delivered after recovery = %d, want 3", len(delivered))
	}
	for _, msg := range delivered {
		if !strings.Contains(msg.Content, "30-day return policy") {
			t.Errorf("drained reply = %q, want rule-engine answer", msg.Content)
		}
		if !strings.HasPrefix(msg.ID, "fallback_") {
			t.Errorf("drained reply id = %q, want fallback_ prefix", msg.ID)
		}
	}
}

func TestTimedOutAttemptsBackOffBeforeRetrying(t *testing.T) {
	block := make(chan struct{})
	p := newPipelineWith(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	t.Cleanup(func() { close(block) })

	p.worker.attemptTimeout = 10 * time.Millisecond
	p.worker.retryBase = 30 * time.Millisecond

	start := time.Now()
	result := p.worker.generate(context.Background(), userRequest("s1", "m1", "compare cushioning between those two trail runners"), nil)
	elapsed := time.Since(start)

	// Three attempts, two waits between them: 30ms then 60ms.
	if want := 90 * time.Millisecond; elapsed < want {
		t.Errorf("generate returned after %v, want at least %v of retry spacing", elapsed, want)
	}
	if result.Message == "" {
		t.Error("expected a rule-engine reply after exhausted attempts")
	}
}

func TestCancelledRequestSkipsRetryWaits(t *testing.T) {
	block := make(chan struct{})
	p := newPipelineWith(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	t.Cleanup(func() { close(block) })

	p.worker.attemptTimeout = 10 * time.Millisecond
	p.worker.retryBase = 10 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	result := p.worker.generate(ctx, userRequest("s1", "m1", "compare cushioning between those two trail runners"), nil)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("generate took %v on a cancelled request, want immediate rule-engine answer", elapsed)
	}
	if result.Message == "" {
		t.Error("expected a rule-engine reply for a cancelled request")
	}
}

func TestInvalidRequestIsDeadLettered(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.queue.PublishRequest(ctx, domain.QueuedRequest{SessionID: "s1", MessageID: "bad", Content: ""})

	if dead := p.queue.DeadLetters(); len(dead) != 1 || dead[0] != "bad" {
		t.Errorf("dead letters = %v, want [bad]", dead)
	}
	if n := len(p.notifier.delivered()); n != 0 {
		t.Errorf("delivered = %d, want 0 for invalid request", n)
	}
}
