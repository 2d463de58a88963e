package fallback

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MATTHEWPURBA/server-myshoes-store/internal/cache"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/catalog"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/domain"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/store"
)

func testEngine(t *testing.T) (*Engine, *store.SQLiteStore, *cache.Store) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	cacheStore := cache.NewMemory(log)
	cat := catalog.NewService(db, nil, log)
	return NewEngine(cat, db, cacheStore, log), db, cacheStore
}

func seed(t *testing.T, db *store.SQLiteStore, shoes []domain.Shoe) {
	t.Helper()
	ctx := context.Background()
	for i := range shoes {
		if err := db.InsertShoe(ctx, &shoes[i]); err != nil {
			t.Fatalf("seeding shoe: %v", err)
		}
	}
}

func insertUserMessage(t *testing.T, db *store.SQLiteStore, sessionID, content string) {
	t.Helper()
	msg := domain.ChatMessage{
		ID:         "msg_" + content,
		SessionID:  sessionID,
		Content:    content,
		IsFromUser: true,
		Timestamp:  time.Now(),
	}
	if err := db.InsertMessage(context.Background(), &msg); err != nil {
		t.Fatalf("inserting message: %v", err)
	}
}

func TestGreetingVariants(t *testing.T) {
	e, db, _ := testEngine(t)
	ctx := context.Background()

	first := e.Respond(ctx, "s1", "hi")
	if !strings.Contains(first, "shoe shopping assistant") {
		t.Errorf("first greeting = %q, want first-time variant", first)
	}

	insertUserMessage(t, db, "s1", "hi")
	insertUserMessage(t, db, "s1", "looking around")

	again := e.Respond(ctx, "s1", "hi")
	if !strings.Contains(again, "Hello again") {
		t.Errorf("repeat greeting = %q, want returning-user variant", again)
	}
}

func TestGreetingClearsAccumulatedFilters(t *testing.T) {
	e, db, cacheStore := testEngine(t)
	seed(t, db, []domain.Shoe{
		{Name: "Club C", Brand: "Reebok", Color: "Red", Size: 9, Price: 75, Stock: 5},
	})
	ctx := context.Background()

	e.Respond(ctx, "s1", "red shoes size 9")
	if cc := cacheStore.Context(ctx, "s1"); cc.Filters.IsEmpty() {
		t.Fatal("expected filters accumulated before greeting")
	}

	e.Respond(ctx, "s1", "hello")
	if cc := cacheStore.Context(ctx, "s1"); !cc.Filters.IsEmpty() {
		t.Errorf("filters after greeting = %+v, want cleared", cc.Filters)
	}
}

func TestFiltersAccumulateAcrossTurns(t *testing.T) {
	e, db, _ := testEngine(t)
	seed(t, db, []domain.Shoe{
		{Name: "Air Max", Brand: "Nike", Color: "Red", Size: 9, Price: 120, Stock: 3},
		{Name: "Air Max", Brand: "Nike", Color: "Red", Size: 10, Price: 120, Stock: 3},
		{Name: "Gel-Lyte", Brand: "ASICS", Color: "Blue", Size: 9, Price: 90, Stock: 8},
	})
	ctx := context.Background()

	e.Respond(ctx, "s1", "show me red shoes")
	reply := e.Respond(ctx, "s1", "size 9 please")
	if !strings.Contains(reply, "Air Max") || strings.Contains(reply, "Gel-Lyte") {
		t.Errorf("combined reply = %q, want red size-9 match only", reply)
	}
}

func TestCombinedQueryWordings(t *testing.T) {
	e, db, _ := testEngine(t)
	seed(t, db, []domain.Shoe{
		{Name: "Old Skool", Brand: "Vans", Color: "Black", Size: 10, Price: 65, Stock: 4},
		{Name: "Chuck Taylor", Brand: "Converse", Color: "Black", Size: 10, Price: 55, Stock: 9},
	})
	ctx := context.Background()

	many := e.Respond(ctx, "many", "black shoes size 10")
	if !strings.Contains(many, "I found 2 options") {
		t.Errorf("many-result reply = %q", many)
	}

	one := e.Respond(ctx, "one", "black vans size 10")
	if !strings.Contains(one, "exactly what you're looking for") || !strings.Contains(one, "Old Skool") {
		t.Errorf("single-result reply = %q", one)
	}
}

func TestRelaxedAlternativesWhenNoExactMatch(t *testing.T) {
	e, db, _ := testEngine(t)
	seed(t, db, []domain.Shoe{
		{Name: "Suede Classic", Brand: "Puma", Color: "Blue", Size: 9, Price: 70, Stock: 5},
		{Name: "Authentic", Brand: "Vans", Color: "Red/White", Size: 8, Price: 60, Stock: 6},
	})
	ctx := context.Background()

	reply := e.Respond(ctx, "s1", "red shoes size 9")
	if !strings.Contains(reply, "I don't have any Red shoes in size 9") {
		t.Errorf("reply = %q, want specific no-match preamble", reply)
	}
	if !strings.Contains(reply, "Suede Classic") || !strings.Contains(reply, "Authentic") {
		t.Errorf("reply = %q, want both relaxed alternatives offered", reply)
	}
}

func TestClosestSizeSuggestions(t *testing.T) {
	e, db, _ := testEngine(t)
	seed(t, db, []domain.Shoe{
		{Name: "Runner", Brand: "Nike", Color: "White", Size: 8, Price: 100, Stock: 2},
		{Name: "Runner", Brand: "Nike", Color: "White", Size: 10, Price: 100, Stock: 2},
	})
	ctx := context.Background()

	reply := e.Respond(ctx, "s1", "anything in size 9?")
	if !strings.Contains(reply, "closest available sizes") {
		t.Errorf("reply = %q, want closest-size suggestion", reply)
	}
	if !strings.Contains(reply, "8") || !strings.Contains(reply, "10") {
		t.Errorf("reply = %q, want neighboring sizes listed", reply)
	}
}

func TestStaticIntents(t *testing.T) {
	e, _, _ := testEngine(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"shipping", "how long does shipping take", "free shipping"},
		{"returns", "what is your return policy", "30-day return policy"},
		{"payment", "how can I pay", "major credit cards"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Respond(ctx, "s1", tt.query); !strings.Contains(got, tt.want) {
				t.Errorf("Respond(%q) = %q, want substring %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestDefaultReplyIsNeverEmpty(t *testing.T) {
	e, _, _ := testEngine(t)
	if got := e.Respond(context.Background(), "s1", "tell me a joke"); got == "" {
		t.Fatal("expected non-empty default reply")
	}
}

func TestHandleSpillPersistsAndReturnsResponse(t *testing.T) {
	e, db, _ := testEngine(t)
	ctx := context.Background()

	resp := e.HandleSpill(ctx, domain.QueuedRequest{
		SessionID: "s1",
		Content:   "what shoes do you have",
		Timestamp: time.Now(),
	})
	if resp.SessionID != "s1" || resp.Content == "" {
		t.Fatalf("spill response = %+v", resp)
	}
	if !strings.HasPrefix(resp.MessageID, "fallback_") {
		t.Errorf("MessageID = %q, want fallback_ prefix", resp.MessageID)
	}

	history, err := db.History(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Content != resp.Content {
		t.Errorf("history = %+v, want the spilled reply persisted", history)
	}
}
