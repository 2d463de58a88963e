package catalog

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/MATTHEWPURBA/server-myshoes-store/internal/domain"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/store"
)

func testService(t *testing.T) (*Service, *store.SQLiteStore) {
	t.Helper()
	db, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewService(db, nil, slog.New(slog.NewTextHandler(io.Discard, nil))), db
}

func seedShoes(t *testing.T, db *store.SQLiteStore, shoes []domain.Shoe) {
	t.Helper()
	ctx := context.Background()
	for i := range shoes {
		if err := db.InsertShoe(ctx, &shoes[i]); err != nil {
			t.Fatalf("seeding shoe: %v", err)
		}
	}
}

func TestExtractFilters(t *testing.T) {
	tests := []struct {
		name string
		text string
		want domain.Filters
	}{
		{"color only", "show me red shoes", domain.Filters{Color: "red"}},
		{"color synonym", "anything in navy?", domain.Filters{Color: "blue"}},
		{"gray spelling", "gray sneakers please", domain.Filters{Color: "grey"}},
		{"brand single word", "got any Nike?", domain.Filters{Brand: "nike"}},
		{"brand two words", "New Balance in stock?", domain.Filters{Brand: "new balance"}},
		{"size phrase", "do you have size 9.5", domain.Filters{Size: 9.5}},
		{"bare number in range", "something in 10 please", domain.Filters{Size: 10}},
		{"number out of range ignored", "I need 2 pairs", domain.Filters{}},
		{"all three", "red Adidas size 8", domain.Filters{Color: "red", Brand: "adidas", Size: 8}},
		{"nothing", "what are your shipping options", domain.Filters{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractFilters(tt.text); got != tt.want {
				t.Errorf("ExtractFilters(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestSearchOrdersByStock(t *testing.T) {
	svc, db := testService(t)
	seedShoes(t, db, []domain.Shoe{
		{Name: "Runner A", Brand: "nike", Color: "red", Size: 9, Price: 89.99, Stock: 2},
		{Name: "Runner B", Brand: "adidas", Color: "red", Size: 9, Price: 79.99, Stock: 10},
		{Name: "Runner C", Brand: "puma", Color: "red", Size: 9, Price: 59.99, Stock: 0},
		{Name: "Walker", Brand: "vans", Color: "blue", Size: 9, Price: 49.99, Stock: 5},
	})

	got, err := svc.Search(context.Background(), domain.Filters{Color: "red"}, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d shoes, want 2 in-stock red", len(got))
	}
	if got[0].Name != "Runner B" || got[1].Name != "Runner A" {
		t.Errorf("order = %s, %s, want best stocked first", got[0].Name, got[1].Name)
	}
}

func TestClosestSizes(t *testing.T) {
	svc, db := testService(t)
	seedShoes(t, db, []domain.Shoe{
		{Name: "Seven", Brand: "nike", Color: "black", Size: 7, Stock: 3},
		{Name: "Nine", Brand: "nike", Color: "black", Size: 9, Stock: 3},
		{Name: "Twelve", Brand: "nike", Color: "black", Size: 12, Stock: 3},
	})

	got, err := svc.ClosestSizes(context.Background(), 8.5, 2)
	if err != nil {
		t.Fatalf("ClosestSizes: %v", err)
	}
	if len(got) != 2 || got[0] != 9 || got[1] != 7 {
		t.Errorf("closest = %v, want [9 7]", got)
	}
}

func TestReindexAndSearchRelevant(t *testing.T) {
	svc, db := testService(t)
	seedShoes(t, db, []domain.Shoe{
		{Name: "Trail Runner", Brand: "asics", Color: "red", Size: 9, Stock: 4, Description: "rugged trail running shoe"},
		{Name: "Court Classic", Brand: "converse", Color: "white", Size: 9, Stock: 4, Description: "canvas court sneaker"},
	})

	ctx := context.Background()
	indexed, err := svc.Reindex(ctx)
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if indexed != 2 {
		t.Fatalf("indexed = %d, want 2", indexed)
	}

	got, err := svc.SearchRelevant(ctx, "red trail running shoe", DefaultLimit)
	if err != nil {
		t.Fatalf("SearchRelevant: %v", err)
	}
	if len(got) == 0 || got[0].Name != "Trail Runner" {
		t.Errorf("SearchRelevant = %+v, want Trail Runner first", got)
	}
}

func TestSearchRelevantFallsBackToKeyword(t *testing.T) {
	svc, db := testService(t)
	seedShoes(t, db, []domain.Shoe{
		{Name: "Canvas Low", Brand: "vans", Color: "black", Size: 10, Stock: 2, Description: "skate shoe"},
	})

	// No reindex has run, so no embeddings exist yet.
	got, err := svc.SearchRelevant(context.Background(), "canvas shoes", DefaultLimit)
	if err != nil {
		t.Fatalf("SearchRelevant: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Canvas Low" {
		t.Errorf("keyword fallback = %+v", got)
	}
}

func TestHashEmbedderIsDeterministic(t *testing.T) {
	e := NewHashEmbedder()
	ctx := context.Background()
	a, err := e.Embed(ctx, "red running shoe")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, _ := e.Embed(ctx, "red running shoe")
	if sim := cosine(a, b); sim < 0.999 {
		t.Errorf("self similarity = %f, want ~1", sim)
	}

	c, _ := e.Embed(ctx, "blue dress sandal")
	if sim := cosine(a, c); sim >= 0.999 {
		t.Errorf("unrelated similarity = %f, want < 1", sim)
	}
}
