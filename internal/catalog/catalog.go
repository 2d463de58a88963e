// Package catalog answers product questions: attribute extraction from
// user text, filtered stock lookups, and embedding-based relevance
// search over the shoe inventory.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/MATTHEWPURBA/server-myshoes-store/internal/domain"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/store"
)

const (
	// DefaultLimit caps result lists shown in chat replies.
	DefaultLimit = 5

	// minSimilarity drops matches that are effectively noise.
	minSimilarity = 0.1
)

type Service struct {
	repo     store.Repository
	embedder Embedder
	log      *slog.Logger
}

func NewService(repo store.Repository, embedder Embedder, log *slog.Logger) *Service {
	if embedder == nil {
		embedder = NewHashEmbedder()
	}
	return &Service{repo: repo, embedder: embedder, log: log}
}

// Search returns in-stock shoes matching the given filters, best
// stocked first.
func (s *Service) Search(ctx context.Context, f domain.Filters, limit int) ([]*domain.Shoe, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return s.repo.FindShoes(ctx, store.ShoeFilter{
		Size:        f.Size,
		Color:       f.Color,
		Brand:       f.Brand,
		InStockOnly: true,
		Limit:       limit,
	})
}

// ClosestSizes returns the distinct in-stock sizes nearest to the
// requested one. Used when an exact size search comes back empty.
func (s *Service) ClosestSizes(ctx context.Context, size float64, limit int) ([]float64, error) {
	if limit <= 0 {
		limit = 3
	}
	return s.repo.ClosestSizes(ctx, size, limit)
}

// scored pairs a shoe with its query similarity.
type scored struct {
	shoe  *domain.Shoe
	score float64
}

// SearchRelevant ranks the catalog against a free-form query by
// embedding similarity. When no embeddings are indexed yet it degrades
// to a keyword search.
func (s *Service) SearchRelevant(ctx context.Context, query string, limit int) ([]*domain.Shoe, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	vectors, err := s.repo.Embeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading embeddings: %w", err)
	}
	if len(vectors) == 0 {
		return s.keywordSearch(ctx, query, limit)
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	shoes, err := s.repo.AllShoes(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	var matches []scored
	for _, shoe := range shoes {
		if shoe.Stock <= 0 {
			continue
		}
		vec, ok := vectors[shoe.ID]
		if !ok {
			continue
		}
		if score := cosine(queryVec, vec); score >= minSimilarity {
			matches = append(matches, scored{shoe: shoe, score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].score > matches[j].score })

	if len(matches) == 0 {
		return s.keywordSearch(ctx, query, limit)
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	result := make([]*domain.Shoe, len(matches))
	for i, m := range matches {
		result[i] = m.shoe
	}
	return result, nil
}

// keywordSearch tries each meaningful token of the query as a LIKE
// term until one returns stock.
func (s *Service) keywordSearch(ctx context.Context, query string, limit int) ([]*domain.Shoe, error) {
	for _, token := range tokenRe.FindAllString(strings.ToLower(query), -1) {
		if len(token) < 3 {
			continue
		}
		shoes, err := s.repo.FindShoes(ctx, store.ShoeFilter{
			Keyword:     token,
			InStockOnly: true,
			Limit:       limit,
		})
		if err != nil {
			return nil, err
		}
		if len(shoes) > 0 {
			return shoes, nil
		}
	}
	return nil, nil
}

// Reindex rebuilds the embedding for every shoe in the catalog.
// Safe to run while the worker is serving requests.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	shoes, err := s.repo.AllShoes(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading catalog: %w", err)
	}
	indexed := 0
	for _, shoe := range shoes {
		vec, err := s.embedder.Embed(ctx, shoeDocument(shoe))
		if err != nil {
			s.log.Warn("embedding shoe failed", "shoe_id", shoe.ID, "error", err)
			continue
		}
		if err := s.repo.UpsertEmbedding(ctx, shoe.ID, vec); err != nil {
			return indexed, fmt.Errorf("storing embedding for shoe %d: %w", shoe.ID, err)
		}
		indexed++
	}
	s.log.Info("catalog reindexed", "shoes", indexed)
	return indexed, nil
}

// shoeDocument is the text that represents a shoe in embedding space.
func shoeDocument(shoe *domain.Shoe) string {
	return fmt.Sprintf("%s %s %s size %g %s", shoe.Name, shoe.Brand, shoe.Color, shoe.Size, shoe.Description)
}
