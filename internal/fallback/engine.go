// Package fallback is the rule-based responder. It answers without any
// upstream inference call, accumulating filters across turns, and
// doubles as the drain path for requests spilled while the broker was
// down.
package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MATTHEWPURBA/server-myshoes-store/internal/cache"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/catalog"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/domain"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/store"
)

const historyProbe = 5

var greetings = []string{"hello", "hi", "hey", "greetings", "howdy", "hola"}

type Engine struct {
	catalog *catalog.Service
	repo    store.Repository
	cache   *cache.Store
	log     *slog.Logger
}

func NewEngine(cat *catalog.Service, repo store.Repository, cacheStore *cache.Store, log *slog.Logger) *Engine {
	return &Engine{catalog: cat, repo: repo, cache: cacheStore, log: log}
}

// Respond produces a rule-based reply for the query and updates the
// session's accumulated filters. It never fails: catalog errors
// degrade to filter-aware canned text.
func (e *Engine) Respond(ctx context.Context, sessionID, query string) string {
	lower := strings.ToLower(strings.TrimSpace(query))
	cc := e.cache.Context(ctx, sessionID)

	// New filters overwrite old values, unspecified ones persist.
	cc.Filters = cc.Filters.Merge(catalog.ExtractFilters(lower))
	cc.LastQuery = lower

	var reply string
	switch {
	case isGreeting(lower):
		// A greeting starts a new topic.
		cc.Reset()
		reply = e.greet(ctx, sessionID)
	case !cc.Filters.IsEmpty():
		reply = e.filteredReply(ctx, cc.Filters)
	default:
		reply = e.staticReply(ctx, lower)
	}

	e.cache.StoreContext(ctx, sessionID, cc)
	return reply
}

// HandleSpill processes a request that never reached the broker,
// persisting the reply and returning it for transport delivery. Errors
// while storing are logged only; delivery still happens.
func (e *Engine) HandleSpill(ctx context.Context, req domain.QueuedRequest) domain.QueuedResponse {
	text := e.Respond(ctx, req.SessionID, req.Content)
	cc := e.cache.Context(ctx, req.SessionID)

	msg := domain.ChatMessage{
		ID:        "fallback_" + uuid.NewString(),
		SessionID: req.SessionID,
		Content:   text,
		Timestamp: time.Now(),
		Metadata: map[string]any{
			"fallbackResponse": true,
			"contextFilters":   cc.Filters,
		},
	}
	if err := e.repo.InsertMessage(ctx, &msg); err != nil {
		e.log.Warn("could not store spilled reply", "session_id", req.SessionID, "error", err)
	}

	return domain.QueuedResponse{
		SessionID: req.SessionID,
		MessageID: msg.ID,
		Content:   text,
		Metadata:  msg.Metadata,
	}
}

func isGreeting(lower string) bool {
	for _, g := range greetings {
		if lower == g || lower == g+"!" || strings.HasPrefix(lower, g+" ") {
			return true
		}
	}
	return false
}

func (e *Engine) greet(ctx context.Context, sessionID string) string {
	history, err := e.repo.History(ctx, sessionID, historyProbe)
	if err != nil {
		e.log.Warn("could not fetch history for greeting", "session_id", sessionID, "error", err)
	}
	if len(history) <= 1 {
		return "Hello! I'm your shoe shopping assistant. How can I help you today? We have a wide selection of shoes including brands like Nike, Adidas, Converse, and Vans. Are you looking for a specific type of shoe?"
	}
	return "Hello again! I'm here to continue helping you find the perfect shoes. Was there a specific style, brand, or color you were interested in?"
}

// filteredReply runs the AND-composed catalog query and words the
// reply by match count, degrading to relaxed-filter alternatives when
// nothing matches everything at once.
func (e *Engine) filteredReply(ctx context.Context, f domain.Filters) string {
	matches, err := e.catalog.Search(ctx, f, catalog.DefaultLimit)
	if err != nil {
		e.log.Error("catalog query failed", "error", err)
		return cannedFilterReply(f)
	}

	switch len(matches) {
	case 0:
		return e.alternatives(ctx, f)
	case 1:
		shoe := matches[0]
		return fmt.Sprintf("I found exactly what you're looking for! The %s in %s, available in size %g for %s. Would you like more details about this shoe?",
			shoe.Name, shoe.Color, shoe.Size, shoe.PriceLabel())
	default:
		return fmt.Sprintf("I found %d options that match your criteria: %s. Would you like more details about any of these?",
			len(matches), describeAll(matches, func(s *domain.Shoe) string {
				return fmt.Sprintf("%s (%s) for %s", s.Name, s.Color, s.PriceLabel())
			}))
	}
}

// alternatives relaxes one filter at a time before admitting defeat.
func (e *Engine) alternatives(ctx context.Context, f domain.Filters) string {
	switch {
	case f.Size > 0 && f.Color != "":
		return e.sizeColorAlternatives(ctx, f)
	case f.Size > 0:
		return e.closestSizeReply(ctx, f)
	case f.Color != "":
		return fmt.Sprintf("I'm sorry, I don't currently have any shoes in %s. We have shoes in various colors including Red, Black, White, Blue, and Grey. Would you like to see options in one of these colors?",
			titleCase(f.Color))
	case f.Brand != "":
		return fmt.Sprintf("I don't currently see any %s shoes in stock. We have popular brands like Nike, Adidas, Converse, and Vans. Would you like to see options from these brands?",
			titleCase(f.Brand))
	default:
		return "I couldn't find exact matches for your request. We have a wide selection of shoes in various styles, colors, and sizes. Could you tell me more about what you're looking for?"
	}
}

func (e *Engine) sizeColorAlternatives(ctx context.Context, f domain.Filters) string {
	sizeMatches, _ := e.catalog.Search(ctx, domain.Filters{Size: f.Size}, 3)
	colorMatches, _ := e.catalog.Search(ctx, domain.Filters{Color: f.Color}, 3)
	color := titleCase(f.Color)

	reply := fmt.Sprintf("I don't have any %s shoes in size %g. ", color, f.Size)
	switch {
	case len(sizeMatches) > 0 && len(colorMatches) > 0:
		sizeOptions := describeAll(sizeMatches, func(s *domain.Shoe) string { return fmt.Sprintf("%s in %s", s.Name, s.Color) })
		colorOptions := describeAll(colorMatches, func(s *domain.Shoe) string { return fmt.Sprintf("%s in size %g", s.Name, s.Size) })
		return reply + fmt.Sprintf("I can offer you size %g in these colors: %s. Or I can offer %s shoes in these sizes: %s. Which would you prefer?",
			f.Size, sizeOptions, color, colorOptions)
	case len(sizeMatches) > 0:
		options := describeAll(sizeMatches, func(s *domain.Shoe) string { return fmt.Sprintf("%s in %s", s.Name, s.Color) })
		return reply + fmt.Sprintf("However, I have size %g available in: %s. Would any of these interest you?", f.Size, options)
	case len(colorMatches) > 0:
		options := describeAll(colorMatches, func(s *domain.Shoe) string { return fmt.Sprintf("%s in size %g", s.Name, s.Size) })
		return reply + fmt.Sprintf("However, I have %s shoes available in these sizes: %s. Would any of these interest you?", color, options)
	default:
		return reply + "I'm sorry, I currently don't have any shoes that match either criteria. Would you like to see our most popular shoes instead?"
	}
}

func (e *Engine) closestSizeReply(ctx context.Context, f domain.Filters) string {
	closest, err := e.catalog.ClosestSizes(ctx, f.Size, 3)
	if err != nil || len(closest) == 0 {
		return fmt.Sprintf("I don't currently have shoes in exactly size %g. Would you like to see options in the closest available size?", f.Size)
	}
	sizes := make([]string, len(closest))
	for i, sz := range closest {
		sizes[i] = fmt.Sprintf("%g", sz)
	}
	return fmt.Sprintf("I don't currently have shoes in exactly size %g. Our closest available sizes are %s. Would you like to see options in these sizes?",
		f.Size, strings.Join(sizes, ", "))
}

// staticReply covers the non-product intents and the generic prompts.
func (e *Engine) staticReply(ctx context.Context, lower string) string {
	switch {
	case strings.Contains(lower, "shipping") || strings.Contains(lower, "deliver"):
		return "We offer free shipping on all orders over $100. Standard shipping typically takes 3-5 business days, while express shipping takes 1-2 business days for an additional fee."
	case strings.Contains(lower, "return") || strings.Contains(lower, "refund"):
		return "We have a 30-day return policy. If you're not satisfied with your purchase, you can return unworn shoes with the original packaging for a full refund or exchange."
	case strings.Contains(lower, "payment") || strings.Contains(lower, "pay"):
		return "We accept all major credit cards, PayPal, and Apple Pay. Your payment information is always securely encrypted."
	case strings.Contains(lower, "shoe") || strings.Contains(lower, "sneaker") || strings.Contains(lower, "footwear"):
		return e.generalShoeReply(ctx)
	default:
		return "I'd be happy to help you find the perfect shoes. We have a wide selection of running shoes, casual sneakers, dress shoes, and athletic footwear. Could you tell me more about what type of shoes you're looking for?"
	}
}

func (e *Engine) generalShoeReply(ctx context.Context) string {
	popular, err := e.catalog.Search(ctx, domain.Filters{}, 3)
	if err == nil && len(popular) > 0 {
		list := describeAll(popular, func(s *domain.Shoe) string {
			return fmt.Sprintf("%s (%s)", s.Label(), s.Color)
		})
		return fmt.Sprintf("We have a wide selection of shoes including casual sneakers, athletic shoes, and formal options. Some of our popular options include %s. Is there a specific type, color, or size you're looking for?", list)
	}
	return "We have a wide selection of shoes including casual sneakers, athletic shoes, and formal options. Our most popular brands include Nike, Adidas, Vans, and Converse. Is there a specific type, color, or size you're looking for?"
}

// cannedFilterReply is the last resort when the catalog itself errors.
func cannedFilterReply(f domain.Filters) string {
	reply := "I'm having trouble finding the perfect shoes for you right now. "
	switch {
	case f.Size > 0 && f.Color != "":
		return reply + fmt.Sprintf("We have a variety of options in size %g and %s color. Could you tell me if you prefer athletic, casual, or formal shoes?", f.Size, f.Color)
	case f.Size > 0:
		return reply + fmt.Sprintf("For size %g, we have several options including running shoes, casual sneakers, and athletic shoes. What style or color are you interested in?", f.Size)
	case f.Color != "":
		return reply + fmt.Sprintf("For %s shoes, we have various styles and sizes available. Could you tell me what size you're looking for?", f.Color)
	case f.Brand != "":
		return reply + fmt.Sprintf("We have several popular options from %s. Could you tell me what size or color you're interested in?", f.Brand)
	default:
		return reply + "Could you please tell me more about what you're looking for? For example, a specific size, color, or brand?"
	}
}

func describeAll(shoes []*domain.Shoe, describe func(*domain.Shoe) string) string {
	parts := make([]string, len(shoes))
	for i, s := range shoes {
		parts[i] = describe(s)
	}
	return strings.Join(parts, ", ")
}

func titleCase(color string) string {
	if color == "" {
		return color
	}
	return strings.ToUpper(color[:1]) + color[1:]
}
