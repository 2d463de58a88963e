// Package engine produces chat replies through a tiered strategy:
// cached responses first, then rule shortcuts, then a hosted inference
// model guarded by a circuit breaker, and a deterministic fallback
// when everything else fails. GenerateResponse never returns an error;
// the caller always gets a usable reply.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/MATTHEWPURBA/server-myshoes-store/internal/cache"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/catalog"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/domain"
	"github.com/MATTHEWPURBA/server-myshoes-store/internal/resilience"
)

// Reply sources reported in metadata.
const (
	SourceLocalCache  = "local_cache"
	SourceSharedCache = "shared_cache"
	SourceSimple      = "simple"
	SourceLocalRules  = "local_rules"
	SourceFallback    = "fallback"
)

const relevantProductLimit = 3

// Metadata describes how a reply was produced.
type Metadata struct {
	Intent    string  `json:"intent"`
	Sentiment string  `json:"sentiment"`
	Source    string  `json:"source"`
	Products  []int64 `json:"products,omitempty"`
}

// ContextUpdate carries the per-turn context delta the caller merges
// into the session's conversation context.
type ContextUpdate struct {
	LastQuery         string  `json:"lastQuery"`
	MentionedProducts []int64 `json:"mentionedProducts,omitempty"`
}

// Result is the uniform reply shape every generation path produces.
type Result struct {
	Message  string        `json:"message"`
	Metadata Metadata      `json:"metadata"`
	Context  ContextUpdate `json:"updatedContext"`
}

var (
	simpleGreetingRe = regexp.MustCompile(`^(hi|hello|hey|greetings|howdy|hola)( there)?( bot)?( system)?[!.?]?$`)
	simpleThanksRe   = regexp.MustCompile(`^(thanks|thank you|ty)( very much)?( so much)?[!.?]?$`)
	simpleHelpRe     = regexp.MustCompile(`^(help|what can you do|how does this work)\??$`)

	productQueryRe = regexp.MustCompile(`shoe|sneaker|footwear|boot|size|fit|brand|color|red|blue|black|white`)
	commonQueryRe  = regexp.MustCompile(`shipping|returns|payment|order|tracking`)
	sizePhraseRe   = regexp.MustCompile(`size\s+(\d+(?:\.\d+)?)`)
)

type Engine struct {
	inference *InferenceClient
	catalog   *catalog.Service
	shared    *cache.Store
	breaker   *resilience.CircuitBreaker
	log       *slog.Logger

	mu    sync.RWMutex
	local map[string]Result
}

func New(inference *InferenceClient, cat *catalog.Service, shared *cache.Store, breaker *resilience.CircuitBreaker, log *slog.Logger) *Engine {
	return &Engine{
		inference: inference,
		catalog:   cat,
		shared:    shared,
		breaker:   breaker,
		log:       log,
		local:     make(map[string]Result),
	}
}

// GenerateResponse runs the tiered strategy for one utterance. Any
// internal panic or error collapses into the deterministic fallback,
// so the returned message is always non-empty.
func (e *Engine) GenerateResponse(ctx context.Context, query string, history []domain.HistoryEntry) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("reply generation panicked", "panic", r, "query", query)
			result = e.emergencyResult(query)
		}
		if result.Message == "" {
			result = e.emergencyResult(query)
		}
	}()

	normalized := cache.NormalizeQuery(query)

	if cached, ok := e.localLookup(normalized); ok {
		cached.Metadata.Source = SourceLocalCache
		return cached
	}

	var cached Result
	if e.shared.GetJSON(ctx, cache.ResponseKey(normalized), &cached) && cached.Message != "" {
		e.localStore(normalized, cached)
		cached.Metadata.Source = SourceSharedCache
		return cached
	}

	if !e.breaker.Allow() {
		e.log.Warn("circuit breaker open, using local rules", "failures", e.breaker.Failures())
		return e.localResult(query)
	}

	if simple := simpleReply(strings.ToLower(strings.TrimSpace(query))); simple != "" {
		result = Result{
			Message: simple,
			Metadata: Metadata{
				Intent:    DetectIntent(query),
				Sentiment: DetectSentiment(query),
				Source:    SourceSimple,
			},
			Context: ContextUpdate{LastQuery: query},
		}
		e.localStore(normalized, result)
		return result
	}

	var products []*domain.Shoe
	if productQueryRe.MatchString(strings.ToLower(query)) {
		found, err := e.catalog.SearchRelevant(ctx, query, relevantProductLimit)
		if err != nil {
			e.log.Error("relevance search failed", "error", err)
		} else {
			products = found
		}
	}

	prompt := buildPrompt(query, history, products)
	text, model, err := e.inference.Generate(ctx, prompt)
	source := model
	if err != nil || text == "" {
		e.log.Warn("inference unavailable, using deterministic fallback", "error", err)
		text = deterministicReply(query, products)
		source = SourceFallback
	}

	result = Result{
		Message: text,
		Metadata: Metadata{
			Intent:    DetectIntent(query),
			Sentiment: DetectSentiment(query),
			Source:    source,
			Products:  shoeIDs(products),
		},
		Context: ContextUpdate{
			LastQuery:         query,
			MentionedProducts: shoeIDs(products),
		},
	}

	// Only common or short queries are worth caching; long free-form
	// questions rarely repeat verbatim.
	if commonQueryRe.MatchString(strings.ToLower(query)) || len(query) < 20 {
		e.localStore(normalized, result)
		e.shared.SetJSON(ctx, cache.ResponseKey(normalized), result, e.shared.ResponseTTL())
	}
	return result
}

// localResult answers from rules alone, used while the breaker is open.
func (e *Engine) localResult(query string) Result {
	return Result{
		Message: deterministicReply(query, nil),
		Metadata: Metadata{
			Intent:    DetectIntent(query),
			Sentiment: DetectSentiment(query),
			Source:    SourceLocalRules,
		},
		Context: ContextUpdate{LastQuery: query},
	}
}

func (e *Engine) emergencyResult(query string) Result {
	return Result{
		Message: "I'm here to help you find the perfect shoes for your needs. Could you tell me what type of shoes you're looking for?",
		Metadata: Metadata{
			Intent:    DetectIntent(query),
			Sentiment: "neutral",
			Source:    SourceFallback,
		},
		Context: ContextUpdate{LastQuery: query},
	}
}

// Warmup pre-warms the inference model so the first user does not wait
// out a cold start.
func (e *Engine) Warmup(ctx context.Context) {
	e.inference.Warmup(ctx)
}

func (e *Engine) localLookup(normalized string) (Result, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.local[normalized]
	return r, ok
}

func (e *Engine) localStore(normalized string, r Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.local[normalized] = r
}

// simpleReply answers the canonical high-frequency intents without
// touching search or inference. Empty string means not applicable.
func simpleReply(normalized string) string {
	switch {
	case simpleGreetingRe.MatchString(normalized):
		return "Hello! I'm your shoe shopping assistant. How can I help you today? Are you looking for any specific type of shoes?"
	case simpleThanksRe.MatchString(normalized):
		return "You're welcome! Is there anything else I can help you with today?"
	case simpleHelpRe.MatchString(normalized):
		return "I can help you find the perfect shoes based on your preferences. You can ask me about specific types, colors, or sizes of shoes. I can also provide information about shipping, returns, and payment options. What kind of shoes are you looking for today?"
	default:
		return ""
	}
}

// deterministicReply synthesizes a canned response conditioned on the
// utterance and whatever grounding products were found before the
// upstream call failed.
func deterministicReply(query string, products []*domain.Shoe) string {
	lower := strings.ToLower(query)
	intent := DetectIntent(query)

	if strings.Contains(lower, "red") && strings.Contains(lower, "shoe") {
		var red []*domain.Shoe
		for _, p := range products {
			if strings.Contains(strings.ToLower(p.Color), "red") {
				red = append(red, p)
			}
		}
		if len(red) > 0 {
			parts := make([]string, len(red))
			for i, p := range red {
				parts[i] = fmt.Sprintf("%s (%s, %s)", p.Label(), p.Color, p.PriceLabel())
			}
			return fmt.Sprintf("I found some red shoes that might interest you! Here are a few options: %s. Would you like more details about any of these?", strings.Join(parts, ", "))
		}
		return "I can help you find red shoes! We have several options like the Chuck Taylor All Star by Converse and the Authentic by Vans which come in red. What size are you looking for?"
	}

	if intent == IntentSizing || sizePhraseRe.MatchString(lower) {
		if m := sizePhraseRe.FindStringSubmatch(lower); m != nil {
			size, _ := strconv.ParseFloat(m[1], 64)
			var matching []*domain.Shoe
			for _, p := range products {
				if p.Size == size {
					matching = append(matching, p)
				}
			}
			if len(matching) > 0 {
				if len(matching) > 3 {
					matching = matching[:3]
				}
				parts := make([]string, len(matching))
				for i, p := range matching {
					parts[i] = fmt.Sprintf("%s (%s)", p.Label(), p.Color)
				}
				return fmt.Sprintf("I found some shoes in size %g! Here are some options: %s. Would you like more information about any of these?", size, strings.Join(parts, ", "))
			}
			return fmt.Sprintf("For size %g, we have several options including running shoes, casual sneakers, and athletic shoes. What style or color are you interested in?", size)
		}
		return "Our shoes generally run true to size. If you're between sizes, I'd recommend going up half a size, especially for athletic shoes. What size are you looking for?"
	}

	switch intent {
	case IntentShipping:
		return "We offer free shipping on all orders over $100. Standard shipping typically takes 3-5 business days, while express shipping takes 1-2 business days for an additional fee."
	case IntentReturns:
		return "We have a 30-day return policy. If you're not satisfied with your purchase, you can return unworn shoes with the original packaging for a full refund or exchange."
	case IntentPurchase:
		return "Ready to make a purchase? You can add items to your cart and proceed to checkout where you'll have multiple payment options including credit card and PayPal. Is there a specific pair of shoes you'd like to buy?"
	}

	if len(products) > 0 {
		p := products[0]
		return fmt.Sprintf("Based on your interests, I'd recommend checking out the %s. It's priced at %s and available in %s. Would you like more details about this shoe?", p.Label(), p.PriceLabel(), p.Color)
	}

	return "I'd be happy to help you find the perfect shoes. We have a wide selection of running shoes, casual sneakers, dress shoes, and athletic footwear. Could you tell me more about what type of shoes you're looking for?"
}

func shoeIDs(shoes []*domain.Shoe) []int64 {
	if len(shoes) == 0 {
		return nil
	}
	ids := make([]int64, len(shoes))
	for i, s := range shoes {
		ids[i] = s.ID
	}
	return ids
}
