package engine

import (
	"fmt"
	"strings"

	"github.com/MATTHEWPURBA/server-myshoes-store/internal/domain"
)

const assistantMarker = "[ASSISTANT]:"

// buildPrompt assembles the instruction block, grounding products,
// conversation history and the current utterance into a single
// instruct-style prompt. The model is constrained to the listed
// products so it cannot invent inventory.
func buildPrompt(query string, history []domain.HistoryEntry, products []*domain.Shoe) string {
	var b strings.Builder
	b.WriteString(`[SYSTEM]: You are a helpful assistant for a shoe store. Answer customer questions politely and concisely.
Your goal is to help customers find the perfect shoes based ONLY on the product information I provide below.
IMPORTANT: Only mention products that are listed in the product information section. DO NOT make up or suggest products that aren't listed below.

Here are the types of shoes we offer:
- Running shoes
- Casual sneakers
- Dress shoes
- Athletic shoes

We offer free shipping on all orders over $100 and have a 30-day return policy.`)

	if len(products) > 0 {
		b.WriteString("\n\nRELEVANT PRODUCTS (ONLY recommend these specific products to the customer):\n")
		for i, p := range products {
			desc := p.Description
			if desc == "" {
				desc = "No description available"
			}
			fmt.Fprintf(&b, "%d. %s: %s.\n- Size: %g, Color: %s (IMPORTANT: Only suggest this product if the color matches what the customer is looking for)\n- Stock available: %d pairs\n- Features: %s\n",
				i+1, p.Label(), p.PriceLabel(), p.Size, p.Color, p.Stock, desc)
		}
		b.WriteString("\nONLY refer to the above products in your response. If none of these products match what the customer is looking for, say we don't have exact matches available right now but you can check our website for more options. NEVER mention products that aren't in the above list.")
	} else {
		b.WriteString("\n\nWe don't have products that match the customer's exact request. Let them know we don't have matches in our current inventory but they can check our website for more options.")
	}

	if len(history) > 0 {
		b.WriteString("\n\nPrevious messages:")
		for _, msg := range history {
			fmt.Fprintf(&b, "\n[%s]: %s", strings.ToUpper(msg.Role), msg.Content)
		}
	}

	fmt.Fprintf(&b, "\n\n[USER]: %s\n%s", query, assistantMarker)
	return b.String()
}
