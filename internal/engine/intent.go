package engine

import (
	"regexp"
	"strings"
)

// Intents drive reply wording and are reported in response metadata.
const (
	IntentProductSearch = "product_search"
	IntentSizing        = "sizing"
	IntentShipping      = "shipping"
	IntentReturns       = "returns"
	IntentPurchase      = "purchase"
	IntentGeneral       = "general"
)

var (
	searchRe   = regexp.MustCompile(`looking for|find|search|show me|have any|got any`)
	colorRe    = regexp.MustCompile(`\b(red|blue|black|white|green|brown|yellow|purple|pink|orange|gray|grey)\b`)
	sizingRe   = regexp.MustCompile(`size|fit|sizing|too big|too small|width|narrow|wide`)
	shippingRe = regexp.MustCompile(`ship|deliver|shipping|delivery|arrive|when will|how soon`)
	returnsRe  = regexp.MustCompile(`return|exchange|refund|send back|money back`)
	brandRe    = regexp.MustCompile(`nike|adidas|puma|reebok|vans|converse|asics|new balance`)
	purchaseRe = regexp.MustCompile(`buy|purchase|order|checkout|want to get|interested in`)
)

// DetectIntent classifies an utterance into one of the canonical
// intents by first-match pattern priority.
func DetectIntent(query string) string {
	lower := strings.ToLower(query)
	switch {
	case searchRe.MatchString(lower):
		return IntentProductSearch
	case colorRe.MatchString(lower):
		return IntentProductSearch
	case sizingRe.MatchString(lower):
		return IntentSizing
	case shippingRe.MatchString(lower):
		return IntentShipping
	case returnsRe.MatchString(lower):
		return IntentReturns
	case brandRe.MatchString(lower):
		return IntentProductSearch
	case purchaseRe.MatchString(lower):
		return IntentPurchase
	default:
		return IntentGeneral
	}
}

var (
	positiveWords = []string{"good", "great", "excellent", "love", "like", "happy", "thanks"}
	negativeWords = []string{"bad", "terrible", "hate", "dislike", "unhappy", "disappointed"}
)

// DetectSentiment scores an utterance by keyword balance.
func DetectSentiment(query string) string {
	lower := strings.ToLower(query)
	score := 0
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			score++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			score--
		}
	}
	switch {
	case score > 0:
		return "positive"
	case score < 0:
		return "negative"
	default:
		return "neutral"
	}
}
