package catalog

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/MATTHEWPURBA/server-myshoes-store/internal/domain"
)

// Shoe sizes outside this range are treated as random numbers in the
// message, not size requests.
const (
	MinSize = 5
	MaxSize = 15
)

// colorGroups maps every recognized color word to its canonical color.
// Synonyms collapse onto the base color so "navy sneakers" matches
// blue stock.
var colorGroups = map[string]string{
	"black":    "black",
	"white":    "white",
	"red":      "red",
	"crimson":  "red",
	"maroon":   "red",
	"blue":     "blue",
	"navy":     "blue",
	"green":    "green",
	"olive":    "green",
	"yellow":   "yellow",
	"pink":     "pink",
	"purple":   "purple",
	"violet":   "purple",
	"brown":    "brown",
	"beige":    "brown",
	"tan":      "brown",
	"grey":     "grey",
	"gray":     "grey",
	"charcoal": "grey",
	"orange":   "orange",
}

// knownBrands are matched case-insensitively as whole phrases, longest
// first so "new balance" wins over any single-word brand.
var knownBrands = []string{
	"new balance",
	"nike",
	"adidas",
	"puma",
	"reebok",
	"converse",
	"vans",
	"asics",
}

var (
	sizePhraseRe = regexp.MustCompile(`size\s*(\d{1,2}(?:\.5)?)`)
	bareNumberRe = regexp.MustCompile(`\b(\d{1,2}(?:\.5)?)\b`)
	tokenRe      = regexp.MustCompile(`[a-z0-9.]+`)
)

// ExtractFilters pulls color, brand and size out of free-form user
// text. Absent attributes stay zero so the result can be merged over
// an earlier context.
func ExtractFilters(text string) domain.Filters {
	lower := strings.ToLower(text)
	var f domain.Filters

	for _, token := range tokenRe.FindAllString(lower, -1) {
		if canonical, ok := colorGroups[token]; ok {
			f.Color = canonical
			break
		}
	}

	for _, brand := range knownBrands {
		if strings.Contains(lower, brand) {
			f.Brand = brand
			break
		}
	}

	f.Size = extractSize(lower)
	return f
}

// extractSize prefers an explicit "size N" phrase, then falls back to
// any bare number that lands in the plausible size range.
func extractSize(lower string) float64 {
	if m := sizePhraseRe.FindStringSubmatch(lower); m != nil {
		if sz, err := strconv.ParseFloat(m[1], 64); err == nil && sz >= MinSize && sz <= MaxSize {
			return sz
		}
	}
	for _, m := range bareNumberRe.FindAllStringSubmatch(lower, -1) {
		if sz, err := strconv.ParseFloat(m[1], 64); err == nil && sz >= MinSize && sz <= MaxSize {
			return sz
		}
	}
	return 0
}
