package domain

// Filters holds the product attributes a conversation has accumulated so
// far. Zero values mean "not specified".
type Filters struct {
	Size  float64 `json:"size,omitempty"`
	Color string  `json:"color,omitempty"`
	Brand string  `json:"brand,omitempty"`
}

// IsEmpty reports whether no filter is set.
func (f Filters) IsEmpty() bool {
	return f.Size == 0 && f.Color == "" && f.Brand == ""
}

// Merge overlays the non-zero fields of other onto f. Filters from earlier
// turns persist unless the new turn mentions the same attribute again.
func (f Filters) Merge(other Filters) Filters {
	if other.Size != 0 {
		f.Size = other.Size
	}
	if other.Color != "" {
		f.Color = other.Color
	}
	if other.Brand != "" {
		f.Brand = other.Brand
	}
	return f
}

// ConversationContext is the per-session mutable state carried between
// turns. It is read-modify-written each turn; later values overwrite
// earlier ones per key. Lifetime is bounded by the cache TTL.
type ConversationContext struct {
	Filters           Filters `json:"filters"`
	LastQuery         string  `json:"last_query,omitempty"`
	MentionedProducts []int64 `json:"mentioned_products,omitempty"`
}

// Reset clears accumulated filters. Used when a greeting signals a new
// topic.
func (c *ConversationContext) Reset() {
	c.Filters = Filters{}
	c.MentionedProducts = nil
}
