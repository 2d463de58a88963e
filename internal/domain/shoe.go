package domain

import "fmt"

// Shoe is a catalog product row. The catalog itself is maintained by the
// store-management side of the system; the chat pipeline only reads it.
type Shoe struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Brand       string  `json:"brand"`
	Color       string  `json:"color"`
	Size        float64 `json:"size"`
	Price       float64 `json:"price"`
	Stock       int     `json:"stock"`
	Description string  `json:"description,omitempty"`
}

// Label returns the short human-readable form used in chat responses.
func (s *Shoe) Label() string {
	return fmt.Sprintf("%s by %s", s.Name, s.Brand)
}

// PriceLabel formats the price the way chat responses quote it.
func (s *Shoe) PriceLabel() string {
	return fmt.Sprintf("$%.2f", s.Price)
}
