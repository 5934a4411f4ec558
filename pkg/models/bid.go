package models

import "time"

// Bid is a provider's price offer against a pharmacy-style order. Many bids
// per order; at most one ever becomes selected, and selection is monotonic.
type Bid struct {
	ID         int64     `json:"id"`
	OrderID    string    `json:"order_id"`
	ProviderID string    `json:"provider_id"`
	Price      float64   `json:"price"`
	Selected   bool      `json:"is_selected"`
	CreatedAt  time.Time `json:"created_at"`
}
