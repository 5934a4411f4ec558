package models

import "time"

// AuctionTimer is a deadline bound to one order and one broadcast message.
// Processed flips false -> true exactly once and the row is kept for audit.
type AuctionTimer struct {
	ID        int64     `json:"id"`
	OrderID   string    `json:"order_id"`
	Tag       string    `json:"tag"`
	ChatID    string    `json:"chat_id"`
	MessageID string    `json:"message_id"`
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Processed bool      `json:"is_processed"`
}
