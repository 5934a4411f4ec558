package models

import "time"

// TransactionEntry is one immutable row of the append-only audit log.
type TransactionEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	ActorID   string    `json:"actor_id"`
	OrderID   string    `json:"order_id"`
	Amount    *float64  `json:"amount"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}
