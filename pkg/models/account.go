package models

import "time"

// AccountType mirrors the actor registries of the marketplace.
type AccountType string

const (
	AccountDriver   AccountType = "driver"
	AccountCafe     AccountType = "cafe"
	AccountPharmacy AccountType = "pharmacy"
	AccountShopper  AccountType = "shopper"
)

// ProviderAccount is any balance-holding actor. Prepaid actors work against
// Balance, postpaid actors accumulate commission into Debt.
type ProviderAccount struct {
	ID        string      `json:"id"`
	Type      AccountType `json:"type"`
	Name      string      `json:"name"`
	Phone     string      `json:"phone"`
	Balance   float64     `json:"balance"`
	Debt      float64     `json:"debt"`
	Active    bool        `json:"is_active"`
	Blocked   bool        `json:"is_blocked"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
