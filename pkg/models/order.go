package models

import "time"

// OrderStatus is the closed set of order lifecycle states.
type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusAuction    OrderStatus = "AUCTION"
	StatusUrgent     OrderStatus = "URGENT"
	StatusAccepted   OrderStatus = "ACCEPTED"
	StatusReady      OrderStatus = "READY"
	StatusInDelivery OrderStatus = "IN_DELIVERY"
	StatusCompleted  OrderStatus = "COMPLETED"
	StatusCancelled  OrderStatus = "CANCELLED"
)

// transitions encodes the allowed status graph. Terminal states have no row.
var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:    {StatusAuction, StatusUrgent, StatusAccepted, StatusCancelled},
	StatusAuction:    {StatusAccepted, StatusCancelled},
	StatusUrgent:     {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusReady, StatusInDelivery, StatusCancelled},
	StatusReady:      {StatusInDelivery, StatusCancelled},
	StatusInDelivery: {StatusCompleted, StatusCancelled},
}

func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether the graph permits s -> next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ActiveStatuses are the non-terminal states, newest-order lookups filter on them.
func ActiveStatuses() []OrderStatus {
	return []OrderStatus{
		StatusPending, StatusAuction, StatusUrgent,
		StatusAccepted, StatusReady, StatusInDelivery,
	}
}

type Order struct {
	ID               string      `json:"id"`
	Kind             ServiceKind `json:"kind"`
	Status           OrderStatus `json:"status"`
	ClientRef        string      `json:"client_ref"`
	ProviderID       *string     `json:"provider_id"`
	DriverID         *string     `json:"driver_id"`
	Price            float64     `json:"price"`
	Commission       float64     `json:"commission"`
	DriverCommission float64     `json:"driver_commission"`
	Details          string      `json:"details"`
	Address          string      `json:"address"`
	PaymentMethod    string      `json:"payment_method"`
	CargoType        string      `json:"cargo_type"`
	ReadyTime        int         `json:"ready_time"`
	IsUrgent         bool        `json:"is_urgent"`
	DriverAssignedAt *time.Time  `json:"driver_assigned_at"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	CompletedAt      *time.Time  `json:"completed_at"`
}

func (o *Order) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// StatusUpdate carries the optional fields that may change together with a
// status transition. Nil fields are left untouched.
type StatusUpdate struct {
	ProviderID       *string
	DriverID         *string
	ClearDriver      bool
	Price            *float64
	ReadyTime        *int
	DriverAssignedAt *time.Time
	DriverCommission *float64
	CompletedAt      *time.Time
	Urgent           bool
}
