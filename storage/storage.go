package storage

import (
	"context"
	"time"

	"dispatchbot/pkg/models"
)

type IStorage interface {
	Order() IOrderStorage
	Account() IAccountStorage
	Timer() ITimerStorage
	Bid() IBidStorage
	TxLog() ITxLogStorage
	Close()
}

type IOrderStorage interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	GetLatestActive(ctx context.Context, clientRef string, kind models.ServiceKind) (*models.Order, error)

	// UpdateStatus writes status plus any optional fields. It refuses to
	// touch terminal orders: returns false when no non-terminal row with
	// the given id was updated.
	UpdateStatus(ctx context.Context, id string, status models.OrderStatus, upd models.StatusUpdate) (bool, error)

	// AssignDriver is the atomic assignment primitive: the driver reference
	// and new status change together only while the current status is one
	// of allowed and no driver is set yet. Exactly one of N concurrent
	// calls gets true.
	AssignDriver(ctx context.Context, id, driverID string, newStatus models.OrderStatus,
		allowed []models.OrderStatus, assignedAt time.Time, commission float64) (bool, error)

	// AssignProvider is the provider-side variant, keyed on "no provider
	// bound yet".
	AssignProvider(ctx context.Context, id, providerID string, newStatus models.OrderStatus,
		allowed []models.OrderStatus, price *float64) (bool, error)

	// SetUrgent marks an order urgent only while it still sits in one of
	// allowed.
	SetUrgent(ctx context.Context, id string, allowed []models.OrderStatus) (bool, error)
}

type IAccountStorage interface {
	Upsert(ctx context.Context, acc *models.ProviderAccount) error
	GetByID(ctx context.Context, id string) (*models.ProviderAccount, error)

	// AdjustBalance applies delta atomically. A debit that would land the
	// balance below floor is rejected (ok=false) without changing anything.
	AdjustBalance(ctx context.Context, id string, delta, floor float64) (newBalance float64, ok bool, err error)

	// AddDebt accumulates commission for postpaid accounts; debt is
	// unbounded.
	AddDebt(ctx context.Context, id string, amount float64) (newDebt float64, err error)

	SetActive(ctx context.Context, id string, active bool) error
}

type ITimerStorage interface {
	Create(ctx context.Context, t *models.AuctionTimer) error
	GetExpired(ctx context.Context, now time.Time) ([]*models.AuctionTimer, error)
	GetLatestUnprocessed(ctx context.Context, orderID, tag string) (*models.AuctionTimer, error)

	// MarkProcessed flips processed false -> true. The losing side of a
	// concurrent flip gets false and must skip the timer.
	MarkProcessed(ctx context.Context, id int64) (bool, error)
}

type IBidStorage interface {
	Create(ctx context.Context, bid *models.Bid) (*models.Bid, error)
	GetByID(ctx context.Context, id int64) (*models.Bid, error)
	GetByOrder(ctx context.Context, orderID string) ([]*models.Bid, error)

	// MarkSelected selects a bid only while no bid of the order is selected
	// yet. Selection is monotonic.
	MarkSelected(ctx context.Context, id int64, orderID string) (bool, error)
}

type ITxLogStorage interface {
	Append(ctx context.Context, entry *models.TransactionEntry) error
	List(ctx context.Context, actorID string, limit int) ([]*models.TransactionEntry, error)
}
