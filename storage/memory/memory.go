// Package memory provides an in-memory IStorage with the same
// conditional-update semantics as the postgres implementation. It backs the
// unit tests and any environment without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"dispatchbot/pkg/models"
	"dispatchbot/storage"
)

type Store struct {
	mu sync.Mutex

	orders   map[string]*models.Order
	accounts map[string]*models.ProviderAccount
	timers   map[int64]*models.AuctionTimer
	bids     map[int64]*models.Bid
	txlog    []*models.TransactionEntry

	nextTimerID int64
	nextBidID   int64
	nextTxID    int64
}

func New() *Store {
	return &Store{
		orders:   make(map[string]*models.Order),
		accounts: make(map[string]*models.ProviderAccount),
		timers:   make(map[int64]*models.AuctionTimer),
		bids:     make(map[int64]*models.Bid),
	}
}

func (s *Store) Order() storage.IOrderStorage     { return (*orderStore)(s) }
func (s *Store) Account() storage.IAccountStorage { return (*accountStore)(s) }
func (s *Store) Timer() storage.ITimerStorage     { return (*timerStore)(s) }
func (s *Store) Bid() storage.IBidStorage         { return (*bidStore)(s) }
func (s *Store) TxLog() storage.ITxLogStorage     { return (*txLogStore)(s) }
func (s *Store) Close()                           {}

// ---------------------------------------------------------------------------
// orders

type orderStore Store

func (s *orderStore) Create(_ context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now
	cp := *order
	s.orders[order.ID] = &cp
	return nil
}

func (s *orderStore) GetByID(_ context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *orderStore) GetLatestActive(_ context.Context, clientRef string, kind models.ServiceKind) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.Order
	for _, o := range s.orders {
		if o.ClientRef != clientRef || o.IsTerminal() {
			continue
		}
		if kind != "" && o.Kind != kind {
			continue
		}
		if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
			latest = o
		}
	}
	if latest == nil {
		return nil, models.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *orderStore) UpdateStatus(_ context.Context, id string, status models.OrderStatus, upd models.StatusUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok || o.IsTerminal() {
		return false, nil
	}

	o.Status = status
	o.UpdatedAt = time.Now()
	if upd.ProviderID != nil {
		o.ProviderID = upd.ProviderID
	}
	if upd.DriverID != nil {
		o.DriverID = upd.DriverID
	}
	if upd.ClearDriver {
		o.DriverID = nil
	}
	if upd.Price != nil {
		o.Price = *upd.Price
	}
	if upd.ReadyTime != nil {
		o.ReadyTime = *upd.ReadyTime
	}
	if upd.DriverAssignedAt != nil {
		o.DriverAssignedAt = upd.DriverAssignedAt
	}
	if upd.DriverCommission != nil {
		o.DriverCommission = *upd.DriverCommission
	}
	if upd.CompletedAt != nil {
		o.CompletedAt = upd.CompletedAt
	}
	if upd.Urgent {
		o.IsUrgent = true
	}
	return true, nil
}

func (s *orderStore) AssignDriver(_ context.Context, id, driverID string, newStatus models.OrderStatus,
	allowed []models.OrderStatus, assignedAt time.Time, commission float64) (bool, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok || o.DriverID != nil || !statusIn(o.Status, allowed) {
		return false, nil
	}

	o.Status = newStatus
	o.DriverID = &driverID
	t := assignedAt
	o.DriverAssignedAt = &t
	o.DriverCommission = commission
	o.UpdatedAt = time.Now()
	return true, nil
}

func (s *orderStore) AssignProvider(_ context.Context, id, providerID string, newStatus models.OrderStatus,
	allowed []models.OrderStatus, price *float64) (bool, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok || o.ProviderID != nil || !statusIn(o.Status, allowed) {
		return false, nil
	}

	o.Status = newStatus
	o.ProviderID = &providerID
	if price != nil {
		o.Price = *price
	}
	o.UpdatedAt = time.Now()
	return true, nil
}

func (s *orderStore) SetUrgent(_ context.Context, id string, allowed []models.OrderStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok || !statusIn(o.Status, allowed) {
		return false, nil
	}

	o.Status = models.StatusUrgent
	o.IsUrgent = true
	o.UpdatedAt = time.Now()
	return true, nil
}

func statusIn(s models.OrderStatus, list []models.OrderStatus) bool {
	for _, candidate := range list {
		if s == candidate {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// accounts

type accountStore Store

func (s *accountStore) Upsert(_ context.Context, acc *models.ProviderAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.accounts[acc.ID]; ok {
		existing.Name = acc.Name
		existing.Phone = acc.Phone
		existing.Active = true
		existing.UpdatedAt = now
		return nil
	}

	cp := *acc
	cp.Active = true
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.accounts[acc.ID] = &cp
	return nil
}

func (s *accountStore) GetByID(_ context.Context, id string) (*models.ProviderAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *accountStore) AdjustBalance(_ context.Context, id string, delta, floor float64) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return 0, false, nil
	}
	if a.Balance+delta < floor {
		return 0, false, nil
	}

	a.Balance += delta
	a.UpdatedAt = time.Now()
	return a.Balance, true, nil
}

func (s *accountStore) AddDebt(_ context.Context, id string, amount float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return 0, models.ErrNotFound
	}

	a.Debt += amount
	a.UpdatedAt = time.Now()
	return a.Debt, nil
}

func (s *accountStore) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	a.Active = active
	a.UpdatedAt = time.Now()
	return nil
}

// ---------------------------------------------------------------------------
// timers

type timerStore Store

func (s *timerStore) Create(_ context.Context, t *models.AuctionTimer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTimerID++
	t.ID = s.nextTimerID
	cp := *t
	s.timers[t.ID] = &cp
	return nil
}

func (s *timerStore) GetExpired(_ context.Context, now time.Time) ([]*models.AuctionTimer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*models.AuctionTimer
	for _, t := range s.timers {
		if t.Processed || t.ExpiresAt.After(now) {
			continue
		}
		cp := *t
		expired = append(expired, &cp)
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	return expired, nil
}

func (s *timerStore) GetLatestUnprocessed(_ context.Context, orderID, tag string) (*models.AuctionTimer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.AuctionTimer
	for _, t := range s.timers {
		if t.Processed || t.OrderID != orderID || t.Tag != tag {
			continue
		}
		if latest == nil || t.ID > latest.ID {
			latest = t
		}
	}
	if latest == nil {
		return nil, models.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *timerStore) MarkProcessed(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[id]
	if !ok || t.Processed {
		return false, nil
	}
	t.Processed = true
	return true, nil
}

// ---------------------------------------------------------------------------
// bids

type bidStore Store

func (s *bidStore) Create(_ context.Context, bid *models.Bid) (*models.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextBidID++
	bid.ID = s.nextBidID
	bid.CreatedAt = time.Now()
	cp := *bid
	s.bids[bid.ID] = &cp
	return bid, nil
}

func (s *bidStore) GetByID(_ context.Context, id int64) (*models.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bids[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *bidStore) GetByOrder(_ context.Context, orderID string) ([]*models.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bids []*models.Bid
	for _, b := range s.bids {
		if b.OrderID != orderID {
			continue
		}
		cp := *b
		bids = append(bids, &cp)
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price < bids[j].Price })
	return bids, nil
}

func (s *bidStore) MarkSelected(_ context.Context, id int64, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.bids[id]
	if !ok || target.OrderID != orderID {
		return false, nil
	}
	for _, b := range s.bids {
		if b.OrderID == orderID && b.Selected {
			return false, nil
		}
	}
	target.Selected = true
	return true, nil
}

// ---------------------------------------------------------------------------
// transaction log

type txLogStore Store

func (s *txLogStore) Append(_ context.Context, entry *models.TransactionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTxID++
	entry.ID = s.nextTxID
	entry.CreatedAt = time.Now()
	cp := *entry
	s.txlog = append(s.txlog, &cp)
	return nil
}

func (s *txLogStore) List(_ context.Context, actorID string, limit int) ([]*models.TransactionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []*models.TransactionEntry
	for i := len(s.txlog) - 1; i >= 0 && len(entries) < limit; i-- {
		e := s.txlog[i]
		if actorID != "" && e.ActorID != actorID {
			continue
		}
		cp := *e
		entries = append(entries, &cp)
	}
	return entries, nil
}
