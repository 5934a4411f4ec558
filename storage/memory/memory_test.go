package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatchbot/pkg/models"
)

func seedOrder(t *testing.T, s *Store, status models.OrderStatus) *models.Order {
	t.Helper()

	order := &models.Order{
		ID:        "GO-test-1",
		Kind:      models.KindTaxi,
		Status:    status,
		ClientRef: "client-1",
		Price:     100,
	}
	require.NoError(t, s.Order().Create(context.Background(), order))
	return order
}

func TestAssignDriverRace(t *testing.T) {
	s := New()
	ctx := context.Background()
	order := seedOrder(t, s, models.StatusPending)

	allowed := []models.OrderStatus{models.StatusPending, models.StatusAuction, models.StatusUrgent}

	const n = 50
	var (
		wg   sync.WaitGroup
		wins int64
		mu   sync.Mutex
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.Order().AssignDriver(ctx, order.ID, fmt.Sprintf("driver-%d", i),
				models.StatusAccepted, allowed, time.Now(), 10)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins)

	got, err := s.Order().GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, got.Status)
	require.NotNil(t, got.DriverID)
}

func TestAssignDriverStatusGuard(t *testing.T) {
	s := New()
	ctx := context.Background()
	order := seedOrder(t, s, models.StatusAccepted)

	allowed := []models.OrderStatus{models.StatusPending, models.StatusAuction, models.StatusUrgent}
	ok, err := s.Order().AssignDriver(ctx, order.ID, "d1", models.StatusAccepted, allowed, time.Now(), 10)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateStatusTerminalGuard(t *testing.T) {
	s := New()
	ctx := context.Background()
	order := seedOrder(t, s, models.StatusInDelivery)

	ok, err := s.Order().UpdateStatus(ctx, order.ID, models.StatusCompleted, models.StatusUpdate{})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Order().UpdateStatus(ctx, order.ID, models.StatusCancelled, models.StatusUpdate{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdjustBalanceAtomicFloor(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Account().Upsert(ctx, &models.ProviderAccount{
		ID:      "d1",
		Type:    models.AccountDriver,
		Balance: 100,
	}))

	// Concurrent debits of 30 against a floor of 10: exactly three fit.
	const n = 10
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, applied, err := s.Account().AdjustBalance(ctx, "d1", -30, 10)
			assert.NoError(t, err)
			if applied {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, ok)

	acc, err := s.Account().GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, float64(10), acc.Balance)
}

func TestMarkProcessedOnce(t *testing.T) {
	s := New()
	ctx := context.Background()

	timer := &models.AuctionTimer{
		OrderID:   "GO-test-1",
		Tag:       models.TagTaxi,
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, s.Timer().Create(ctx, timer))

	const n = 10
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Timer().MarkProcessed(ctx, timer.ID)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, claims)

	expired, err := s.Timer().GetExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestMarkSelectedMonotonic(t *testing.T) {
	s := New()
	ctx := context.Background()

	b1, err := s.Bid().Create(ctx, &models.Bid{OrderID: "o1", ProviderID: "ph-1", Price: 100})
	require.NoError(t, err)
	b2, err := s.Bid().Create(ctx, &models.Bid{OrderID: "o1", ProviderID: "ph-2", Price: 90})
	require.NoError(t, err)

	ok, err := s.Bid().MarkSelected(ctx, b1.ID, "o1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Bid().MarkSelected(ctx, b2.ID, "o1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Re-selecting the winner is also refused.
	ok, err = s.Bid().MarkSelected(ctx, b1.ID, "o1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetExpiredOrdering(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	late := &models.AuctionTimer{OrderID: "o1", Tag: models.TagTaxi, ExpiresAt: now.Add(-time.Minute)}
	early := &models.AuctionTimer{OrderID: "o2", Tag: models.TagTaxi, ExpiresAt: now.Add(-time.Hour)}
	future := &models.AuctionTimer{OrderID: "o3", Tag: models.TagTaxi, ExpiresAt: now.Add(time.Hour)}
	for _, timer := range []*models.AuctionTimer{late, early, future} {
		require.NoError(t, s.Timer().Create(ctx, timer))
	}

	expired, err := s.Timer().GetExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, "o2", expired[0].OrderID)
	assert.Equal(t, "o1", expired[1].OrderID)
}
