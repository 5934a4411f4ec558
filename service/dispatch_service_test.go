package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatchbot/pkg/models"
)

func TestCreateOrderValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateOrderRequest
	}{
		{"missing client", CreateOrderRequest{Kind: models.KindTaxi, Details: "x"}},
		{"unknown kind", CreateOrderRequest{ClientRef: "c", Kind: "laundry", Details: "x"}},
		{"missing details", CreateOrderRequest{ClientRef: "c", Kind: models.KindTaxi}},
		{"negative price", CreateOrderRequest{ClientRef: "c", Kind: models.KindTaxi, Details: "x", Price: -5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.dispatch.CreateOrder(ctx, tc.req)
			var verr *models.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestCreateOrderBroadcastsAndArmsTimer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order := env.createOrder(t, models.KindTaxi, 150)

	require.Equal(t, models.StatusPending, order.Status)
	require.Equal(t, 1, env.gw.sentCount())
	assert.Equal(t, "100", env.gw.sends[0].ChatID)

	timer, err := env.stg.Timer().GetLatestUnprocessed(ctx, order.ID, models.TagTaxi)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(env.cfg.TaxiResponseTimeout), timer.ExpiresAt, time.Second)
}

func TestAssignDriverExactlyOneWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order := env.createOrder(t, models.KindTaxi, 150)

	const drivers = 20
	for i := 0; i < drivers; i++ {
		env.addDriver(t, driverID(i), 100)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := env.dispatch.AssignDriver(ctx, order.ID, id)
			if err != nil {
				assert.ErrorIs(t, err, models.ErrConflict)
				return
			}
			mu.Lock()
			winners = append(winners, *res.Order.DriverID)
			mu.Unlock()
		}(driverID(i))
	}
	wg.Wait()

	require.Len(t, winners, 1)

	got, err := env.stg.Order().GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, got.Status)
	require.NotNil(t, got.DriverID)
	assert.Equal(t, winners[0], *got.DriverID)
	assert.Equal(t, float64(10), got.DriverCommission)

	// Only the winner paid.
	winner, err := env.ledger.GetAccount(ctx, winners[0])
	require.NoError(t, err)
	assert.Equal(t, float64(90), winner.Balance)

	for i := 0; i < drivers; i++ {
		if driverID(i) == winners[0] {
			continue
		}
		acc, err := env.ledger.GetAccount(ctx, driverID(i))
		require.NoError(t, err)
		assert.Equal(t, float64(100), acc.Balance)
	}
}

func driverID(i int) string {
	return "driver-" + string(rune('a'+i))
}

func TestAssignDriverBalanceGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order := env.createOrder(t, models.KindTaxi, 150)
	env.addDriver(t, "poor", 5)

	_, err := env.dispatch.AssignDriver(ctx, order.ID, "poor")
	require.ErrorIs(t, err, models.ErrInsufficientFunds)

	got, err := env.stg.Order().GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Nil(t, got.DriverID)
}

func TestAssignDriverBlockedDriver(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order := env.createOrder(t, models.KindTaxi, 150)
	env.addDriver(t, "blocked", 100)
	require.NoError(t, env.stg.Account().SetActive(ctx, "blocked", false))

	_, err := env.dispatch.AssignDriver(ctx, order.ID, "blocked")
	require.ErrorIs(t, err, models.ErrInsufficientFunds)
}

func TestAssignDriverCheapRideCommission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order := env.createOrder(t, models.KindTaxi, 50)
	env.addDriver(t, "d1", 100)

	res, err := env.dispatch.AssignDriver(ctx, order.ID, "d1")
	require.NoError(t, err)
	assert.Equal(t, float64(5), res.Commission)
	assert.True(t, res.CommissionTaken)
	assert.Equal(t, float64(95), res.RemainingBalance)
}

func TestAssignDriverCommissionSkippedAtFloor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order := env.createOrder(t, models.KindTaxi, 150)
	// Passes the gate but a 10 debit would land below the floor.
	env.addDriver(t, "d1", 15)

	res, err := env.dispatch.AssignDriver(ctx, order.ID, "d1")
	require.NoError(t, err)
	assert.False(t, res.CommissionTaken)

	acc, err := env.ledger.GetAccount(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, float64(15), acc.Balance)

	got, err := env.stg.Order().GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, got.Status)
}

func TestAssignDriverRetiresBroadcast(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order := env.createOrder(t, models.KindTaxi, 150)
	env.addDriver(t, "d1", 100)

	_, err := env.dispatch.AssignDriver(ctx, order.ID, "d1")
	require.NoError(t, err)

	require.Equal(t, 1, env.gw.editCount())

	cleanup, err := env.stg.Timer().GetLatestUnprocessed(ctx, order.ID, models.TagTaxiAccepted)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(env.cfg.AcceptedCleanupDelay), cleanup.ExpiresAt, time.Second)
}

func TestCancelByDriverWithinGraceRefunds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order := env.createOrder(t, models.KindTaxi, 150)
	env.addDriver(t, "d1", 100)

	_, err := env.dispatch.AssignDriver(ctx, order.ID, "d1")
	require.NoError(t, err)

	refunded, err := env.dispatch.CancelByDriver(ctx, order.ID, "d1")
	require.NoError(t, err)
	assert.True(t, refunded)

	acc, err := env.ledger.GetAccount(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, float64(100), acc.Balance)

	got, err := env.stg.Order().GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Nil(t, got.DriverID)
}

func TestCancelByDriverAfterGraceKeepsCommission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order := env.createOrder(t, models.KindTaxi, 150)
	env.addDriver(t, "d1", 100)

	base := time.Now()
	env.dispatch.now = func() time.Time { return base }

	_, err := env.dispatch.AssignDriver(ctx, order.ID, "d1")
	require.NoError(t, err)

	env.dispatch.now = func() time.Time { return base.Add(31 * time.Second) }

	refunded, err := env.dispatch.CancelByDriver(ctx, order.ID, "d1")
	require.NoError(t, err)
	assert.False(t, refunded)

	acc, err := env.ledger.GetAccount(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, float64(90), acc.Balance)
}

func TestCancelByDriverTwiceNoDoubleRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order := env.createOrder(t, models.KindTaxi, 150)
	env.addDriver(t, "d1", 100)

	_, err := env.dispatch.AssignDriver(ctx, order.ID, "d1")
	require.NoError(t, err)

	refunded, err := env.dispatch.CancelByDriver(ctx, order.ID, "d1")
	require.NoError(t, err)
	assert.True(t, refunded)

	_, err = env.dispatch.CancelByDriver(ctx, order.ID, "d1")
	require.ErrorIs(t, err, models.ErrConflict)

	acc, err := env.ledger.GetAccount(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, float64(100), acc.Balance)
}

func TestCancelByClientRefundsAssignedDriver(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order := env.createOrder(t, models.KindTaxi, 150)
	env.addDriver(t, "d1", 100)

	_, err := env.dispatch.AssignDriver(ctx, order.ID, "d1")
	require.NoError(t, err)

	err = env.dispatch.Cancel(ctx, order.ID, "client-1", "changed my mind")
	require.NoError(t, err)

	acc, err := env.ledger.GetAccount(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, float64(100), acc.Balance)
}

func TestCompleteLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order := env.createOrder(t, models.KindTaxi, 150)
	env.addDriver(t, "d1", 100)

	_, err := env.dispatch.AssignDriver(ctx, order.ID, "d1")
	require.NoError(t, err)

	require.NoError(t, env.dispatch.MarkArrived(ctx, order.ID, "d1"))

	got, err := env.stg.Order().GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInDelivery, got.Status)

	require.NoError(t, env.dispatch.Complete(ctx, order.ID, "d1"))

	got, err = env.stg.Order().GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	// Terminal orders reject everything.
	err = env.dispatch.Complete(ctx, order.ID, "d1")
	assert.ErrorIs(t, err, models.ErrConflict)
	err = env.dispatch.Cancel(ctx, order.ID, "client-1", "")
	assert.ErrorIs(t, err, models.ErrConflict)
	_, err = env.dispatch.AssignDriver(ctx, order.ID, "d1")
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestCompleteByStranger(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order := env.createOrder(t, models.KindTaxi, 150)
	env.addDriver(t, "d1", 100)

	_, err := env.dispatch.AssignDriver(ctx, order.ID, "d1")
	require.NoError(t, err)
	require.NoError(t, env.dispatch.MarkArrived(ctx, order.ID, "d1"))

	err = env.dispatch.Complete(ctx, order.ID, "d2")
	require.ErrorIs(t, err, models.ErrConflict)
}

func TestCafeOrderFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order := env.createOrder(t, models.KindCafe, 1000)
	env.addAccount(t, "cafe-1", models.AccountCafe)
	env.addDriver(t, "courier-1", 100)

	_, err := env.dispatch.AcceptOrder(ctx, order.ID, "cafe-1")
	require.NoError(t, err)

	// A second cafe is too late.
	_, err = env.dispatch.AcceptOrder(ctx, order.ID, "cafe-2")
	require.ErrorIs(t, err, models.ErrConflict)

	require.NoError(t, env.dispatch.SetReady(ctx, order.ID, "cafe-1", 20))

	got, err := env.stg.Order().GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, got.Status)
	assert.Equal(t, 20, got.ReadyTime)

	// 5% of 1000 booked as debt.
	cafe, err := env.ledger.GetAccount(ctx, "cafe-1")
	require.NoError(t, err)
	assert.Equal(t, float64(50), cafe.Debt)

	// Ready broadcast went to the courier group.
	last := env.gw.sends[env.gw.sentCount()-1]
	assert.Equal(t, "100", last.ChatID)

	// Courier takes the delivery leg.
	res, err := env.dispatch.AssignDriver(ctx, order.ID, "courier-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInDelivery, res.Order.Status)
	assert.True(t, res.CommissionTaken)
	assert.Equal(t, float64(90), res.RemainingBalance)

	require.NoError(t, env.dispatch.Complete(ctx, order.ID, "courier-1"))
}

func TestSetReadyWrongProvider(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order := env.createOrder(t, models.KindCafe, 1000)
	env.addAccount(t, "cafe-1", models.AccountCafe)

	_, err := env.dispatch.AcceptOrder(ctx, order.ID, "cafe-1")
	require.NoError(t, err)

	err = env.dispatch.SetReady(ctx, order.ID, "cafe-2", 20)
	require.ErrorIs(t, err, models.ErrConflict)
}

func TestPharmacyBidding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order := env.createOrder(t, models.KindPharmacy, 0)
	env.addAccount(t, "ph-1", models.AccountPharmacy)
	env.addAccount(t, "ph-2", models.AccountPharmacy)

	bid1, err := env.dispatch.RecordBid(ctx, order.ID, "ph-1", 120)
	require.NoError(t, err)
	bid2, err := env.dispatch.RecordBid(ctx, order.ID, "ph-2", 90)
	require.NoError(t, err)

	bids, err := env.dispatch.ListBids(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	// Cheapest first.
	assert.Equal(t, bid2.ID, bids[0].ID)

	accepted, err := env.dispatch.AcceptBid(ctx, order.ID, bid1.ID)
	require.NoError(t, err)
	assert.Equal(t, "ph-1", accepted.ProviderID)

	got, err := env.stg.Order().GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, got.Status)
	require.NotNil(t, got.ProviderID)
	assert.Equal(t, "ph-1", *got.ProviderID)
	// bid + delivery fee + courier commission
	assert.Equal(t, float64(120+30+10), got.Price)

	// Selection is monotonic.
	_, err = env.dispatch.AcceptBid(ctx, order.ID, bid2.ID)
	require.ErrorIs(t, err, models.ErrConflict)
}

func TestRecordBidValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pharmacy := env.createOrder(t, models.KindPharmacy, 0)
	taxi := env.createOrder(t, models.KindTaxi, 100)

	_, err := env.dispatch.RecordBid(ctx, pharmacy.ID, "ph-1", 0)
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = env.dispatch.RecordBid(ctx, taxi.ID, "ph-1", 50)
	require.ErrorAs(t, err, &verr)
}

func TestRecordBidOnAcceptedOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order := env.createOrder(t, models.KindPharmacy, 0)
	bid, err := env.dispatch.RecordBid(ctx, order.ID, "ph-1", 90)
	require.NoError(t, err)
	_, err = env.dispatch.AcceptBid(ctx, order.ID, bid.ID)
	require.NoError(t, err)

	_, err = env.dispatch.RecordBid(ctx, order.ID, "ph-2", 80)
	require.ErrorIs(t, err, models.ErrConflict)
}

func TestGetLatestActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.createOrder(t, models.KindTaxi, 100)
	require.NoError(t, env.dispatch.Cancel(ctx, first.ID, "client-1", ""))

	second := env.createOrder(t, models.KindTaxi, 120)

	got, err := env.dispatch.GetLatestActive(ctx, "client-1", models.KindTaxi)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	_, err = env.dispatch.GetLatestActive(ctx, "client-2", models.KindTaxi)
	require.ErrorIs(t, err, models.ErrNotFound)
}
