package service

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dispatchbot/config"
	"dispatchbot/pkg/logger"
	"dispatchbot/pkg/models"
	"dispatchbot/pkg/notify"
	"dispatchbot/storage/memory"
)

func testConfig() config.Config {
	return config.Config{
		GroupTaxiID:     "100",
		GroupCafeID:     "200",
		GroupPharmacyID: "300",
		GroupPorterID:   "400",
		GroupShopID:     "500",

		TaxiCommission:        10,
		TaxiCheapCommission:   5,
		TaxiPriceThreshold:    70,
		PorterCommission:      20,
		CargoCommission:       10,
		ShopperCommission:     10,
		PharmacyCommission:    10,
		PharmacyDeliveryFee:   30,
		CafeCommissionPercent: 5,
		MinDriverBalance:      10,

		TaxiResponseTimeout:  5 * time.Minute,
		CafeAuctionTimeout:   2 * time.Minute,
		PharmacyTimeout:      3 * time.Minute,
		AcceptedCleanupDelay: 30 * time.Minute,

		SchedulerInterval: 30 * time.Second,
		CancelGraceWindow: 30 * time.Second,
	}
}

type sentMessage struct {
	ChatID  string
	Text    string
	Actions []notify.Action
	Ref     notify.MessageRef
}

// fakeGateway records every delivery so tests can assert on broadcast
// side effects.
type fakeGateway struct {
	mu      sync.Mutex
	nextID  int
	sends   []sentMessage
	edits   []sentMessage
	deletes []notify.MessageRef
}

func (g *fakeGateway) Send(_ context.Context, chatID, text string, actions []notify.Action) (notify.MessageRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nextID++
	ref := notify.MessageRef{ChatID: chatID, MessageID: strconv.Itoa(g.nextID)}
	g.sends = append(g.sends, sentMessage{ChatID: chatID, Text: text, Actions: actions, Ref: ref})
	return ref, nil
}

func (g *fakeGateway) Edit(_ context.Context, ref notify.MessageRef, text string, actions []notify.Action) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.edits = append(g.edits, sentMessage{ChatID: ref.ChatID, Text: text, Actions: actions, Ref: ref})
	return nil
}

func (g *fakeGateway) Delete(_ context.Context, ref notify.MessageRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.deletes = append(g.deletes, ref)
	return nil
}

func (g *fakeGateway) sentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sends)
}

func (g *fakeGateway) deleteCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.deletes)
}

func (g *fakeGateway) editCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.edits)
}

type testEnv struct {
	stg      *memory.Store
	gw       *fakeGateway
	ledger   LedgerService
	dispatch *dispatchService
	cfg      config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := testConfig()
	stg := memory.New()
	gw := &fakeGateway{}
	log := logger.Nop()

	ledger := NewLedgerService(stg, cfg, log)
	dispatch := NewDispatchService(stg, ledger, gw, cfg, log).(*dispatchService)

	return &testEnv{stg: stg, gw: gw, ledger: ledger, dispatch: dispatch, cfg: cfg}
}

func (e *testEnv) addDriver(t *testing.T, id string, balance float64) {
	t.Helper()

	err := e.ledger.RegisterAccount(context.Background(), &models.ProviderAccount{
		ID:      id,
		Type:    models.AccountDriver,
		Name:    "driver " + id,
		Balance: balance,
	})
	require.NoError(t, err)
}

func (e *testEnv) addAccount(t *testing.T, id string, typ models.AccountType) {
	t.Helper()

	err := e.ledger.RegisterAccount(context.Background(), &models.ProviderAccount{
		ID:   id,
		Type: typ,
		Name: string(typ) + " " + id,
	})
	require.NoError(t, err)
}

func (e *testEnv) createOrder(t *testing.T, kind models.ServiceKind, price float64) *models.Order {
	t.Helper()

	order, err := e.dispatch.CreateOrder(context.Background(), CreateOrderRequest{
		ClientRef: "client-1",
		Kind:      kind,
		Details:   "test order",
		Address:   "somewhere",
		Price:     price,
	})
	require.NoError(t, err)
	return order
}
