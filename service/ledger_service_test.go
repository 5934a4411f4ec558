package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatchbot/pkg/logger"
	"dispatchbot/pkg/models"
	"dispatchbot/storage/memory"
)

func TestDriverCommissionSchedule(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name  string
		kind  models.ServiceKind
		price float64
		want  float64
	}{
		{"cheap ride", models.KindTaxi, 50, 5},
		{"standard ride", models.KindTaxi, 150, 10},
		{"ride at threshold", models.KindTaxi, 70, 10},
		{"ride without price", models.KindTaxi, 0, 10},
		{"porter", models.KindPorter, 0, 20},
		{"small cargo", models.KindCargo, 0, 10},
		{"shopper", models.KindShop, 0, 10},
		{"pharmacy courier", models.KindPharmacy, 0, 10},
		{"cafe courier", models.KindCafe, 0, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, env.ledger.DriverCommission(tc.kind, tc.price))
		})
	}
}

func TestDriverCommissionRamadan(t *testing.T) {
	cfg := testConfig()
	cfg.RamadanMode = true
	ledger := NewLedgerService(memory.New(), cfg, logger.Nop())

	assert.Equal(t, float64(0), ledger.DriverCommission(models.KindTaxi, 150))
	assert.Equal(t, float64(0), ledger.DriverCommission(models.KindPorter, 0))
}

func TestCafeCommission(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, float64(50), env.ledger.CafeCommission(1000))
	assert.Equal(t, float64(0), env.ledger.CafeCommission(0))
}

func TestAdjustBalanceFloor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addDriver(t, "d1", 25)

	// Debit leaving the balance at the floor is fine.
	balance, err := env.ledger.AdjustBalance(ctx, "d1", -15, "commission", "o1")
	require.NoError(t, err)
	assert.Equal(t, float64(10), balance)

	// Any further debit would cross the floor.
	_, err = env.ledger.AdjustBalance(ctx, "d1", -1, "commission", "o2")
	require.ErrorIs(t, err, models.ErrInsufficientFunds)

	acc, err := env.ledger.GetAccount(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, float64(10), acc.Balance)

	// Credits always pass.
	balance, err = env.ledger.AdjustBalance(ctx, "d1", 40, "top up", "")
	require.NoError(t, err)
	assert.Equal(t, float64(50), balance)
}

func TestAdjustBalanceWritesAudit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addDriver(t, "d1", 100)
	_, err := env.ledger.AdjustBalance(ctx, "d1", -10, "commission", "o1")
	require.NoError(t, err)

	entries, err := env.stg.TxLog().List(ctx, "d1", 10)
	require.NoError(t, err)

	var found bool
	for _, e := range entries {
		if e.Action == "BALANCE_UPDATE" && e.OrderID == "o1" {
			found = true
			require.NotNil(t, e.Amount)
			assert.Equal(t, float64(-10), *e.Amount)
		}
	}
	assert.True(t, found)
}

func TestMinimumBalanceGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.ledger.MinimumBalanceGate(ctx, "ghost")
	require.ErrorIs(t, err, models.ErrNotFound)

	env.addDriver(t, "broke", 9)
	err = env.ledger.MinimumBalanceGate(ctx, "broke")
	require.ErrorIs(t, err, models.ErrInsufficientFunds)

	env.addDriver(t, "solvent", 10)
	require.NoError(t, env.ledger.MinimumBalanceGate(ctx, "solvent"))

	require.NoError(t, env.stg.Account().SetActive(ctx, "solvent", false))
	err = env.ledger.MinimumBalanceGate(ctx, "solvent")
	require.ErrorIs(t, err, models.ErrInsufficientFunds)
}

func TestAddDebt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.addAccount(t, "cafe-1", models.AccountCafe)

	debt, err := env.ledger.AddDebt(ctx, "cafe-1", 50, "o1")
	require.NoError(t, err)
	assert.Equal(t, float64(50), debt)

	debt, err = env.ledger.AddDebt(ctx, "cafe-1", 25, "o2")
	require.NoError(t, err)
	assert.Equal(t, float64(75), debt)

	_, err = env.ledger.AddDebt(ctx, "ghost", 10, "o3")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestRegisterAccountValidation(t *testing.T) {
	env := newTestEnv(t)

	err := env.ledger.RegisterAccount(context.Background(), &models.ProviderAccount{})
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
}
