package service

import (
	"context"
	"math"

	"dispatchbot/config"
	"dispatchbot/pkg/logger"
	"dispatchbot/pkg/models"
	"dispatchbot/storage"
)

type LedgerService interface {
	// AdjustBalance applies delta atomically. Debits respect the policy
	// floor (the configured minimum balance); credits always pass.
	AdjustBalance(ctx context.Context, accountID string, delta float64, reason, orderID string) (float64, error)

	// AddDebt accumulates commission for postpaid (cafe-style) accounts.
	AddDebt(ctx context.Context, accountID string, amount float64, orderID string) (float64, error)

	// MinimumBalanceGate reports whether the account may take new work:
	// active, not blocked, balance at or above the configured minimum.
	MinimumBalanceGate(ctx context.Context, accountID string) error

	// DriverCommission is the pure commission function of (kind, price).
	DriverCommission(kind models.ServiceKind, price float64) float64

	// CafeCommission is the percent-of-order commission for postpaid cafes.
	CafeCommission(orderAmount float64) float64

	GetAccount(ctx context.Context, accountID string) (*models.ProviderAccount, error)
	RegisterAccount(ctx context.Context, acc *models.ProviderAccount) error
}

type ledgerService struct {
	accounts storage.IAccountStorage
	txlog    storage.ITxLogStorage
	cfg      config.Config
	log      logger.ILogger
}

func NewLedgerService(stg storage.IStorage, cfg config.Config, log logger.ILogger) LedgerService {
	return &ledgerService{
		accounts: stg.Account(),
		txlog:    stg.TxLog(),
		cfg:      cfg,
		log:      log,
	}
}

func (s *ledgerService) AdjustBalance(ctx context.Context, accountID string, delta float64, reason, orderID string) (float64, error) {
	floor := -math.MaxFloat64
	if delta < 0 {
		floor = s.cfg.MinDriverBalance
	}

	newBalance, ok, err := s.accounts.AdjustBalance(ctx, accountID, delta, floor)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, models.ErrInsufficientFunds
	}

	amount := delta
	entry := &models.TransactionEntry{
		Action:  "BALANCE_UPDATE",
		ActorID: accountID,
		OrderID: orderID,
		Amount:  &amount,
		Details: reason,
	}
	if err := s.txlog.Append(ctx, entry); err != nil {
		s.log.Error("failed to log balance update", logger.String("account_id", accountID), logger.Error(err))
	}

	s.log.Info("balance adjusted",
		logger.String("account_id", accountID),
		logger.Float64("delta", delta),
		logger.Float64("balance", newBalance),
	)
	return newBalance, nil
}

func (s *ledgerService) AddDebt(ctx context.Context, accountID string, amount float64, orderID string) (float64, error) {
	newDebt, err := s.accounts.AddDebt(ctx, accountID, amount)
	if err != nil {
		return 0, err
	}

	a := amount
	entry := &models.TransactionEntry{
		Action:  "DEBT_ADDED",
		ActorID: accountID,
		OrderID: orderID,
		Amount:  &a,
		Details: "commission added to debt",
	}
	if err := s.txlog.Append(ctx, entry); err != nil {
		s.log.Error("failed to log debt update", logger.String("account_id", accountID), logger.Error(err))
	}

	return newDebt, nil
}

func (s *ledgerService) MinimumBalanceGate(ctx context.Context, accountID string) error {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !acc.Active || acc.Blocked {
		return models.ErrInsufficientFunds
	}
	if acc.Balance < s.cfg.MinDriverBalance {
		return models.ErrInsufficientFunds
	}
	return nil
}

// DriverCommission: ride commission is tiered by the client-negotiated
// price; the other driver-side verticals carry flat fees. Ramadan mode
// waives driver commissions entirely.
func (s *ledgerService) DriverCommission(kind models.ServiceKind, price float64) float64 {
	if s.cfg.RamadanMode {
		return 0
	}

	switch kind {
	case models.KindTaxi:
		if price > 0 && price < s.cfg.TaxiPriceThreshold {
			return s.cfg.TaxiCheapCommission
		}
		return s.cfg.TaxiCommission
	case models.KindPorter:
		return s.cfg.PorterCommission
	case models.KindCargo:
		return s.cfg.CargoCommission
	case models.KindShop:
		return s.cfg.ShopperCommission
	case models.KindPharmacy:
		return s.cfg.PharmacyCommission
	case models.KindCafe:
		return s.cfg.PharmacyCommission
	}
	return 0
}

func (s *ledgerService) CafeCommission(orderAmount float64) float64 {
	return orderAmount * s.cfg.CafeCommissionPercent / 100
}

func (s *ledgerService) GetAccount(ctx context.Context, accountID string) (*models.ProviderAccount, error) {
	return s.accounts.GetByID(ctx, accountID)
}

func (s *ledgerService) RegisterAccount(ctx context.Context, acc *models.ProviderAccount) error {
	if acc.ID == "" {
		return &models.ValidationError{Field: "account_id", Reason: "is required"}
	}
	if err := s.accounts.Upsert(ctx, acc); err != nil {
		return err
	}

	entry := &models.TransactionEntry{
		Action:  "ACCOUNT_REGISTERED",
		ActorID: acc.ID,
		Details: string(acc.Type),
	}
	if err := s.txlog.Append(ctx, entry); err != nil {
		s.log.Error("failed to log account registration", logger.Error(err))
	}
	return nil
}
