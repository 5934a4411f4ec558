package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dispatchbot/pkg/logger"
	"dispatchbot/pkg/models"
	"dispatchbot/storage"
)

type accountRepo struct {
	db  *pgxpool.Pool
	log logger.ILogger
}

func NewAccountRepo(db *pgxpool.Pool, log logger.ILogger) storage.IAccountStorage {
	return &accountRepo{db: db, log: log}
}

func (r *accountRepo) Upsert(ctx context.Context, acc *models.ProviderAccount) error {
	query := `
		INSERT INTO provider_accounts (account_id, account_type, name, phone)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id) DO UPDATE
		SET name = EXCLUDED.name, phone = EXCLUDED.phone,
			is_active = TRUE, updated_at = CURRENT_TIMESTAMP
	`
	_, err := r.db.Exec(ctx, query, acc.ID, acc.Type, acc.Name, acc.Phone)
	if err != nil {
		r.log.Error("failed to upsert account", logger.String("account_id", acc.ID), logger.Error(err))
		return &models.StoreError{Op: "account.upsert", Err: err}
	}
	return nil
}

func (r *accountRepo) GetByID(ctx context.Context, id string) (*models.ProviderAccount, error) {
	var a models.ProviderAccount
	query := `
		SELECT account_id, account_type, name, phone, balance, debt,
			is_active, is_blocked, created_at, updated_at
		FROM provider_accounts
		WHERE account_id = $1
	`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.Type, &a.Name, &a.Phone, &a.Balance, &a.Debt,
		&a.Active, &a.Blocked, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		r.log.Error("failed to get account", logger.String("account_id", id), logger.Error(err))
		return nil, &models.StoreError{Op: "account.get", Err: err}
	}
	return &a, nil
}

// AdjustBalance is the atomic read-modify-write: the floor check lives in
// the WHERE clause so a concurrent debit cannot slip below it.
func (r *accountRepo) AdjustBalance(ctx context.Context, id string, delta, floor float64) (float64, bool, error) {
	query := `
		UPDATE provider_accounts
		SET balance = balance + $1, updated_at = CURRENT_TIMESTAMP
		WHERE account_id = $2 AND balance + $1 >= $3
		RETURNING balance
	`
	var newBalance float64
	err := r.db.QueryRow(ctx, query, delta, id, floor).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Row exists but failed the floor, or no such account.
			return 0, false, nil
		}
		r.log.Error("failed to adjust balance", logger.String("account_id", id), logger.Error(err))
		return 0, false, &models.StoreError{Op: "account.adjust_balance", Err: err}
	}
	return newBalance, true, nil
}

func (r *accountRepo) AddDebt(ctx context.Context, id string, amount float64) (float64, error) {
	query := `
		UPDATE provider_accounts
		SET debt = debt + $1, updated_at = CURRENT_TIMESTAMP
		WHERE account_id = $2
		RETURNING debt
	`
	var newDebt float64
	err := r.db.QueryRow(ctx, query, amount, id).Scan(&newDebt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, models.ErrNotFound
		}
		r.log.Error("failed to add debt", logger.String("account_id", id), logger.Error(err))
		return 0, &models.StoreError{Op: "account.add_debt", Err: err}
	}
	return newDebt, nil
}

func (r *accountRepo) SetActive(ctx context.Context, id string, active bool) error {
	query := `
		UPDATE provider_accounts
		SET is_active = $1, updated_at = CURRENT_TIMESTAMP
		WHERE account_id = $2
	`
	res, err := r.db.Exec(ctx, query, active, id)
	if err != nil {
		return &models.StoreError{Op: "account.set_active", Err: err}
	}
	if res.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
