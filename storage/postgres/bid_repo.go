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

type bidRepo struct {
	db  *pgxpool.Pool
	log logger.ILogger
}

func NewBidRepo(db *pgxpool.Pool, log logger.ILogger) storage.IBidStorage {
	return &bidRepo{db: db, log: log}
}

func (r *bidRepo) Create(ctx context.Context, bid *models.Bid) (*models.Bid, error) {
	query := `
		INSERT INTO pharmacy_bids (order_id, provider_id, price)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query, bid.OrderID, bid.ProviderID, bid.Price).
		Scan(&bid.ID, &bid.CreatedAt)
	if err != nil {
		r.log.Error("failed to create bid", logger.String("order_id", bid.OrderID), logger.Error(err))
		return nil, &models.StoreError{Op: "bid.create", Err: err}
	}
	return bid, nil
}

func (r *bidRepo) GetByID(ctx context.Context, id int64) (*models.Bid, error) {
	var b models.Bid
	query := `
		SELECT id, order_id, provider_id, price, is_selected, created_at
		FROM pharmacy_bids
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&b.ID, &b.OrderID, &b.ProviderID, &b.Price, &b.Selected, &b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, &models.StoreError{Op: "bid.get", Err: err}
	}
	return &b, nil
}

func (r *bidRepo) GetByOrder(ctx context.Context, orderID string) ([]*models.Bid, error) {
	query := `
		SELECT id, order_id, provider_id, price, is_selected, created_at
		FROM pharmacy_bids
		WHERE order_id = $1
		ORDER BY price ASC
	`
	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, &models.StoreError{Op: "bid.get_by_order", Err: err}
	}
	defer rows.Close()

	var bids []*models.Bid
	for rows.Next() {
		var b models.Bid
		err := rows.Scan(&b.ID, &b.OrderID, &b.ProviderID, &b.Price, &b.Selected, &b.CreatedAt)
		if err != nil {
			return nil, &models.StoreError{Op: "bid.get_by_order", Err: err}
		}
		bids = append(bids, &b)
	}
	return bids, nil
}

// MarkSelected wins only while the order has no selected bid yet, so a
// racing second acceptance cannot pick a different bid.
func (r *bidRepo) MarkSelected(ctx context.Context, id int64, orderID string) (bool, error) {
	query := `
		UPDATE pharmacy_bids SET is_selected = TRUE
		WHERE id = $1 AND order_id = $2
		AND NOT EXISTS (
			SELECT 1 FROM pharmacy_bids WHERE order_id = $2 AND is_selected = TRUE
		)
	`
	res, err := r.db.Exec(ctx, query, id, orderID)
	if err != nil {
		r.log.Error("failed to select bid", logger.Int64("bid_id", id), logger.Error(err))
		return false, &models.StoreError{Op: "bid.mark_selected", Err: err}
	}
	return res.RowsAffected() > 0, nil
}
