package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"dispatchbot/pkg/logger"
	"dispatchbot/pkg/models"
	"dispatchbot/storage"
)

type txLogRepo struct {
	db  *pgxpool.Pool
	log logger.ILogger
}

func NewTxLogRepo(db *pgxpool.Pool, log logger.ILogger) storage.ITxLogStorage {
	return &txLogRepo{db: db, log: log}
}

func (r *txLogRepo) Append(ctx context.Context, entry *models.TransactionEntry) error {
	query := `
		INSERT INTO transactions (action, actor_id, order_id, amount, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		entry.Action, entry.ActorID, entry.OrderID, entry.Amount, entry.Details,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		r.log.Error("failed to append transaction", logger.String("action", entry.Action), logger.Error(err))
		return &models.StoreError{Op: "txlog.append", Err: err}
	}
	return nil
}

func (r *txLogRepo) List(ctx context.Context, actorID string, limit int) ([]*models.TransactionEntry, error) {
	query := `
		SELECT id, action, actor_id, order_id, amount, details, created_at
		FROM transactions
	`
	args := []interface{}{}
	if actorID != "" {
		query += ` WHERE actor_id = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, actorID, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, &models.StoreError{Op: "txlog.list", Err: err}
	}
	defer rows.Close()

	var entries []*models.TransactionEntry
	for rows.Next() {
		var e models.TransactionEntry
		err := rows.Scan(&e.ID, &e.Action, &e.ActorID, &e.OrderID, &e.Amount, &e.Details, &e.CreatedAt)
		if err != nil {
			return nil, &models.StoreError{Op: "txlog.list", Err: err}
		}
		entries = append(entries, &e)
	}
	return entries, nil
}
