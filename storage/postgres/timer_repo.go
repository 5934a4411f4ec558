package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dispatchbot/pkg/logger"
	"dispatchbot/pkg/models"
	"dispatchbot/storage"
)

type timerRepo struct {
	db  *pgxpool.Pool
	log logger.ILogger
}

func NewTimerRepo(db *pgxpool.Pool, log logger.ILogger) storage.ITimerStorage {
	return &timerRepo{db: db, log: log}
}

func (r *timerRepo) Create(ctx context.Context, t *models.AuctionTimer) error {
	query := `
		INSERT INTO auction_timers (order_id, tag, chat_id, message_id, started_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		t.OrderID, t.Tag, t.ChatID, t.MessageID, t.StartedAt, t.ExpiresAt,
	).Scan(&t.ID)
	if err != nil {
		r.log.Error("failed to create auction timer", logger.String("order_id", t.OrderID), logger.Error(err))
		return &models.StoreError{Op: "timer.create", Err: err}
	}
	return nil
}

func (r *timerRepo) GetExpired(ctx context.Context, now time.Time) ([]*models.AuctionTimer, error) {
	query := `
		SELECT id, order_id, tag, chat_id, message_id, started_at, expires_at, is_processed
		FROM auction_timers
		WHERE expires_at <= $1 AND is_processed = FALSE
		ORDER BY expires_at ASC
	`
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, &models.StoreError{Op: "timer.get_expired", Err: err}
	}
	defer rows.Close()

	var timers []*models.AuctionTimer
	for rows.Next() {
		var t models.AuctionTimer
		err := rows.Scan(&t.ID, &t.OrderID, &t.Tag, &t.ChatID, &t.MessageID,
			&t.StartedAt, &t.ExpiresAt, &t.Processed)
		if err != nil {
			return nil, &models.StoreError{Op: "timer.get_expired", Err: err}
		}
		timers = append(timers, &t)
	}
	return timers, nil
}

func (r *timerRepo) GetLatestUnprocessed(ctx context.Context, orderID, tag string) (*models.AuctionTimer, error) {
	query := `
		SELECT id, order_id, tag, chat_id, message_id, started_at, expires_at, is_processed
		FROM auction_timers
		WHERE order_id = $1 AND tag = $2 AND is_processed = FALSE
		ORDER BY id DESC LIMIT 1
	`
	var t models.AuctionTimer
	err := r.db.QueryRow(ctx, query, orderID, tag).Scan(
		&t.ID, &t.OrderID, &t.Tag, &t.ChatID, &t.MessageID,
		&t.StartedAt, &t.ExpiresAt, &t.Processed,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, &models.StoreError{Op: "timer.get_latest", Err: err}
	}
	return &t, nil
}

// MarkProcessed is the one-way flip. The WHERE on is_processed makes a
// duplicate scheduler tick lose cleanly instead of re-firing.
func (r *timerRepo) MarkProcessed(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE auction_timers SET is_processed = TRUE WHERE id = $1 AND is_processed = FALSE`

	res, err := r.db.Exec(ctx, query, id)
	if err != nil {
		r.log.Error("failed to mark timer processed", logger.Int64("timer_id", id), logger.Error(err))
		return false, &models.StoreError{Op: "timer.mark_processed", Err: err}
	}
	return res.RowsAffected() > 0, nil
}
