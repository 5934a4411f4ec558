package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dispatchbot/pkg/logger"
	"dispatchbot/pkg/models"
	"dispatchbot/storage"
)

type orderRepo struct {
	db  *pgxpool.Pool
	log logger.ILogger
}

func NewOrderRepo(db *pgxpool.Pool, log logger.ILogger) storage.IOrderStorage {
	return &orderRepo{db: db, log: log}
}

const orderColumns = `order_id, service_kind, status, client_ref, provider_id, driver_id,
	price, commission, driver_commission, details, address, payment_method,
	cargo_type, ready_time, is_urgent, driver_assigned_at, created_at, updated_at, completed_at`

func (r *orderRepo) Create(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (order_id, service_kind, status, client_ref, price,
			details, address, payment_method, cargo_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		order.ID,
		order.Kind,
		order.Status,
		order.ClientRef,
		order.Price,
		order.Details,
		order.Address,
		order.PaymentMethod,
		order.CargoType,
	).Scan(&order.CreatedAt, &order.UpdatedAt)

	if err != nil {
		r.log.Error("failed to create order", logger.Error(err))
		return &models.StoreError{Op: "order.create", Err: err}
	}

	return nil
}

func (r *orderRepo) GetByID(ctx context.Context, id string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1`

	order, err := r.scanOrder(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		r.log.Error("failed to get order by id", logger.String("order_id", id), logger.Error(err))
		return nil, &models.StoreError{Op: "order.get", Err: err}
	}
	return order, nil
}

func (r *orderRepo) GetLatestActive(ctx context.Context, clientRef string, kind models.ServiceKind) (*models.Order, error) {
	active := statusList(models.ActiveStatuses())

	var row pgx.Row
	if kind != "" {
		query := `SELECT ` + orderColumns + `
			FROM orders
			WHERE client_ref = $1 AND service_kind = $2 AND status = ANY($3)
			ORDER BY created_at DESC LIMIT 1`
		row = r.db.QueryRow(ctx, query, clientRef, kind, active)
	} else {
		query := `SELECT ` + orderColumns + `
			FROM orders
			WHERE client_ref = $1 AND status = ANY($2)
			ORDER BY created_at DESC LIMIT 1`
		row = r.db.QueryRow(ctx, query, clientRef, active)
	}

	order, err := r.scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, &models.StoreError{Op: "order.latest_active", Err: err}
	}
	return order, nil
}

func (r *orderRepo) UpdateStatus(ctx context.Context, id string, status models.OrderStatus, upd models.StatusUpdate) (bool, error) {
	sets := []string{"status = $1", "updated_at = CURRENT_TIMESTAMP"}
	params := []interface{}{status}

	add := func(expr string, val interface{}) {
		params = append(params, val)
		sets = append(sets, fmt.Sprintf(expr, len(params)))
	}

	if upd.ProviderID != nil {
		add("provider_id = $%d", *upd.ProviderID)
	}
	if upd.DriverID != nil {
		add("driver_id = $%d", *upd.DriverID)
	}
	if upd.ClearDriver {
		sets = append(sets, "driver_id = NULL")
	}
	if upd.Price != nil {
		add("price = $%d", *upd.Price)
	}
	if upd.ReadyTime != nil {
		add("ready_time = $%d", *upd.ReadyTime)
	}
	if upd.DriverAssignedAt != nil {
		add("driver_assigned_at = $%d", *upd.DriverAssignedAt)
	}
	if upd.DriverCommission != nil {
		add("driver_commission = $%d", *upd.DriverCommission)
	}
	if upd.CompletedAt != nil {
		add("completed_at = $%d", *upd.CompletedAt)
	}
	if upd.Urgent {
		sets = append(sets, "is_urgent = TRUE")
	}

	params = append(params, id)
	query := fmt.Sprintf(
		`UPDATE orders SET %s WHERE order_id = $%d AND status NOT IN ('COMPLETED', 'CANCELLED')`,
		strings.Join(sets, ", "), len(params),
	)

	res, err := r.db.Exec(ctx, query, params...)
	if err != nil {
		r.log.Error("failed to update order status", logger.String("order_id", id), logger.Error(err))
		return false, &models.StoreError{Op: "order.update_status", Err: err}
	}
	return res.RowsAffected() > 0, nil
}

func (r *orderRepo) AssignDriver(ctx context.Context, id, driverID string, newStatus models.OrderStatus,
	allowed []models.OrderStatus, assignedAt time.Time, commission float64) (bool, error) {

	query := `
		UPDATE orders
		SET status = $1, driver_id = $2, driver_assigned_at = $3,
			driver_commission = $4, updated_at = CURRENT_TIMESTAMP
		WHERE order_id = $5 AND status = ANY($6) AND driver_id IS NULL
	`
	res, err := r.db.Exec(ctx, query, newStatus, driverID, assignedAt, commission, id, statusList(allowed))
	if err != nil {
		r.log.Error("failed to assign driver", logger.String("order_id", id), logger.Error(err))
		return false, &models.StoreError{Op: "order.assign_driver", Err: err}
	}
	return res.RowsAffected() > 0, nil
}

func (r *orderRepo) AssignProvider(ctx context.Context, id, providerID string, newStatus models.OrderStatus,
	allowed []models.OrderStatus, price *float64) (bool, error) {

	query := `
		UPDATE orders
		SET status = $1, provider_id = $2, price = COALESCE($3, price), updated_at = CURRENT_TIMESTAMP
		WHERE order_id = $4 AND status = ANY($5) AND provider_id IS NULL
	`
	res, err := r.db.Exec(ctx, query, newStatus, providerID, price, id, statusList(allowed))
	if err != nil {
		r.log.Error("failed to assign provider", logger.String("order_id", id), logger.Error(err))
		return false, &models.StoreError{Op: "order.assign_provider", Err: err}
	}
	return res.RowsAffected() > 0, nil
}

func (r *orderRepo) SetUrgent(ctx context.Context, id string, allowed []models.OrderStatus) (bool, error) {
	query := `
		UPDATE orders
		SET is_urgent = TRUE, status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE order_id = $2 AND status = ANY($3)
	`
	res, err := r.db.Exec(ctx, query, models.StatusUrgent, id, statusList(allowed))
	if err != nil {
		r.log.Error("failed to mark order urgent", logger.String("order_id", id), logger.Error(err))
		return false, &models.StoreError{Op: "order.set_urgent", Err: err}
	}
	return res.RowsAffected() > 0, nil
}

func (r *orderRepo) scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID, &o.Kind, &o.Status, &o.ClientRef, &o.ProviderID, &o.DriverID,
		&o.Price, &o.Commission, &o.DriverCommission, &o.Details, &o.Address, &o.PaymentMethod,
		&o.CargoType, &o.ReadyTime, &o.IsUrgent, &o.DriverAssignedAt, &o.CreatedAt, &o.UpdatedAt, &o.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func statusList(statuses []models.OrderStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
