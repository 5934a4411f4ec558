package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"dispatchbot/config"
	"dispatchbot/pkg/logger"
	"dispatchbot/pkg/models"
	"dispatchbot/pkg/notify"
	"dispatchbot/storage"
)

type CreateOrderRequest struct {
	ClientRef     string
	Kind          models.ServiceKind
	Details       string
	Address       string
	PaymentMethod string
	CargoType     string
	Price         float64
}

// AssignResult reports what a successful assignment did to the driver side.
type AssignResult struct {
	Order            *models.Order
	Commission       float64
	CommissionTaken  bool
	RemainingBalance float64
}

type DispatchService interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*models.Order, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	GetLatestActive(ctx context.Context, clientRef string, kind models.ServiceKind) (*models.Order, error)

	// AssignDriver races N drivers for one order; exactly one wins. For
	// driver-primary kinds it moves the order to ACCEPTED, for courier
	// delivery legs (cafe, pharmacy) to IN_DELIVERY. The winner is charged
	// the kind's commission after the assignment lands.
	AssignDriver(ctx context.Context, orderID, driverID string) (*AssignResult, error)

	// AcceptOrder binds a provider (cafe) to a pending order.
	AcceptOrder(ctx context.Context, orderID, providerID string) (*models.Order, error)

	// SetReady moves an accepted cafe order to READY, books the percent
	// commission as provider debt and broadcasts the delivery leg.
	SetReady(ctx context.Context, orderID, providerID string, readyMinutes int) error

	// MarkArrived moves an accepted order to IN_DELIVERY once the assigned
	// driver reports at the pickup point.
	MarkArrived(ctx context.Context, orderID, driverID string) error

	Complete(ctx context.Context, orderID, actorID string) error

	// CancelByDriver releases the order back and refunds the commission when
	// the driver backs out inside the grace window.
	CancelByDriver(ctx context.Context, orderID, driverID string) (refunded bool, err error)

	// Cancel is the client/admin cancellation. A driver already assigned
	// within the grace window still gets the commission back.
	Cancel(ctx context.Context, orderID, actorID, reason string) error

	RecordBid(ctx context.Context, orderID, providerID string, price float64) (*models.Bid, error)
	ListBids(ctx context.Context, orderID string) ([]*models.Bid, error)

	// AcceptBid selects one pharmacy bid (first selection wins), binds the
	// pharmacy and reprices the order to bid + delivery fee + courier
	// commission, then broadcasts the delivery leg.
	AcceptBid(ctx context.Context, orderID string, bidID int64) (*models.Bid, error)
}

type dispatchService struct {
	stg    storage.IStorage
	ledger LedgerService
	gw     notify.Gateway
	cfg    config.Config
	log    logger.ILogger
	now    func() time.Time
}

func NewDispatchService(stg storage.IStorage, ledger LedgerService, gw notify.Gateway,
	cfg config.Config, log logger.ILogger) DispatchService {

	return &dispatchService{
		stg:    stg,
		ledger: ledger,
		gw:     gw,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

func (s *dispatchService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*models.Order, error) {
	if req.ClientRef == "" {
		return nil, &models.ValidationError{Field: "client_ref", Reason: "is required"}
	}
	if !req.Kind.Valid() {
		return nil, &models.ValidationError{Field: "kind", Reason: "unknown service kind"}
	}
	if req.Details == "" {
		return nil, &models.ValidationError{Field: "details", Reason: "is required"}
	}
	if req.Price < 0 {
		return nil, &models.ValidationError{Field: "price", Reason: "must not be negative"}
	}

	order := &models.Order{
		ID:            generateOrderID(s.now()),
		Kind:          req.Kind,
		Status:        models.StatusPending,
		ClientRef:     req.ClientRef,
		Price:         req.Price,
		Details:       req.Details,
		Address:       req.Address,
		PaymentMethod: req.PaymentMethod,
		CargoType:     req.CargoType,
	}
	if err := s.stg.Order().Create(ctx, order); err != nil {
		return nil, err
	}

	s.audit(ctx, "ORDER_CREATED", req.ClientRef, order.ID, nil, string(req.Kind))
	s.log.Info("order created",
		logger.String("order_id", order.ID),
		logger.String("kind", string(req.Kind)),
	)

	s.broadcastAuction(ctx, order)
	return order, nil
}

func (s *dispatchService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.stg.Order().GetByID(ctx, orderID)
}

func (s *dispatchService) GetLatestActive(ctx context.Context, clientRef string, kind models.ServiceKind) (*models.Order, error) {
	return s.stg.Order().GetLatestActive(ctx, clientRef, kind)
}

func (s *dispatchService) AssignDriver(ctx context.Context, orderID, driverID string) (*AssignResult, error) {
	order, err := s.stg.Order().GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.IsTerminal() {
		return nil, models.ErrConflict
	}

	strat := order.Kind.Strategy()
	var (
		allowed   []models.OrderStatus
		newStatus models.OrderStatus
	)
	if strat.AssignsDriver {
		allowed = []models.OrderStatus{models.StatusPending, models.StatusAuction, models.StatusUrgent}
		newStatus = models.StatusAccepted
	} else {
		// Courier leg of a provider-primary order.
		allowed = []models.OrderStatus{models.StatusAccepted, models.StatusReady}
		newStatus = models.StatusInDelivery
	}

	commission := s.ledger.DriverCommission(order.Kind, order.Price)

	// Couriers on delivery legs are always gated; driver-primary kinds per
	// their strategy row.
	if strat.BalanceGated || !strat.AssignsDriver {
		if err := s.ledger.MinimumBalanceGate(ctx, driverID); err != nil {
			return nil, err
		}
	}

	assignedAt := s.now()
	ok, err := s.stg.Order().AssignDriver(ctx, orderID, driverID, newStatus, allowed, assignedAt, commission)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrConflict
	}

	res := &AssignResult{Commission: commission}
	if commission > 0 {
		balance, err := s.ledger.AdjustBalance(ctx, driverID, -commission,
			fmt.Sprintf("commission for order %s", orderID), orderID)
		switch {
		case errors.Is(err, models.ErrInsufficientFunds):
			// The gate passed but the debit would cross the floor. The
			// assignment stands; the commission goes uncollected.
			s.log.Warning("commission not collected",
				logger.String("order_id", orderID),
				logger.String("driver_id", driverID),
				logger.Float64("commission", commission),
			)
			s.audit(ctx, "COMMISSION_SKIPPED", driverID, orderID, &commission, "debit below balance floor")
		case err != nil:
			s.log.Error("commission debit failed", logger.String("order_id", orderID), logger.Error(err))
		default:
			res.CommissionTaken = true
			res.RemainingBalance = balance
		}
	}

	s.audit(ctx, "ORDER_TAKEN", driverID, orderID, nil, string(order.Kind))
	s.log.Info("driver assigned",
		logger.String("order_id", orderID),
		logger.String("driver_id", driverID),
		logger.String("status", string(newStatus)),
	)

	s.retireBroadcast(ctx, order, driverID)

	order, err = s.stg.Order().GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	res.Order = order
	return res, nil
}

func (s *dispatchService) AcceptOrder(ctx context.Context, orderID, providerID string) (*models.Order, error) {
	order, err := s.stg.Order().GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.IsTerminal() {
		return nil, models.ErrConflict
	}

	allowed := []models.OrderStatus{models.StatusPending, models.StatusAuction, models.StatusUrgent}
	ok, err := s.stg.Order().AssignProvider(ctx, orderID, providerID, models.StatusAccepted, allowed, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrConflict
	}

	s.audit(ctx, "ORDER_ACCEPTED", providerID, orderID, nil, string(order.Kind))
	s.log.Info("provider accepted order",
		logger.String("order_id", orderID),
		logger.String("provider_id", providerID),
	)
	return s.stg.Order().GetByID(ctx, orderID)
}

func (s *dispatchService) SetReady(ctx context.Context, orderID, providerID string, readyMinutes int) error {
	order, err := s.stg.Order().GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Kind != models.KindCafe {
		return &models.ValidationError{Field: "kind", Reason: "ready flow applies to cafe orders"}
	}
	if order.ProviderID == nil || *order.ProviderID != providerID {
		return models.ErrConflict
	}
	if !order.Status.CanTransition(models.StatusReady) {
		return models.ErrConflict
	}

	ok, err := s.stg.Order().UpdateStatus(ctx, orderID, models.StatusReady, models.StatusUpdate{
		ReadyTime: &readyMinutes,
	})
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrConflict
	}

	if order.Kind.Strategy().Billing == models.BillingPostpaid && order.Price > 0 {
		commission := s.ledger.CafeCommission(order.Price)
		if _, err := s.ledger.AddDebt(ctx, providerID, commission, orderID); err != nil {
			s.log.Error("cafe debt booking failed", logger.String("order_id", orderID), logger.Error(err))
		}
	}

	s.audit(ctx, "ORDER_READY", providerID, orderID, nil, fmt.Sprintf("ready in %d min", readyMinutes))
	s.broadcastDeliveryLeg(ctx, order)
	return nil
}

func (s *dispatchService) MarkArrived(ctx context.Context, orderID, driverID string) error {
	order, err := s.stg.Order().GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.DriverID == nil || *order.DriverID != driverID {
		return models.ErrConflict
	}
	if !order.Status.CanTransition(models.StatusInDelivery) {
		return models.ErrConflict
	}

	ok, err := s.stg.Order().UpdateStatus(ctx, orderID, models.StatusInDelivery, models.StatusUpdate{})
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrConflict
	}

	s.audit(ctx, "DRIVER_ARRIVED", driverID, orderID, nil, "")
	return nil
}

func (s *dispatchService) Complete(ctx context.Context, orderID, actorID string) error {
	order, err := s.stg.Order().GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.IsTerminal() {
		return models.ErrConflict
	}
	if order.DriverID != nil && actorID != *order.DriverID && actorID != order.ClientRef {
		return models.ErrConflict
	}
	if !order.Status.CanTransition(models.StatusCompleted) {
		return models.ErrConflict
	}

	completedAt := s.now()
	ok, err := s.stg.Order().UpdateStatus(ctx, orderID, models.StatusCompleted, models.StatusUpdate{
		CompletedAt: &completedAt,
	})
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrConflict
	}

	s.audit(ctx, "ORDER_COMPLETED", actorID, orderID, nil, "")
	s.log.Info("order completed", logger.String("order_id", orderID))
	return nil
}

func (s *dispatchService) CancelByDriver(ctx context.Context, orderID, driverID string) (bool, error) {
	order, err := s.stg.Order().GetByID(ctx, orderID)
	if err != nil {
		return false, err
	}
	if order.IsTerminal() {
		return false, models.ErrConflict
	}
	if order.DriverID == nil || *order.DriverID != driverID {
		return false, models.ErrConflict
	}

	ok, err := s.stg.Order().UpdateStatus(ctx, orderID, models.StatusCancelled, models.StatusUpdate{
		ClearDriver: true,
	})
	if err != nil {
		return false, err
	}
	if !ok {
		return false, models.ErrConflict
	}

	refunded := false
	if s.withinGraceWindow(order) && order.DriverCommission > 0 {
		if _, err := s.ledger.AdjustBalance(ctx, driverID, order.DriverCommission,
			fmt.Sprintf("refund for cancelled order %s", orderID), orderID); err != nil {
			s.log.Error("refund failed", logger.String("order_id", orderID), logger.Error(err))
		} else {
			refunded = true
		}
	}

	s.audit(ctx, "ORDER_CANCELLED_BY_DRIVER", driverID, orderID, nil, fmt.Sprintf("refunded=%t", refunded))
	s.log.Info("driver cancelled order",
		logger.String("order_id", orderID),
		logger.String("driver_id", driverID),
		logger.Bool("refunded", refunded),
	)
	return refunded, nil
}

func (s *dispatchService) Cancel(ctx context.Context, orderID, actorID, reason string) error {
	order, err := s.stg.Order().GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.IsTerminal() {
		return models.ErrConflict
	}

	ok, err := s.stg.Order().UpdateStatus(ctx, orderID, models.StatusCancelled, models.StatusUpdate{})
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrConflict
	}

	if order.DriverID != nil && s.withinGraceWindow(order) && order.DriverCommission > 0 {
		if _, err := s.ledger.AdjustBalance(ctx, *order.DriverID, order.DriverCommission,
			fmt.Sprintf("refund for cancelled order %s", orderID), orderID); err != nil {
			s.log.Error("refund failed", logger.String("order_id", orderID), logger.Error(err))
		}
	}

	s.audit(ctx, "ORDER_CANCELLED", actorID, orderID, nil, reason)
	s.log.Info("order cancelled", logger.String("order_id", orderID), logger.String("actor_id", actorID))
	return nil
}

func (s *dispatchService) RecordBid(ctx context.Context, orderID, providerID string, price float64) (*models.Bid, error) {
	if price <= 0 {
		return nil, &models.ValidationError{Field: "price", Reason: "must be positive"}
	}

	order, err := s.stg.Order().GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Kind != models.KindPharmacy {
		return nil, &models.ValidationError{Field: "kind", Reason: "bidding applies to pharmacy orders"}
	}
	switch order.Status {
	case models.StatusPending, models.StatusAuction, models.StatusUrgent:
	default:
		return nil, models.ErrConflict
	}

	bid := &models.Bid{OrderID: orderID, ProviderID: providerID, Price: price}
	if _, err := s.stg.Bid().Create(ctx, bid); err != nil {
		return nil, err
	}

	s.audit(ctx, "BID_RECORDED", providerID, orderID, &price, "")
	return bid, nil
}

func (s *dispatchService) ListBids(ctx context.Context, orderID string) ([]*models.Bid, error) {
	return s.stg.Bid().GetByOrder(ctx, orderID)
}

func (s *dispatchService) AcceptBid(ctx context.Context, orderID string, bidID int64) (*models.Bid, error) {
	bid, err := s.stg.Bid().GetByID(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if bid.OrderID != orderID {
		return nil, &models.ValidationError{Field: "bid_id", Reason: "bid belongs to another order"}
	}

	ok, err := s.stg.Bid().MarkSelected(ctx, bidID, orderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrConflict
	}

	total := bid.Price + s.cfg.PharmacyDeliveryFee + s.cfg.PharmacyCommission
	allowed := []models.OrderStatus{models.StatusPending, models.StatusAuction, models.StatusUrgent}
	ok, err = s.stg.Order().AssignProvider(ctx, orderID, bid.ProviderID, models.StatusAccepted, allowed, &total)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrConflict
	}

	s.audit(ctx, "BID_ACCEPTED", bid.ProviderID, orderID, &total, "")
	s.log.Info("bid accepted",
		logger.String("order_id", orderID),
		logger.Int64("bid_id", bidID),
		logger.Float64("total", total),
	)

	order, err := s.stg.Order().GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.broadcastDeliveryLeg(ctx, order)
	return bid, nil
}

// ---------------------------------------------------------------------------
// broadcast plumbing

// broadcastAuction posts the order into the vertical's group and, for kinds
// with a timeout, arms the escalation timer. Delivery failures do not fail
// order creation.
func (s *dispatchService) broadcastAuction(ctx context.Context, order *models.Order) {
	if s.gw == nil {
		return
	}
	chatID := s.groupFor(order.Kind)
	if chatID == "" {
		return
	}

	text := formatOrderCard(order)
	var actions []notify.Action
	switch order.Kind {
	case models.KindPharmacy:
		actions = []notify.Action{{Text: "Bid", Data: "bid_" + order.ID}}
	case models.KindCafe:
		actions = []notify.Action{{Text: "Accept", Data: "accept_" + order.ID}}
	default:
		actions = []notify.Action{{Text: "Take", Data: "take_" + order.ID}}
	}

	ref, err := s.gw.Send(ctx, chatID, text, actions)
	if err != nil {
		s.log.Error("broadcast failed", logger.String("order_id", order.ID), logger.Error(err))
		return
	}

	timeout := s.timeoutFor(order.Kind)
	tag := order.Kind.Strategy().TimerTag
	if timeout <= 0 || tag == "" {
		return
	}

	now := s.now()
	timer := &models.AuctionTimer{
		OrderID:   order.ID,
		Tag:       tag,
		ChatID:    ref.ChatID,
		MessageID: ref.MessageID,
		StartedAt: now,
		ExpiresAt: now.Add(timeout),
	}
	if err := s.stg.Timer().Create(ctx, timer); err != nil {
		s.log.Error("failed to arm auction timer", logger.String("order_id", order.ID), logger.Error(err))
	}
}

// broadcastDeliveryLeg posts a ready cafe or priced pharmacy order into the
// taxi group for a courier to take.
func (s *dispatchService) broadcastDeliveryLeg(ctx context.Context, order *models.Order) {
	if s.gw == nil || s.cfg.GroupTaxiID == "" {
		return
	}

	text := fmt.Sprintf("Delivery needed\n%s", formatOrderCard(order))
	actions := []notify.Action{{Text: "Take delivery", Data: "take_" + order.ID}}
	if _, err := s.gw.Send(ctx, s.cfg.GroupTaxiID, text, actions); err != nil {
		s.log.Error("delivery broadcast failed", logger.String("order_id", order.ID), logger.Error(err))
	}
}

// retireBroadcast rewrites the group message of a taken order and arms the
// cleanup timer that removes it later. The auction timer stays unprocessed;
// the scheduler drops stale timers by re-checking order status.
func (s *dispatchService) retireBroadcast(ctx context.Context, order *models.Order, driverID string) {
	if s.gw == nil {
		return
	}
	tag := order.Kind.Strategy().TimerTag
	if tag == "" {
		return
	}

	timer, err := s.stg.Timer().GetLatestUnprocessed(ctx, order.ID, tag)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.log.Error("broadcast lookup failed", logger.String("order_id", order.ID), logger.Error(err))
		}
		return
	}

	ref := notify.MessageRef{ChatID: timer.ChatID, MessageID: timer.MessageID}
	if err := s.gw.Edit(ctx, ref, fmt.Sprintf("Order %s taken", order.ID), nil); err != nil {
		s.log.Error("broadcast edit failed", logger.String("order_id", order.ID), logger.Error(err))
	}

	if order.Kind != models.KindTaxi {
		return
	}
	now := s.now()
	cleanup := &models.AuctionTimer{
		OrderID:   order.ID,
		Tag:       models.TagTaxiAccepted,
		ChatID:    timer.ChatID,
		MessageID: timer.MessageID,
		StartedAt: now,
		ExpiresAt: now.Add(s.cfg.AcceptedCleanupDelay),
	}
	if err := s.stg.Timer().Create(ctx, cleanup); err != nil {
		s.log.Error("failed to arm cleanup timer", logger.String("order_id", order.ID), logger.Error(err))
	}
}

func (s *dispatchService) groupFor(kind models.ServiceKind) string {
	switch kind {
	case models.KindTaxi, models.KindPorter, models.KindCargo:
		return s.cfg.GroupTaxiID
	case models.KindCafe:
		return s.cfg.GroupCafeID
	case models.KindPharmacy:
		return s.cfg.GroupPharmacyID
	case models.KindShop:
		return s.cfg.GroupShopID
	}
	return ""
}

func (s *dispatchService) timeoutFor(kind models.ServiceKind) time.Duration {
	switch kind {
	case models.KindTaxi:
		return s.cfg.TaxiResponseTimeout
	case models.KindCafe:
		return s.cfg.CafeAuctionTimeout
	case models.KindPharmacy:
		return s.cfg.PharmacyTimeout
	}
	return 0
}

func (s *dispatchService) withinGraceWindow(order *models.Order) bool {
	if order.DriverAssignedAt == nil {
		return false
	}
	return s.now().Sub(*order.DriverAssignedAt) <= s.cfg.CancelGraceWindow
}

func (s *dispatchService) audit(ctx context.Context, action, actorID, orderID string, amount *float64, details string) {
	entry := &models.TransactionEntry{
		Action:  action,
		ActorID: actorID,
		OrderID: orderID,
		Amount:  amount,
		Details: details,
	}
	if err := s.stg.TxLog().Append(ctx, entry); err != nil {
		s.log.Error("audit append failed", logger.String("action", action), logger.Error(err))
	}
}

func formatOrderCard(order *models.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Order %s (%s)\n%s", order.ID, order.Kind, order.Details)
	if order.Address != "" {
		fmt.Fprintf(&b, "\nAddress: %s", order.Address)
	}
	if order.Price > 0 {
		fmt.Fprintf(&b, "\nPrice: %.2f", order.Price)
	}
	return b.String()
}

// generateOrderID builds the human-facing id: GO + timestamp plus a short
// random suffix so same-second orders stay unique.
func generateOrderID(now time.Time) string {
	return fmt.Sprintf("GO%s%s", now.Format("060102150405"), uuid.NewString()[:6])
}
