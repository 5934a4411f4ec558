package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dispatchbot/config"
	"dispatchbot/pkg/logger"
	"dispatchbot/pkg/models"
	"dispatchbot/pkg/notify"
	"dispatchbot/storage"
)

// Scheduler sweeps expired auction timers and escalates the orders behind
// them. Every timer fires at most once: the sweep claims it with a
// conditional processed flip before doing anything visible, so overlapping
// sweeps cannot double-fire.
type Scheduler struct {
	stg  storage.IStorage
	gw   notify.Gateway
	cfg  config.Config
	log  logger.ILogger
	now  func() time.Time
	stop chan struct{}
	done chan struct{}
}

func NewScheduler(stg storage.IStorage, gw notify.Gateway, cfg config.Config, log logger.ILogger) *Scheduler {
	return &Scheduler{
		stg: stg,
		gw:  gw,
		cfg: cfg,
		log: log,
		now: time.Now,
	}
}

func (s *Scheduler) Start() {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.cfg.SchedulerInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.Tick(context.Background())
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
}

// Tick runs one sweep. A failing timer is logged and skipped; the sweep
// always reaches the rest of the batch.
func (s *Scheduler) Tick(ctx context.Context) {
	timers, err := s.stg.Timer().GetExpired(ctx, s.now())
	if err != nil {
		s.log.Error("expired timer fetch failed", logger.Error(err))
		return
	}

	for _, t := range timers {
		if err := s.processTimer(ctx, t); err != nil {
			s.log.Error("timer processing failed",
				logger.Int64("timer_id", t.ID),
				logger.String("order_id", t.OrderID),
				logger.String("tag", t.Tag),
				logger.Error(err),
			)
		}
	}
}

func (s *Scheduler) processTimer(ctx context.Context, t *models.AuctionTimer) error {
	claimed, err := s.stg.Timer().MarkProcessed(ctx, t.ID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	switch t.Tag {
	case models.TagTaxiAccepted:
		return s.cleanupAcceptedMessage(ctx, t)
	case models.TagTaxi:
		return s.escalateRide(ctx, t)
	case models.TagCafe:
		return s.escalateCafe(ctx, t)
	case models.TagPharmacy:
		return s.remindPharmacy(ctx, t)
	}

	s.log.Warning("unknown timer tag", logger.String("tag", t.Tag), logger.Int64("timer_id", t.ID))
	return nil
}

// cleanupAcceptedMessage removes the stale "taken" group message some time
// after assignment.
func (s *Scheduler) cleanupAcceptedMessage(ctx context.Context, t *models.AuctionTimer) error {
	if s.gw == nil {
		return nil
	}
	ref := notify.MessageRef{ChatID: t.ChatID, MessageID: t.MessageID}
	if err := s.gw.Delete(ctx, ref); err != nil {
		return fmt.Errorf("delete accepted message: %w", err)
	}
	return nil
}

// escalateRide marks a still-unclaimed ride urgent and withdraws the group
// broadcast. A timer whose order already moved on is stale and dropped.
func (s *Scheduler) escalateRide(ctx context.Context, t *models.AuctionTimer) error {
	allowed := []models.OrderStatus{models.StatusPending, models.StatusAuction}
	ok, err := s.stg.Order().SetUrgent(ctx, t.OrderID, allowed)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	s.audit(ctx, "RIDE_EXPIRED", t.OrderID)
	s.log.Info("ride auction expired", logger.String("order_id", t.OrderID))

	if s.gw != nil {
		ref := notify.MessageRef{ChatID: t.ChatID, MessageID: t.MessageID}
		if err := s.gw.Delete(ctx, ref); err != nil {
			return fmt.Errorf("withdraw ride broadcast: %w", err)
		}
	}
	return nil
}

// escalateCafe flips a still-pending cafe order to urgent and rewrites the
// broadcast so the group sees the escalation.
func (s *Scheduler) escalateCafe(ctx context.Context, t *models.AuctionTimer) error {
	allowed := []models.OrderStatus{models.StatusPending, models.StatusAuction}
	ok, err := s.stg.Order().SetUrgent(ctx, t.OrderID, allowed)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	s.audit(ctx, "CAFE_AUCTION_TIMEOUT", t.OrderID)
	s.log.Info("cafe auction expired", logger.String("order_id", t.OrderID))

	if s.gw != nil {
		ref := notify.MessageRef{ChatID: t.ChatID, MessageID: t.MessageID}
		text := fmt.Sprintf("URGENT: order %s is still waiting", t.OrderID)
		actions := []notify.Action{{Text: "Accept", Data: "take_" + t.OrderID}}
		if err := s.gw.Edit(ctx, ref, text, actions); err != nil {
			return fmt.Errorf("edit cafe broadcast: %w", err)
		}
	}
	return nil
}

// remindPharmacy nudges the pharmacy group when a bid round produced nothing.
// The order status is untouched.
func (s *Scheduler) remindPharmacy(ctx context.Context, t *models.AuctionTimer) error {
	order, err := s.stg.Order().GetByID(ctx, t.OrderID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}
	if order.Status != models.StatusPending && order.Status != models.StatusAuction {
		return nil
	}

	s.audit(ctx, "PHARMACY_REMINDER", t.OrderID)

	if s.gw != nil && s.cfg.GroupPharmacyID != "" {
		text := fmt.Sprintf("Reminder: order %s has no bids yet", t.OrderID)
		actions := []notify.Action{{Text: "Bid", Data: "bid_" + t.OrderID}}
		if _, err := s.gw.Send(ctx, s.cfg.GroupPharmacyID, text, actions); err != nil {
			return fmt.Errorf("send pharmacy reminder: %w", err)
		}
	}
	return nil
}

func (s *Scheduler) audit(ctx context.Context, action, orderID string) {
	entry := &models.TransactionEntry{
		Action:  action,
		ActorID: "scheduler",
		OrderID: orderID,
	}
	if err := s.stg.TxLog().Append(ctx, entry); err != nil {
		s.log.Error("audit append failed", logger.String("action", action), logger.Error(err))
	}
}
