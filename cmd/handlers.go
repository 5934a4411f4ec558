package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v3"

	"dispatchbot/pkg/logger"
	"dispatchbot/pkg/models"
	"dispatchbot/service"
)

// registerHandlers routes the inline-button callbacks of group broadcasts
// into the dispatch engine.
func registerHandlers(bot *tele.Bot, services service.IServiceManager, log logger.ILogger) {
	bot.Handle(tele.OnCallback, func(c tele.Context) error {
		data := strings.TrimPrefix(c.Callback().Data, "\f")
		actorID := strconv.FormatInt(c.Sender().ID, 10)
		ctx := context.Background()

		switch {
		case strings.HasPrefix(data, "take_"):
			orderID := strings.TrimPrefix(data, "take_")
			res, err := services.Dispatch().AssignDriver(ctx, orderID, actorID)
			if err != nil {
				return c.Respond(&tele.CallbackResponse{Text: takeFailureText(err)})
			}
			text := fmt.Sprintf("Order %s is yours", res.Order.ID)
			if res.CommissionTaken {
				text += fmt.Sprintf(", commission %.2f, balance %.2f", res.Commission, res.RemainingBalance)
			}
			return c.Respond(&tele.CallbackResponse{Text: text})

		case strings.HasPrefix(data, "accept_"):
			orderID := strings.TrimPrefix(data, "accept_")
			if _, err := services.Dispatch().AcceptOrder(ctx, orderID, actorID); err != nil {
				return c.Respond(&tele.CallbackResponse{Text: takeFailureText(err)})
			}
			return c.Respond(&tele.CallbackResponse{Text: "Order accepted"})

		case strings.HasPrefix(data, "cancel_"):
			orderID := strings.TrimPrefix(data, "cancel_")
			refunded, err := services.Dispatch().CancelByDriver(ctx, orderID, actorID)
			if err != nil {
				return c.Respond(&tele.CallbackResponse{Text: takeFailureText(err)})
			}
			text := "Order released"
			if refunded {
				text = "Order released, commission refunded"
			}
			return c.Respond(&tele.CallbackResponse{Text: text})

		case strings.HasPrefix(data, "arrived_"):
			orderID := strings.TrimPrefix(data, "arrived_")
			if err := services.Dispatch().MarkArrived(ctx, orderID, actorID); err != nil {
				return c.Respond(&tele.CallbackResponse{Text: takeFailureText(err)})
			}
			return c.Respond(&tele.CallbackResponse{Text: "Noted, client informed"})

		case strings.HasPrefix(data, "finish_"):
			orderID := strings.TrimPrefix(data, "finish_")
			if err := services.Dispatch().Complete(ctx, orderID, actorID); err != nil {
				return c.Respond(&tele.CallbackResponse{Text: takeFailureText(err)})
			}
			return c.Respond(&tele.CallbackResponse{Text: "Order completed"})
		}

		log.Warning("unknown callback", logger.String("data", data))
		return c.Respond(&tele.CallbackResponse{Text: "Unknown action"})
	})

	bot.Handle("/balance", func(c tele.Context) error {
		actorID := strconv.FormatInt(c.Sender().ID, 10)
		acc, err := services.Ledger().GetAccount(context.Background(), actorID)
		if err != nil {
			return c.Send("Account not found")
		}
		return c.Send(fmt.Sprintf("Balance: %.2f\nDebt: %.2f", acc.Balance, acc.Debt))
	})
}

func takeFailureText(err error) string {
	switch {
	case errors.Is(err, models.ErrConflict):
		return "Too late, the order is gone"
	case errors.Is(err, models.ErrInsufficientFunds):
		return "Top up your balance first"
	case errors.Is(err, models.ErrNotFound):
		return "Order not found"
	}
	return "Something went wrong, try again"
}
