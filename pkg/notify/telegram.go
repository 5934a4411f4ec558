package notify

import (
	"context"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v3"

	"dispatchbot/pkg/logger"
)

// TelegramGateway implements Gateway on top of a single telebot instance.
type TelegramGateway struct {
	bot *tele.Bot
	log logger.ILogger
}

func NewTelegramGateway(token string, log logger.ILogger) (*TelegramGateway, error) {
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	b, err := tele.NewBot(pref)
	if err != nil {
		return nil, err
	}
	return &TelegramGateway{bot: b, log: log}, nil
}

// Bot exposes the underlying telebot instance so the surrounding service can
// register its inbound handlers on the same connection.
func (g *TelegramGateway) Bot() *tele.Bot {
	return g.bot
}

func (g *TelegramGateway) Send(_ context.Context, chatID, text string, actions []Action) (MessageRef, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return MessageRef{}, err
	}

	msg, err := g.bot.Send(tele.ChatID(id), text, markup(actions), tele.ModeMarkdown)
	if err != nil {
		g.log.Error("telegram send failed", logger.String("chat_id", chatID), logger.Error(err))
		return MessageRef{}, err
	}

	return MessageRef{
		ChatID:    chatID,
		MessageID: strconv.Itoa(msg.ID),
	}, nil
}

func (g *TelegramGateway) Edit(_ context.Context, ref MessageRef, text string, actions []Action) error {
	stored, err := storedMessage(ref)
	if err != nil {
		return err
	}

	_, err = g.bot.Edit(stored, text, markup(actions), tele.ModeMarkdown)
	if err != nil {
		g.log.Error("telegram edit failed", logger.String("chat_id", ref.ChatID), logger.Error(err))
	}
	return err
}

func (g *TelegramGateway) Delete(_ context.Context, ref MessageRef) error {
	stored, err := storedMessage(ref)
	if err != nil {
		return err
	}

	if err := g.bot.Delete(stored); err != nil {
		g.log.Error("telegram delete failed", logger.String("chat_id", ref.ChatID), logger.Error(err))
		return err
	}
	return nil
}

func storedMessage(ref MessageRef) (tele.StoredMessage, error) {
	chatID, err := strconv.ParseInt(ref.ChatID, 10, 64)
	if err != nil {
		return tele.StoredMessage{}, err
	}
	return tele.StoredMessage{MessageID: ref.MessageID, ChatID: chatID}, nil
}

func markup(actions []Action) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rows := make([][]tele.InlineButton, 0, len(actions))
	for _, a := range actions {
		rows = append(rows, []tele.InlineButton{{Text: a.Text, Data: a.Data}})
	}
	rm.InlineKeyboard = rows
	return rm
}
