package telegram

import (
	"context"
	"errors"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"turnpipe/internal/domain"
)

type commandHandler func(ctx context.Context, msg *tgbotapi.Message) error

// commandRoutes lists the commands the bot answers itself. Anything else is
// ingested as conversation text.
func (b *Bot) commandRoutes() map[string]commandHandler {
	return map[string]commandHandler{
		"start": b.handleHelpCommand,
		"help":  b.handleHelpCommand,
		"reset": b.handleResetCommand,
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	fn, ok := b.commandRoutes()[msg.Command()]
	if !ok {
		return false, nil
	}
	return true, fn(ctx, msg)
}

func (b *Bot) handleHelpCommand(ctx context.Context, msg *tgbotapi.Message) error {
	return b.reply(ctx, msg.Chat.ID, b.tr.T("help"))
}

func (b *Bot) handleResetCommand(ctx context.Context, msg *tgbotapi.Message) error {
	res, err := b.reset.Reset(ctx, b.conversationID(msg))
	switch {
	case errors.Is(err, domain.ErrLockNotAcquired):
		return b.reply(ctx, msg.Chat.ID, b.tr.T("reset_busy"))
	case err != nil:
		b.log.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("reset failed")
		return b.reply(ctx, msg.Chat.ID, b.tr.T("reset_failed"))
	}
	return b.reply(ctx, msg.Chat.ID, b.tr.T("reset_done", res.MessagesDiscarded))
}

func (b *Bot) conversationID(msg *tgbotapi.Message) string {
	return strconv.FormatInt(msg.Chat.ID, 10)
}
