// Package telegram is the Telegram channel: an outbound ChannelGateway and an
// inbound long-polling loop that feeds the ingest use case.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"turnpipe/internal/config"
	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/adapter"
	"turnpipe/internal/infra/i18n"
	"turnpipe/internal/infra/logging"
	"turnpipe/internal/infra/metrics"
	red "turnpipe/internal/infra/redis"
	"turnpipe/internal/usecase"
)

// Channel is the channel name carried on telegram messages and turns.
const Channel = model.ChannelTelegram

// maxMessageLen is Telegram's limit for one text message.
const maxMessageLen = 4096

var _ adapter.ChannelGateway = (*Bot)(nil)

// botAPI is the part of tgbotapi.BotAPI the bot uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// InboundLimiter throttles inbound messages per sender.
type InboundLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Bot struct {
	api     botAPI
	cfg     config.TelegramConfig
	ingest  usecase.IngestUseCase
	reset   usecase.ResetUseCase
	limiter InboundLimiter
	tr      *i18n.Translator
	out     *rate.Limiter
	now     func() time.Time
	log     *zerolog.Logger
}

// NewBot connects to the Bot API with cfg.Token. limiter may be nil.
func NewBot(
	cfg config.TelegramConfig,
	ingest usecase.IngestUseCase,
	reset usecase.ResetUseCase,
	limiter InboundLimiter,
	tr *i18n.Translator,
	logger *zerolog.Logger,
) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is empty")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	return newBot(api, cfg, ingest, reset, limiter, tr, logger), nil
}

func newBot(api botAPI, cfg config.TelegramConfig, ingest usecase.IngestUseCase, reset usecase.ResetUseCase,
	limiter InboundLimiter, tr *i18n.Translator, logger *zerolog.Logger) *Bot {
	sendRate := cfg.SendRate
	if sendRate <= 0 {
		sendRate = 25
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Bot{
		api:     api,
		cfg:     cfg,
		ingest:  ingest,
		reset:   reset,
		limiter: limiter,
		tr:      tr,
		out:     rate.NewLimiter(rate.Limit(sendRate), 1),
		now:     time.Now,
		log:     logging.Component(logger, "TelegramBot"),
	}
}

func (b *Bot) WithClock(now func() time.Time) *Bot {
	b.now = now
	return b
}

// Send delivers text to the chat whose id is recipient. Long texts are split;
// the id of the last part is returned.
func (b *Bot) Send(ctx context.Context, sessionID, recipient, text string) (string, error) {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return "", domain.Permanent(fmt.Errorf("%w: telegram chat id %q", domain.ErrInvalidArgument, recipient))
	}
	var last tgbotapi.Message
	for _, part := range splitText(text, maxMessageLen) {
		if err := b.out.Wait(ctx); err != nil {
			return "", err
		}
		last, err = b.api.Send(tgbotapi.NewMessage(chatID, part))
		if err != nil {
			metrics.IncChannelSend(Channel, "error")
			return "", classifySendErr(err)
		}
	}
	metrics.IncChannelSend(Channel, "ok")
	return strconv.Itoa(last.MessageID), nil
}

// classifySendErr marks errors Telegram will keep returning as permanent.
func classifySendErr(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 400, 403:
			return domain.Permanent(fmt.Errorf("telegram send: %w", err))
		}
	}
	return fmt.Errorf("telegram send: %w", err)
}

// StartPolling long-polls updates until ctx is done. Updates are sharded by
// chat so one conversation's messages are ingested in order.
func (b *Bot) StartPolling(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	shards := make([]chan tgbotapi.Update, b.cfg.Workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan tgbotapi.Update, 32)
		wg.Add(1)
		go func(in <-chan tgbotapi.Update) {
			defer wg.Done()
			for up := range in {
				if err := b.handleUpdate(ctx, up); err != nil {
					b.log.Warn().Err(err).Int("update_id", up.UpdateID).Msg("telegram update failed")
				}
			}
		}(shards[i])
	}
	stop := func() {
		for _, s := range shards {
			close(s)
		}
		wg.Wait()
	}

	b.log.Info().Int("workers", len(shards)).Msg("telegram polling started")
	for {
		select {
		case <-ctx.Done():
			stop()
			return ctx.Err()
		case up, ok := <-updates:
			if !ok {
				stop()
				return nil
			}
			if up.Message == nil || up.Message.Chat == nil {
				continue
			}
			select {
			case shards[shardOf(up.Message.Chat.ID, len(shards))] <- up:
			case <-ctx.Done():
				stop()
				return ctx.Err()
			}
		}
	}
}

func shardOf(chatID int64, n int) int {
	if chatID < 0 {
		chatID = -chatID
	}
	return int(chatID % int64(n))
}

func (b *Bot) handleUpdate(ctx context.Context, up tgbotapi.Update) error {
	msg := up.Message
	if msg == nil || msg.Chat == nil {
		return nil
	}
	chatID := msg.Chat.ID
	conversationID := strconv.FormatInt(chatID, 10)
	userID := conversationID
	if msg.From != nil {
		userID = strconv.FormatInt(msg.From.ID, 10)
	}
	ctx = logging.WithConversationID(ctx, conversationID)

	if !b.allow(ctx, userID) {
		return b.reply(ctx, chatID, b.tr.T("rate_limited"))
	}
	if msg.IsCommand() {
		if handled, err := b.handleCommand(ctx, msg); handled {
			return err
		}
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text == "" {
		return b.reply(ctx, chatID, b.tr.T("unsupported"))
	}

	// Stamped with the receive time; the client Date is not comparable with
	// the server clock the debounce window runs on.
	_, err := b.ingest.Accept(ctx, usecase.IngestInput{
		ID:             fmt.Sprintf("tg-%d-%d", chatID, msg.MessageID),
		ConversationID: conversationID,
		SessionID:      b.cfg.SessionID,
		UserID:         userID,
		Channel:        Channel,
		Text:           text,
		Source:         model.MessageSourceUser,
		Timestamp:      b.now(),
	})
	if errors.Is(err, domain.ErrAlreadyExists) {
		return nil // redelivered update
	}
	if err != nil {
		return fmt.Errorf("ingest telegram message: %w", err)
	}
	metrics.IncInbound(Channel, string(model.MessageSourceUser))
	return nil
}

// allow fails open when the limiter itself errors.
func (b *Bot) allow(ctx context.Context, userID string) bool {
	if b.limiter == nil {
		return true
	}
	ok, err := b.limiter.Allow(ctx, red.InboundKey(Channel, userID), b.cfg.InboundLimit, b.cfg.InboundWindow)
	if err != nil {
		b.log.Warn().Err(err).Msg("inbound limiter unavailable")
		return true
	}
	return ok
}

// reply sends a system text that is not part of the conversation history.
func (b *Bot) reply(ctx context.Context, chatID int64, text string) error {
	_, err := b.Send(ctx, b.cfg.SessionID, strconv.FormatInt(chatID, 10), text)
	return err
}

// splitText cuts s into pieces of at most max runes.
func splitText(s string, max int) []string {
	r := []rune(s)
	if len(r) <= max {
		return []string{s}
	}
	var out []string
	for len(r) > max {
		out = append(out, string(r[:max]))
		r = r[max:]
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}
