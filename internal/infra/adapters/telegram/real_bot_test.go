//go:build !integration

package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"turnpipe/internal/config"
	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/infra/i18n"
	"turnpipe/internal/usecase"
)

type fakeAPI struct {
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	sendErr error
	updates chan tgbotapi.Update
	stopped bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return f.updates }

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.Text
	}
	return out
}

type fakeIngest struct {
	mu  sync.Mutex
	in  []usecase.IngestInput
	err error
}

func (f *fakeIngest) Accept(_ context.Context, in usecase.IngestInput) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.in = append(f.in, in)
	return &model.Message{ID: in.ID}, nil
}

type fakeReset struct {
	err  error
	conv string
}

func (f *fakeReset) Reset(_ context.Context, conversationID string) (*usecase.ResetResult, error) {
	f.conv = conversationID
	if f.err != nil {
		return nil, f.err
	}
	return &usecase.ResetResult{ConversationID: conversationID, MessagesDiscarded: 2}, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

func newTestBot(t *testing.T, api *fakeAPI, ingest *fakeIngest, reset *fakeReset, limiter InboundLimiter) *Bot {
	t.Helper()
	tr, err := i18n.NewTranslator(i18n.LocalesFS, "en")
	if err != nil {
		t.Fatalf("translator: %v", err)
	}
	logger := zerolog.New(nil)
	cfg := config.TelegramConfig{SessionID: "tg-session", SendRate: 1000, InboundLimit: 5, InboundWindow: time.Minute, Workers: 2}
	return newBot(api, cfg, ingest, reset, limiter, tr, &logger)
}

func textMessage(chatID int64, id int, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: id,
		Chat:      &tgbotapi.Chat{ID: chatID},
		From:      &tgbotapi.User{ID: chatID + 1},
		Date:      1700000000,
		Text:      text,
	}}
}

func command(chatID int64, cmd string) tgbotapi.Update {
	up := textMessage(chatID, 1, "/"+cmd)
	up.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd) + 1}}
	return up
}

func TestHandleUpdateIngestsText(t *testing.T) {
	api, ingest := &fakeAPI{}, &fakeIngest{}
	received := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := newTestBot(t, api, ingest, &fakeReset{}, nil).WithClock(func() time.Time { return received })

	// The client Date is years behind the receive time.
	if err := b.handleUpdate(context.Background(), textMessage(42, 7, "hello")); err != nil {
		t.Fatalf("handleUpdate: %v", err)
	}
	if len(ingest.in) != 1 {
		t.Fatalf("expected one ingested message, got %d", len(ingest.in))
	}
	in := ingest.in[0]
	if in.ID != "tg-42-7" || in.ConversationID != "42" || in.UserID != "43" || in.SessionID != "tg-session" ||
		in.Channel != Channel || in.Source != model.MessageSourceUser || !in.Timestamp.Equal(received) {
		t.Errorf("unexpected ingest input %+v", in)
	}
	if len(api.texts()) != 0 {
		t.Errorf("expected no direct reply, got %v", api.texts())
	}

	ingest.err = domain.ErrAlreadyExists
	if err := b.handleUpdate(context.Background(), textMessage(42, 7, "hello")); err != nil {
		t.Errorf("expected a redelivered update to be ignored, got %v", err)
	}
}

func TestHandleUpdateCommands(t *testing.T) {
	t.Run("help", func(t *testing.T) {
		api, ingest := &fakeAPI{}, &fakeIngest{}
		b := newTestBot(t, api, ingest, &fakeReset{}, nil)
		if err := b.handleUpdate(context.Background(), command(5, "help")); err != nil {
			t.Fatal(err)
		}
		if got := api.texts(); len(got) != 1 || !strings.Contains(got[0], "/reset") || len(ingest.in) != 0 {
			t.Errorf("expected help text only, got %v (ingested %d)", got, len(ingest.in))
		}
	})

	t.Run("reset", func(t *testing.T) {
		api, reset := &fakeAPI{}, &fakeReset{}
		b := newTestBot(t, api, &fakeIngest{}, reset, nil)
		if err := b.handleUpdate(context.Background(), command(5, "reset")); err != nil {
			t.Fatal(err)
		}
		if reset.conv != "5" {
			t.Errorf("expected reset of conversation 5, got %q", reset.conv)
		}
		if got := api.texts(); len(got) != 1 || !strings.Contains(got[0], "2 pending") {
			t.Errorf("unexpected reply %v", got)
		}
	})

	t.Run("reset busy", func(t *testing.T) {
		api := &fakeAPI{}
		b := newTestBot(t, api, &fakeIngest{}, &fakeReset{err: domain.ErrLockNotAcquired}, nil)
		if err := b.handleUpdate(context.Background(), command(5, "reset")); err != nil {
			t.Fatal(err)
		}
		if got := api.texts(); len(got) != 1 || !strings.Contains(got[0], "still working") {
			t.Errorf("unexpected reply %v", got)
		}
	})

	t.Run("unknown command is conversation text", func(t *testing.T) {
		ingest := &fakeIngest{}
		b := newTestBot(t, &fakeAPI{}, ingest, &fakeReset{}, nil)
		if err := b.handleUpdate(context.Background(), command(5, "weather")); err != nil {
			t.Fatal(err)
		}
		if len(ingest.in) != 1 || ingest.in[0].Text != "/weather" {
			t.Errorf("expected the command text to be ingested, got %+v", ingest.in)
		}
	})
}

func TestHandleUpdateRateLimited(t *testing.T) {
	api, ingest := &fakeAPI{}, &fakeIngest{}
	b := newTestBot(t, api, ingest, &fakeReset{}, denyLimiter{})
	if err := b.handleUpdate(context.Background(), textMessage(9, 1, "spam")); err != nil {
		t.Fatal(err)
	}
	if len(ingest.in) != 0 {
		t.Error("expected a throttled message not to be ingested")
	}
	if got := api.texts(); len(got) != 1 || !strings.Contains(got[0], "too quickly") {
		t.Errorf("unexpected reply %v", got)
	}
}

func TestSend(t *testing.T) {
	api := &fakeAPI{}
	b := newTestBot(t, api, &fakeIngest{}, &fakeReset{}, nil)

	long := strings.Repeat("a", maxMessageLen+10)
	id, err := b.Send(context.Background(), "s", "42", long)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "2" || len(api.sent) != 2 || api.sent[0].ChatID != 42 || len(api.sent[1].Text) != 10 {
		t.Errorf("expected a split delivery, got id=%s sent=%d", id, len(api.sent))
	}

	if _, err := b.Send(context.Background(), "s", "not-a-chat", "x"); !domain.IsPermanent(err) {
		t.Errorf("expected a bad recipient to be permanent, got %v", err)
	}

	api.sendErr = &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}
	if _, err := b.Send(context.Background(), "s", "42", "x"); !domain.IsPermanent(err) {
		t.Errorf("expected 403 to be permanent, got %v", err)
	}
	api.sendErr = &tgbotapi.Error{Code: 429, Message: "Too Many Requests"}
	if _, err := b.Send(context.Background(), "s", "42", "x"); err == nil || domain.IsPermanent(err) {
		t.Errorf("expected 429 to be retryable, got %v", err)
	}
	api.sendErr = errors.New("connection reset")
	if _, err := b.Send(context.Background(), "s", "42", "x"); err == nil || domain.IsPermanent(err) {
		t.Errorf("expected a transport error to be retryable, got %v", err)
	}
}

func TestStartPollingKeepsChatOrder(t *testing.T) {
	api := &fakeAPI{updates: make(chan tgbotapi.Update, 16)}
	ingest := &fakeIngest{}
	b := newTestBot(t, api, ingest, &fakeReset{}, nil)

	for i := 1; i <= 5; i++ {
		api.updates <- textMessage(100, i, "m")
	}
	api.updates <- textMessage(101, 1, "other")
	close(api.updates)

	if err := b.StartPolling(context.Background()); err != nil {
		t.Fatalf("polling: %v", err)
	}
	var order []string
	for _, in := range ingest.in {
		if in.ConversationID == "100" {
			order = append(order, in.ID)
		}
	}
	want := []string{"tg-100-1", "tg-100-2", "tg-100-3", "tg-100-4", "tg-100-5"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("expected in-order ingest, got %v", order)
	}
	if len(ingest.in) != 6 || !api.stopped {
		t.Errorf("expected all updates ingested and polling stopped, got %d stopped=%v", len(ingest.in), api.stopped)
	}
}
