package telegram

import (
	"context"
	"runtime/debug"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/garyellow/igrelay/internal/config"
	"github.com/garyellow/igrelay/internal/ctxutil"
	"github.com/garyellow/igrelay/internal/dispatcher"
	"github.com/garyellow/igrelay/internal/logger"
	"github.com/garyellow/igrelay/internal/metrics"
	"github.com/garyellow/igrelay/internal/sentry"
)

// Handler receives converted updates. *dispatcher.Dispatcher implements it.
type Handler interface {
	HandleText(ctx context.Context, ev dispatcher.TextEvent) error
	HandleCallback(ctx context.Context, ev dispatcher.CallbackEvent) error
}

// Poller long-polls getUpdates and hands every update to the handler on its
// own goroutine.
type Poller struct {
	api     API
	handler Handler
	logger  *logger.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// NewPoller creates a poller.
func NewPoller(api API, h Handler, log *logger.Logger, m *metrics.Metrics) *Poller {
	return &Poller{
		api:     api,
		handler: h,
		logger:  log.WithModule("telegram"),
		metrics: m,
	}
}

// Run receives updates until ctx is canceled. In-flight handlers keep running;
// Shutdown waits for them.
func (p *Poller) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = config.TelegramPollTimeout
	u.AllowedUpdates = []string{"message", "callback_query"}

	updates := p.api.GetUpdatesChan(u)
	p.logger.Info("Telegram polling started")

	for {
		select {
		case <-ctx.Done():
			p.api.StopReceivingUpdates()
			p.logger.Info("Telegram polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			p.dispatch(context.WithoutCancel(ctx), update)
		}
	}
}

func (p *Poller) dispatch(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		ev, ok := callbackEvent(update.CallbackQuery)
		if !ok {
			return
		}
		p.wg.Go(func() {
			defer p.recover(ctx, "callback")
			_ = p.handler.HandleCallback(ctx, ev)
		})
	case update.Message != nil:
		ev, ok := textEvent(update.Message)
		if !ok {
			p.logger.WithField("update_id", update.UpdateID).Debug("Ignoring non-text message")
			return
		}
		p.wg.Go(func() {
			defer p.recover(ctx, "text")
			_ = p.handler.HandleText(ctx, ev)
		})
	}
}

func (p *Poller) recover(ctx context.Context, event string) {
	if r := recover(); r != nil {
		ctx = ctxutil.WithTransport(ctx, Name)
		p.logger.WithField("panic", r).
			WithField("event", event).
			WithField("stack", string(debug.Stack())).
			ErrorContext(ctx, "Panic while handling update")
		p.metrics.RecordTransportError(Name, "panic")
		sentry.CapturePanic(ctx, r, map[string]string{"transport": Name, "event": event})
	}
}

// Shutdown waits for in-flight handlers or until ctx is done.
func (p *Poller) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func textEvent(m *tgbotapi.Message) (dispatcher.TextEvent, bool) {
	if m.From == nil || m.Chat == nil || m.Text == "" {
		return dispatcher.TextEvent{}, false
	}
	return dispatcher.TextEvent{
		UserID: strconv.FormatInt(m.From.ID, 10),
		ChatID: strconv.FormatInt(m.Chat.ID, 10),
		Text:   m.Text,
	}, true
}

func callbackEvent(q *tgbotapi.CallbackQuery) (dispatcher.CallbackEvent, bool) {
	if q.From == nil {
		return dispatcher.CallbackEvent{}, false
	}
	ev := dispatcher.CallbackEvent{
		UserID:     strconv.FormatInt(q.From.ID, 10),
		CallbackID: q.ID,
		Data:       q.Data,
	}
	if q.Message != nil && q.Message.Chat != nil {
		ev.ChatID = strconv.FormatInt(q.Message.Chat.ID, 10)
		ev.Message.ChatID = ev.ChatID
		ev.Message.MessageID = strconv.Itoa(q.Message.MessageID)
	}
	return ev, true
}
