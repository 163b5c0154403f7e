package line

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"

	"github.com/garyellow/igrelay/internal/ctxutil"
	"github.com/garyellow/igrelay/internal/dispatcher"
	"github.com/garyellow/igrelay/internal/logger"
	"github.com/garyellow/igrelay/internal/metrics"
	"github.com/garyellow/igrelay/internal/sentry"
)

// maxEventsPerWebhook bounds one delivery batch.
const maxEventsPerWebhook = 100

// Handler receives converted events. *dispatcher.Dispatcher implements it.
type Handler interface {
	HandleText(ctx context.Context, ev dispatcher.TextEvent) error
	HandleCallback(ctx context.Context, ev dispatcher.CallbackEvent) error
}

// Loader shows the loading animation. *Transport implements it.
type Loader interface {
	ShowLoading(ctx context.Context, chatID string) error
}

// WebhookConfig configures the webhook endpoint.
type WebhookConfig struct {
	ChannelSecret string
	Handler       Handler
	Loader        Loader // optional
	Logger        *logger.Logger
	Metrics       *metrics.Metrics
}

// Webhook receives LINE webhook deliveries.
type Webhook struct {
	secret  string
	handler Handler
	loader  Loader
	logger  *logger.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// NewWebhook creates the webhook endpoint.
func NewWebhook(cfg WebhookConfig) *Webhook {
	return &Webhook{
		secret:  cfg.ChannelSecret,
		handler: cfg.Handler,
		loader:  cfg.Loader,
		logger:  cfg.Logger.WithModule("line-webhook"),
		metrics: cfg.Metrics,
	}
}

// Handle is the gin handler for POST /webhook/line. It verifies the
// signature, acknowledges right away and processes events asynchronously.
func (w *Webhook) Handle(c *gin.Context) {
	cb, err := webhook.ParseRequest(w.secret, c.Request)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			w.logger.Warn("Invalid webhook signature")
			w.metrics.RecordTransportError(Name, "invalid_signature")
			c.Status(http.StatusBadRequest)
		} else {
			w.logger.WithError(err).Error("Failed to parse webhook request")
			c.Status(http.StatusInternalServerError)
		}
		return
	}

	// LINE expects 200 OK before any work happens.
	c.Status(http.StatusOK)

	events := cb.Events
	if len(events) > maxEventsPerWebhook {
		w.logger.WithField("event_count", len(events)).Warn("Too many events in webhook batch; truncating")
		events = events[:maxEventsPerWebhook]
	}

	for _, event := range events {
		w.wg.Go(func() {
			ctx := ctxutil.WithTransport(context.Background(), Name)
			defer w.recover(ctx)
			w.process(ctx, event)
		})
	}
}

func (w *Webhook) process(ctx context.Context, event webhook.EventInterface) {
	switch e := event.(type) {
	case webhook.MessageEvent:
		text, ok := e.Message.(webhook.TextMessageContent)
		if !ok {
			return
		}
		userID, chatID := sourceIDs(e.Source)
		if userID == "" || !shouldHandleText(e.Source, text.Text) {
			return
		}
		w.showLoading(ctx, e.Source)
		_ = w.handler.HandleText(ctx, dispatcher.TextEvent{UserID: userID, ChatID: chatID, Text: text.Text})

	case webhook.PostbackEvent:
		userID, chatID := sourceIDs(e.Source)
		if userID == "" || e.Postback == nil {
			return
		}
		w.showLoading(ctx, e.Source)
		_ = w.handler.HandleCallback(ctx, dispatcher.CallbackEvent{
			UserID:     userID,
			ChatID:     chatID,
			CallbackID: chatID,
			Data:       e.Postback.Data,
			Message:    transportRef(chatID),
		})

	case webhook.FollowEvent:
		userID, chatID := sourceIDs(e.Source)
		if userID == "" {
			return
		}
		_ = w.handler.HandleText(ctx, dispatcher.TextEvent{UserID: userID, ChatID: chatID, Text: "/start"})

	default:
		w.logger.WithField("event_type", fmt.Sprintf("%T", e)).Debug("Unsupported event type")
	}
}

// showLoading starts the animation in 1:1 chats; LINE rejects it elsewhere.
func (w *Webhook) showLoading(ctx context.Context, source webhook.SourceInterface) {
	if w.loader == nil {
		return
	}
	user, ok := source.(webhook.UserSource)
	if !ok {
		return
	}
	if err := w.loader.ShowLoading(ctx, user.UserId); err != nil {
		w.logger.WithError(err).DebugContext(ctx, "Failed to show loading animation")
	}
}

func (w *Webhook) recover(ctx context.Context) {
	if r := recover(); r != nil {
		w.logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			ErrorContext(ctx, "Panic in async event processing")
		w.metrics.RecordTransportError(Name, "panic")
		sentry.CapturePanic(ctx, r, map[string]string{"transport": Name})
	}
}

// Shutdown waits for in-flight events or until ctx is done.
func (w *Webhook) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sourceIDs returns the sender and the chat to answer in.
func sourceIDs(source webhook.SourceInterface) (userID, chatID string) {
	switch s := source.(type) {
	case webhook.UserSource:
		return s.UserId, s.UserId
	case webhook.GroupSource:
		return s.UserId, s.GroupId
	case webhook.RoomSource:
		return s.UserId, s.RoomId
	default:
		return "", ""
	}
}

// shouldHandleText keeps the bot quiet in groups and rooms unless a message
// carries an Instagram link. Every 1:1 message is handled.
func shouldHandleText(source webhook.SourceInterface, text string) bool {
	if _, ok := source.(webhook.UserSource); ok {
		return true
	}
	return strings.Contains(strings.ToLower(text), "instagram.com")
}
