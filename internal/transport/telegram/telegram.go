// Package telegram implements the Telegram transport: long polling for
// updates and Bot API calls for replies.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/garyellow/igrelay/internal/config"
	domerrors "github.com/garyellow/igrelay/internal/errors"
	"github.com/garyellow/igrelay/internal/logger"
	"github.com/garyellow/igrelay/internal/metrics"
	"github.com/garyellow/igrelay/internal/ratelimit"
	"github.com/garyellow/igrelay/internal/transport"
)

// Name is the transport name used in user keys, logs and metrics.
const Name = "telegram"

// maxRetryAfter caps how long a flood-wait response may stall one call.
const maxRetryAfter = 30 * time.Second

const tooLargeMessage = "📤 The file is larger than Telegram lets bots upload (50 MB)."

// API is the part of *tgbotapi.BotAPI the transport uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Config configures the Telegram transport.
type Config struct {
	Token   string
	Debug   bool
	SendRPS float64
	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// Transport sends messages through the Telegram Bot API.
type Transport struct {
	api      API
	throttle *ratelimit.Outbound
	logger   *logger.Logger
}

var _ transport.Transport = (*Transport)(nil)

// Connect authorizes the bot token and returns the API client.
func Connect(cfg Config) (*tgbotapi.BotAPI, error) {
	client := &http.Client{Timeout: config.TelegramRequestTimeout}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	api.Debug = cfg.Debug
	if err := tgbotapi.SetLogger(botLogger{cfg.Logger.WithModule("telegram-api")}); err != nil {
		return nil, fmt.Errorf("set telegram logger: %w", err)
	}
	cfg.Logger.WithField("username", api.Self.UserName).Info("Telegram bot authorized")
	return api, nil
}

// NewTransport wraps api.
func NewTransport(api API, cfg Config) *Transport {
	return &Transport{
		api:      api,
		throttle: ratelimit.NewOutbound(Name, cfg.SendRPS, cfg.Metrics),
		logger:   cfg.Logger.WithModule("telegram"),
	}
}

// Name implements transport.Transport.
func (t *Transport) Name() string { return Name }

// SendText implements transport.Transport.
func (t *Transport) SendText(ctx context.Context, chatID, text string) (transport.MessageRef, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return transport.MessageRef{}, err
	}
	msg, err := t.send(ctx, "send_text", tgbotapi.NewMessage(id, truncate(text, config.TelegramMaxTextLength)))
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: chatID, MessageID: strconv.Itoa(msg.MessageID)}, nil
}

// EditText implements transport.Transport. Editing removes any inline keyboard.
func (t *Transport) EditText(ctx context.Context, ref transport.MessageRef, text string) error {
	chatID, msgID, err := parseRef(ref)
	if err != nil {
		return err
	}
	_, err = t.send(ctx, "edit_text", tgbotapi.NewEditMessageText(chatID, msgID, truncate(text, config.TelegramMaxTextLength)))
	return err
}

// DeleteMessage implements transport.Transport.
func (t *Transport) DeleteMessage(ctx context.Context, ref transport.MessageRef) error {
	chatID, msgID, err := parseRef(ref)
	if err != nil {
		return err
	}
	return t.request(ctx, "delete_message", tgbotapi.NewDeleteMessage(chatID, msgID))
}

// PresentChoice implements transport.Transport.
func (t *Transport) PresentChoice(ctx context.Context, ref transport.MessageRef, text string, rows [][]transport.Choice) error {
	chatID, msgID, err := parseRef(ref)
	if err != nil {
		return err
	}
	_, err = t.send(ctx, "present_choice", tgbotapi.NewEditMessageTextAndMarkup(chatID, msgID, text, keyboard(rows)))
	return err
}

// AnswerCallback implements transport.Transport.
func (t *Transport) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	cb := tgbotapi.NewCallback(callbackID, text)
	if alert {
		cb = tgbotapi.NewCallbackWithAlert(callbackID, text)
	}
	return t.request(ctx, "answer_callback", cb)
}

// SendPhoto implements transport.Transport.
func (t *Transport) SendPhoto(ctx context.Context, chatID string, m transport.Media) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	photo := tgbotapi.NewPhoto(id, tgbotapi.FilePath(m.Path))
	photo.Caption, photo.CaptionEntities = caption(m.Caption)
	_, err = t.send(ctx, "send_photo", photo)
	return err
}

// SendVideo implements transport.Transport.
func (t *Transport) SendVideo(ctx context.Context, chatID string, m transport.Media) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	video := tgbotapi.NewVideo(id, tgbotapi.FilePath(m.Path))
	video.Caption, video.CaptionEntities = caption(m.Caption)
	video.Duration = int(m.Meta.Duration.Seconds())
	video.SupportsStreaming = true
	_, err = t.send(ctx, "send_video", video)
	return err
}

// SendAudio implements transport.Transport.
func (t *Transport) SendAudio(ctx context.Context, chatID string, m transport.Media) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	audio := tgbotapi.NewAudio(id, tgbotapi.FilePath(m.Path))
	audio.Caption, audio.CaptionEntities = caption(m.Caption)
	audio.Duration = int(m.Meta.Duration.Seconds())
	audio.Performer = m.Meta.Uploader
	audio.Title = m.Meta.Title
	_, err = t.send(ctx, "send_audio", audio)
	return err
}

// send calls Send, waiting out one flood-wait response.
func (t *Transport) send(ctx context.Context, op string, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	var msg tgbotapi.Message
	err := t.call(ctx, op, func() error {
		var err error
		msg, err = t.api.Send(c)
		return err
	})
	return msg, err
}

// request is send for methods whose result is not a Message.
func (t *Transport) request(ctx context.Context, op string, c tgbotapi.Chattable) error {
	return t.call(ctx, op, func() error {
		_, err := t.api.Request(c)
		return err
	})
}

func (t *Transport) call(ctx context.Context, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		if err := t.throttle.Wait(ctx); err != nil {
			return fmt.Errorf("telegram %s: %w", op, err)
		}
		err := fn()
		if err == nil || isNotModified(err) {
			return nil
		}

		wait := retryAfter(err)
		if attempt > 0 || wait <= 0 || wait > maxRetryAfter {
			return fail(op, err)
		}
		t.logger.WithField("op", op).WithField("retry_after", wait.String()).WarnContext(ctx, "Flood wait, retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("telegram %s: %w", op, ctx.Err())
		}
	}
}

func retryAfter(err error) time.Duration {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter) * time.Second
	}
	return 0
}

// fail wraps err. Uploads over the Bot API size limit carry an explanation
// for the user.
func fail(op string, err error) error {
	if isTooLarge(err) {
		return domerrors.Wrap(Name, op, err, tooLargeMessage)
	}
	return fmt.Errorf("telegram %s: %w", op, err)
}

func isTooLarge(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusRequestEntityTooLarge {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "too large") || strings.Contains(msg, "too big")
}

// isNotModified reports Telegram's answer to an edit that changes nothing.
func isNotModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}

func keyboard(rows [][]transport.Choice) tgbotapi.InlineKeyboardMarkup {
	kb := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, c := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(c.Label, c.Data))
		}
		kb = append(kb, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(kb...)
}

// caption bolds the first line of text. Entity offsets count UTF-16 units.
func caption(text string) (string, []tgbotapi.MessageEntity) {
	text = truncate(text, config.TelegramCaptionLimit)
	header, _, _ := strings.Cut(text, "\n")
	n := len(utf16.Encode([]rune(header)))
	if n == 0 {
		return text, nil
	}
	return text, []tgbotapi.MessageEntity{{Type: "bold", Offset: 0, Length: n}}
}

func truncate(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit])
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat id %q: %w", chatID, err)
	}
	return id, nil
}

func parseRef(ref transport.MessageRef) (int64, int, error) {
	chatID, err := parseChatID(ref.ChatID)
	if err != nil {
		return 0, 0, err
	}
	msgID, err := strconv.Atoi(ref.MessageID)
	if err != nil {
		return 0, 0, fmt.Errorf("telegram: invalid message id %q: %w", ref.MessageID, err)
	}
	return chatID, msgID, nil
}

// botLogger routes the library's log lines into the structured logger.
type botLogger struct {
	log *logger.Logger
}

func (l botLogger) Println(v ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l botLogger) Printf(format string, v ...any) {
	l.log.Debugf(format, v...)
}
