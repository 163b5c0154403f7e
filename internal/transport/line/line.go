// Package line implements the LINE transport: a signed webhook for inbound
// events and the push API for replies.
//
// LINE cannot edit or delete bot messages, has no inline keyboards and only
// accepts media by HTTPS URL. The transport maps the request flow onto that:
// edits push a new text, deletes are no-ops, choices become quick-reply
// postback buttons and media is uploaded to object storage and sent as a
// presigned link.
package line

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"

	"github.com/garyellow/igrelay/internal/config"
	domerrors "github.com/garyellow/igrelay/internal/errors"
	"github.com/garyellow/igrelay/internal/logger"
	"github.com/garyellow/igrelay/internal/metrics"
	"github.com/garyellow/igrelay/internal/ratelimit"
	"github.com/garyellow/igrelay/internal/transport"
)

// Name is the transport name used in user keys, logs and metrics.
const Name = "line"

// LINE API limits.
const (
	maxQuickReplyItems = 13
	maxQuickReplyLabel = 20
	maxLoadingSeconds  = 60
)

// ErrNoMediaHost is returned for media sends when no object store is configured.
var ErrNoMediaHost = errors.New("line: media hosting is not configured")

const noMediaHostMessage = "📤 Media delivery is not set up for LINE yet."

// MediaHost stores files and hands out temporary HTTPS URLs for them.
// *r2client.Client implements it.
type MediaHost interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// pushFunc sends messages to a user, group or room.
type pushFunc func(ctx context.Context, to, retryKey string, msgs []messaging_api.MessageInterface) error

// loadingFunc shows the typing indicator in a 1:1 chat.
type loadingFunc func(ctx context.Context, chatID string) error

// Config configures the LINE transport.
type Config struct {
	ChannelToken string
	SendRPS      float64
	MediaHost    MediaHost // nil disables media sends
	MediaPrefix  string    // object key prefix for uploaded media
	MediaTTL     time.Duration
	Logger       *logger.Logger
	Metrics      *metrics.Metrics
}

// Transport sends messages through the LINE Messaging API.
type Transport struct {
	push     pushFunc
	loading  loadingFunc
	throttle *ratelimit.Outbound
	host     MediaHost
	prefix   string
	ttl      time.Duration
	logger   *logger.Logger
}

var _ transport.Transport = (*Transport)(nil)

// NewTransport creates a Messaging API client for the channel token.
func NewTransport(cfg Config) (*Transport, error) {
	client, err := messaging_api.NewMessagingApiAPI(cfg.ChannelToken)
	if err != nil {
		return nil, fmt.Errorf("create messaging API client: %w", err)
	}

	push := func(_ context.Context, to, retryKey string, msgs []messaging_api.MessageInterface) error {
		_, err := client.PushMessage(&messaging_api.PushMessageRequest{To: to, Messages: msgs}, retryKey)
		return err
	}
	loading := func(_ context.Context, chatID string) error {
		_, err := client.ShowLoadingAnimation(&messaging_api.ShowLoadingAnimationRequest{
			ChatId:         chatID,
			LoadingSeconds: maxLoadingSeconds,
		})
		return err
	}
	return newTransport(push, loading, cfg), nil
}

func newTransport(push pushFunc, loading loadingFunc, cfg Config) *Transport {
	if cfg.MediaTTL <= 0 {
		cfg.MediaTTL = config.LineMediaDefault
	}
	return &Transport{
		push:     push,
		loading:  loading,
		throttle: ratelimit.NewOutbound(Name, cfg.SendRPS, cfg.Metrics),
		host:     cfg.MediaHost,
		prefix:   cfg.MediaPrefix,
		ttl:      cfg.MediaTTL,
		logger:   cfg.Logger.WithModule("line"),
	}
}

// Name implements transport.Transport.
func (t *Transport) Name() string { return Name }

// SendText implements transport.Transport. The returned message id is the
// push retry key; LINE does not address sent messages by id.
func (t *Transport) SendText(ctx context.Context, chatID, text string) (transport.MessageRef, error) {
	key, err := t.send(ctx, "send_text", chatID, textMessage(text))
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: chatID, MessageID: key}, nil
}

// EditText implements transport.Transport by pushing text as a new message.
func (t *Transport) EditText(ctx context.Context, ref transport.MessageRef, text string) error {
	_, err := t.send(ctx, "edit_text", ref.ChatID, textMessage(text))
	return err
}

// DeleteMessage implements transport.Transport. Bots cannot unsend on LINE.
func (t *Transport) DeleteMessage(context.Context, transport.MessageRef) error {
	return nil
}

// PresentChoice implements transport.Transport with quick-reply postback buttons.
func (t *Transport) PresentChoice(ctx context.Context, ref transport.MessageRef, text string, rows [][]transport.Choice) error {
	msg := textMessage(text)
	msg.QuickReply = quickReply(rows)
	_, err := t.send(ctx, "present_choice", ref.ChatID, msg)
	return err
}

// AnswerCallback implements transport.Transport. LINE has no acknowledgement
// for postbacks; the webhook passes the chat id as callback id, so alerts are
// pushed as texts and silent answers are dropped.
func (t *Transport) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if !alert || text == "" || callbackID == "" {
		return nil
	}
	_, err := t.send(ctx, "answer_callback", callbackID, textMessage(text))
	return err
}

// SendPhoto implements transport.Transport.
func (t *Transport) SendPhoto(ctx context.Context, chatID string, m transport.Media) error {
	url, err := t.hostFile(ctx, m)
	if err != nil {
		return err
	}
	return t.sendMedia(ctx, "send_photo", chatID, &messaging_api.ImageMessage{
		OriginalContentUrl: url,
		PreviewImageUrl:    url,
	}, m.Caption)
}

// SendVideo implements transport.Transport. LINE needs a preview image for a
// video; without a thumbnail the video is sent as a link.
func (t *Transport) SendVideo(ctx context.Context, chatID string, m transport.Media) error {
	url, err := t.hostFile(ctx, m)
	if err != nil {
		return err
	}
	if m.Meta.Thumbnail == "" {
		return t.sendMedia(ctx, "send_video", chatID, textMessage("🎥 "+url), m.Caption)
	}
	return t.sendMedia(ctx, "send_video", chatID, &messaging_api.VideoMessage{
		OriginalContentUrl: url,
		PreviewImageUrl:    m.Meta.Thumbnail,
	}, m.Caption)
}

// SendAudio implements transport.Transport.
func (t *Transport) SendAudio(ctx context.Context, chatID string, m transport.Media) error {
	url, err := t.hostFile(ctx, m)
	if err != nil {
		return err
	}
	return t.sendMedia(ctx, "send_audio", chatID, &messaging_api.AudioMessage{
		OriginalContentUrl: url,
		Duration:           max(m.Meta.Duration.Milliseconds(), 1),
	}, m.Caption)
}

// ShowLoading starts the loading animation in a 1:1 chat.
func (t *Transport) ShowLoading(ctx context.Context, chatID string) error {
	if err := t.loading(ctx, chatID); err != nil {
		return fmt.Errorf("line show_loading: %w", err)
	}
	return nil
}

func (t *Transport) sendMedia(ctx context.Context, op, chatID string, msg messaging_api.MessageInterface, caption string) error {
	msgs := []messaging_api.MessageInterface{msg}
	if caption != "" {
		msgs = append(msgs, textMessage(caption))
	}
	_, err := t.send(ctx, op, chatID, msgs...)
	return err
}

func (t *Transport) send(ctx context.Context, op, to string, msgs ...messaging_api.MessageInterface) (string, error) {
	if to == "" {
		return "", fmt.Errorf("line %s: empty recipient", op)
	}
	if err := t.throttle.Wait(ctx); err != nil {
		return "", fmt.Errorf("line %s: %w", op, err)
	}
	retryKey := uuid.NewString()
	if err := t.push(ctx, to, retryKey, msgs); err != nil {
		return "", fmt.Errorf("line %s: %w", op, err)
	}
	return retryKey, nil
}

// hostFile uploads the media file and returns a presigned URL for it.
func (t *Transport) hostFile(ctx context.Context, m transport.Media) (string, error) {
	if t.host == nil {
		return "", domerrors.Wrap(Name, "host_media", ErrNoMediaHost, noMediaHostMessage)
	}

	f, err := os.Open(m.Path)
	if err != nil {
		return "", fmt.Errorf("open media: %w", err)
	}
	defer func() { _ = f.Close() }()

	ext := filepath.Ext(m.Path)
	contentType := contentTypeFor(ext)
	key := t.prefix + uuid.NewString() + ext
	if _, err := t.host.Upload(ctx, key, f, contentType); err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	url, err := t.host.PresignGet(ctx, key, t.ttl)
	if err != nil {
		return "", fmt.Errorf("presign media: %w", err)
	}
	t.logger.WithField("key", key).DebugContext(ctx, "Media hosted")
	return url, nil
}

// contentTypeFor covers the formats the fetchers produce before asking the
// system MIME table.
func contentTypeFor(ext string) string {
	switch strings.ToLower(ext) {
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func textMessage(text string) *messaging_api.TextMessage {
	return &messaging_api.TextMessage{Text: truncate(text, config.LINEMaxTextMessageLength)}
}

func quickReply(rows [][]transport.Choice) *messaging_api.QuickReply {
	var items []messaging_api.QuickReplyItem
	for _, row := range rows {
		for _, c := range row {
			if len(items) == maxQuickReplyItems {
				break
			}
			label := truncate(c.Label, maxQuickReplyLabel)
			items = append(items, messaging_api.QuickReplyItem{
				Action: &messaging_api.PostbackAction{
					Label:       label,
					Data:        truncate(c.Data, config.LINEMaxPostbackDataLength),
					DisplayText: label,
				},
			})
		}
	}
	return &messaging_api.QuickReply{Items: items}
}

func truncate(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit])
}

// transportRef addresses the chat a postback came from; LINE postbacks do not
// identify the message carrying the button.
func transportRef(chatID string) transport.MessageRef {
	return transport.MessageRef{ChatID: chatID}
}
