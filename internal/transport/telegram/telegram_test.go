package telegram

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domerrors "github.com/garyellow/igrelay/internal/errors"
	"github.com/garyellow/igrelay/internal/logger"
	"github.com/garyellow/igrelay/internal/media"
	"github.com/garyellow/igrelay/internal/metrics"
	"github.com/garyellow/igrelay/internal/transport"
)

// fakeAPI records every Chattable and replies with sequential message ids.
type fakeAPI struct {
	mu      sync.Mutex
	sent    []tgbotapi.Chattable
	nextID  int
	errs    []error // consumed in order by Send and Request
	updates chan tgbotapi.Update
	stopped bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{nextID: 100, updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeAPI) popErr() error {
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	if err := f.popErr(); err != nil {
		return tgbotapi.Message{}, err
	}
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	if err := f.popErr(); err != nil {
		return nil, err
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeAPI) calls() []tgbotapi.Chattable {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.Chattable(nil), f.sent...)
}

func newTestTransport(api API) *Transport {
	return NewTransport(api, Config{
		SendRPS: 1000,
		Logger:  logger.NewWithWriter("debug", io.Discard),
		Metrics: metrics.New(prometheus.NewRegistry()),
	})
}

func TestTransport_SendText(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	tr := newTestTransport(api)

	ref, err := tr.SendText(context.Background(), "42", "⏳ Processing your request...")
	require.NoError(t, err)
	assert.Equal(t, transport.MessageRef{ChatID: "42", MessageID: "101"}, ref)

	msg, ok := api.calls()[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Equal(t, "⏳ Processing your request...", msg.Text)
}

func TestTransport_InvalidIDs(t *testing.T) {
	t.Parallel()

	tr := newTestTransport(newFakeAPI())

	_, err := tr.SendText(context.Background(), "abc", "x")
	require.Error(t, err)
	err = tr.EditText(context.Background(), transport.MessageRef{ChatID: "1", MessageID: ""}, "x")
	require.Error(t, err)
}

func TestTransport_PresentChoice(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	tr := newTestTransport(api)

	rows := [][]transport.Choice{
		{{Label: "🎥✨ Video", Data: "video_7"}, {Label: "🎵🔥 Audio Only", Data: "audio_7"}},
		{{Label: "❌ Cancel", Data: "cancel_7"}},
	}
	require.NoError(t, tr.PresentChoice(context.Background(), transport.MessageRef{ChatID: "42", MessageID: "5"}, "🎬 Reel Detected!", rows))

	edit, ok := api.calls()[0].(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.Equal(t, 5, edit.MessageID)
	assert.Equal(t, "🎬 Reel Detected!", edit.Text)
	require.NotNil(t, edit.ReplyMarkup)
	require.Len(t, edit.ReplyMarkup.InlineKeyboard, 2)
	assert.Len(t, edit.ReplyMarkup.InlineKeyboard[0], 2)
	require.NotNil(t, edit.ReplyMarkup.InlineKeyboard[0][1].CallbackData)
	assert.Equal(t, "audio_7", *edit.ReplyMarkup.InlineKeyboard[0][1].CallbackData)
	assert.Equal(t, "❌ Cancel", edit.ReplyMarkup.InlineKeyboard[1][0].Text)
}

func TestTransport_EditNotModifiedIsNoError(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.errs = []error{&tgbotapi.Error{Code: 400, Message: "Bad Request: message is not modified"}}
	tr := newTestTransport(api)

	assert.NoError(t, tr.EditText(context.Background(), transport.MessageRef{ChatID: "1", MessageID: "2"}, "same"))
}

func TestTransport_FloodWaitRetriesOnce(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	flood := &tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 1}}
	api.errs = []error{flood, flood}
	tr := newTestTransport(api)

	start := time.Now()
	err := tr.DeleteMessage(context.Background(), transport.MessageRef{ChatID: "1", MessageID: "2"})

	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.Len(t, api.calls(), 2)
}

func TestTransport_ErrorsAreWrapped(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.errs = []error{errors.New("Forbidden: bot was blocked by the user")}
	tr := newTestTransport(api)

	err := tr.AnswerCallback(context.Background(), "cb1", "x", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram answer_callback")
}

func TestTransport_AnswerCallbackAlert(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	tr := newTestTransport(api)

	require.NoError(t, tr.AnswerCallback(context.Background(), "cb1", "❌ This button is not for you!", true))
	cb, ok := api.calls()[0].(tgbotapi.CallbackConfig)
	require.True(t, ok)
	assert.Equal(t, "cb1", cb.CallbackQueryID)
	assert.True(t, cb.ShowAlert)
}

func TestTransport_SendMedia(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	tr := newTestTransport(api)
	m := transport.Media{
		Path:    "/tmp/a.mp4",
		Caption: "🎥✅ Video Downloaded Successfully!\n\n👤 alice",
		Meta:    media.Metadata{Uploader: "alice", Title: "Song", Duration: 95 * time.Second},
	}

	m.Variant = media.VariantVideo
	require.NoError(t, transport.Deliver(context.Background(), tr, "42", m))
	m.Variant = media.VariantAudio
	require.NoError(t, transport.Deliver(context.Background(), tr, "42", m))
	m.Variant = media.VariantImage
	require.NoError(t, transport.Deliver(context.Background(), tr, "42", m))

	calls := api.calls()
	require.Len(t, calls, 3)

	video, ok := calls[0].(tgbotapi.VideoConfig)
	require.True(t, ok)
	assert.Equal(t, 95, video.Duration)
	assert.True(t, video.SupportsStreaming)
	assert.Equal(t, m.Caption, video.Caption)

	audio, ok := calls[1].(tgbotapi.AudioConfig)
	require.True(t, ok)
	assert.Equal(t, "alice", audio.Performer)
	assert.Equal(t, "Song", audio.Title)

	_, ok = calls[2].(tgbotapi.PhotoConfig)
	assert.True(t, ok)
}

func TestCaption_BoldsHeaderInUTF16Units(t *testing.T) {
	t.Parallel()

	text, entities := caption("🎥✅ Video Downloaded Successfully!\n\n👤 alice")
	assert.Equal(t, "🎥✅ Video Downloaded Successfully!\n\n👤 alice", text)
	require.Len(t, entities, 1)
	assert.Equal(t, "bold", entities[0].Type)
	assert.Equal(t, 0, entities[0].Offset)
	// 🎥 is a surrogate pair, ✅ a single unit.
	assert.Equal(t, 2+1+len(" Video Downloaded Successfully!"), entities[0].Length)

	_, entities = caption("")
	assert.Empty(t, entities)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "héllo", truncate("héllo", 5))
	assert.Equal(t, "hé", truncate("héllo", 2))
}

func TestTransport_TooLargeCarriesUserMessage(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.errs = []error{&tgbotapi.Error{Code: 413, Message: "Request Entity Too Large"}}
	tr := newTestTransport(api)

	err := tr.AnswerCallback(context.Background(), "cb1", "x", false)
	require.Error(t, err)
	msg, ok := domerrors.UserMessage(err)
	assert.True(t, ok)
	assert.Equal(t, tooLargeMessage, msg)
	assert.Contains(t, err.Error(), "telegram answer_callback")
}
