// Package dispatcher turns inbound chat events into request lifecycle steps:
// rate limiting, link classification, the pending Video/Audio choice and the
// fetch pipeline.
//
// One Dispatcher serves one transport. The rate limiter and session store are
// shared by every transport; keys are "<transport>:<user id>" so users of
// different platforms never collide.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyellow/igrelay/internal/clock"
	"github.com/garyellow/igrelay/internal/config"
	"github.com/garyellow/igrelay/internal/ctxutil"
	domerrors "github.com/garyellow/igrelay/internal/errors"
	"github.com/garyellow/igrelay/internal/link"
	"github.com/garyellow/igrelay/internal/logger"
	"github.com/garyellow/igrelay/internal/media"
	"github.com/garyellow/igrelay/internal/metrics"
	"github.com/garyellow/igrelay/internal/pipeline"
	"github.com/garyellow/igrelay/internal/ratelimit"
	"github.com/garyellow/igrelay/internal/session"
	"github.com/garyellow/igrelay/internal/storage"
	"github.com/garyellow/igrelay/internal/transport"
)

// Event names used in metrics and the request history.
const (
	EventText     = "text"
	EventCallback = "callback"
)

// TextEvent is an inbound chat message.
type TextEvent struct {
	UserID string
	ChatID string
	Text   string
}

// CallbackEvent is a button press.
type CallbackEvent struct {
	UserID     string
	ChatID     string
	CallbackID string
	Data       string
	// Message is the message carrying the button. MessageID may be empty on
	// platforms that do not report it.
	Message transport.MessageRef
}

// HistoryRecorder stores the outcome of handled events.
type HistoryRecorder interface {
	RecordRequest(ctx context.Context, req *storage.Request) error
}

// Config holds the collaborators of a Dispatcher.
type Config struct {
	Transport transport.Transport
	Fetcher   pipeline.Fetcher
	Limiter   *ratelimit.WindowLimiter
	Sessions  *session.Store
	Clock     clock.Clock
	History   HistoryRecorder // optional
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
	Bot       config.BotConfig
}

// Dispatcher handles the events of one transport. Safe for concurrent use.
type Dispatcher struct {
	transport transport.Transport
	limiter   *ratelimit.WindowLimiter
	sessions  *session.Store
	runner    *pipeline.Runner
	clock     clock.Clock
	history   HistoryRecorder
	logger    *logger.Logger
	metrics   *metrics.Metrics
	timeout   time.Duration
}

// New creates a dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	log := cfg.Logger.WithModule("dispatcher").WithField("transport", cfg.Transport.Name())

	return &Dispatcher{
		transport: cfg.Transport,
		limiter:   cfg.Limiter,
		sessions:  cfg.Sessions,
		runner: pipeline.New(pipeline.Config{
			Fetcher:   cfg.Fetcher,
			Transport: cfg.Transport,
			Sessions:  cfg.Sessions,
			Logger:    cfg.Logger,
			Metrics:   cfg.Metrics,
			Captions: pipeline.CaptionLimits{
				Description: cfg.Bot.CaptionDescriptionLimit,
				Total:       cfg.Bot.TransportCaptionLimit,
			},
		}),
		clock:   cfg.Clock,
		history: cfg.History,
		logger:  log,
		metrics: cfg.Metrics,
		timeout: cfg.Bot.EventTimeout,
	}
}

// Transport returns the transport this dispatcher answers through.
func (d *Dispatcher) Transport() transport.Transport {
	return d.transport
}

// UserKey returns the limiter and session key of a platform user.
func (d *Dispatcher) UserKey(userID string) string {
	if userID == "" {
		return ""
	}
	return d.transport.Name() + ":" + userID
}

// record accumulates what is known about one event for metrics and history.
type record struct {
	event      string
	start      time.Time // event clock, stored in the history
	began      time.Time // wall clock, for durations
	userKey    string
	descriptor link.Descriptor
	variant    media.Variant
}

func (d *Dispatcher) begin(ctx context.Context, event, userID, chatID string) (context.Context, context.CancelFunc, *record) {
	if _, ok := ctxutil.GetRequestID(ctx); !ok {
		ctx = ctxutil.WithRequestID(ctx, uuid.NewString())
	}
	ctx = ctxutil.WithTransport(ctx, d.transport.Name())
	ctx = ctxutil.WithUserID(ctx, userID)
	ctx = ctxutil.WithChatID(ctx, chatID)

	var cancel context.CancelFunc = func() {}
	if d.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
	}
	return ctx, cancel, &record{event: event, start: d.clock.Now(), began: time.Now(), userKey: d.UserKey(userID)}
}

func (d *Dispatcher) finish(ctx context.Context, rec *record, err error) error {
	code := domerrors.Code(err)
	elapsed := time.Since(rec.began)

	d.metrics.RecordRequest(d.transport.Name(), rec.event, code, elapsed.Seconds())

	log := d.logger.WithField("event", rec.event).WithField("outcome", code)
	if rec.descriptor.Kind != link.Unknown {
		log = log.WithField("kind", rec.descriptor.Kind.String())
	}
	switch {
	case err == nil:
		log.InfoContext(ctx, "Event handled")
	case code == "internal" || code == "delivery_failed":
		log.WithError(err).ErrorContext(ctx, "Event failed")
	default:
		log.WithError(err).InfoContext(ctx, "Event rejected")
	}

	if d.history != nil {
		requestID, _ := ctxutil.GetRequestID(ctx)
		row := &storage.Request{
			RequestID:  requestID,
			Transport:  d.transport.Name(),
			UserKey:    rec.userKey,
			Event:      rec.event,
			Variant:    string(rec.variant),
			Outcome:    code,
			Duration:   elapsed,
			CreatedAt:  rec.start,
			Identifier: rec.descriptor.Identifier,
		}
		if rec.descriptor.Kind != link.Unknown {
			row.Kind = rec.descriptor.Kind.String()
		}
		// The event deadline may already be spent by a long download.
		if herr := d.history.RecordRequest(context.WithoutCancel(ctx), row); herr != nil {
			d.logger.WithError(herr).WarnContext(ctx, "Failed to record request history")
		}
	}
	return err
}

// HandleText processes a chat message. The returned error is the outcome of
// the event from the domain error taxonomy; nil means it was served.
func (d *Dispatcher) HandleText(ctx context.Context, ev TextEvent) error {
	ctx, cancel, rec := d.begin(ctx, EventText, ev.UserID, ev.ChatID)
	defer cancel()
	return d.finish(ctx, rec, d.handleText(ctx, rec, ev))
}

func (d *Dispatcher) handleText(ctx context.Context, rec *record, ev TextEvent) error {
	now := d.clock.Now()

	if !d.limiter.Admit(rec.userKey, now) {
		d.reply(ctx, ev.ChatID, rateLimitedMessage(d.limiter.RetryAfter(rec.userKey, now)))
		return domerrors.ErrRateLimited
	}

	if isCommand(ev.Text, "start") || isCommand(ev.Text, "help") {
		// Starting over drops any choice still pending.
		d.sessions.Clear(rec.userKey)
		d.reply(ctx, ev.ChatID, welcomeMessage)
		return nil
	}

	desc, ok := link.Classify(ev.Text)
	if !ok {
		d.reply(ctx, ev.ChatID, invalidLinkMessage)
		return domerrors.ErrInvalidLink
	}
	rec.descriptor = desc

	switch {
	case desc.Kind == link.Profile:
		rec.variant = media.VariantImage
		return d.serveProfile(ctx, rec, ev, desc)
	case desc.Kind.NeedsVariant():
		return d.offerChoice(ctx, rec, ev, desc, now)
	default:
		d.reply(ctx, ev.ChatID, unsupportedKindMessage)
		return fmt.Errorf("%w: %s", domerrors.ErrUnsupportedKind, desc.Kind)
	}
}

func (d *Dispatcher) serveProfile(ctx context.Context, rec *record, ev TextEvent, desc link.Descriptor) error {
	status, err := d.transport.SendText(ctx, ev.ChatID, processingMessage)
	if err != nil {
		return d.transportFailure("send_text", err)
	}
	d.edit(ctx, status, profileDownloadingMessage)

	out := d.runner.Run(ctx, pipeline.Request{
		UserKey:    rec.userKey,
		ChatID:     ev.ChatID,
		Descriptor: desc,
	})
	d.settle(ctx, status, out)
	return out.Err
}

func (d *Dispatcher) offerChoice(ctx context.Context, rec *record, ev TextEvent, desc link.Descriptor, now time.Time) error {
	status, err := d.transport.SendText(ctx, ev.ChatID, processingMessage)
	if err != nil {
		return d.transportFailure("send_text", err)
	}

	// A new link replaces whatever choice the user still had pending.
	id := d.sessions.Create(rec.userKey, desc, status.MessageID, now)

	if err := d.transport.PresentChoice(ctx, status, choicePrompt(desc.Kind), choiceRows(ev.UserID)); err != nil {
		d.sessions.ClearIf(rec.userKey, id)
		return d.transportFailure("present_choice", err)
	}
	return nil
}

// HandleCallback processes a press on one of the choice buttons.
func (d *Dispatcher) HandleCallback(ctx context.Context, ev CallbackEvent) error {
	ctx, cancel, rec := d.begin(ctx, EventCallback, ev.UserID, ev.ChatID)
	defer cancel()
	return d.finish(ctx, rec, d.handleCallback(ctx, rec, ev))
}

func (d *Dispatcher) handleCallback(ctx context.Context, rec *record, ev CallbackEvent) error {
	action, owner, err := DecodeCallback(ev.Data)
	if err != nil {
		d.answer(ctx, ev.CallbackID, invalidButtonMessage, true)
		return fmt.Errorf("%w: %w", domerrors.ErrSessionExpired, err)
	}

	if owner != ev.UserID {
		d.answer(ctx, ev.CallbackID, notForYouMessage, true)
		return domerrors.ErrSessionOwnerMismatch
	}

	now := d.clock.Now()
	prompt := ev.Message
	current, exists := d.sessions.Get(rec.userKey)
	if exists {
		rec.descriptor = current.Descriptor
		if prompt.MessageID == "" {
			prompt = transport.MessageRef{ChatID: ev.ChatID, MessageID: current.PromptID}
		}
	}
	if prompt.ChatID == "" {
		prompt.ChatID = ev.ChatID
	}

	if !d.sessions.IsValid(rec.userKey, now) {
		if exists {
			d.sessions.ClearIf(rec.userKey, current.ID)
		}
		d.answer(ctx, ev.CallbackID, "", false)
		d.edit(ctx, prompt, sessionExpiredMessage)
		return domerrors.ErrSessionExpired
	}

	if current.ChosenVariant != "" {
		d.answer(ctx, ev.CallbackID, choiceInProgressMessage, true)
		return domerrors.ErrChoiceInProgress
	}

	if action == ActionCancel {
		d.sessions.ClearIf(rec.userKey, current.ID)
		d.answer(ctx, ev.CallbackID, "", false)
		d.edit(ctx, prompt, cancelledMessage)
		return nil
	}

	variant := action.Variant()
	rec.variant = variant
	sess, ok := d.sessions.Choose(rec.userKey, variant, now)
	if !ok {
		if raced, found := d.sessions.Get(rec.userKey); found && raced.ChosenVariant != "" {
			d.answer(ctx, ev.CallbackID, choiceInProgressMessage, true)
			return domerrors.ErrChoiceInProgress
		}
		d.answer(ctx, ev.CallbackID, "", false)
		d.edit(ctx, prompt, sessionExpiredMessage)
		return domerrors.ErrSessionExpired
	}

	d.answer(ctx, ev.CallbackID, "", false)
	d.edit(ctx, prompt, downloadingMessage(variant))

	out := d.runner.Run(ctx, pipeline.Request{
		UserKey:    rec.userKey,
		ChatID:     ev.ChatID,
		Descriptor: sess.Descriptor,
		Variant:    variant,
		UseSession: true,
		SessionID:  sess.ID,
	})
	d.settle(ctx, prompt, out)
	return out.Err
}

// SweepResult reports what a sweep removed.
type SweepResult struct {
	Ran      bool
	Users    int
	Sessions int
}

// Sweep prunes the rate limiter and drops expired sessions. The limiter
// enforces the sweep interval; calls inside it do nothing.
func (d *Dispatcher) Sweep(now time.Time) SweepResult {
	users, ran := d.limiter.Sweep(now)
	if !ran {
		return SweepResult{}
	}
	return SweepResult{Ran: true, Users: users, Sessions: d.sessions.Sweep(now)}
}

// settle updates the status message once the pipeline returned: removed after
// a delivery, turned into an explanation otherwise.
func (d *Dispatcher) settle(ctx context.Context, status transport.MessageRef, out pipeline.DeliveryOutcome) {
	if out.Delivered() {
		if err := d.transport.DeleteMessage(ctx, status); err != nil {
			d.transportError(ctx, "delete_message", err)
		}
		return
	}
	d.edit(ctx, status, failureMessage(out))
}

func (d *Dispatcher) reply(ctx context.Context, chatID, text string) {
	if _, err := d.transport.SendText(ctx, chatID, text); err != nil {
		d.transportError(ctx, "send_text", err)
	}
}

func (d *Dispatcher) edit(ctx context.Context, ref transport.MessageRef, text string) {
	if err := d.transport.EditText(ctx, ref, text); err != nil {
		d.transportError(ctx, "edit_text", err)
	}
}

func (d *Dispatcher) answer(ctx context.Context, callbackID, text string, alert bool) {
	if callbackID == "" {
		return
	}
	if err := d.transport.AnswerCallback(ctx, callbackID, text, alert); err != nil {
		d.transportError(ctx, "answer_callback", err)
	}
}

func (d *Dispatcher) transportError(ctx context.Context, op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	d.metrics.RecordTransportError(d.transport.Name(), op)
	d.logger.WithError(err).WithField("op", op).WarnContext(ctx, "Transport call failed")
}

func (d *Dispatcher) transportFailure(op string, err error) error {
	d.metrics.RecordTransportError(d.transport.Name(), op)
	return fmt.Errorf("%w: %s: %w", domerrors.ErrDeliveryFailed, op, err)
}

// isCommand reports whether text is /name, optionally addressed to a bot
// (/name@bot) and followed by arguments.
func isCommand(text, name string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return strings.EqualFold(cmd, "/"+name)
}
