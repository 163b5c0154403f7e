// Package pipeline fetches the media a request points at, delivers it through
// a transport and removes every temporary artifact afterwards, on every path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	domerrors "github.com/garyellow/igrelay/internal/errors"
	"github.com/garyellow/igrelay/internal/link"
	"github.com/garyellow/igrelay/internal/logger"
	"github.com/garyellow/igrelay/internal/media"
	"github.com/garyellow/igrelay/internal/metrics"
	"github.com/garyellow/igrelay/internal/sentry"
	"github.com/garyellow/igrelay/internal/transport"
)

// State is a step of the request lifecycle.
type State int

// Lifecycle states. Failed is reachable from Classified, Fetching and Delivering.
const (
	Received State = iota
	Classified
	AwaitingVariant
	Fetching
	Delivering
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Received:
		return "received"
	case Classified:
		return "classified"
	case AwaitingVariant:
		return "awaiting_variant"
	case Fetching:
		return "fetching"
	case Delivering:
		return "delivering"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// OutcomeKind summarizes how a run ended.
type OutcomeKind int

// Outcome kinds. Rejected means the request never reached the fetcher.
const (
	Delivered OutcomeKind = iota
	FetchFailed
	DeliveryFailed
	Rejected
)

func (k OutcomeKind) String() string {
	switch k {
	case Delivered:
		return "delivered"
	case FetchFailed:
		return "fetch_failed"
	case DeliveryFailed:
		return "delivery_failed"
	default:
		return "rejected"
	}
}

// FetchResult is what a Fetcher returns. On success LocalPath names a file
// the pipeline now owns; on failure Err is set and LocalPath may be empty.
type FetchResult struct {
	LocalPath string
	Status    string
	Meta      media.Metadata
	Err       error
}

// Fetcher downloads the content behind a URL in the requested form.
type Fetcher interface {
	Fetch(ctx context.Context, url string, variant media.Variant) FetchResult
}

// SessionClearer drops the pending choice of a user, provided it is still the
// session with the given ID.
type SessionClearer interface {
	ClearIf(key string, id uint64) bool
}

// Request is one fetch-and-deliver job.
type Request struct {
	UserKey    string
	ChatID     string
	Descriptor link.Descriptor
	Variant    media.Variant // ignored for profiles, required for posts and reels
	UseSession bool          // clear the user's session when the run ends
	SessionID  uint64        // the session the run was started from
}

// DeliveryOutcome is the result of a run.
type DeliveryOutcome struct {
	State   State   // final state, Done or Failed
	Trace   []State // every state visited, in order
	Kind    OutcomeKind
	Reason  domerrors.FetchReason // set when Kind is FetchFailed
	Err     error                 // nil when delivered
	Caption string
}

// Delivered reports whether the media reached the user.
func (o DeliveryOutcome) Delivered() bool {
	return o.Kind == Delivered && o.Err == nil
}

func (o *DeliveryOutcome) enter(s State) {
	o.State = s
	o.Trace = append(o.Trace, s)
}

func (o *DeliveryOutcome) fail(kind OutcomeKind, err error) {
	o.Kind = kind
	o.Err = err
	if kind == FetchFailed {
		o.Reason = domerrors.FetchReasonOf(err)
	}
	o.enter(Failed)
}

// Config holds the collaborators of a Runner.
type Config struct {
	Fetcher   Fetcher
	Transport transport.Transport
	Sessions  SessionClearer
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
	Captions  CaptionLimits
}

// Runner executes requests. Safe for concurrent use; it holds no per-request state.
type Runner struct {
	fetcher   Fetcher
	transport transport.Transport
	sessions  SessionClearer
	logger    *logger.Logger
	metrics   *metrics.Metrics
	captions  CaptionLimits
}

// New creates a runner.
func New(cfg Config) *Runner {
	return &Runner{
		fetcher:   cfg.Fetcher,
		transport: cfg.Transport,
		sessions:  cfg.Sessions,
		logger:    cfg.Logger.WithModule("pipeline"),
		metrics:   cfg.Metrics,
		captions:  cfg.Captions,
	}
}

// VariantFor returns the variant a request for kind is fetched with.
// Profiles always yield an image; posts and reels need a video or audio choice.
func VariantFor(kind link.Kind, chosen media.Variant) (media.Variant, error) {
	switch kind {
	case link.Profile:
		if chosen != media.VariantNone && chosen != media.VariantImage {
			return media.VariantNone, fmt.Errorf("%w: %s for %s", domerrors.ErrUnsupportedKind, chosen, kind)
		}
		return media.VariantImage, nil
	case link.Post, link.Reel:
		if chosen != media.VariantVideo && chosen != media.VariantAudio {
			return media.VariantNone, fmt.Errorf("%w: %q for %s", domerrors.ErrUnsupportedKind, chosen, kind)
		}
		return chosen, nil
	default:
		return media.VariantNone, fmt.Errorf("%w: %s", domerrors.ErrUnsupportedKind, kind)
	}
}

// Run drives req through the lifecycle. The fetcher is called at most once.
// Whatever happens, including panics, the temp file is removed once and the
// session is cleared once when req.UseSession is set.
func (r *Runner) Run(ctx context.Context, req Request) (out DeliveryOutcome) {
	log := r.logger.WithFields(map[string]any{
		"kind":       req.Descriptor.Kind.String(),
		"identifier": req.Descriptor.Identifier,
	})

	var localPath string
	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", rec).
				WithField("stack", string(debug.Stack())).
				ErrorContext(ctx, "Pipeline panicked")
			sentry.CapturePanic(ctx, rec, map[string]string{"component": "pipeline", "state": out.State.String()})
			out.fail(FetchFailed, domerrors.NewFetchError(domerrors.ReasonUnknown, req.Descriptor.RawURL, fmt.Errorf("panic: %v", rec)))
		}
		r.cleanup(ctx, log, req, localPath)
		log.WithField("trace", fmt.Sprint(out.Trace)).DebugContext(ctx, "Pipeline finished")
	}()

	out.enter(Received)
	out.enter(Classified)

	variant, err := VariantFor(req.Descriptor.Kind, req.Variant)
	if err != nil {
		out.fail(Rejected, err)
		return out
	}
	if req.Descriptor.Kind.NeedsVariant() {
		out.enter(AwaitingVariant)
	}

	out.enter(Fetching)
	res := r.fetch(ctx, req.Descriptor, variant)
	localPath = res.LocalPath
	if res.Err != nil {
		out.fail(FetchFailed, res.Err)
		return out
	}

	out.enter(Delivering)
	out.Caption = BuildCaption(variant, res.Meta, r.captions)
	if err := r.deliver(ctx, req.ChatID, transport.Media{
		Path:    res.LocalPath,
		Variant: variant,
		Caption: out.Caption,
		Meta:    res.Meta,
	}); err != nil {
		out.fail(DeliveryFailed, err)
		return out
	}

	out.Kind = Delivered
	out.enter(Done)
	return out
}

// fetch calls the fetcher once and normalizes its result so that every
// failure is a *FetchError.
func (r *Runner) fetch(ctx context.Context, d link.Descriptor, v media.Variant) (res FetchResult) {
	url := d.CanonicalURL()
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithField("panic", rec).
				WithField("stack", string(debug.Stack())).
				ErrorContext(ctx, "Fetcher panicked")
			sentry.CapturePanic(ctx, rec, map[string]string{"component": "fetcher", "variant": string(v)})
			res = FetchResult{LocalPath: res.LocalPath, Err: domerrors.NewFetchError(domerrors.ReasonUnknown, url, fmt.Errorf("panic: %v", rec))}
		}
		r.metrics.RecordFetch(string(v), domerrors.Code(res.Err), time.Since(start).Seconds())
	}()

	res = r.fetcher.Fetch(ctx, url, v)
	switch {
	case res.Err != nil:
		var fe *domerrors.FetchError
		if !errors.As(res.Err, &fe) {
			res.Err = domerrors.NewFetchError(domerrors.ReasonUnknown, url, res.Err)
		}
	case res.LocalPath == "":
		res.Err = domerrors.NewFetchError(domerrors.ReasonUnknown, url, errors.New("fetcher returned no file"))
	}
	return res
}

func (r *Runner) deliver(ctx context.Context, chatID string, m transport.Media) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithField("panic", rec).
				WithField("stack", string(debug.Stack())).
				ErrorContext(ctx, "Transport panicked during delivery")
			sentry.CapturePanic(ctx, rec, map[string]string{"component": "delivery", "transport": r.transport.Name()})
			err = fmt.Errorf("%w: panic: %v", domerrors.ErrDeliveryFailed, rec)
		}
		result := "success"
		if err != nil {
			result = "error"
		}
		r.metrics.RecordDelivery(r.transport.Name(), string(m.Variant), result)
	}()

	if err := transport.Deliver(ctx, r.transport, chatID, m); err != nil {
		return fmt.Errorf("%w: %w", domerrors.ErrDeliveryFailed, err)
	}
	return nil
}

func (r *Runner) cleanup(ctx context.Context, log *logger.Logger, req Request, localPath string) {
	if localPath != "" {
		if err := os.Remove(localPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.WithError(fmt.Errorf("%w: %w", domerrors.ErrCleanupFailed, err)).
				WithField("path", localPath).
				WarnContext(ctx, "Failed to remove temporary file")
			r.metrics.RecordCleanupFailure("temp_file")
		}
	}
	if req.UseSession && r.sessions != nil {
		r.sessions.ClearIf(req.UserKey, req.SessionID)
	}
}
