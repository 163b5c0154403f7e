package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/corpix/uarand"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	domerrors "github.com/garyellow/igrelay/internal/errors"
	"github.com/garyellow/igrelay/internal/logger"
	"github.com/garyellow/igrelay/internal/media"
	"github.com/garyellow/igrelay/internal/metrics"
	"github.com/garyellow/igrelay/internal/pipeline"
)

// maxImageBytes bounds a profile picture download.
const maxImageBytes = 10 << 20

// ProfileConfig configures the profile picture fetcher.
type ProfileConfig struct {
	DownloadsDir   string
	RequestTimeout time.Duration // per HTTP request
	MaxRetries     int
	RetryDelay     time.Duration // first backoff step
	HTTPClient     *http.Client  // optional
	Logger         *logger.Logger
	Metrics        *metrics.Metrics
}

// profile is what the profile page tells us.
type profile struct {
	Handle      string
	ImageURL    string
	Title       string
	Description string
}

// ProfilePicture downloads the picture a profile page advertises in its
// og:image tag. Concurrent requests for one profile share a page fetch.
type ProfilePicture struct {
	http       *http.Client
	dir        string
	maxRetries int
	retryDelay time.Duration
	group      singleflight.Group
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

var _ pipeline.Fetcher = (*ProfilePicture)(nil)

// NewProfilePicture creates the fetcher and makes sure the downloads directory exists.
func NewProfilePicture(cfg ProfileConfig) (*ProfilePicture, error) {
	if err := os.MkdirAll(cfg.DownloadsDir, 0o750); err != nil {
		return nil, fmt.Errorf("create downloads directory: %w", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &ProfilePicture{
		http:       client,
		dir:        cfg.DownloadsDir,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger.WithModule("profile"),
		metrics:    cfg.Metrics,
	}, nil
}

// Fetch implements pipeline.Fetcher. Only media.VariantImage is supported.
func (p *ProfilePicture) Fetch(ctx context.Context, pageURL string, v media.Variant) pipeline.FetchResult {
	if v != media.VariantImage {
		return failed(domerrors.ReasonUnknown, pageURL, fmt.Errorf("profile fetcher cannot fetch variant %q", v))
	}

	prof, err := p.lookup(ctx, pageURL)
	if err != nil {
		return pipeline.FetchResult{Err: err}
	}

	path, err := p.downloadImage(ctx, prof.ImageURL)
	if err != nil {
		return pipeline.FetchResult{LocalPath: path, Err: p.fetchError(pageURL, err)}
	}

	return pipeline.FetchResult{
		LocalPath: path,
		Status:    "✅ Download successful!",
		Meta: media.Metadata{
			Uploader:    prof.Handle,
			Title:       prof.Title,
			Description: prof.Description,
		},
	}
}

// lookup reads the profile page once per handle for all concurrent callers.
func (p *ProfilePicture) lookup(ctx context.Context, pageURL string) (profile, error) {
	v, err, shared := p.group.Do(pageURL, func() (any, error) {
		return p.readPage(ctx, pageURL)
	})
	if shared {
		p.metrics.RecordSingleflightDedup("profile")
	}
	if err != nil {
		return profile{}, err
	}
	return v.(profile), nil
}

func (p *ProfilePicture) readPage(ctx context.Context, pageURL string) (profile, error) {
	resp, err := p.get(ctx, pageURL, "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	if err != nil {
		return profile{}, p.fetchError(pageURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return profile{}, domerrors.NewFetchError(domerrors.ReasonUnknown, pageURL, fmt.Errorf("parse profile page: %w", err))
	}

	prof := parseProfile(doc, handleFromURL(pageURL))
	if prof.ImageURL == "" {
		// Instagram serves a login wall without og:image for private or blocked profiles.
		return profile{}, domerrors.NewFetchError(domerrors.ReasonPrivate, pageURL, errors.New("profile page has no og:image"))
	}
	prof.ImageURL = resolve(resp.Request.URL, prof.ImageURL)
	return prof, nil
}

func parseProfile(doc *goquery.Document, handle string) profile {
	meta := func(property string) string {
		v, _ := doc.Find(`meta[property="` + property + `"]`).First().Attr("content")
		return strings.TrimSpace(v)
	}

	title := meta("og:title")
	// "Alice (@alice) • Instagram photos and videos"
	if i := strings.Index(title, " • "); i > 0 {
		title = title[:i]
	}
	return profile{
		Handle:      handle,
		ImageURL:    meta("og:image"),
		Title:       title,
		Description: meta("og:description"),
	}
}

func (p *ProfilePicture) downloadImage(ctx context.Context, imageURL string) (string, error) {
	resp, err := p.get(ctx, imageURL, "image/*")
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	path := filepath.Join(p.dir, uuid.NewString()+imageExt(resp.Header.Get("Content-Type")))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create image file: %w", err)
	}

	n, copyErr := io.Copy(f, io.LimitReader(resp.Body, maxImageBytes+1))
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		return path, fmt.Errorf("write image: %w", copyErr)
	case closeErr != nil:
		return path, fmt.Errorf("close image: %w", closeErr)
	case n > maxImageBytes:
		return path, permanent(fmt.Errorf("image larger than %d bytes", maxImageBytes))
	case n == 0:
		return path, permanent(errors.New("empty image"))
	}
	return path, nil
}

// httpStatusError is a non-2xx response.
type httpStatusError struct {
	URL    string
	Status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Status)
}

// get performs a GET with a random user agent, retrying network errors,
// 429 and 5xx. The caller closes the body.
func (p *ProfilePicture) get(ctx context.Context, target, accept string) (*http.Response, error) {
	var resp *http.Response

	err := RetryWithBackoff(ctx, p.maxRetries, p.retryDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("User-Agent", uarand.GetRandom())
		req.Header.Set("Accept", accept)
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")

		r, err := p.http.Do(req)
		if err != nil {
			p.metrics.RecordHTTPError("network", "profile")
			if ctx.Err() != nil {
				return permanent(err)
			}
			return err
		}

		if r.StatusCode >= 200 && r.StatusCode < 300 {
			resp = r
			return nil
		}
		_ = r.Body.Close()

		statusErr := &httpStatusError{URL: target, Status: r.StatusCode}
		p.metrics.RecordHTTPError(fmt.Sprintf("status_%d", r.StatusCode), "profile")
		switch {
		case r.StatusCode == http.StatusTooManyRequests, r.StatusCode >= 500:
			return statusErr
		default:
			return permanent(statusErr)
		}
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// fetchError maps an HTTP failure to a fetch reason.
func (p *ProfilePicture) fetchError(pageURL string, err error) error {
	var fe *domerrors.FetchError
	if errors.As(err, &fe) {
		return fe
	}

	reason := domerrors.ReasonUnknown
	var statusErr *httpStatusError
	switch {
	case errors.As(err, &statusErr):
		switch {
		case statusErr.Status == http.StatusNotFound, statusErr.Status == http.StatusGone:
			reason = domerrors.ReasonNotFound
		case statusErr.Status == http.StatusUnauthorized, statusErr.Status == http.StatusForbidden:
			reason = domerrors.ReasonPrivate
		case statusErr.Status == http.StatusTooManyRequests, statusErr.Status >= 500:
			reason = domerrors.ReasonNetwork
		}
	case errors.Is(err, context.DeadlineExceeded), IsNetworkError(err):
		reason = domerrors.ReasonNetwork
	}
	return domerrors.NewFetchError(reason, pageURL, err)
}

// handleFromURL returns the first path segment of a profile URL.
func handleFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	handle, _, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")
	return handle
}

func resolve(base *url.URL, ref string) string {
	r, err := url.Parse(ref)
	if err != nil || base == nil {
		return ref
	}
	return base.ResolveReference(r).String()
}

func imageExt(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".jpg"
	}
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
