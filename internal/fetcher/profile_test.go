package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domerrors "github.com/garyellow/igrelay/internal/errors"
	"github.com/garyellow/igrelay/internal/logger"
	"github.com/garyellow/igrelay/internal/media"
	"github.com/garyellow/igrelay/internal/metrics"
)

const profilePage = `<!DOCTYPE html>
<html><head>
<meta property="og:title" content="Alice (@alice) • Instagram photos and videos">
<meta property="og:description" content="120 Followers, 80 Following, 12 Posts">
<meta property="og:image" content="/img/alice.png">
</head><body></body></html>`

const loginWall = `<!DOCTYPE html><html><head><title>Login • Instagram</title></head><body></body></html>`

func newTestProfile(t *testing.T, m *metrics.Metrics) *ProfilePicture {
	t.Helper()
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	p, err := NewProfilePicture(ProfileConfig{
		DownloadsDir:   filepath.Join(t.TempDir(), "downloads"),
		RequestTimeout: 5 * time.Second,
		MaxRetries:     2,
		RetryDelay:     time.Millisecond,
		Logger:         logger.NewWithWriter("debug", io.Discard),
		Metrics:        m,
	})
	require.NoError(t, err)
	return p
}

func imageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write([]byte("\x89PNG fake"))
}

func TestProfilePicture_Success(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/alice/", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = io.WriteString(w, profilePage)
	})
	mux.HandleFunc("/img/alice.png", imageHandler)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newTestProfile(t, nil)
	res := p.Fetch(context.Background(), srv.URL+"/alice/", media.VariantImage)

	require.NoError(t, res.Err)
	assert.Equal(t, ".png", filepath.Ext(res.LocalPath))
	data, err := os.ReadFile(res.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG fake", string(data))
	assert.Equal(t, media.Metadata{
		Uploader:    "alice",
		Title:       "Alice (@alice)",
		Description: "120 Followers, 80 Following, 12 Posts",
	}, res.Meta)
}

func TestProfilePicture_NotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	m := metrics.New(prometheus.NewRegistry())
	p := newTestProfile(t, m)
	res := p.Fetch(context.Background(), srv.URL+"/ghost/", media.VariantImage)

	assert.Equal(t, domerrors.ReasonNotFound, domerrors.FetchReasonOf(res.Err))
	assert.Empty(t, res.LocalPath)
	assert.InDelta(t, 1, testutil.ToFloat64(m.HTTPErrorsTotal.WithLabelValues("status_404", "profile")), 0, "404 is not retried")
}

func TestProfilePicture_LoginWallIsPrivate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, loginWall)
	}))
	defer srv.Close()

	p := newTestProfile(t, nil)
	res := p.Fetch(context.Background(), srv.URL+"/hidden/", media.VariantImage)

	assert.Equal(t, domerrors.ReasonPrivate, domerrors.FetchReasonOf(res.Err))
}

func TestProfilePicture_Forbidden(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := newTestProfile(t, nil)
	res := p.Fetch(context.Background(), srv.URL+"/alice/", media.VariantImage)

	assert.Equal(t, domerrors.ReasonPrivate, domerrors.FetchReasonOf(res.Err))
}

func TestProfilePicture_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var pageHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/alice/", func(w http.ResponseWriter, _ *http.Request) {
		if pageHits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, profilePage)
	})
	mux.HandleFunc("/img/alice.png", imageHandler)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newTestProfile(t, nil)
	res := p.Fetch(context.Background(), srv.URL+"/alice/", media.VariantImage)

	require.NoError(t, res.Err)
	assert.Equal(t, int32(2), pageHits.Load())
}

func TestProfilePicture_ServerErrorsExhausted(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := newTestProfile(t, nil)
	res := p.Fetch(context.Background(), srv.URL+"/alice/", media.VariantImage)

	assert.Equal(t, domerrors.ReasonNetwork, domerrors.FetchReasonOf(res.Err))
	assert.Equal(t, int32(3), hits.Load(), "first attempt plus two retries")
}

func TestProfilePicture_SharesPageFetch(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var pageHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/alice/", func(w http.ResponseWriter, _ *http.Request) {
		pageHits.Add(1)
		<-release
		_, _ = io.WriteString(w, profilePage)
	})
	mux.HandleFunc("/img/alice.png", imageHandler)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newTestProfile(t, nil)

	const callers = 4
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := p.Fetch(context.Background(), srv.URL+"/alice/", media.VariantImage)
			assert.NoError(t, res.Err)
			results[i] = res.LocalPath
		}()
	}

	// Give every caller time to join the in-flight lookup.
	require.Eventually(t, func() bool { return pageHits.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), pageHits.Load())
	seen := map[string]bool{}
	for _, path := range results {
		assert.False(t, seen[path], "each caller owns its own file")
		seen[path] = true
	}
}

func TestProfilePicture_RejectsVideo(t *testing.T) {
	t.Parallel()

	p := newTestProfile(t, nil)
	res := p.Fetch(context.Background(), "https://www.instagram.com/alice/", media.VariantVideo)
	assert.ErrorIs(t, res.Err, domerrors.ErrFetchFailed)
}

func TestHandleFromURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "alice", handleFromURL("https://www.instagram.com/alice/"))
	assert.Equal(t, "bob.smith", handleFromURL("https://instagram.com/bob.smith"))
	assert.Empty(t, handleFromURL("://bad"))
}

func TestImageExt(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".png", imageExt("image/png"))
	assert.Equal(t, ".webp", imageExt("image/webp; charset=binary"))
	assert.Equal(t, ".jpg", imageExt("image/jpeg"))
	assert.Equal(t, ".jpg", imageExt(""))
}
