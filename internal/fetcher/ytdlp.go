package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	domerrors "github.com/garyellow/igrelay/internal/errors"
	"github.com/garyellow/igrelay/internal/logger"
	"github.com/garyellow/igrelay/internal/media"
	"github.com/garyellow/igrelay/internal/pipeline"
)

// Format selectors passed to yt-dlp.
const (
	videoFormat  = "best[ext=mp4]/best"
	audioFormat  = "bestaudio/best"
	audioCodec   = "mp3"
	audioQuality = "192K"
)

// CommandRunner runs an external command and returns its stdout and stderr.
type CommandRunner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// YTDLPConfig configures the yt-dlp fetcher.
type YTDLPConfig struct {
	Path         string        // yt-dlp binary
	DownloadsDir string        // where downloaded files are written
	Timeout      time.Duration // bound for metadata + download
	Runner       CommandRunner // defaults to ExecRunner
	Logger       *logger.Logger
}

// YTDLP downloads posts and reels with yt-dlp.
type YTDLP struct {
	path    string
	dir     string
	timeout time.Duration
	run     CommandRunner
	logger  *logger.Logger
}

var _ pipeline.Fetcher = (*YTDLP)(nil)

// NewYTDLP creates the fetcher and makes sure the downloads directory exists.
func NewYTDLP(cfg YTDLPConfig) (*YTDLP, error) {
	if cfg.Path == "" {
		cfg.Path = "yt-dlp"
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner
	}
	if err := os.MkdirAll(cfg.DownloadsDir, 0o750); err != nil {
		return nil, fmt.Errorf("create downloads directory: %w", err)
	}
	return &YTDLP{
		path:    cfg.Path,
		dir:     cfg.DownloadsDir,
		timeout: cfg.Timeout,
		run:     cfg.Runner,
		logger:  cfg.Logger.WithModule("ytdlp"),
	}, nil
}

// info is the part of yt-dlp's JSON dump the bot uses.
type info struct {
	Uploader     string  `json:"uploader"`
	Channel      string  `json:"channel"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Duration     float64 `json:"duration"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	Availability string  `json:"availability"`
	Thumbnail    string  `json:"thumbnail"`
}

func (i info) metadata() media.Metadata {
	uploader := i.Uploader
	if uploader == "" {
		uploader = i.Channel
	}
	return media.Metadata{
		Uploader:    uploader,
		Title:       i.Title,
		Description: i.Description,
		Duration:    time.Duration(i.Duration * float64(time.Second)),
		Width:       i.Width,
		Height:      i.Height,
		Thumbnail:   i.Thumbnail,
	}
}

// Fetch reads the metadata, refuses private content, then downloads the
// requested variant into the downloads directory.
func (y *YTDLP) Fetch(ctx context.Context, url string, v media.Variant) pipeline.FetchResult {
	if v != media.VariantVideo && v != media.VariantAudio {
		return failed(domerrors.ReasonUnknown, url, fmt.Errorf("yt-dlp cannot fetch variant %q", v))
	}
	if y.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.timeout)
		defer cancel()
	}

	meta, err := y.probe(ctx, url)
	if err != nil {
		return pipeline.FetchResult{Err: err}
	}

	base := uuid.NewString()
	path, err := y.download(ctx, url, v, base)
	if err != nil {
		// yt-dlp may leave fragments behind; hand one back so the pipeline removes it.
		return pipeline.FetchResult{LocalPath: y.leftover(base), Err: err}
	}

	return pipeline.FetchResult{
		LocalPath: path,
		Status:    "✅ Download successful!",
		Meta:      meta.metadata(),
	}
}

func (y *YTDLP) probe(ctx context.Context, url string) (info, error) {
	stdout, stderr, err := y.run(ctx, y.path,
		"--dump-single-json", "--no-warnings", "--no-playlist", url)
	if err != nil {
		return info{}, y.classify(ctx, url, err, stderr)
	}

	var i info
	if err := json.Unmarshal(stdout, &i); err != nil {
		return info{}, domerrors.NewFetchError(domerrors.ReasonUnknown, url, fmt.Errorf("parse yt-dlp metadata: %w", err))
	}
	if strings.EqualFold(i.Availability, "private") || strings.EqualFold(i.Availability, "needs_auth") {
		return info{}, domerrors.NewFetchError(domerrors.ReasonPrivate, url, errors.New("content is private"))
	}
	return i, nil
}

func (y *YTDLP) download(ctx context.Context, url string, v media.Variant, base string) (string, error) {
	args := []string{
		"--no-warnings", "--no-playlist", "--no-progress",
		"-o", filepath.Join(y.dir, base+".%(ext)s"),
		"--print", "after_move:filepath",
	}
	if v == media.VariantAudio {
		args = append(args, "-f", audioFormat, "-x", "--audio-format", audioCodec, "--audio-quality", audioQuality)
	} else {
		args = append(args, "-f", videoFormat)
	}
	args = append(args, url)

	stdout, stderr, err := y.run(ctx, y.path, args...)
	if err != nil {
		return "", y.classify(ctx, url, err, stderr)
	}

	path := lastLine(stdout)
	if path == "" || !fileExists(path) {
		path = y.leftover(base)
	}
	if path == "" {
		return "", domerrors.NewFetchError(domerrors.ReasonUnknown, url, errors.New("download completed but file not found"))
	}
	return path, nil
}

func (y *YTDLP) classify(ctx context.Context, url string, err error, stderr []byte) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}
	reason := ClassifyFailure(err, string(stderr))
	y.logger.WithError(err).
		WithField("reason", string(reason)).
		WithField("stderr", tail(string(stderr), 500)).
		WarnContext(ctx, "yt-dlp failed")
	return domerrors.NewFetchError(reason, url, err)
}

// leftover returns a file yt-dlp wrote for base, if any.
func (y *YTDLP) leftover(base string) string {
	matches, err := filepath.Glob(filepath.Join(y.dir, base+".*"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	return matches[0]
}

func failed(reason domerrors.FetchReason, url string, err error) pipeline.FetchResult {
	return pipeline.FetchResult{Err: domerrors.NewFetchError(reason, url, err)}
}

func lastLine(out []byte) string {
	var last string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			last = line
		}
	}
	return last
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
