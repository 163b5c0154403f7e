// Package fetcher downloads Instagram content: videos and audio through the
// yt-dlp command line tool, profile pictures by reading the profile page.
package fetcher

import (
	"context"
	"fmt"

	domerrors "github.com/garyellow/igrelay/internal/errors"
	"github.com/garyellow/igrelay/internal/media"
	"github.com/garyellow/igrelay/internal/pipeline"
)

// Router sends image requests to one fetcher and video/audio requests to another.
type Router struct {
	Image pipeline.Fetcher
	Media pipeline.Fetcher
}

var _ pipeline.Fetcher = (*Router)(nil)

// Fetch implements pipeline.Fetcher.
func (r *Router) Fetch(ctx context.Context, url string, v media.Variant) pipeline.FetchResult {
	var target pipeline.Fetcher
	switch v {
	case media.VariantImage:
		target = r.Image
	case media.VariantVideo, media.VariantAudio:
		target = r.Media
	}
	if target == nil {
		return pipeline.FetchResult{
			Err: domerrors.NewFetchError(domerrors.ReasonUnknown, url, fmt.Errorf("no fetcher for variant %q", v)),
		}
	}
	return target.Fetch(ctx, url, v)
}
