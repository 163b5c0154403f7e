package fetcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	domerrors "github.com/garyellow/igrelay/internal/errors"
	"github.com/garyellow/igrelay/internal/media"
	"github.com/garyellow/igrelay/internal/pipeline"
)

type stubFetcher struct {
	name string
}

func (s stubFetcher) Fetch(context.Context, string, media.Variant) pipeline.FetchResult {
	return pipeline.FetchResult{Status: s.name}
}

func TestRouter(t *testing.T) {
	t.Parallel()

	r := &Router{Image: stubFetcher{"image"}, Media: stubFetcher{"media"}}
	ctx := context.Background()

	assert.Equal(t, "image", r.Fetch(ctx, "u", media.VariantImage).Status)
	assert.Equal(t, "media", r.Fetch(ctx, "u", media.VariantVideo).Status)
	assert.Equal(t, "media", r.Fetch(ctx, "u", media.VariantAudio).Status)

	res := r.Fetch(ctx, "u", media.VariantNone)
	assert.ErrorIs(t, res.Err, domerrors.ErrFetchFailed)
}

func TestRouter_MissingFetcher(t *testing.T) {
	t.Parallel()

	r := &Router{Media: stubFetcher{"media"}}
	res := r.Fetch(context.Background(), "u", media.VariantImage)
	assert.Equal(t, domerrors.ReasonUnknown, domerrors.FetchReasonOf(res.Err))
}
