package dispatcher

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	domerrors "github.com/garyellow/igrelay/internal/errors"
	"github.com/garyellow/igrelay/internal/pipeline"
)

func TestFailureMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		out  pipeline.DeliveryOutcome
		want string
	}{
		{"private", pipeline.DeliveryOutcome{Kind: pipeline.FetchFailed, Reason: domerrors.ReasonPrivate}, "private"},
		{"not found", pipeline.DeliveryOutcome{Kind: pipeline.FetchFailed, Reason: domerrors.ReasonNotFound}, "not found"},
		{"network", pipeline.DeliveryOutcome{Kind: pipeline.FetchFailed, Reason: domerrors.ReasonNetwork}, "could not be reached"},
		{"delivery", pipeline.DeliveryOutcome{
			Kind: pipeline.DeliveryFailed,
			Err:  fmt.Errorf("%w: %w", domerrors.ErrDeliveryFailed, errors.New("boom")),
		}, "could not be sent"},
		{"delivery with user message", pipeline.DeliveryOutcome{
			Kind: pipeline.DeliveryFailed,
			Err: fmt.Errorf("%w: %w", domerrors.ErrDeliveryFailed,
				domerrors.Wrap("telegram", "send_video", errors.New("413"), "File too large for Telegram.")),
		}, "File too large for Telegram."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg := failureMessage(tt.out)
			assert.Contains(t, msg, tt.want)
			assert.Contains(t, msg, "Download Failed")
		})
	}
}
