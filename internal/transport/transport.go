// Package transport defines the chat platform surface the request core talks
// to. Concrete platforms live in the telegram and line subpackages.
package transport

import (
	"context"
	"fmt"

	"github.com/garyellow/igrelay/internal/media"
)

// MessageRef points at a message the bot sent, so it can be edited or deleted.
type MessageRef struct {
	ChatID    string
	MessageID string
}

// Choice is one inline button. Data travels back in the callback.
type Choice struct {
	Label string
	Data  string
}

// Media is a local file ready to upload.
type Media struct {
	Path    string
	Variant media.Variant
	Caption string
	Meta    media.Metadata
}

// Transport sends and edits messages on one chat platform.
//
// Implementations report delivery failures as errors and never leave partial
// uploads the caller has to track.
type Transport interface {
	// Name identifies the platform ("telegram", "line") in keys, logs and metrics.
	Name() string

	SendText(ctx context.Context, chatID, text string) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string) error
	DeleteMessage(ctx context.Context, ref MessageRef) error

	SendPhoto(ctx context.Context, chatID string, m Media) error
	SendVideo(ctx context.Context, chatID string, m Media) error
	SendAudio(ctx context.Context, chatID string, m Media) error

	// PresentChoice turns ref into a prompt carrying rows of buttons.
	PresentChoice(ctx context.Context, ref MessageRef, text string, rows [][]Choice) error

	// AnswerCallback acknowledges a button press; alert shows text as a popup.
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}

// Deliver uploads m with the send method matching its variant.
func Deliver(ctx context.Context, t Transport, chatID string, m Media) error {
	switch m.Variant {
	case media.VariantImage:
		return t.SendPhoto(ctx, chatID, m)
	case media.VariantVideo:
		return t.SendVideo(ctx, chatID, m)
	case media.VariantAudio:
		return t.SendAudio(ctx, chatID, m)
	default:
		return fmt.Errorf("transport: no send method for variant %q", m.Variant)
	}
}
