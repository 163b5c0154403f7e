// Package media holds the vocabulary shared by the fetchers, the pipeline and
// the transports: what form a download takes and what is known about it.
package media

import (
	"fmt"
	"time"
)

// Variant is the delivery form of a download.
type Variant string

// Variants offered by the bot.
const (
	VariantNone  Variant = ""
	VariantVideo Variant = "video"
	VariantAudio Variant = "audio"
	VariantImage Variant = "image"
)

// ParseVariant maps a callback action to a variant.
func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case VariantVideo, VariantAudio, VariantImage:
		return Variant(s), nil
	default:
		return VariantNone, fmt.Errorf("unknown variant %q", s)
	}
}

// Label is the user-facing name of the variant.
func (v Variant) Label() string {
	switch v {
	case VariantVideo:
		return "Video"
	case VariantAudio:
		return "Audio"
	case VariantImage:
		return "Profile Picture"
	default:
		return "Media"
	}
}

// Emoji is the icon used in status messages and captions.
func (v Variant) Emoji() string {
	switch v {
	case VariantVideo:
		return "🎥"
	case VariantAudio:
		return "🎵"
	case VariantImage:
		return "📸"
	default:
		return "📦"
	}
}

// Metadata describes fetched content. Every field may be empty.
type Metadata struct {
	Uploader    string
	Title       string
	Description string
	Duration    time.Duration
	Width       int
	Height      int
	Thumbnail   string // remote preview image URL
}
