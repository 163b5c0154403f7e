package pipeline

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/garyellow/igrelay/internal/media"
)

const ellipsis = "..."

// CaptionLimits bounds the caption built for a delivery.
type CaptionLimits struct {
	Description int // runes kept from the description before "..."
	Total       int // runes in the whole caption
}

// Header is the first caption line for a variant.
func Header(v media.Variant) string {
	switch v {
	case media.VariantImage:
		return "📸✨ Profile Picture Downloaded!"
	case media.VariantVideo, media.VariantAudio:
		return v.Emoji() + "✅ " + v.Label() + " Downloaded Successfully!"
	default:
		return "✅ Download Complete!"
	}
}

// BuildCaption renders the header followed by uploader, title and description,
// separated by blank lines. The title is skipped when it repeats the uploader
// and the description when it repeats the title.
func BuildCaption(v media.Variant, meta media.Metadata, limits CaptionLimits) string {
	uploader := clean(meta.Uploader)
	title := clean(meta.Title)
	desc := clean(meta.Description)

	parts := []string{Header(v)}
	if uploader != "" {
		parts = append(parts, "👤 "+uploader)
	}
	if title != "" && title != uploader {
		parts = append(parts, "📝 "+title)
	}
	if desc != "" && desc != title {
		parts = append(parts, "💬 "+truncate(desc, limits.Description, true))
	}

	return truncate(strings.Join(parts, "\n\n"), limits.Total, false)
}

func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// truncate cuts s to limit runes. With suffix, "..." is appended after the
// cut (the description rule); without, the result never exceeds limit.
func truncate(s string, limit int, suffix bool) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if suffix {
		return string(runes[:limit]) + ellipsis
	}
	return string(runes[:limit])
}
