package dispatcher

import (
	"fmt"
	"strings"
	"time"

	domerrors "github.com/garyellow/igrelay/internal/errors"
	"github.com/garyellow/igrelay/internal/link"
	"github.com/garyellow/igrelay/internal/media"
	"github.com/garyellow/igrelay/internal/pipeline"
	"github.com/garyellow/igrelay/internal/transport"
)

// User-facing texts. Transports send them as plain text.
const (
	welcomeMessage = `🎬✨ Instagram Media Downloader ✨🎬

🌟 What I can do for you:
📸 Download Instagram profile pictures
🎥 Download Instagram reels & posts
🎵 Extract audio from videos
📝 Get captions & descriptions

💡 How to use:
Just send me any Instagram link.

📱 Supported links:
🔗 Profile URLs → Profile picture
🎬 Reel URLs → Video or Audio choice
📷 Post URLs → Video or Audio choice

🎯 Ready? Send me an Instagram link! 🚀`

	invalidLinkMessage = `❌🔗 Invalid Instagram URL!

✅ Supported formats:
📸 Profile: instagram.com/username
🎥 Reel: instagram.com/reel/xxx
📷 Post: instagram.com/p/xxx

💡 Please send a valid Instagram link! 🚀`

	unsupportedKindMessage = `❌🚫 Unsupported Content Type

Stories cannot be downloaded.
💡 Try profile, reel, or post URLs! 🎯`

	processingMessage = `⏳✨ Processing your request...
🚀 Please wait a moment!`

	profileDownloadingMessage = `📸✨ Downloading Profile Picture...
🔍 Fetching high-quality image
⏳ Almost ready!`

	cancelledMessage = `❌🚫 Download Cancelled

🔄 Send another Instagram link to try again! 🚀`

	sessionExpiredMessage = `⏰💔 Session Expired!

❌ Your download session has expired.
🔄 Please send the Instagram link again to start fresh! 🚀`

	notForYouMessage = "❌ This button is not for you!"

	invalidButtonMessage = "❌ This button is no longer valid."

	choiceInProgressMessage = "⏳ Your download is already in progress."
)

func rateLimitedMessage(retryAfter time.Duration) string {
	wait := retryAfter.Round(time.Minute)
	if wait < time.Minute {
		wait = time.Minute
	}
	return fmt.Sprintf(`⏳🚦 Slow down!

You have reached the hourly download limit.
🔄 Try again in about %s.`, formatWait(wait))
}

func formatWait(d time.Duration) string {
	minutes := int(d / time.Minute)
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}

func choicePrompt(kind link.Kind) string {
	content := "📷 Post"
	if kind == link.Reel {
		content = "🎬 Reel"
	}
	return fmt.Sprintf(`🎯✨ %s Detected!

📥 Choose your download format:
🎥 Video → Full quality video
🎵 Audio → MP3 audio only

⚡ Tap a button below to proceed! 🚀`, content)
}

func choiceRows(ownerID string) [][]transport.Choice {
	return [][]transport.Choice{
		{
			{Label: "🎥✨ Video", Data: EncodeCallback(ActionVideo, ownerID)},
			{Label: "🎵🔥 Audio Only", Data: EncodeCallback(ActionAudio, ownerID)},
		},
		{
			{Label: "❌ Cancel", Data: EncodeCallback(ActionCancel, ownerID)},
		},
	}
}

func downloadingMessage(v media.Variant) string {
	return fmt.Sprintf(`⏳%s Downloading %s...

🔄 Processing your request
📦 Preparing download
⚡ Almost ready!`, v.Emoji(), v.Label())
}

// failureMessage explains a failed run to the user.
func failureMessage(out pipeline.DeliveryOutcome) string {
	var b strings.Builder
	b.WriteString("🔒💔 Download Failed\n\n")

	switch out.Kind {
	case pipeline.DeliveryFailed:
		if msg, ok := domerrors.UserMessage(out.Err); ok {
			b.WriteString(msg)
		} else {
			b.WriteString("📤 The media was downloaded but could not be sent. It may be too large for this chat.")
		}
	case pipeline.Rejected:
		b.WriteString("🚫 This content type is not supported.")
	default:
		switch out.Reason {
		case domerrors.ReasonPrivate:
			b.WriteString("🔒 This account/content is private and cannot be downloaded.")
		case domerrors.ReasonNotFound:
			b.WriteString("🔍 The content was not found. It may have been deleted.")
		case domerrors.ReasonNetwork:
			b.WriteString("🌐 Instagram could not be reached. Please try again later.")
		default:
			b.WriteString("❌ The download did not complete.")
		}
	}

	b.WriteString("\n\n💡 Possible reasons:\n🔐 Private content\n🚫 Content unavailable\n🌐 Network issues\n\n🔄 Send the link again to retry! 💪")
	return b.String()
}
