package fetcher

import (
	"context"
	"errors"
	"net"
	"os/exec"
	"strings"

	domerrors "github.com/garyellow/igrelay/internal/errors"
)

// Phrases yt-dlp and Instagram use, lowercased.
var (
	privatePhrases = []string{
		"private",
		"not available",
		"login required",
		"log in",
		"requested content is not available",
	}
	notFoundPhrases = []string{
		"404",
		"not found",
		"does not exist",
		"no video",
		"unable to extract",
	}
	networkPhrases = []string{
		"timed out",
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure in name resolution",
		"network is unreachable",
		"no route to host",
		"tls handshake",
		"429",
		"too many requests",
		"502",
		"503",
		"504",
	}
)

// ClassifyFailure maps a failed download to a reason using the error itself
// and whatever the tool printed to stderr. Private wins over NotFound, which
// wins over Network.
func ClassifyFailure(err error, stderr string) domerrors.FetchReason {
	if errors.Is(err, exec.ErrNotFound) {
		return domerrors.ReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || IsNetworkError(err) {
		return domerrors.ReasonNetwork
	}

	text := strings.ToLower(stderr)
	if err != nil {
		text += "\n" + strings.ToLower(err.Error())
	}

	switch {
	case containsAny(text, privatePhrases):
		return domerrors.ReasonPrivate
	case containsAny(text, notFoundPhrases):
		return domerrors.ReasonNotFound
	case containsAny(text, networkPhrases):
		return domerrors.ReasonNetwork
	default:
		return domerrors.ReasonUnknown
	}
}

// IsNetworkError reports whether err is a transport-level failure worth retrying.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var permErr *permanentError
	if errors.As(err, &permErr) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
