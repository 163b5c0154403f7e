// Package link classifies Instagram links found in chat messages.
package link

import (
	"regexp"
	"strings"
)

// Kind is the type of Instagram content a link points to.
type Kind int

// Link kinds.
const (
	Unknown Kind = iota
	Profile
	Post
	Reel
	Story
)

func (k Kind) String() string {
	switch k {
	case Profile:
		return "profile"
	case Post:
		return "post"
	case Reel:
		return "reel"
	case Story:
		return "story"
	default:
		return "unknown"
	}
}

// NeedsVariant reports whether the user has to pick Video or Audio first.
func (k Kind) NeedsVariant() bool {
	return k == Post || k == Reel
}

// Descriptor is a classified link. It is a plain value and safe to copy.
type Descriptor struct {
	Kind       Kind
	Identifier string // handle for profiles, shortcode for posts/reels, "user/id" for stories
	RawURL     string // the link as it appeared in the message
}

// CanonicalURL rebuilds an https URL for the descriptor, without query or fragment.
func (d Descriptor) CanonicalURL() string {
	const base = "https://www.instagram.com/"
	switch d.Kind {
	case Profile:
		return base + d.Identifier + "/"
	case Post:
		return base + "p/" + d.Identifier + "/"
	case Reel:
		return base + "reel/" + d.Identifier + "/"
	case Story:
		return base + "stories/" + d.Identifier + "/"
	default:
		return d.RawURL
	}
}

var (
	// candidateRe finds instagram.com URLs; scheme and www./m. are optional.
	candidateRe = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.|m\.)?instagram\.com(/[^\s<>"']*)?`)

	handleRe = regexp.MustCompile(`^[A-Za-z0-9._]{1,30}$`)
)

// reserved first path segments that are never profile handles.
var reserved = map[string]bool{
	"p":        true,
	"reel":     true,
	"reels":    true,
	"stories":  true,
	"explore":  true,
	"accounts": true,
	"tv":       true,
	"direct":   true,
	"about":    true,
	"legal":    true,
}

type candidate struct {
	raw      string
	segments []string
}

type matcher struct {
	kind  Kind
	match func(segs []string) (string, bool)
}

// matchers in priority order. The first matcher that accepts any candidate
// wins, independent of where that candidate sits in the message.
var matchers = []matcher{
	{Profile, func(segs []string) (string, bool) {
		if len(segs) != 1 || reserved[strings.ToLower(segs[0])] || !handleRe.MatchString(segs[0]) {
			return "", false
		}
		return segs[0], true
	}},
	{Reel, markerMatcher("reel")},
	{Post, markerMatcher("p")},
	{Story, func(segs []string) (string, bool) {
		if len(segs) < 2 || !strings.EqualFold(segs[0], "stories") {
			return "", false
		}
		if len(segs) >= 3 {
			return segs[1] + "/" + segs[2], true
		}
		return segs[1], true
	}},
}

func markerMatcher(marker string) func([]string) (string, bool) {
	return func(segs []string) (string, bool) {
		if len(segs) < 2 || !strings.EqualFold(segs[0], marker) {
			return "", false
		}
		return segs[1], true
	}
}

// Classify returns the descriptor for the highest-priority Instagram link in
// text (profile, reel, post, story). ok is false when nothing matches.
func Classify(text string) (d Descriptor, ok bool) {
	cands := candidates(text)
	if len(cands) == 0 {
		return Descriptor{}, false
	}
	for _, m := range matchers {
		for _, c := range cands {
			if id, hit := m.match(c.segments); hit {
				return Descriptor{Kind: m.kind, Identifier: id, RawURL: c.raw}, true
			}
		}
	}
	return Descriptor{}, false
}

func candidates(text string) []candidate {
	locs := candidateRe.FindAllStringSubmatchIndex(text, -1)
	out := make([]candidate, 0, len(locs))
	for _, loc := range locs {
		// Reject hosts like notinstagram.com or instagram.com.evil.
		if loc[0] > 0 && isHostChar(text[loc[0]-1]) {
			continue
		}
		raw := strings.TrimRight(text[loc[0]:loc[1]], ".,;:!?)]}")
		path := ""
		if loc[2] >= 0 {
			path = strings.TrimRight(text[loc[2]:loc[3]], ".,;:!?)]}")
		} else if loc[1] < len(text) && isHostChar(text[loc[1]]) {
			continue
		}
		out = append(out, candidate{raw: raw, segments: segments(path)})
	}
	return out
}

// segments strips query and fragment and splits the path on "/".
func segments(path string) []string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	var segs []string
	for s := range strings.SplitSeq(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func isHostChar(c byte) bool {
	return c == '.' || c == '-' || c == '_' || c == '@' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
