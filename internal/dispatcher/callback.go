package dispatcher

import (
	"fmt"
	"strings"

	"github.com/garyellow/igrelay/internal/media"
)

// Action is what a choice button asks for.
type Action string

// Button actions.
const (
	ActionVideo  Action = "video"
	ActionAudio  Action = "audio"
	ActionCancel Action = "cancel"
)

// Variant maps a download action to its media variant.
func (a Action) Variant() media.Variant {
	switch a {
	case ActionVideo:
		return media.VariantVideo
	case ActionAudio:
		return media.VariantAudio
	default:
		return media.VariantNone
	}
}

// EncodeCallback builds button data as "{action}_{ownerID}".
func EncodeCallback(a Action, ownerID string) string {
	return string(a) + "_" + ownerID
}

// DecodeCallback parses data built by EncodeCallback. The owner id may itself
// contain underscores; the action never does.
func DecodeCallback(data string) (Action, string, error) {
	action, owner, ok := strings.Cut(data, "_")
	if !ok || owner == "" {
		return "", "", fmt.Errorf("malformed callback data %q", data)
	}
	switch a := Action(action); a {
	case ActionVideo, ActionAudio, ActionCancel:
		return a, owner, nil
	default:
		return "", "", fmt.Errorf("unknown callback action %q", action)
	}
}
