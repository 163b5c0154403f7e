// Package transporttest provides an in-memory transport.Transport for tests.
package transporttest

import (
	"context"
	"os"
	"strconv"
	"sync"

	"github.com/garyellow/igrelay/internal/transport"
)

// Call is one recorded transport call.
type Call struct {
	Op      string
	ChatID  string
	Ref     transport.MessageRef
	Text    string
	Media   transport.Media
	Rows    [][]transport.Choice
	Alert   bool
	Existed bool // for media sends: whether the file existed at upload time
}

// Recorder records every call. Set the Err fields to make an operation fail.
type Recorder struct {
	mu     sync.Mutex
	calls  []Call
	nextID int

	NameValue string

	SendTextErr      error
	EditTextErr      error
	DeleteErr        error
	SendMediaErr     error
	PresentChoiceErr error
	AnswerErr        error

	// OnSendMedia runs during a media send, before the error is returned.
	OnSendMedia func(m transport.Media)
}

var _ transport.Transport = (*Recorder)(nil)

// New returns a recorder named "test".
func New() *Recorder {
	return &Recorder{NameValue: "test"}
}

func (r *Recorder) record(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Ops returns the recorded operation names in order.
func (r *Recorder) Ops() []string {
	calls := r.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

// Last returns the most recent call with the given op.
func (r *Recorder) Last(op string) (Call, bool) {
	calls := r.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Op == op {
			return calls[i], true
		}
	}
	return Call{}, false
}

// Name implements transport.Transport.
func (r *Recorder) Name() string { return r.NameValue }

// SendText implements transport.Transport.
func (r *Recorder) SendText(_ context.Context, chatID, text string) (transport.MessageRef, error) {
	r.mu.Lock()
	r.nextID++
	ref := transport.MessageRef{ChatID: chatID, MessageID: strconv.Itoa(r.nextID)}
	r.mu.Unlock()

	r.record(Call{Op: "send_text", ChatID: chatID, Ref: ref, Text: text})
	if r.SendTextErr != nil {
		return transport.MessageRef{}, r.SendTextErr
	}
	return ref, nil
}

// EditText implements transport.Transport.
func (r *Recorder) EditText(_ context.Context, ref transport.MessageRef, text string) error {
	r.record(Call{Op: "edit_text", ChatID: ref.ChatID, Ref: ref, Text: text})
	return r.EditTextErr
}

// DeleteMessage implements transport.Transport.
func (r *Recorder) DeleteMessage(_ context.Context, ref transport.MessageRef) error {
	r.record(Call{Op: "delete", ChatID: ref.ChatID, Ref: ref})
	return r.DeleteErr
}

func (r *Recorder) sendMedia(op, chatID string, m transport.Media) error {
	_, statErr := os.Stat(m.Path)
	r.record(Call{Op: op, ChatID: chatID, Media: m, Existed: statErr == nil})
	if r.OnSendMedia != nil {
		r.OnSendMedia(m)
	}
	return r.SendMediaErr
}

// SendPhoto implements transport.Transport.
func (r *Recorder) SendPhoto(_ context.Context, chatID string, m transport.Media) error {
	return r.sendMedia("send_photo", chatID, m)
}

// SendVideo implements transport.Transport.
func (r *Recorder) SendVideo(_ context.Context, chatID string, m transport.Media) error {
	return r.sendMedia("send_video", chatID, m)
}

// SendAudio implements transport.Transport.
func (r *Recorder) SendAudio(_ context.Context, chatID string, m transport.Media) error {
	return r.sendMedia("send_audio", chatID, m)
}

// PresentChoice implements transport.Transport.
func (r *Recorder) PresentChoice(_ context.Context, ref transport.MessageRef, text string, rows [][]transport.Choice) error {
	r.record(Call{Op: "present_choice", ChatID: ref.ChatID, Ref: ref, Text: text, Rows: rows})
	return r.PresentChoiceErr
}

// AnswerCallback implements transport.Transport.
func (r *Recorder) AnswerCallback(_ context.Context, callbackID, text string, alert bool) error {
	r.record(Call{Op: "answer_callback", Text: text, Alert: alert, Ref: transport.MessageRef{MessageID: callbackID}})
	return r.AnswerErr
}
