package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyellow/igrelay/internal/link"
	"github.com/garyellow/igrelay/internal/media"
)

var (
	t0   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reel = link.Descriptor{Kind: link.Reel, Identifier: "abc", RawURL: "https://instagram.com/reel/abc"}
	post = link.Descriptor{Kind: link.Post, Identifier: "def", RawURL: "https://instagram.com/p/def"}
)

func TestStore_ExpiryBoundary(t *testing.T) {
	t.Parallel()
	s := NewStore(300 * time.Second)
	s.Create("u1", reel, "", t0)

	assert.True(t, s.IsValid("u1", t0))
	assert.True(t, s.IsValid("u1", t0.Add(299*time.Second)), "valid at +299s")
	assert.False(t, s.IsValid("u1", t0.Add(300*time.Second)), "invalid at +300s")
	assert.False(t, s.IsValid("u1", t0.Add(301*time.Second)))
}

func TestStore_GetIgnoresValidity(t *testing.T) {
	t.Parallel()
	s := NewStore(300 * time.Second)
	s.Create("u1", reel, "msg-1", t0)

	// Expired but still readable, so the caller can say "expired" instead of "send a link".
	sess, ok := s.Get("u1")
	require.True(t, ok)
	assert.False(t, s.IsValid("u1", t0.Add(time.Hour)))
	assert.Equal(t, reel, sess.Descriptor)
	assert.Equal(t, "msg-1", sess.PromptID)
	assert.Equal(t, t0, sess.CreatedAt)

	_, ok = s.Get("nobody")
	assert.False(t, ok)
	assert.False(t, s.IsValid("nobody", t0))
}

func TestStore_CreateOverwrites(t *testing.T) {
	t.Parallel()
	s := NewStore(300 * time.Second)

	s.Create("u1", reel, "", t0)
	captured, _ := s.Get("u1")

	s.Create("u1", post, "", t0.Add(10*time.Second))
	sess, _ := s.Get("u1")

	assert.Equal(t, post, sess.Descriptor)
	assert.Equal(t, t0.Add(10*time.Second), sess.CreatedAt)
	assert.Equal(t, reel, captured.Descriptor, "a captured copy is unaffected by a later create")
	assert.Equal(t, 1, s.Len())
}

func TestStore_ClearIdempotent(t *testing.T) {
	t.Parallel()
	s := NewStore(300 * time.Second)

	assert.NotPanics(t, func() { s.Clear("nobody") })

	s.Create("u1", reel, "", t0)
	s.Clear("u1")
	s.Clear("u1")

	_, ok := s.Get("u1")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestStore_Choose(t *testing.T) {
	t.Parallel()
	s := NewStore(300 * time.Second)
	s.Create("u1", reel, "", t0)

	sess, ok := s.Choose("u1", media.VariantAudio, t0.Add(time.Minute))
	require.True(t, ok)
	assert.Equal(t, media.VariantAudio, sess.ChosenVariant)
	assert.Equal(t, reel, sess.Descriptor)

	_, ok = s.Choose("u1", media.VariantVideo, t0.Add(300*time.Second))
	assert.False(t, ok, "expired sessions cannot be acted on")

	_, ok = s.Choose("nobody", media.VariantVideo, t0)
	assert.False(t, ok)
}

func TestStore_ChooseOnce(t *testing.T) {
	t.Parallel()
	s := NewStore(300 * time.Second)
	s.Create("u1", reel, "", t0)

	_, ok := s.Choose("u1", media.VariantVideo, t0.Add(time.Second))
	require.True(t, ok)

	_, ok = s.Choose("u1", media.VariantAudio, t0.Add(2*time.Second))
	assert.False(t, ok, "a chosen session cannot be chosen again")

	sess, _ := s.Get("u1")
	assert.Equal(t, media.VariantVideo, sess.ChosenVariant)

	s.Create("u1", post, "", t0.Add(3*time.Second))
	_, ok = s.Choose("u1", media.VariantAudio, t0.Add(4*time.Second))
	assert.True(t, ok, "a new link starts a fresh choice")
}

func TestStore_ClearIf(t *testing.T) {
	t.Parallel()
	s := NewStore(300 * time.Second)

	first := s.Create("u1", reel, "", t0)
	second := s.Create("u1", post, "", t0)
	assert.NotEqual(t, first, second, "IDs differ even at the same instant")

	assert.False(t, s.ClearIf("u1", first), "a replaced session is not cleared")
	sess, ok := s.Get("u1")
	require.True(t, ok)
	assert.Equal(t, post, sess.Descriptor)

	assert.True(t, s.ClearIf("u1", second))
	_, ok = s.Get("u1")
	assert.False(t, ok)
	assert.False(t, s.ClearIf("u1", second))
}

func TestStore_SetPrompt(t *testing.T) {
	t.Parallel()
	s := NewStore(time.Minute)

	assert.False(t, s.SetPrompt("u1", "m1"))
	s.Create("u1", reel, "", t0)
	assert.True(t, s.SetPrompt("u1", "m1"))
	sess, _ := s.Get("u1")
	assert.Equal(t, "m1", sess.PromptID)
}

func TestStore_Sweep(t *testing.T) {
	t.Parallel()
	s := NewStore(300 * time.Second)

	var counts []int
	s.OnUpdate(func(n int) { counts = append(counts, n) })

	s.Create("old", reel, "", t0)
	s.Create("new", post, "", t0.Add(200*time.Second))

	removed := s.Sweep(t0.Add(300 * time.Second))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.Len())
	_, ok := s.Get("new")
	assert.True(t, ok)

	assert.Equal(t, []int{1, 2, 1}, counts)
	assert.Equal(t, 300*time.Second, s.Timeout())
}

func TestStore_ConcurrentCreateSameUser(t *testing.T) {
	t.Parallel()
	s := NewStore(300 * time.Second)

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Go(func() {
			d := link.Descriptor{Kind: link.Post, Identifier: fmt.Sprintf("p%d", i)}
			s.Create("u1", d, "", t0)
			if sess, ok := s.Get("u1"); ok {
				assert.Equal(t, link.Post, sess.Descriptor.Kind)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, 1, s.Len(), "one session per user")
}
