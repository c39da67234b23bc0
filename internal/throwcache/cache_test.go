package throwcache

import (
	"context"
	"testing"
	"time"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache() (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)}
	c := New(30 * time.Second)
	c.now = clock.now
	return c, clock
}

func TestCache_SetGet(t *testing.T) {
	c, clock := newTestCache()
	matchID := uuid.New()

	darts := []int{60, 60, 20}
	stored, err := c.Set(Throw{MatchID: matchID, Slot: bracket.SlotHome, Darts: darts, Score: 140})
	require.NoError(t, err)
	assert.Equal(t, clock.t, stored.UpdatedAt)

	// The cache keeps its own copy of the darts
	darts[0] = 1

	got, ok := c.Get(matchID)
	require.True(t, ok)
	assert.Equal(t, []int{60, 60, 20}, got.Darts)
	assert.Equal(t, 140, got.Score)

	_, ok = c.Get(uuid.New())
	assert.False(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	c, clock := newTestCache()
	fresh, stale := uuid.New(), uuid.New()

	_, err := c.Set(Throw{MatchID: stale, Slot: bracket.SlotAway, Darts: []int{1}, Score: 1})
	require.NoError(t, err)
	clock.advance(20 * time.Second)
	_, err = c.Set(Throw{MatchID: fresh, Slot: bracket.SlotHome, Darts: []int{5}, Score: 5})
	require.NoError(t, err)
	clock.advance(11 * time.Second)

	_, ok := c.Get(stale)
	assert.False(t, ok, "expired entries are invisible before a sweep")
	_, ok = c.Get(fresh)
	assert.True(t, ok)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
}

func TestCache_Delete(t *testing.T) {
	c, _ := newTestCache()
	matchID := uuid.New()

	_, err := c.Set(Throw{MatchID: matchID, Slot: bracket.SlotHome})
	require.NoError(t, err)
	c.Delete(matchID)

	_, ok := c.Get(matchID)
	assert.False(t, ok)
}

func TestThrow_Validate(t *testing.T) {
	tests := []struct {
		name  string
		throw Throw
		valid bool
	}{
		{"empty visit", Throw{Slot: bracket.SlotHome}, true},
		{"max visit", Throw{Slot: bracket.SlotAway, Darts: []int{60, 60, 60}, Score: 180}, true},
		{"bad slot", Throw{Slot: 3}, false},
		{"four darts", Throw{Slot: bracket.SlotHome, Darts: []int{1, 1, 1, 1}, Score: 4}, false},
		{"dart too high", Throw{Slot: bracket.SlotHome, Darts: []int{61}, Score: 61}, false},
		{"negative dart", Throw{Slot: bracket.SlotHome, Darts: []int{-1}, Score: -1}, false},
		{"score mismatch", Throw{Slot: bracket.SlotHome, Darts: []int{20, 20}, Score: 60}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.throw.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidThrow)
			}
		})
	}
}

func TestCache_RunStopsOnCancel(t *testing.T) {
	c := New(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
