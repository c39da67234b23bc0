package throwcache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
	"github.com/google/uuid"
)

var ErrInvalidThrow = errors.New("invalid throw")

// Throw is the in-progress visit of one player, shown on spectator screens until the leg is recorded.
type Throw struct {
	MatchID   uuid.UUID    `json:"matchId"`
	Slot      bracket.Slot `json:"player"`
	Darts     []int        `json:"darts"`
	Score     int          `json:"score"`
	UpdatedAt time.Time    `json:"timestamp"`
}

func (t Throw) Validate() error {
	if !t.Slot.Valid() {
		return ErrInvalidThrow
	}
	if len(t.Darts) > 3 {
		return ErrInvalidThrow
	}
	sum := 0
	for _, d := range t.Darts {
		// 60 is a treble twenty, the highest single dart
		if d < 0 || d > 60 {
			return ErrInvalidThrow
		}
		sum += d
	}
	if t.Score != sum {
		return ErrInvalidThrow
	}
	return nil
}

// Cache holds the latest throw per match. Entries older than the TTL are invisible and
// removed by Sweep.
type Cache struct {
	mu     sync.RWMutex
	throws map[uuid.UUID]Throw
	ttl    time.Duration
	now    func() time.Time
}

func New(ttl time.Duration) *Cache {
	return &Cache{
		throws: make(map[uuid.UUID]Throw),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Set stores t stamped with the current time and returns the stored copy.
func (c *Cache) Set(t Throw) (Throw, error) {
	if err := t.Validate(); err != nil {
		return t, err
	}
	t.Darts = append([]int(nil), t.Darts...)
	t.UpdatedAt = c.now()

	c.mu.Lock()
	c.throws[t.MatchID] = t
	c.mu.Unlock()
	return t, nil
}

func (c *Cache) Get(matchID uuid.UUID) (Throw, bool) {
	c.mu.RLock()
	t, ok := c.throws[matchID]
	c.mu.RUnlock()

	if !ok || c.expired(t) {
		return Throw{}, false
	}
	return t, true
}

func (c *Cache) Delete(matchID uuid.UUID) {
	c.mu.Lock()
	delete(c.throws, matchID)
	c.mu.Unlock()
}

// Sweep drops expired entries and reports how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, t := range c.throws {
		if c.expired(t) {
			delete(c.throws, id)
			removed++
		}
	}
	return removed
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.throws)
}

// Run sweeps every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

func (c *Cache) expired(t Throw) bool {
	return c.now().Sub(t.UpdatedAt) > c.ttl
}
