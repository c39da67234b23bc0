package events

import (
	"context"
	"sync"

	"github.com/AdamBeresnev/dartsturnier/internal/bracket"
)

// Recorder keeps published events in memory. Used by tests and the CLI.
type Recorder struct {
	mu     sync.Mutex
	events []bracket.Event
}

func (r *Recorder) Publish(_ context.Context, events ...bracket.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *Recorder) Events() []bracket.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bracket.Event(nil), r.events...)
}

func (r *Recorder) OfType(t bracket.EventType) []bracket.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []bracket.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
