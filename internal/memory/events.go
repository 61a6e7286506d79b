package memory

import (
	"context"
	"sync"

	"github.com/mtr002/tenant-jobs/internal/interfaces"
)

// Events records published events.
type Events struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (e *Events) PublishEvent(_ context.Context, ev interfaces.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

// OfType returns the recorded events of one type.
func (e *Events) OfType(t string) []interfaces.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []interfaces.Event
	for _, ev := range e.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
