package api

import (
	"log/slog"
	"sync"

	"github.com/claude-mem/worker/pkg/models"
)

// Event is one message pushed to every connected /stream client.
type Event struct {
	Type        string              `json:"type"`
	Observation *models.Observation `json:"observation,omitempty"`
	TimestampMS int64               `json:"timestamp"`
}

// Broadcaster fans new-observation events out to every connected SSE
// client, adapted from a register/unregister/broadcast channel hub to a
// mutex-guarded subscriber set — gin's Context.SSEvent writes directly to
// the response writer, so each subscriber is just a channel a handler
// goroutine drains for the lifetime of its request.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster builds an empty hub.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[chan Event]struct{})}
}

// Subscribe registers a new client channel; the caller must call the
// returned unsubscribe function when its connection closes.
func (b *Broadcaster) Subscribe() (ch chan Event, unsubscribe func()) {
	ch = make(chan Event, 16)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
}

// Publish pushes ev to every connected subscriber, dropping it for any
// subscriber whose buffer is full rather than blocking the caller (the
// response processor's commit path, which must never stall on a slow
// client).
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			slog.Warn("sse subscriber buffer full, dropping event")
		}
	}
}
