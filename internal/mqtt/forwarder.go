package mqtt

import (
	"log/slog"
	"sync"

	"github.com/sweeney/relay-board/internal/relay"
)

// Forwarder hands relay events to a Publisher from a single goroutine, so
// a slow broker never delays the caller and events keep their order.
type Forwarder struct {
	pub    Publisher
	logger *slog.Logger
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	events chan relay.Event
}

// NewForwarder starts a Forwarder with room for size pending events.
func NewForwarder(pub Publisher, logger *slog.Logger, size int) *Forwarder {
	if size <= 0 {
		size = DefaultBufferSize
	}
	f := &Forwarder{
		pub:    pub,
		logger: logger,
		events: make(chan relay.Event, size),
		done:   make(chan struct{}),
	}
	go f.run()
	return f
}

// Send queues ev. It never blocks; when the queue is full or the
// forwarder is closed the event is dropped and logged. It has the shape of
// a relay.Handle listener.
func (f *Forwarder) Send(ev relay.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		f.logger.Debug("mqtt forwarder closed, dropping event", "relay", ev.Relay, "state", ev.State)
		return
	}
	select {
	case f.events <- ev:
	default:
		f.logger.Warn("mqtt forwarder queue full, dropping event", "relay", ev.Relay, "state", ev.State)
	}
}

func (f *Forwarder) run() {
	defer close(f.done)
	for ev := range f.events {
		if err := f.pub.Publish(ev); err != nil {
			f.logger.Warn("mqtt publish failed", "relay", ev.Relay, "error", err)
		}
	}
}

// Close stops accepting events and waits until queued ones are published.
func (f *Forwarder) Close() {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	f.mu.Unlock()
	<-f.done
}
