package relay

import (
	"io"
	"sync"
	"time"
)

// State is the human-readable state of a relay.
type State string

const (
	StateOn  State = "on"
	StateOff State = "off"
)

func stateOf(value int) State {
	if value == 1 {
		return StateOn
	}
	return StateOff
}

// Status is the state of one relay as read from its line.
type Status struct {
	ID    int
	State State
}

// Event is emitted after a successful relay write.
type Event struct {
	Timestamp time.Time
	Relay     int
	State     State
}

// OpenFunc constructs the board on first use.
type OpenFunc func() (*Board, error)

// Handle shares one lazily-constructed Board between concurrent callers.
// A single mutex serializes construction and every board operation, so a
// running TestSequence blocks all other callers until it finishes.
type Handle struct {
	mu     sync.Mutex
	open   OpenFunc
	board  *Board
	closed bool

	layout   Layout
	listener func(Event)
	now      func() time.Time
}

// HandleOption configures NewHandle.
type HandleOption func(*Handle)

// WithListener registers fn to be called after every successful write.
// fn runs under the board lock, so events arrive in hardware write order.
// It must not block or call back into the Handle.
func WithListener(fn func(Event)) HandleOption {
	return func(h *Handle) { h.listener = fn }
}

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) HandleOption {
	return func(h *Handle) { h.now = now }
}

// NewHandle returns a Handle that calls open on first use. layout must be
// the layout open builds the board with; it answers Valid without touching
// hardware.
func NewHandle(open OpenFunc, layout Layout, opts ...HandleOption) *Handle {
	h := &Handle{
		open:   open,
		layout: layout.sorted(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Layout returns the relays in ascending ID order.
func (h *Handle) Layout() Layout {
	out := make(Layout, len(h.layout))
	copy(out, h.layout)
	return out
}

// Valid reports whether id names a relay in the layout.
func (h *Handle) Valid(id int) bool {
	return h.layout.Has(id)
}

// with runs fn with the board, constructing it first if needed.
// A failed construction is retried by the next caller.
func (h *Handle) with(fn func(b *Board) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return &Error{Kind: KindValue, Line: -1, Err: ErrReleased}
	}
	if h.board == nil {
		b, err := h.open()
		if err != nil {
			return err
		}
		h.board = b
	}
	return fn(h.board)
}

// On turns relay id on.
func (h *Handle) On(id int) error {
	return h.with(func(b *Board) error {
		if err := b.On(id); err != nil {
			return err
		}
		h.emit(id, StateOn)
		return nil
	})
}

// Off turns relay id off.
func (h *Handle) Off(id int) error {
	return h.with(func(b *Board) error {
		if err := b.Off(id); err != nil {
			return err
		}
		h.emit(id, StateOff)
		return nil
	})
}

// AllOff turns every relay off. Relays switched before a failure still
// produce events.
func (h *Handle) AllOff() error {
	return h.with(func(b *Board) error {
		for _, r := range b.relays {
			if err := b.Off(r.ID); err != nil {
				return err
			}
			h.emit(r.ID, StateOff)
		}
		return nil
	})
}

// Status reads every relay in ascending ID order.
func (h *Handle) Status() ([]Status, error) {
	var out []Status
	err := h.with(func(b *Board) error {
		out = make([]Status, 0, len(b.relays))
		for _, r := range b.relays {
			v, err := b.State(r.ID)
			if err != nil {
				return err
			}
			out = append(out, Status{ID: r.ID, State: stateOf(v)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TestSequence runs the board's diagnostic sequence while holding the lock.
func (h *Handle) TestSequence(w io.Writer) error {
	return h.with(func(b *Board) error { return b.TestSequence(w) })
}

// Close releases the board if it was ever constructed. It never fails and
// later operations return ErrReleased.
func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.board != nil {
		h.board.Release()
		h.board = nil
	}
	h.closed = true
}

func (h *Handle) emit(id int, state State) {
	if h.listener == nil {
		return
	}
	h.listener(Event{Timestamp: h.now(), Relay: id, State: state})
}
