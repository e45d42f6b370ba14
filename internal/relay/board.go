// Package relay drives a board of GPIO-backed relays.
//
// A Board owns one claimed output line per relay. It is not safe for
// concurrent use; share it through a Handle.
package relay

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sweeney/relay-board/internal/gpio"
)

// Timings used by TestSequence.
const (
	TestOnDuration  = 1000 * time.Millisecond
	TestOffDuration = 500 * time.Millisecond
)

// Board owns the lines of every relay in its layout.
// Lifecycle: claimed-and-configured after New, released after Release.
type Board struct {
	chip     gpio.Chip
	relays   Layout // ascending ID
	lines    []gpio.Line
	released bool

	logger  *slog.Logger
	sleep   func(time.Duration)
	onTime  time.Duration
	offTime time.Duration
}

type boardOptions struct {
	rollback bool
	logger   *slog.Logger
	sleep    func(time.Duration)
	onTime   time.Duration
	offTime  time.Duration
}

// Option configures New.
type Option func(*boardOptions)

// WithRollback releases lines claimed earlier in a failed construction.
// Without it, lines claimed before the failure stay claimed.
func WithRollback(enabled bool) Option {
	return func(o *boardOptions) { o.rollback = enabled }
}

// WithLogger sets the logger used for errors swallowed during Release.
func WithLogger(logger *slog.Logger) Option {
	return func(o *boardOptions) { o.logger = logger }
}

// WithSleep replaces time.Sleep in TestSequence. Useful for tests.
func WithSleep(sleep func(time.Duration)) Option {
	return func(o *boardOptions) { o.sleep = sleep }
}

// WithTestTimings overrides the on and off intervals of TestSequence.
func WithTestTimings(on, off time.Duration) Option {
	return func(o *boardOptions) {
		o.onTime = on
		o.offTime = off
	}
}

// New claims every line in the layout, in ascending relay order, then sets
// each to output in the same order. The board takes ownership of chip.
func New(chip gpio.Chip, layout Layout, opts ...Option) (*Board, error) {
	o := boardOptions{
		sleep:   time.Sleep,
		onTime:  TestOnDuration,
		offTime: TestOffDuration,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid layout: %w", err)
	}

	b := &Board{
		chip:    chip,
		relays:  layout.sorted(),
		logger:  o.logger,
		sleep:   o.sleep,
		onTime:  o.onTime,
		offTime: o.offTime,
	}

	for _, r := range b.relays {
		line, err := chip.Claim(r.Line)
		if err != nil {
			if o.rollback {
				b.rollback()
			}
			return nil, &Error{Kind: KindExport, Relay: r.ID, Line: r.Line, Err: err}
		}
		b.lines = append(b.lines, line)
	}

	for i, r := range b.relays {
		if err := b.lines[i].SetOutput(); err != nil {
			if o.rollback {
				b.rollback()
			}
			return nil, &Error{Kind: KindDirection, Relay: r.ID, Line: r.Line, Err: err}
		}
	}

	return b, nil
}

// rollback releases whatever has been claimed so far and closes the chip.
func (b *Board) rollback() {
	for i, line := range b.lines {
		if err := line.Release(); err != nil {
			b.logger.Debug("rollback release failed", "line", b.relays[i].Line, "error", err)
		}
	}
	b.lines = nil
	if err := b.chip.Close(); err != nil {
		b.logger.Debug("rollback chip close failed", "error", err)
	}
}

// Layout returns the relays on the board in ascending ID order.
func (b *Board) Layout() Layout {
	out := make(Layout, len(b.relays))
	copy(out, b.relays)
	return out
}

// On drives the relay's line high.
func (b *Board) On(id int) error {
	return b.write(id, gpio.High)
}

// Off drives the relay's line low.
func (b *Board) Off(id int) error {
	return b.write(id, gpio.Low)
}

func (b *Board) write(id, value int) error {
	i, err := b.lookup(id)
	if err != nil {
		return err
	}
	if err := b.lines[i].SetValue(value); err != nil {
		return &Error{Kind: KindValue, Relay: id, Line: b.relays[i].Line, Err: err}
	}
	return nil
}

// State reads the relay's line: 1 for on, 0 for off. Nothing is cached.
func (b *Board) State(id int) (int, error) {
	i, err := b.lookup(id)
	if err != nil {
		return 0, err
	}
	v, err := b.lines[i].Value()
	if err != nil {
		return 0, &Error{Kind: KindValue, Relay: id, Line: b.relays[i].Line, Err: err}
	}
	return v, nil
}

func (b *Board) lookup(id int) (int, error) {
	if b.released {
		return 0, &Error{Kind: KindValue, Relay: id, Line: -1, Err: ErrReleased}
	}
	i, ok := b.relays.index(id)
	if !ok {
		return 0, invalidRelay(id)
	}
	return i, nil
}

// AllOff turns every relay off in ascending order. It stops at the first
// error; relays after the failing one keep their state.
func (b *Board) AllOff() error {
	for _, r := range b.relays {
		if err := b.Off(r.ID); err != nil {
			return err
		}
	}
	return nil
}

// TestSequence clicks each relay on then off in ascending order, writing
// progress to w. It stops at the first error.
func (b *Board) TestSequence(w io.Writer) error {
	fmt.Fprintln(w, "Testing all relays in sequence...")
	for _, r := range b.relays {
		fmt.Fprintf(w, "Activating relay %d\n", r.ID)
		if err := b.On(r.ID); err != nil {
			return err
		}
		b.sleep(b.onTime)
		if err := b.Off(r.ID); err != nil {
			return err
		}
		b.sleep(b.offTime)
	}
	fmt.Fprintln(w, "Test sequence complete")
	return nil
}

// Release turns every relay off, releases every line and closes the chip.
// It never fails: each step is best-effort and errors are only logged at
// debug level. Calling Release more than once is a no-op.
func (b *Board) Release() {
	if b.released {
		return
	}
	for i, r := range b.relays {
		if err := b.lines[i].SetValue(gpio.Low); err != nil {
			b.logger.Debug("release: turn off failed", "relay", r.ID, "line", r.Line, "error", err)
		}
	}
	for i, r := range b.relays {
		if err := b.lines[i].Release(); err != nil {
			b.logger.Debug("release: line release failed", "relay", r.ID, "line", r.Line, "error", err)
		}
	}
	if err := b.chip.Close(); err != nil {
		b.logger.Debug("release: chip close failed", "error", err)
	}
	b.released = true
}
