package gpio

import (
	"errors"
	"fmt"
	"sync"
)

// Direction of a fake line.
type Direction string

const (
	DirectionUnset  Direction = ""
	DirectionOutput Direction = "out"
)

// Write records a single value written to a fake line.
type Write struct {
	Line  int
	Value int
}

// FakeChip is a test double that keeps line state in memory.
// It is safe for concurrent use.
type FakeChip struct {
	mu    sync.Mutex
	lines map[int]*FakeLine

	// Writes lists every SetValue call in order, across all lines.
	Writes []Write

	// ClaimErrors, OutputErrors, WriteErrors and ReadErrors inject failures
	// per line number.
	ClaimErrors  map[int]error
	OutputErrors map[int]error
	WriteErrors  map[int]error
	ReadErrors   map[int]error

	// ReleaseErrors injects failures into Release per line number.
	ReleaseErrors map[int]error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeChip creates a FakeChip with no lines claimed.
func NewFakeChip() *FakeChip {
	return &FakeChip{
		lines:         make(map[int]*FakeLine),
		ClaimErrors:   make(map[int]error),
		OutputErrors:  make(map[int]error),
		WriteErrors:   make(map[int]error),
		ReadErrors:    make(map[int]error),
		ReleaseErrors: make(map[int]error),
	}
}

// Claim returns a fake line. Claiming a line that is held and not yet
// released fails, like the kernel does.
func (c *FakeChip) Claim(line int) (Line, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ClaimErrors[line]; err != nil {
		return nil, err
	}
	if l, ok := c.lines[line]; ok && !l.released {
		return nil, fmt.Errorf("line %d: device or resource busy", line)
	}
	l := &FakeLine{chip: c, number: line}
	c.lines[line] = l
	return l, nil
}

// Close marks the chip as closed.
func (c *FakeChip) Close() error {
	c.mu.Lock()
	c.Closed = true
	c.mu.Unlock()
	return nil
}

// Line returns the most recent fake line claimed for number, or nil.
func (c *FakeChip) Line(number int) *FakeLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lines[number]
}

// WriteCount returns the number of SetValue calls that reached the chip.
func (c *FakeChip) WriteCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Writes)
}

// Reset forgets all lines, writes and injected errors.
func (c *FakeChip) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = make(map[int]*FakeLine)
	c.Writes = nil
	c.ClaimErrors = make(map[int]error)
	c.OutputErrors = make(map[int]error)
	c.WriteErrors = make(map[int]error)
	c.ReadErrors = make(map[int]error)
	c.ReleaseErrors = make(map[int]error)
	c.Closed = false
}

// FakeLine is a line handed out by FakeChip.
type FakeLine struct {
	chip      *FakeChip
	number    int
	direction Direction
	value     int
	released  bool
}

var errFakeReleased = errors.New("line released")

func (l *FakeLine) Number() int { return l.number }

func (l *FakeLine) SetOutput() error {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()

	if l.released {
		return errFakeReleased
	}
	if err := l.chip.OutputErrors[l.number]; err != nil {
		return err
	}
	l.direction = DirectionOutput
	l.value = Low
	return nil
}

func (l *FakeLine) SetValue(value int) error {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()

	if l.released {
		return errFakeReleased
	}
	if err := l.chip.WriteErrors[l.number]; err != nil {
		return err
	}
	if l.direction != DirectionOutput {
		return fmt.Errorf("line %d: operation not permitted on input", l.number)
	}
	l.value = value
	l.chip.Writes = append(l.chip.Writes, Write{Line: l.number, Value: value})
	return nil
}

func (l *FakeLine) Value() (int, error) {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()

	if l.released {
		return 0, errFakeReleased
	}
	if err := l.chip.ReadErrors[l.number]; err != nil {
		return 0, err
	}
	return l.value, nil
}

func (l *FakeLine) Release() error {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()

	if err := l.chip.ReleaseErrors[l.number]; err != nil {
		return err
	}
	l.released = true
	return nil
}

// Direction returns the configured direction.
func (l *FakeLine) Direction() Direction {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()
	return l.direction
}

// Level returns the last value written, regardless of release state.
func (l *FakeLine) Level() int {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()
	return l.value
}

// Released reports whether Release succeeded on this line.
func (l *FakeLine) Released() bool {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()
	return l.released
}
