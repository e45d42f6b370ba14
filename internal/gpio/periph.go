package gpio

import (
	"fmt"
	"sync"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphChip hands out lines registered with periph.io. Lines are looked up
// by their global sysfs number ("GPIO60"), which matches the numbering used
// by /sys/class/gpio on boards without a dedicated periph driver.
type PeriphChip struct {
	mu      sync.Mutex
	claimed map[int]bool
}

// NewPeriphChip initializes the periph.io host drivers.
func NewPeriphChip() (*PeriphChip, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	return &PeriphChip{claimed: make(map[int]bool)}, nil
}

// Claim resolves the line by name. A line can only be claimed once per chip.
func (c *PeriphChip) Claim(line int) (Line, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.claimed[line] {
		return nil, fmt.Errorf("line %d already claimed", line)
	}
	name := fmt.Sprintf("GPIO%d", line)
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("line %d (%s) not found", line, name)
	}
	c.claimed[line] = true
	return &periphLine{chip: c, pin: p, number: line}, nil
}

// Close is a no-op; periph.io keeps no per-chip handle.
func (c *PeriphChip) Close() error {
	return nil
}

func (c *PeriphChip) unclaim(line int) {
	c.mu.Lock()
	delete(c.claimed, line)
	c.mu.Unlock()
}

type periphLine struct {
	chip   *PeriphChip
	pin    pgpio.PinIO
	number int
}

func (l *periphLine) Number() int { return l.number }

func (l *periphLine) SetOutput() error {
	if err := l.pin.Out(pgpio.Low); err != nil {
		return fmt.Errorf("line %d as output: %w", l.number, err)
	}
	return nil
}

func (l *periphLine) SetValue(value int) error {
	level := pgpio.Low
	if value != Low {
		level = pgpio.High
	}
	if err := l.pin.Out(level); err != nil {
		return fmt.Errorf("write line %d: %w", l.number, err)
	}
	return nil
}

func (l *periphLine) Value() (int, error) {
	if l.pin.Read() == pgpio.High {
		return High, nil
	}
	return Low, nil
}

// Release switches the pin back to a floating input and halts it.
func (l *periphLine) Release() error {
	defer l.chip.unclaim(l.number)

	var errs []error
	if err := l.pin.In(pgpio.PullNoChange, pgpio.NoEdge); err != nil {
		errs = append(errs, fmt.Errorf("line %d as input: %w", l.number, err))
	}
	if err := l.pin.Halt(); err != nil {
		errs = append(errs, fmt.Errorf("halt line %d: %w", l.number, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("release errors: %v", errs)
	}
	return nil
}
