//go:build linux

package gpio

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// Consumer is the label the kernel shows for lines held by this process.
const Consumer = "relay-board"

// CdevChip hands out lines from one or more Linux GPIO character devices.
// Line numbers with an entry in the address map resolve to that chip and
// offset. Any other number is an offset on the default chip.
type CdevChip struct {
	defaultChip string
	addrs       map[int]Address

	mu    sync.Mutex
	chips map[string]*gpiocdev.Chip
}

// NewCdevChip returns a chip that opens devices such as "gpiochip0" on first
// use. addrs may be nil.
func NewCdevChip(defaultChip string, addrs map[int]Address) *CdevChip {
	return &CdevChip{
		defaultChip: defaultChip,
		addrs:       addrs,
		chips:       make(map[string]*gpiocdev.Chip),
	}
}

func (c *CdevChip) resolve(line int) Address {
	if a, ok := c.addrs[line]; ok {
		return a
	}
	return Address{Chip: c.defaultChip, Offset: line}
}

func (c *CdevChip) device(name string) (*gpiocdev.Chip, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if chip, ok := c.chips[name]; ok {
		return chip, nil
	}
	chip, err := gpiocdev.NewChip(name, gpiocdev.WithConsumer(Consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", name, err)
	}
	c.chips[name] = chip
	return chip, nil
}

// Claim requests the line with its direction left as-is. The kernel refuses
// a line another consumer already holds.
func (c *CdevChip) Claim(line int) (Line, error) {
	addr := c.resolve(line)
	if addr.Chip == "" {
		return nil, fmt.Errorf("line %d: no chip configured", line)
	}
	chip, err := c.device(addr.Chip)
	if err != nil {
		return nil, err
	}
	l, err := chip.RequestLine(addr.Offset)
	if err != nil {
		return nil, fmt.Errorf("request line %d (%s offset %d): %w", line, addr.Chip, addr.Offset, err)
	}
	return &cdevLine{line: l, number: line}, nil
}

// Close closes every chip handle opened so far.
func (c *CdevChip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for name, chip := range c.chips {
		if err := chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip %s: %w", name, err))
		}
		delete(c.chips, name)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

type cdevLine struct {
	line   *gpiocdev.Line
	number int
}

func (l *cdevLine) Number() int { return l.number }

func (l *cdevLine) SetOutput() error {
	if err := l.line.Reconfigure(gpiocdev.AsOutput(Low)); err != nil {
		return fmt.Errorf("line %d as output: %w", l.number, err)
	}
	return nil
}

func (l *cdevLine) SetValue(value int) error {
	if err := l.line.SetValue(value); err != nil {
		return fmt.Errorf("write line %d: %w", l.number, err)
	}
	return nil
}

func (l *cdevLine) Value() (int, error) {
	v, err := l.line.Value()
	if err != nil {
		return 0, fmt.Errorf("read line %d: %w", l.number, err)
	}
	return v, nil
}

// Release reconfigures the line as an input before closing it, so the pin
// is not left driven once the process lets go.
func (l *cdevLine) Release() error {
	var errs []error
	if err := l.line.Reconfigure(gpiocdev.AsInput); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure line %d: %w", l.number, err))
	}
	if err := l.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close line %d: %w", l.number, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("release errors: %v", errs)
	}
	return nil
}
