// Package gpio provides GPIO output lines with hardware abstraction.
// The cdev implementation uses the Linux GPIO character device.
// The periph implementation resolves sysfs-numbered lines through periph.io.
// The fake implementation allows testing without hardware.
package gpio

// Logic levels written to and read from a line.
const (
	Low  = 0
	High = 1
)

// Chip hands out lines by number.
type Chip interface {
	// Claim takes exclusive ownership of a line without changing its direction.
	Claim(line int) (Line, error)

	// Close releases chip resources. Lines already claimed stay claimed.
	Close() error
}

// Line is a single claimed GPIO line.
type Line interface {
	// Number returns the line number passed to Claim.
	Number() int

	// SetOutput switches the line to output direction, driven low.
	SetOutput() error

	// SetValue drives the line to Low (0) or High (1).
	SetValue(value int) error

	// Value reads the current logic level of the line.
	Value() (int, error)

	// Release gives the line back to the operating system.
	Release() error
}

// Address locates a line on a GPIO character device.
type Address struct {
	Chip   string
	Offset int
}
