//go:build !linux

package gpio

import "errors"

// Consumer is the label the kernel shows for lines held by this process.
const Consumer = "relay-board"

// CdevChip is not available on non-Linux platforms.
type CdevChip struct{}

// NewCdevChip returns a chip whose claims fail on non-Linux platforms.
func NewCdevChip(defaultChip string, addrs map[int]Address) *CdevChip {
	return &CdevChip{}
}

// Claim is not implemented on non-Linux platforms.
func (c *CdevChip) Claim(line int) (Line, error) {
	return nil, errors.New("gpio: character device not supported on this platform (requires Linux)")
}

// Close is not implemented on non-Linux platforms.
func (c *CdevChip) Close() error {
	return nil
}
