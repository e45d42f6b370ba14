package relay

import (
	"errors"
	"fmt"
)

// Kind classifies a board error by the GPIO phase that failed.
type Kind int

const (
	// KindExport means a line could not be claimed.
	KindExport Kind = iota + 1
	// KindDirection means a claimed line could not be switched to output.
	KindDirection
	// KindValue covers reads, writes and invalid relay IDs.
	KindValue
)

func (k Kind) String() string {
	switch k {
	case KindExport:
		return "GPIO Export Error"
	case KindDirection:
		return "GPIO Direction Error"
	case KindValue:
		return "GPIO Value Error"
	default:
		return "GPIO Error"
	}
}

var (
	// ErrInvalidRelay is wrapped by errors for relay IDs outside the layout.
	ErrInvalidRelay = errors.New("invalid relay number")

	// ErrReleased is wrapped by errors for operations on a released board.
	ErrReleased = errors.New("relay board released")
)

// Error is returned by every Board operation that fails.
type Error struct {
	Kind  Kind
	Relay int // 0 when not tied to a relay
	Line  int // -1 when not tied to a line
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func invalidRelay(id int) *Error {
	return &Error{Kind: KindValue, Relay: id, Line: -1, Err: fmt.Errorf("%w: %d", ErrInvalidRelay, id)}
}

// IsInvalidRelay reports whether err was caused by an unknown relay ID.
func IsInvalidRelay(err error) bool {
	return errors.Is(err, ErrInvalidRelay)
}
