package persist

import (
	"errors"
	"fmt"
)

type Kind int

const (
	WriteFailure Kind = iota + 1
	ReadFailure
	DecodeFailure
)

func (k Kind) String() string {
	switch k {
	case WriteFailure:
		return "write failure"
	case ReadFailure:
		return "read failure"
	case DecodeFailure:
		return "decode failure"
	}
	return "unknown failure"
}

// Error is returned for every failure at the storage boundary. Op names the
// coordinator operation (save, load, append).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err carries a persistence error of kind k.
func IsKind(err error, k Kind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == k
}
