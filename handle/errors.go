package handle

import (
	"fmt"
)

// ErrInvalidHandle is returned when a handle is unknown, already
// released, or registered with a different kind than the caller expects.
type ErrInvalidHandle struct {
	Handle   Handle
	Expected Kind
	Actual   Kind
}

func (e ErrInvalidHandle) Error() string {
	switch {
	case e.Expected == KindUndefined:
		return fmt.Sprintf("handle %d is not registered", e.Handle)
	case e.Actual == KindUndefined:
		return fmt.Sprintf("handle %d is not registered (expected a %s handle)", e.Handle, e.Expected)
	default:
		return fmt.Sprintf("handle %d is a %s handle, not a %s handle", e.Handle, e.Actual, e.Expected)
	}
}

// ErrCapacityExhausted is returned by Register when the table already
// holds its maximum amount of live handles.
type ErrCapacityExhausted struct {
	Capacity int
}

func (e ErrCapacityExhausted) Error() string {
	return fmt.Sprintf("no free slots: all %d handles are in use", e.Capacity)
}
