package session

import (
	"fmt"
)

// ErrBufferSizeMismatch is returned when a caller-provided byte buffer
// does not fit the destination plane.
type ErrBufferSizeMismatch struct {
	Expected int
	Actual   int
}

func (e ErrBufferSizeMismatch) Error() string {
	return fmt.Sprintf("buffer size mismatch: got %d bytes, the plane holds %d", e.Actual, e.Expected)
}
