package session

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"
)

// Status is the control-flow signal of the codec pump and of ReadPacket.
// WouldBlock and EndOfStream are not errors: they tell the driving loop
// to switch direction or to stop.
type Status int

const (
	StatusOK          Status = 0
	StatusWouldBlock  Status = -1
	StatusEndOfStream Status = -2
	StatusFailed      Status = -3
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWouldBlock:
		return "would_block"
	case StatusEndOfStream:
		return "end_of_stream"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("unexpected_status_%d", int(s))
}

func statusFromError(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, astiav.ErrEagain):
		return StatusWouldBlock
	case errors.Is(err, astiav.ErrEof):
		return StatusEndOfStream
	default:
		return StatusFailed
	}
}
