package handle

import (
	"context"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avatomic/logger"
	"github.com/xaionaro-go/xsync"
)

// StreamKey identifies one stream of one output container.
type StreamKey struct {
	Output      Handle
	StreamIndex int
}

// StreamTimeBase remembers which encoder fed an output stream and the
// time base its packets are expressed in, captured at the moment the
// encoder parameters were copied into the stream. The muxer may assign
// the stream a different time base at header-write time, and then the
// packets need a rescale on write.
type StreamTimeBase struct {
	Encoder  Handle
	TimeBase astiav.Rational
}

func (t *Table) RecordStreamTimeBase(
	ctx context.Context,
	output Handle,
	streamIndex int,
	encoder Handle,
	timeBase astiav.Rational,
) {
	logger.Tracef(ctx, "RecordStreamTimeBase(ctx, %d, %d, %d, %v)", output, streamIndex, encoder, timeBase)
	t.locker.Do(ctx, func() {
		t.timeBases[StreamKey{Output: output, StreamIndex: streamIndex}] = StreamTimeBase{
			Encoder:  encoder,
			TimeBase: timeBase,
		}
	})
}

// StreamTimeBase returns the recorded encoder time base for the given
// output stream, if its encoder is still alive.
func (t *Table) StreamTimeBase(
	ctx context.Context,
	output Handle,
	streamIndex int,
) (astiav.Rational, bool) {
	return xsync.DoR2(ctx, &t.locker, func() (astiav.Rational, bool) {
		row, ok := t.timeBases[StreamKey{Output: output, StreamIndex: streamIndex}]
		if !ok {
			return astiav.Rational{}, false
		}
		return row.TimeBase, true
	})
}

func (t *tableInternals) dropTimeBasesOf(ctx context.Context, h Handle) {
	for key, row := range t.timeBases {
		if row.Encoder != h && key.Output != h {
			continue
		}
		logger.Tracef(ctx, "dropping the time base row of output %d stream %d", key.Output, key.StreamIndex)
		delete(t.timeBases, key)
	}
}
