// Package audiofifo re-slices decoded audio of irregular chunk sizes
// into chunks of whatever size the consumer asks for. Decoders emit the
// sample counts they want; some encoders accept exactly one fixed count
// per frame; the buffer in between absorbs the difference.
package audiofifo

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avatomic/logger"
)

// ErrFormatMismatch is returned when a frame's sample format or channel
// count differs from the one the buffer was created with. Raw sample
// moves do not convert anything, so a mismatched frame would silently
// corrupt the stored audio.
type ErrFormatMismatch struct {
	ExpectedFormat   astiav.SampleFormat
	ActualFormat     astiav.SampleFormat
	ExpectedChannels int
	ActualChannels   int
}

func (e ErrFormatMismatch) Error() string {
	return fmt.Sprintf(
		"frame format %s/%dch does not match the buffer format %s/%dch",
		e.ActualFormat, e.ActualChannels,
		e.ExpectedFormat, e.ExpectedChannels,
	)
}

// Buffer is a growable FIFO of raw audio samples with the sample format
// and channel count fixed at creation.
type Buffer struct {
	fifo         *astiav.AudioFifo
	sampleFormat astiav.SampleFormat
	channels     int
}

func New(
	ctx context.Context,
	sampleFormat astiav.SampleFormat,
	channels int,
	nbSamples int,
) (_ret *Buffer, _err error) {
	logger.Tracef(ctx, "New: %s %dch %d", sampleFormat, channels, nbSamples)
	defer func() { logger.Tracef(ctx, "/New: %v %v", _ret, _err) }()
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	if nbSamples <= 0 {
		nbSamples = 1
	}
	fifo := astiav.AllocAudioFifo(sampleFormat, channels, nbSamples)
	if fifo == nil {
		return nil, fmt.Errorf("cannot alloc AudioFifo")
	}
	return &Buffer{
		fifo:         fifo,
		sampleFormat: sampleFormat,
		channels:     channels,
	}, nil
}

func (b *Buffer) SampleFormat() astiav.SampleFormat {
	return b.sampleFormat
}

func (b *Buffer) Channels() int {
	return b.channels
}

func (b *Buffer) checkFrame(f *astiav.Frame) error {
	if f.SampleFormat() != b.sampleFormat || f.ChannelLayout().Channels() != b.channels {
		return ErrFormatMismatch{
			ExpectedFormat:   b.sampleFormat,
			ActualFormat:     f.SampleFormat(),
			ExpectedChannels: b.channels,
			ActualChannels:   f.ChannelLayout().Channels(),
		}
	}
	return nil
}

// WriteFrame appends all samples of f. The storage grows as needed; the
// already-buffered samples survive the growth.
func (b *Buffer) WriteFrame(
	ctx context.Context,
	f *astiav.Frame,
) (_ret int, _err error) {
	logger.Tracef(ctx, "WriteFrame: %d samples", f.NbSamples())
	defer func() { logger.Tracef(ctx, "/WriteFrame: %v %v", _ret, _err) }()
	if err := b.checkFrame(f); err != nil {
		return 0, err
	}
	if nbSamples := f.NbSamples(); b.fifo.Space() < nbSamples {
		newSize := b.fifo.Size() + nbSamples
		logger.Tracef(ctx, "growing the FIFO to %d samples", newSize)
		if err := b.fifo.Realloc(newSize); err != nil {
			return 0, fmt.Errorf("cannot grow the FIFO to %d samples: %w", newSize, err)
		}
	}
	n, err := b.fifo.Write(f)
	if err != nil {
		return n, fmt.Errorf("cannot write to the FIFO: %w", err)
	}
	return n, nil
}

// ReadFrame moves up to nbSamples of the oldest buffered samples into f
// and consumes them. f must already have its buffer allocated for at
// least nbSamples. Fewer samples than requested is not an error: the
// caller checks Size beforehand when it needs an exact count.
func (b *Buffer) ReadFrame(
	ctx context.Context,
	f *astiav.Frame,
	nbSamples int,
) (_ret int, _err error) {
	logger.Tracef(ctx, "ReadFrame: %d samples", nbSamples)
	defer func() { logger.Tracef(ctx, "/ReadFrame: %v %v", _ret, _err) }()
	if err := b.checkFrame(f); err != nil {
		return 0, err
	}
	if avail := b.fifo.Size(); nbSamples > avail {
		nbSamples = avail
	}
	if nbSamples <= 0 {
		f.SetNbSamples(0)
		return 0, nil
	}
	f.SetNbSamples(nbSamples)
	n, err := b.fifo.Read(f)
	if err != nil {
		return n, fmt.Errorf("cannot read from the FIFO: %w", err)
	}
	f.SetNbSamples(n)
	return n, nil
}

// Size reports the amount of currently buffered samples.
func (b *Buffer) Size() int {
	return b.fifo.Size()
}

// Space reports how many samples fit before the next growth.
func (b *Buffer) Space() int {
	return b.fifo.Space()
}

// Drain discards up to nbSamples of the oldest buffered samples without
// handing them out.
func (b *Buffer) Drain(ctx context.Context, nbSamples int) (_err error) {
	logger.Tracef(ctx, "Drain: %d", nbSamples)
	defer func() { logger.Tracef(ctx, "/Drain: %v", _err) }()
	if avail := b.fifo.Size(); nbSamples > avail {
		nbSamples = avail
	}
	if nbSamples <= 0 {
		return nil
	}
	scratch, err := b.scratchFrame(nbSamples)
	if err != nil {
		return err
	}
	defer scratch.Free()
	if _, err := b.fifo.Read(scratch); err != nil {
		return fmt.Errorf("cannot drain %d samples: %w", nbSamples, err)
	}
	return nil
}

// Reset discards everything buffered.
func (b *Buffer) Reset(ctx context.Context) error {
	return b.Drain(ctx, b.fifo.Size())
}

func (b *Buffer) scratchFrame(nbSamples int) (*astiav.Frame, error) {
	f := astiav.AllocFrame()
	if f == nil {
		return nil, fmt.Errorf("cannot alloc a scratch frame")
	}
	f.SetSampleFormat(b.sampleFormat)
	switch b.channels {
	case 1:
		f.SetChannelLayout(astiav.ChannelLayoutMono)
	case 2:
		f.SetChannelLayout(astiav.ChannelLayoutStereo)
	default:
		f.Free()
		return nil, fmt.Errorf("unsupported channel count %d for draining", b.channels)
	}
	f.SetNbSamples(nbSamples)
	if err := f.AllocBuffer(0); err != nil {
		f.Free()
		return nil, fmt.Errorf("cannot alloc buffer for a scratch frame: %w", err)
	}
	return f, nil
}

func (b *Buffer) Close(ctx context.Context) error {
	logger.Tracef(ctx, "Close")
	defer logger.Tracef(ctx, "/Close")
	if b.fifo != nil {
		b.fifo.Free()
		b.fifo = nil
	}
	return nil
}
