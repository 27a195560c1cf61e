package session

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avatomic/audiofifo"
	"github.com/xaionaro-go/avatomic/handle"
	"github.com/xaionaro-go/avatomic/logger"
)

// CreateAudioBuffer allocates a sample FIFO in the given format. Audio
// buffers live in their own handle space, separate from the main
// resource table, and are freed via FreeAudioBuffer.
func (s *Session) CreateAudioBuffer(
	ctx context.Context,
	sampleFormatName string,
	channels int,
	nbSamples int,
) (_ret handle.Handle, _err error) {
	logger.Debugf(ctx, "CreateAudioBuffer(ctx, '%s', %d, %d)", sampleFormatName, channels, nbSamples)
	defer func() {
		logger.Debugf(ctx, "/CreateAudioBuffer(ctx, '%s', %d, %d): %v %v", sampleFormatName, channels, nbSamples, _ret, _err)
	}()
	if err := s.checkOpen(); err != nil {
		return handle.None, err
	}
	sampleFormat, err := sampleFormatFromString(sampleFormatName)
	if err != nil {
		return handle.None, err
	}
	buf, err := audiofifo.New(ctx, sampleFormat, channels, nbSamples)
	if err != nil {
		return handle.None, err
	}
	h, err := s.audio.Register(ctx, handle.KindAudioBuffer, buf, func() { buf.Close(ctx) })
	if err != nil {
		buf.Close(ctx)
		return handle.None, err
	}
	return h, nil
}

func (s *Session) audioBuffer(ctx context.Context, h handle.Handle) (*audiofifo.Buffer, error) {
	return handle.Lookup[*audiofifo.Buffer](ctx, s.audio, h, handle.KindAudioBuffer)
}

// WriteAudioBuffer appends the frame's samples to the FIFO. The frame
// format must match the FIFO format exactly.
func (s *Session) WriteAudioBuffer(
	ctx context.Context,
	bufferH handle.Handle,
	frameH handle.Handle,
) (_ret int, _err error) {
	logger.Tracef(ctx, "WriteAudioBuffer(ctx, %d, %d)", bufferH, frameH)
	defer func() { logger.Tracef(ctx, "/WriteAudioBuffer(ctx, %d, %d): %v %v", bufferH, frameH, _ret, _err) }()
	buf, err := s.audioBuffer(ctx, bufferH)
	if err != nil {
		return 0, err
	}
	f, err := handle.Lookup[*astiav.Frame](ctx, s.handles, frameH, handle.KindFrame)
	if err != nil {
		return 0, err
	}
	return buf.WriteFrame(ctx, f)
}

// ReadAudioBuffer moves up to nbSamples samples from the FIFO into the
// frame, which must carry an allocated buffer in the FIFO format. It
// reports how many samples were actually read.
func (s *Session) ReadAudioBuffer(
	ctx context.Context,
	bufferH handle.Handle,
	frameH handle.Handle,
	nbSamples int,
) (_ret int, _err error) {
	logger.Tracef(ctx, "ReadAudioBuffer(ctx, %d, %d, %d)", bufferH, frameH, nbSamples)
	defer func() { logger.Tracef(ctx, "/ReadAudioBuffer(ctx, %d, %d, %d): %v %v", bufferH, frameH, nbSamples, _ret, _err) }()
	buf, err := s.audioBuffer(ctx, bufferH)
	if err != nil {
		return 0, err
	}
	f, err := handle.Lookup[*astiav.Frame](ctx, s.handles, frameH, handle.KindFrame)
	if err != nil {
		return 0, err
	}
	return buf.ReadFrame(ctx, f, nbSamples)
}

// AudioBufferSize reports the number of queued samples.
func (s *Session) AudioBufferSize(
	ctx context.Context,
	bufferH handle.Handle,
) (int, error) {
	buf, err := s.audioBuffer(ctx, bufferH)
	if err != nil {
		return 0, err
	}
	return buf.Size(), nil
}

// AudioBufferSpace reports how many samples fit before the next
// storage growth.
func (s *Session) AudioBufferSpace(
	ctx context.Context,
	bufferH handle.Handle,
) (int, error) {
	buf, err := s.audioBuffer(ctx, bufferH)
	if err != nil {
		return 0, err
	}
	return buf.Space(), nil
}

// DrainAudioBuffer discards up to nbSamples of the oldest queued
// samples without handing them out.
func (s *Session) DrainAudioBuffer(
	ctx context.Context,
	bufferH handle.Handle,
	nbSamples int,
) (_err error) {
	logger.Debugf(ctx, "DrainAudioBuffer(ctx, %d, %d)", bufferH, nbSamples)
	defer func() { logger.Debugf(ctx, "/DrainAudioBuffer(ctx, %d, %d): %v", bufferH, nbSamples, _err) }()
	buf, err := s.audioBuffer(ctx, bufferH)
	if err != nil {
		return err
	}
	return buf.Drain(ctx, nbSamples)
}

// ResetAudioBuffer discards all queued samples while keeping the buffer
// usable.
func (s *Session) ResetAudioBuffer(
	ctx context.Context,
	bufferH handle.Handle,
) (_err error) {
	logger.Debugf(ctx, "ResetAudioBuffer(ctx, %d)", bufferH)
	defer func() { logger.Debugf(ctx, "/ResetAudioBuffer(ctx, %d): %v", bufferH, _err) }()
	buf, err := s.audioBuffer(ctx, bufferH)
	if err != nil {
		return err
	}
	return buf.Reset(ctx)
}

// FreeAudioBuffer releases the FIFO and invalidates the handle.
func (s *Session) FreeAudioBuffer(
	ctx context.Context,
	bufferH handle.Handle,
) (_err error) {
	logger.Debugf(ctx, "FreeAudioBuffer(ctx, %d)", bufferH)
	defer func() { logger.Debugf(ctx, "/FreeAudioBuffer(ctx, %d): %v", bufferH, _err) }()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.audio.Release(ctx, bufferH); err != nil {
		return fmt.Errorf("unable to release the audio buffer: %w", err)
	}
	return nil
}

// AudioBufferCount reports the number of live audio buffers.
func (s *Session) AudioBufferCount(ctx context.Context) int {
	return s.audio.Count(ctx)
}
