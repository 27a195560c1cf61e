package session

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avatomic/handle"
	"github.com/xaionaro-go/avatomic/logger"
)

type resampler struct {
	resampleContext *astiav.SoftwareResampleContext
	fifo            *astiav.AudioFifo
	scratchFrame    *astiav.Frame

	sampleFormat  astiav.SampleFormat
	channelLayout astiav.ChannelLayout
	sampleRate    int
	chunkSize     int
}

// CreateResampler allocates a software resampling context producing
// audio in the given output format, rechunked to chunkSize samples per
// output frame.
func (s *Session) CreateResampler(
	ctx context.Context,
	sampleFormatName string,
	sampleRate int,
	channels int,
	chunkSize int,
) (_ret handle.Handle, _err error) {
	logger.Debugf(ctx, "CreateResampler(ctx, '%s', %d, %d, %d)", sampleFormatName, sampleRate, channels, chunkSize)
	defer func() {
		logger.Debugf(ctx, "/CreateResampler(ctx, '%s', %d, %d, %d): %v %v", sampleFormatName, sampleRate, channels, chunkSize, _ret, _err)
	}()
	if err := s.checkOpen(); err != nil {
		return handle.None, err
	}
	sampleFormat, err := sampleFormatFromString(sampleFormatName)
	if err != nil {
		return handle.None, err
	}
	var channelLayout astiav.ChannelLayout
	switch channels {
	case 1:
		channelLayout = astiav.ChannelLayoutMono
	case 2:
		channelLayout = astiav.ChannelLayoutStereo
	default:
		return handle.None, fmt.Errorf("unsupported channels count %d", channels)
	}
	if sampleRate <= 0 {
		return handle.None, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if chunkSize <= 0 {
		return handle.None, fmt.Errorf("invalid chunk size %d", chunkSize)
	}

	fifo := astiav.AllocAudioFifo(sampleFormat, channels, chunkSize)
	if fifo == nil {
		return handle.None, fmt.Errorf("unable to allocate an audio FIFO")
	}
	resampleContext := astiav.AllocSoftwareResampleContext()
	if resampleContext == nil {
		fifo.Free()
		return handle.None, fmt.Errorf("unable to allocate a software resample context")
	}

	scratchFrame := astiav.AllocFrame()
	scratchFrame.SetNbSamples(chunkSize)
	scratchFrame.SetChannelLayout(channelLayout)
	scratchFrame.SetSampleFormat(sampleFormat)
	scratchFrame.SetSampleRate(sampleRate)
	if err := scratchFrame.AllocBuffer(0); err != nil {
		scratchFrame.Free()
		resampleContext.Free()
		fifo.Free()
		return handle.None, fmt.Errorf("unable to allocate the scratch frame buffer: %w", err)
	}

	r := &resampler{
		resampleContext: resampleContext,
		fifo:            fifo,
		scratchFrame:    scratchFrame,
		sampleFormat:    sampleFormat,
		channelLayout:   channelLayout,
		sampleRate:      sampleRate,
		chunkSize:       chunkSize,
	}
	h, err := s.handles.Register(ctx, handle.KindResampler, r, func() { r.close(ctx) })
	if err != nil {
		r.close(ctx)
		return handle.None, err
	}
	return h, nil
}

func (r *resampler) close(ctx context.Context) {
	logger.Tracef(ctx, "closing the resampler")
	r.scratchFrame.Free()
	r.resampleContext.Free()
	r.fifo.Free()
}

// ResampleSendFrame converts one input frame into the output format and
// queues the converted samples.
func (s *Session) ResampleSendFrame(
	ctx context.Context,
	resamplerH handle.Handle,
	frameH handle.Handle,
) (_err error) {
	logger.Tracef(ctx, "ResampleSendFrame(ctx, %d, %d)", resamplerH, frameH)
	defer func() { logger.Tracef(ctx, "/ResampleSendFrame(ctx, %d, %d): %v", resamplerH, frameH, _err) }()
	r, err := handle.Lookup[*resampler](ctx, s.handles, resamplerH, handle.KindResampler)
	if err != nil {
		return err
	}
	f, err := handle.Lookup[*astiav.Frame](ctx, s.handles, frameH, handle.KindFrame)
	if err != nil {
		return err
	}
	if err := r.resampleContext.ConvertFrame(f, r.scratchFrame); err != nil {
		return fmt.Errorf("unable to convert the frame: %w", err)
	}
	if r.scratchFrame.NbSamples() == 0 {
		return nil
	}
	if _, err := r.fifo.Write(r.scratchFrame); err != nil {
		return fmt.Errorf("unable to queue the converted samples: %w", err)
	}
	return nil
}

func (r *resampler) receiveFrame(
	ctx context.Context,
	f *astiav.Frame,
	minSize int,
) (Status, error) {
	if r.fifo.Size() == 0 {
		return StatusEndOfStream, nil
	}
	if r.fifo.Size() < minSize {
		return StatusWouldBlock, nil
	}
	f.Unref()
	f.SetNbSamples(r.chunkSize)
	f.SetChannelLayout(r.channelLayout)
	f.SetSampleFormat(r.sampleFormat)
	f.SetSampleRate(r.sampleRate)
	if err := f.AllocBuffer(0); err != nil {
		return StatusFailed, fmt.Errorf("unable to allocate the output frame buffer: %w", err)
	}
	n, err := r.fifo.Read(f)
	if err != nil {
		return StatusFailed, fmt.Errorf("unable to read the queued samples: %w", err)
	}
	if n < minSize {
		logger.Errorf(ctx, "read less samples than requested: %d < %d", n, minSize)
	}
	f.SetNbSamples(n)
	return StatusOK, nil
}

// ResampleReceiveFrame pulls one full chunk of converted samples into
// the given frame. StatusWouldBlock means less than a chunk is queued;
// StatusEndOfStream means the queue is empty.
func (s *Session) ResampleReceiveFrame(
	ctx context.Context,
	resamplerH handle.Handle,
	frameH handle.Handle,
) (_ret Status, _err error) {
	logger.Tracef(ctx, "ResampleReceiveFrame(ctx, %d, %d)", resamplerH, frameH)
	defer func() { logger.Tracef(ctx, "/ResampleReceiveFrame(ctx, %d, %d): %v %v", resamplerH, frameH, _ret, _err) }()
	r, err := handle.Lookup[*resampler](ctx, s.handles, resamplerH, handle.KindResampler)
	if err != nil {
		return StatusFailed, err
	}
	f, err := handle.Lookup[*astiav.Frame](ctx, s.handles, frameH, handle.KindFrame)
	if err != nil {
		return StatusFailed, err
	}
	return r.receiveFrame(ctx, f, r.chunkSize)
}

// FlushResampler drains the remaining queued samples, shorter than a
// chunk included.
func (s *Session) FlushResampler(
	ctx context.Context,
	resamplerH handle.Handle,
	frameH handle.Handle,
) (_ret Status, _err error) {
	logger.Debugf(ctx, "FlushResampler(ctx, %d, %d)", resamplerH, frameH)
	defer func() { logger.Debugf(ctx, "/FlushResampler(ctx, %d, %d): %v %v", resamplerH, frameH, _ret, _err) }()
	r, err := handle.Lookup[*resampler](ctx, s.handles, resamplerH, handle.KindResampler)
	if err != nil {
		return StatusFailed, err
	}
	f, err := handle.Lookup[*astiav.Frame](ctx, s.handles, frameH, handle.KindFrame)
	if err != nil {
		return StatusFailed, err
	}
	return r.receiveFrame(ctx, f, 0)
}
