package session

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avatomic/handle"
	"github.com/xaionaro-go/avatomic/logger"
)

// AllocFrame allocates an empty reusable frame and registers it.
func (s *Session) AllocFrame(
	ctx context.Context,
) (_ret handle.Handle, _err error) {
	logger.Tracef(ctx, "AllocFrame(ctx)")
	defer func() { logger.Tracef(ctx, "/AllocFrame(ctx): %v %v", _ret, _err) }()
	if err := s.checkOpen(); err != nil {
		return handle.None, err
	}
	f := astiav.AllocFrame()
	if f == nil {
		return handle.None, fmt.Errorf("unable to allocate a frame")
	}
	h, err := s.handles.Register(ctx, handle.KindFrame, f, f.Free)
	if err != nil {
		f.Free()
		return handle.None, err
	}
	return h, nil
}

// AllocPacket allocates an empty reusable packet and registers it.
func (s *Session) AllocPacket(
	ctx context.Context,
) (_ret handle.Handle, _err error) {
	logger.Tracef(ctx, "AllocPacket(ctx)")
	defer func() { logger.Tracef(ctx, "/AllocPacket(ctx): %v %v", _ret, _err) }()
	if err := s.checkOpen(); err != nil {
		return handle.None, err
	}
	pkt := astiav.AllocPacket()
	if pkt == nil {
		return handle.None, fmt.Errorf("unable to allocate a packet")
	}
	h, err := s.handles.Register(ctx, handle.KindPacket, pkt, pkt.Free)
	if err != nil {
		pkt.Free()
		return handle.None, err
	}
	return h, nil
}

// SetFrameProperty sets one frame field ahead of AllocFrameBuffer or an
// encoder feed.
func (s *Session) SetFrameProperty(
	ctx context.Context,
	frameH handle.Handle,
	key string,
	value int64,
) (_err error) {
	logger.Tracef(ctx, "SetFrameProperty(ctx, %d, '%s', %d)", frameH, key, value)
	defer func() { logger.Tracef(ctx, "/SetFrameProperty(ctx, %d, '%s', %d): %v", frameH, key, value, _err) }()
	f, err := handle.Lookup[*astiav.Frame](ctx, s.handles, frameH, handle.KindFrame)
	if err != nil {
		return err
	}
	switch key {
	case "width":
		f.SetWidth(int(value))
	case "height":
		f.SetHeight(int(value))
	case "pix_fmt":
		f.SetPixelFormat(astiav.PixelFormat(value))
	case "sample_fmt":
		f.SetSampleFormat(astiav.SampleFormat(value))
	case "sample_rate":
		f.SetSampleRate(int(value))
	case "nb_samples":
		f.SetNbSamples(int(value))
	case "channels":
		switch value {
		case 1:
			f.SetChannelLayout(astiav.ChannelLayoutMono)
		case 2:
			f.SetChannelLayout(astiav.ChannelLayoutStereo)
		default:
			return fmt.Errorf("unsupported channels value %d", value)
		}
	case "pts":
		f.SetPts(value)
	case "pict_type":
		f.SetPictureType(astiav.PictureType(value))
	case "key_frame":
		f.SetKeyFrame(value != 0)
	default:
		return fmt.Errorf("unknown frame property '%s'", key)
	}
	return nil
}

// FrameProperty reads one frame field.
func (s *Session) FrameProperty(
	ctx context.Context,
	frameH handle.Handle,
	key string,
) (int64, error) {
	f, err := handle.Lookup[*astiav.Frame](ctx, s.handles, frameH, handle.KindFrame)
	if err != nil {
		return 0, err
	}
	switch key {
	case "width":
		return int64(f.Width()), nil
	case "height":
		return int64(f.Height()), nil
	case "pix_fmt":
		return int64(f.PixelFormat()), nil
	case "sample_fmt":
		return int64(f.SampleFormat()), nil
	case "sample_rate":
		return int64(f.SampleRate()), nil
	case "nb_samples":
		return int64(f.NbSamples()), nil
	case "channels":
		return int64(f.ChannelLayout().Channels()), nil
	case "pts":
		return f.Pts(), nil
	case "pict_type":
		return int64(f.PictureType()), nil
	case "key_frame":
		if f.KeyFrame() {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("unknown frame property '%s'", key)
}

// SetFramePixelFormat sets the pixel format by its string name.
func (s *Session) SetFramePixelFormat(
	ctx context.Context,
	frameH handle.Handle,
	pixelFormatName string,
) error {
	pixelFormat, err := pixelFormatFromString(pixelFormatName)
	if err != nil {
		return err
	}
	return s.SetFrameProperty(ctx, frameH, "pix_fmt", int64(pixelFormat))
}

// SetFrameSampleFormat sets the sample format by its string name.
func (s *Session) SetFrameSampleFormat(
	ctx context.Context,
	frameH handle.Handle,
	sampleFormatName string,
) error {
	sampleFormat, err := sampleFormatFromString(sampleFormatName)
	if err != nil {
		return err
	}
	return s.SetFrameProperty(ctx, frameH, "sample_fmt", int64(sampleFormat))
}

// AllocFrameBuffer allocates the data planes of a frame from the already
// set geometry (width/height/pix_fmt for video, nb_samples/sample_fmt/
// channels for audio) and makes them writable.
func (s *Session) AllocFrameBuffer(
	ctx context.Context,
	frameH handle.Handle,
	align int,
) (_err error) {
	logger.Tracef(ctx, "AllocFrameBuffer(ctx, %d, %d)", frameH, align)
	defer func() { logger.Tracef(ctx, "/AllocFrameBuffer(ctx, %d, %d): %v", frameH, align, _err) }()
	f, err := handle.Lookup[*astiav.Frame](ctx, s.handles, frameH, handle.KindFrame)
	if err != nil {
		return err
	}
	if err := f.AllocBuffer(align); err != nil {
		return fmt.Errorf("unable to allocate the frame buffer: %w", err)
	}
	if err := f.MakeWritable(); err != nil {
		return fmt.Errorf("unable to make the frame writable: %w", err)
	}
	return nil
}

// UnrefFrame releases the frame's data planes while keeping the handle
// reusable.
func (s *Session) UnrefFrame(
	ctx context.Context,
	frameH handle.Handle,
) error {
	f, err := handle.Lookup[*astiav.Frame](ctx, s.handles, frameH, handle.KindFrame)
	if err != nil {
		return err
	}
	f.Unref()
	return nil
}

// CloneFrame makes an independent copy of a frame and registers it.
func (s *Session) CloneFrame(
	ctx context.Context,
	frameH handle.Handle,
) (_ret handle.Handle, _err error) {
	logger.Tracef(ctx, "CloneFrame(ctx, %d)", frameH)
	defer func() { logger.Tracef(ctx, "/CloneFrame(ctx, %d): %v %v", frameH, _ret, _err) }()
	f, err := handle.Lookup[*astiav.Frame](ctx, s.handles, frameH, handle.KindFrame)
	if err != nil {
		return handle.None, err
	}
	clone := f.Clone()
	if clone == nil {
		return handle.None, fmt.Errorf("unable to clone the frame")
	}
	h, err := s.handles.Register(ctx, handle.KindFrame, clone, clone.Free)
	if err != nil {
		clone.Free()
		return handle.None, err
	}
	return h, nil
}

// FrameLinesizes reports the per-plane line sizes of a frame with an
// allocated buffer.
func (s *Session) FrameLinesizes(
	ctx context.Context,
	frameH handle.Handle,
) ([]int, error) {
	f, err := handle.Lookup[*astiav.Frame](ctx, s.handles, frameH, handle.KindFrame)
	if err != nil {
		return nil, err
	}
	linesizes := f.Linesize()
	result := make([]int, 0, len(linesizes))
	for _, linesize := range linesizes {
		if linesize == 0 {
			break
		}
		result = append(result, linesize)
	}
	return result, nil
}
