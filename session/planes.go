package session

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avatomic/handle"
	"github.com/xaionaro-go/avatomic/logger"
)

// planeSizes describes the byte layout of a frame buffer at alignment 1:
// one entry per plane, in buffer order.
func planeSizes(f *astiav.Frame) ([]int, error) {
	if f.Height() > 0 {
		return videoPlaneSizes(f)
	}
	return audioPlaneSizes(f)
}

func videoPlaneSizes(f *astiav.Frame) ([]int, error) {
	w, h := f.Width(), f.Height()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("the frame geometry is not set: %dx%d", w, h)
	}
	switch f.PixelFormat() {
	case astiav.PixelFormatYuv420P:
		return []int{w * h, w * h / 4, w * h / 4}, nil
	case astiav.PixelFormatYuv422P:
		return []int{w * h, w * h / 2, w * h / 2}, nil
	case astiav.PixelFormatYuv444P:
		return []int{w * h, w * h, w * h}, nil
	case astiav.PixelFormatNv12:
		return []int{w * h, w * h / 2}, nil
	case astiav.PixelFormatRgba:
		return []int{w * h * 4}, nil
	case astiav.PixelFormatRgb24:
		return []int{w * h * 3}, nil
	case astiav.PixelFormatGray8:
		return []int{w * h}, nil
	}
	return nil, fmt.Errorf("unsupported pixel format '%s'", f.PixelFormat().Name())
}

func audioPlaneSizes(f *astiav.Frame) ([]int, error) {
	sf := f.SampleFormat()
	nbSamples := f.NbSamples()
	channels := f.ChannelLayout().Channels()
	if nbSamples <= 0 || channels <= 0 {
		return nil, fmt.Errorf("the frame audio geometry is not set: %d samples, %d channels", nbSamples, channels)
	}
	bps := sf.BytesPerSample()
	if bps <= 0 {
		return nil, fmt.Errorf("unsupported sample format '%s'", sf.Name())
	}
	if !sf.IsPlanar() {
		return []int{nbSamples * channels * bps}, nil
	}
	sizes := make([]int, channels)
	for i := range sizes {
		sizes[i] = nbSamples * bps
	}
	return sizes, nil
}

func frameBufferAt1(f *astiav.Frame) ([]byte, error) {
	if f.Height() > 0 {
		b, err := f.Data().Bytes(1)
		if err != nil {
			return nil, fmt.Errorf("unable to read the frame data: %w", err)
		}
		return b, nil
	}
	size, err := f.SamplesBufferSize(1)
	if err != nil {
		return nil, fmt.Errorf("unable to compute the samples buffer size: %w", err)
	}
	b := make([]byte, size)
	if _, err := f.SamplesCopyToBuffer(b, 1); err != nil {
		return nil, fmt.Errorf("unable to copy the samples out: %w", err)
	}
	return b, nil
}

// planar audio layouts pad each plane to an equal stride within the
// packed buffer, so the plane offset is derived from the stride, not
// from the active plane size.
func planeRegion(f *astiav.Frame, sizes []int, buf []byte, plane int) (int, int, error) {
	if plane < 0 || plane >= len(sizes) {
		return 0, 0, fmt.Errorf("plane index %d is out of range [0, %d)", plane, len(sizes))
	}
	if f.Height() > 0 {
		offset := 0
		for i := 0; i < plane; i++ {
			offset += sizes[i]
		}
		return offset, sizes[plane], nil
	}
	stride := len(buf) / len(sizes)
	return plane * stride, sizes[plane], nil
}

// FramePlane returns a copy of one data plane of a frame. For video the
// plane indices follow the pixel format (e.g. Y, U, V for yuv420p); for
// planar audio each channel is a plane, for packed audio there is a
// single plane.
func (s *Session) FramePlane(
	ctx context.Context,
	frameH handle.Handle,
	plane int,
) (_ret []byte, _err error) {
	logger.Tracef(ctx, "FramePlane(ctx, %d, %d)", frameH, plane)
	defer func() { logger.Tracef(ctx, "/FramePlane(ctx, %d, %d): %d bytes %v", frameH, plane, len(_ret), _err) }()
	f, err := handle.Lookup[*astiav.Frame](ctx, s.handles, frameH, handle.KindFrame)
	if err != nil {
		return nil, err
	}
	sizes, err := planeSizes(f)
	if err != nil {
		return nil, err
	}
	buf, err := frameBufferAt1(f)
	if err != nil {
		return nil, err
	}
	offset, size, err := planeRegion(f, sizes, buf, plane)
	if err != nil {
		return nil, err
	}
	if offset+size > len(buf) {
		return nil, fmt.Errorf("the frame buffer is too small: %d < %d", len(buf), offset+size)
	}
	result := make([]byte, size)
	copy(result, buf[offset:offset+size])
	return result, nil
}

// SetFramePlane overwrites one data plane of a frame with the given
// bytes. The length must match the plane size exactly.
func (s *Session) SetFramePlane(
	ctx context.Context,
	frameH handle.Handle,
	plane int,
	data []byte,
) (_err error) {
	logger.Tracef(ctx, "SetFramePlane(ctx, %d, %d, %d bytes)", frameH, plane, len(data))
	defer func() { logger.Tracef(ctx, "/SetFramePlane(ctx, %d, %d, %d bytes): %v", frameH, plane, len(data), _err) }()
	f, err := handle.Lookup[*astiav.Frame](ctx, s.handles, frameH, handle.KindFrame)
	if err != nil {
		return err
	}
	sizes, err := planeSizes(f)
	if err != nil {
		return err
	}
	buf, err := frameBufferAt1(f)
	if err != nil {
		return err
	}
	offset, size, err := planeRegion(f, sizes, buf, plane)
	if err != nil {
		return err
	}
	if len(data) != size {
		return ErrBufferSizeMismatch{Expected: size, Actual: len(data)}
	}
	if offset+size > len(buf) {
		return fmt.Errorf("the frame buffer is too small: %d < %d", len(buf), offset+size)
	}
	copy(buf[offset:offset+size], data)
	if err := f.MakeWritable(); err != nil {
		return fmt.Errorf("unable to make the frame writable: %w", err)
	}
	if err := f.Data().SetBytes(buf, 1); err != nil {
		return fmt.Errorf("unable to write the frame data back: %w", err)
	}
	return nil
}
