package session

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avatomic/handle"
	"github.com/xaionaro-go/avatomic/logger"
)

type scaler struct {
	scaleContext *astiav.SoftwareScaleContext
}

// CreateScaler allocates a software scaling context converting between
// the given geometries and pixel formats.
func (s *Session) CreateScaler(
	ctx context.Context,
	srcWidth, srcHeight int,
	srcPixelFormatName string,
	dstWidth, dstHeight int,
	dstPixelFormatName string,
) (_ret handle.Handle, _err error) {
	logger.Debugf(ctx, "CreateScaler(ctx, %dx%d:%s, %dx%d:%s)",
		srcWidth, srcHeight, srcPixelFormatName, dstWidth, dstHeight, dstPixelFormatName)
	defer func() {
		logger.Debugf(ctx, "/CreateScaler(ctx, %dx%d:%s, %dx%d:%s): %v %v",
			srcWidth, srcHeight, srcPixelFormatName, dstWidth, dstHeight, dstPixelFormatName, _ret, _err)
	}()
	if err := s.checkOpen(); err != nil {
		return handle.None, err
	}
	srcPixelFormat, err := pixelFormatFromString(srcPixelFormatName)
	if err != nil {
		return handle.None, err
	}
	dstPixelFormat, err := pixelFormatFromString(dstPixelFormatName)
	if err != nil {
		return handle.None, err
	}
	scaleContext, err := astiav.CreateSoftwareScaleContext(
		srcWidth, srcHeight, srcPixelFormat,
		dstWidth, dstHeight, dstPixelFormat,
		astiav.NewSoftwareScaleContextFlags(),
	)
	if err != nil {
		return handle.None, fmt.Errorf("unable to create a software scale context: %w", err)
	}
	sc := &scaler{scaleContext: scaleContext}
	h, err := s.handles.Register(ctx, handle.KindScaler, sc, scaleContext.Free)
	if err != nil {
		scaleContext.Free()
		return handle.None, err
	}
	return h, nil
}

// ScaleFrame converts the source frame into the destination frame
// through a scaler. The destination frame is (re)allocated by the
// scaling context itself.
func (s *Session) ScaleFrame(
	ctx context.Context,
	scalerH handle.Handle,
	srcFrameH handle.Handle,
	dstFrameH handle.Handle,
) (_err error) {
	logger.Tracef(ctx, "ScaleFrame(ctx, %d, %d, %d)", scalerH, srcFrameH, dstFrameH)
	defer func() { logger.Tracef(ctx, "/ScaleFrame(ctx, %d, %d, %d): %v", scalerH, srcFrameH, dstFrameH, _err) }()
	sc, err := handle.Lookup[*scaler](ctx, s.handles, scalerH, handle.KindScaler)
	if err != nil {
		return err
	}
	src, err := handle.Lookup[*astiav.Frame](ctx, s.handles, srcFrameH, handle.KindFrame)
	if err != nil {
		return err
	}
	dst, err := handle.Lookup[*astiav.Frame](ctx, s.handles, dstFrameH, handle.KindFrame)
	if err != nil {
		return err
	}
	if err := sc.scaleContext.ScaleFrame(src, dst); err != nil {
		return fmt.Errorf("unable to scale a frame: %w", err)
	}
	dst.SetPts(src.Pts())
	return nil
}
