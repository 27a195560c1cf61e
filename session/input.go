package session

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/asticode/go-astiav"
	"github.com/davecgh/go-spew/spew"
	"github.com/facebookincubator/go-belt"
	"github.com/xaionaro-go/avatomic/handle"
	"github.com/xaionaro-go/avatomic/logger"
	"github.com/xaionaro-go/unsafetools"
)

type input struct {
	formatContext *astiav.FormatContext
	url           string
}

// OpenInput opens the container at url for demuxing and probes its
// streams.
func (s *Session) OpenInput(
	ctx context.Context,
	url string,
) (_ret handle.Handle, _err error) {
	ctx = belt.WithField(ctx, "url", url)
	logger.Debugf(ctx, "OpenInput(ctx, '%s')", url)
	defer func() { logger.Debugf(ctx, "/OpenInput(ctx, '%s'): %v %v", url, _ret, _err) }()
	if err := s.checkOpen(); err != nil {
		return handle.None, err
	}
	if url == "" {
		return handle.None, fmt.Errorf("the provided URL is empty")
	}

	formatContext := astiav.AllocFormatContext()
	if formatContext == nil {
		return handle.None, fmt.Errorf("unable to allocate a format context")
	}
	if err := formatContext.OpenInput(url, nil, nil); err != nil {
		formatContext.Free()
		return handle.None, fmt.Errorf("unable to open input by URL '%s': %w", url, err)
	}

	in := &input{formatContext: formatContext, url: url}
	if err := formatContext.FindStreamInfo(nil); err != nil {
		in.close(ctx)
		return handle.None, fmt.Errorf("unable to get stream info: %w", err)
	}

	if logger.FromCtx(ctx).Level() >= logger.LevelTrace {
		for _, stream := range formatContext.Streams() {
			logger.Tracef(ctx, "input stream #%d: %s", stream.Index(), spew.Sdump(unsafetools.FieldByNameInValue(reflect.ValueOf(stream.CodecParameters()), "c").Elem().Elem().Interface()))
		}
	}

	h, err := s.handles.Register(ctx, handle.KindInputFormat, in, func() { in.close(ctx) })
	if err != nil {
		in.close(ctx)
		return handle.None, err
	}
	return h, nil
}

func (in *input) close(ctx context.Context) {
	logger.Tracef(ctx, "closing input '%s'", in.url)
	in.formatContext.CloseInput()
	in.formatContext.Free()
}

// ReadPacket demuxes the next packet of the input into pkt. It reports
// StatusEndOfStream once the container is fully consumed.
func (s *Session) ReadPacket(
	ctx context.Context,
	inputH handle.Handle,
	packetH handle.Handle,
) (_ret Status, _err error) {
	logger.Tracef(ctx, "ReadPacket(ctx, %d, %d)", inputH, packetH)
	defer func() { logger.Tracef(ctx, "/ReadPacket(ctx, %d, %d): %v %v", inputH, packetH, _ret, _err) }()
	in, err := handle.Lookup[*input](ctx, s.handles, inputH, handle.KindInputFormat)
	if err != nil {
		return StatusFailed, err
	}
	pkt, err := handle.Lookup[*astiav.Packet](ctx, s.handles, packetH, handle.KindPacket)
	if err != nil {
		return StatusFailed, err
	}
	err = in.formatContext.ReadFrame(pkt)
	switch {
	case err == nil:
		return StatusOK, nil
	case errors.Is(err, astiav.ErrEof), errors.Is(err, astiav.ErrEio):
		return StatusEndOfStream, nil
	default:
		return StatusFailed, fmt.Errorf("unable to read a packet: %w", err)
	}
}

// Seek positions the input at the latest point not after timestamp
// (expressed in the stream's time base; streamIndex -1 selects the
// engine's default stream and the engine's internal time base).
func (s *Session) Seek(
	ctx context.Context,
	inputH handle.Handle,
	streamIndex int,
	timestamp int64,
) (_err error) {
	logger.Debugf(ctx, "Seek(ctx, %d, %d, %d)", inputH, streamIndex, timestamp)
	defer func() { logger.Debugf(ctx, "/Seek(ctx, %d, %d, %d): %v", inputH, streamIndex, timestamp, _err) }()
	in, err := handle.Lookup[*input](ctx, s.handles, inputH, handle.KindInputFormat)
	if err != nil {
		return err
	}
	if err := in.formatContext.SeekFrame(streamIndex, timestamp, astiav.NewSeekFlags(astiav.SeekFlagBackward)); err != nil {
		return fmt.Errorf("unable to seek to %d on stream %d: %w", timestamp, streamIndex, err)
	}
	return nil
}

// Duration reports the container duration in engine time base units.
func (s *Session) Duration(
	ctx context.Context,
	inputH handle.Handle,
) (int64, error) {
	in, err := handle.Lookup[*input](ctx, s.handles, inputH, handle.KindInputFormat)
	if err != nil {
		return 0, err
	}
	return in.formatContext.Duration(), nil
}

// StreamInfo is a plain-values snapshot of one stream, usable across
// the host boundary.
type StreamInfo struct {
	Index      int
	MediaType  astiav.MediaType
	CodecID    astiav.CodecID
	TimeBase   astiav.Rational
	Width      int
	Height     int
	SampleRate int
	Channels   int
	BitRate    int64
}

// StreamCount reports how many streams the input or output container
// has.
func (s *Session) StreamCount(
	ctx context.Context,
	h handle.Handle,
) (int, error) {
	formatContext, err := s.formatContextOf(ctx, h)
	if err != nil {
		return 0, err
	}
	return len(formatContext.Streams()), nil
}

// StreamInfo describes the stream with the given index of an input or
// output container.
func (s *Session) StreamInfo(
	ctx context.Context,
	h handle.Handle,
	streamIndex int,
) (StreamInfo, error) {
	formatContext, err := s.formatContextOf(ctx, h)
	if err != nil {
		return StreamInfo{}, err
	}
	stream, err := streamByIndex(formatContext, streamIndex)
	if err != nil {
		return StreamInfo{}, err
	}
	cp := stream.CodecParameters()
	return StreamInfo{
		Index:      stream.Index(),
		MediaType:  cp.MediaType(),
		CodecID:    cp.CodecID(),
		TimeBase:   stream.TimeBase(),
		Width:      cp.Width(),
		Height:     cp.Height(),
		SampleRate: cp.SampleRate(),
		Channels:   cp.ChannelLayout().Channels(),
		BitRate:    cp.BitRate(),
	}, nil
}
