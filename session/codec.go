package session

import (
	"context"
	"fmt"
	"strconv"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/facebookincubator/go-belt"
	"github.com/xaionaro-go/avatomic/handle"
	"github.com/xaionaro-go/avatomic/logger"
)

type encoder struct {
	codec        *astiav.Codec
	codecContext *astiav.CodecContext
	options      *astiav.Dictionary
	closer       *astikit.Closer

	timeBaseNum  int
	timeBaseDen  int
	framerateNum int
	framerateDen int

	frameCounter int64
	opened       bool
}

type decoder struct {
	codec        *astiav.Codec
	codecContext *astiav.CodecContext
	closer       *astikit.Closer
	opened       bool
}

// CreateEncoder allocates an encoding context for the codec with the
// given name. The context is configured via SetEncoderOption and opened
// via OpenEncoder.
func (s *Session) CreateEncoder(
	ctx context.Context,
	codecName string,
) (_ret handle.Handle, _err error) {
	ctx = belt.WithField(ctx, "codec_name", codecName)
	logger.Debugf(ctx, "CreateEncoder(ctx, '%s')", codecName)
	defer func() { logger.Debugf(ctx, "/CreateEncoder(ctx, '%s'): %v %v", codecName, _ret, _err) }()
	if err := s.checkOpen(); err != nil {
		return handle.None, err
	}
	codec := astiav.FindEncoderByName(codecName)
	if codec == nil {
		return handle.None, fmt.Errorf("unable to find an encoder using name '%s'", codecName)
	}
	codecContext := astiav.AllocCodecContext(codec)
	if codecContext == nil {
		return handle.None, fmt.Errorf("unable to allocate a codec context")
	}
	enc := &encoder{codec: codec, codecContext: codecContext, closer: astikit.NewCloser()}
	enc.closer.Add(codecContext.Free)
	h, err := s.handles.Register(ctx, handle.KindEncoder, enc, func() { enc.close(ctx) })
	if err != nil {
		enc.close(ctx)
		return handle.None, err
	}
	return h, nil
}

// CreateEncoderByCodecID is CreateEncoder with the engine's numeric
// codec identifier instead of a name; the engine picks its default
// encoder implementation for that codec.
func (s *Session) CreateEncoderByCodecID(
	ctx context.Context,
	codecID astiav.CodecID,
) (_ret handle.Handle, _err error) {
	ctx = belt.WithField(ctx, "codec_id", codecID)
	logger.Debugf(ctx, "CreateEncoderByCodecID(ctx, %v)", codecID)
	defer func() { logger.Debugf(ctx, "/CreateEncoderByCodecID(ctx, %v): %v %v", codecID, _ret, _err) }()
	if err := s.checkOpen(); err != nil {
		return handle.None, err
	}
	codec := astiav.FindEncoder(codecID)
	if codec == nil {
		return handle.None, fmt.Errorf("unable to find an encoder for codec ID %v", codecID)
	}
	codecContext := astiav.AllocCodecContext(codec)
	if codecContext == nil {
		return handle.None, fmt.Errorf("unable to allocate a codec context")
	}
	enc := &encoder{codec: codec, codecContext: codecContext, closer: astikit.NewCloser()}
	enc.closer.Add(codecContext.Free)
	h, err := s.handles.Register(ctx, handle.KindEncoder, enc, func() { enc.close(ctx) })
	if err != nil {
		enc.close(ctx)
		return handle.None, err
	}
	return h, nil
}

func (e *encoder) close(ctx context.Context) {
	logger.Tracef(ctx, "closing the encoder '%s'", e.codec.Name())
	if err := e.closer.Close(); err != nil {
		logger.Errorf(ctx, "unable to close the encoder: %v", err)
	}
}

func (d *decoder) close(ctx context.Context) {
	logger.Tracef(ctx, "closing the decoder '%s'", d.codec.Name())
	if err := d.closer.Close(); err != nil {
		logger.Errorf(ctx, "unable to close the decoder: %v", err)
	}
}

// CreateDecoder allocates and opens a decoding context for the codec
// with the given name. Parameter-free decoding only works for codecs
// whose bitstream is self-describing; use CreateDecoderForStream when
// the container carries the configuration.
func (s *Session) CreateDecoder(
	ctx context.Context,
	codecName string,
) (_ret handle.Handle, _err error) {
	ctx = belt.WithField(ctx, "codec_name", codecName)
	logger.Debugf(ctx, "CreateDecoder(ctx, '%s')", codecName)
	defer func() { logger.Debugf(ctx, "/CreateDecoder(ctx, '%s'): %v %v", codecName, _ret, _err) }()
	if err := s.checkOpen(); err != nil {
		return handle.None, err
	}
	codec := astiav.FindDecoderByName(codecName)
	if codec == nil {
		return handle.None, fmt.Errorf("unable to find a decoder using name '%s'", codecName)
	}
	return s.registerOpenedDecoder(ctx, codec, nil)
}

// CreateDecoderForStream allocates and opens a decoder for one stream of
// an opened input, configured from the stream's codec parameters.
func (s *Session) CreateDecoderForStream(
	ctx context.Context,
	inputH handle.Handle,
	streamIndex int,
) (_ret handle.Handle, _err error) {
	logger.Debugf(ctx, "CreateDecoderForStream(ctx, %d, %d)", inputH, streamIndex)
	defer func() { logger.Debugf(ctx, "/CreateDecoderForStream(ctx, %d, %d): %v %v", inputH, streamIndex, _ret, _err) }()
	if err := s.checkOpen(); err != nil {
		return handle.None, err
	}
	in, err := handle.Lookup[*input](ctx, s.handles, inputH, handle.KindInputFormat)
	if err != nil {
		return handle.None, err
	}
	stream, err := streamByIndex(in.formatContext, streamIndex)
	if err != nil {
		return handle.None, err
	}
	cp := stream.CodecParameters()
	codec := astiav.FindDecoder(cp.CodecID())
	if codec == nil {
		return handle.None, fmt.Errorf("unable to find a decoder for codec ID %v", cp.CodecID())
	}
	return s.registerOpenedDecoder(ctx, codec, cp)
}

func (s *Session) registerOpenedDecoder(
	ctx context.Context,
	codec *astiav.Codec,
	cp *astiav.CodecParameters,
) (handle.Handle, error) {
	codecContext := astiav.AllocCodecContext(codec)
	if codecContext == nil {
		return handle.None, fmt.Errorf("unable to allocate a codec context")
	}
	dec := &decoder{codec: codec, codecContext: codecContext, closer: astikit.NewCloser()}
	dec.closer.Add(codecContext.Free)
	if cp != nil {
		if err := cp.ToCodecContext(codecContext); err != nil {
			dec.close(ctx)
			return handle.None, fmt.Errorf("unable to apply the codec parameters: %w", err)
		}
	}
	if err := codecContext.Open(codec, nil); err != nil {
		dec.close(ctx)
		return handle.None, fmt.Errorf("unable to open codec context: %w", err)
	}
	dec.opened = true
	h, err := s.handles.Register(ctx, handle.KindDecoder, dec, func() { dec.close(ctx) })
	if err != nil {
		dec.close(ctx)
		return handle.None, err
	}
	return h, nil
}

// SetEncoderOption configures one encoder parameter before OpenEncoder.
// The well-known structured keys below land in the codec context
// directly; everything else is staged in an options dictionary which is
// applied as one batch at open time (unrecognized keys are tolerated
// there, not fatal).
func (s *Session) SetEncoderOption(
	ctx context.Context,
	encoderH handle.Handle,
	key string,
	value string,
) (_err error) {
	logger.Debugf(ctx, "SetEncoderOption(ctx, %d, '%s', '%s')", encoderH, key, value)
	defer func() { logger.Debugf(ctx, "/SetEncoderOption(ctx, %d, '%s', '%s'): %v", encoderH, key, value, _err) }()
	enc, err := handle.Lookup[*encoder](ctx, s.handles, encoderH, handle.KindEncoder)
	if err != nil {
		return err
	}
	if enc.opened {
		return fmt.Errorf("the encoder is already opened, too late for options")
	}

	parseInt := func() (int64, error) {
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("unable to parse %s option value '%s' as int: %w", key, value, err)
		}
		return v, nil
	}

	switch key {
	case "threads":
		v, err := parseInt()
		if err != nil {
			return err
		}
		enc.codecContext.SetThreadCount(int(v))
	case "width":
		v, err := parseInt()
		if err != nil {
			return err
		}
		enc.codecContext.SetWidth(int(v))
	case "height":
		v, err := parseInt()
		if err != nil {
			return err
		}
		enc.codecContext.SetHeight(int(v))
	case "bitrate":
		v, err := parseInt()
		if err != nil {
			return err
		}
		enc.codecContext.SetBitRate(v)
	case "sample_rate":
		v, err := parseInt()
		if err != nil {
			return err
		}
		enc.codecContext.SetSampleRate(int(v))
	case "channels":
		v, err := parseInt()
		if err != nil {
			return err
		}
		switch v {
		case 1:
			enc.codecContext.SetChannelLayout(astiav.ChannelLayoutMono)
		case 2:
			enc.codecContext.SetChannelLayout(astiav.ChannelLayoutStereo)
		default:
			return fmt.Errorf("unsupported channels option value '%s'", value)
		}
	case "time_base_num":
		v, err := parseInt()
		if err != nil {
			return err
		}
		enc.timeBaseNum = int(v)
	case "time_base_den":
		v, err := parseInt()
		if err != nil {
			return err
		}
		enc.timeBaseDen = int(v)
	case "framerate_num":
		v, err := parseInt()
		if err != nil {
			return err
		}
		enc.framerateNum = int(v)
	case "framerate_den":
		v, err := parseInt()
		if err != nil {
			return err
		}
		enc.framerateDen = int(v)
	case "gop_size":
		v, err := parseInt()
		if err != nil {
			return err
		}
		enc.codecContext.SetGopSize(int(v))
	case "max_b_frames":
		v, err := parseInt()
		if err != nil {
			return err
		}
		enc.codecContext.SetMaxBFrames(int(v))
	case "pix_fmt":
		pixelFormat, err := pixelFormatFromString(value)
		if err != nil {
			return err
		}
		enc.codecContext.SetPixelFormat(pixelFormat)
	case "sample_fmt":
		sampleFormat, err := sampleFormatFromString(value)
		if err != nil {
			return err
		}
		enc.codecContext.SetSampleFormat(sampleFormat)
	default:
		if enc.options == nil {
			enc.options = astiav.NewDictionary()
			enc.closer.Add(enc.options.Free)
		}
		logger.Tracef(ctx, "encoder.options['%s'] = '%s'", key, value)
		return enc.options.Set(key, value, 0)
	}
	return nil
}

// OpenEncoder opens the encoding context with everything configured so
// far. A time base must have been set: encoder output timestamps are
// expressed in it.
func (s *Session) OpenEncoder(
	ctx context.Context,
	encoderH handle.Handle,
) (_err error) {
	logger.Debugf(ctx, "OpenEncoder(ctx, %d)", encoderH)
	defer func() { logger.Debugf(ctx, "/OpenEncoder(ctx, %d): %v", encoderH, _err) }()
	enc, err := handle.Lookup[*encoder](ctx, s.handles, encoderH, handle.KindEncoder)
	if err != nil {
		return err
	}
	if enc.opened {
		return fmt.Errorf("the encoder is already opened")
	}
	if enc.timeBaseDen != 0 {
		enc.codecContext.SetTimeBase(astiav.NewRational(enc.timeBaseNum, enc.timeBaseDen))
	}
	if enc.framerateDen != 0 {
		enc.codecContext.SetFramerate(astiav.NewRational(enc.framerateNum, enc.framerateDen))
	}
	if enc.codecContext.TimeBase().Num() == 0 {
		return fmt.Errorf("the time base must be set")
	}
	logger.Tracef(ctx, "opening encoder '%s' with options %#+v", enc.codec.Name(), enc.options)
	if err := enc.codecContext.Open(enc.codec, enc.options); err != nil {
		return fmt.Errorf("unable to open codec context: %w", err)
	}
	enc.opened = true
	return nil
}

// EncoderTimeBase reports the time base of an opened encoder.
func (s *Session) EncoderTimeBase(
	ctx context.Context,
	encoderH handle.Handle,
) (astiav.Rational, error) {
	enc, err := handle.Lookup[*encoder](ctx, s.handles, encoderH, handle.KindEncoder)
	if err != nil {
		return astiav.Rational{}, err
	}
	return enc.codecContext.TimeBase(), nil
}

func pixelFormatFromString(s string) (astiav.PixelFormat, error) {
	switch s {
	case "yuv420p":
		return astiav.PixelFormatYuv420P, nil
	case "yuv422p":
		return astiav.PixelFormatYuv422P, nil
	case "yuv444p":
		return astiav.PixelFormatYuv444P, nil
	case "nv12":
		return astiav.PixelFormatNv12, nil
	case "rgba":
		return astiav.PixelFormatRgba, nil
	case "rgb24":
		return astiav.PixelFormatRgb24, nil
	case "gray8", "gray":
		return astiav.PixelFormatGray8, nil
	}

	return astiav.PixelFormatNone, fmt.Errorf("unsupported pixel format '%s'", s)
}

func sampleFormatFromString(s string) (astiav.SampleFormat, error) {
	switch s {
	case "u8":
		return astiav.SampleFormatU8, nil
	case "u8p":
		return astiav.SampleFormatU8P, nil
	case "s16":
		return astiav.SampleFormatS16, nil
	case "s16p":
		return astiav.SampleFormatS16P, nil
	case "s32":
		return astiav.SampleFormatS32, nil
	case "s32p":
		return astiav.SampleFormatS32P, nil
	case "flt":
		return astiav.SampleFormatFlt, nil
	case "fltp":
		return astiav.SampleFormatFltp, nil
	case "dbl":
		return astiav.SampleFormatDbl, nil
	case "dblp":
		return astiav.SampleFormatDblp, nil
	}

	return astiav.SampleFormatNone, fmt.Errorf("unsupported sample format '%s'", s)
}
