package session

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/facebookincubator/go-belt"
	"github.com/xaionaro-go/avatomic/handle"
	"github.com/xaionaro-go/avatomic/internal"
	"github.com/xaionaro-go/avatomic/logger"
)

type output struct {
	formatContext  *astiav.FormatContext
	ioContext      *astiav.IOContext
	options        *astiav.Dictionary
	url            string
	headerWritten  bool
	trailerWritten bool
}

// CreateOutput allocates a muxer writing to url. formatName may be
// empty, then the muxer is guessed from the url.
func (s *Session) CreateOutput(
	ctx context.Context,
	url string,
	formatName string,
) (_ret handle.Handle, _err error) {
	ctx = belt.WithField(ctx, "url", url)
	logger.Debugf(ctx, "CreateOutput(ctx, '%s', '%s')", url, formatName)
	defer func() { logger.Debugf(ctx, "/CreateOutput(ctx, '%s', '%s'): %v %v", url, formatName, _ret, _err) }()
	if err := s.checkOpen(); err != nil {
		return handle.None, err
	}
	if url == "" && formatName == "" {
		return handle.None, fmt.Errorf("neither a URL nor a format name was provided")
	}

	formatContext, err := astiav.AllocOutputFormatContext(nil, formatName, url)
	if err != nil {
		return handle.None, fmt.Errorf("allocating output format context failed using URL '%s': %w", url, err)
	}
	if formatContext == nil {
		return handle.None, fmt.Errorf("unable to allocate the output format context")
	}

	out := &output{formatContext: formatContext, url: url}
	h, err := s.handles.Register(ctx, handle.KindOutputFormat, out, func() { out.close(ctx) })
	if err != nil {
		out.close(ctx)
		return handle.None, err
	}
	return h, nil
}

func (o *output) close(ctx context.Context) {
	if o.headerWritten && !o.trailerWritten {
		logger.Debugf(ctx, "writing the trailer")
		if err := o.formatContext.WriteTrailer(); err != nil {
			logger.Errorf(ctx, "unable to write the trailer: %v", err)
		}
	}
	if o.ioContext != nil {
		if err := o.ioContext.Close(); err != nil {
			logger.Errorf(ctx, "unable to close the IO context: %v", err)
		}
		o.ioContext = nil
	}
	if o.options != nil {
		o.options.Free()
		o.options = nil
	}
	o.formatContext.Free()
}

// SetOutputOption stages a muxer option; the staged options are applied
// as one batch when the header is written. Keys the muxer does not
// recognize are tolerated.
func (s *Session) SetOutputOption(
	ctx context.Context,
	outputH handle.Handle,
	key string,
	value string,
) (_err error) {
	logger.Debugf(ctx, "SetOutputOption(ctx, %d, '%s', '%s')", outputH, key, value)
	defer func() { logger.Debugf(ctx, "/SetOutputOption(ctx, %d, '%s', '%s'): %v", outputH, key, value, _err) }()
	out, err := handle.Lookup[*output](ctx, s.handles, outputH, handle.KindOutputFormat)
	if err != nil {
		return err
	}
	if out.headerWritten {
		return fmt.Errorf("the header was already written, too late for muxer options")
	}
	if out.options == nil {
		out.options = astiav.NewDictionary()
	}
	return out.options.Set(key, value, 0)
}

// AddStream appends a new, still unconfigured stream to the output and
// returns its index.
func (s *Session) AddStream(
	ctx context.Context,
	outputH handle.Handle,
) (_ret int, _err error) {
	logger.Debugf(ctx, "AddStream(ctx, %d)", outputH)
	defer func() { logger.Debugf(ctx, "/AddStream(ctx, %d): %v %v", outputH, _ret, _err) }()
	out, err := handle.Lookup[*output](ctx, s.handles, outputH, handle.KindOutputFormat)
	if err != nil {
		return -1, err
	}
	if out.headerWritten {
		return -1, fmt.Errorf("the header was already written, too late for new streams")
	}
	stream := out.formatContext.NewStream(nil)
	if stream == nil {
		return -1, fmt.Errorf("unable to allocate a new stream")
	}
	return stream.Index(), nil
}

// CopyStreamParameters copies the codec parameters of an input stream
// into an output stream, for remuxing without recoding.
func (s *Session) CopyStreamParameters(
	ctx context.Context,
	inputH handle.Handle,
	outputH handle.Handle,
	inputStreamIndex int,
	outputStreamIndex int,
) (_err error) {
	logger.Debugf(ctx, "CopyStreamParameters(ctx, %d, %d, %d, %d)", inputH, outputH, inputStreamIndex, outputStreamIndex)
	defer func() {
		logger.Debugf(ctx, "/CopyStreamParameters(ctx, %d, %d, %d, %d): %v", inputH, outputH, inputStreamIndex, outputStreamIndex, _err)
	}()
	in, err := handle.Lookup[*input](ctx, s.handles, inputH, handle.KindInputFormat)
	if err != nil {
		return err
	}
	out, err := handle.Lookup[*output](ctx, s.handles, outputH, handle.KindOutputFormat)
	if err != nil {
		return err
	}
	inputStream, err := streamByIndex(in.formatContext, inputStreamIndex)
	if err != nil {
		return err
	}
	outputStream, err := streamByIndex(out.formatContext, outputStreamIndex)
	if err != nil {
		return err
	}
	if err := inputStream.CodecParameters().Copy(outputStream.CodecParameters()); err != nil {
		return fmt.Errorf("unable to copy the codec parameters: %w", err)
	}
	outputStream.SetTimeBase(inputStream.TimeBase())
	return nil
}

// CopyEncoderParameters copies an opened encoder's parameters into an
// output stream and records the encoder's time base, so packets written
// to this stream later get rescaled from it.
func (s *Session) CopyEncoderParameters(
	ctx context.Context,
	encoderH handle.Handle,
	outputH handle.Handle,
	outputStreamIndex int,
) (_err error) {
	logger.Debugf(ctx, "CopyEncoderParameters(ctx, %d, %d, %d)", encoderH, outputH, outputStreamIndex)
	defer func() {
		logger.Debugf(ctx, "/CopyEncoderParameters(ctx, %d, %d, %d): %v", encoderH, outputH, outputStreamIndex, _err)
	}()
	enc, err := handle.Lookup[*encoder](ctx, s.handles, encoderH, handle.KindEncoder)
	if err != nil {
		return err
	}
	if !enc.opened {
		return fmt.Errorf("the encoder is not opened, yet")
	}
	out, err := handle.Lookup[*output](ctx, s.handles, outputH, handle.KindOutputFormat)
	if err != nil {
		return err
	}
	outputStream, err := streamByIndex(out.formatContext, outputStreamIndex)
	if err != nil {
		return err
	}
	if err := enc.codecContext.ToCodecParameters(outputStream.CodecParameters()); err != nil {
		return fmt.Errorf("unable to copy the encoder parameters: %w", err)
	}
	timeBase := enc.codecContext.TimeBase()
	outputStream.SetTimeBase(timeBase)
	s.handles.RecordStreamTimeBase(ctx, outputH, outputStreamIndex, encoderH, timeBase)
	return nil
}

// WriteHeader opens the destination (when the muxer needs a file) and
// writes the container header, applying the staged muxer options.
func (s *Session) WriteHeader(
	ctx context.Context,
	outputH handle.Handle,
) (_err error) {
	logger.Debugf(ctx, "WriteHeader(ctx, %d)", outputH)
	defer func() { logger.Debugf(ctx, "/WriteHeader(ctx, %d): %v", outputH, _err) }()
	out, err := handle.Lookup[*output](ctx, s.handles, outputH, handle.KindOutputFormat)
	if err != nil {
		return err
	}
	if out.headerWritten {
		return fmt.Errorf("the header was already written")
	}

	if !out.formatContext.OutputFormat().Flags().Has(astiav.IOFormatFlagNofile) {
		logger.Tracef(ctx, "destination '%s' is a file", out.url)
		ioContext, err := astiav.OpenIOContext(
			out.url,
			astiav.NewIOContextFlags(astiav.IOContextFlagWrite),
			nil,
			nil,
		)
		if err != nil {
			return fmt.Errorf("unable to open IO context (URL: '%s'): %w", out.url, err)
		}
		out.ioContext = ioContext
		out.formatContext.SetPb(ioContext)
	}

	if err := out.formatContext.WriteHeader(out.options); err != nil {
		return fmt.Errorf("unable to write the header: %w", err)
	}
	out.headerWritten = true
	return nil
}

// WriteTrailer finalizes the container. The output handle stays usable
// for introspection until it is closed.
func (s *Session) WriteTrailer(
	ctx context.Context,
	outputH handle.Handle,
) (_err error) {
	logger.Debugf(ctx, "WriteTrailer(ctx, %d)", outputH)
	defer func() { logger.Debugf(ctx, "/WriteTrailer(ctx, %d): %v", outputH, _err) }()
	out, err := handle.Lookup[*output](ctx, s.handles, outputH, handle.KindOutputFormat)
	if err != nil {
		return err
	}
	if !out.headerWritten {
		return fmt.Errorf("the header was not written, yet")
	}
	if out.trailerWritten {
		return fmt.Errorf("the trailer was already written")
	}
	if err := out.formatContext.WriteTrailer(); err != nil {
		return fmt.Errorf("unable to write the trailer: %w", err)
	}
	out.trailerWritten = true
	return nil
}

// WritePacketOptions selects the time base the packet's timestamps are
// currently expressed in.
type WritePacketOptions struct {
	// SourceInput and SourceStreamIndex identify the demuxed stream the
	// packet came from. When SourceInput is set, that stream's time base
	// wins; otherwise the time base recorded for the destination stream's
	// encoder is used; with neither, the timestamps pass through
	// unchanged.
	SourceInput       handle.Handle
	SourceStreamIndex int
}

// WritePacket hands one packet to the muxer, rescaling its pts, dts and
// duration into the destination stream's time base first. The caller's
// packet is left untouched; the rescale happens on a reference.
func (s *Session) WritePacket(
	ctx context.Context,
	outputH handle.Handle,
	packetH handle.Handle,
	streamIndex int,
	opts WritePacketOptions,
) (_err error) {
	logger.Tracef(ctx, "WritePacket(ctx, %d, %d, %d, %#+v)", outputH, packetH, streamIndex, opts)
	defer func() {
		logger.Tracef(ctx, "/WritePacket(ctx, %d, %d, %d, %#+v): %v", outputH, packetH, streamIndex, opts, _err)
	}()
	out, err := handle.Lookup[*output](ctx, s.handles, outputH, handle.KindOutputFormat)
	if err != nil {
		return err
	}
	if !out.headerWritten {
		return fmt.Errorf("the header was not written, yet")
	}
	pkt, err := handle.Lookup[*astiav.Packet](ctx, s.handles, packetH, handle.KindPacket)
	if err != nil {
		return err
	}
	outputStream, err := streamByIndex(out.formatContext, streamIndex)
	if err != nil {
		return err
	}

	clone := s.scratchPackets.Get()
	defer s.scratchPackets.Put(clone)
	if err := clone.Ref(pkt); err != nil {
		return fmt.Errorf("unable to ref the packet: %w", err)
	}
	clone.SetStreamIndex(streamIndex)

	sourceTimeBase, ok, err := s.sourceTimeBase(ctx, outputH, streamIndex, opts)
	if err != nil {
		return err
	}
	if ok {
		rescalePacketForWrite(ctx, clone, sourceTimeBase, outputStream.TimeBase())
	}

	if err := out.formatContext.WriteInterleavedFrame(clone); err != nil {
		return fmt.Errorf("unable to write the packet: %w", err)
	}
	return nil
}

func (s *Session) sourceTimeBase(
	ctx context.Context,
	outputH handle.Handle,
	streamIndex int,
	opts WritePacketOptions,
) (astiav.Rational, bool, error) {
	if opts.SourceInput != handle.None {
		in, err := handle.Lookup[*input](ctx, s.handles, opts.SourceInput, handle.KindInputFormat)
		if err != nil {
			return astiav.Rational{}, false, err
		}
		sourceStream, err := streamByIndex(in.formatContext, opts.SourceStreamIndex)
		if err != nil {
			return astiav.Rational{}, false, err
		}
		return sourceStream.TimeBase(), true, nil
	}
	if timeBase, ok := s.handles.StreamTimeBase(ctx, outputH, streamIndex); ok {
		return timeBase, true, nil
	}
	return astiav.Rational{}, false, nil
}

// rescalePacketForWrite converts pts, dts and duration from src to dst
// with exact rational arithmetic, all-or-nothing. A zero src means the
// source resolution is unknown and the packet passes through unchanged.
func rescalePacketForWrite(ctx context.Context, pkt *astiav.Packet, src astiav.Rational, dst astiav.Rational) {
	internal.Assert(ctx, pkt != nil)
	if src.Num() == 0 || src.Den() == 0 {
		return
	}
	pkt.RescaleTs(src, dst)
}
