package session

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avatomic/handle"
	"github.com/xaionaro-go/avatomic/logger"
)

// SendPacket feeds one compressed packet into a decoder. A nil packet
// handle signals end of stream (equivalent to FlushDecoder).
func (s *Session) SendPacket(
	ctx context.Context,
	decoderH handle.Handle,
	packetH handle.Handle,
) (_ret Status, _err error) {
	logger.Tracef(ctx, "SendPacket(ctx, %d, %d)", decoderH, packetH)
	defer func() { logger.Tracef(ctx, "/SendPacket(ctx, %d, %d): %v %v", decoderH, packetH, _ret, _err) }()
	dec, err := handle.Lookup[*decoder](ctx, s.handles, decoderH, handle.KindDecoder)
	if err != nil {
		return StatusFailed, err
	}
	var pkt *astiav.Packet
	if packetH != handle.None {
		pkt, err = handle.Lookup[*astiav.Packet](ctx, s.handles, packetH, handle.KindPacket)
		if err != nil {
			return StatusFailed, err
		}
	}
	if err := dec.codecContext.SendPacket(pkt); err != nil {
		if status := statusFromError(err); status != StatusFailed {
			return status, nil
		}
		return StatusFailed, fmt.Errorf("the decoder rejected the packet: %w", err)
	}
	return StatusOK, nil
}

// ReceiveFrame pulls one decoded frame out of a decoder into the given
// frame. StatusWouldBlock means the decoder needs more input;
// StatusEndOfStream means the decoder is fully drained.
func (s *Session) ReceiveFrame(
	ctx context.Context,
	decoderH handle.Handle,
	frameH handle.Handle,
) (_ret Status, _err error) {
	logger.Tracef(ctx, "ReceiveFrame(ctx, %d, %d)", decoderH, frameH)
	defer func() { logger.Tracef(ctx, "/ReceiveFrame(ctx, %d, %d): %v %v", decoderH, frameH, _ret, _err) }()
	dec, err := handle.Lookup[*decoder](ctx, s.handles, decoderH, handle.KindDecoder)
	if err != nil {
		return StatusFailed, err
	}
	f, err := handle.Lookup[*astiav.Frame](ctx, s.handles, frameH, handle.KindFrame)
	if err != nil {
		return StatusFailed, err
	}
	f.Unref()
	if err := dec.codecContext.ReceiveFrame(f); err != nil {
		if status := statusFromError(err); status != StatusFailed {
			return status, nil
		}
		return StatusFailed, fmt.Errorf("unable to receive a frame: %w", err)
	}
	return StatusOK, nil
}

// SendFrame feeds one raw frame into an encoder. A nil frame handle
// signals end of stream (equivalent to FlushEncoder).
//
// Frames with an unset PTS get a synthetic monotonic one; the picture
// type is always reset so the encoder decides the frame type itself.
func (s *Session) SendFrame(
	ctx context.Context,
	encoderH handle.Handle,
	frameH handle.Handle,
) (_ret Status, _err error) {
	logger.Tracef(ctx, "SendFrame(ctx, %d, %d)", encoderH, frameH)
	defer func() { logger.Tracef(ctx, "/SendFrame(ctx, %d, %d): %v %v", encoderH, frameH, _ret, _err) }()
	enc, err := handle.Lookup[*encoder](ctx, s.handles, encoderH, handle.KindEncoder)
	if err != nil {
		return StatusFailed, err
	}
	if !enc.opened {
		return StatusFailed, fmt.Errorf("the encoder is not opened")
	}
	var f *astiav.Frame
	if frameH != handle.None {
		f, err = handle.Lookup[*astiav.Frame](ctx, s.handles, frameH, handle.KindFrame)
		if err != nil {
			return StatusFailed, err
		}
		if f.Pts() == astiav.NoPtsValue {
			f.SetPts(enc.frameCounter)
			enc.frameCounter++
		} else {
			enc.frameCounter = f.Pts() + 1
		}
		f.SetPictureType(astiav.PictureTypeNone)
	}
	if err := enc.codecContext.SendFrame(f); err != nil {
		if status := statusFromError(err); status != StatusFailed {
			return status, nil
		}
		return StatusFailed, fmt.Errorf("the encoder rejected the frame: %w", err)
	}
	return StatusOK, nil
}

// ReceivePacket pulls one encoded packet out of an encoder into the
// given packet. StatusWouldBlock means the encoder needs more input;
// StatusEndOfStream means the encoder is fully drained.
func (s *Session) ReceivePacket(
	ctx context.Context,
	encoderH handle.Handle,
	packetH handle.Handle,
) (_ret Status, _err error) {
	logger.Tracef(ctx, "ReceivePacket(ctx, %d, %d)", encoderH, packetH)
	defer func() { logger.Tracef(ctx, "/ReceivePacket(ctx, %d, %d): %v %v", encoderH, packetH, _ret, _err) }()
	enc, err := handle.Lookup[*encoder](ctx, s.handles, encoderH, handle.KindEncoder)
	if err != nil {
		return StatusFailed, err
	}
	if !enc.opened {
		return StatusFailed, fmt.Errorf("the encoder is not opened")
	}
	pkt, err := handle.Lookup[*astiav.Packet](ctx, s.handles, packetH, handle.KindPacket)
	if err != nil {
		return StatusFailed, err
	}
	pkt.Unref()
	if err := enc.codecContext.ReceivePacket(pkt); err != nil {
		if status := statusFromError(err); status != StatusFailed {
			return status, nil
		}
		return StatusFailed, fmt.Errorf("unable to receive a packet: %w", err)
	}
	return StatusOK, nil
}

// FlushDecoder enters the draining mode of a decoder: subsequent
// ReceiveFrame calls return the buffered frames and finally
// StatusEndOfStream.
func (s *Session) FlushDecoder(
	ctx context.Context,
	decoderH handle.Handle,
) (Status, error) {
	logger.Debugf(ctx, "FlushDecoder(ctx, %d)", decoderH)
	return s.SendPacket(ctx, decoderH, handle.None)
}

// FlushEncoder enters the draining mode of an encoder: subsequent
// ReceivePacket calls return the buffered packets and finally
// StatusEndOfStream.
func (s *Session) FlushEncoder(
	ctx context.Context,
	encoderH handle.Handle,
) (Status, error) {
	logger.Debugf(ctx, "FlushEncoder(ctx, %d)", encoderH)
	return s.SendFrame(ctx, encoderH, handle.None)
}

// ResetDecoder discards the decoder's internal buffers so the same
// decoder can be reused after a Seek. Unlike FlushDecoder it does not
// end the stream.
func (s *Session) ResetDecoder(
	ctx context.Context,
	decoderH handle.Handle,
) (_err error) {
	logger.Debugf(ctx, "ResetDecoder(ctx, %d)", decoderH)
	defer func() { logger.Debugf(ctx, "/ResetDecoder(ctx, %d): %v", decoderH, _err) }()
	dec, err := handle.Lookup[*decoder](ctx, s.handles, decoderH, handle.KindDecoder)
	if err != nil {
		return err
	}
	dec.codecContext.FlushBuffers()
	return nil
}
