package session

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avatomic/handle"
	"github.com/xaionaro-go/avatomic/logger"
)

// SetPacketProperty sets one packet field.
func (s *Session) SetPacketProperty(
	ctx context.Context,
	packetH handle.Handle,
	key string,
	value int64,
) (_err error) {
	logger.Tracef(ctx, "SetPacketProperty(ctx, %d, '%s', %d)", packetH, key, value)
	defer func() { logger.Tracef(ctx, "/SetPacketProperty(ctx, %d, '%s', %d): %v", packetH, key, value, _err) }()
	pkt, err := handle.Lookup[*astiav.Packet](ctx, s.handles, packetH, handle.KindPacket)
	if err != nil {
		return err
	}
	switch key {
	case "pts":
		pkt.SetPts(value)
	case "dts":
		pkt.SetDts(value)
	case "duration":
		pkt.SetDuration(value)
	case "stream_index":
		pkt.SetStreamIndex(int(value))
	case "flags":
		pkt.SetFlags(astiav.PacketFlags(value))
	default:
		return fmt.Errorf("unknown or read-only packet property '%s'", key)
	}
	return nil
}

// PacketProperty reads one packet field.
func (s *Session) PacketProperty(
	ctx context.Context,
	packetH handle.Handle,
	key string,
) (int64, error) {
	pkt, err := handle.Lookup[*astiav.Packet](ctx, s.handles, packetH, handle.KindPacket)
	if err != nil {
		return 0, err
	}
	switch key {
	case "pts":
		return pkt.Pts(), nil
	case "dts":
		return pkt.Dts(), nil
	case "duration":
		return pkt.Duration(), nil
	case "stream_index":
		return int64(pkt.StreamIndex()), nil
	case "size":
		return int64(pkt.Size()), nil
	case "flags":
		return int64(pkt.Flags()), nil
	case "is_key":
		if pkt.Flags().Has(astiav.PacketFlagKey) {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("unknown packet property '%s'", key)
}

// PacketData returns a copy of the packet payload. The copy keeps the
// caller's slice valid after the packet is unreffed or reused.
func (s *Session) PacketData(
	ctx context.Context,
	packetH handle.Handle,
) ([]byte, error) {
	pkt, err := handle.Lookup[*astiav.Packet](ctx, s.handles, packetH, handle.KindPacket)
	if err != nil {
		return nil, err
	}
	data := pkt.Data()
	result := make([]byte, len(data))
	copy(result, data)
	return result, nil
}

// SetPacketData replaces the packet payload with a copy of the given
// bytes.
func (s *Session) SetPacketData(
	ctx context.Context,
	packetH handle.Handle,
	data []byte,
) (_err error) {
	logger.Tracef(ctx, "SetPacketData(ctx, %d, %d bytes)", packetH, len(data))
	defer func() { logger.Tracef(ctx, "/SetPacketData(ctx, %d, %d bytes): %v", packetH, len(data), _err) }()
	pkt, err := handle.Lookup[*astiav.Packet](ctx, s.handles, packetH, handle.KindPacket)
	if err != nil {
		return err
	}
	pkt.Unref()
	buf := make([]byte, len(data))
	copy(buf, data)
	if err := pkt.FromData(buf); err != nil {
		return fmt.Errorf("unable to set the packet payload: %w", err)
	}
	return nil
}

// UnrefPacket releases the packet payload while keeping the handle
// reusable.
func (s *Session) UnrefPacket(
	ctx context.Context,
	packetH handle.Handle,
) error {
	pkt, err := handle.Lookup[*astiav.Packet](ctx, s.handles, packetH, handle.KindPacket)
	if err != nil {
		return err
	}
	pkt.Unref()
	return nil
}

// RescalePacket converts the packet timestamps between two time bases.
func (s *Session) RescalePacket(
	ctx context.Context,
	packetH handle.Handle,
	src astiav.Rational,
	dst astiav.Rational,
) (_err error) {
	logger.Tracef(ctx, "RescalePacket(ctx, %d, %v, %v)", packetH, src, dst)
	defer func() { logger.Tracef(ctx, "/RescalePacket(ctx, %d, %v, %v): %v", packetH, src, dst, _err) }()
	pkt, err := handle.Lookup[*astiav.Packet](ctx, s.handles, packetH, handle.KindPacket)
	if err != nil {
		return err
	}
	rescalePacketForWrite(ctx, pkt, src, dst)
	return nil
}
