package session

import (
	"testing"

	"github.com/asticode/go-astiav"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avatomic/handle"
)

func TestRescalePacket(t *testing.T) {
	t.Parallel()
	s, ctx := newTestSession(t)

	newPacket := func(t *testing.T, pts, dts, duration int64) handle.Handle {
		packetH, err := s.AllocPacket(ctx)
		require.NoError(t, err)
		require.NoError(t, s.SetPacketProperty(ctx, packetH, "pts", pts))
		require.NoError(t, s.SetPacketProperty(ctx, packetH, "dts", dts))
		require.NoError(t, s.SetPacketProperty(ctx, packetH, "duration", duration))
		return packetH
	}
	prop := func(t *testing.T, packetH handle.Handle, key string) int64 {
		v, err := s.PacketProperty(ctx, packetH, key)
		require.NoError(t, err)
		return v
	}

	t.Run("MillisToMicros", func(t *testing.T) {
		packetH := newPacket(t, 100, 90, 40)
		require.NoError(t, s.RescalePacket(ctx, packetH, astiav.NewRational(1, 1000), astiav.NewRational(1, 1000000)))
		require.Equal(t, int64(100000), prop(t, packetH, "pts"))
		require.Equal(t, int64(90000), prop(t, packetH, "dts"))
		require.Equal(t, int64(40000), prop(t, packetH, "duration"))
	})

	t.Run("Identity", func(t *testing.T) {
		packetH := newPacket(t, 100, 90, 40)
		require.NoError(t, s.RescalePacket(ctx, packetH, astiav.NewRational(1, 1000), astiav.NewRational(1, 1000)))
		require.Equal(t, int64(100), prop(t, packetH, "pts"))
		require.Equal(t, int64(90), prop(t, packetH, "dts"))
	})

	t.Run("ZeroSourcePassesThrough", func(t *testing.T) {
		packetH := newPacket(t, 100, 90, 40)
		require.NoError(t, s.RescalePacket(ctx, packetH, astiav.NewRational(0, 0), astiav.NewRational(1, 1000000)))
		require.Equal(t, int64(100), prop(t, packetH, "pts"))
		require.Equal(t, int64(90), prop(t, packetH, "dts"))
		require.Equal(t, int64(40), prop(t, packetH, "duration"))
	})

	t.Run("Downscale", func(t *testing.T) {
		packetH := newPacket(t, 90000, 90000, 3000)
		require.NoError(t, s.RescalePacket(ctx, packetH, astiav.NewRational(1, 90000), astiav.NewRational(1, 1000)))
		require.Equal(t, int64(1000), prop(t, packetH, "pts"))
	})
}
