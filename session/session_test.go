package session

import (
	"context"
	"testing"

	"github.com/asticode/go-astiav"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avatomic/handle"
)

func newTestSession(t *testing.T) (*Session, context.Context) {
	ctx := context.Background()
	s := New(ctx, Config{})
	t.Cleanup(func() { require.NoError(t, s.Close(ctx)) })
	return s, ctx
}

func TestSessionKindSafety(t *testing.T) {
	t.Parallel()
	s, ctx := newTestSession(t)

	frameH, err := s.AllocFrame(ctx)
	require.NoError(t, err)

	_, err = s.SendPacket(ctx, frameH, handle.None)
	require.Error(t, err)
	require.True(t, IsInvalidHandle(err))

	_, err = s.ReadPacket(ctx, frameH, handle.None)
	require.Error(t, err)
	require.True(t, IsInvalidHandle(err))

	err = s.WriteHeader(ctx, frameH)
	require.Error(t, err)
	require.True(t, IsInvalidHandle(err))
}

func TestSessionCloseHandleTwice(t *testing.T) {
	t.Parallel()
	s, ctx := newTestSession(t)

	frameH, err := s.AllocFrame(ctx)
	require.NoError(t, err)
	require.NoError(t, s.CloseHandle(ctx, frameH))

	err = s.CloseHandle(ctx, frameH)
	require.Error(t, err)
	require.True(t, IsInvalidHandle(err))
}

func TestSessionClosedSessionRejectsAllocations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(ctx, Config{})
	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))

	_, err := s.AllocFrame(ctx)
	require.Error(t, err)
	_, err = s.AllocPacket(ctx)
	require.Error(t, err)
	_, err = s.OpenInput(ctx, "/dev/null")
	require.Error(t, err)
	_, err = s.CreateEncoder(ctx, "mpeg4")
	require.Error(t, err)
}

func TestSessionHandleCapacity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(ctx, Config{MaxHandles: 2})
	t.Cleanup(func() { require.NoError(t, s.Close(ctx)) })

	h1, err := s.AllocFrame(ctx)
	require.NoError(t, err)
	_, err = s.AllocFrame(ctx)
	require.NoError(t, err)

	_, err = s.AllocFrame(ctx)
	require.Error(t, err)
	var capErr handle.ErrCapacityExhausted
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, 2, capErr.Capacity)

	require.NoError(t, s.CloseHandle(ctx, h1))
	h3, err := s.AllocFrame(ctx)
	require.NoError(t, err)
	require.Greater(t, h3, h1)
}

func TestFramePropertyRoundtrip(t *testing.T) {
	t.Parallel()
	s, ctx := newTestSession(t)

	frameH, err := s.AllocFrame(ctx)
	require.NoError(t, err)

	require.NoError(t, s.SetFrameProperty(ctx, frameH, "width", 320))
	require.NoError(t, s.SetFrameProperty(ctx, frameH, "height", 240))
	require.NoError(t, s.SetFramePixelFormat(ctx, frameH, "yuv420p"))
	require.NoError(t, s.SetFrameProperty(ctx, frameH, "pts", 42))

	for key, expected := range map[string]int64{
		"width":  320,
		"height": 240,
		"pts":    42,
	} {
		v, err := s.FrameProperty(ctx, frameH, key)
		require.NoError(t, err, key)
		require.Equal(t, expected, v, key)
	}

	require.NoError(t, s.SetFrameProperty(ctx, frameH, "pict_type", int64(astiav.PictureTypeI)))
	pictType, err := s.FrameProperty(ctx, frameH, "pict_type")
	require.NoError(t, err)
	require.Equal(t, int64(astiav.PictureTypeI), pictType)

	require.NoError(t, s.SetFrameProperty(ctx, frameH, "key_frame", 1))
	keyFrame, err := s.FrameProperty(ctx, frameH, "key_frame")
	require.NoError(t, err)
	require.Equal(t, int64(1), keyFrame)
	require.NoError(t, s.SetFrameProperty(ctx, frameH, "key_frame", 0))
	keyFrame, err = s.FrameProperty(ctx, frameH, "key_frame")
	require.NoError(t, err)
	require.Zero(t, keyFrame)

	_, err = s.FrameProperty(ctx, frameH, "no_such_property")
	require.Error(t, err)
}

func TestVideoFramePlanes(t *testing.T) {
	t.Parallel()
	s, ctx := newTestSession(t)

	frameH, err := s.AllocFrame(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetFrameProperty(ctx, frameH, "width", 64))
	require.NoError(t, s.SetFrameProperty(ctx, frameH, "height", 48))
	require.NoError(t, s.SetFramePixelFormat(ctx, frameH, "yuv420p"))
	require.NoError(t, s.AllocFrameBuffer(ctx, frameH, 1))

	luma := make([]byte, 64*48)
	for i := range luma {
		luma[i] = byte(i)
	}
	require.NoError(t, s.SetFramePlane(ctx, frameH, 0, luma))

	got, err := s.FramePlane(ctx, frameH, 0)
	require.NoError(t, err)
	require.Equal(t, luma, got)

	chroma, err := s.FramePlane(ctx, frameH, 1)
	require.NoError(t, err)
	require.Len(t, chroma, 64*48/4)

	err = s.SetFramePlane(ctx, frameH, 0, luma[:10])
	var sizeErr ErrBufferSizeMismatch
	require.ErrorAs(t, err, &sizeErr)
	require.Equal(t, 64*48, sizeErr.Expected)
	require.Equal(t, 10, sizeErr.Actual)

	_, err = s.FramePlane(ctx, frameH, 3)
	require.Error(t, err)
}

func TestAudioFramePlanes(t *testing.T) {
	t.Parallel()
	s, ctx := newTestSession(t)

	frameH, err := s.AllocFrame(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetFrameSampleFormat(ctx, frameH, "fltp"))
	require.NoError(t, s.SetFrameProperty(ctx, frameH, "channels", 2))
	require.NoError(t, s.SetFrameProperty(ctx, frameH, "sample_rate", 48000))
	require.NoError(t, s.SetFrameProperty(ctx, frameH, "nb_samples", 256))
	require.NoError(t, s.AllocFrameBuffer(ctx, frameH, 1))

	left := make([]byte, 256*4)
	for i := range left {
		left[i] = byte(i * 3)
	}
	require.NoError(t, s.SetFramePlane(ctx, frameH, 0, left))

	got, err := s.FramePlane(ctx, frameH, 0)
	require.NoError(t, err)
	require.Equal(t, left, got)

	right, err := s.FramePlane(ctx, frameH, 1)
	require.NoError(t, err)
	require.Len(t, right, 256*4)

	_, err = s.FramePlane(ctx, frameH, 2)
	require.Error(t, err)
}

func TestPacketDataRoundtrip(t *testing.T) {
	t.Parallel()
	s, ctx := newTestSession(t)

	packetH, err := s.AllocPacket(ctx)
	require.NoError(t, err)

	payload := []byte("some compressed bytes")
	require.NoError(t, s.SetPacketData(ctx, packetH, payload))

	got, err := s.PacketData(ctx, packetH)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	size, err := s.PacketProperty(ctx, packetH, "size")
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), size)

	payload[0] = 'X'
	got2, err := s.PacketData(ctx, packetH)
	require.NoError(t, err)
	require.Equal(t, byte('s'), got2[0])

	require.NoError(t, s.SetPacketProperty(ctx, packetH, "pts", 100))
	require.NoError(t, s.SetPacketProperty(ctx, packetH, "dts", 90))
	pts, err := s.PacketProperty(ctx, packetH, "pts")
	require.NoError(t, err)
	require.Equal(t, int64(100), pts)

	keyFlags := int64(astiav.PacketFlags(0).Add(astiav.PacketFlagKey))
	require.NoError(t, s.SetPacketProperty(ctx, packetH, "flags", keyFlags))
	flags, err := s.PacketProperty(ctx, packetH, "flags")
	require.NoError(t, err)
	require.Equal(t, keyFlags, flags)
	isKey, err := s.PacketProperty(ctx, packetH, "is_key")
	require.NoError(t, err)
	require.Equal(t, int64(1), isKey)

	require.NoError(t, s.UnrefPacket(ctx, packetH))
	size, err = s.PacketProperty(ctx, packetH, "size")
	require.NoError(t, err)
	require.Zero(t, size)
}

func TestCloneFrameIsIndependent(t *testing.T) {
	t.Parallel()
	s, ctx := newTestSession(t)

	frameH, err := s.AllocFrame(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetFrameProperty(ctx, frameH, "width", 16))
	require.NoError(t, s.SetFrameProperty(ctx, frameH, "height", 16))
	require.NoError(t, s.SetFramePixelFormat(ctx, frameH, "gray8"))
	require.NoError(t, s.AllocFrameBuffer(ctx, frameH, 1))

	plane := make([]byte, 16*16)
	for i := range plane {
		plane[i] = 0x55
	}
	require.NoError(t, s.SetFramePlane(ctx, frameH, 0, plane))

	cloneH, err := s.CloneFrame(ctx, frameH)
	require.NoError(t, err)
	require.NotEqual(t, frameH, cloneH)

	require.NoError(t, s.CloseHandle(ctx, frameH))

	got, err := s.FramePlane(ctx, cloneH, 0)
	require.NoError(t, err)
	require.Equal(t, plane, got)
}

func TestIntrospection(t *testing.T) {
	t.Parallel()
	s, ctx := newTestSession(t)

	encoders := s.AvailableEncoders(ctx)
	require.Contains(t, encoders, "mpeg4")

	formats := s.AvailableOutputFormats(ctx)
	require.Contains(t, formats, "matroska")

	pixelFormats, err := s.EncoderPixelFormats(ctx, "mpeg4")
	require.NoError(t, err)
	require.Contains(t, pixelFormats, "yuv420p")

	_, err = s.EncoderPixelFormats(ctx, "no-such-codec")
	require.Error(t, err)
}
