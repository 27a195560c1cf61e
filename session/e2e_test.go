package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/asticode/go-astiav"
	"github.com/stretchr/testify/require"
)

func TestContainerRoundtrip(t *testing.T) {
	t.Parallel()
	s, ctx := newTestSession(t)

	url := filepath.Join(t.TempDir(), "roundtrip.mkv")
	const frameCount = 25

	outputH, err := s.CreateOutput(ctx, url, "matroska")
	require.NoError(t, err)

	encoderH := newTestVideoEncoder(t, s, ctx)
	streamIndex, err := s.AddStream(ctx, outputH)
	require.NoError(t, err)
	require.Zero(t, streamIndex)
	require.NoError(t, s.CopyEncoderParameters(ctx, encoderH, outputH, streamIndex))
	require.NoError(t, s.SetMetadata(ctx, outputH, "title", "roundtrip"))
	require.NoError(t, s.WriteHeader(ctx, outputH))

	err = s.SetMetadata(ctx, outputH, "artist", "too late")
	require.Error(t, err)

	frameH := newTestVideoFrame(t, s, ctx)
	packetH, err := s.AllocPacket(ctx)
	require.NoError(t, err)

	writePending := func() {
		for {
			status, err := s.ReceivePacket(ctx, encoderH, packetH)
			require.NoError(t, err)
			if status != StatusOK {
				break
			}
			require.NoError(t, s.WritePacket(ctx, outputH, packetH, streamIndex, WritePacketOptions{}))
		}
	}
	for i := 0; i < frameCount; i++ {
		paintTestVideoFrame(t, s, ctx, frameH, byte(i+1))
		require.NoError(t, s.SetFrameProperty(ctx, frameH, "pts", int64(i)))
		status, err := s.SendFrame(ctx, encoderH, frameH)
		require.NoError(t, err)
		require.Equal(t, StatusOK, status)
		writePending()
	}
	_, err = s.FlushEncoder(ctx, encoderH)
	require.NoError(t, err)
	writePending()

	require.NoError(t, s.WriteTrailer(ctx, outputH))
	require.NoError(t, s.CloseHandle(ctx, outputH))
	require.NoError(t, s.CloseHandle(ctx, encoderH))

	inputH, err := s.OpenInput(ctx, url)
	require.NoError(t, err)

	streamCount, err := s.StreamCount(ctx, inputH)
	require.NoError(t, err)
	require.Equal(t, 1, streamCount)

	info, err := s.StreamInfo(ctx, inputH, 0)
	require.NoError(t, err)
	require.Equal(t, astiav.MediaTypeVideo, info.MediaType)
	require.Equal(t, 64, info.Width)
	require.Equal(t, 48, info.Height)

	metadata, err := s.Metadata(ctx, inputH)
	require.NoError(t, err)
	require.Equal(t, "roundtrip", metadata["title"])

	duration, err := s.Duration(ctx, inputH)
	require.NoError(t, err)
	require.Greater(t, duration, int64(0))

	countPackets := func() int {
		var packets int
		for {
			status, err := s.ReadPacket(ctx, inputH, packetH)
			require.NoError(t, err)
			if status != StatusOK {
				require.Equal(t, StatusEndOfStream, status)
				break
			}
			packets++
		}
		return packets
	}
	require.Equal(t, frameCount, countPackets())

	require.NoError(t, s.Seek(ctx, inputH, 0, 0))
	require.Equal(t, frameCount, countPackets())

	require.NoError(t, s.CloseHandle(ctx, inputH))
}

func TestRemuxPreservesTimestamps(t *testing.T) {
	t.Parallel()
	s, ctx := newTestSession(t)

	srcURL := filepath.Join(t.TempDir(), "src.mkv")
	dstURL := filepath.Join(t.TempDir(), "dst.mkv")
	const frameCount = 10

	writeTestFile(t, s, ctx, srcURL, frameCount)

	inputH, err := s.OpenInput(ctx, srcURL)
	require.NoError(t, err)
	outputH, err := s.CreateOutput(ctx, dstURL, "matroska")
	require.NoError(t, err)
	streamIndex, err := s.AddStream(ctx, outputH)
	require.NoError(t, err)
	require.NoError(t, s.CopyStreamParameters(ctx, inputH, outputH, 0, streamIndex))
	require.NoError(t, s.CopyMetadata(ctx, inputH, outputH))
	require.NoError(t, s.WriteHeader(ctx, outputH))

	packetH, err := s.AllocPacket(ctx)
	require.NoError(t, err)
	var remuxed int
	for {
		status, err := s.ReadPacket(ctx, inputH, packetH)
		require.NoError(t, err)
		if status != StatusOK {
			break
		}
		require.NoError(t, s.WritePacket(ctx, outputH, packetH, streamIndex, WritePacketOptions{
			SourceInput:       inputH,
			SourceStreamIndex: 0,
		}))
		remuxed++
	}
	require.Equal(t, frameCount, remuxed)
	require.NoError(t, s.WriteTrailer(ctx, outputH))
	require.NoError(t, s.CloseHandle(ctx, outputH))

	dstInputH, err := s.OpenInput(ctx, dstURL)
	require.NoError(t, err)
	var lastDts int64 = -1
	for {
		status, err := s.ReadPacket(ctx, dstInputH, packetH)
		require.NoError(t, err)
		if status != StatusOK {
			break
		}
		dts, err := s.PacketProperty(ctx, packetH, "dts")
		require.NoError(t, err)
		require.Greater(t, dts, lastDts)
		lastDts = dts
	}
}

func writeTestFile(t *testing.T, s *Session, ctx context.Context, url string, frameCount int) {
	outputH, err := s.CreateOutput(ctx, url, "matroska")
	require.NoError(t, err)
	encoderH := newTestVideoEncoder(t, s, ctx)
	streamIndex, err := s.AddStream(ctx, outputH)
	require.NoError(t, err)
	require.NoError(t, s.CopyEncoderParameters(ctx, encoderH, outputH, streamIndex))
	require.NoError(t, s.SetMetadata(ctx, outputH, "title", "remux source"))
	require.NoError(t, s.WriteHeader(ctx, outputH))

	frameH := newTestVideoFrame(t, s, ctx)
	packetH, err := s.AllocPacket(ctx)
	require.NoError(t, err)
	writePending := func() {
		for {
			status, err := s.ReceivePacket(ctx, encoderH, packetH)
			require.NoError(t, err)
			if status != StatusOK {
				break
			}
			require.NoError(t, s.WritePacket(ctx, outputH, packetH, streamIndex, WritePacketOptions{}))
		}
	}
	for i := 0; i < frameCount; i++ {
		paintTestVideoFrame(t, s, ctx, frameH, byte(i+1))
		require.NoError(t, s.SetFrameProperty(ctx, frameH, "pts", int64(i)))
		status, err := s.SendFrame(ctx, encoderH, frameH)
		require.NoError(t, err)
		require.Equal(t, StatusOK, status)
		writePending()
	}
	_, err = s.FlushEncoder(ctx, encoderH)
	require.NoError(t, err)
	writePending()
	require.NoError(t, s.WriteTrailer(ctx, outputH))
	require.NoError(t, s.CloseHandle(ctx, outputH))
	require.NoError(t, s.CloseHandle(ctx, encoderH))
	require.NoError(t, s.CloseHandle(ctx, frameH))
	require.NoError(t, s.CloseHandle(ctx, packetH))
}
