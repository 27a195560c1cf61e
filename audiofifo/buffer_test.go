package audiofifo

import (
	"context"
	"testing"

	"github.com/asticode/go-astiav"
	"github.com/stretchr/testify/require"
)

const testSampleSize = 4 // SampleFormatFlt

func newTestBuffer(t *testing.T, nbSamples int) *Buffer {
	t.Helper()
	ctx := context.Background()
	b, err := New(ctx, astiav.SampleFormatFlt, 1, nbSamples)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, b.Close(ctx)) })
	return b
}

func buildMonoFrame(t *testing.T, payload []byte) *astiav.Frame {
	t.Helper()
	require.Zero(t, len(payload)%testSampleSize)
	f := astiav.AllocFrame()
	require.NotNil(t, f)
	t.Cleanup(f.Free)
	f.SetSampleFormat(astiav.SampleFormatFlt)
	f.SetChannelLayout(astiav.ChannelLayoutMono)
	f.SetNbSamples(len(payload) / testSampleSize)
	require.NoError(t, f.AllocBuffer(0))
	require.NoError(t, f.MakeWritable())
	require.NoError(t, f.Data().SetBytes(payload, 1))
	return f
}

func readSamples(t *testing.T, b *Buffer, nbSamples int) []byte {
	t.Helper()
	ctx := context.Background()
	f := astiav.AllocFrame()
	require.NotNil(t, f)
	t.Cleanup(f.Free)
	f.SetSampleFormat(astiav.SampleFormatFlt)
	f.SetChannelLayout(astiav.ChannelLayoutMono)
	f.SetNbSamples(nbSamples)
	require.NoError(t, f.AllocBuffer(0))

	n, err := b.ReadFrame(ctx, f, nbSamples)
	require.NoError(t, err)
	if n == 0 {
		return nil
	}

	size, err := f.SamplesBufferSize(1)
	require.NoError(t, err)
	buf := make([]byte, size)
	_, err = f.SamplesCopyToBuffer(buf, 1)
	require.NoError(t, err)
	return buf
}

func bytePattern(offset, n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte((offset + i) % 251)
	}
	return buf
}

func TestBufferFIFOOrdering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newTestBuffer(t, 4096)

	first := bytePattern(0, 500*testSampleSize)
	second := bytePattern(500*testSampleSize, 600*testSampleSize)

	n, err := b.WriteFrame(ctx, buildMonoFrame(t, first))
	require.NoError(t, err)
	require.Equal(t, 500, n)
	n, err = b.WriteFrame(ctx, buildMonoFrame(t, second))
	require.NoError(t, err)
	require.Equal(t, 600, n)
	require.Equal(t, 1100, b.Size())

	got := readSamples(t, b, 1024)
	require.Len(t, got, 1024*testSampleSize)
	expected := append(append([]byte{}, first...), second...)
	require.Equal(t, expected[:1024*testSampleSize], got)
	require.Equal(t, 76, b.Size())

	rest := readSamples(t, b, 1024)
	require.Len(t, rest, 76*testSampleSize)
	require.Equal(t, expected[1024*testSampleSize:], rest)
	require.Equal(t, 0, b.Size())
}

func TestBufferGrowthPreservesData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newTestBuffer(t, 1024)

	payload := bytePattern(0, 2000*testSampleSize)
	n, err := b.WriteFrame(ctx, buildMonoFrame(t, payload))
	require.NoError(t, err)
	require.Equal(t, 2000, n)
	require.Equal(t, 2000, b.Size())

	got := readSamples(t, b, 2000)
	require.Equal(t, payload, got)
}

func TestBufferFormatMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newTestBuffer(t, 64)

	f := astiav.AllocFrame()
	require.NotNil(t, f)
	t.Cleanup(f.Free)
	f.SetSampleFormat(astiav.SampleFormatS16)
	f.SetChannelLayout(astiav.ChannelLayoutMono)
	f.SetNbSamples(16)
	require.NoError(t, f.AllocBuffer(0))

	_, err := b.WriteFrame(ctx, f)
	var mismatch ErrFormatMismatch
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, astiav.SampleFormatFlt, mismatch.ExpectedFormat)
	require.Equal(t, astiav.SampleFormatS16, mismatch.ActualFormat)

	_, err = b.ReadFrame(ctx, f, 16)
	require.ErrorAs(t, err, &mismatch)
}

func TestBufferPartialRead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newTestBuffer(t, 64)

	payload := bytePattern(0, 10*testSampleSize)
	_, err := b.WriteFrame(ctx, buildMonoFrame(t, payload))
	require.NoError(t, err)

	got := readSamples(t, b, 100)
	require.Len(t, got, 10*testSampleSize)
	require.Equal(t, payload, got)
	require.Equal(t, 0, b.Size())

	require.Empty(t, readSamples(t, b, 100))
}

func TestBufferDrainAndReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newTestBuffer(t, 64)

	payload := bytePattern(0, 100*testSampleSize)
	_, err := b.WriteFrame(ctx, buildMonoFrame(t, payload))
	require.NoError(t, err)

	require.NoError(t, b.Drain(ctx, 30))
	require.Equal(t, 70, b.Size())

	got := readSamples(t, b, 10)
	require.Equal(t, payload[30*testSampleSize:40*testSampleSize], got)

	require.NoError(t, b.Reset(ctx))
	require.Equal(t, 0, b.Size())
}
