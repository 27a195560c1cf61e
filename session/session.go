// Package session exposes the multimedia engine to a host-side pipeline
// driver through a flat, handle-based surface. The session owns every
// native object allocated through it; the host only ever sees integer
// handles and plain values.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avatomic/handle"
	"github.com/xaionaro-go/avatomic/helpers/closuresignaler"
	"github.com/xaionaro-go/avatomic/logger"
	"github.com/xaionaro-go/avatomic/pool"
)

const (
	DefaultMaxHandles      = 8192
	DefaultMaxAudioBuffers = 1024
)

type Config struct {
	// MaxHandles bounds the amount of simultaneously live handles of all
	// kinds except audio buffers.
	MaxHandles int
	// MaxAudioBuffers bounds the amount of simultaneously live audio
	// buffers; they live in their own, smaller table.
	MaxAudioBuffers int
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxHandles <= 0 {
		cfg.MaxHandles = DefaultMaxHandles
	}
	if cfg.MaxAudioBuffers <= 0 {
		cfg.MaxAudioBuffers = DefaultMaxAudioBuffers
	}
	return cfg
}

// Session is the context object all operations hang off. It is designed
// to be driven by one goroutine at a time: every operation is a direct,
// synchronous call into the engine and runs to completion or failure,
// no operation spawns goroutines or supports cancellation mid-call.
// Multiple independent sessions can coexist in one process.
type Session struct {
	*closuresignaler.ClosureSignaler

	cfg     Config
	handles *handle.Table
	audio   *handle.Table

	scratchPackets *pool.Pool[astiav.Packet]
}

func New(ctx context.Context, cfg Config) *Session {
	cfg = cfg.withDefaults()
	logger.Debugf(ctx, "New: %#+v", cfg)
	return &Session{
		ClosureSignaler: closuresignaler.New(),
		cfg:             cfg,
		handles:         handle.NewTable(cfg.MaxHandles),
		audio:           handle.NewTable(cfg.MaxAudioBuffers),
		scratchPackets: pool.NewPool(
			astiav.AllocPacket,
			func(p *astiav.Packet) { p.Unref() },
			func(p *astiav.Packet) { p.Free() },
		),
	}
}

func (s *Session) checkOpen() error {
	if s.IsClosed() {
		return fmt.Errorf("the session is closed")
	}
	return nil
}

// CloseHandle releases the native object behind h, whatever its kind.
// Audio buffers have their own handle space and are released via
// FreeAudioBuffer instead.
func (s *Session) CloseHandle(ctx context.Context, h handle.Handle) (_err error) {
	logger.Debugf(ctx, "CloseHandle(ctx, %d)", h)
	defer func() { logger.Debugf(ctx, "/CloseHandle(ctx, %d): %v", h, _err) }()
	return s.handles.Release(ctx, h)
}

// HandleCount reports the amount of live handles in the main table.
func (s *Session) HandleCount(ctx context.Context) int {
	return s.handles.Count(ctx)
}

// Close releases every live handle of the session. Outputs whose header
// was written get their trailer written on the way down. Close is
// idempotent.
func (s *Session) Close(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close: %v", _err) }()
	if s.IsClosed() {
		return nil
	}
	s.ClosureSignaler.Close(ctx)
	s.handles.ReleaseAll(ctx)
	s.audio.ReleaseAll(ctx)
	return nil
}

func (s *Session) formatContextOf(
	ctx context.Context,
	h handle.Handle,
) (*astiav.FormatContext, error) {
	kind, err := s.handles.KindOf(ctx, h)
	if err != nil {
		return nil, err
	}
	switch kind {
	case handle.KindInputFormat:
		in, err := handle.Lookup[*input](ctx, s.handles, h, handle.KindInputFormat)
		if err != nil {
			return nil, err
		}
		return in.formatContext, nil
	case handle.KindOutputFormat:
		out, err := handle.Lookup[*output](ctx, s.handles, h, handle.KindOutputFormat)
		if err != nil {
			return nil, err
		}
		return out.formatContext, nil
	}
	return nil, handle.ErrInvalidHandle{Handle: h, Expected: handle.KindInputFormat, Actual: kind}
}

func streamByIndex(formatContext *astiav.FormatContext, streamIndex int) (*astiav.Stream, error) {
	for _, stream := range formatContext.Streams() {
		if stream.Index() == streamIndex {
			return stream, nil
		}
	}
	return nil, fmt.Errorf("no stream with index %d", streamIndex)
}

// IsInvalidHandle reports whether err was caused by an unknown, freed
// or wrongly-kinded handle.
func IsInvalidHandle(err error) bool {
	var invalid handle.ErrInvalidHandle
	return errors.As(err, &invalid)
}
