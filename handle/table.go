// Package handle maps small integer handles to native objects of the
// multimedia engine. The table is the single owner of every registered
// object: nothing outside of it is allowed to free one.
package handle

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/avatomic/internal"
	"github.com/xaionaro-go/avatomic/logger"
	"github.com/xaionaro-go/xsync"
)

// Handle references a native object owned by a Table. Zero is never a
// valid handle.
type Handle int64

const None Handle = 0

// Entry is one live slot of a Table.
type Entry struct {
	ID     Handle
	Kind   Kind
	Native any
	free   func()
}

type tableInternals struct {
	capacity  int
	nextID    Handle
	entries   map[Handle]*Entry
	timeBases map[StreamKey]StreamTimeBase
}

// Table holds up to a configured amount of live handles. Handle values
// are monotonically increasing and never reused, so a stale handle
// kept by the host after a release stays invalid instead of aliasing a
// newer object.
type Table struct {
	*tableInternals
	locker xsync.Mutex
}

func NewTable(capacity int) *Table {
	return &Table{
		tableInternals: &tableInternals{
			capacity:  capacity,
			nextID:    1,
			entries:   map[Handle]*Entry{},
			timeBases: map[StreamKey]StreamTimeBase{},
		},
	}
}

// Register takes ownership of native and returns a fresh handle for it.
// free is invoked exactly once, when the handle is released.
func (t *Table) Register(
	ctx context.Context,
	kind Kind,
	native any,
	free func(),
) (Handle, error) {
	return xsync.DoR2(ctx, &t.locker, func() (Handle, error) {
		return t.register(ctx, kind, native, free)
	})
}

func (t *tableInternals) register(
	ctx context.Context,
	kind Kind,
	native any,
	free func(),
) (Handle, error) {
	internal.Assert(ctx, kind > KindUndefined && kind < endOfKind, kind)
	if native == nil {
		return None, fmt.Errorf("refusing to register a nil %s object", kind)
	}
	if len(t.entries) >= t.capacity {
		return None, ErrCapacityExhausted{Capacity: t.capacity}
	}
	id := t.nextID
	t.nextID++
	t.entries[id] = &Entry{
		ID:     id,
		Kind:   kind,
		Native: native,
		free:   free,
	}
	logger.Tracef(ctx, "registered %s as handle %d (%d/%d live)", kind, id, len(t.entries), t.capacity)
	return id, nil
}

// Entry returns the live entry behind h, verifying its kind.
func (t *Table) Entry(
	ctx context.Context,
	h Handle,
	kind Kind,
) (*Entry, error) {
	return xsync.DoR2(ctx, &t.locker, func() (*Entry, error) {
		return t.entry(h, kind)
	})
}

func (t *tableInternals) entry(h Handle, kind Kind) (*Entry, error) {
	e := t.entries[h]
	if e == nil {
		return nil, ErrInvalidHandle{Handle: h, Expected: kind}
	}
	if e.Kind != kind {
		return nil, ErrInvalidHandle{Handle: h, Expected: kind, Actual: e.Kind}
	}
	return e, nil
}

// KindOf reports the kind h is registered with.
func (t *Table) KindOf(
	ctx context.Context,
	h Handle,
) (Kind, error) {
	return xsync.DoR2(ctx, &t.locker, func() (Kind, error) {
		e := t.entries[h]
		if e == nil {
			return KindUndefined, ErrInvalidHandle{Handle: h}
		}
		return e.Kind, nil
	})
}

// Lookup returns the native object behind h, verifying both the stored
// kind and the native type.
func Lookup[T any](
	ctx context.Context,
	t *Table,
	h Handle,
	kind Kind,
) (T, error) {
	var zero T
	e, err := t.Entry(ctx, h, kind)
	if err != nil {
		return zero, err
	}
	native, ok := e.Native.(T)
	if !ok {
		return zero, fmt.Errorf("handle %d: the %s object is a %T, not a %T", h, kind, e.Native, zero)
	}
	return native, nil
}

// Release frees the native object behind h and forgets the handle. A
// second Release of the same handle reports ErrInvalidHandle without
// touching native memory. Releasing an encoder also drops every stream
// time base row recorded for it.
func (t *Table) Release(
	ctx context.Context,
	h Handle,
) (_err error) {
	logger.Tracef(ctx, "Release(ctx, %d)", h)
	defer func() { logger.Tracef(ctx, "/Release(ctx, %d): %v", h, _err) }()
	return xsync.DoA2R1(ctx, &t.locker, t.release, ctx, h)
}

func (t *tableInternals) release(ctx context.Context, h Handle) error {
	e := t.entries[h]
	if e == nil {
		return ErrInvalidHandle{Handle: h}
	}
	delete(t.entries, h)
	switch e.Kind {
	case KindEncoder, KindOutputFormat:
		t.dropTimeBasesOf(ctx, h)
	}
	if e.free != nil {
		e.free()
	}
	return nil
}

// ReleaseAll frees every live entry. Used when tearing a whole session
// down.
func (t *Table) ReleaseAll(ctx context.Context) {
	t.locker.Do(ctx, func() {
		for h, e := range t.entries {
			logger.Tracef(ctx, "releasing leftover %s handle %d", e.Kind, h)
			delete(t.entries, h)
			if e.free != nil {
				e.free()
			}
		}
		for key := range t.timeBases {
			delete(t.timeBases, key)
		}
	})
}

// Count reports the amount of live handles.
func (t *Table) Count(ctx context.Context) int {
	return xsync.DoR1(ctx, &t.locker, func() int {
		return len(t.entries)
	})
}

func (t *Table) Capacity() int {
	return t.capacity
}
