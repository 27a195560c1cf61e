package session

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avatomic/handle"
	"github.com/xaionaro-go/avatomic/logger"
)

func dictionaryToMap(d *astiav.Dictionary) map[string]string {
	result := map[string]string{}
	if d == nil {
		return result
	}
	var entry *astiav.DictionaryEntry
	for {
		entry = d.Get("", entry, astiav.NewDictionaryFlags(astiav.DictionaryFlagIgnoreSuffix))
		if entry == nil {
			break
		}
		result[entry.Key()] = entry.Value()
	}
	return result
}

// Metadata returns all container-level metadata entries of an input or
// output.
func (s *Session) Metadata(
	ctx context.Context,
	h handle.Handle,
) (map[string]string, error) {
	fc, err := s.formatContextOf(ctx, h)
	if err != nil {
		return nil, err
	}
	return dictionaryToMap(fc.Metadata()), nil
}

// SetMetadata sets one container-level metadata entry on an output.
// Must happen before WriteHeader to end up in the file.
func (s *Session) SetMetadata(
	ctx context.Context,
	outputH handle.Handle,
	key string,
	value string,
) (_err error) {
	logger.Debugf(ctx, "SetMetadata(ctx, %d, '%s', '%s')", outputH, key, value)
	defer func() { logger.Debugf(ctx, "/SetMetadata(ctx, %d, '%s', '%s'): %v", outputH, key, value, _err) }()
	o, err := handle.Lookup[*output](ctx, s.handles, outputH, handle.KindOutputFormat)
	if err != nil {
		return err
	}
	if o.headerWritten {
		return fmt.Errorf("the header is already written, too late for metadata")
	}
	d := o.formatContext.Metadata()
	if d == nil {
		d = astiav.NewDictionary()
		o.formatContext.SetMetadata(d)
	}
	if err := d.Set(key, value, 0); err != nil {
		return fmt.Errorf("unable to set the metadata entry '%s': %w", key, err)
	}
	return nil
}

// CopyMetadata copies every container-level metadata entry from an
// input to an output.
func (s *Session) CopyMetadata(
	ctx context.Context,
	inputH handle.Handle,
	outputH handle.Handle,
) (_err error) {
	logger.Debugf(ctx, "CopyMetadata(ctx, %d, %d)", inputH, outputH)
	defer func() { logger.Debugf(ctx, "/CopyMetadata(ctx, %d, %d): %v", inputH, outputH, _err) }()
	in, err := handle.Lookup[*input](ctx, s.handles, inputH, handle.KindInputFormat)
	if err != nil {
		return err
	}
	for key, value := range dictionaryToMap(in.formatContext.Metadata()) {
		if err := s.SetMetadata(ctx, outputH, key, value); err != nil {
			return err
		}
	}
	return nil
}
