package handle

import (
	"fmt"
)

// Kind tags the kind of native object a table entry owns. Lookups check
// the stored kind against the caller's expectation, so a raw integer
// coming from the host side can never be dereferenced as the wrong type.
type Kind int

const (
	KindUndefined Kind = iota
	KindInputFormat
	KindOutputFormat
	KindEncoder
	KindDecoder
	KindFrame
	KindPacket
	KindScaler
	KindResampler
	KindAudioBuffer
	endOfKind
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindInputFormat:
		return "input_format"
	case KindOutputFormat:
		return "output_format"
	case KindEncoder:
		return "encoder"
	case KindDecoder:
		return "decoder"
	case KindFrame:
		return "frame"
	case KindPacket:
		return "packet"
	case KindScaler:
		return "scaler"
	case KindResampler:
		return "resampler"
	case KindAudioBuffer:
		return "audio_buffer"
	}
	return fmt.Sprintf("unexpected_kind_%d", int(k))
}
