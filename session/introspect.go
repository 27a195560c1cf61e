package session

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avatomic/logger"
)

// the engine exposes no stable enumeration API across builds, so the
// discovery surface probes a curated list of codecs and containers and
// reports only the ones the linked engine actually provides.
var wellKnownEncoderNames = []string{
	"libx264", "libx265", "mpeg4", "mjpeg", "libvpx", "libvpx-vp9",
	"aac", "libopus", "libmp3lame", "flac", "pcm_s16le",
}

var wellKnownOutputFormatNames = []string{
	"matroska", "mp4", "mpegts", "flv", "webm", "ogg", "wav", "mp3",
}

// AvailableEncoders reports which of the commonly used encoders the
// linked engine provides.
func (s *Session) AvailableEncoders(
	ctx context.Context,
) []string {
	logger.Debugf(ctx, "AvailableEncoders(ctx)")
	var result []string
	for _, name := range wellKnownEncoderNames {
		if astiav.FindEncoderByName(name) != nil {
			result = append(result, name)
		}
	}
	return result
}

// AvailableOutputFormats reports which of the commonly used container
// formats the linked engine can mux into.
func (s *Session) AvailableOutputFormats(
	ctx context.Context,
) []string {
	logger.Debugf(ctx, "AvailableOutputFormats(ctx)")
	var result []string
	for _, name := range wellKnownOutputFormatNames {
		if astiav.FindOutputFormat(name) != nil {
			result = append(result, name)
		}
	}
	return result
}

// EncoderPixelFormats reports the pixel formats an encoder accepts, by
// name. An empty list means the encoder does not constrain them.
func (s *Session) EncoderPixelFormats(
	ctx context.Context,
	codecName string,
) ([]string, error) {
	codec := astiav.FindEncoderByName(codecName)
	if codec == nil {
		return nil, fmt.Errorf("unable to find an encoder using name '%s'", codecName)
	}
	var result []string
	for _, pixelFormat := range codec.PixelFormats() {
		result = append(result, pixelFormat.Name())
	}
	return result, nil
}

// EncoderSampleFormats reports the sample formats an encoder accepts,
// by name. An empty list means the encoder does not constrain them.
func (s *Session) EncoderSampleFormats(
	ctx context.Context,
	codecName string,
) ([]string, error) {
	codec := astiav.FindEncoderByName(codecName)
	if codec == nil {
		return nil, fmt.Errorf("unable to find an encoder using name '%s'", codecName)
	}
	var result []string
	for _, sampleFormat := range codec.SampleFormats() {
		result = append(result, sampleFormat.Name())
	}
	return result, nil
}

// EncoderChannelCounts reports the channel counts of the channel
// layouts an encoder accepts. An empty list means the encoder does not
// constrain them.
func (s *Session) EncoderChannelCounts(
	ctx context.Context,
	codecName string,
) ([]int, error) {
	codec := astiav.FindEncoderByName(codecName)
	if codec == nil {
		return nil, fmt.Errorf("unable to find an encoder using name '%s'", codecName)
	}
	var result []int
	for _, channelLayout := range codec.ChannelLayouts() {
		result = append(result, channelLayout.Channels())
	}
	return result, nil
}
