package playback

import (
	"bytes"
	"context"
	"fmt"

	"github.com/fluentive/voiceturn/pkg/audio/wav"
	"github.com/fluentive/voiceturn/pkg/rtc"
)

// PCMDecoder passes raw 16-bit little-endian PCM through unchanged. Used when
// the backend is configured to send uncompressed audio.
type PCMDecoder struct {
	SampleRate  int
	NumChannels int
}

// Decode validates alignment and wraps the payload.
func (d *PCMDecoder) Decode(ctx context.Context, encoded []byte) (*rtc.PCMBuffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.SampleRate <= 0 || d.NumChannels <= 0 {
		return nil, fmt.Errorf("PCM decoder requires sample rate and channel count")
	}
	if len(encoded)%(2*d.NumChannels) != 0 {
		return nil, fmt.Errorf("PCM payload not sample-aligned: %d bytes", len(encoded))
	}
	data := make([]byte, len(encoded))
	copy(data, encoded)
	return &rtc.PCMBuffer{Data: data, SampleRate: d.SampleRate, NumChannels: d.NumChannels}, nil
}

// WAVDecoder decodes RIFF/WAV payloads.
type WAVDecoder struct{}

func (d *WAVDecoder) Decode(ctx context.Context, encoded []byte) (*rtc.PCMBuffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return wav.Decode(encoded)
}

// AutoDecoder sniffs the payload container and dispatches to the matching
// decoder. This is the default used by the session: backends may answer with
// either Ogg/Opus or WAV without prior negotiation.
type AutoDecoder struct {
	Opus Decoder
	WAV  Decoder
}

// NewAutoDecoder builds the stock sniffing decoder.
func NewAutoDecoder() *AutoDecoder {
	return &AutoDecoder{Opus: &OpusDecoder{}, WAV: &WAVDecoder{}}
}

func (d *AutoDecoder) Decode(ctx context.Context, encoded []byte) (*rtc.PCMBuffer, error) {
	switch {
	case bytes.HasPrefix(encoded, []byte("OggS")):
		if d.Opus == nil {
			return nil, fmt.Errorf("no opus decoder configured")
		}
		return d.Opus.Decode(ctx, encoded)
	case bytes.HasPrefix(encoded, []byte("RIFF")):
		if d.WAV == nil {
			return nil, fmt.Errorf("no WAV decoder configured")
		}
		return d.WAV.Decode(ctx, encoded)
	default:
		return nil, fmt.Errorf("unrecognized audio container (%d bytes)", len(encoded))
	}
}
