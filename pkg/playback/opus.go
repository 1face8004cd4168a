package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/hraban/opus.v2"

	"github.com/fluentive/voiceturn/pkg/rtc"
)

// opusSampleRate is fixed by the codec: decoded Opus is always 48 kHz.
const opusSampleRate = 48000

// OpusDecoder decodes Ogg/Opus payloads (libopusfile via hraban/opus) into
// mono 48 kHz PCM.
type OpusDecoder struct{}

func (d *OpusDecoder) Decode(ctx context.Context, encoded []byte) (*rtc.PCMBuffer, error) {
	stream, err := opus.NewStream(bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("opening opus stream: %w", err)
	}
	defer stream.Close()

	pcm := make([]int16, 0, opusSampleRate) // room for ~1s up front
	chunk := make([]int16, 960*8)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := stream.Read(chunk)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding opus stream: %w", err)
		}
		pcm = append(pcm, chunk[:n]...)
	}

	if len(pcm) == 0 {
		return nil, fmt.Errorf("opus stream contained no audio")
	}

	data := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}

	return &rtc.PCMBuffer{Data: data, SampleRate: opusSampleRate, NumChannels: 1}, nil
}
