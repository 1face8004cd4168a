package ingress

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fluentive/voiceturn/pkg/ai"
	"github.com/fluentive/voiceturn/pkg/audio/wav"
	"github.com/fluentive/voiceturn/pkg/rtc"
)

// FileSource replays a 16-bit PCM WAV file as a live microphone: one 10 ms
// frame every 10 ms. After the file ends the stream stays open and silent,
// so detectors see trailing silence instead of an abrupt close.
type FileSource struct {
	buf    *rtc.PCMBuffer
	frames chan rtc.AudioFrame
}

// NewFileSource loads path and validates it against the frame contract.
func NewFileSource(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ai.NewDeviceError(fmt.Errorf("read %s: %w", path, err), "file source")
	}
	buf, err := wav.Decode(data)
	if err != nil {
		return nil, ai.NewDecodeError(fmt.Errorf("decode %s: %w", path, err), "file source")
	}
	if buf.SampleRate%100 != 0 {
		return nil, ai.NewDecodeError(fmt.Errorf("sample rate %d not divisible into 10ms frames", buf.SampleRate), "file source")
	}
	return &FileSource{
		buf:    buf,
		frames: make(chan rtc.AudioFrame, 8),
	}, nil
}

// SampleRate reports the file's sample rate.
func (s *FileSource) SampleRate() int { return s.buf.SampleRate }

// Frames returns the live-paced frame stream. Start must be called first.
func (s *FileSource) Frames() <-chan rtc.AudioFrame { return s.frames }

// Start begins real-time replay. The stream closes when ctx is cancelled.
func (s *FileSource) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *FileSource) run(ctx context.Context) {
	defer close(s.frames)

	samplesPerFrame := s.buf.SampleRate / 100 * s.buf.NumChannels
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	offset := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		data := make([]byte, samplesPerFrame*2)
		if offset < len(s.buf.Data) {
			end := offset + samplesPerFrame*2
			if end > len(s.buf.Data) {
				end = len(s.buf.Data)
			}
			copy(data, s.buf.Data[offset:end])
			offset = end
		}

		frame := rtc.AudioFrame{
			Data:              data,
			SampleRate:        s.buf.SampleRate,
			SamplesPerChannel: s.buf.SampleRate / 100,
			NumChannels:       s.buf.NumChannels,
		}
		select {
		case s.frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}
