package openai

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/fluentive/voiceturn/pkg/ai"
	"github.com/fluentive/voiceturn/pkg/ai/stt"
	"github.com/fluentive/voiceturn/pkg/audio/wav"
	"github.com/fluentive/voiceturn/pkg/rtc"
)

// WhisperSTT transcribes with the Whisper API. Whisper has no streaming
// endpoint, so a stream buffers its frames and transcribes once on
// CloseSend; the detector's segment handoff makes that the natural shape
// anyway.
type WhisperSTT struct {
	client *goopenai.Client
	model  string
}

// NewWhisperSTT creates a Whisper provider.
func NewWhisperSTT(apiKey string) (*WhisperSTT, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	return &WhisperSTT{
		client: goopenai.NewClient(apiKey),
		model:  goopenai.Whisper1,
	}, nil
}

// NewStream implements stt.STT.
func (w *WhisperSTT) NewStream(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	return &whisperStream{
		stt:    w,
		ctx:    ctx,
		cfg:    cfg,
		events: make(chan stt.Event, 2),
	}, nil
}

// Capabilities implements stt.STT.
func (w *WhisperSTT) Capabilities() stt.Capabilities {
	return stt.Capabilities{
		Streaming:      false,
		InterimResults: false,
		SampleRates:    []int{16000, 24000, 48000},
	}
}

type whisperStream struct {
	stt    *WhisperSTT
	ctx    context.Context
	cfg    stt.StreamConfig
	events chan stt.Event

	mu     sync.Mutex
	frames []rtc.AudioFrame
	closed bool
}

func (s *whisperStream) Push(frame rtc.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stream is closed")
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *whisperStream) Events() <-chan stt.Event {
	return s.events
}

// CloseSend transcribes the buffered utterance. The final event (or error)
// is delivered asynchronously; the event channel closes after it.
func (s *whisperStream) CloseSend() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	frames := s.frames
	s.mu.Unlock()

	go func() {
		defer close(s.events)
		if len(frames) == 0 {
			return
		}
		text, lang, err := s.stt.transcribe(s.ctx, frames, s.cfg.Language)
		if err != nil {
			s.events <- stt.Event{Type: stt.EventError, Error: err, Timestamp: time.Now().UnixMilli()}
			return
		}
		s.events <- stt.Event{
			Type:      stt.EventFinal,
			Text:      text,
			Language:  lang,
			Timestamp: time.Now().UnixMilli(),
		}
	}()
	return nil
}

func (w *WhisperSTT) transcribe(ctx context.Context, frames []rtc.AudioFrame, language string) (string, string, error) {
	payload := wav.Encode(rtc.ConcatFrames(frames))

	resp, err := w.client.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    w.model,
		Language: whisperLanguage(language),
		Format:   goopenai.AudioResponseFormatJSON,
		Reader:   bytes.NewReader(payload),
		FilePath: "utterance.wav", // required by the API even for readers
	})
	if err != nil {
		return "", "", ai.NewNetworkError(fmt.Errorf("whisper transcription: %w", err), "openai")
	}
	return resp.Text, resp.Language, nil
}

// whisperLanguage maps a BCP-47 tag to the bare ISO 639-1 code the API
// expects.
func whisperLanguage(tag string) string {
	if i := strings.IndexByte(tag, '-'); i > 0 {
		return strings.ToLower(tag[:i])
	}
	return strings.ToLower(tag)
}
