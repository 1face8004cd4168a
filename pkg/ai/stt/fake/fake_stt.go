// Package fake provides a canned speech-to-text provider for tests.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluentive/voiceturn/pkg/ai/stt"
	"github.com/fluentive/voiceturn/pkg/rtc"
)

const (
	// interimEveryNFrames controls how often interim results are emitted.
	interimEveryNFrames = 10
	// DefaultTranscript is used when no transcripts are scripted.
	DefaultTranscript = "this is a canned transcript"
)

// FakeSTT replays scripted transcripts, one per stream, in order. When the
// script runs out the last transcript repeats.
type FakeSTT struct {
	mu          sync.Mutex
	transcripts []string
	next        int
}

// NewFakeSTT creates a provider that returns the given transcripts in order.
func NewFakeSTT(transcripts ...string) *FakeSTT {
	if len(transcripts) == 0 {
		transcripts = []string{DefaultTranscript}
	}
	return &FakeSTT{transcripts: transcripts}
}

// NewStream opens a stream that finalizes with the next scripted transcript.
func (f *FakeSTT) NewStream(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	f.mu.Lock()
	transcript := f.transcripts[f.next]
	if f.next < len(f.transcripts)-1 {
		f.next++
	}
	f.mu.Unlock()

	return &fakeStream{
		transcript: transcript,
		language:   cfg.Language,
		events:     make(chan stt.Event, 8),
		ctx:        ctx,
	}, nil
}

// Capabilities returns the fake provider capabilities.
func (f *FakeSTT) Capabilities() stt.Capabilities {
	return stt.Capabilities{
		Streaming:          true,
		InterimResults:     true,
		SupportedLanguages: []string{"en-US", "es-ES", "fr-FR"},
		SampleRates:        []int{16000, 48000},
	}
}

type fakeStream struct {
	transcript string
	language   string
	events     chan stt.Event
	ctx        context.Context

	mu         sync.Mutex
	frameCount int
	closed     bool
}

// Push counts frames and emits growing interim results.
func (s *fakeStream) Push(frame rtc.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stream is closed")
	}

	s.frameCount++
	if s.frameCount%interimEveryNFrames != 0 {
		return nil
	}

	n := s.frameCount / 2
	if n > len(s.transcript) {
		n = len(s.transcript)
	}
	select {
	case s.events <- stt.Event{
		Type:      stt.EventInterim,
		Text:      s.transcript[:n],
		Language:  s.language,
		Timestamp: time.Now().UnixMilli(),
	}:
	default:
		// Interim results are display-only; drop rather than block.
	}
	return nil
}

func (s *fakeStream) Events() <-chan stt.Event {
	return s.events
}

// CloseSend emits the final transcript and closes the event channel.
func (s *fakeStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	select {
	case s.events <- stt.Event{
		Type:      stt.EventFinal,
		Text:      s.transcript,
		Language:  s.language,
		Timestamp: time.Now().UnixMilli(),
	}:
	case <-s.ctx.Done():
	}
	close(s.events)
	return nil
}
