// Package stt defines the streaming speech-to-text boundary. Providers emit
// interim transcript updates (display-only, never dispatched downstream) and
// exactly one final transcript per utterance.
//
// "No speech detected" and "aborted" are expected no-ops, not errors: a
// stream that ends without a final transcript simply produces no event.
// Permission and device failures surface as categorized errors (pkg/ai) from
// NewStream so the session can distinguish remediation paths.
package stt

import (
	"context"

	"github.com/fluentive/voiceturn/pkg/rtc"
)

// StreamConfig contains per-utterance stream configuration.
type StreamConfig struct {
	SampleRate  int
	NumChannels int
	Language    string
}

// EventType represents the type of transcription event.
type EventType int

const (
	// EventInterim carries a partial transcript that may still change.
	EventInterim EventType = iota
	// EventFinal carries the one final transcript of the utterance.
	EventFinal
	// EventError reports a transcription failure.
	EventError
)

// Event is a single transcription event.
type Event struct {
	Type      EventType
	Text      string
	Language  string
	Timestamp int64 // milliseconds since epoch
	Error     error // set only for EventError
}

// Capabilities describes what a provider supports.
type Capabilities struct {
	Streaming          bool
	InterimResults     bool
	SupportedLanguages []string
	SampleRates        []int
}

// STT is the provider entry point.
type STT interface {
	// NewStream opens a transcription stream for one utterance.
	NewStream(ctx context.Context, cfg StreamConfig) (Stream, error)

	// Capabilities returns the provider's capabilities.
	Capabilities() Capabilities
}

// Stream is an active transcription session.
type Stream interface {
	// Push sends an audio frame for transcription.
	Push(frame rtc.AudioFrame) error

	// Events returns the event channel. It is closed after the final event
	// (or immediately on close when no speech was recognized).
	Events() <-chan Event

	// CloseSend flushes pending audio and requests the final transcript.
	CloseSend() error
}
