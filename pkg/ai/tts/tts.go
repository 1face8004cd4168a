// Package tts defines the text-to-speech boundary used when the backend
// returns reply text without an audio payload.
package tts

import (
	"context"

	"github.com/fluentive/voiceturn/pkg/rtc"
)

// SynthesizeRequest contains parameters for one synthesis call.
type SynthesizeRequest struct {
	Text     string
	Voice    string
	Language string
	Speed    float32
}

// Capabilities describes what a provider supports.
type Capabilities struct {
	SupportedLanguages []string
	SupportedVoices    []string
	SampleRates        []int
	SupportsSpeed      bool
}

// TTS is the provider entry point. Synthesize returns a fully decoded buffer
// ready for the playback controller.
type TTS interface {
	Synthesize(ctx context.Context, req SynthesizeRequest) (*rtc.PCMBuffer, error)

	// Capabilities returns the provider's capabilities.
	Capabilities() Capabilities
}
