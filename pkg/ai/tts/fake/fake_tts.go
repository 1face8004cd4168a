// Package fake provides a sine-wave text-to-speech provider for tests.
package fake

import (
	"context"
	"math"

	"github.com/fluentive/voiceturn/pkg/ai/tts"
	"github.com/fluentive/voiceturn/pkg/rtc"
)

const (
	sampleRate = 16000
	frequency  = 440.0
	// msPerRune makes synthesized duration proportional to text length so
	// tests can reason about playback timing.
	msPerRune = 60
)

// FakeTTS synthesizes a quiet sine tone whose length tracks the text length.
type FakeTTS struct{}

// NewFakeTTS creates a new fake TTS provider.
func NewFakeTTS() *FakeTTS {
	return &FakeTTS{}
}

// Synthesize generates sine-wave PCM for the given text.
func (f *FakeTTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (*rtc.PCMBuffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	samples := sampleRate * len([]rune(req.Text)) * msPerRune / 1000
	if samples == 0 {
		samples = sampleRate / 100
	}

	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := math.Sin(2*math.Pi*frequency*float64(i)/float64(sampleRate)) * 0.3
		s := int16(v * 32767)
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}

	return &rtc.PCMBuffer{Data: data, SampleRate: sampleRate, NumChannels: 1}, nil
}

// Capabilities returns the fake TTS capabilities.
func (f *FakeTTS) Capabilities() tts.Capabilities {
	return tts.Capabilities{
		SupportedLanguages: []string{"en-US", "es-ES"},
		SupportedVoices:    []string{"fake-voice"},
		SampleRates:        []int{sampleRate},
		SupportsSpeed:      false,
	}
}
