package openai

import (
	"context"
	"fmt"
	"io"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/fluentive/voiceturn/pkg/ai"
	"github.com/fluentive/voiceturn/pkg/ai/tts"
	"github.com/fluentive/voiceturn/pkg/rtc"
)

// The speech endpoint's raw PCM format is fixed: 24 kHz, mono, 16-bit.
const (
	speechSampleRate = 24000
	speechChannels   = 1
)

const defaultVoice = "alloy"

// SpeechTTS synthesizes with the OpenAI speech endpoint, requesting raw PCM
// so no container decode is needed.
type SpeechTTS struct {
	client *goopenai.Client
	model  goopenai.SpeechModel
}

// NewSpeechTTS creates a synthesis provider.
func NewSpeechTTS(apiKey string) (*SpeechTTS, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	return &SpeechTTS{
		client: goopenai.NewClient(apiKey),
		model:  goopenai.TTSModel1,
	}, nil
}

// Synthesize implements tts.TTS.
func (s *SpeechTTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (*rtc.PCMBuffer, error) {
	voice := req.Voice
	if voice == "" {
		voice = defaultVoice
	}
	speed := float64(req.Speed)
	if speed == 0 {
		speed = 1.0
	}

	resp, err := s.client.CreateSpeech(ctx, goopenai.CreateSpeechRequest{
		Model:          s.model,
		Input:          req.Text,
		Voice:          goopenai.SpeechVoice(voice),
		ResponseFormat: goopenai.SpeechResponseFormatPcm,
		Speed:          speed,
	})
	if err != nil {
		return nil, ai.NewNetworkError(fmt.Errorf("speech synthesis: %w", err), "openai")
	}
	defer resp.Close()

	raw, err := io.ReadAll(resp)
	if err != nil {
		return nil, ai.NewNetworkError(fmt.Errorf("read synthesis response: %w", err), "openai")
	}
	return speechBuffer(raw), nil
}

// speechBuffer wraps the endpoint's raw little-endian payload. A trailing odd
// byte is a truncated sample and is dropped.
func speechBuffer(raw []byte) *rtc.PCMBuffer {
	if len(raw)%2 != 0 {
		raw = raw[:len(raw)-1]
	}
	return &rtc.PCMBuffer{
		Data:        raw,
		SampleRate:  speechSampleRate,
		NumChannels: speechChannels,
	}
}

// Capabilities implements tts.TTS.
func (s *SpeechTTS) Capabilities() tts.Capabilities {
	return tts.Capabilities{
		SupportedVoices: []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"},
		SampleRates:     []int{speechSampleRate},
		SupportsSpeed:   true,
	}
}
