// Package openai provides OpenAI-backed speech providers: Whisper for
// transcription and the speech endpoint for synthesis. Register installs
// both into a plugin registry.
package openai

import (
	"github.com/fluentive/voiceturn/pkg/ai/stt"
	"github.com/fluentive/voiceturn/pkg/ai/tts"
	"github.com/fluentive/voiceturn/pkg/plugin"
)

// Register installs the Whisper STT ("whisper") and OpenAI TTS
// ("openai-tts") factories into r.
func Register(r *plugin.Registry, apiKey string) {
	r.RegisterSTT("whisper", func() (stt.STT, error) {
		return NewWhisperSTT(apiKey)
	})
	r.RegisterTTS("openai-tts", func() (tts.TTS, error) {
		return NewSpeechTTS(apiKey)
	})
}
