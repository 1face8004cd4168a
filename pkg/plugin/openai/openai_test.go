package openai

import (
	"context"
	"testing"
	"time"

	"github.com/fluentive/voiceturn/pkg/ai/stt"
	"github.com/fluentive/voiceturn/pkg/rtc"
)

func TestWhisperLanguage(t *testing.T) {
	tests := []struct {
		tag  string
		want string
	}{
		{"en-US", "en"},
		{"es-ES", "es"},
		{"fr", "fr"},
		{"PT-BR", "pt"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := whisperLanguage(tt.tag); got != tt.want {
			t.Errorf("whisperLanguage(%q) = %q, want %q", tt.tag, got, tt.want)
		}
	}
}

func TestNewProviders_RequireKey(t *testing.T) {
	if _, err := NewWhisperSTT(""); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := NewSpeechTTS(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestWhisperStream_EmptyUtteranceClosesSilently(t *testing.T) {
	w, err := NewWhisperSTT("test-key")
	if err != nil {
		t.Fatal(err)
	}
	stream, err := w.NewStream(context.Background(), stt.StreamConfig{SampleRate: 16000, NumChannels: 1})
	if err != nil {
		t.Fatal(err)
	}

	// No audio pushed: CloseSend must close the event channel without
	// emitting anything and without calling the API.
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend: %v", err)
	}
	select {
	case ev, ok := <-stream.Events():
		if ok {
			t.Fatalf("unexpected event %v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event channel did not close")
	}
}

func TestWhisperStream_PushAfterClose(t *testing.T) {
	w, _ := NewWhisperSTT("test-key")
	stream, _ := w.NewStream(context.Background(), stt.StreamConfig{})
	stream.CloseSend()
	if err := stream.Push(rtc.AudioFrame{Data: make([]byte, 320), SampleRate: 16000, SamplesPerChannel: 160, NumChannels: 1}); err == nil {
		t.Fatal("push after close should fail")
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("double CloseSend should be a no-op, got %v", err)
	}
}

func TestSpeechBuffer(t *testing.T) {
	raw := []byte{0xe8, 0x03, 0xe8, 0x03, 0xff}
	buf := speechBuffer(raw)
	if len(buf.Data) != 4 {
		t.Fatalf("buffer = %d bytes, want trailing odd byte dropped (4)", len(buf.Data))
	}
	if got := int16(buf.Data[0]) | int16(buf.Data[1])<<8; got != 1000 {
		t.Errorf("sample 0 = %d, want 1000", got)
	}
	if buf.SampleRate != speechSampleRate || buf.NumChannels != speechChannels {
		t.Errorf("format = %d Hz x%d, want %d Hz x%d",
			buf.SampleRate, buf.NumChannels, speechSampleRate, speechChannels)
	}
}
