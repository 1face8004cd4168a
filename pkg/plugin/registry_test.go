package plugin

import (
	"fmt"
	"reflect"
	"testing"

	sttfake "github.com/fluentive/voiceturn/pkg/ai/stt/fake"
	ttsfake "github.com/fluentive/voiceturn/pkg/ai/tts/fake"
	"github.com/fluentive/voiceturn/pkg/ai/stt"
	"github.com/fluentive/voiceturn/pkg/ai/tts"
)

func TestRegistry_CreateByName(t *testing.T) {
	r := NewRegistry()
	r.RegisterSTT("fake", func() (stt.STT, error) { return sttfake.NewFakeSTT("hi"), nil })
	r.RegisterTTS("fake", func() (tts.TTS, error) { return ttsfake.NewFakeTTS(), nil })

	s, err := r.CreateSTT("fake")
	if err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if s == nil {
		t.Fatal("expected provider instance")
	}

	p, err := r.CreateTTS("fake")
	if err != nil {
		t.Fatalf("CreateTTS: %v", err)
	}
	if p == nil {
		t.Fatal("expected provider instance")
	}
}

func TestRegistry_UnknownProvider(t *testing.T) {
	r := NewRegistry()
	if _, err := r.CreateSTT("nope"); err == nil {
		t.Fatal("expected error for unregistered STT provider")
	}
	if _, err := r.CreateTTS("nope"); err == nil {
		t.Fatal("expected error for unregistered TTS provider")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	r := NewRegistry()
	r.RegisterSTT("broken", func() (stt.STT, error) { return nil, fmt.Errorf("no api key") })
	if _, err := r.CreateSTT("broken"); err == nil {
		t.Fatal("factory error should propagate")
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry()
	r.RegisterSTT("whisper", func() (stt.STT, error) { return sttfake.NewFakeSTT(), nil })
	r.RegisterSTT("fake", func() (stt.STT, error) { return sttfake.NewFakeSTT(), nil })
	if got := r.ListSTT(); !reflect.DeepEqual(got, []string{"fake", "whisper"}) {
		t.Errorf("ListSTT = %v", got)
	}
}
