package voice

import "testing"

func TestGate_InterruptionsAllowed(t *testing.T) {
	g := NewGate(true)

	if g.ShouldDiscardFrame() {
		t.Error("open gate discarded a frame while idle")
	}
	g.SetAssistantSpeaking(true)
	if g.ShouldDiscardFrame() {
		t.Error("gate must stay open during playback when interruptions are allowed")
	}
}

func TestGate_InterruptionsDisabled(t *testing.T) {
	g := NewGate(false)

	if g.ShouldDiscardFrame() {
		t.Error("gate discarded a frame while assistant silent")
	}

	g.SetAssistantSpeaking(true)
	if !g.ShouldDiscardFrame() {
		t.Error("gate must discard frames during playback when interruptions are disabled")
	}

	g.SetAssistantSpeaking(false)
	if g.ShouldDiscardFrame() {
		t.Error("gate must reopen once playback ends")
	}
}
