// Package voice provides the microphone gate applied while assistant audio
// is playing. With interruptions disabled, mic frames are discarded during
// playback so room echo cannot trigger the speech detector.
package voice

import "sync/atomic"

// Gate decides whether incoming microphone frames should be dropped.
type Gate interface {
	// SetAssistantSpeaking records whether assistant audio is audible.
	SetAssistantSpeaking(speaking bool)

	// ShouldDiscardFrame reports whether the current mic frame is dropped.
	ShouldDiscardFrame() bool
}

// NewGate creates a gate. With allowInterruptions true the gate is
// permanently open: barge-in requires hearing the user during playback.
func NewGate(allowInterruptions bool) Gate {
	return &atomicGate{allowInterruptions: allowInterruptions}
}

type atomicGate struct {
	allowInterruptions bool
	speaking           atomic.Bool
}

func (g *atomicGate) SetAssistantSpeaking(speaking bool) {
	g.speaking.Store(speaking)
}

func (g *atomicGate) ShouldDiscardFrame() bool {
	if g.allowInterruptions {
		return false
	}
	return g.speaking.Load()
}
