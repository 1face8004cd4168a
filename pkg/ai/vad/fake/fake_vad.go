// Package fake provides a scripted speech detector for tests: instead of
// scoring audio, callers inject the exact event sequence under test.
package fake

import (
	"context"
	"time"

	"github.com/fluentive/voiceturn/pkg/ai/vad"
	"github.com/fluentive/voiceturn/pkg/rtc"
)

// ScriptedDetector implements vad.Detector with caller-driven events.
type ScriptedDetector struct {
	events chan vad.Event
}

// NewScriptedDetector creates a detector whose events are emitted manually.
func NewScriptedDetector() *ScriptedDetector {
	return &ScriptedDetector{events: make(chan vad.Event, 16)}
}

// Detect drains the input frames and returns the scripted event channel.
func (d *ScriptedDetector) Detect(ctx context.Context, frames <-chan rtc.AudioFrame) (<-chan vad.Event, error) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-frames:
				if !ok {
					return
				}
			}
		}
	}()
	return d.events, nil
}

// EmitSpeechStart injects a speech-start event.
func (d *ScriptedDetector) EmitSpeechStart() {
	d.events <- vad.Event{Type: vad.EventSpeechStart, Timestamp: time.Now()}
}

// EmitSpeechEnd injects a speech-end event with the given segment.
func (d *ScriptedDetector) EmitSpeechEnd(segment []rtc.AudioFrame) {
	d.events <- vad.Event{Type: vad.EventSpeechEnd, Timestamp: time.Now(), Segment: segment}
}

// EmitMisfire injects a misfire event.
func (d *ScriptedDetector) EmitMisfire() {
	d.events <- vad.Event{Type: vad.EventMisfire, Timestamp: time.Now()}
}

// Close closes the event channel, ending any consuming loop.
func (d *ScriptedDetector) Close() {
	close(d.events)
}
