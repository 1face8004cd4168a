// Package vad converts a continuous microphone stream into discrete
// speech-start / speech-end events using probability thresholds with
// hysteresis and a redemption window that absorbs natural pauses.
package vad

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluentive/voiceturn/pkg/rtc"
)

// EventType represents the type of detection event.
type EventType int

const (
	// EventSpeechStart fires when frame probability crosses the positive
	// threshold while the detector is inactive.
	EventSpeechStart EventType = iota

	// EventSpeechEnd fires after the redemption window of silence elapses,
	// carrying the captured segment including the pre-speech pad.
	EventSpeechEnd

	// EventMisfire fires instead of EventSpeechEnd when the detected segment
	// is shorter than MinSpeech. Misfires are not utterances and must be
	// ignored by consumers.
	EventMisfire

	// EventError reports a detector failure.
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechEnd:
		return "speech_end"
	case EventMisfire:
		return "misfire"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// Event is a single detection event. Segment is set only for EventSpeechEnd.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Segment   []rtc.AudioFrame
	Error     error
}

// Config holds the detection thresholds and timing windows. All fields have
// defaults and are deployment-tunable; only the ordering semantics are fixed.
type Config struct {
	// PositiveSpeechThreshold is the frame probability at or above which
	// frames count as speech.
	PositiveSpeechThreshold float32 `json:"positive_speech_threshold"`

	// NegativeSpeechThreshold is the frame probability below which frames
	// count as silence. The gap to the positive threshold is the hysteresis
	// band: frames inside it neither extend nor end speech.
	NegativeSpeechThreshold float32 `json:"negative_speech_threshold"`

	// RedemptionMs is the grace period of continued silence tolerated before
	// declaring speech-end, absorbing natural pauses.
	RedemptionMs int `json:"redemption_ms"`

	// MinSpeechMs is the minimum speech duration for a segment to count as a
	// real utterance rather than a misfire.
	MinSpeechMs int `json:"min_speech_ms"`

	// PreSpeechPadMs is the amount of audio retained from before the detected
	// onset, so the first phoneme is not clipped.
	PreSpeechPadMs int `json:"pre_speech_pad_ms"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		PositiveSpeechThreshold: 0.70,
		NegativeSpeechThreshold: 0.35,
		RedemptionMs:            600,
		MinSpeechMs:             200,
		PreSpeechPadMs:          100,
	}
}

// Validate checks threshold ordering and window sanity.
func (c Config) Validate() error {
	if c.PositiveSpeechThreshold <= 0 || c.PositiveSpeechThreshold > 1 {
		return fmt.Errorf("positive speech threshold must be in (0, 1], got %v", c.PositiveSpeechThreshold)
	}
	if c.NegativeSpeechThreshold < 0 || c.NegativeSpeechThreshold >= c.PositiveSpeechThreshold {
		return fmt.Errorf("negative speech threshold must be in [0, positive), got %v", c.NegativeSpeechThreshold)
	}
	if c.RedemptionMs < 0 || c.MinSpeechMs < 0 || c.PreSpeechPadMs < 0 {
		return fmt.Errorf("timing windows must be non-negative")
	}
	return nil
}

// Scorer assigns a speech probability (0–1) to a single audio frame.
type Scorer interface {
	Score(frame rtc.AudioFrame) float32
}

// Detector is the interface consumed by the session layer. The returned
// channel is closed when the input channel closes or the context is cancelled.
type Detector interface {
	Detect(ctx context.Context, frames <-chan rtc.AudioFrame) (<-chan Event, error)
}

// ThresholdDetector implements Detector with the hysteresis state machine.
type ThresholdDetector struct {
	cfg    Config
	scorer Scorer
	logger *slog.Logger
}

// New creates a ThresholdDetector. A zero Config field set is replaced by
// DefaultConfig; a nil logger uses slog.Default.
func New(cfg Config, scorer Scorer, logger *slog.Logger) (*ThresholdDetector, error) {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid VAD config: %w", err)
	}
	if scorer == nil {
		return nil, fmt.Errorf("scorer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ThresholdDetector{cfg: cfg, scorer: scorer, logger: logger}, nil
}

// Detect runs the detection loop in a goroutine and returns its event channel.
func (d *ThresholdDetector) Detect(ctx context.Context, frames <-chan rtc.AudioFrame) (<-chan Event, error) {
	if frames == nil {
		return nil, fmt.Errorf("frames channel is required")
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		d.run(ctx, frames, events)
	}()
	return events, nil
}

// frameMs is the duration of one frame in milliseconds. Frames are always
// 10 ms per the rtc.AudioFrame contract.
const frameMs = 10

type segmentState struct {
	frames      []rtc.AudioFrame
	padLen      int // frames belonging to the pre-speech pad
	lastSpeech  int // index of the last frame at/above the positive threshold
	silenceMs   int // accumulated redemption silence
	activatedAt time.Time
}

func (d *ThresholdDetector) run(ctx context.Context, frames <-chan rtc.AudioFrame, events chan<- Event) {
	padFrames := d.cfg.PreSpeechPadMs / frameMs
	pad := newFrameRing(padFrames)
	var seg *segmentState

	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				if seg != nil {
					d.finalize(ctx, seg, events)
				}
				return
			}

			p := d.scorer.Score(frame)

			if seg == nil {
				pad.push(frame)
				if p >= d.cfg.PositiveSpeechThreshold {
					seg = &segmentState{
						frames:      pad.drain(),
						activatedAt: time.Now(),
					}
					seg.padLen = len(seg.frames) - 1 // last pad frame is the onset frame
					seg.lastSpeech = len(seg.frames) - 1
					if !emit(Event{Type: EventSpeechStart, Timestamp: seg.activatedAt}) {
						return
					}
				}
				continue
			}

			seg.frames = append(seg.frames, frame)
			switch {
			case p >= d.cfg.PositiveSpeechThreshold:
				seg.silenceMs = 0
				seg.lastSpeech = len(seg.frames) - 1
			case p < d.cfg.NegativeSpeechThreshold:
				seg.silenceMs += frameMs
				if seg.silenceMs >= d.cfg.RedemptionMs {
					if !d.finalize(ctx, seg, events) {
						return
					}
					seg = nil
					pad.reset()
				}
			default:
				// Inside the hysteresis band: neither speech nor silence.
				// The redemption counter holds its value.
			}
		}
	}
}

// finalize classifies a completed segment as an utterance or a misfire.
// Returns false if the context was cancelled mid-emit.
func (d *ThresholdDetector) finalize(ctx context.Context, seg *segmentState, events chan<- Event) bool {
	speechMs := (seg.lastSpeech - seg.padLen + 1) * frameMs
	now := time.Now()

	if speechMs < d.cfg.MinSpeechMs {
		d.logger.Debug("segment below minimum speech duration",
			slog.Int("speech_ms", speechMs),
			slog.Int("min_speech_ms", d.cfg.MinSpeechMs))
		ev := Event{Type: EventMisfire, Timestamp: now}
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	d.logger.Debug("speech segment finalized",
		slog.Int("speech_ms", speechMs),
		slog.Int("frames", len(seg.frames)))
	ev := Event{Type: EventSpeechEnd, Timestamp: now, Segment: seg.frames}
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// frameRing retains the most recent N frames for the pre-speech pad.
type frameRing struct {
	frames []rtc.AudioFrame
	size   int
}

func newFrameRing(size int) *frameRing {
	return &frameRing{size: size}
}

// push retains f plus up to size preceding frames; the newest frame is the
// onset frame when the detector activates.
func (r *frameRing) push(f rtc.AudioFrame) {
	r.frames = append(r.frames, f)
	if len(r.frames) > r.size+1 {
		r.frames = r.frames[1:]
	}
}

// drain returns the buffered frames and resets the ring.
func (r *frameRing) drain() []rtc.AudioFrame {
	out := make([]rtc.AudioFrame, len(r.frames))
	copy(out, r.frames)
	r.frames = r.frames[:0]
	return out
}

func (r *frameRing) reset() {
	r.frames = r.frames[:0]
}
