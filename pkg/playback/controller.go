// Package playback implements the single-flight audio output controller.
//
// The controller owns the one audio output resource in the process. Its
// contract: starting a new playback instantly and unconditionally terminates
// any prior playback, whether that playback was audible or still decoding.
// At most one source is ever connected to the sink.
package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fluentive/voiceturn/pkg/ai"
	"github.com/fluentive/voiceturn/pkg/rtc"
)

// Sink abstracts the audio output device. Implementations own the device
// exclusively; no other component touches it.
type Sink interface {
	// Start begins playback of a decoded buffer with a linear fade-in.
	Start(buf *rtc.PCMBuffer, fadeIn time.Duration) (Source, error)
}

// Source is one active playback on a sink.
type Source interface {
	// Stop halts the source immediately. Idempotent.
	Stop()

	// FadeOut ramps the source down over d, then stops it. Terminal.
	FadeOut(d time.Duration)

	// Done is closed on natural completion only; a stopped source never
	// closes it.
	Done() <-chan struct{}
}

// Decoder turns a compressed payload into playable PCM.
type Decoder interface {
	Decode(ctx context.Context, encoded []byte) (*rtc.PCMBuffer, error)
}

// Callbacks are the controller's observable side effects. Each accepted Play
// receives exactly one terminal callback: OnEnd for natural completion,
// OnInterrupted when superseded or stopped, or OnError when decode or device
// acquisition fails. All callbacks run off the caller's goroutine.
type Callbacks struct {
	OnStart       func(audioID string)
	OnEnd         func(audioID string)
	OnInterrupted func(audioID string)
	OnError       func(audioID string, err error)
}

// Config holds fade timings. Defaults avoid clicks; values are per-deployment
// tuning, not correctness requirements.
type Config struct {
	FadeInMs  int `json:"fade_in_ms"`
	FadeOutMs int `json:"fade_out_ms"`
}

// DefaultConfig returns the stock fade timings.
func DefaultConfig() Config {
	return Config{FadeInMs: 40, FadeOutMs: 25}
}

// Controller guarantees single-flight audio output.
type Controller struct {
	cfg     Config
	sink    Sink
	decoder Decoder
	cb      Callbacks
	logger  *slog.Logger

	mu         sync.Mutex
	generation uint64
	active     *handle
	closed     bool
}

// handle tracks one accepted Play through decode, playback, and termination.
type handle struct {
	audioID  string
	gen      uint64
	source   Source
	cancel   chan struct{} // closed when the handle is stopped
	terminal sync.Once     // exactly one terminal callback per handle
}

// New creates a Controller. Sink and decoder are required; zero-value config
// fields fall back to defaults.
func New(cfg Config, sink Sink, decoder Decoder, cb Callbacks, logger *slog.Logger) (*Controller, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if decoder == nil {
		return nil, fmt.Errorf("decoder is required")
	}
	if cfg.FadeInMs <= 0 {
		cfg.FadeInMs = DefaultConfig().FadeInMs
	}
	if cfg.FadeOutMs <= 0 {
		cfg.FadeOutMs = DefaultConfig().FadeOutMs
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{cfg: cfg, sink: sink, decoder: decoder, cb: cb, logger: logger}, nil
}

// Play supersedes any current playback with the given payload. The previous
// playback (audible or still decoding) is hard-stopped synchronously before
// Play returns. Decode and device start then proceed asynchronously, guarded
// by a generation check so a decode that finishes late is discarded.
//
// Returns false if the controller is closed or the payload is empty; decode
// and device failures are reported through OnError.
func (c *Controller) Play(encoded []byte, audioID string) bool {
	if len(encoded) == 0 {
		c.logger.Warn("rejecting empty audio payload", slog.String("audio_id", audioID))
		return false
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.generation++
	gen := c.generation

	prev := c.active
	h := &handle{audioID: audioID, gen: gen, cancel: make(chan struct{})}
	c.active = h
	c.mu.Unlock()

	// The stop always happens, even if the new decode later fails.
	c.terminate(prev, false)

	go c.decodeAndStart(h, encoded)
	return true
}

// decodeAndStart runs off the caller's goroutine; every step re-checks that
// the handle is still the current generation.
func (c *Controller) decodeAndStart(h *handle, encoded []byte) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-h.cancel:
			cancel()
		case <-ctx.Done():
		}
	}()

	buf, err := c.decoder.Decode(ctx, encoded)
	if err != nil {
		if c.clearIfCurrent(h) {
			c.logger.Error("audio decode failed",
				slog.String("audio_id", h.audioID),
				slog.String("error", err.Error()))
			c.emitError(h, ai.NewDecodeError(err, ""))
		}
		return
	}

	c.mu.Lock()
	if c.closed || c.generation != h.gen {
		c.mu.Unlock()
		// Superseded while decoding; the supersessor already emitted the
		// terminal callback for this handle.
		return
	}

	source, err := c.sink.Start(buf, time.Duration(c.cfg.FadeInMs)*time.Millisecond)
	if err != nil {
		c.active = nil
		c.mu.Unlock()
		c.logger.Error("audio device start failed",
			slog.String("audio_id", h.audioID),
			slog.String("error", err.Error()))
		c.emitError(h, ai.NewDeviceError(err, ""))
		return
	}
	h.source = source
	c.mu.Unlock()

	if c.cb.OnStart != nil {
		c.cb.OnStart(h.audioID)
	}

	select {
	case <-source.Done():
		if c.clearIfCurrent(h) {
			h.terminal.Do(func() {
				if c.cb.OnEnd != nil {
					c.cb.OnEnd(h.audioID)
				}
			})
		}
	case <-h.cancel:
		// Terminal callback already emitted by the stopper.
	}
}

// HardStop immediately halts the active playback, if any. Idempotent; safe to
// call when nothing is playing.
func (c *Controller) HardStop() {
	c.mu.Lock()
	c.generation++ // in-flight decodes become stale
	h := c.active
	c.active = nil
	c.mu.Unlock()

	c.terminate(h, false)
}

// SoftStop fades the active playback out over the configured duration, then
// stops it. Used for graceful termination rather than interruption.
func (c *Controller) SoftStop() {
	c.mu.Lock()
	c.generation++
	h := c.active
	c.active = nil
	c.mu.Unlock()

	c.terminate(h, true)
}

// IsPlaying reports whether a playback is pending or audible.
func (c *Controller) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Close hard-stops any playback and rejects further Play calls. The sink is
// released for good; the controller cannot be reused.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.generation++
	h := c.active
	c.active = nil
	c.mu.Unlock()

	c.terminate(h, false)
}

// terminate stops a handle and emits its single terminal callback.
func (c *Controller) terminate(h *handle, fade bool) {
	if h == nil {
		return
	}
	if h.source != nil {
		if fade {
			h.source.FadeOut(time.Duration(c.cfg.FadeOutMs) * time.Millisecond)
		} else {
			h.source.Stop()
		}
	}
	h.terminal.Do(func() {
		close(h.cancel)
		if c.cb.OnInterrupted != nil {
			c.cb.OnInterrupted(h.audioID)
		}
	})
}

// clearIfCurrent clears the active handle if h still owns the generation.
func (c *Controller) clearIfCurrent(h *handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == h && c.generation == h.gen {
		c.active = nil
		return true
	}
	return false
}

func (c *Controller) emitError(h *handle, err error) {
	h.terminal.Do(func() {
		close(h.cancel)
		if c.cb.OnError != nil {
			c.cb.OnError(h.audioID, err)
		}
	})
}
