package playback

import (
	"sync"
	"time"

	"github.com/fluentive/voiceturn/pkg/rtc"
)

// RealtimeSink simulates an output device by pacing each buffer in real time.
// It is the sink used by console mode, where the decoded audio is handed to
// the terminal host for actual rendering and the engine only needs accurate
// playback timing and termination semantics.
type RealtimeSink struct {
	// OnBuffer, when set, receives each started buffer (e.g. to write it to
	// a file or an external player).
	OnBuffer func(buf *rtc.PCMBuffer)
}

// NewRealtimeSink creates a timer-paced sink.
func NewRealtimeSink() *RealtimeSink {
	return &RealtimeSink{}
}

// Start begins a timer running for the buffer's duration. The fade-in only
// affects real rendering and is ignored for pacing.
func (s *RealtimeSink) Start(buf *rtc.PCMBuffer, fadeIn time.Duration) (Source, error) {
	if s.OnBuffer != nil {
		s.OnBuffer(buf)
	}

	src := &realtimeSource{
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
	go src.run(buf.Duration())
	return src, nil
}

type realtimeSource struct {
	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func (s *realtimeSource) run(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		close(s.done)
	case <-s.stop:
	}
}

// Stop halts the source immediately; done never closes afterwards.
func (s *realtimeSource) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// FadeOut lets the source run for the fade duration, then stops it.
func (s *realtimeSource) FadeOut(d time.Duration) {
	go func() {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.done:
		case <-s.stop:
		}
		s.Stop()
	}()
}

func (s *realtimeSource) Done() <-chan struct{} {
	return s.done
}
