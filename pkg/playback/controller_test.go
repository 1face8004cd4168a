package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fluentive/voiceturn/pkg/ai"
	"github.com/fluentive/voiceturn/pkg/rtc"
)

// mockSource is a sink source the test completes or inspects by hand.
type mockSource struct {
	buf  *rtc.PCMBuffer
	done chan struct{}

	mu       sync.Mutex
	stopped  bool
	fadeOuts []time.Duration
}

func (s *mockSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *mockSource) FadeOut(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fadeOuts = append(s.fadeOuts, d)
	s.stopped = true
}

func (s *mockSource) Done() <-chan struct{} { return s.done }

func (s *mockSource) finish() { close(s.done) }

func (s *mockSource) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// mockSink records which buffers were ever connected to the output.
type mockSink struct {
	mu       sync.Mutex
	sources  []*mockSource
	startErr error
}

func (s *mockSink) Start(buf *rtc.PCMBuffer, fadeIn time.Duration) (Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return nil, s.startErr
	}
	src := &mockSource{buf: buf, done: make(chan struct{})}
	s.sources = append(s.sources, src)
	return src, nil
}

func (s *mockSink) started() []*mockSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*mockSource, len(s.sources))
	copy(out, s.sources)
	return out
}

// passthroughDecoder returns the payload as 16kHz mono PCM. Payloads keyed in
// gates block until released, simulating slow decodes.
type passthroughDecoder struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	fail  bool
}

func (d *passthroughDecoder) gate(payload string) chan<- struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gates == nil {
		d.gates = make(map[string]chan struct{})
	}
	ch := make(chan struct{})
	d.gates[payload] = ch
	return ch
}

func (d *passthroughDecoder) Decode(ctx context.Context, encoded []byte) (*rtc.PCMBuffer, error) {
	if d.fail {
		return nil, errors.New("corrupt payload")
	}
	d.mu.Lock()
	ch := d.gates[string(encoded)]
	d.mu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	data := make([]byte, len(encoded))
	copy(data, encoded)
	return &rtc.PCMBuffer{Data: data, SampleRate: 16000, NumChannels: 1}, nil
}

// eventLog records terminal callbacks in arrival order.
type eventLog struct {
	mu     sync.Mutex
	events []string
	errs   map[string]error
}

func newEventLog() *eventLog {
	return &eventLog{errs: make(map[string]error)}
}

func (l *eventLog) callbacks() Callbacks {
	return Callbacks{
		OnStart:       func(id string) { l.add("start:" + id) },
		OnEnd:         func(id string) { l.add("end:" + id) },
		OnInterrupted: func(id string) { l.add("interrupted:" + id) },
		OnError: func(id string, err error) {
			l.mu.Lock()
			l.errs[id] = err
			l.mu.Unlock()
			l.add("error:" + id)
		},
	}
}

func (l *eventLog) add(ev string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) count(ev string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e == ev {
			n++
		}
	}
	return n
}

func (l *eventLog) errFor(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errs[id]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestController(t *testing.T, sink Sink, dec Decoder, log *eventLog) *Controller {
	t.Helper()
	c, err := New(Config{}, sink, dec, log.callbacks(), nil)
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	return c
}

func TestController_RapidPlayBurst(t *testing.T) {
	sink := &mockSink{}
	log := newEventLog()
	dec := &passthroughDecoder{}
	// Hold the first two decodes so the whole burst is issued before any
	// decode can finish, mirroring responses racing an interrupting user.
	gateA := dec.gate("payload-a")
	gateB := dec.gate("payload-b")

	c := newTestController(t, sink, dec, log)
	defer c.Close()

	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		if !c.Play([]byte("payload-"+id), id) {
			t.Fatalf("Play(%s) rejected", id)
		}
	}
	close(gateA)
	close(gateB)

	waitFor(t, "last playback to start", func() bool { return log.count("start:c") == 1 })

	// Every superseded call gets exactly one terminal event, and only the
	// last call's audio ever reaches the sink.
	if n := log.count("interrupted:a"); n != 1 {
		t.Errorf("expected one terminal event for a, got %d", n)
	}
	if n := log.count("interrupted:b"); n != 1 {
		t.Errorf("expected one terminal event for b, got %d", n)
	}

	started := sink.started()
	if len(started) != 1 {
		t.Fatalf("expected exactly one source connected to the sink, got %d", len(started))
	}
	if string(started[0].buf.Data) != "payload-c" {
		t.Errorf("wrong audio reached the sink: %q", started[0].buf.Data)
	}

	started[0].finish()
	waitFor(t, "natural completion of c", func() bool { return log.count("end:c") == 1 })
	if c.IsPlaying() {
		t.Error("controller still playing after natural completion")
	}
}

func TestController_LateDecodeDiscarded(t *testing.T) {
	sink := &mockSink{}
	log := newEventLog()
	dec := &passthroughDecoder{}
	gateA := dec.gate("slow")

	c := newTestController(t, sink, dec, log)
	defer c.Close()

	c.Play([]byte("slow"), "a")
	c.Play([]byte("fast"), "b")

	waitFor(t, "b to start", func() bool { return log.count("start:b") == 1 })

	// a's decode completes only now; its result must be dropped.
	close(gateA)
	time.Sleep(20 * time.Millisecond)

	started := sink.started()
	if len(started) != 1 || string(started[0].buf.Data) != "fast" {
		t.Fatalf("late decode leaked into the sink: %d sources", len(started))
	}
	if n := log.count("interrupted:a"); n != 1 {
		t.Errorf("expected exactly one terminal event for a, got %d", n)
	}
	if n := log.count("error:a"); n != 0 {
		t.Errorf("stale decode must not surface an error, got %d", n)
	}
}

func TestController_HardStopIdempotent(t *testing.T) {
	sink := &mockSink{}
	log := newEventLog()
	c := newTestController(t, sink, &passthroughDecoder{}, log)
	defer c.Close()

	if c.IsPlaying() {
		t.Fatal("fresh controller reports playing")
	}
	c.HardStop()
	c.HardStop()
	if c.IsPlaying() {
		t.Error("hard stop changed IsPlaying from false")
	}
	if len(log.events) != 0 {
		t.Errorf("hard stop with nothing playing emitted events: %v", log.events)
	}
}

func TestController_HardStopInterruptsActive(t *testing.T) {
	sink := &mockSink{}
	log := newEventLog()
	c := newTestController(t, sink, &passthroughDecoder{}, log)
	defer c.Close()

	c.Play([]byte("audio"), "x")
	waitFor(t, "playback start", func() bool { return log.count("start:x") == 1 })

	c.HardStop()

	if n := log.count("interrupted:x"); n != 1 {
		t.Errorf("expected one interrupted event, got %d", n)
	}
	if n := log.count("end:x"); n != 0 {
		t.Errorf("hard-stopped playback must not report natural end")
	}
	if !sink.started()[0].isStopped() {
		t.Error("source was not stopped")
	}
	if c.IsPlaying() {
		t.Error("controller still playing after hard stop")
	}
}

func TestController_SoftStopFades(t *testing.T) {
	sink := &mockSink{}
	log := newEventLog()
	c, err := New(Config{FadeOutMs: 30}, sink, &passthroughDecoder{}, log.callbacks(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	c.Play([]byte("audio"), "x")
	waitFor(t, "playback start", func() bool { return log.count("start:x") == 1 })

	c.SoftStop()

	src := sink.started()[0]
	src.mu.Lock()
	fades := append([]time.Duration(nil), src.fadeOuts...)
	src.mu.Unlock()
	if len(fades) != 1 || fades[0] != 30*time.Millisecond {
		t.Errorf("expected one 30ms fade-out, got %v", fades)
	}
	if n := log.count("interrupted:x"); n != 1 {
		t.Errorf("expected one terminal event, got %d", n)
	}
}

func TestController_DecodeError(t *testing.T) {
	sink := &mockSink{}
	log := newEventLog()
	c := newTestController(t, sink, &passthroughDecoder{fail: true}, log)
	defer c.Close()

	if !c.Play([]byte("garbage"), "x") {
		t.Fatal("Play rejected a well-formed request")
	}

	waitFor(t, "decode error", func() bool { return log.count("error:x") == 1 })

	if got := ai.CategoryOf(log.errFor("x")); got != ai.CategoryDecode {
		t.Errorf("expected decode category, got %q", got)
	}
	if c.IsPlaying() {
		t.Error("controller stuck in playing state after decode failure")
	}
	if len(sink.started()) != 0 {
		t.Error("failed decode reached the sink")
	}
}

func TestController_DeviceError(t *testing.T) {
	sink := &mockSink{startErr: errors.New("device busy")}
	log := newEventLog()
	c := newTestController(t, sink, &passthroughDecoder{}, log)
	defer c.Close()

	c.Play([]byte("audio"), "x")
	waitFor(t, "device error", func() bool { return log.count("error:x") == 1 })

	if got := ai.CategoryOf(log.errFor("x")); got != ai.CategoryDevice {
		t.Errorf("expected device category, got %q", got)
	}
	if c.IsPlaying() {
		t.Error("controller stuck in playing state after device failure")
	}
}

func TestController_StopPrecedesDecodeFailure(t *testing.T) {
	// The previous playback stops even when the new payload turns out to be
	// undecodable.
	sink := &mockSink{}
	log := newEventLog()
	dec := &passthroughDecoder{}
	c := newTestController(t, sink, dec, log)
	defer c.Close()

	c.Play([]byte("good"), "a")
	waitFor(t, "first playback", func() bool { return log.count("start:a") == 1 })

	dec.fail = true
	c.Play([]byte("bad"), "b")

	if n := log.count("interrupted:a"); n != 1 {
		t.Errorf("previous playback not stopped before failed decode: %d", n)
	}
	waitFor(t, "decode error for b", func() bool { return log.count("error:b") == 1 })
	if c.IsPlaying() {
		t.Error("controller playing after failed supersession")
	}
}

func TestController_CloseRejectsPlay(t *testing.T) {
	sink := &mockSink{}
	log := newEventLog()
	c := newTestController(t, sink, &passthroughDecoder{}, log)

	c.Close()
	if c.Play([]byte("audio"), "x") {
		t.Error("Play accepted after Close")
	}
	c.Close() // idempotent
}

func TestController_EmptyPayloadRejected(t *testing.T) {
	sink := &mockSink{}
	log := newEventLog()
	c := newTestController(t, sink, &passthroughDecoder{}, log)
	defer c.Close()

	if c.Play(nil, "x") {
		t.Error("empty payload accepted")
	}
}

func TestController_ManyRapidBursts(t *testing.T) {
	sink := &mockSink{}
	log := newEventLog()
	c := newTestController(t, sink, &passthroughDecoder{}, log)
	defer c.Close()

	const n = 20
	for i := 0; i < n; i++ {
		c.Play([]byte(fmt.Sprintf("p%d", i)), fmt.Sprintf("id%d", i))
	}
	last := fmt.Sprintf("id%d", n-1)
	waitFor(t, "final playback", func() bool { return log.count("start:"+last) == 1 })

	// Every call but the last has exactly one terminal event.
	for i := 0; i < n-1; i++ {
		id := fmt.Sprintf("id%d", i)
		total := log.count("interrupted:"+id) + log.count("end:"+id) + log.count("error:"+id)
		if total != 1 {
			t.Errorf("call %s: expected exactly one terminal event, got %d", id, total)
		}
	}

	started := sink.started()
	for _, src := range started[:len(started)-1] {
		if !src.isStopped() {
			t.Error("a superseded source was left running")
		}
	}
	lastSrc := started[len(started)-1]
	if string(lastSrc.buf.Data) != fmt.Sprintf("p%d", n-1) {
		t.Errorf("last audible buffer is %q", lastSrc.buf.Data)
	}
}
