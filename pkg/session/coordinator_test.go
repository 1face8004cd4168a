package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// scriptedBackend answers SendUtterance per-transcript, optionally blocking
// until a gate channel is closed.
type scriptedBackend struct {
	mu      sync.Mutex
	replies map[string]*Reply
	errs    map[string]error
	gates   map[string]chan struct{}

	greeting      *CallInfo
	startErr      error
	summary       *Summary
	endErr        error
	sentCount     int
	endedWith     EndReason
	endCallCalled bool
}

func newScriptedBackend() *scriptedBackend {
	return &scriptedBackend{
		replies:  make(map[string]*Reply),
		errs:     make(map[string]error),
		gates:    make(map[string]chan struct{}),
		greeting: &CallInfo{CallID: "call-1"},
		summary:  &Summary{Text: "done"},
	}
}

func (b *scriptedBackend) reply(transcript, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies[transcript] = &Reply{Text: text}
}

// gate makes SendUtterance for transcript block until the returned channel
// is closed.
func (b *scriptedBackend) gate(transcript string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	g := make(chan struct{})
	b.gates[transcript] = g
	return g
}

func (b *scriptedBackend) StartCall(ctx context.Context, opts StartCallOptions) (*CallInfo, error) {
	if b.startErr != nil {
		return nil, b.startErr
	}
	return b.greeting, nil
}

func (b *scriptedBackend) SendUtterance(ctx context.Context, callID, transcript string) (*Reply, error) {
	b.mu.Lock()
	g := b.gates[transcript]
	b.mu.Unlock()
	if g != nil {
		select {
		case <-g:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sentCount++
	if err := b.errs[transcript]; err != nil {
		return nil, err
	}
	if r, ok := b.replies[transcript]; ok {
		return r, nil
	}
	return &Reply{Text: "echo: " + transcript}, nil
}

func (b *scriptedBackend) EndCall(ctx context.Context, callID string, reason EndReason) (*Summary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endCallCalled = true
	b.endedWith = reason
	if b.endErr != nil {
		return nil, b.endErr
	}
	return b.summary, nil
}

func nextResult(t *testing.T, c *Coordinator) Result {
	t.Helper()
	select {
	case res := <-c.Results():
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for coordinator result")
		return Result{}
	}
}

func TestCoordinator_SingleInteraction(t *testing.T) {
	backend := newScriptedBackend()
	backend.reply("hello", "hi there")
	c := NewCoordinator(backend, nil)

	now := time.Now()
	id := c.Begin(context.Background(), "call-1", "hello", now, now)
	if !c.IsCurrent(id) {
		t.Fatal("freshly dispatched interaction should be current")
	}

	res := nextResult(t, c)
	if res.ID != id {
		t.Fatalf("result id = %d, want %d", res.ID, id)
	}
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Reply.Text != "hi there" {
		t.Errorf("reply text = %q, want %q", res.Reply.Text, "hi there")
	}
}

func TestCoordinator_NewerDispatchMakesOlderStale(t *testing.T) {
	backend := newScriptedBackend()
	slow := backend.gate("first")
	c := NewCoordinator(backend, nil)

	now := time.Now()
	first := c.Begin(context.Background(), "call-1", "first", now, now)
	second := c.Begin(context.Background(), "call-1", "second", now, now)

	if c.IsCurrent(first) {
		t.Error("first interaction should be stale after second dispatch")
	}
	if !c.IsCurrent(second) {
		t.Error("second interaction should be current")
	}

	// Second reply arrives while first is still in flight.
	res := nextResult(t, c)
	if res.ID != second {
		t.Fatalf("expected second result first, got id %d", res.ID)
	}
	c.Fulfill(second)

	// First reply eventually lands; it must not be current.
	close(slow)
	res = nextResult(t, c)
	if res.ID != first {
		t.Fatalf("expected first result, got id %d", res.ID)
	}
	if c.IsCurrent(res.ID) {
		t.Error("late reply must not be current")
	}
	c.Discard(res.ID)

	if st, _ := c.Status(first); st != InteractionDiscarded {
		t.Errorf("first status = %s, want discarded", st)
	}
	if st, _ := c.Status(second); st != InteractionFulfilled {
		t.Errorf("second status = %s, want fulfilled", st)
	}
}

func TestCoordinator_Invalidate(t *testing.T) {
	backend := newScriptedBackend()
	c := NewCoordinator(backend, nil)

	now := time.Now()
	id := c.Begin(context.Background(), "call-1", "hello", now, now)
	c.Invalidate()

	if c.IsCurrent(id) {
		t.Error("interaction should not be current after Invalidate")
	}
	if st, _ := c.Status(id); st != InteractionDiscarded {
		t.Errorf("status = %s, want discarded", st)
	}

	// The in-flight request still completes; its result is simply stale.
	res := nextResult(t, c)
	if c.IsCurrent(res.ID) {
		t.Error("result of invalidated interaction must be stale")
	}
}

func TestCoordinator_InvalidateIdle(t *testing.T) {
	c := NewCoordinator(newScriptedBackend(), nil)
	c.Invalidate() // no interaction yet; must not panic or burn ids
	id := c.Begin(context.Background(), "call-1", "hello", time.Now(), time.Now())
	if !c.IsCurrent(id) {
		t.Error("dispatch after idle Invalidate should be current")
	}
}

func TestCoordinator_LatencyBreakdown(t *testing.T) {
	backend := newScriptedBackend()
	c := NewCoordinator(backend, nil)

	speechEnd := time.Now().Add(-50 * time.Millisecond)
	ready := time.Now().Add(-10 * time.Millisecond)
	id := c.Begin(context.Background(), "call-1", "hello", speechEnd, ready)
	nextResult(t, c)

	lm := c.MarkPlaybackStart(id)
	if lm == nil {
		t.Fatal("expected latency metrics after reply received")
	}
	if lm.TranscriptReady < 30*time.Millisecond {
		t.Errorf("transcript latency = %v, want >= 40ms-ish", lm.TranscriptReady)
	}
	if lm.Total < lm.BackendRoundTrip {
		t.Errorf("total %v should cover backend round trip %v", lm.Total, lm.BackendRoundTrip)
	}
	if got := c.LastLatency(); got != lm {
		t.Error("LastLatency should return the most recent breakdown")
	}
}

func TestCoordinator_NoMetricsBeforeReply(t *testing.T) {
	backend := newScriptedBackend()
	g := backend.gate("hello")
	defer close(g)
	c := NewCoordinator(backend, nil)

	id := c.Begin(context.Background(), "call-1", "hello", time.Now(), time.Now())
	if lm := c.MarkPlaybackStart(id); lm != nil {
		t.Error("metrics must not exist before the reply arrives")
	}
}

func TestCoordinator_DiscardedInteractionHasNoMetrics(t *testing.T) {
	backend := newScriptedBackend()
	c := NewCoordinator(backend, nil)

	id := c.Begin(context.Background(), "call-1", "hello", time.Now(), time.Now())
	nextResult(t, c)
	c.Discard(id)
	if lm := c.MarkPlaybackStart(id); lm != nil {
		t.Error("discarded interaction must not produce latency metrics")
	}
}

func TestCoordinator_BackendError(t *testing.T) {
	backend := newScriptedBackend()
	backend.mu.Lock()
	backend.errs["hello"] = fmt.Errorf("backend unavailable")
	backend.mu.Unlock()
	c := NewCoordinator(backend, nil)

	c.Begin(context.Background(), "call-1", "hello", time.Now(), time.Now())
	res := nextResult(t, c)
	if res.Err == nil {
		t.Fatal("expected error result")
	}
	if res.Reply != nil {
		t.Error("error result should carry no reply")
	}
}
