package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// InteractionStatus tracks the lifecycle of one utterance->response exchange.
type InteractionStatus int

const (
	InteractionPending InteractionStatus = iota
	InteractionFulfilled
	InteractionDiscarded
)

func (s InteractionStatus) String() string {
	switch s {
	case InteractionPending:
		return "pending"
	case InteractionFulfilled:
		return "fulfilled"
	case InteractionDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Interaction is one dispatched utterance awaiting a backend response.
type Interaction struct {
	ID         uint64
	Transcript string
	Status     InteractionStatus
}

// Result carries a backend reply (or error) back to the session loop,
// tagged with the interaction id it answers.
type Result struct {
	ID         uint64
	Transcript string
	Reply      *Reply
	Err        error
}

// LatencyMetrics breaks down the user-perceived response delay of one
// fulfilled interaction. Discarded interactions never produce metrics.
type LatencyMetrics struct {
	InteractionID    uint64
	TranscriptReady  time.Duration // speech end -> final transcript
	DispatchDelay    time.Duration // final transcript -> backend request sent
	BackendRoundTrip time.Duration // backend request sent -> reply received
	PlaybackStart    time.Duration // reply received -> first audio out
	Total            time.Duration // speech end -> first audio out
}

type latencyMarks struct {
	speechEnd       time.Time
	transcriptReady time.Time
	dispatched      time.Time
	replyReceived   time.Time
}

// Coordinator owns the interaction-id counter that serializes turn-taking.
// Every dispatched utterance gets the next id; a response is applied only if
// its id is still current when it arrives. Dispatching a new utterance or
// calling Invalidate makes every in-flight response stale. In-flight backend
// requests are never aborted, only their results are discarded, so a stale
// reply costs nothing but the bytes already in transit.
type Coordinator struct {
	backend Backend
	logger  *slog.Logger
	results chan Result

	mu           sync.Mutex
	current      uint64
	interactions map[uint64]*Interaction
	marks        map[uint64]*latencyMarks
	last         *LatencyMetrics
}

// NewCoordinator returns a coordinator dispatching to backend. Results are
// delivered on the Results channel and must be drained by the session loop.
func NewCoordinator(backend Backend, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		backend:      backend,
		logger:       logger,
		results:      make(chan Result, 8),
		interactions: make(map[uint64]*Interaction),
		marks:        make(map[uint64]*latencyMarks),
	}
}

// Results delivers backend replies in arrival order, which may differ from
// dispatch order.
func (c *Coordinator) Results() <-chan Result {
	return c.results
}

// Begin allocates the next interaction id, making any in-flight interaction
// stale, and dispatches transcript to the backend in a new goroutine.
// speechEnd and transcriptReady seed the latency breakdown.
func (c *Coordinator) Begin(ctx context.Context, callID, transcript string, speechEnd, transcriptReady time.Time) uint64 {
	c.mu.Lock()
	c.current++
	id := c.current
	c.interactions[id] = &Interaction{ID: id, Transcript: transcript, Status: InteractionPending}
	c.marks[id] = &latencyMarks{
		speechEnd:       speechEnd,
		transcriptReady: transcriptReady,
		dispatched:      time.Now(),
	}
	c.mu.Unlock()

	c.logger.Debug("interaction dispatched", "interaction_id", id, "transcript_len", len(transcript))

	go func() {
		reply, err := c.backend.SendUtterance(ctx, callID, transcript)
		c.mu.Lock()
		if m, ok := c.marks[id]; ok {
			m.replyReceived = time.Now()
		}
		c.mu.Unlock()
		select {
		case c.results <- Result{ID: id, Transcript: transcript, Reply: reply, Err: err}:
		case <-ctx.Done():
		}
	}()
	return id
}

// IsCurrent reports whether id is still the interaction whose response the
// session will accept.
func (c *Coordinator) IsCurrent(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return id != 0 && id == c.current
}

// Invalidate makes every in-flight interaction stale without dispatching a
// new one. Used when the call ends or the user barges in before a new
// utterance is ready.
func (c *Coordinator) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == 0 {
		return
	}
	if in, ok := c.interactions[c.current]; ok && in.Status == InteractionPending {
		in.Status = InteractionDiscarded
	}
	// Burn an id so no outstanding response can match current.
	c.current++
}

// Fulfill marks id as the interaction whose reply was applied.
func (c *Coordinator) Fulfill(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if in, ok := c.interactions[id]; ok {
		in.Status = InteractionFulfilled
	}
}

// Discard marks id as superseded. Its latency marks are dropped.
func (c *Coordinator) Discard(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if in, ok := c.interactions[id]; ok {
		in.Status = InteractionDiscarded
	}
	delete(c.marks, id)
}

// Status returns the recorded status of id.
func (c *Coordinator) Status(id uint64) (InteractionStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	in, ok := c.interactions[id]
	if !ok {
		return 0, false
	}
	return in.Status, true
}

// MarkPlaybackStart completes the latency breakdown for id. Call it when the
// first audio of the reply reaches the output device.
func (c *Coordinator) MarkPlaybackStart(id uint64) *LatencyMetrics {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.marks[id]
	if !ok || m.replyReceived.IsZero() {
		return nil
	}
	delete(c.marks, id)
	lm := &LatencyMetrics{
		InteractionID:    id,
		TranscriptReady:  m.transcriptReady.Sub(m.speechEnd),
		DispatchDelay:    m.dispatched.Sub(m.transcriptReady),
		BackendRoundTrip: m.replyReceived.Sub(m.dispatched),
		PlaybackStart:    now.Sub(m.replyReceived),
		Total:            now.Sub(m.speechEnd),
	}
	c.last = lm
	return lm
}

// LastLatency returns the breakdown of the most recently fulfilled
// interaction, or nil before the first one completes.
func (c *Coordinator) LastLatency() *LatencyMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
