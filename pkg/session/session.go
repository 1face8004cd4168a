package session

import (
	"context"
	"expvar"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fluentive/voiceturn/pkg/ai"
	"github.com/fluentive/voiceturn/pkg/ai/stt"
	"github.com/fluentive/voiceturn/pkg/ai/tts"
	"github.com/fluentive/voiceturn/pkg/ai/vad"
	"github.com/fluentive/voiceturn/pkg/audio/wav"
	"github.com/fluentive/voiceturn/pkg/playback"
	"github.com/fluentive/voiceturn/pkg/rtc"
	"github.com/fluentive/voiceturn/pkg/turn"
	"github.com/fluentive/voiceturn/pkg/voice"
)

// Status is the call session's lifecycle state.
type Status int32

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusActive
	StatusProcessing
	StatusEnding
	StatusEnded
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusActive:
		return "active"
	case StatusProcessing:
		return "processing"
	case StatusEnding:
		return "ending"
	case StatusEnded:
		return "ended"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Config holds everything a Session needs. Backend, Detector, STT, Sink and
// MicIn are required; the rest default via DefaultConfig.
type Config struct {
	Backend  Backend
	Detector vad.Detector
	STT      stt.STT
	Sink     playback.Sink

	// TTS synthesizes fallback speech when the backend sends text without
	// audio, and the re-engagement prompt. Optional.
	TTS tts.TTS

	// TurnDetector, when set, holds dispatch briefly after a silence-detected
	// end that looks like a mid-sentence pause. Optional.
	TurnDetector turn.Detector

	// Decoder turns backend audio payloads into PCM. Defaults to the
	// format-sniffing decoder.
	Decoder playback.Decoder

	MicIn <-chan rtc.AudioFrame

	Scenario string
	CourseID string
	Language string

	SampleRate  int
	NumChannels int

	// AllowInterruptions lets the user barge in while the assistant speaks.
	// When false, mic frames captured during assistant speech are discarded.
	AllowInterruptions bool

	// TurnHoldMs is how long dispatch waits when the turn detector judges
	// the utterance incomplete. Zero disables the hold.
	TurnHoldMs int

	// ReengagementMs is the silence window after which the assistant prompts
	// an unresponsive user. Zero disables re-engagement.
	ReengagementMs int

	ReengagementPrompt string

	Playback playback.Config

	// OnInterim receives partial transcripts for display. Optional; called
	// from a transcription goroutine.
	OnInterim func(text string)

	Logger *slog.Logger
}

// DefaultConfig returns a Config with stock tuning. Callers fill in the
// required dependencies.
func DefaultConfig() Config {
	return Config{
		Language:           "en-US",
		SampleRate:         16000,
		NumChannels:        1,
		AllowInterruptions: true,
		TurnHoldMs:         800,
		ReengagementMs:     8000,
		ReengagementPrompt: "Are you still there?",
		Playback:           playback.DefaultConfig(),
	}
}

// Metrics holds the session's exported counters.
type Metrics struct {
	SessionDuration       *expvar.Float
	StateTransitions      *expvar.Map
	InteractionsFulfilled *expvar.Int
	InteractionsDiscarded *expvar.Int
	LastTurnLatencyMs     *expvar.Float
}

func newMetrics() *Metrics {
	transitions := &expvar.Map{}
	transitions.Init()
	return &Metrics{
		SessionDuration:       &expvar.Float{},
		StateTransitions:      transitions,
		InteractionsFulfilled: &expvar.Int{},
		InteractionsDiscarded: &expvar.Int{},
		LastTurnLatencyMs:     &expvar.Float{},
	}
}

type pbEventKind int

const (
	pbStart pbEventKind = iota
	pbEnd
	pbInterrupted
	pbError
)

type pbEvent struct {
	kind    pbEventKind
	audioID string
	err     error
}

type transcriptResult struct {
	text      string
	speechEnd time.Time
	ready     time.Time
	err       error
}

type endRequest struct {
	reason EndReason
	resp   chan endResponse
}

type endResponse struct {
	summary *Summary
	err     error
}

// Session drives one call: it owns the state machine, the playback
// controller, the interaction coordinator, and the microphone gate. Start
// runs the loop until the call ends, the context is cancelled, or a fatal
// error occurs.
type Session struct {
	cfg    Config
	logger *slog.Logger

	state   atomic.Int32
	metrics *Metrics

	controller *playback.Controller
	coord      *Coordinator
	gate       voice.Gate

	callID string

	msgMu    sync.Mutex
	messages []Message

	pbEvents    chan pbEvent
	transcripts chan transcriptResult
	ends        chan endRequest
	shutdown    chan struct{}
	stopOnce    sync.Once
	loopDone    chan struct{}

	// Loop-owned state; touched only from run.
	speechActive  bool
	pendingResult *Result
	heldText      string
	heldSpeechEnd time.Time
	heldReady     time.Time
	holdTimer     *time.Timer
	reengageTimer *time.Timer
	playingAudio  string
	playingID     uint64
	sessionStart  time.Time
}

// New validates cfg and returns an idle session.
func New(cfg Config) (*Session, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if cfg.Detector == nil {
		return nil, fmt.Errorf("VAD detector is required")
	}
	if cfg.STT == nil {
		return nil, fmt.Errorf("STT is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("playback sink is required")
	}
	if cfg.MicIn == nil {
		return nil, fmt.Errorf("MicIn channel is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Decoder == nil {
		cfg.Decoder = playback.NewAutoDecoder()
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.NumChannels == 0 {
		cfg.NumChannels = 1
	}

	s := &Session{
		cfg:         cfg,
		logger:      cfg.Logger,
		metrics:     newMetrics(),
		gate:        voice.NewGate(cfg.AllowInterruptions),
		pbEvents:    make(chan pbEvent, 16),
		transcripts: make(chan transcriptResult, 4),
		ends:        make(chan endRequest),
		shutdown:    make(chan struct{}),
	}
	s.setState(StatusIdle)
	return s, nil
}

// Status returns the session's current state.
func (s *Session) Status() Status {
	return Status(s.state.Load())
}

// Messages returns a copy of the conversation log.
func (s *Session) Messages() []Message {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Metrics returns the session's exported counters.
func (s *Session) Metrics() *Metrics {
	return s.metrics
}

// LastLatency returns the latency breakdown of the most recent fulfilled
// interaction.
func (s *Session) LastLatency() *LatencyMetrics {
	if s.coord == nil {
		return nil
	}
	return s.coord.LastLatency()
}

func (s *Session) setState(next Status) {
	prev := Status(s.state.Swap(int32(next)))
	if prev == next {
		return
	}
	key := fmt.Sprintf("%s_to_%s", prev, next)
	if counter := s.metrics.StateTransitions.Get(key); counter != nil {
		counter.(*expvar.Int).Add(1)
	} else {
		c := &expvar.Int{}
		c.Set(1)
		s.metrics.StateTransitions.Set(key, c)
	}
	s.logger.Debug("session state", "from", prev.String(), "to", next.String())
}

// Start connects the call and runs the session loop. It blocks until the
// call ends (EndCall), Close is called, ctx is cancelled, or a fatal error
// occurs. The playback device is released on every exit path.
func (s *Session) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StatusIdle), int32(StatusConnecting)) {
		return fmt.Errorf("session already started (state %s)", s.Status())
	}
	s.metrics.StateTransitions.Add("idle_to_connecting", 1)
	done := make(chan struct{})
	s.loopDone = done
	defer close(done)
	s.sessionStart = time.Now()
	defer func() {
		s.metrics.SessionDuration.Set(float64(time.Since(s.sessionStart).Milliseconds()))
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.Close()

	controller, err := playback.New(s.cfg.Playback, s.cfg.Sink, s.cfg.Decoder, s.playbackCallbacks(s.pbEvents, s.shutdown), s.logger)
	if err != nil {
		s.setState(StatusError)
		return fmt.Errorf("playback controller: %w", err)
	}
	s.controller = controller
	defer controller.Close()

	s.coord = NewCoordinator(s.cfg.Backend, s.logger)

	info, err := s.cfg.Backend.StartCall(ctx, StartCallOptions{
		Scenario: s.cfg.Scenario,
		CourseID: s.cfg.CourseID,
		Language: s.cfg.Language,
	})
	if err != nil {
		s.setState(StatusError)
		return fmt.Errorf("start call: %w", err)
	}
	s.callID = info.CallID
	s.logger.Info("call started", "call_id", s.callID, "scenario", s.cfg.Scenario)

	vadEvents, err := s.cfg.Detector.Detect(ctx, s.gatedMic(ctx))
	if err != nil {
		s.setState(StatusError)
		return fmt.Errorf("start VAD: %w", err)
	}

	s.setState(StatusActive)

	if info.GreetingText != "" || len(info.GreetingAudio) > 0 {
		s.appendMessage(Message{Role: RoleAssistant, Content: info.GreetingText, AudioID: s.playReply(ctx, 0, info.GreetingText, info.GreetingAudio)})
	} else {
		s.armReengage()
	}

	return s.run(ctx, vadEvents)
}

// EndCall gracefully terminates the call: current playback fades out,
// in-flight interactions are invalidated, and the backend is asked for a
// summary. Blocks until the loop has finished.
func (s *Session) EndCall(ctx context.Context, reason EndReason) (*Summary, error) {
	req := endRequest{reason: reason, resp: make(chan endResponse, 1)}
	select {
	case s.ends <- req:
	case <-s.shutdown:
		return nil, fmt.Errorf("session closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case resp := <-req.resp:
		return resp.summary, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close abandons the session without a summary. Safe to call from any state;
// idempotent.
func (s *Session) Close() {
	s.stopOnce.Do(func() {
		close(s.shutdown)
	})
}

// Reset returns the session to idle so it can be started again. It stops a
// running loop, waits for it to exit, and clears all per-call state. Must not
// be called concurrently with Start.
func (s *Session) Reset() {
	s.Close()
	if s.loopDone != nil {
		<-s.loopDone
		s.loopDone = nil
	}

	s.msgMu.Lock()
	s.messages = nil
	s.msgMu.Unlock()

	s.callID = ""
	s.controller = nil
	s.coord = nil
	s.speechActive = false
	s.pendingResult = nil
	s.heldText = ""
	s.heldSpeechEnd = time.Time{}
	s.heldReady = time.Time{}
	s.holdTimer = nil
	s.reengageTimer = nil
	s.playingAudio = ""
	s.playingID = 0
	s.gate.SetAssistantSpeaking(false)

	s.pbEvents = make(chan pbEvent, 16)
	s.transcripts = make(chan transcriptResult, 4)
	s.ends = make(chan endRequest)
	s.shutdown = make(chan struct{})
	s.stopOnce = sync.Once{}

	s.state.Store(int32(StatusIdle))
}

// gatedMic filters microphone frames through the interruption gate before
// they reach the detector. When interruptions are disabled, frames captured
// while the assistant speaks never become barge-ins.
func (s *Session) gatedMic(ctx context.Context) <-chan rtc.AudioFrame {
	out := make(chan rtc.AudioFrame, 8)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.shutdown:
				return
			case frame, ok := <-s.cfg.MicIn:
				if !ok {
					return
				}
				if s.gate.ShouldDiscardFrame() {
					continue
				}
				select {
				case out <- frame:
				case <-ctx.Done():
					return
				case <-s.shutdown:
					return
				}
			}
		}
	}()
	return out
}

// playbackCallbacks bridges controller events into the loop. The gate flips
// synchronously so mic frames are classified against the true output state,
// not the loop's view of it.
func (s *Session) playbackCallbacks(events chan<- pbEvent, shutdown <-chan struct{}) playback.Callbacks {
	emit := func(ev pbEvent) {
		select {
		case events <- ev:
		case <-shutdown:
		}
	}
	return playback.Callbacks{
		OnStart: func(audioID string) {
			s.gate.SetAssistantSpeaking(true)
			emit(pbEvent{kind: pbStart, audioID: audioID})
		},
		OnEnd: func(audioID string) {
			s.gate.SetAssistantSpeaking(false)
			emit(pbEvent{kind: pbEnd, audioID: audioID})
		},
		OnInterrupted: func(audioID string) {
			s.gate.SetAssistantSpeaking(false)
			emit(pbEvent{kind: pbInterrupted, audioID: audioID})
		},
		OnError: func(audioID string, err error) {
			s.gate.SetAssistantSpeaking(false)
			emit(pbEvent{kind: pbError, audioID: audioID, err: err})
		},
	}
}

func (s *Session) run(ctx context.Context, vadEvents <-chan vad.Event) error {
	for {
		var holdC, reengageC <-chan time.Time
		if s.holdTimer != nil {
			holdC = s.holdTimer.C
		}
		if s.reengageTimer != nil {
			reengageC = s.reengageTimer.C
		}

		select {
		case <-ctx.Done():
			s.setState(StatusEnded)
			return ctx.Err()

		case <-s.shutdown:
			s.setState(StatusEnded)
			return nil

		case req := <-s.ends:
			summary, err := s.finishCall(ctx, req.reason)
			req.resp <- endResponse{summary: summary, err: err}
			return err

		case ev, ok := <-vadEvents:
			if !ok {
				s.setState(StatusEnded)
				return nil
			}
			if err := s.handleVADEvent(ctx, ev); err != nil {
				s.setState(StatusError)
				return err
			}

		case tr := <-s.transcripts:
			s.handleTranscript(ctx, tr)

		case res := <-s.coord.Results():
			if err := s.handleResult(ctx, res); err != nil {
				s.setState(StatusError)
				return err
			}

		case ev := <-s.pbEvents:
			s.handlePlaybackEvent(ev)

		case <-holdC:
			s.holdTimer = nil
			if s.heldText != "" {
				text := s.heldText
				s.heldText = ""
				s.dispatch(ctx, text, s.heldSpeechEnd, s.heldReady)
			}

		case <-reengageC:
			s.reengageTimer = nil
			s.handleReengage(ctx)
		}
	}
}

func (s *Session) handleVADEvent(ctx context.Context, ev vad.Event) error {
	switch ev.Type {
	case vad.EventSpeechStart:
		// Barge-in: kill assistant audio before anything else. A misfire
		// still stops playback; it just never produces an interaction.
		s.controller.HardStop()
		s.speechActive = true
		s.stopReengage()
		s.stopHold()

	case vad.EventSpeechEnd:
		s.speechActive = false
		go s.transcribe(ctx, ev.Segment, ev.Timestamp)

	case vad.EventMisfire:
		s.speechActive = false
		// No interaction, no state change. A reply that arrived mid-cough
		// can go out now.
		if s.pendingResult != nil {
			res := *s.pendingResult
			s.pendingResult = nil
			return s.handleResult(ctx, res)
		}
		s.armReengageIfIdle()

	case vad.EventError:
		if ai.IsFatal(ev.Error) {
			return fmt.Errorf("voice activity detection: %w", ev.Error)
		}
		s.logger.Warn("VAD error", "error", ev.Error, "category", ai.CategoryOf(ev.Error))
	}
	return nil
}

// transcribe runs one utterance segment through STT off the loop goroutine
// and delivers the final transcript on s.transcripts.
func (s *Session) transcribe(ctx context.Context, segment []rtc.AudioFrame, speechEnd time.Time) {
	result := transcriptResult{speechEnd: speechEnd}
	defer func() {
		result.ready = time.Now()
		select {
		case s.transcripts <- result:
		case <-ctx.Done():
		case <-s.shutdown:
		}
	}()

	stream, err := s.cfg.STT.NewStream(ctx, stt.StreamConfig{
		SampleRate:  s.cfg.SampleRate,
		NumChannels: s.cfg.NumChannels,
		Language:    s.cfg.Language,
	})
	if err != nil {
		result.err = fmt.Errorf("open STT stream: %w", err)
		return
	}

	go func() {
		for _, frame := range segment {
			if err := stream.Push(frame); err != nil {
				break
			}
		}
		stream.CloseSend()
	}()

	for ev := range stream.Events() {
		switch ev.Type {
		case stt.EventInterim:
			if s.cfg.OnInterim != nil {
				s.cfg.OnInterim(ev.Text)
			}
		case stt.EventFinal:
			result.text = strings.TrimSpace(ev.Text)
		case stt.EventError:
			result.err = ev.Error
		}
	}
}

func (s *Session) handleTranscript(ctx context.Context, tr transcriptResult) {
	if tr.err != nil {
		// Transcription failures are recoverable: log, stay listening.
		s.logger.Warn("transcription failed", "error", tr.err, "category", ai.CategoryOf(tr.err))
		s.armReengageIfIdle()
		return
	}

	text := strings.TrimSpace(s.heldText + " " + tr.text)
	s.heldText = ""
	s.stopHold()

	if text == "" {
		// No speech recognized; treat like a misfire.
		if s.pendingResult != nil {
			res := *s.pendingResult
			s.pendingResult = nil
			if err := s.handleResult(ctx, res); err != nil {
				s.logger.Error("deferred reply failed", "error", err)
			}
			return
		}
		s.armReengageIfIdle()
		return
	}

	if s.shouldHold(ctx, text) {
		s.heldText = text
		s.heldSpeechEnd = tr.speechEnd
		s.heldReady = tr.ready
		s.holdTimer = time.NewTimer(time.Duration(s.cfg.TurnHoldMs) * time.Millisecond)
		s.logger.Debug("holding dispatch for turn completion", "transcript_len", len(text))
		return
	}

	s.dispatch(ctx, text, tr.speechEnd, tr.ready)
}

// shouldHold asks the turn detector whether the utterance looks unfinished.
// Detector failures never block dispatch.
func (s *Session) shouldHold(ctx context.Context, text string) bool {
	if s.cfg.TurnDetector == nil || s.cfg.TurnHoldMs <= 0 {
		return false
	}
	msgs := make([]turn.Message, 0, 8)
	for _, m := range s.Messages() {
		msgs = append(msgs, turn.Message{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, turn.Message{Role: string(RoleUser), Content: text})

	p, err := s.cfg.TurnDetector.PredictEndOfTurn(ctx, turn.Context{Messages: msgs, Language: s.cfg.Language})
	if err != nil {
		s.logger.Debug("turn prediction failed", "error", err)
		return false
	}
	threshold, err := s.cfg.TurnDetector.UnlikelyThreshold(s.cfg.Language)
	if err != nil {
		return false
	}
	return p < threshold
}

// dispatch sends the utterance to the backend under a fresh interaction id,
// superseding anything in flight.
func (s *Session) dispatch(ctx context.Context, text string, speechEnd, ready time.Time) {
	// A stale reply that arrived early is now superseded for good.
	if s.pendingResult != nil {
		s.coord.Discard(s.pendingResult.ID)
		s.metrics.InteractionsDiscarded.Add(1)
		s.pendingResult = nil
	}
	s.controller.HardStop()
	s.stopReengage()
	s.coord.Begin(ctx, s.callID, text, speechEnd, ready)
	s.setState(StatusProcessing)
}

func (s *Session) handleResult(ctx context.Context, res Result) error {
	if !s.coord.IsCurrent(res.ID) {
		s.coord.Discard(res.ID)
		s.metrics.InteractionsDiscarded.Add(1)
		s.logger.Debug("discarded stale response", "interaction_id", res.ID)
		return nil
	}

	if res.Err != nil {
		if ai.IsFatal(res.Err) {
			return fmt.Errorf("backend response: %w", res.Err)
		}
		s.coord.Discard(res.ID)
		s.logger.Warn("backend request failed", "interaction_id", res.ID,
			"error", res.Err, "category", ai.CategoryOf(res.Err))
		s.setState(StatusActive)
		s.armReengageIfIdle()
		return nil
	}

	if s.speechActive {
		// User is mid-utterance; don't talk over them. The reply goes out
		// if the speech turns out to be a misfire, and is superseded if a
		// new utterance dispatches first.
		s.pendingResult = &res
		return nil
	}

	s.coord.Fulfill(res.ID)
	s.metrics.InteractionsFulfilled.Add(1)

	s.appendMessage(Message{Role: RoleUser, Content: res.Transcript})
	audioID := s.playReply(ctx, res.ID, res.Reply.Text, res.Reply.Audio)
	s.appendMessage(Message{Role: RoleAssistant, Content: res.Reply.Text, AudioID: audioID})

	if audioID == "" {
		// Nothing to play; the turn is over now.
		s.setState(StatusActive)
		s.armReengage()
	}
	return nil
}

// playReply starts playback of a reply. When the backend sent no audio the
// local TTS synthesizes the text instead; the synthesized buffer re-enters
// the controller as a WAV payload so late synthesis still loses to any newer
// interaction. Returns the audio id, or "" when there is nothing to play.
func (s *Session) playReply(ctx context.Context, interactionID uint64, text string, audio []byte) string {
	audioID := uuid.NewString()
	switch {
	case len(audio) > 0:
		s.playingAudio = audioID
		s.playingID = interactionID
		s.controller.Play(audio, audioID)
	case s.cfg.TTS != nil && text != "":
		s.playingAudio = audioID
		s.playingID = interactionID
		go func() {
			buf, err := s.cfg.TTS.Synthesize(ctx, tts.SynthesizeRequest{
				Text:     text,
				Language: s.cfg.Language,
			})
			if err != nil {
				s.logger.Warn("fallback synthesis failed", "error", err, "category", ai.CategoryOf(err))
				select {
				case s.pbEvents <- pbEvent{kind: pbError, audioID: audioID, err: err}:
				case <-s.shutdown:
				}
				return
			}
			s.controller.Play(wav.Encode(buf), audioID)
		}()
	default:
		return ""
	}
	return audioID
}

func (s *Session) handlePlaybackEvent(ev pbEvent) {
	switch ev.kind {
	case pbStart:
		if ev.audioID == s.playingAudio && s.playingID != 0 {
			if lm := s.coord.MarkPlaybackStart(s.playingID); lm != nil {
				s.metrics.LastTurnLatencyMs.Set(float64(lm.Total.Milliseconds()))
				s.logger.Info("turn latency",
					"interaction_id", lm.InteractionID,
					"transcript_ms", lm.TranscriptReady.Milliseconds(),
					"backend_ms", lm.BackendRoundTrip.Milliseconds(),
					"playback_ms", lm.PlaybackStart.Milliseconds(),
					"total_ms", lm.Total.Milliseconds())
			}
		}

	case pbEnd:
		if ev.audioID == s.playingAudio {
			s.playingAudio = ""
			s.playingID = 0
			if s.Status() == StatusProcessing {
				s.setState(StatusActive)
			}
			s.armReengageIfIdle()
		}

	case pbInterrupted:
		if ev.audioID == s.playingAudio {
			s.playingAudio = ""
			s.playingID = 0
			if s.Status() == StatusProcessing {
				s.setState(StatusActive)
			}
			// No re-engagement: an interruption means the user is active.
		}

	case pbError:
		s.logger.Warn("playback failed", "audio_id", ev.audioID,
			"error", ev.err, "category", ai.CategoryOf(ev.err))
		if ev.audioID == s.playingAudio {
			s.playingAudio = ""
			s.playingID = 0
			if s.Status() == StatusProcessing {
				s.setState(StatusActive)
			}
			s.armReengageIfIdle()
		}
	}
}

// handleReengage prompts a silent user. Fires only when fully idle; anything
// that happened since arming re-checks here.
func (s *Session) handleReengage(ctx context.Context) {
	if s.speechActive || s.playingAudio != "" || s.Status() != StatusActive {
		return
	}
	if s.cfg.ReengagementPrompt == "" {
		return
	}
	s.logger.Debug("re-engaging silent user")
	audioID := s.playReply(ctx, 0, s.cfg.ReengagementPrompt, nil)
	s.appendMessage(Message{Role: RoleAssistant, Content: s.cfg.ReengagementPrompt, AudioID: audioID})
	// Text-only prompt: no playback end will re-arm the timer, so keep the
	// silence countdown running here.
	if audioID == "" {
		s.armReengage()
	}
}

// finishCall runs the graceful shutdown sequence: fade out audio, invalidate
// in-flight interactions, fetch the summary.
func (s *Session) finishCall(ctx context.Context, reason EndReason) (*Summary, error) {
	s.setState(StatusEnding)
	s.controller.SoftStop()
	s.coord.Invalidate()
	s.stopHold()
	s.stopReengage()

	summary, err := s.cfg.Backend.EndCall(ctx, s.callID, reason)
	if err != nil {
		s.setState(StatusError)
		return nil, fmt.Errorf("end call: %w", err)
	}
	s.setState(StatusEnded)
	s.logger.Info("call ended", "call_id", s.callID, "reason", string(reason),
		"messages", len(s.Messages()))
	return summary, nil
}

func (s *Session) appendMessage(m Message) {
	s.msgMu.Lock()
	s.messages = append(s.messages, m)
	s.msgMu.Unlock()
}

func (s *Session) armReengage() {
	s.stopReengage()
	if s.cfg.ReengagementMs <= 0 {
		return
	}
	s.reengageTimer = time.NewTimer(time.Duration(s.cfg.ReengagementMs) * time.Millisecond)
}

func (s *Session) armReengageIfIdle() {
	if s.speechActive || s.playingAudio != "" {
		return
	}
	s.armReengage()
}

func (s *Session) stopReengage() {
	if s.reengageTimer != nil {
		s.reengageTimer.Stop()
		s.reengageTimer = nil
	}
}

func (s *Session) stopHold() {
	if s.holdTimer != nil {
		s.holdTimer.Stop()
		s.holdTimer = nil
	}
}
