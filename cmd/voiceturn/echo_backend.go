package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fluentive/voiceturn/pkg/session"
)

// echoBackend is the built-in demo backend: it greets, parrots every
// utterance back, and counts turns for the summary. Lets the console run
// the full engine with no conversation service available.
type echoBackend struct {
	mu      sync.Mutex
	started time.Time
	turns   int
}

func newEchoBackend() *echoBackend {
	return &echoBackend{}
}

func (b *echoBackend) StartCall(ctx context.Context, opts session.StartCallOptions) (*session.CallInfo, error) {
	b.mu.Lock()
	b.started = time.Now()
	b.mu.Unlock()
	return &session.CallInfo{
		CallID:       uuid.NewString(),
		GreetingText: "Hello! I will repeat everything you say.",
	}, nil
}

func (b *echoBackend) SendUtterance(ctx context.Context, callID, transcript string) (*session.Reply, error) {
	b.mu.Lock()
	b.turns++
	b.mu.Unlock()
	return &session.Reply{Text: "You said: " + transcript}, nil
}

func (b *echoBackend) EndCall(ctx context.Context, callID string, reason session.EndReason) (*session.Summary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &session.Summary{
		Text:            fmt.Sprintf("Echo call with %d turns.", b.turns),
		TotalMessages:   b.turns * 2,
		DurationSeconds: int(time.Since(b.started).Seconds()),
	}, nil
}
