// Package turn provides semantic end-of-turn detection: given the recent
// conversation and the transcript so far, it estimates whether the speaker
// has actually finished. The session uses it to hold dispatch briefly when a
// silence-detected "end" looks like a mid-sentence pause.
package turn

import "context"

// Message is one conversation entry fed to the detector.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Context is the conversation window relevant to the prediction.
type Context struct {
	Messages []Message
	Language string // BCP-47 hint, e.g. "en-US"
}

// Detector predicts turn completion.
type Detector interface {
	// PredictEndOfTurn returns the probability (0–1) that the user has
	// finished speaking given the conversation so far.
	PredictEndOfTurn(ctx context.Context, convo Context) (float64, error)

	// UnlikelyThreshold returns the tuned per-language probability below
	// which the turn should be considered incomplete.
	UnlikelyThreshold(language string) (float64, error)
}
