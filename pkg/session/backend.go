// Package session implements the turn-taking engine: the interaction
// coordinator that discards stale backend responses and the call state
// machine that wires speech detection, transcription, and playback together.
package session

import "context"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the session's conversation log.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	AudioID string `json:"audio_id,omitempty"`
}

// StartCallOptions parameterizes a practice call.
type StartCallOptions struct {
	Scenario string `json:"scenario,omitempty"`
	CourseID string `json:"course_id,omitempty"`
	Language string `json:"language"`
}

// CallInfo is the backend's answer to StartCall.
type CallInfo struct {
	CallID        string
	GreetingText  string
	GreetingAudio []byte // compressed audio payload; empty when absent
}

// Reply is the backend's answer to one utterance.
type Reply struct {
	Text  string
	Audio []byte // compressed audio payload; empty when absent
}

// EndReason tells the backend why the call ended.
type EndReason string

const (
	EndReasonCompleted EndReason = "completed"
	EndReasonAbandoned EndReason = "abandoned"
)

// Summary is the backend's answer to EndCall.
type Summary struct {
	Text            string
	TotalMessages   int
	DurationSeconds int
	Feedback        string
}

// Backend is the opaque response-generation service. Calls block until the
// backend answers; the coordinator invokes them from per-interaction
// goroutines so replies may arrive in any order. Implementations must be
// safe for concurrent use.
type Backend interface {
	StartCall(ctx context.Context, opts StartCallOptions) (*CallInfo, error)
	SendUtterance(ctx context.Context, callID, transcript string) (*Reply, error)
	EndCall(ctx context.Context, callID string, reason EndReason) (*Summary, error)
}
