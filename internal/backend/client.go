// Package backend implements the websocket client for the conversation
// service. Requests carry correlation ids so replies can arrive out of
// order; a single read pump dispatches each reply to its waiter.
package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fluentive/voiceturn/pkg/ai"
	"github.com/fluentive/voiceturn/pkg/session"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultPingInterval     = 20 * time.Second
	defaultWriteTimeout     = 5 * time.Second
)

// envelope is the wire frame in both directions.
type envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	CallID    string          `json:"call_id,omitempty"`
	Error     string          `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type startCallPayload struct {
	Scenario string `json:"scenario,omitempty"`
	CourseID string `json:"course_id,omitempty"`
	Language string `json:"language"`
}

type callInfoPayload struct {
	CallID        string `json:"call_id"`
	GreetingText  string `json:"greeting_text,omitempty"`
	GreetingAudio string `json:"greeting_audio,omitempty"` // base64
}

type utterancePayload struct {
	Transcript string `json:"transcript"`
}

type replyPayload struct {
	Text  string `json:"text"`
	Audio string `json:"audio,omitempty"` // base64
}

type endCallPayload struct {
	Reason string `json:"reason"`
}

type summaryPayload struct {
	Summary         string `json:"summary"`
	TotalMessages   int    `json:"total_messages"`
	DurationSeconds int    `json:"duration_seconds"`
	Feedback        string `json:"feedback,omitempty"`
}

// Client is a websocket session.Backend. Safe for concurrent use; the
// coordinator issues requests from per-interaction goroutines.
type Client struct {
	url    string
	token  string
	logger *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan envelope
	closed  bool
	done    chan struct{}
}

// NewClient creates a client for the conversation service at serverURL.
func NewClient(serverURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:     serverURL,
		token:   token,
		logger:  logger,
		pending: make(map[string]chan envelope),
		done:    make(chan struct{}),
	}
}

// Connect dials the service and starts the read and keepalive pumps.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}

	c.logger.Debug("connecting to conversation service", slog.String("url", c.url))

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = defaultHandshakeTimeout

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return ai.NewNetworkError(fmt.Errorf("dial %s: %w", c.url, err), "backend")
	}
	c.conn = conn
	c.logger.Info("conversation service connected", slog.String("url", c.url))

	go c.readPump()
	go c.pingLoop()
	return nil
}

// Close tears down the connection. Outstanding requests fail with a
// network error.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	c.logger.Info("closing conversation service connection")
	return c.conn.Close()
}

// StartCall implements session.Backend.
func (c *Client) StartCall(ctx context.Context, opts session.StartCallOptions) (*session.CallInfo, error) {
	resp, err := c.roundTrip(ctx, "start_call", "", startCallPayload{
		Scenario: opts.Scenario,
		CourseID: opts.CourseID,
		Language: opts.Language,
	})
	if err != nil {
		return nil, err
	}

	var p callInfoPayload
	if err := json.Unmarshal(resp.Payload, &p); err != nil {
		return nil, ai.NewInternalError(fmt.Errorf("decode start_call reply: %w", err), "backend")
	}
	audio, err := decodeAudio(p.GreetingAudio)
	if err != nil {
		return nil, err
	}
	return &session.CallInfo{
		CallID:        p.CallID,
		GreetingText:  p.GreetingText,
		GreetingAudio: audio,
	}, nil
}

// SendUtterance implements session.Backend.
func (c *Client) SendUtterance(ctx context.Context, callID, transcript string) (*session.Reply, error) {
	resp, err := c.roundTrip(ctx, "utterance", callID, utterancePayload{Transcript: transcript})
	if err != nil {
		return nil, err
	}

	var p replyPayload
	if err := json.Unmarshal(resp.Payload, &p); err != nil {
		return nil, ai.NewInternalError(fmt.Errorf("decode utterance reply: %w", err), "backend")
	}
	audio, err := decodeAudio(p.Audio)
	if err != nil {
		return nil, err
	}
	return &session.Reply{Text: p.Text, Audio: audio}, nil
}

// EndCall implements session.Backend.
func (c *Client) EndCall(ctx context.Context, callID string, reason session.EndReason) (*session.Summary, error) {
	resp, err := c.roundTrip(ctx, "end_call", callID, endCallPayload{Reason: string(reason)})
	if err != nil {
		return nil, err
	}

	var p summaryPayload
	if err := json.Unmarshal(resp.Payload, &p); err != nil {
		return nil, ai.NewInternalError(fmt.Errorf("decode end_call reply: %w", err), "backend")
	}
	return &session.Summary{
		Text:            p.Summary,
		TotalMessages:   p.TotalMessages,
		DurationSeconds: p.DurationSeconds,
		Feedback:        p.Feedback,
	}, nil
}

// roundTrip sends one request and waits for the correlated reply.
func (c *Client) roundTrip(ctx context.Context, msgType, callID string, payload any) (*envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, ai.NewInternalError(fmt.Errorf("encode %s: %w", msgType, err), "backend")
	}
	req := envelope{
		Type:      msgType,
		RequestID: uuid.NewString(),
		CallID:    callID,
		Payload:   raw,
	}

	waiter := make(chan envelope, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ai.NewNetworkError(fmt.Errorf("connection closed"), "backend")
	}
	if c.conn == nil {
		c.mu.Unlock()
		return nil, ai.NewNetworkError(fmt.Errorf("not connected"), "backend")
	}
	c.pending[req.RequestID] = waiter
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.RequestID)
		c.mu.Unlock()
	}()

	c.logger.Debug("sending request",
		slog.String("type", msgType), slog.String("request_id", req.RequestID))

	if err := c.writeJSON(&req); err != nil {
		return nil, ai.NewNetworkError(fmt.Errorf("write %s: %w", msgType, err), "backend")
	}

	select {
	case resp := <-waiter:
		if resp.Error != "" {
			return nil, ai.NewNetworkError(fmt.Errorf("%s rejected: %s", msgType, resp.Error), "backend")
		}
		return &resp, nil
	case <-c.done:
		return nil, ai.NewNetworkError(fmt.Errorf("connection closed"), "backend")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	return c.conn.WriteJSON(v)
}

// readPump dispatches replies to their waiters until the connection drops.
func (c *Client) readPump() {
	for {
		var resp envelope
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.mu.Lock()
			alreadyClosed := c.closed
			c.closed = true
			if !alreadyClosed {
				close(c.done)
			}
			c.mu.Unlock()
			if !alreadyClosed {
				c.logger.Warn("connection lost", slog.String("error", err.Error()))
			}
			return
		}

		c.mu.Lock()
		waiter := c.pending[resp.RequestID]
		c.mu.Unlock()
		if waiter == nil {
			c.logger.Debug("reply with no waiter",
				slog.String("type", resp.Type), slog.String("request_id", resp.RequestID))
			continue
		}
		waiter <- resp
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(defaultPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("keepalive ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// decodeAudio turns a base64 payload into raw bytes at the transport edge so
// the rest of the engine never sees encoding concerns.
func decodeAudio(b64 string) ([]byte, error) {
	if b64 == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, ai.NewDecodeError(fmt.Errorf("audio payload: %w", err), "backend")
	}
	return data, nil
}
