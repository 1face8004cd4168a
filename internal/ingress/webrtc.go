// Package ingress turns audio inputs into the engine's 10 ms frame stream:
// a WebRTC track carrying Opus from a browser microphone, or a WAV file
// replayed in real time for console sessions and rehearsal.
package ingress

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v3"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/fluentive/voiceturn/pkg/ai"
	"github.com/fluentive/voiceturn/pkg/rtc"
)

const (
	micSampleRate = 48000
	micChannels   = 1

	// Opus packets may span up to 120 ms at 48 kHz.
	maxOpusFrameSamples = 5760

	frameSamples = micSampleRate / 100 // 10 ms
)

// WebRTCSource receives a remote audio track, decodes its Opus packets and
// re-frames the PCM into the 10 ms frames the detector consumes.
type WebRTCSource struct {
	pc     *webrtc.PeerConnection
	logger *slog.Logger
	frames chan rtc.AudioFrame
}

// NewWebRTCSource creates a receive-only peer connection for one microphone
// track. The caller completes signalling through PeerConnection and then
// reads Frames.
func NewWebRTCSource(cfg webrtc.Configuration, logger *slog.Logger) (*WebRTCSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, ai.NewDeviceError(fmt.Errorf("create peer connection: %w", err), "webrtc")
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return nil, ai.NewDeviceError(fmt.Errorf("add audio transceiver: %w", err), "webrtc")
	}

	s := &WebRTCSource{
		pc:     pc,
		logger: logger,
		frames: make(chan rtc.AudioFrame, 32),
	}
	pc.OnTrack(s.onTrack)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("peer connection state", "state", state.String())
	})
	return s, nil
}

// PeerConnection exposes the underlying connection for signalling.
func (s *WebRTCSource) PeerConnection() *webrtc.PeerConnection {
	return s.pc
}

// Frames is the microphone stream. Closed when the track ends.
func (s *WebRTCSource) Frames() <-chan rtc.AudioFrame {
	return s.frames
}

// Close tears down the peer connection.
func (s *WebRTCSource) Close() error {
	return s.pc.Close()
}

func (s *WebRTCSource) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	s.logger.Info("audio track connected", "codec", track.Codec().MimeType)
	go s.decodeLoop(track)
}

// decodeLoop reads RTP packets off the track and re-frames the decoded PCM.
// Individual packet decode failures are dropped; Opus conceals short gaps.
func (s *WebRTCSource) decodeLoop(track *webrtc.TrackRemote) {
	defer close(s.frames)

	decoder, err := opus.NewDecoder(micSampleRate, micChannels)
	if err != nil {
		s.logger.Error("opus decoder init failed", "error", err)
		return
	}

	pcm := make([]int16, maxOpusFrameSamples)
	framer := newFramer(s.frames)
	decodeErrors := 0
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			s.logger.Debug("track closed", "error", err)
			return
		}
		n, err := decoder.Decode(pkt.Payload, pcm)
		if err != nil {
			decodeErrors++
			if decodeErrors <= 5 {
				s.logger.Warn("opus packet decode failed", "error", err, "payload_bytes", len(pkt.Payload))
			}
			continue
		}
		framer.push(pcm[:n])
	}
}

// framer accumulates PCM samples and emits exactly 10 ms frames. Packets do
// not align with frame boundaries, so a remainder carries over.
type framer struct {
	out     chan<- rtc.AudioFrame
	pending []int16
}

func newFramer(out chan<- rtc.AudioFrame) *framer {
	return &framer{out: out, pending: make([]int16, 0, 2*frameSamples)}
}

func (f *framer) push(samples []int16) {
	f.pending = append(f.pending, samples...)
	for len(f.pending) >= frameSamples {
		data := make([]byte, frameSamples*2)
		for i, s := range f.pending[:frameSamples] {
			data[2*i] = byte(s)
			data[2*i+1] = byte(s >> 8)
		}
		f.pending = f.pending[frameSamples:]
		select {
		case f.out <- rtc.AudioFrame{
			Data:              data,
			SampleRate:        micSampleRate,
			SamplesPerChannel: frameSamples,
			NumChannels:       micChannels,
		}:
		default:
			// Consumer stalled; drop rather than grow without bound.
		}
	}
}

// Offer applies a remote SDP offer and returns the local answer, for
// signalling layers that exchange raw SDP.
func (s *WebRTCSource) Offer(ctx context.Context, offerSDP string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return s.pc.LocalDescription().SDP, nil
}
