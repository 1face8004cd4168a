// Package rtc defines the audio sample types passed between microphone
// sources, the speech detector, and the playback controller.
package rtc

import (
	"fmt"
	"time"
)

// AudioFrame represents exactly 10 ms of PCM audio.
// Len(Data) == SamplesPerChannel * NumChannels * 2.
//
// A zero Timestamp means "live"; otherwise it points to absolute wall-clock.
type AudioFrame struct {
	Data              []byte        // 16-bit PCM, little-endian
	SampleRate        int           // 48 000 or 16 000
	SamplesPerChannel int           // SampleRate / 100
	NumChannels       int           // 1 or 2
	Timestamp         time.Duration // optional
}

// NewAudioFrame validates data length against the 10 ms frame contract.
func NewAudioFrame(data []byte, sampleRate, numChannels int, timestamp time.Duration) (*AudioFrame, error) {
	samplesPerChannel := sampleRate / 100
	expectedLen := samplesPerChannel * numChannels * 2

	if len(data) != expectedLen {
		return nil, fmt.Errorf("audio frame length mismatch: got %d bytes, expected %d for %dHz %d-channel 10ms audio",
			len(data), expectedLen, sampleRate, numChannels)
	}

	return &AudioFrame{
		Data:              data,
		SampleRate:        sampleRate,
		SamplesPerChannel: samplesPerChannel,
		NumChannels:       numChannels,
		Timestamp:         timestamp,
	}, nil
}

// Clone creates a deep copy of the frame.
func (f *AudioFrame) Clone() *AudioFrame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)

	return &AudioFrame{
		Data:              data,
		SampleRate:        f.SampleRate,
		SamplesPerChannel: f.SamplesPerChannel,
		NumChannels:       f.NumChannels,
		Timestamp:         f.Timestamp,
	}
}

// Duration returns the duration represented by this frame (always 10ms).
func (f *AudioFrame) Duration() time.Duration {
	return 10 * time.Millisecond
}

// PCMBuffer holds a fully decoded piece of playback media: contiguous 16-bit
// little-endian PCM, one reply or utterance long. It is what a playback sink
// consumes after the controller has decoded a compressed payload.
type PCMBuffer struct {
	Data        []byte // 16-bit PCM, little-endian
	SampleRate  int
	NumChannels int
}

// Duration returns the playable length of the buffer.
func (b *PCMBuffer) Duration() time.Duration {
	if b.SampleRate <= 0 || b.NumChannels <= 0 {
		return 0
	}
	samples := len(b.Data) / (2 * b.NumChannels)
	return time.Duration(samples) * time.Second / time.Duration(b.SampleRate)
}

// SampleCount returns the number of samples per channel.
func (b *PCMBuffer) SampleCount() int {
	if b.NumChannels <= 0 {
		return 0
	}
	return len(b.Data) / (2 * b.NumChannels)
}

// ConcatFrames flattens a frame sequence into a single PCMBuffer. Frames are
// assumed to share sample rate and channel count; an empty slice yields nil.
func ConcatFrames(frames []AudioFrame) *PCMBuffer {
	if len(frames) == 0 {
		return nil
	}

	total := 0
	for i := range frames {
		total += len(frames[i].Data)
	}

	data := make([]byte, 0, total)
	for i := range frames {
		data = append(data, frames[i].Data...)
	}

	return &PCMBuffer{
		Data:        data,
		SampleRate:  frames[0].SampleRate,
		NumChannels: frames[0].NumChannels,
	}
}
