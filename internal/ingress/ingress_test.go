package ingress

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fluentive/voiceturn/pkg/audio/wav"
	"github.com/fluentive/voiceturn/pkg/rtc"
)

func TestFramer_ReframesAcrossPacketBoundaries(t *testing.T) {
	out := make(chan rtc.AudioFrame, 64)
	f := newFramer(out)

	// 20 ms packet, then a 15 ms packet, then 5 ms: 40 ms total = 4 frames.
	f.push(make([]int16, 2*frameSamples))
	f.push(make([]int16, frameSamples+frameSamples/2))
	f.push(make([]int16, frameSamples/2))

	if got := len(out); got != 4 {
		t.Fatalf("framer emitted %d frames, want 4", got)
	}
	frame := <-out
	if frame.SamplesPerChannel != frameSamples {
		t.Errorf("frame has %d samples, want %d", frame.SamplesPerChannel, frameSamples)
	}
	if frame.SampleRate != micSampleRate {
		t.Errorf("frame sample rate = %d, want %d", frame.SampleRate, micSampleRate)
	}
	if len(frame.Data) != frameSamples*2 {
		t.Errorf("frame data = %d bytes, want %d", len(frame.Data), frameSamples*2)
	}
}

func TestFramer_KeepsRemainder(t *testing.T) {
	out := make(chan rtc.AudioFrame, 8)
	f := newFramer(out)

	f.push(make([]int16, frameSamples-1))
	if len(out) != 0 {
		t.Fatal("partial frame must not be emitted")
	}
	f.push(make([]int16, 1))
	if len(out) != 1 {
		t.Fatalf("expected exactly one frame, got %d", len(out))
	}
}

func TestFramer_PreservesSampleOrder(t *testing.T) {
	out := make(chan rtc.AudioFrame, 8)
	f := newFramer(out)

	samples := make([]int16, frameSamples)
	for i := range samples {
		samples[i] = int16(i)
	}
	f.push(samples)

	frame := <-out
	for i := 0; i < frameSamples; i++ {
		got := int16(frame.Data[2*i]) | int16(frame.Data[2*i+1])<<8
		if got != int16(i) {
			t.Fatalf("sample %d = %d, want %d", i, got, i)
		}
	}
}

func writeTestWAV(t *testing.T, samples int, sampleRate int) string {
	t.Helper()
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(int16(i%1000)))
	}
	payload := wav.Encode(&rtc.PCMBuffer{
		Data:        data,
		SampleRate:  sampleRate,
		NumChannels: 1,
	})
	path := filepath.Join(t.TempDir(), "test.wav")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileSource_ReplaysInRealTime(t *testing.T) {
	// 50 ms of 16 kHz audio.
	path := writeTestWAV(t, 800, 16000)
	src, err := NewFileSource(path)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	if src.SampleRate() != 16000 {
		t.Errorf("sample rate = %d, want 16000", src.SampleRate())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src.Start(ctx)

	start := time.Now()
	for i := 0; i < 5; i++ {
		select {
		case frame := <-src.Frames():
			if frame.SamplesPerChannel != 160 {
				t.Fatalf("frame %d has %d samples, want 160", i, frame.SamplesPerChannel)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
	// Five 10 ms frames must take very roughly 50 ms, not arrive instantly.
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("5 frames arrived in %v; replay is not paced", elapsed)
	}

	// Past the end of the file the stream continues with silence.
	select {
	case frame := <-src.Frames():
		for _, b := range frame.Data {
			if b != 0 {
				t.Fatal("expected silence after end of file")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("stream should stay open after end of file")
	}
}

func TestFileSource_PreservesSamples(t *testing.T) {
	// 20 ms of 16 kHz audio, every sample 1000.
	const tone = 1000
	data := make([]byte, 320*2)
	for i := 0; i < 320; i++ {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(int16(tone)))
	}
	payload := wav.Encode(&rtc.PCMBuffer{
		Data:        data,
		SampleRate:  16000,
		NumChannels: 1,
	})
	path := filepath.Join(t.TempDir(), "tone.wav")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := NewFileSource(path)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src.Start(ctx)

	// The file fills exactly two 10 ms frames; the third must be silence.
	for i := 0; i < 2; i++ {
		select {
		case frame := <-src.Frames():
			if len(frame.Data) != 320 {
				t.Fatalf("frame %d is %d bytes, want 320", i, len(frame.Data))
			}
			for j := 0; j < frame.SamplesPerChannel; j++ {
				got := int16(binary.LittleEndian.Uint16(frame.Data[2*j:]))
				if got != tone {
					t.Fatalf("frame %d sample %d = %d, want %d", i, j, got, tone)
				}
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
	select {
	case frame := <-src.Frames():
		for _, b := range frame.Data {
			if b != 0 {
				t.Fatal("file should be fully drained after two frames")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("stream should stay open after end of file")
	}
}

func TestFileSource_RejectsMissingFile(t *testing.T) {
	if _, err := NewFileSource(filepath.Join(t.TempDir(), "nope.wav")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFileSource_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.wav")
	if err := os.WriteFile(path, []byte("not a wav file"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileSource(path); err == nil {
		t.Fatal("expected error for non-WAV data")
	}
}
