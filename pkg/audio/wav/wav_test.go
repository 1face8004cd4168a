package wav

import (
	"testing"

	"github.com/fluentive/voiceturn/pkg/rtc"
)

func TestEncodeDecode(t *testing.T) {
	src := &rtc.PCMBuffer{
		Data:        []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06},
		SampleRate:  16000,
		NumChannels: 1,
	}

	encoded := Encode(src)
	if len(encoded) != 44+len(src.Data) {
		t.Fatalf("expected %d bytes, got %d", 44+len(src.Data), len(encoded))
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.SampleRate != src.SampleRate {
		t.Errorf("sample rate: expected %d, got %d", src.SampleRate, decoded.SampleRate)
	}
	if decoded.NumChannels != src.NumChannels {
		t.Errorf("channels: expected %d, got %d", src.NumChannels, decoded.NumChannels)
	}
	if string(decoded.Data) != string(src.Data) {
		t.Errorf("PCM data mismatch")
	}
}

func TestDecode_Rejections(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"too short", []byte("RIFF")},
		{"wrong magic", append([]byte("RIFX1234WAVE"), make([]byte, 50)...)},
		{"no chunks", []byte("RIFF\x04\x00\x00\x00WAVE")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data); err == nil {
				t.Errorf("expected decode error")
			}
		})
	}
}

func TestDecode_TruncatedDataChunk(t *testing.T) {
	src := &rtc.PCMBuffer{Data: make([]byte, 320), SampleRate: 16000, NumChannels: 1}
	encoded := Encode(src)

	// Cut into the data chunk body.
	if _, err := Decode(encoded[:len(encoded)-10]); err == nil {
		t.Error("expected error for truncated data chunk")
	}
}

func TestDecode_CopiesData(t *testing.T) {
	src := &rtc.PCMBuffer{Data: []byte{1, 2, 3, 4}, SampleRate: 8000, NumChannels: 1}
	encoded := Encode(src)

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	encoded[44] = 99
	if decoded.Data[0] == 99 {
		t.Error("decoded buffer aliases the input payload")
	}
}
