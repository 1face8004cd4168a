// Package wav implements in-memory RIFF/WAV encoding and decoding for 16-bit
// PCM. It is used to package utterance audio for transcription uploads and to
// decode WAV reply payloads.
package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/fluentive/voiceturn/pkg/rtc"
)

const (
	riffHeaderLen = 44
	formatPCM     = 1
)

// Encode wraps a PCM buffer in a standard 44-byte RIFF header.
func Encode(buf *rtc.PCMBuffer) []byte {
	dataLen := len(buf.Data)
	out := make([]byte, 0, riffHeaderLen+dataLen)
	w := bytes.NewBuffer(out)

	byteRate := buf.SampleRate * buf.NumChannels * 2
	blockAlign := buf.NumChannels * 2

	w.WriteString("RIFF")
	binary.Write(w, binary.LittleEndian, uint32(36+dataLen))
	w.WriteString("WAVE")

	w.WriteString("fmt ")
	binary.Write(w, binary.LittleEndian, uint32(16))
	binary.Write(w, binary.LittleEndian, uint16(formatPCM))
	binary.Write(w, binary.LittleEndian, uint16(buf.NumChannels))
	binary.Write(w, binary.LittleEndian, uint32(buf.SampleRate))
	binary.Write(w, binary.LittleEndian, uint32(byteRate))
	binary.Write(w, binary.LittleEndian, uint16(blockAlign))
	binary.Write(w, binary.LittleEndian, uint16(16))

	w.WriteString("data")
	binary.Write(w, binary.LittleEndian, uint32(dataLen))
	w.Write(buf.Data)

	return w.Bytes()
}

// Decode parses a RIFF/WAV payload into a PCM buffer. Only 16-bit PCM is
// supported; chunks other than fmt and data are skipped.
func Decode(data []byte) (*rtc.PCMBuffer, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE payload")
	}

	var (
		sampleRate    int
		numChannels   int
		bitsPerSample int
		pcm           []byte
	)

	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkLen := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+chunkLen > len(data) {
			return nil, fmt.Errorf("truncated %q chunk: need %d bytes, have %d", chunkID, chunkLen, len(data)-body)
		}

		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return nil, fmt.Errorf("fmt chunk too short: %d bytes", chunkLen)
			}
			format := binary.LittleEndian.Uint16(data[body:])
			if format != formatPCM {
				return nil, fmt.Errorf("unsupported WAV format code %d (only PCM)", format)
			}
			numChannels = int(binary.LittleEndian.Uint16(data[body+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14:]))
		case "data":
			pcm = data[body : body+chunkLen]
		}

		// Chunks are word-aligned.
		pos = body + chunkLen
		if chunkLen%2 == 1 {
			pos++
		}
	}

	if sampleRate == 0 || numChannels == 0 {
		return nil, fmt.Errorf("missing fmt chunk")
	}
	if bitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d (only 16-bit PCM)", bitsPerSample)
	}
	if pcm == nil {
		return nil, fmt.Errorf("missing data chunk")
	}

	out := make([]byte, len(pcm))
	copy(out, pcm)
	return &rtc.PCMBuffer{Data: out, SampleRate: sampleRate, NumChannels: numChannels}, nil
}
