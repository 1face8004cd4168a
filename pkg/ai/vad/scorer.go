package vad

import (
	"encoding/binary"
	"math"

	"github.com/fluentive/voiceturn/pkg/rtc"
)

// EnergyScorer maps frame RMS energy to a pseudo-probability. It is the
// zero-dependency scorer used when no model-based scorer is configured.
type EnergyScorer struct {
	// Reference is the RMS level (0–1 of full scale) that maps to
	// probability 1.0. Quiet rooms sit well below it.
	Reference float32
}

// DefaultEnergyReference was tuned against 16-bit speech recorded at
// conversational distance.
const DefaultEnergyReference = 0.12

// NewEnergyScorer creates an EnergyScorer with the default reference level.
func NewEnergyScorer() *EnergyScorer {
	return &EnergyScorer{Reference: DefaultEnergyReference}
}

// Score computes normalized RMS energy clamped to [0, 1].
func (s *EnergyScorer) Score(frame rtc.AudioFrame) float32 {
	ref := s.Reference
	if ref <= 0 {
		ref = DefaultEnergyReference
	}

	n := len(frame.Data) / 2
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(frame.Data[i*2:]))
		v := float64(sample) / 32768.0
		sum += v * v
	}
	rms := float32(math.Sqrt(sum / float64(n)))

	p := rms / ref
	if p > 1 {
		p = 1
	}
	return p
}
