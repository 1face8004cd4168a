// Package fake provides a fixed-probability end-of-turn detector for tests.
package fake

import (
	"context"

	"github.com/fluentive/voiceturn/pkg/turn"
)

// FakeDetector always predicts the configured probability.
type FakeDetector struct {
	Probability float64
	Threshold   float64
	Err         error
}

// NewFakeDetector creates a detector with a 0.5 unlikely-threshold.
func NewFakeDetector(probability float64) *FakeDetector {
	return &FakeDetector{Probability: probability, Threshold: 0.5}
}

func (d *FakeDetector) PredictEndOfTurn(ctx context.Context, convo turn.Context) (float64, error) {
	if d.Err != nil {
		return 0, d.Err
	}
	return d.Probability, nil
}

func (d *FakeDetector) UnlikelyThreshold(language string) (float64, error) {
	return d.Threshold, nil
}
