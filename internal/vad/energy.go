package vad

import "math"

// EnergyClassifier is the default [Classifier]: an adaptive noise-floor RMS
// detector. It tracks the background level with an asymmetric moving average
// (fast to fall, slow to rise, so speech does not drag the floor up) and maps
// the frame-to-floor ratio onto a probability.
//
// It is deliberately simple — the hysteresis in [Detector] absorbs its
// frame-level noise — and serves as the fallback when no model-based
// classifier is wired in.
type EnergyClassifier struct {
	floor float64
}

// initialFloor seeds the noise estimate; telephony lines idle around this
// RMS level.
const initialFloor = 200

// NewEnergyClassifier returns an EnergyClassifier with a fresh noise floor.
func NewEnergyClassifier() *EnergyClassifier {
	return &EnergyClassifier{floor: initialFloor}
}

// Probability implements [Classifier].
func (c *EnergyClassifier) Probability(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}

	var acc float64
	for i := 0; i < n; i++ {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		acc += s * s
	}
	rms := math.Sqrt(acc / float64(n))

	// Track the floor: drop quickly toward quiet frames, creep up slowly
	// otherwise.
	if rms < c.floor {
		c.floor = c.floor*0.9 + rms*0.1
	} else {
		c.floor += (rms - c.floor) * 0.005
	}
	if c.floor < 1 {
		c.floor = 1
	}

	// Ratio 1 (at the floor) → 0; ratio 10+ → 1.
	p := (rms/c.floor - 1) / 9
	return clamp01(p)
}
