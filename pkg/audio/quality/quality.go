// Package quality computes per-chunk audio quality estimates for monitoring.
//
// Reports are produced by the bridge from frames at the rate the platform
// actually delivered (before resampling, so the measurements describe the
// caller's audio rather than resampler artefacts) and handed to an external
// [Monitor]. The bridge never blocks on the monitor; a slow consumer just
// misses reports.
package quality

import "math"

// Report holds the quality measurements for one audio chunk.
type Report struct {
	// RMSLevel is the root-mean-square sample level, 0..32767.
	RMSLevel float64

	// NoiseFloor is the estimated background level, 0..32767.
	NoiseFloor float64

	// SNRdB is the signal-to-noise ratio estimate in decibels, capped at
	// [MaxSNRdB]. The cap is also reported when no noise floor is
	// measurable in the chunk.
	SNRdB float64

	// ClippingPct is the percentage of samples at or near full scale.
	ClippingPct float64

	// THDPct is a total-harmonic-distortion estimate in percent, derived
	// from the high-frequency residual of the chunk. It is a proxy, not a
	// spectral THD measurement.
	THDPct float64

	// Score is a composite quality score, 0 (unusable) to 100 (clean).
	Score float64
}

// Monitor receives quality reports for a conversation's inbound audio.
// Implementations must return quickly; the bridge calls OnReport from its
// processing loop via a non-blocking dispatch.
type Monitor interface {
	OnReport(conversationID string, r Report)
}

// clipLevel is the absolute sample value treated as clipped. Slightly below
// full scale so codec rounding near the rails still counts.
const clipLevel = 32600

// blockSize is the sub-block length (in samples) used for the noise-floor
// estimate. 80 samples is 10 ms at 8 kHz and 5 ms at 16 kHz.
const blockSize = 80

// MaxSNRdB caps the SNR estimate. A telephony chunk never supports a
// measurement beyond this; it is also the value reported when the chunk
// offers no quiet interval to measure a floor against.
const MaxSNRdB = 60

// Analyze computes a [Report] for a chunk of 16-bit little-endian mono PCM.
// Empty or sub-block-sized input yields a zero Report.
func Analyze(pcm []byte) Report {
	n := len(pcm) / 2
	if n == 0 {
		return Report{}
	}

	samples := make([]float64, n)
	clipped := 0
	for i := range samples {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		samples[i] = s
		if s >= clipLevel || s <= -clipLevel {
			clipped++
		}
	}

	rmsLevel := rms(samples)
	noise := noiseFloor(samples)

	snr := 0.0
	switch {
	case rmsLevel == 0:
		// Digital silence: nothing to rate.
	case noise < rmsLevel/2:
		// The quietest sub-block sits clearly below the chunk level, so it
		// is a usable floor. A zero floor means noise below quantisation.
		if noise == 0 {
			snr = MaxSNRdB
		} else {
			snr = math.Min(MaxSNRdB, 20*math.Log10(rmsLevel/noise))
		}
	default:
		// No quiet interval in the chunk (continuous speech or a steady
		// tone): the floor cannot be separated from the signal, so the SNR
		// term carries no penalty. Clipping and distortion still do.
		snr = MaxSNRdB
	}

	clipPct := 100 * float64(clipped) / float64(n)
	thd := thdEstimate(samples, rmsLevel)

	return Report{
		RMSLevel:    rmsLevel,
		NoiseFloor:  noise,
		SNRdB:       snr,
		ClippingPct: clipPct,
		THDPct:      thd,
		Score:       score(snr, clipPct, thd),
	}
}

// noiseFloor estimates the background level as the RMS of the quietest
// sub-block in the chunk.
func noiseFloor(samples []float64) float64 {
	if len(samples) < blockSize {
		return rms(samples)
	}
	minRMS := math.MaxFloat64
	for i := 0; i+blockSize <= len(samples); i += blockSize {
		if r := rms(samples[i : i+blockSize]); r < minRMS {
			minRMS = r
		}
	}
	return minRMS
}

// thdEstimate approximates harmonic distortion as the ratio of
// first-difference (high-frequency) energy above what a clean speech-band
// signal would carry. Hard clipping and codec artefacts raise this sharply.
func thdEstimate(samples []float64, rmsLevel float64) float64 {
	if len(samples) < 2 || rmsLevel == 0 {
		return 0
	}
	var diffEnergy float64
	for i := 1; i < len(samples); i++ {
		d := samples[i] - samples[i-1]
		diffEnergy += d * d
	}
	diffRMS := math.Sqrt(diffEnergy / float64(len(samples)-1))

	ratio := diffRMS / rmsLevel
	// A band-limited speech signal keeps this ratio well under ~1.2; treat
	// the excess as distortion.
	excess := ratio - 1.2
	if excess <= 0 {
		return 0
	}
	return math.Min(100, excess*100)
}

// score folds the individual measurements into a 0..100 composite.
func score(snrDB, clipPct, thdPct float64) float64 {
	s := 100.0

	// SNR below 30 dB loses up to 50 points linearly.
	if snrDB < 30 {
		s -= (30 - snrDB) * (50.0 / 30.0)
	}
	// Each percent of clipping costs 10 points.
	s -= clipPct * 10
	// Distortion costs up to 30 points.
	s -= math.Min(30, thdPct)

	return math.Max(0, math.Min(100, s))
}

func rms(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var acc float64
	for _, s := range samples {
		acc += s * s
	}
	return math.Sqrt(acc / float64(len(samples)))
}
