package audio

import "math"

// firTaps is the length of the anti-aliasing low-pass filter applied before
// downsampling. Odd so the filter has a symmetric centre tap.
const firTaps = 31

// Resample converts 16-bit little-endian mono PCM from srcRate to dstRate.
//
// The output length preserves duration: len(out)/2 equals
// round(srcSamples * dstRate / srcRate), so a frame of any duration keeps that
// duration (within one sample) across the conversion. When downsampling, the
// input is low-pass filtered first so frequencies above the new Nyquist limit
// do not alias into the result; naive decimation is not acceptable for
// telephony audio. Same-rate input is returned unchanged.
func Resample(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}

	src := bytesToSamples(pcm)
	if dstRate < srcRate {
		// Cutoff a little below the target Nyquist to leave transition room.
		cutoff := 0.45 * float64(dstRate) / float64(srcRate)
		src = lowpass(src, cutoff)
	}

	srcSamples := len(src)
	dstSamples := int(math.Round(float64(srcSamples) * float64(dstRate) / float64(srcRate)))
	if dstSamples == 0 {
		return nil
	}

	out := make([]int16, dstSamples)
	ratio := float64(srcSamples) / float64(dstSamples)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := src[idx]
		s1 := s0
		if idx+1 < srcSamples {
			s1 = src[idx+1]
		}
		out[i] = clampInt16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return samplesToBytes(out)
}

// lowpass applies a Hamming-windowed sinc FIR filter with the given
// normalised cutoff (fraction of the source sample rate, 0 < cutoff < 0.5).
func lowpass(src []int16, cutoff float64) []int16 {
	taps := firCoefficients(cutoff)
	half := len(taps) / 2

	out := make([]int16, len(src))
	for i := range src {
		var acc float64
		for k, c := range taps {
			j := i + k - half
			if j < 0 {
				j = 0
			} else if j >= len(src) {
				j = len(src) - 1
			}
			acc += c * float64(src[j])
		}
		out[i] = clampInt16(acc)
	}
	return out
}

// firCoefficients builds the normalised windowed-sinc kernel for cutoff.
func firCoefficients(cutoff float64) []float64 {
	taps := make([]float64, firTaps)
	half := firTaps / 2
	var sum float64
	for i := range taps {
		n := float64(i - half)
		var v float64
		if n == 0 {
			v = 2 * cutoff
		} else {
			v = math.Sin(2*math.Pi*cutoff*n) / (math.Pi * n)
		}
		// Hamming window.
		v *= 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(firTaps-1))
		taps[i] = v
		sum += v
	}
	// Normalise to unity DC gain.
	for i := range taps {
		taps[i] /= sum
	}
	return taps
}

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

func bytesToSamples(b []byte) []int16 {
	s := make([]int16, len(b)/2)
	for i := range s {
		s[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return s
}

func samplesToBytes(s []int16) []byte {
	b := make([]byte, len(s)*2)
	for i, v := range s {
		b[i*2] = byte(v)
		b[i*2+1] = byte(v >> 8)
	}
	return b
}
