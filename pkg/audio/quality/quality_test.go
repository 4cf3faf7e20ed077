package quality_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/voxbridge/voxbridge/pkg/audio/quality"
)

func pcm(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// tone generates n samples of a sine at freq Hz / rate Hz with amplitude amp.
func tone(n int, freq, rate float64, amp float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amp * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	return out
}

func TestAnalyze_Empty(t *testing.T) {
	r := quality.Analyze(nil)
	if r.Score != 0 || r.RMSLevel != 0 {
		t.Errorf("empty input: got %+v, want zero report", r)
	}
}

func TestAnalyze_CleanToneScoresHigh(t *testing.T) {
	r := quality.Analyze(pcm(tone(1600, 300, 8000, 12000)))
	if r.ClippingPct != 0 {
		t.Errorf("clean tone: clipping %.2f%%, want 0", r.ClippingPct)
	}
	if r.Score < 60 {
		t.Errorf("clean tone: score %.1f, want >= 60", r.Score)
	}
}

func TestAnalyze_ClippingDetected(t *testing.T) {
	// Square wave at full scale: half the samples at each rail.
	samples := make([]int16, 800)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 32767
		} else {
			samples[i] = -32768
		}
	}
	r := quality.Analyze(pcm(samples))
	if r.ClippingPct < 99 {
		t.Errorf("square wave: clipping %.2f%%, want ~100", r.ClippingPct)
	}
	if r.Score > 20 {
		t.Errorf("square wave: score %.1f, want near 0", r.Score)
	}
}

func TestAnalyze_SilenceVsSpeechSNR(t *testing.T) {
	// A tone burst surrounded by near-silence should show a positive SNR.
	samples := make([]int16, 0, 2400)
	samples = append(samples, make([]int16, 800)...) // silence
	samples = append(samples, tone(800, 300, 8000, 10000)...)
	samples = append(samples, make([]int16, 800)...)

	r := quality.Analyze(pcm(samples))
	if r.SNRdB <= 0 {
		t.Errorf("tone burst: SNR %.1f dB, want > 0", r.SNRdB)
	}
}

func TestAnalyze_SteadySignalNotSNRPenalised(t *testing.T) {
	// A continuous tone has no quiet interval to measure a floor against;
	// the SNR term must not drag the score down.
	r := quality.Analyze(pcm(tone(1600, 300, 8000, 12000)))
	if r.SNRdB != quality.MaxSNRdB {
		t.Errorf("steady tone: SNR %.1f dB, want cap %d", r.SNRdB, quality.MaxSNRdB)
	}
}

func TestAnalyze_MeasurableFloorBetweenZeroAndCap(t *testing.T) {
	// Low-level noise followed by a tone: the floor is measurable and the
	// SNR should land strictly between zero and the cap.
	samples := make([]int16, 0, 1600)
	for i := 0; i < 800; i++ {
		if i%2 == 0 {
			samples = append(samples, 100)
		} else {
			samples = append(samples, -100)
		}
	}
	samples = append(samples, tone(800, 300, 8000, 10000)...)

	r := quality.Analyze(pcm(samples))
	if r.SNRdB <= 0 || r.SNRdB >= quality.MaxSNRdB {
		t.Errorf("noise+tone: SNR %.1f dB, want in (0, %d)", r.SNRdB, quality.MaxSNRdB)
	}
}

func TestAnalyze_ScoreBounded(t *testing.T) {
	cases := []struct {
		name    string
		samples []int16
	}{
		{"silence", make([]int16, 800)},
		{"clean", tone(800, 300, 8000, 8000)},
		{"full scale", tone(800, 300, 8000, 32767)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := quality.Analyze(pcm(tc.samples))
			if r.Score < 0 || r.Score > 100 {
				t.Errorf("score %.1f out of [0,100]", r.Score)
			}
		})
	}
}
