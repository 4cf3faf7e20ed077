package audio_test

import (
	"testing"

	"github.com/voxbridge/voxbridge/pkg/audio"
)

func TestMulawSilenceCode(t *testing.T) {
	// The μ-law code for a zero sample is 0xFF, not 0x00.
	enc := audio.MulawEncode(samplesToBytes([]int16{0}))
	if enc[0] != audio.MulawSilence {
		t.Errorf("encode(0): got %#x, want %#x", enc[0], audio.MulawSilence)
	}

	dec := bytesToSamples(audio.MulawDecode([]byte{audio.MulawSilence}))
	if dec[0] != 0 {
		t.Errorf("decode(%#x): got %d, want 0", audio.MulawSilence, dec[0])
	}
}

func TestMulawZeroByteIsLoud(t *testing.T) {
	// 0x00 decodes near negative full scale — this is why zero-byte padding
	// of μ-law streams produces audible clicks.
	dec := bytesToSamples(audio.MulawDecode([]byte{0x00}))
	if dec[0] > -30000 {
		t.Errorf("decode(0x00): got %d, want near -32124", dec[0])
	}
}

func TestMulawRoundTrip(t *testing.T) {
	// μ-law is lossy but must preserve sign and approximate magnitude.
	cases := []int16{0, 100, -100, 1000, -1000, 8000, -8000, 30000, -30000, 32767, -32768}
	for _, s := range cases {
		enc := audio.MulawEncode(samplesToBytes([]int16{s}))
		dec := bytesToSamples(audio.MulawDecode(enc))[0]

		if s > 0 && dec <= 0 {
			t.Errorf("round trip %d: got %d, lost sign", s, dec)
		}
		if s < 0 && dec >= 0 {
			t.Errorf("round trip %d: got %d, lost sign", s, dec)
		}
		// Companding error grows with amplitude; 4096 covers the worst step
		// in the top segment plus clipping at ±32635.
		diff := int32(s) - int32(dec)
		if diff < 0 {
			diff = -diff
		}
		if diff > 4096 {
			t.Errorf("round trip %d: got %d, error %d too large", s, dec, diff)
		}
	}
}

func TestMulawRoundTrip_Monotonic(t *testing.T) {
	// Decoded values must be non-decreasing as input amplitude rises.
	prev := int16(-32768)
	for s := int16(-32000); s <= 32000; s += 500 {
		enc := audio.MulawEncode(samplesToBytes([]int16{s}))
		dec := bytesToSamples(audio.MulawDecode(enc))[0]
		if dec < prev {
			t.Fatalf("decode not monotonic at input %d: %d < %d", s, dec, prev)
		}
		prev = dec
	}
}

func TestMulawLengths(t *testing.T) {
	pcm := samplesToBytes(make([]int16, 160))
	enc := audio.MulawEncode(pcm)
	if len(enc) != 160 {
		t.Errorf("encode length: got %d, want 160", len(enc))
	}
	dec := audio.MulawDecode(enc)
	if len(dec) != 320 {
		t.Errorf("decode length: got %d, want 320", len(dec))
	}
}
