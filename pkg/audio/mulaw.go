package audio

// G.711 μ-law companding. Telephony platforms (Twilio Media Streams, PSTN
// gateways) carry 8 kHz μ-law; the backend only speaks linear PCM16, so every
// μ-law chunk crosses through these functions at the transport boundary.

// MulawSilence is the μ-law code for a zero-amplitude sample. Outbound μ-law
// padding must use this value: 0x00 decodes to -32124 and is heard as a click.
const MulawSilence = 0xFF

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// mulawToPCM maps each μ-law code to its linear PCM16 value.
var mulawToPCM = buildMulawTable()

func buildMulawTable() [256]int16 {
	var t [256]int16
	for i := range t {
		u := ^uint8(i)
		sign := u & 0x80
		exponent := (u >> 4) & 0x07
		mantissa := u & 0x0F
		sample := (int32(mantissa)<<3 + mulawBias) << exponent
		sample -= mulawBias
		if sign != 0 {
			sample = -sample
		}
		t[i] = int16(sample)
	}
	return t
}

// MulawDecode expands μ-law bytes to 16-bit little-endian linear PCM.
// The output is twice the length of the input.
func MulawDecode(in []byte) []byte {
	out := make([]byte, len(in)*2)
	for i, b := range in {
		s := mulawToPCM[b]
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// MulawEncode compands 16-bit little-endian linear PCM to μ-law bytes.
// The output is half the length of the input; a trailing odd byte is ignored.
func MulawEncode(in []byte) []byte {
	out := make([]byte, len(in)/2)
	for i := range out {
		s := int16(in[i*2]) | int16(in[i*2+1])<<8
		out[i] = mulawEncodeSample(s)
	}
	return out
}

func mulawEncodeSample(s int16) byte {
	sign := uint8(0)
	v := int32(s)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawBias

	exponent := uint8(7)
	for mask := int32(0x4000); mask != 0 && v&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := uint8(v>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}
