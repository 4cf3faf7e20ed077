// Package audio provides the frame and format types shared by every stage of
// the bridge's audio pipeline, together with the pure conversion functions
// between sample rates and between linear PCM and μ-law companding.
//
// Frames are value types: each processing stage returns a new [Frame] rather
// than mutating its input, and a frame never changes sample rate or encoding
// implicitly — every boundary crossing is an explicit call into this package.
package audio

import "time"

// Encoding identifies the byte-level representation of audio samples.
type Encoding string

const (
	// EncodingPCM16 is 16-bit little-endian linear PCM, 2 bytes per sample.
	EncodingPCM16 Encoding = "pcm16"

	// EncodingMulaw is G.711 μ-law companded audio, 1 byte per sample.
	EncodingMulaw Encoding = "mulaw"
)

// IsValid reports whether e is a recognised encoding.
func (e Encoding) IsValid() bool {
	return e == EncodingPCM16 || e == EncodingMulaw
}

// BytesPerSample returns the storage size of one sample in this encoding.
func (e Encoding) BytesPerSample() int {
	if e == EncodingMulaw {
		return 1
	}
	return 2
}

// Format describes the wire audio convention of one side of the bridge:
// sample rate, encoding, and the chunk duration the peer expects.
// Platform adapters declare their native Format so the stream processor can
// be parameterised without platform-specific branching.
type Format struct {
	// SampleRate in Hz (8000 for telephony μ-law, 16000/24000 for PCM16).
	SampleRate int

	// Encoding is the sample representation on the wire.
	Encoding Encoding

	// ChunkMs is the chunk duration in milliseconds the peer produces and
	// expects. Zero means no fixed chunking convention.
	ChunkMs int
}

// ChunkBytes returns the byte length of one wire chunk in this format,
// or 0 if the format declares no chunking convention.
func (f Format) ChunkBytes() int {
	if f.ChunkMs <= 0 {
		return 0
	}
	return f.SampleRate * f.ChunkMs / 1000 * f.Encoding.BytesPerSample()
}

// Frame is one in-memory unit of audio: a sample buffer tagged with its
// format. Mono throughout this system (Channels is carried for clarity and
// validation only).
type Frame struct {
	// Data holds the samples in the representation given by Encoding.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is always 1 in this system.
	Channels int

	// Encoding is the sample representation of Data.
	Encoding Encoding
}

// NewPCM16 returns a mono PCM16 frame over data at rate Hz.
func NewPCM16(data []byte, rate int) Frame {
	return Frame{Data: data, SampleRate: rate, Channels: 1, Encoding: EncodingPCM16}
}

// SampleCount returns the number of samples in the frame.
func (f Frame) SampleCount() int {
	bps := f.Encoding.BytesPerSample()
	if bps == 0 {
		return 0
	}
	return len(f.Data) / bps
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.SampleCount()) * time.Second / time.Duration(f.SampleRate)
}

// SilenceFor returns n bytes of format-correct silence for the given
// encoding: zero bytes for PCM16, the μ-law silence code for μ-law.
// A zero byte is NOT silence in μ-law — it decodes to a near-full-scale
// sample and is audible as a loud click.
func SilenceFor(e Encoding, n int) []byte {
	out := make([]byte, n)
	if e == EncodingMulaw {
		for i := range out {
			out[i] = MulawSilence
		}
	}
	return out
}
