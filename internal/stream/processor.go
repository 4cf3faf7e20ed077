// Package stream implements the per-conversation audio pipeline between a
// telephony platform's wire format and the backend's canonical PCM16 format.
//
// One [Processor] serves one conversation and one direction pair: Ingest
// normalises inbound platform chunks for the backend, Emit re-encodes backend
// audio for the platform. The processor is used from a single goroutine (the
// bridge's processing loop) and holds only the outbound re-chunking
// remainder as state.
package stream

import (
	"errors"
	"fmt"

	"github.com/voxbridge/voxbridge/pkg/audio"
)

// ErrEmptyChunk is returned by Ingest for zero-length payloads.
var ErrEmptyChunk = errors.New("stream: empty audio chunk")

// Config parameterises a Processor for one conversation.
type Config struct {
	// Source is the platform's inbound wire format.
	Source audio.Format

	// Target is the platform's outbound wire format (usually equal to
	// Source for telephony platforms).
	Target audio.Format

	// CanonicalRate is the backend's fixed PCM16 sample rate.
	CanonicalRate int

	// MinChunkMs is the minimum duration of a canonical chunk forwarded to
	// the backend. Shorter chunks are padded with silence: the backend's
	// server-side turn detector misbehaves on short or irregular appends.
	MinChunkMs int
}

func (c Config) withDefaults() Config {
	if c.CanonicalRate <= 0 {
		c.CanonicalRate = 24000
	}
	if c.MinChunkMs <= 0 {
		c.MinChunkMs = 100
	}
	if c.Target.SampleRate <= 0 {
		c.Target = c.Source
	}
	return c
}

// Processor converts audio between one platform's wire format and the
// canonical backend format. Not safe for concurrent use.
type Processor struct {
	cfg Config

	// remainder buffers a partial outbound chunk between Emit calls so
	// re-chunking never pads mid-stream.
	remainder []byte
}

// New creates a Processor. Invalid formats are reported by the first Ingest
// or Emit call rather than here, so construction cannot fail mid-handshake.
func New(cfg Config) *Processor {
	return &Processor{cfg: cfg.withDefaults()}
}

// Ingest decodes one inbound platform chunk and returns two frames: the
// canonical-rate PCM16 frame to forward to the backend, and the input-rate
// PCM16 frame for VAD and quality analysis. VAD and quality must see the
// rate the platform actually produced — analysing after resampling would
// measure resampler artefacts.
//
// Canonical frames shorter than MinChunkMs are padded with trailing PCM
// silence. Malformed payloads return an error; the caller logs and drops.
func (p *Processor) Ingest(raw []byte) (canonical, input audio.Frame, err error) {
	if len(raw) == 0 {
		return audio.Frame{}, audio.Frame{}, ErrEmptyChunk
	}

	pcm := raw
	if p.cfg.Source.Encoding == audio.EncodingMulaw {
		pcm = audio.MulawDecode(raw)
	} else if len(raw)%2 != 0 {
		return audio.Frame{}, audio.Frame{}, fmt.Errorf("stream: odd PCM16 payload length %d", len(raw))
	}

	input = audio.NewPCM16(pcm, p.cfg.Source.SampleRate)

	out := audio.Resample(pcm, p.cfg.Source.SampleRate, p.cfg.CanonicalRate)
	minBytes := p.cfg.CanonicalRate * p.cfg.MinChunkMs / 1000 * 2
	if len(out) < minBytes {
		padded := make([]byte, minBytes)
		copy(padded, out)
		out = padded
	}

	return audio.NewPCM16(out, p.cfg.CanonicalRate), input, nil
}

// Emit converts canonical-rate PCM16 from the backend into zero or more
// complete wire chunks in the target format. A trailing partial chunk is
// buffered for the next call; Flush drains it at stream end.
func (p *Processor) Emit(pcm []byte) ([][]byte, error) {
	if len(pcm) == 0 {
		return nil, nil
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("stream: odd canonical PCM16 length %d", len(pcm))
	}

	out := audio.Resample(pcm, p.cfg.CanonicalRate, p.cfg.Target.SampleRate)
	if p.cfg.Target.Encoding == audio.EncodingMulaw {
		out = audio.MulawEncode(out)
	}

	p.remainder = append(p.remainder, out...)

	chunkBytes := p.cfg.Target.ChunkBytes()
	if chunkBytes <= 0 {
		// No chunking convention: pass everything through.
		all := p.remainder
		p.remainder = nil
		return [][]byte{all}, nil
	}

	var chunks [][]byte
	for len(p.remainder) >= chunkBytes {
		chunks = append(chunks, p.remainder[:chunkBytes:chunkBytes])
		p.remainder = p.remainder[chunkBytes:]
	}
	return chunks, nil
}

// Flush returns the buffered partial chunk padded to the full chunk size
// with format-correct silence, or nil when nothing is buffered. Called when
// the backend signals the end of a response's audio.
func (p *Processor) Flush() []byte {
	if len(p.remainder) == 0 {
		return nil
	}

	chunkBytes := p.cfg.Target.ChunkBytes()
	out := p.remainder
	p.remainder = nil

	if chunkBytes > 0 && len(out) < chunkBytes {
		out = append(out, audio.SilenceFor(p.cfg.Target.Encoding, chunkBytes-len(out))...)
	}
	return out
}

// PendingBytes reports the size of the buffered partial outbound chunk.
func (p *Processor) PendingBytes() int { return len(p.remainder) }
