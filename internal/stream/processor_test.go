package stream

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/voxbridge/voxbridge/pkg/audio"
)

var (
	mulaw8k = audio.Format{SampleRate: 8000, Encoding: audio.EncodingMulaw, ChunkMs: 20}
	pcm16k  = audio.Format{SampleRate: 16000, Encoding: audio.EncodingPCM16, ChunkMs: 20}
)

func testProcessor(src audio.Format) *Processor {
	return New(Config{Source: src, Target: src, CanonicalRate: 24000, MinChunkMs: 100})
}

// mulawTone returns durMs of a μ-law encoded 300 Hz tone at 8 kHz.
func mulawTone(durMs int) []byte {
	n := 8000 * durMs / 1000
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*300*float64(i)/8000))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return audio.MulawEncode(pcm)
}

func TestIngest_ShortMulawChunkPaddedToMinimum(t *testing.T) {
	// A 50ms 8kHz μ-law chunk must reach the backend as one canonical-rate
	// PCM16 frame of at least the configured 100ms minimum.
	p := testProcessor(mulaw8k)

	canonical, input, err := p.Ingest(mulawTone(50))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if input.SampleRate != 8000 || input.Encoding != audio.EncodingPCM16 {
		t.Errorf("input frame: rate %d encoding %s", input.SampleRate, input.Encoding)
	}
	if got := input.Duration().Milliseconds(); got != 50 {
		t.Errorf("input duration: got %dms, want 50ms", got)
	}

	if canonical.SampleRate != 24000 {
		t.Errorf("canonical rate: got %d, want 24000", canonical.SampleRate)
	}
	if got := canonical.Duration().Milliseconds(); got < 100 {
		t.Errorf("canonical duration: got %dms, want >= 100ms", got)
	}
}

func TestIngest_LongChunkNotPadded(t *testing.T) {
	p := testProcessor(mulaw8k)

	canonical, _, err := p.Ingest(mulawTone(200))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	got := canonical.Duration().Milliseconds()
	if got < 199 || got > 201 {
		t.Errorf("canonical duration: got %dms, want ~200ms", got)
	}
}

func TestIngest_PCMPassesWithoutDecode(t *testing.T) {
	p := testProcessor(pcm16k)

	raw := make([]byte, 640) // 20ms at 16k
	canonical, input, err := p.Ingest(raw)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if input.SampleRate != 16000 {
		t.Errorf("input rate: got %d", input.SampleRate)
	}
	if canonical.Duration().Milliseconds() < 100 {
		t.Errorf("canonical not padded to minimum: %v", canonical.Duration())
	}
}

func TestIngest_Malformed(t *testing.T) {
	p := testProcessor(pcm16k)

	if _, _, err := p.Ingest(nil); err == nil {
		t.Error("empty chunk: want error")
	}
	if _, _, err := p.Ingest([]byte{0x01, 0x02, 0x03}); err == nil {
		t.Error("odd PCM length: want error")
	}
}

func TestEmit_RechunksWithRemainderCarry(t *testing.T) {
	// 30ms of canonical audio at a 20ms μ-law target: one full chunk out,
	// 10ms carried; a second 30ms call completes two more chunks.
	p := testProcessor(mulaw8k)

	in := make([]byte, 24000*30/1000*2) // 30ms canonical PCM16
	chunks, err := p.Emit(in)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("first emit: got %d chunks, want 1", len(chunks))
	}
	if len(chunks[0]) != 160 {
		t.Errorf("chunk size: got %d, want 160 (20ms mulaw at 8k)", len(chunks[0]))
	}
	if p.PendingBytes() != 80 {
		t.Errorf("remainder: got %d bytes, want 80 (10ms)", p.PendingBytes())
	}

	chunks, err = p.Emit(in)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(chunks) != 2 {
		t.Errorf("second emit: got %d chunks, want 2", len(chunks))
	}
	if p.PendingBytes() != 0 {
		t.Errorf("remainder after second emit: got %d, want 0", p.PendingBytes())
	}
}

func TestFlush_PadsWithMulawSilence(t *testing.T) {
	p := testProcessor(mulaw8k)

	// 10ms canonical → 10ms μ-law remainder, no complete chunk.
	in := make([]byte, 24000*10/1000*2)
	chunks, err := p.Emit(in)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("emit of partial chunk: got %d chunks, want 0", len(chunks))
	}

	final := p.Flush()
	if len(final) != 160 {
		t.Fatalf("flushed chunk: got %d bytes, want 160", len(final))
	}
	// Padding bytes must be the μ-law silence code, never zero.
	padding := final[80:]
	for i, b := range padding {
		if b != audio.MulawSilence {
			t.Fatalf("padding byte %d: got %#x, want %#x", i, b, audio.MulawSilence)
		}
	}
	if !bytes.Equal(p.Flush(), nil) {
		t.Error("second flush should return nil")
	}
}

func TestFlush_PadsWithPCMSilence(t *testing.T) {
	p := testProcessor(pcm16k)

	in := make([]byte, 24000*10/1000*2) // 10ms canonical
	if _, err := p.Emit(in); err != nil {
		t.Fatalf("emit: %v", err)
	}

	final := p.Flush()
	if len(final) != 640 {
		t.Fatalf("flushed chunk: got %d bytes, want 640", len(final))
	}
	for i, b := range final[320:] {
		if b != 0 {
			t.Fatalf("padding byte %d: got %#x, want 0", i, b)
		}
	}
}

func TestEmit_NoChunkingConvention(t *testing.T) {
	p := New(Config{
		Source:        audio.Format{SampleRate: 24000, Encoding: audio.EncodingPCM16},
		Target:        audio.Format{SampleRate: 24000, Encoding: audio.EncodingPCM16},
		CanonicalRate: 24000,
	})

	in := make([]byte, 480)
	chunks, err := p.Emit(in)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(chunks) != 1 || len(chunks[0]) != 480 {
		t.Errorf("pass-through: got %d chunks", len(chunks))
	}
}

func TestEmit_OddLengthRejected(t *testing.T) {
	p := testProcessor(mulaw8k)
	if _, err := p.Emit([]byte{0x01}); err == nil {
		t.Error("odd canonical length: want error")
	}
}
