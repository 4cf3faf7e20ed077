// Package mock provides test doubles for the platform package interfaces.
//
// Use [Adapter] to drive the bridge with scripted inbound messages and to
// inspect the OutEvents it was asked to encode. Use [Conn] as an in-memory
// platform connection fed from the test goroutine.
package mock

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/voxbridge/voxbridge/pkg/audio"
	"github.com/voxbridge/voxbridge/pkg/platform"
)

// Adapter is a mock implementation of platform.Adapter. Decode expects raw
// bytes produced by [Wire]; Encode records every event and returns its JSON
// rendering.
type Adapter struct {
	mu sync.Mutex

	// Format is returned by NativeFormat. Defaults to 8k μ-law 20ms when zero.
	Format audio.Format

	// DecodeErr, if non-nil, is returned by every Decode call.
	DecodeErr error

	// SkipEvents lists OutEvent types Encode answers with (nil, nil),
	// simulating platforms without a wire expression for them.
	SkipEvents []platform.OutEventType

	// EncodeCalls records every OutEvent passed to Encode, in order.
	EncodeCalls []platform.OutEvent
}

// Ensure Adapter implements platform.Adapter at compile time.
var _ platform.Adapter = (*Adapter)(nil)

// Wire serialises a platform.Message for feeding into Adapter.Decode.
func Wire(m platform.Message) []byte {
	b, _ := json.Marshal(m)
	return b
}

// Name implements platform.Adapter.
func (a *Adapter) Name() string { return "mock" }

// NativeFormat implements platform.Adapter.
func (a *Adapter) NativeFormat() audio.Format {
	if a.Format.SampleRate == 0 {
		return audio.Format{SampleRate: 8000, Encoding: audio.EncodingMulaw, ChunkMs: 20}
	}
	return a.Format
}

// Decode implements platform.Adapter.
func (a *Adapter) Decode(raw []byte) (platform.Message, error) {
	a.mu.Lock()
	err := a.DecodeErr
	a.mu.Unlock()
	if err != nil {
		return platform.Message{}, err
	}

	var m platform.Message
	if jsonErr := json.Unmarshal(raw, &m); jsonErr != nil {
		return platform.Message{}, jsonErr
	}
	return m, nil
}

// Encode implements platform.Adapter.
func (a *Adapter) Encode(ev platform.OutEvent) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.EncodeCalls = append(a.EncodeCalls, ev)
	for _, skip := range a.SkipEvents {
		if ev.Type == skip {
			return nil, nil
		}
	}
	return json.Marshal(ev)
}

// Events returns a snapshot of the recorded Encode calls. Thread-safe.
func (a *Adapter) Events() []platform.OutEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]platform.OutEvent, len(a.EncodeCalls))
	copy(out, a.EncodeCalls)
	return out
}

// EventsOfType returns the recorded events of the given type, in order.
func (a *Adapter) EventsOfType(t platform.OutEventType) []platform.OutEvent {
	var out []platform.OutEvent
	for _, ev := range a.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// ErrConnClosed is returned by Conn operations after Close.
var ErrConnClosed = errors.New("mock: connection closed")

// Conn is an in-memory platform.Conn. Tests push inbound messages with
// Deliver and read the bridge's writes from Written.
type Conn struct {
	mu     sync.Mutex
	closed bool
	reason string

	inbound chan []byte

	// writes records every Write payload in order.
	writes [][]byte
}

// Ensure Conn implements platform.Conn at compile time.
var _ platform.Conn = (*Conn)(nil)

// NewConn returns a Conn with a buffered inbound queue.
func NewConn() *Conn {
	return &Conn{inbound: make(chan []byte, 64)}
}

// Deliver queues one inbound message for the bridge's read loop.
func (c *Conn) Deliver(raw []byte) {
	c.inbound <- raw
}

// DeliverMessage queues a platform.Message serialised via [Wire].
func (c *Conn) DeliverMessage(m platform.Message) {
	c.Deliver(Wire(m))
}

// CloseInbound ends the read loop as a remote connection loss would.
func (c *Conn) CloseInbound() {
	close(c.inbound)
}

// Read implements platform.Conn.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case raw, ok := <-c.inbound:
		if !ok {
			return nil, ErrConnClosed
		}
		return raw, nil
	}
}

// Write implements platform.Conn.
func (c *Conn) Write(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

// Close implements platform.Conn. Idempotent.
func (c *Conn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.reason = reason
	return nil
}

// Closed reports whether Close has been called, and with what reason.
func (c *Conn) Closed() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.reason
}

// Written returns a snapshot of everything written to the platform.
func (c *Conn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}
