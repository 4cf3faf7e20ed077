// Package platform defines the interfaces and internal message types for
// telephony platform connectivity.
//
// The two primary abstractions are:
//
//   - [Adapter] — translates one platform's wire messages to and from the
//     bridge's internal representation, and declares the platform's native
//     audio format.
//   - [Conn] — a platform WebSocket connection as the bridge consumes it.
//
// Adapters are pure translators: they never call into the bridge, which
// keeps the dependency one-directional (the bridge owns the adapter, not the
// other way around). This package lives under pkg/ because third-party
// platform adapters are expected to implement [Adapter].
package platform

import (
	"context"

	"github.com/voxbridge/voxbridge/pkg/audio"
)

// MessageType classifies inbound platform messages after decoding.
type MessageType int

const (
	// TypeUnknown — unrecognised wire message. Logged and dropped, never fatal.
	TypeUnknown MessageType = iota

	// TypeConnected — transport-level hello carrying no session state.
	TypeConnected

	// TypeSessionStart — the platform opens a conversation.
	TypeSessionStart

	// TypeSessionResume — the platform reconnects an earlier conversation.
	TypeSessionResume

	// TypeAudioChunk — one chunk of caller audio (Payload holds the decoded bytes).
	TypeAudioChunk

	// TypeAudioEnd — the platform signals end of the caller's utterance.
	TypeAudioEnd

	// TypeSessionEnd — the platform closes the conversation.
	TypeSessionEnd

	// TypeActivity — an out-of-band event: DTMF digit, hangup, or custom.
	TypeActivity
)

// String returns the human-readable name of the message type.
func (t MessageType) String() string {
	switch t {
	case TypeConnected:
		return "connected"
	case TypeSessionStart:
		return "session-start"
	case TypeSessionResume:
		return "session-resume"
	case TypeAudioChunk:
		return "audio-chunk"
	case TypeAudioEnd:
		return "audio-end"
	case TypeSessionEnd:
		return "session-end"
	case TypeActivity:
		return "activity"
	default:
		return "unknown"
	}
}

// ActivityKind classifies TypeActivity messages.
type ActivityKind string

const (
	ActivityDTMF   ActivityKind = "dtmf"
	ActivityHangup ActivityKind = "hangup"
	ActivityCustom ActivityKind = "custom"
)

// Message is the internal form of one inbound platform message.
type Message struct {
	// Type selects which of the remaining fields are meaningful.
	Type MessageType

	// ConversationID is the platform's identifier for the conversation.
	// Set on TypeSessionStart/TypeSessionResume; adapters that learn the id
	// mid-stream (Twilio's start event) also set it there.
	ConversationID string

	// Payload holds decoded audio bytes for TypeAudioChunk. The base64 wire
	// encoding is stripped by the adapter; the bytes are still in the
	// platform's native encoding (μ-law or PCM16).
	Payload []byte

	// Activity describes TypeActivity messages.
	Activity ActivityKind

	// Digit is the DTMF digit for ActivityDTMF.
	Digit string
}

// OutEventType classifies outbound events the bridge asks an adapter to encode.
type OutEventType int

const (
	// OutSessionAccepted — answer a session start with the chosen media format.
	OutSessionAccepted OutEventType = iota

	// OutStreamStart — open an outbound audio stream identified by StreamID.
	OutStreamStart

	// OutStreamChunk — one audio chunk for the open stream.
	OutStreamChunk

	// OutStreamStop — close the outbound audio stream.
	OutStreamStop

	// OutSpeechStarted — the local VAD confirmed caller speech.
	OutSpeechStarted

	// OutSpeechStopped — the local VAD confirmed end of caller speech.
	OutSpeechStopped

	// OutSessionError — the conversation cannot continue; Reason explains why.
	OutSessionError
)

// OutEvent is one outbound event for [Adapter.Encode].
type OutEvent struct {
	Type OutEventType

	// StreamID tags stream start/chunk/stop events.
	StreamID string

	// Payload holds audio bytes in the platform's native encoding for
	// OutStreamChunk. Adapters apply the base64 wire encoding.
	Payload []byte

	// Format is the negotiated media format for OutSessionAccepted.
	Format audio.Format

	// Reason is the human-readable error for OutSessionError.
	Reason string
}

// Adapter translates between one platform's wire protocol and the internal
// message types above. One Adapter instance serves one connection; Decode may
// retain per-connection identifiers (stream SIDs) needed by later Encode
// calls, so instances are not shared.
type Adapter interface {
	// Name identifies the platform ("audiocodes", "twilio") for logs and metrics.
	Name() string

	// NativeFormat declares the platform's audio format and chunking
	// convention, used to parameterise the stream processor.
	NativeFormat() audio.Format

	// Decode parses one raw wire message. Unrecognised messages return a
	// Message with TypeUnknown and a nil error; an error means the payload
	// was malformed (bad JSON, bad base64) and should be dropped.
	Decode(raw []byte) (Message, error)

	// Encode renders one outbound event as a wire message. Returning
	// (nil, nil) means the platform has no wire expression for this event
	// and the bridge must skip it.
	Encode(ev OutEvent) ([]byte, error)
}

// Conn is a platform WebSocket connection as consumed by the bridge. The
// server implements it over the real socket; tests substitute an in-memory
// double. Read is called from exactly one goroutine, and Write from exactly
// one other; implementations need not support more.
type Conn interface {
	// Read returns the next raw message from the platform. It returns an
	// error when the connection is closed or broken.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one raw message to the platform.
	Write(ctx context.Context, data []byte) error

	// Close tears the connection down. Safe to call more than once.
	Close(reason string) error
}
