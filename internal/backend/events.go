package backend

// EventType classifies events received from the speech backend.
type EventType int

const (
	// EventAudioDelta carries one chunk of synthesised response audio.
	EventAudioDelta EventType = iota

	// EventAudioDone marks the end of the current response's audio.
	EventAudioDone

	// EventResponseDone marks the end of the current response turn, audio and
	// all other output items included.
	EventResponseDone

	// EventTranscriptDelta carries an incremental response transcript fragment.
	EventTranscriptDelta

	// EventTranscriptDone carries the full transcript of the response just
	// finished.
	EventTranscriptDone

	// EventUserTranscript carries the backend's recognition of a caller
	// utterance.
	EventUserTranscript

	// EventFunctionCall asks the caller to execute a function and report the
	// result with CreateFunctionOutput.
	EventFunctionCall

	// EventError carries a non-fatal error reported by the backend.
	EventError

	// EventClosed is the final event before the channel closes. Err holds the
	// cause when the connection failed, nil on clean shutdown.
	EventClosed
)

// String returns the event type name for logs.
func (t EventType) String() string {
	switch t {
	case EventAudioDelta:
		return "audio-delta"
	case EventAudioDone:
		return "audio-done"
	case EventResponseDone:
		return "response-done"
	case EventTranscriptDelta:
		return "transcript-delta"
	case EventTranscriptDone:
		return "transcript-done"
	case EventUserTranscript:
		return "user-transcript"
	case EventFunctionCall:
		return "function-call"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one typed backend event. Which fields are set depends on Type.
type Event struct {
	Type EventType

	// Audio holds decoded PCM16 bytes for EventAudioDelta.
	Audio []byte

	// Text holds transcript text for the transcript event types.
	Text string

	// Name, Args and CallID describe an EventFunctionCall. Args is the raw
	// JSON-encoded argument object.
	Name   string
	Args   string
	CallID string

	// Err is set for EventError and for EventClosed after a failure.
	Err error
}
