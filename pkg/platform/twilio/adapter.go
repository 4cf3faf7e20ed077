// Package twilio implements the platform.Adapter interface for Twilio Media
// Streams.
//
// Media Streams speaks JSON text messages tagged by an "event" field
// (connected, start, media, dtmf, mark, stop). Audio is 8 kHz G.711 μ-law,
// base64-encoded in media.payload, in both directions. The protocol has no
// session-accept, speech-notification, or error messages; the bridge's
// stream boundaries are expressed as mark events, and a confirmed caller
// utterance start triggers a clear message so buffered playback stops
// (barge-in).
package twilio

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/voxbridge/voxbridge/pkg/audio"
	"github.com/voxbridge/voxbridge/pkg/platform"
)

// Compile-time assertion that Adapter satisfies the platform interface.
var _ platform.Adapter = (*Adapter)(nil)

// Adapter translates Twilio Media Streams wire messages. One instance per
// connection: the stream and call SIDs are captured from the start event and
// used to tag every outbound message.
type Adapter struct {
	streamSID string
	callSID   string
}

// New returns a fresh Adapter.
func New() *Adapter { return &Adapter{} }

// Name implements platform.Adapter.
func (a *Adapter) Name() string { return "twilio" }

// NativeFormat implements platform.Adapter. Media Streams is fixed at
// 8 kHz μ-law with 20ms media messages.
func (a *Adapter) NativeFormat() audio.Format {
	return audio.Format{SampleRate: 8000, Encoding: audio.EncodingMulaw, ChunkMs: 20}
}

// StreamSID returns the Twilio stream SID captured from the start event.
func (a *Adapter) StreamSID() string { return a.streamSID }

type inbound struct {
	Event string `json:"event"`
	Start *struct {
		StreamSID string `json:"streamSid"`
		CallSID   string `json:"callSid"`
	} `json:"start,omitempty"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	DTMF *struct {
		Digit string `json:"digit"`
	} `json:"dtmf,omitempty"`
}

// Decode implements platform.Adapter.
func (a *Adapter) Decode(raw []byte) (platform.Message, error) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return platform.Message{}, fmt.Errorf("twilio: decode: %w", err)
	}

	switch msg.Event {
	case "connected":
		return platform.Message{Type: platform.TypeConnected}, nil

	case "start":
		if msg.Start == nil {
			return platform.Message{}, fmt.Errorf("twilio: start event without start object")
		}
		a.streamSID = msg.Start.StreamSID
		a.callSID = msg.Start.CallSID
		id := a.callSID
		if id == "" {
			id = a.streamSID
		}
		return platform.Message{Type: platform.TypeSessionStart, ConversationID: id}, nil

	case "media":
		if msg.Media == nil {
			return platform.Message{}, fmt.Errorf("twilio: media event without media object")
		}
		payload, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			return platform.Message{}, fmt.Errorf("twilio: media payload base64: %w", err)
		}
		return platform.Message{Type: platform.TypeAudioChunk, Payload: payload}, nil

	case "dtmf":
		m := platform.Message{Type: platform.TypeActivity, Activity: platform.ActivityDTMF}
		if msg.DTMF != nil {
			m.Digit = msg.DTMF.Digit
		}
		return m, nil

	case "stop":
		return platform.Message{Type: platform.TypeSessionEnd}, nil

	case "mark":
		// Playback-position acknowledgement; nothing for the bridge to do.
		return platform.Message{Type: platform.TypeUnknown}, nil

	default:
		return platform.Message{Type: platform.TypeUnknown}, nil
	}
}

// Encode implements platform.Adapter. Media Streams has no utterance-commit
// convention on the inbound side (the bridge's VAD decides turns), no
// session-accept, and no error message; those events encode to nil and the
// bridge skips them.
func (a *Adapter) Encode(ev platform.OutEvent) ([]byte, error) {
	switch ev.Type {
	case platform.OutStreamStart:
		// Delimit the stream with a mark carrying the bridge's stream id so
		// Twilio's mark echo reports playback progress per stream.
		return json.Marshal(map[string]any{
			"event":     "mark",
			"streamSid": a.streamSID,
			"mark":      map[string]string{"name": ev.StreamID},
		})

	case platform.OutStreamChunk:
		return json.Marshal(map[string]any{
			"event":     "media",
			"streamSid": a.streamSID,
			"media": map[string]string{
				"payload": base64.StdEncoding.EncodeToString(ev.Payload),
			},
		})

	case platform.OutStreamStop:
		return json.Marshal(map[string]any{
			"event":     "mark",
			"streamSid": a.streamSID,
			"mark":      map[string]string{"name": ev.StreamID + ".done"},
		})

	case platform.OutSpeechStarted:
		// Barge-in: flush any queued playback when the caller starts talking.
		return json.Marshal(map[string]any{
			"event":     "clear",
			"streamSid": a.streamSID,
		})

	case platform.OutSessionAccepted, platform.OutSpeechStopped, platform.OutSessionError:
		// No wire expression in Media Streams.
		return nil, nil

	default:
		return nil, fmt.Errorf("twilio: unsupported out event %d", ev.Type)
	}
}
