// Package audiocodes implements the platform.Adapter interface for the
// AudioCodes VoiceAI Connect bot WebSocket protocol.
//
// VoiceAI Connect sends JSON text messages tagged by a "type" field
// (session.initiate, userStream.chunk, activities, …) and expects the bot to
// answer with session.accepted, playStream.* and speech notifications.
// Audio is carried base64-encoded inside audioChunk fields. The media format
// is negotiated from the session.initiate supportedMediaFormats list:
// linear PCM16 at 16 kHz is preferred, μ-law at 8 kHz accepted as fallback.
package audiocodes

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/voxbridge/voxbridge/pkg/audio"
	"github.com/voxbridge/voxbridge/pkg/platform"
)

// Compile-time assertion that Adapter satisfies the platform interface.
var _ platform.Adapter = (*Adapter)(nil)

// Media format identifiers defined by the VoiceAI Connect bot API.
const (
	FormatLPCM16 = "raw/lpcm16" // PCM16, 16 kHz
	FormatMulaw  = "raw/mulaw"  // G.711 μ-law, 8 kHz
)

// chunkMs is the chunk duration VoiceAI Connect produces and expects.
const chunkMs = 20

// Adapter translates VoiceAI Connect wire messages. One instance per
// connection: the negotiated media format is captured at session.initiate.
type Adapter struct {
	formatName string
	format     audio.Format
}

// New returns an Adapter with the default lpcm16 format, replaced on
// negotiation if the platform does not offer it.
func New() *Adapter {
	return &Adapter{
		formatName: FormatLPCM16,
		format:     audio.Format{SampleRate: 16000, Encoding: audio.EncodingPCM16, ChunkMs: chunkMs},
	}
}

// Name implements platform.Adapter.
func (a *Adapter) Name() string { return "audiocodes" }

// NativeFormat implements platform.Adapter. Valid after the session.initiate
// message has been decoded; before that it reports the preferred default.
func (a *Adapter) NativeFormat() audio.Format { return a.format }

// inbound covers every VoiceAI Connect message the bridge consumes.
type inbound struct {
	Type                  string     `json:"type"`
	ConversationID        string     `json:"conversationId,omitempty"`
	SupportedMediaFormats []string   `json:"supportedMediaFormats,omitempty"`
	AudioChunk            string     `json:"audioChunk,omitempty"`
	Reason                string     `json:"reason,omitempty"`
	Activities            []activity `json:"activities,omitempty"`
}

type activity struct {
	Type  string `json:"type"`
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
}

// Decode implements platform.Adapter.
func (a *Adapter) Decode(raw []byte) (platform.Message, error) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return platform.Message{}, fmt.Errorf("audiocodes: decode: %w", err)
	}

	switch msg.Type {
	case "session.initiate":
		a.negotiate(msg.SupportedMediaFormats)
		return platform.Message{Type: platform.TypeSessionStart, ConversationID: msg.ConversationID}, nil

	case "session.resume":
		return platform.Message{Type: platform.TypeSessionResume, ConversationID: msg.ConversationID}, nil

	case "userStream.start":
		// Stream open marker; audio follows in userStream.chunk messages.
		return platform.Message{Type: platform.TypeConnected}, nil

	case "userStream.chunk":
		payload, err := base64.StdEncoding.DecodeString(msg.AudioChunk)
		if err != nil {
			return platform.Message{}, fmt.Errorf("audiocodes: audioChunk base64: %w", err)
		}
		return platform.Message{Type: platform.TypeAudioChunk, Payload: payload}, nil

	case "userStream.stop":
		return platform.Message{Type: platform.TypeAudioEnd}, nil

	case "session.end":
		return platform.Message{Type: platform.TypeSessionEnd}, nil

	case "activities":
		return decodeActivities(msg.Activities), nil

	default:
		return platform.Message{Type: platform.TypeUnknown}, nil
	}
}

// decodeActivities maps the first recognised activity in the list. VoiceAI
// Connect batches activities, but DTMF and hangup arrive one per message in
// practice.
func decodeActivities(acts []activity) platform.Message {
	for _, act := range acts {
		switch act.Name {
		case "dtmf":
			return platform.Message{Type: platform.TypeActivity, Activity: platform.ActivityDTMF, Digit: act.Value}
		case "hangup":
			return platform.Message{Type: platform.TypeActivity, Activity: platform.ActivityHangup}
		}
	}
	return platform.Message{Type: platform.TypeActivity, Activity: platform.ActivityCustom}
}

// negotiate picks the media format from the platform's offer.
func (a *Adapter) negotiate(offered []string) {
	for _, f := range offered {
		if f == FormatLPCM16 {
			a.formatName = FormatLPCM16
			a.format = audio.Format{SampleRate: 16000, Encoding: audio.EncodingPCM16, ChunkMs: chunkMs}
			return
		}
	}
	for _, f := range offered {
		if f == FormatMulaw {
			a.formatName = FormatMulaw
			a.format = audio.Format{SampleRate: 8000, Encoding: audio.EncodingMulaw, ChunkMs: chunkMs}
			return
		}
	}
	// Empty or unrecognised offer: keep the default and let the platform
	// reject session.accepted if it truly cannot play it.
}

// Encode implements platform.Adapter.
func (a *Adapter) Encode(ev platform.OutEvent) ([]byte, error) {
	switch ev.Type {
	case platform.OutSessionAccepted:
		return json.Marshal(map[string]string{
			"type":        "session.accepted",
			"mediaFormat": a.formatName,
		})

	case platform.OutSessionError:
		return json.Marshal(map[string]string{
			"type":   "session.error",
			"reason": ev.Reason,
		})

	case platform.OutSpeechStarted:
		return json.Marshal(map[string]string{
			"type":        "userStream.speech.started",
			"participant": "user",
		})

	case platform.OutSpeechStopped:
		return json.Marshal(map[string]string{
			"type":        "userStream.speech.stopped",
			"participant": "user",
		})

	case platform.OutStreamStart:
		return json.Marshal(map[string]string{
			"type":     "playStream.start",
			"streamId": ev.StreamID,
		})

	case platform.OutStreamChunk:
		return json.Marshal(map[string]string{
			"type":       "playStream.chunk",
			"streamId":   ev.StreamID,
			"audioChunk": base64.StdEncoding.EncodeToString(ev.Payload),
		})

	case platform.OutStreamStop:
		return json.Marshal(map[string]string{
			"type":     "playStream.stop",
			"streamId": ev.StreamID,
		})

	default:
		return nil, fmt.Errorf("audiocodes: unsupported out event %d", ev.Type)
	}
}
