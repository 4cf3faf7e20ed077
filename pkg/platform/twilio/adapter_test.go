package twilio

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/voxbridge/voxbridge/pkg/audio"
	"github.com/voxbridge/voxbridge/pkg/platform"
)

func startMessage(t *testing.T, a *Adapter) {
	t.Helper()
	raw, _ := json.Marshal(map[string]any{
		"event": "start",
		"start": map[string]string{"streamSid": "MZ123", "callSid": "CA456"},
	})
	if _, err := a.Decode(raw); err != nil {
		t.Fatalf("start decode: %v", err)
	}
}

func TestNativeFormat(t *testing.T) {
	f := New().NativeFormat()
	if f.SampleRate != 8000 || f.Encoding != audio.EncodingMulaw || f.ChunkMs != 20 {
		t.Errorf("native format: got %d/%s/%dms", f.SampleRate, f.Encoding, f.ChunkMs)
	}
}

func TestDecode_StartCapturesSIDs(t *testing.T) {
	a := New()
	raw, _ := json.Marshal(map[string]any{
		"event": "start",
		"start": map[string]string{"streamSid": "MZ123", "callSid": "CA456"},
	})

	msg, err := a.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != platform.TypeSessionStart {
		t.Errorf("type: got %s", msg.Type)
	}
	if msg.ConversationID != "CA456" {
		t.Errorf("conversation id: got %q, want call SID", msg.ConversationID)
	}
	if a.StreamSID() != "MZ123" {
		t.Errorf("stream sid: got %q", a.StreamSID())
	}
}

func TestDecode_StartWithoutCallSIDFallsBackToStreamSID(t *testing.T) {
	a := New()
	raw, _ := json.Marshal(map[string]any{
		"event": "start",
		"start": map[string]string{"streamSid": "MZ123"},
	})
	msg, err := a.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.ConversationID != "MZ123" {
		t.Errorf("conversation id: got %q, want stream SID", msg.ConversationID)
	}
}

func TestDecode_MessageTypes(t *testing.T) {
	tests := []struct {
		name string
		wire map[string]any
		want platform.MessageType
	}{
		{"connected", map[string]any{"event": "connected"}, platform.TypeConnected},
		{"stop", map[string]any{"event": "stop"}, platform.TypeSessionEnd},
		{"mark echo", map[string]any{"event": "mark", "mark": map[string]string{"name": "s1"}}, platform.TypeUnknown},
		{"unrecognised", map[string]any{"event": "whatever"}, platform.TypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, _ := json.Marshal(tt.wire)
			msg, err := New().Decode(raw)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if msg.Type != tt.want {
				t.Errorf("type: got %s, want %s", msg.Type, tt.want)
			}
		})
	}
}

func TestDecode_Media(t *testing.T) {
	mulaw := []byte{0xFF, 0x7F, 0x80}
	raw, _ := json.Marshal(map[string]any{
		"event": "media",
		"media": map[string]string{"payload": base64.StdEncoding.EncodeToString(mulaw)},
	})

	msg, err := New().Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != platform.TypeAudioChunk {
		t.Fatalf("type: got %s", msg.Type)
	}
	if string(msg.Payload) != string(mulaw) {
		t.Errorf("payload: got %v", msg.Payload)
	}
}

func TestDecode_MediaBadBase64(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{
		"event": "media",
		"media": map[string]string{"payload": "***"},
	})
	if _, err := New().Decode(raw); err == nil {
		t.Error("bad base64: want error")
	}
}

func TestDecode_DTMF(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{
		"event": "dtmf",
		"dtmf":  map[string]string{"digit": "9"},
	})
	msg, err := New().Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != platform.TypeActivity || msg.Activity != platform.ActivityDTMF || msg.Digit != "9" {
		t.Errorf("dtmf: got %+v", msg)
	}
}

func TestEncode_MediaTaggedWithStreamSID(t *testing.T) {
	a := New()
	startMessage(t, a)

	mulaw := []byte{0x01, 0x02}
	out, err := a.Encode(platform.OutEvent{Type: platform.OutStreamChunk, StreamID: "s1", Payload: mulaw})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var msg struct {
		Event     string `json:"event"`
		StreamSID string `json:"streamSid"`
		Media     struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}
	if err := json.Unmarshal(out, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Event != "media" || msg.StreamSID != "MZ123" {
		t.Errorf("envelope: got %+v", msg)
	}
	decoded, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	if err != nil || string(decoded) != string(mulaw) {
		t.Errorf("payload: got %q", msg.Media.Payload)
	}
}

func TestEncode_StreamBoundariesAsMarks(t *testing.T) {
	a := New()
	startMessage(t, a)

	out, err := a.Encode(platform.OutEvent{Type: platform.OutStreamStart, StreamID: "s1"})
	if err != nil {
		t.Fatalf("encode start: %v", err)
	}
	var msg struct {
		Event string `json:"event"`
		Mark  struct {
			Name string `json:"name"`
		} `json:"mark"`
	}
	json.Unmarshal(out, &msg)
	if msg.Event != "mark" || msg.Mark.Name != "s1" {
		t.Errorf("stream start: got %+v", msg)
	}

	out, err = a.Encode(platform.OutEvent{Type: platform.OutStreamStop, StreamID: "s1"})
	if err != nil {
		t.Fatalf("encode stop: %v", err)
	}
	json.Unmarshal(out, &msg)
	if msg.Event != "mark" || msg.Mark.Name != "s1.done" {
		t.Errorf("stream stop: got %+v", msg)
	}
}

func TestEncode_SpeechStartedClearsPlayback(t *testing.T) {
	a := New()
	startMessage(t, a)

	out, err := a.Encode(platform.OutEvent{Type: platform.OutSpeechStarted})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var msg map[string]any
	json.Unmarshal(out, &msg)
	if msg["event"] != "clear" || msg["streamSid"] != "MZ123" {
		t.Errorf("clear: got %v", msg)
	}
}

func TestEncode_EventsWithoutWireExpressionSkip(t *testing.T) {
	a := New()
	for _, typ := range []platform.OutEventType{
		platform.OutSessionAccepted,
		platform.OutSpeechStopped,
		platform.OutSessionError,
	} {
		out, err := a.Encode(platform.OutEvent{Type: typ})
		if err != nil {
			t.Errorf("event %d: unexpected error %v", typ, err)
		}
		if out != nil {
			t.Errorf("event %d: got %s, want nil (skip)", typ, out)
		}
	}
}
