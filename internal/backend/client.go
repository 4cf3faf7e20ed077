// Package backend implements the WebSocket client for the speech backend's
// realtime API.
//
// The client dials the backend, configures the session with a session.update
// message, and then exchanges JSON events: caller audio goes out as
// base64-encoded PCM16 input_audio_buffer.append messages, and everything the
// backend produces arrives on the typed [Client.Events] channel. The receive
// loop does no dispatching of its own; consumers own all conversation state.
package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

const (
	defaultModel = "gpt-realtime"

	// eventBuffer sizes the Events channel. The consumer drains promptly; the
	// buffer only absorbs scheduling jitter.
	eventBuffer = 64
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the backend model requested at dial time.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithVoice sets the synthesis voice sent in session.update.
func WithVoice(voice string) Option {
	return func(c *Client) { c.voice = voice }
}

// WithInstructions sets the system instructions sent in session.update.
func WithInstructions(instructions string) Option {
	return func(c *Client) { c.instructions = instructions }
}

// WithFunctions declares the functions offered to the backend. Calls are
// surfaced as EventFunctionCall events.
func WithFunctions(fns []FunctionDefinition) Option {
	return func(c *Client) { c.functions = fns }
}

// FunctionDefinition describes one function offered to the backend.
type FunctionDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Client is one realtime session with the speech backend. Create with [Dial];
// all exported methods are safe for concurrent use.
type Client struct {
	url          string
	apiKey       string
	model        string
	voice        string
	instructions string
	functions    []FunctionDefinition

	conn   *websocket.Conn
	events chan Event

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// Dial connects to the backend, sends the initial session.update and starts
// the receive loop. The caller owns the Client and must call Close.
func Dial(ctx context.Context, url, apiKey string, opts ...Option) (*Client, error) {
	c := &Client{
		url:    url,
		apiKey: apiKey,
		model:  defaultModel,
		events: make(chan Event, eventBuffer),
	}
	for _, o := range opts {
		o(c)
	}

	wsURL := fmt.Sprintf("%s?model=%s", c.url, c.model)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + c.apiKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("backend: dial: %w", err)
	}
	c.conn = conn
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if err := c.sendSessionUpdate(); err != nil {
		c.cancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("backend: session update: %w", err)
	}

	go c.receiveLoop()

	return c, nil
}

// Events returns the channel carrying backend events. The channel closes
// after a final EventClosed once the connection ends.
func (c *Client) Events() <-chan Event { return c.events }

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice             string     `json:"voice,omitempty"`
	Instructions      string     `json:"instructions,omitempty"`
	Tools             []wireTool `json:"tools,omitempty"`
	InputAudioFormat  string     `json:"input_audio_format"`
	OutputAudioFormat string     `json:"output_audio_format"`
	TurnDetection     *struct{}  `json:"turn_detection"`
}

type wireTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
	CallID  string             `json:"call_id,omitempty"`
	Output  string             `json:"output,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail is the nested error object in a backend error event.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// response.audio_transcript.done
	Transcript string `json:"transcript,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	Error *serverErrorDetail `json:"error,omitempty"`
}

// sendSessionUpdate configures the session. Audio is always PCM16 in both
// directions; backend-side turn detection is disabled, since the local VAD and
// the platform decide turn boundaries.
func (c *Client) sendSessionUpdate() error {
	params := sessionParams{
		Voice:             c.voice,
		Instructions:      c.instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}
	if len(c.functions) > 0 {
		params.Tools = make([]wireTool, len(c.functions))
		for i, f := range c.functions {
			params.Tools[i] = wireTool{
				Type:        "function",
				Name:        f.Name,
				Description: f.Description,
				Parameters:  f.Parameters,
			}
		}
	}
	return c.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message. Writes are
// serialised so concurrent callers never interleave frames.
func (c *Client) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("backend: marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(c.ctx, websocket.MessageText, data)
}

// receiveLoop reads backend events until the connection ends. It owns the
// events channel and closes it after emitting a final EventClosed.
func (c *Client) receiveLoop() {
	var cause error

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				cause = err
			}
			break
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			// Not JSON we understand. Skip rather than kill the session.
			continue
		}
		c.dispatch(&evt)
	}

	c.emit(Event{Type: EventClosed, Err: cause})
	close(c.events)
}

func (c *Client) dispatch(evt *serverEvent) {
	switch evt.Type {
	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		audio, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(audio) == 0 {
			return
		}
		c.emit(Event{Type: EventAudioDelta, Audio: audio})

	case "response.audio.done":
		c.emit(Event{Type: EventAudioDone})

	case "response.done":
		c.emit(Event{Type: EventResponseDone})

	case "response.audio_transcript.delta":
		if evt.Delta != "" {
			c.emit(Event{Type: EventTranscriptDelta, Text: evt.Delta})
		}

	case "response.audio_transcript.done":
		c.emit(Event{Type: EventTranscriptDone, Text: evt.Transcript})

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript != "" {
			c.emit(Event{Type: EventUserTranscript, Text: evt.Transcript})
		}

	case "response.function_call_arguments.done":
		c.emit(Event{
			Type:   EventFunctionCall,
			Name:   evt.Name,
			Args:   evt.Arguments,
			CallID: evt.CallID,
		})

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		c.emit(Event{Type: EventError, Err: fmt.Errorf("backend: %s", msg)})
	}
}

// emit delivers one event, dropping it if the session is being torn down and
// nobody drains the channel anymore.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

// ── Session operations ─────────────────────────────────────────────────────────

// AppendAudio sends one PCM16 chunk of caller audio to the input buffer.
func (c *Client) AppendAudio(pcm []byte) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// CommitInput marks the buffered caller audio as one complete utterance.
func (c *Client) CommitInput() error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.writeJSON(map[string]string{"type": "input_audio_buffer.commit"})
}

// CreateResponse asks the backend to generate a response to the committed
// input.
func (c *Client) CreateResponse() error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.writeJSON(map[string]string{"type": "response.create"})
}

// CancelResponse aborts the in-flight response. Audio deltas already sent may
// still arrive; the caller discards them.
func (c *Client) CancelResponse() error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.writeJSON(map[string]string{"type": "response.cancel"})
}

// CreateFunctionOutput reports a function result back to the backend. It does
// not request the follow-up response; the caller issues CreateResponse when
// its own response ordering allows one.
func (c *Client) CreateFunctionOutput(callID, output string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	})
}

// InjectText inserts a text item into the conversation without requesting a
// response. Used to surface platform activities (DTMF digits, transfers) to
// the model.
func (c *Client) InjectText(role, text string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	switch role {
	case "user", "assistant", "system":
	default:
		role = "user"
	}
	partType := "input_text"
	if role == "assistant" {
		partType = "text"
	}
	return c.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    role,
			Content: []conversationPart{{Type: partType, Text: text}},
		},
	})
}

// UpdateInstructions replaces the system instructions mid-session.
func (c *Client) UpdateInstructions(instructions string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.writeJSON(sessionUpdateMessage{
		Type: "session.update",
		Session: sessionParams{
			Instructions:      instructions,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
		},
	})
}

func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("backend: session closed")
	}
	return nil
}

// Close terminates the session. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
