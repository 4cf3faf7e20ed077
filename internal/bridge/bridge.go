// Package bridge connects one telephony platform conversation to one backend
// realtime session.
//
// A Bridge owns all conversation state: the response lifecycle, the pending
// turn queue, the outbound stream, and the voice activity detector. Two
// reader goroutines feed a single bounded event channel (one for the platform
// socket, one for the backend session) and one run loop consumes it, so no
// state needs locking. Audio processing happens inline in the run loop; only
// function execution and quality analysis run on their own goroutines and
// re-enter through the same channel.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/voxbridge/voxbridge/internal/backend"
	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/stream"
	"github.com/voxbridge/voxbridge/internal/vad"
	"github.com/voxbridge/voxbridge/pkg/audio/quality"
	"github.com/voxbridge/voxbridge/pkg/platform"
)

const (
	// defaultQueueSize bounds the merged event channel.
	defaultQueueSize = 256

	// defaultFunctionTimeout bounds one registered function execution.
	defaultFunctionTimeout = 15 * time.Second

	// saveTimeout bounds the final snapshot write during shutdown.
	saveTimeout = 5 * time.Second
)

// Config wires one Bridge. Conn, Adapter, Backend and Processor are
// required; the rest defaults or stays disabled when nil.
type Config struct {
	ConversationID string

	Conn    platform.Conn
	Adapter platform.Adapter
	Backend BackendSession

	// Processor converts between the platform's native format and the
	// backend's canonical PCM16.
	Processor *stream.Processor

	// Detector runs on inbound audio at the platform's native rate. Nil
	// disables local speech detection; turns then commit only on the
	// platform's own end-of-audio signal.
	Detector *vad.Detector

	// Functions holds the functions the backend may call. Nil means none.
	Functions *FunctionRegistry

	// Recorder, Quality and Store are optional collaborators.
	Recorder RecordingSink
	Quality  quality.Monitor
	Store    SessionStore

	Metrics *observe.Metrics
	Logger  *slog.Logger

	// FunctionTimeout bounds one function execution. Zero means the default.
	FunctionTimeout time.Duration

	// QueueSize bounds the internal event channel. Zero means the default.
	QueueSize int
}

// event is one item on the merged channel. Exactly one field is set.
type event struct {
	platform *platform.Message
	backend  *backend.Event
	fnResult *fnResult
	readErr  error
}

// fnResult is a completed function execution re-entering the run loop.
type fnResult struct {
	name   string
	callID string
	output string
}

// responseState tracks the no-overlap invariant: at most one backend
// response in flight, committed turns beyond it queue in pending.
type responseState struct {
	active  bool
	pending int
}

// Bridge runs one conversation. Create with New, drive with Run.
type Bridge struct {
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics

	events chan event
	stop   func()

	// Run-loop state. Touched only by the run goroutine.
	resp             responseState
	streamID         string
	audioSinceCommit bool
	closeReason      string
	snap             Snapshot

	closeOnce sync.Once
}

// New validates cfg and returns a Bridge ready to Run.
func New(cfg Config) (*Bridge, error) {
	if cfg.Conn == nil || cfg.Adapter == nil || cfg.Backend == nil {
		return nil, fmt.Errorf("bridge: conn, adapter and backend are required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("bridge: processor is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.FunctionTimeout <= 0 {
		cfg.FunctionTimeout = defaultFunctionTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(
		slog.String("conversation_id", cfg.ConversationID),
		slog.String("platform", cfg.Adapter.Name()),
	)

	return &Bridge{
		cfg:     cfg,
		log:     log,
		metrics: cfg.Metrics,
		events:  make(chan event, cfg.QueueSize),
		snap: Snapshot{
			ConversationID: cfg.ConversationID,
			Platform:       cfg.Adapter.Name(),
			StartedAt:      time.Now(),
		},
	}, nil
}

// ConversationID returns the platform's identifier for this conversation.
func (b *Bridge) ConversationID() string { return b.cfg.ConversationID }

// Run processes the conversation until the platform hangs up, the backend
// session ends, or ctx is cancelled. It always returns with both sides
// closed.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.stop = cancel
	defer cancel()

	ctx, span := observe.StartSpan(ctx, "conversation", trace.WithAttributes(
		attribute.String("conversation.id", b.cfg.ConversationID),
		attribute.String("platform", b.cfg.Adapter.Name()),
	))
	defer span.End()
	if id := observe.CorrelationID(ctx); id != "" {
		b.log = b.log.With(slog.String("trace_id", id))
	}

	b.metrics.ActiveConversations.Add(ctx, 1)
	defer b.metrics.ActiveConversations.Add(context.Background(), -1)

	go b.readPlatform(ctx)
	go b.readBackend(ctx)

	b.log.Info("conversation started")

	for {
		select {
		case <-ctx.Done():
			b.finish(ctx.Err().Error())
			return nil
		case ev := <-b.events:
			if done := b.handle(ctx, ev); done {
				b.finish(b.closeReason)
				return nil
			}
		}
	}
}

// readPlatform decodes platform messages onto the event channel. Audio
// chunks are dropped when the queue is full; stale real-time audio is worth
// less than keeping up. Everything else blocks.
func (b *Bridge) readPlatform(ctx context.Context) {
	for {
		raw, err := b.cfg.Conn.Read(ctx)
		if err != nil {
			b.enqueue(ctx, event{readErr: fmt.Errorf("platform read: %w", err)})
			return
		}

		msg, err := b.cfg.Adapter.Decode(raw)
		if err != nil {
			b.metrics.RecordDrop(ctx, "decode-error")
			b.log.Warn("dropping malformed platform message", slog.String("error", err.Error()))
			continue
		}

		if msg.Type == platform.TypeAudioChunk {
			select {
			case b.events <- event{platform: &msg}:
			default:
				b.metrics.RecordDrop(ctx, "queue-full")
			}
			continue
		}
		b.enqueue(ctx, event{platform: &msg})
	}
}

// readBackend relays backend events onto the event channel.
func (b *Bridge) readBackend(ctx context.Context) {
	for ev := range b.cfg.Backend.Events() {
		b.enqueue(ctx, event{backend: &ev})
		if ev.Type == backend.EventClosed {
			return
		}
	}
}

func (b *Bridge) enqueue(ctx context.Context, ev event) {
	select {
	case b.events <- ev:
	case <-ctx.Done():
	}
}

// handle processes one event. Returning true ends the conversation.
func (b *Bridge) handle(ctx context.Context, ev event) bool {
	switch {
	case ev.platform != nil:
		return b.handlePlatform(ctx, *ev.platform)
	case ev.backend != nil:
		return b.handleBackend(ctx, *ev.backend)
	case ev.fnResult != nil:
		b.handleFunctionResult(ctx, *ev.fnResult)
	case ev.readErr != nil:
		b.log.Info("platform connection ended", slog.String("cause", ev.readErr.Error()))
		b.closeReason = "platform disconnect"
		return true
	}
	return false
}

// ── Platform events ───────────────────────────────────────────────────────────

func (b *Bridge) handlePlatform(ctx context.Context, msg platform.Message) bool {
	switch msg.Type {
	case platform.TypeSessionStart, platform.TypeSessionResume:
		b.resume(ctx)

	case platform.TypeConnected:
		b.log.Debug("platform stream open")

	case platform.TypeAudioChunk:
		b.ingestAudio(ctx, msg.Payload)

	case platform.TypeAudioEnd:
		// Platform-delimited end of utterance overrides the local detector.
		if b.cfg.Detector != nil {
			b.cfg.Detector.Reset()
		}
		b.commitUserTurn(ctx, "platform")

	case platform.TypeActivity:
		return b.handleActivity(ctx, msg)

	case platform.TypeSessionEnd:
		b.closeReason = "session end"
		return true

	default:
		b.metrics.RecordDrop(ctx, "unknown-message")
	}
	return false
}

func (b *Bridge) accept(ctx context.Context) {
	b.sendOut(ctx, platform.OutEvent{
		Type:   platform.OutSessionAccepted,
		Format: b.cfg.Adapter.NativeFormat(),
	})
}

// resume restores a prior snapshot when the store knows this conversation
// id — an explicit session.resume, or a session start carrying the id of an
// earlier conversation — then accepts as usual. Unknown ids start fresh.
func (b *Bridge) resume(ctx context.Context) {
	if b.cfg.Store != nil {
		snap, ok, err := b.cfg.Store.Load(ctx, b.cfg.ConversationID)
		if err != nil {
			b.log.Warn("loading session snapshot", slog.String("error", err.Error()))
		} else if ok {
			b.snap = snap
			b.log.Info("conversation resumed",
				slog.Int("user_turns", snap.UserTurns),
				slog.Int("transcript_len", len(snap.Transcript)))
		}
	}
	b.accept(ctx)
}

func (b *Bridge) ingestAudio(ctx context.Context, raw []byte) {
	start := time.Now()

	canonical, input, err := b.cfg.Processor.Ingest(raw)
	if err != nil {
		b.metrics.RecordDrop(ctx, "ingest-error")
		b.log.Warn("dropping audio chunk", slog.String("error", err.Error()))
		return
	}
	b.metrics.RecordChunkIn(ctx, b.cfg.Adapter.Name())
	b.metrics.IngestDuration.Record(ctx, time.Since(start).Seconds())

	if err := b.cfg.Backend.AppendAudio(canonical.Data); err != nil {
		b.log.Warn("appending audio to backend", slog.String("error", err.Error()))
		return
	}
	b.audioSinceCommit = true

	if b.cfg.Recorder != nil {
		b.cfg.Recorder.WriteInbound(b.cfg.ConversationID, canonical.Data)
	}
	if b.cfg.Quality != nil {
		go func(id string, pcm []byte, mon quality.Monitor) {
			mon.OnReport(id, quality.Analyze(pcm))
		}(b.cfg.ConversationID, input.Data, b.cfg.Quality)
	}

	if b.cfg.Detector != nil {
		b.handleVAD(ctx, b.cfg.Detector.Process(input.Data))
	}
}

func (b *Bridge) handleVAD(ctx context.Context, res vad.Result) {
	switch res.Event {
	case vad.EventSpeechStart:
		b.metrics.RecordVADEvent(ctx, "start")
		b.sendOut(ctx, platform.OutEvent{Type: platform.OutSpeechStarted})
		// Barge-in applies only once response audio is actually playing.
		// A response still generating has produced nothing to talk over,
		// so the new turn queues behind it instead.
		if b.resp.active && b.streamID != "" {
			b.bargeIn(ctx)
		}

	case vad.EventSpeechStop:
		if res.ForceStopped {
			b.metrics.RecordVADEvent(ctx, "force-stop")
		} else {
			b.metrics.RecordVADEvent(ctx, "stop")
		}
		b.sendOut(ctx, platform.OutEvent{Type: platform.OutSpeechStopped})
		b.commitUserTurn(ctx, "vad")
	}
}

// bargeIn aborts the in-flight response because the caller started talking
// over it.
func (b *Bridge) bargeIn(ctx context.Context) {
	b.log.Info("barge-in, cancelling active response")
	if err := b.cfg.Backend.CancelResponse(); err != nil {
		b.log.Warn("cancelling response", slog.String("error", err.Error()))
	}
	b.metrics.ResponsesCancelled.Add(ctx, 1)
	b.resp.active = false
	b.closeStream(ctx, false)
}

func (b *Bridge) handleActivity(ctx context.Context, msg platform.Message) bool {
	switch msg.Activity {
	case platform.ActivityDTMF:
		b.log.Info("dtmf received", slog.String("digit", msg.Digit))
		if err := b.cfg.Backend.InjectText("user",
			fmt.Sprintf("The caller pressed the %s key.", msg.Digit)); err != nil {
			b.log.Warn("injecting dtmf context", slog.String("error", err.Error()))
		}

	case platform.ActivityHangup:
		b.closeReason = "caller hangup"
		return true

	default:
		b.log.Debug("ignoring platform activity", slog.String("kind", string(msg.Activity)))
	}
	return false
}

// commitUserTurn marks the buffered caller audio as one utterance and either
// starts a response or queues the turn behind the active one.
func (b *Bridge) commitUserTurn(ctx context.Context, source string) {
	if !b.audioSinceCommit {
		return
	}
	b.audioSinceCommit = false

	if err := b.cfg.Backend.CommitInput(); err != nil {
		b.log.Warn("committing input", slog.String("error", err.Error()))
		return
	}
	b.snap.UserTurns++
	b.log.Debug("user turn committed", slog.String("source", source))

	if b.resp.active {
		b.resp.pending++
		b.log.Debug("turn queued behind active response", slog.Int("pending", b.resp.pending))
		return
	}
	b.createResponse(ctx)
}

func (b *Bridge) createResponse(ctx context.Context) {
	if err := b.cfg.Backend.CreateResponse(); err != nil {
		b.log.Warn("creating response", slog.String("error", err.Error()))
		return
	}
	b.resp.active = true
	b.metrics.ResponsesCreated.Add(ctx, 1)
}

// ── Backend events ────────────────────────────────────────────────────────────

func (b *Bridge) handleBackend(ctx context.Context, ev backend.Event) bool {
	switch ev.Type {
	case backend.EventAudioDelta:
		b.emitAudio(ctx, ev.Audio)

	case backend.EventAudioDone:
		b.closeStream(ctx, true)

	case backend.EventResponseDone:
		b.onResponseDone(ctx)

	case backend.EventFunctionCall:
		go b.dispatchFunction(ctx, ev)

	case backend.EventUserTranscript:
		b.appendTranscript("user", ev.Text)

	case backend.EventTranscriptDone:
		b.appendTranscript("assistant", ev.Text)

	case backend.EventTranscriptDelta:
		// Incremental fragments are not persisted; the done event carries
		// the full text.

	case backend.EventError:
		b.log.Warn("backend error", slog.String("error", ev.Err.Error()))

	case backend.EventClosed:
		if ev.Err != nil {
			b.log.Error("backend session lost", slog.String("error", ev.Err.Error()))
			b.sendOut(ctx, platform.OutEvent{
				Type:   platform.OutSessionError,
				Reason: "speech backend unavailable",
			})
			b.closeReason = "backend failure"
		} else {
			b.closeReason = "backend closed"
		}
		return true
	}
	return false
}

// emitAudio converts one backend delta and streams it to the platform,
// opening the outbound stream on the first delta of a response.
func (b *Bridge) emitAudio(ctx context.Context, pcm []byte) {
	if !b.resp.active {
		// Delta from a response already cancelled. Discard.
		b.metrics.RecordDrop(ctx, "late-audio")
		return
	}

	if b.streamID == "" {
		b.streamID = uuid.NewString()
		b.metrics.ActiveStreams.Add(ctx, 1)
		b.sendOut(ctx, platform.OutEvent{Type: platform.OutStreamStart, StreamID: b.streamID})
	}

	start := time.Now()
	chunks, err := b.cfg.Processor.Emit(pcm)
	if err != nil {
		b.log.Warn("converting backend audio", slog.String("error", err.Error()))
		return
	}
	b.metrics.EmitDuration.Record(ctx, time.Since(start).Seconds())

	if b.cfg.Recorder != nil {
		b.cfg.Recorder.WriteOutbound(b.cfg.ConversationID, pcm)
	}

	for _, chunk := range chunks {
		b.sendOut(ctx, platform.OutEvent{
			Type:     platform.OutStreamChunk,
			StreamID: b.streamID,
			Payload:  chunk,
		})
		b.metrics.RecordChunkOut(ctx, b.cfg.Adapter.Name())
	}
}

// closeStream ends the outbound stream. With flush set the remainder is
// padded out and sent; on barge-in it is discarded.
func (b *Bridge) closeStream(ctx context.Context, flush bool) {
	if b.streamID == "" {
		return
	}

	final := b.cfg.Processor.Flush()
	if flush && len(final) > 0 {
		b.sendOut(ctx, platform.OutEvent{
			Type:     platform.OutStreamChunk,
			StreamID: b.streamID,
			Payload:  final,
		})
		b.metrics.RecordChunkOut(ctx, b.cfg.Adapter.Name())
	}

	b.sendOut(ctx, platform.OutEvent{Type: platform.OutStreamStop, StreamID: b.streamID})
	b.streamID = ""
	b.metrics.ActiveStreams.Add(ctx, -1)
}

// onResponseDone finishes the active response and starts the next queued
// turn, if any.
func (b *Bridge) onResponseDone(ctx context.Context) {
	if b.resp.active {
		b.resp.active = false
		b.metrics.ResponsesCompleted.Add(ctx, 1)
	}
	// The audio.done event normally closed the stream already; cover
	// responses that end without one.
	b.closeStream(ctx, true)

	if b.resp.pending > 0 {
		b.resp.pending--
		b.log.Debug("starting queued turn", slog.Int("remaining", b.resp.pending))
		b.createResponse(ctx)
	}
}

// ── Function calls ────────────────────────────────────────────────────────────

// dispatchFunction runs one function call off the loop and re-enters with
// the result.
func (b *Bridge) dispatchFunction(ctx context.Context, ev backend.Event) {
	start := time.Now()
	output, status := b.executeFunction(ctx, ev.Name, ev.Args)
	b.metrics.FunctionDuration.Record(ctx, time.Since(start).Seconds())
	b.metrics.RecordFunctionCall(ctx, ev.Name, status)

	b.enqueue(ctx, event{fnResult: &fnResult{
		name:   ev.Name,
		callID: ev.CallID,
		output: output,
	}})
}

func (b *Bridge) executeFunction(ctx context.Context, name, args string) (output, status string) {
	if b.cfg.Functions == nil {
		return `{"error":"no functions registered"}`, "unknown"
	}
	fn, ok := b.cfg.Functions.Lookup(name)
	if !ok {
		b.log.Warn("backend called unknown function", slog.String("function", name))
		return fmt.Sprintf(`{"error": %q}`, "unknown function "+name), "unknown"
	}

	fctx, cancel := context.WithTimeout(ctx, b.cfg.FunctionTimeout)
	defer cancel()

	result, err := fn.Handler(fctx, args)
	if err != nil {
		b.log.Warn("function failed",
			slog.String("function", name),
			slog.String("error", err.Error()))
		return fmt.Sprintf(`{"error": %q}`, err.Error()), "error"
	}
	return result, "ok"
}

func (b *Bridge) handleFunctionResult(ctx context.Context, res fnResult) {
	if err := b.cfg.Backend.CreateFunctionOutput(res.callID, res.output); err != nil {
		b.log.Warn("reporting function output", slog.String("error", err.Error()))
		return
	}
	// The follow-up response obeys the same ordering as user turns: at most
	// one response in flight, later ones queue.
	if b.resp.active {
		b.resp.pending++
		b.log.Debug("function follow-up queued behind active response", slog.Int("pending", b.resp.pending))
		return
	}
	b.createResponse(ctx)
}

// ── Output and teardown ───────────────────────────────────────────────────────

// sendOut encodes one outbound event and writes it to the platform. Events
// without a wire expression on this platform are skipped.
func (b *Bridge) sendOut(ctx context.Context, ev platform.OutEvent) {
	data, err := b.cfg.Adapter.Encode(ev)
	if err != nil {
		b.log.Warn("encoding outbound event", slog.String("error", err.Error()))
		return
	}
	if data == nil {
		return
	}
	if err := b.cfg.Conn.Write(ctx, data); err != nil {
		b.log.Warn("writing to platform", slog.String("error", err.Error()))
	}
}

func (b *Bridge) appendTranscript(role, text string) {
	if text == "" {
		return
	}
	b.snap.Transcript = append(b.snap.Transcript, TranscriptEntry{
		Role: role,
		Text: text,
		At:   time.Now(),
	})
}

// finish tears both sides down and persists the final snapshot. Idempotent.
func (b *Bridge) finish(reason string) {
	b.closeOnce.Do(func() {
		if reason == "" {
			reason = "closed"
		}
		b.log.Info("conversation ended", slog.String("reason", reason))

		if err := b.cfg.Backend.Close(); err != nil {
			b.log.Warn("closing backend session", slog.String("error", err.Error()))
		}
		if err := b.cfg.Conn.Close(reason); err != nil {
			b.log.Warn("closing platform connection", slog.String("error", err.Error()))
		}
		if b.cfg.Recorder != nil {
			b.cfg.Recorder.Close(b.cfg.ConversationID)
		}
		if b.cfg.Store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
			defer cancel()
			if err := b.cfg.Store.Save(ctx, b.snap); err != nil {
				b.log.Warn("saving session snapshot", slog.String("error", err.Error()))
			}
		}
	})
}
