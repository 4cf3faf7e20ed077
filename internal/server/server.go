// Package server exposes the platform-facing WebSocket endpoints and runs one
// bridge per accepted conversation.
//
// The Server owns the HTTP surface: one WebSocket endpoint per enabled
// telephony platform, plus /metrics, /healthz and /readyz. Each upgraded
// connection goes through a short handshake (waiting for the platform's
// session start), then a [bridge.Bridge] takes over and the handler blocks
// until the conversation ends.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxbridge/voxbridge/internal/backend"
	"github.com/voxbridge/voxbridge/internal/bridge"
	"github.com/voxbridge/voxbridge/internal/config"
	"github.com/voxbridge/voxbridge/internal/health"
	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/resilience"
	"github.com/voxbridge/voxbridge/internal/stream"
	"github.com/voxbridge/voxbridge/internal/vad"
	"github.com/voxbridge/voxbridge/pkg/audio/quality"
	"github.com/voxbridge/voxbridge/pkg/platform"
	"github.com/voxbridge/voxbridge/pkg/platform/audiocodes"
	"github.com/voxbridge/voxbridge/pkg/platform/twilio"
)

const (
	// handshakeTimeout bounds the wait for the platform's session start
	// after the WebSocket upgrade.
	handshakeTimeout = 10 * time.Second

	// shutdownTimeout bounds the HTTP server drain during Run teardown.
	shutdownTimeout = 15 * time.Second
)

// BackendDialer opens one backend session per conversation. The default
// dialer calls [backend.Dial] with the configured credentials; tests
// substitute a scripted session.
type BackendDialer func(ctx context.Context, fns []backend.FunctionDefinition) (bridge.BackendSession, error)

// Option configures optional Server collaborators.
type Option func(*Server)

// WithFunctions sets the function registry offered to the backend.
func WithFunctions(reg *bridge.FunctionRegistry) Option {
	return func(s *Server) { s.functions = reg }
}

// WithRecorder sets the audio recording sink passed to each bridge.
func WithRecorder(r bridge.RecordingSink) Option {
	return func(s *Server) { s.recorder = r }
}

// WithQuality sets the audio quality monitor passed to each bridge.
func WithQuality(m quality.Monitor) Option {
	return func(s *Server) { s.quality = m }
}

// WithStore sets the conversation snapshot store. Defaults to an in-process
// [bridge.MemoryStore].
func WithStore(st bridge.SessionStore) Option {
	return func(s *Server) { s.store = st }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the base logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithBackendDialer replaces the backend dialer. Used by tests to point
// conversations at a scripted backend.
func WithBackendDialer(d BackendDialer) Option {
	return func(s *Server) { s.dial = d }
}

// WithCheckers adds readiness checkers to /readyz.
func WithCheckers(checkers ...health.Checker) Option {
	return func(s *Server) { s.checkers = append(s.checkers, checkers...) }
}

// Server hosts the platform endpoints and tracks running conversations.
type Server struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *observe.Metrics

	functions *bridge.FunctionRegistry
	recorder  bridge.RecordingSink
	quality   quality.Monitor
	store     bridge.SessionStore
	checkers  []health.Checker
	dial      BackendDialer
	breaker   *resilience.Breaker

	upgrader websocket.Upgrader
	handler  http.Handler

	// baseCtx parents every conversation; Run replaces it with a
	// cancellable context so shutdown ends hijacked connections too.
	baseCtx context.Context

	mu            sync.Mutex
	conversations map[string]*bridge.Bridge
}

// New builds a Server from cfg. The returned server is ready to serve via
// [Server.Run], or via [Server.Handler] under a test HTTP server.
func New(cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		cfg: cfg,
		// Telephony platforms are not browsers; there is no origin to check.
		upgrader:      websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		baseCtx:       context.Background(),
		conversations: make(map[string]*bridge.Bridge),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.functions == nil {
		s.functions = bridge.NewFunctionRegistry()
	}
	if s.store == nil {
		s.store = bridge.NewMemoryStore()
	}
	if s.dial == nil {
		s.dial = s.dialBackend
	}
	// Every call dials its own backend session; the breaker keeps a dead
	// backend from being hammered once per incoming call.
	s.breaker = resilience.New(resilience.Config{
		Name:       "backend-dial",
		ProbeCalls: 1,
	})
	s.checkers = append(s.checkers, health.Checker{
		Name: "backend-circuit",
		Check: func(context.Context) error {
			return s.breaker.Ready()
		},
	})

	mux := http.NewServeMux()
	if cfg.Platforms.AudioCodes.Enabled {
		mux.HandleFunc("GET "+cfg.Platforms.AudioCodes.Path, s.handlePlatform(func() platform.Adapter {
			return audiocodes.New()
		}))
	}
	if cfg.Platforms.Twilio.Enabled {
		mux.HandleFunc("GET "+cfg.Platforms.Twilio.Path, s.handlePlatform(func() platform.Adapter {
			return twilio.New()
		}))
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(s.checkers...).Register(mux)

	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// Handler returns the server's HTTP handler, metrics middleware included.
func (s *Server) Handler() http.Handler { return s.handler }

// ActiveConversations reports the number of conversations currently bridged.
func (s *Server) ActiveConversations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

// Run serves until ctx is cancelled or the listener fails, then drains the
// HTTP server and cancels all running conversations.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.baseCtx = ctx

	srv := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("listening", "addr", s.cfg.Server.ListenAddr, "tls", s.cfg.Server.TLS != nil)
		var err error
		if tls := s.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen on %s: %w", s.cfg.Server.ListenAddr, err)
	})
	g.Go(func() error {
		<-gctx.Done()
		// Cancelling ctx (deferred above is too late; do it now) ends the
		// hijacked conversation handlers that Shutdown cannot reach.
		cancel()
		drainCtx, drainCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer drainCancel()
		return srv.Shutdown(drainCtx)
	})
	return g.Wait()
}

// handlePlatform upgrades the connection and runs one conversation to
// completion. One adapter instance per connection: adapters hold
// per-connection negotiation state.
func (s *Server) handlePlatform(newAdapter func() platform.Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
			return
		}
		adapter := newAdapter()
		if err := s.serveConversation(s.baseCtx, adapter, newWSConn(ws)); err != nil {
			s.log.Warn("conversation error",
				"platform", adapter.Name(),
				"remote", r.RemoteAddr,
				"err", err,
			)
		}
	}
}

// serveConversation handshakes, dials the backend, assembles the bridge and
// blocks until the conversation ends.
func (s *Server) serveConversation(ctx context.Context, adapter platform.Adapter, conn platform.Conn) error {
	convID, replayed, err := s.handshake(ctx, adapter, conn)
	if err != nil {
		_ = conn.Close("handshake failed")
		return err
	}

	var sess bridge.BackendSession
	dialCtx, span := observe.StartSpan(ctx, "backend.dial")
	err = s.breaker.Execute(func() error {
		var dialErr error
		sess, dialErr = s.dial(dialCtx, s.functions.Definitions())
		return dialErr
	})
	if err != nil {
		span.RecordError(err)
	}
	span.End()
	if err != nil {
		if data, encErr := adapter.Encode(platform.OutEvent{
			Type:   platform.OutSessionError,
			Reason: "speech backend unavailable",
		}); encErr == nil && data != nil {
			_ = conn.Write(ctx, data)
		}
		_ = conn.Close("backend unavailable")
		return fmt.Errorf("server: dial backend: %w", err)
	}

	native := adapter.NativeFormat()
	proc := stream.New(stream.Config{
		Source:        native,
		Target:        native,
		CanonicalRate: s.cfg.Backend.CanonicalSampleRate,
		MinChunkMs:    s.cfg.Audio.MinChunkMs,
	})

	var detector *vad.Detector
	if s.cfg.VAD.Enabled {
		detector = vad.New(vad.Config{
			SampleRate:       native.SampleRate,
			FrameMs:          s.cfg.VAD.FrameMs,
			SpeechThreshold:  s.cfg.VAD.SpeechThreshold,
			SilenceThreshold: s.cfg.VAD.SilenceThreshold,
			StartFrames:      s.cfg.VAD.StartFrames,
			StopFrames:       s.cfg.VAD.StopFrames,
			ForceStopTimeout: s.cfg.VAD.ForceStopTimeout,
		}, vad.NewEnergyClassifier())
	}

	b, err := bridge.New(bridge.Config{
		ConversationID: convID,
		Conn:           &replayConn{Conn: conn, pending: replayed},
		Adapter:        adapter,
		Backend:        sess,
		Processor:      proc,
		Detector:       detector,
		Functions:      s.functions,
		Recorder:       s.recorder,
		Quality:        s.quality,
		Store:          s.store,
		Metrics:        s.metrics,
		Logger:         s.log,
	})
	if err != nil {
		_ = sess.Close()
		_ = conn.Close("internal error")
		return err
	}

	s.track(convID, b)
	defer s.untrack(convID)

	return b.Run(ctx)
}

// handshake reads until the platform opens or resumes a session and returns
// the conversation id plus every consumed message for replay. Platforms that
// never carry a conversation id get a generated one.
func (s *Server) handshake(ctx context.Context, adapter platform.Adapter, conn platform.Conn) (string, [][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	var replay [][]byte
	for {
		raw, err := conn.Read(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("server: handshake: %w", err)
		}
		msg, err := adapter.Decode(raw)
		if err != nil {
			// Malformed frames are dropped, same as the bridge would.
			continue
		}
		replay = append(replay, raw)
		switch msg.Type {
		case platform.TypeSessionStart, platform.TypeSessionResume:
			id := msg.ConversationID
			if id == "" {
				id = uuid.NewString()
			}
			return id, replay, nil
		case platform.TypeSessionEnd:
			return "", nil, errors.New("server: session ended during handshake")
		}
	}
}

// dialBackend is the default BackendDialer, built from the configured
// backend credentials.
func (s *Server) dialBackend(ctx context.Context, fns []backend.FunctionDefinition) (bridge.BackendSession, error) {
	opts := []backend.Option{
		backend.WithModel(s.cfg.Backend.Model),
	}
	if s.cfg.Backend.Voice != "" {
		opts = append(opts, backend.WithVoice(s.cfg.Backend.Voice))
	}
	if s.cfg.Backend.Instructions != "" {
		opts = append(opts, backend.WithInstructions(s.cfg.Backend.Instructions))
	}
	if len(fns) > 0 {
		opts = append(opts, backend.WithFunctions(fns))
	}
	return backend.Dial(ctx, s.cfg.Backend.URL, s.cfg.Backend.APIKey, opts...)
}

func (s *Server) track(id string, b *bridge.Bridge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[id] = b
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
}
