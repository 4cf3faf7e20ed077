// Command voxbridge is the main entry point for the voxbridge telephony
// bridge server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxbridge/voxbridge/internal/config"
	"github.com/voxbridge/voxbridge/internal/health"
	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/server"
	"github.com/voxbridge/voxbridge/internal/store/postgres"
)

// version is stamped by the build; "dev" for local builds.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxbridge: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxbridge: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxbridge starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxbridge",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	// ── Server ────────────────────────────────────────────────────────────────
	opts := []server.Option{
		server.WithMetrics(observe.DefaultMetrics()),
		server.WithLogger(logger),
		server.WithCheckers(backendChecker(cfg.Backend.URL)),
	}

	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		pgStore, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect snapshot store", "err", err)
			return 1
		}
		defer pgStore.Close()
		opts = append(opts,
			server.WithStore(pgStore),
			server.WithCheckers(health.Checker{Name: "postgres", Check: pgStore.Ping}),
		)
		slog.Info("snapshot store connected", "backend", "postgres")
	}

	srv := server.New(cfg, opts...)

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// backendChecker probes TCP reachability of the backend host for /readyz.
// A full realtime session per probe would be wasteful; reachability catches
// the common failure (DNS, network, backend down).
func backendChecker(rawURL string) health.Checker {
	return health.Checker{
		Name: "backend",
		Check: func(ctx context.Context) error {
			u, err := url.Parse(rawURL)
			if err != nil {
				return fmt.Errorf("parse backend url: %w", err)
			}
			host := u.Host
			if u.Port() == "" {
				switch u.Scheme {
				case "wss":
					host = net.JoinHostPort(u.Hostname(), "443")
				default:
					host = net.JoinHostPort(u.Hostname(), "80")
				}
			}
			var d net.Dialer
			conn, err := d.DialContext(ctx, "tcp", host)
			if err != nil {
				return fmt.Errorf("dial %s: %w", host, err)
			}
			return conn.Close()
		},
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voxbridge — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Backend", cfg.Backend.Model)
	printRow("Canonical rate", fmt.Sprintf("%d Hz", cfg.Backend.CanonicalSampleRate))
	printPlatform("AudioCodes", cfg.Platforms.AudioCodes)
	printPlatform("Twilio", cfg.Platforms.Twilio)
	if cfg.VAD.Enabled {
		printRow("VAD", fmt.Sprintf("%d/%d frames", cfg.VAD.StartFrames, cfg.VAD.StopFrames))
	} else {
		printRow("VAD", "(disabled)")
	}
	if cfg.Server.TLS != nil {
		printRow("TLS", "enabled")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(name, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", name, value)
}

func printPlatform(name string, ep config.PlatformEndpoint) {
	if ep.Enabled {
		printRow(name, ep.Path)
	} else {
		printRow(name, "(disabled)")
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
