package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// validCanonicalRates lists the backend sample rates the resampler supports
// well. Other positive rates work but trade quality; [Validate] warns.
var validCanonicalRates = []int{8000, 16000, 24000, 48000}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] values and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty file: pure defaults.
			err = nil
		} else {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, fmt.Errorf("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, fmt.Errorf("server.tls requires both cert_file and key_file"))
		}
	}

	// Backend
	if cfg.Backend.URL == "" {
		errs = append(errs, fmt.Errorf("backend.url is required"))
	} else if !strings.HasPrefix(cfg.Backend.URL, "ws://") && !strings.HasPrefix(cfg.Backend.URL, "wss://") {
		errs = append(errs, fmt.Errorf("backend.url %q must use the ws or wss scheme", cfg.Backend.URL))
	}
	if cfg.Backend.APIKey == "" {
		slog.Warn("backend.api_key is empty; the backend will likely reject the session")
	}
	if cfg.Backend.CanonicalSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("backend.canonical_sample_rate must be positive, got %d", cfg.Backend.CanonicalSampleRate))
	} else if !contains(validCanonicalRates, cfg.Backend.CanonicalSampleRate) {
		slog.Warn("unusual canonical sample rate — resampling quality may suffer",
			"rate", cfg.Backend.CanonicalSampleRate,
			"recommended", validCanonicalRates,
		)
	}

	// Audio
	if cfg.Audio.MinChunkMs < 0 {
		errs = append(errs, fmt.Errorf("audio.min_chunk_ms must not be negative, got %d", cfg.Audio.MinChunkMs))
	}

	// VAD
	if cfg.VAD.Enabled {
		if cfg.VAD.SpeechThreshold < 0 || cfg.VAD.SpeechThreshold > 1 {
			errs = append(errs, fmt.Errorf("vad.speech_threshold %.2f is out of range [0, 1]", cfg.VAD.SpeechThreshold))
		}
		if cfg.VAD.SilenceThreshold < 0 || cfg.VAD.SilenceThreshold > 1 {
			errs = append(errs, fmt.Errorf("vad.silence_threshold %.2f is out of range [0, 1]", cfg.VAD.SilenceThreshold))
		}
		if cfg.VAD.SilenceThreshold >= cfg.VAD.SpeechThreshold {
			errs = append(errs, fmt.Errorf("vad.silence_threshold %.2f must be below vad.speech_threshold %.2f", cfg.VAD.SilenceThreshold, cfg.VAD.SpeechThreshold))
		}
		if cfg.VAD.StartFrames < 1 {
			errs = append(errs, fmt.Errorf("vad.start_frames must be at least 1, got %d", cfg.VAD.StartFrames))
		}
		if cfg.VAD.StopFrames < 1 {
			errs = append(errs, fmt.Errorf("vad.stop_frames must be at least 1, got %d", cfg.VAD.StopFrames))
		}
		if cfg.VAD.FrameMs <= 0 {
			errs = append(errs, fmt.Errorf("vad.frame_ms must be positive, got %d", cfg.VAD.FrameMs))
		}
		if cfg.VAD.ForceStopTimeout < 0 {
			errs = append(errs, fmt.Errorf("vad.force_stop_timeout must not be negative, got %s", cfg.VAD.ForceStopTimeout))
		}
	}

	// Platforms
	validateEndpoint(&errs, "platforms.audiocodes", cfg.Platforms.AudioCodes)
	validateEndpoint(&errs, "platforms.twilio", cfg.Platforms.Twilio)
	if !cfg.Platforms.AudioCodes.Enabled && !cfg.Platforms.Twilio.Enabled {
		slog.Warn("no platform endpoint enabled; the server will only serve health and metrics")
	}
	if cfg.Platforms.AudioCodes.Enabled && cfg.Platforms.Twilio.Enabled &&
		cfg.Platforms.AudioCodes.Path == cfg.Platforms.Twilio.Path {
		errs = append(errs, fmt.Errorf("platforms.audiocodes.path and platforms.twilio.path must differ, both are %q", cfg.Platforms.Twilio.Path))
	}

	return errors.Join(errs...)
}

func validateEndpoint(errs *[]error, prefix string, ep PlatformEndpoint) {
	if !ep.Enabled {
		return
	}
	if ep.Path == "" || !strings.HasPrefix(ep.Path, "/") {
		*errs = append(*errs, fmt.Errorf("%s.path %q must start with /", prefix, ep.Path))
	}
}

func contains(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
