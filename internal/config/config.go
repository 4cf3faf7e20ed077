// Package config provides the configuration schema and loader for the
// voxbridge server.
package config

import "time"

// LogLevel controls log verbosity for the voxbridge server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voxbridge.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backend   BackendConfig   `yaml:"backend"`
	Audio     AudioConfig     `yaml:"audio"`
	VAD       VADConfig       `yaml:"vad"`
	Platforms PlatformsConfig `yaml:"platforms"`
	Store     StoreConfig     `yaml:"store"`
}

// StoreConfig selects the conversation snapshot persistence backend.
type StoreConfig struct {
	// PostgresDSN enables the PostgreSQL snapshot store, letting resumed
	// conversations survive process restarts. Empty keeps the in-process
	// store.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ServerConfig holds network and logging settings for the voxbridge server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// BackendConfig describes the speech backend's realtime API session.
type BackendConfig struct {
	// URL is the realtime WebSocket endpoint
	// (e.g., "wss://api.openai.com/v1/realtime").
	URL string `yaml:"url"`

	// APIKey authenticates the session. Sent as a Bearer token.
	APIKey string `yaml:"api_key"`

	// Model selects the realtime model.
	Model string `yaml:"model"`

	// Voice selects the synthesis voice.
	Voice string `yaml:"voice"`

	// Instructions is the system prompt configuring the agent's behaviour.
	Instructions string `yaml:"instructions"`

	// CanonicalSampleRate is the PCM16 rate used on the backend leg. All
	// platform audio is resampled to and from this rate.
	CanonicalSampleRate int `yaml:"canonical_sample_rate"`
}

// AudioConfig tunes the audio stream processing layer.
type AudioConfig struct {
	// MinChunkMs is the minimum duration sent to the backend per append;
	// shorter platform chunks are padded with silence.
	MinChunkMs int `yaml:"min_chunk_ms"`
}

// VADConfig tunes the local voice activity detector.
type VADConfig struct {
	// Enabled turns local speech detection on. When false, turns commit
	// only on the platform's own end-of-audio signal.
	Enabled bool `yaml:"enabled"`

	// FrameMs is the analysis frame duration.
	FrameMs int `yaml:"frame_ms"`

	// SpeechThreshold is the probability at or above which a frame counts
	// towards a speech start.
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// SilenceThreshold is the probability at or below which a frame counts
	// towards a speech stop.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// StartFrames is the number of consecutive speech frames confirming an
	// utterance start.
	StartFrames int `yaml:"start_frames"`

	// StopFrames is the number of consecutive silence frames confirming an
	// utterance end.
	StopFrames int `yaml:"stop_frames"`

	// ForceStopTimeout caps utterance length in audio time.
	ForceStopTimeout time.Duration `yaml:"force_stop_timeout"`
}

// PlatformsConfig enables the telephony platform endpoints.
type PlatformsConfig struct {
	AudioCodes PlatformEndpoint `yaml:"audiocodes"`
	Twilio     PlatformEndpoint `yaml:"twilio"`
}

// PlatformEndpoint configures one platform's WebSocket endpoint.
type PlatformEndpoint struct {
	// Enabled exposes the endpoint.
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path the platform connects to
	// (e.g., "/voice/audiocodes").
	Path string `yaml:"path"`
}

// Default returns a Config with production defaults. The loader decodes YAML
// over it, so absent keys keep these values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Backend: BackendConfig{
			Model:               "gpt-realtime",
			CanonicalSampleRate: 24000,
		},
		Audio: AudioConfig{
			MinChunkMs: 100,
		},
		VAD: VADConfig{
			Enabled:          true,
			FrameMs:          20,
			SpeechThreshold:  0.6,
			SilenceThreshold: 0.4,
			StartFrames:      2,
			StopFrames:       3,
			ForceStopTimeout: 10 * time.Second,
		},
		Platforms: PlatformsConfig{
			AudioCodes: PlatformEndpoint{Enabled: true, Path: "/voice/audiocodes"},
			Twilio:     PlatformEndpoint{Enabled: true, Path: "/voice/twilio"},
		},
	}
}
