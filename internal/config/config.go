// Package config provides the configuration schema, loader, and provider registry
// for the voiceguide server.
package config

import (
	"time"

	"github.com/MrWong99/voiceguide/internal/site"
	"github.com/MrWong99/voiceguide/internal/voice"
)

// LogLevel controls log verbosity for the voiceguide server.
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

// Config is the root configuration structure for voiceguide.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Provider ProviderEntry `yaml:"provider"`

	// Fallbacks are tried in order when the primary provider fails to
	// connect or its circuit breaker is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	Audio    AudioConfig   `yaml:"audio"`
	Voice    VoiceConfig   `yaml:"voice"`
	Site     SiteConfig    `yaml:"site"`
	Breaker  BreakerConfig `yaml:"breaker"`
}

// ServerConfig holds network and logging settings for the HTTP control API.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is hot-reloadable.
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

// ProviderEntry selects and configures the speech-to-speech backend. The Name
// field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation ("gemini-live",
	// "openai-realtime").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API. When empty it
	// is read from the environment, see [Load].
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default WebSocket endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// AudioConfig selects the audio backend and its formats.
type AudioConfig struct {
	// Device selects the registered audio backend (e.g., "miniaudio").
	Device string `yaml:"device"`

	// FrameSamples is the number of samples per captured frame.
	FrameSamples int `yaml:"frame_samples"`

	// CaptureRate is the microphone sample rate in Hz.
	CaptureRate int `yaml:"capture_rate"`

	// PlaybackRate is the speaker sample rate in Hz.
	PlaybackRate int `yaml:"playback_rate"`
}

// VoiceConfig holds session settings. Changes apply to the next session.
type VoiceConfig struct {
	// Voice is the provider's prebuilt voice name.
	Voice string `yaml:"voice"`

	// SystemPrompt is the system-level instruction for the model.
	SystemPrompt string `yaml:"system_prompt"`

	// Greeting seeds the conversation log shown to the user.
	Greeting string `yaml:"greeting"`

	// InputTranscription requests transcripts of the user's speech.
	// Default: true.
	InputTranscription *bool `yaml:"input_transcription"`

	// OutputTranscription requests transcripts of the model's speech.
	// Default: true.
	OutputTranscription *bool `yaml:"output_transcription"`

	// ConnectTimeout bounds device acquisition plus the provider handshake.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// IdleTimeout closes a session without inbound events for this long.
	// Default: 2m. An explicit 0 disables it.
	IdleTimeout *time.Duration `yaml:"idle_timeout"`
}

// SiteConfig describes the host page.
type SiteConfig struct {
	// InitialPage is the page shown before any navigation. Default: home.
	InitialPage site.Page `yaml:"initial_page"`
}

// BreakerConfig tunes the circuit breaker around session establishment.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failed handshakes that open
	// the breaker.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the breaker stays open.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// SessionConfig maps the file settings onto the per-session [voice.Config].
// Fields left unset fall back to [voice.DefaultConfig].
func (c *Config) SessionConfig() voice.Config {
	vc := voice.DefaultConfig()
	if c.Voice.Voice != "" {
		vc.Voice = c.Voice.Voice
	}
	if c.Voice.SystemPrompt != "" {
		vc.Instructions = c.Voice.SystemPrompt
	}
	if c.Voice.InputTranscription != nil {
		vc.InputTranscription = *c.Voice.InputTranscription
	}
	if c.Voice.OutputTranscription != nil {
		vc.OutputTranscription = *c.Voice.OutputTranscription
	}
	if c.Audio.CaptureRate > 0 {
		vc.CaptureRate = c.Audio.CaptureRate
	}
	if c.Audio.PlaybackRate > 0 {
		vc.PlaybackRate = c.Audio.PlaybackRate
	}
	if c.Audio.FrameSamples > 0 {
		vc.FrameSamples = c.Audio.FrameSamples
	}
	if c.Voice.ConnectTimeout > 0 {
		vc.ConnectTimeout = c.Voice.ConnectTimeout
	}
	if c.Voice.IdleTimeout != nil {
		vc.IdleTimeout = *c.Voice.IdleTimeout
	}
	return vc
}
