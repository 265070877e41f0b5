package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voiceguide/internal/site"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"s2s":   {"gemini-live", "openai-realtime"},
	"audio": {"miniaudio"},
}

// apiKeyEnv lists the environment variables consulted, in order, when
// provider.api_key is empty.
var apiKeyEnv = map[string][]string{
	"gemini-live":     {"VOICEGUIDE_API_KEY", "GEMINI_API_KEY"},
	"openai-realtime": {"VOICEGUIDE_API_KEY", "OPENAI_API_KEY"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultProvider       = "gemini-live"
	DefaultAudioDevice    = "miniaudio"
	DefaultFrameSamples   = 4096
	DefaultCaptureRate    = 16000
	DefaultPlaybackRate   = 24000
	DefaultVoice          = "Charon"
	DefaultConnectTimeout = 15 * time.Second
	DefaultIdleTimeout    = 2 * time.Minute
	DefaultMaxFailures    = 3
	DefaultResetTimeout   = 30 * time.Second
)

// maxFrameSamples caps a capture frame at roughly four seconds of 16 kHz audio.
const maxFrameSamples = 1 << 16

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults, fills an
// empty API key from the environment and validates the result. An empty
// document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = DefaultProvider
	}
	if cfg.Audio.Device == "" {
		cfg.Audio.Device = DefaultAudioDevice
	}
	if cfg.Audio.FrameSamples == 0 {
		cfg.Audio.FrameSamples = DefaultFrameSamples
	}
	if cfg.Audio.CaptureRate == 0 {
		cfg.Audio.CaptureRate = DefaultCaptureRate
	}
	if cfg.Audio.PlaybackRate == 0 {
		cfg.Audio.PlaybackRate = DefaultPlaybackRate
	}
	if cfg.Voice.Voice == "" {
		cfg.Voice.Voice = DefaultVoice
	}
	if cfg.Voice.InputTranscription == nil {
		cfg.Voice.InputTranscription = ptr(true)
	}
	if cfg.Voice.OutputTranscription == nil {
		cfg.Voice.OutputTranscription = ptr(true)
	}
	if cfg.Voice.ConnectTimeout == 0 {
		cfg.Voice.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Voice.IdleTimeout == nil {
		cfg.Voice.IdleTimeout = ptr(DefaultIdleTimeout)
	}
	if cfg.Site.InitialPage == "" {
		cfg.Site.InitialPage = site.Home
	}
	if cfg.Breaker.MaxFailures == 0 {
		cfg.Breaker.MaxFailures = DefaultMaxFailures
	}
	if cfg.Breaker.ResetTimeout == 0 {
		cfg.Breaker.ResetTimeout = DefaultResetTimeout
	}
}

func ptr[T any](v T) *T { return &v }

// applyEnv fills empty api_key fields of the provider and its fallbacks from
// the environment.
func applyEnv(cfg *Config) {
	fillAPIKey(&cfg.Provider)
	for i := range cfg.Fallbacks {
		fillAPIKey(&cfg.Fallbacks[i])
	}
}

func fillAPIKey(p *ProviderEntry) {
	if p.APIKey != "" {
		return
	}
	for _, name := range apiKeyEnv[p.Name] {
		if v := os.Getenv(name); v != "" {
			p.APIKey = v
			return
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Provider
	errs = append(errs, validateProvider("provider", cfg.Provider)...)
	for i, fb := range cfg.Fallbacks {
		errs = append(errs, validateProvider(fmt.Sprintf("fallbacks[%d]", i), fb)...)
	}

	// Audio
	validateProviderName("audio", cfg.Audio.Device)
	if cfg.Audio.FrameSamples < 0 || cfg.Audio.FrameSamples > maxFrameSamples {
		errs = append(errs, fmt.Errorf("audio.frame_samples %d is out of range [1, %d]", cfg.Audio.FrameSamples, maxFrameSamples))
	}
	if cfg.Audio.CaptureRate < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_rate %d must be positive", cfg.Audio.CaptureRate))
	}
	if cfg.Audio.PlaybackRate < 0 {
		errs = append(errs, fmt.Errorf("audio.playback_rate %d must be positive", cfg.Audio.PlaybackRate))
	}

	// Voice
	if cfg.Voice.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("voice.connect_timeout %s must not be negative", cfg.Voice.ConnectTimeout))
	}
	if cfg.Voice.IdleTimeout != nil && *cfg.Voice.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("voice.idle_timeout %s must not be negative", *cfg.Voice.IdleTimeout))
	}

	// Site
	if cfg.Site.InitialPage != "" && !cfg.Site.InitialPage.Valid() {
		errs = append(errs, fmt.Errorf("site.initial_page %q is invalid; valid values: %v", cfg.Site.InitialPage, site.Names()))
	}

	// Breaker
	if cfg.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("breaker.max_failures %d must not be negative", cfg.Breaker.MaxFailures))
	}
	if cfg.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("breaker.reset_timeout %s must not be negative", cfg.Breaker.ResetTimeout))
	}

	return errors.Join(errs...)
}

// validateProvider checks a single provider entry found at path.
func validateProvider(path string, p ProviderEntry) []error {
	if p.Name == "" {
		return []error{fmt.Errorf("%s.name is required", path)}
	}
	validateProviderName("s2s", p.Name)
	if p.APIKey != "" {
		return nil
	}
	if envs := apiKeyEnv[p.Name]; len(envs) > 0 {
		return []error{fmt.Errorf("%s.api_key is required; set it in the file or via %s", path, envs[len(envs)-1])}
	}
	slog.Warn("api_key is empty", "path", path, "provider", p.Name)
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
