package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voiceguide/internal/config"
	"github.com/MrWong99/voiceguide/internal/site"
	"github.com/MrWong99/voiceguide/internal/voice"
	"github.com/MrWong99/voiceguide/pkg/audio"
	"github.com/MrWong99/voiceguide/pkg/provider/s2s"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug

provider:
  name: openai-realtime
  api_key: sk-test
  model: gpt-4o-realtime-preview
  options:
    region: eu

fallbacks:
  - name: gemini-live
    api_key: g-test
    model: gemini-2.0-flash-live-001

audio:
  device: miniaudio
  frame_samples: 2048
  capture_rate: 16000
  playback_rate: 24000

voice:
  voice: Puck
  system_prompt: You are a helpful school guide.
  greeting: Hello there!
  input_transcription: false
  connect_timeout: 10s
  idle_timeout: 0s

site:
  initial_page: gallery

breaker:
  max_failures: 5
  reset_timeout: 1m
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Provider.Name != "openai-realtime" {
		t.Errorf("provider.name: got %q, want %q", cfg.Provider.Name, "openai-realtime")
	}
	if cfg.Provider.Options["region"] != "eu" {
		t.Errorf("provider.options.region: got %v, want eu", cfg.Provider.Options["region"])
	}
	if len(cfg.Fallbacks) != 1 || cfg.Fallbacks[0].Name != "gemini-live" || cfg.Fallbacks[0].APIKey != "g-test" {
		t.Errorf("fallbacks: got %+v", cfg.Fallbacks)
	}
	if cfg.Audio.FrameSamples != 2048 {
		t.Errorf("audio.frame_samples: got %d, want 2048", cfg.Audio.FrameSamples)
	}
	if cfg.Voice.ConnectTimeout != 10*time.Second {
		t.Errorf("voice.connect_timeout: got %s, want 10s", cfg.Voice.ConnectTimeout)
	}
	if cfg.Voice.IdleTimeout == nil || *cfg.Voice.IdleTimeout != 0 {
		t.Errorf("voice.idle_timeout: got %v, want explicit 0", cfg.Voice.IdleTimeout)
	}
	if *cfg.Voice.InputTranscription {
		t.Error("voice.input_transcription: got true, want false")
	}
	if !*cfg.Voice.OutputTranscription {
		t.Error("voice.output_transcription: got false, want default true")
	}
	if cfg.Site.InitialPage != site.Gallery {
		t.Errorf("site.initial_page: got %q, want gallery", cfg.Site.InitialPage)
	}
	if cfg.Breaker.MaxFailures != 5 || cfg.Breaker.ResetTimeout != time.Minute {
		t.Errorf("breaker: got %+v", cfg.Breaker)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("provider:\n  api_key: k\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Provider.Name != "gemini-live" {
		t.Errorf("provider.name: got %q", cfg.Provider.Name)
	}
	if cfg.Audio.Device != "miniaudio" {
		t.Errorf("audio.device: got %q", cfg.Audio.Device)
	}
	if cfg.Site.InitialPage != site.Home {
		t.Errorf("site.initial_page: got %q", cfg.Site.InitialPage)
	}
	if got := cfg.SessionConfig(); got != voice.DefaultConfig() {
		t.Errorf("SessionConfig: got %+v, want defaults %+v", got, voice.DefaultConfig())
	}
}

func TestLoadFromReader_EmptyUsesEnvKey(t *testing.T) {
	t.Setenv("VOICEGUIDE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "from-env")

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error for empty config: %v", err)
	}
	if cfg.Provider.APIKey != "from-env" {
		t.Errorf("api_key: got %q, want from-env", cfg.Provider.APIKey)
	}
}

func TestLoadFromReader_EnvPrecedence(t *testing.T) {
	t.Setenv("VOICEGUIDE_API_KEY", "generic")
	t.Setenv("OPENAI_API_KEY", "specific")

	cfg, err := config.LoadFromReader(strings.NewReader("provider:\n  name: openai-realtime\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider.APIKey != "generic" {
		t.Errorf("api_key: got %q, want generic", cfg.Provider.APIKey)
	}

	cfg, err = config.LoadFromReader(strings.NewReader("provider:\n  name: openai-realtime\n  api_key: inline\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider.APIKey != "inline" {
		t.Errorf("api_key: got %q, want inline", cfg.Provider.APIKey)
	}
}

func TestLoadFromReader_MissingKey(t *testing.T) {
	t.Setenv("VOICEGUIDE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: info\n"))
	if err == nil {
		t.Fatal("expected error for missing api_key, got nil")
	}
	if !strings.Contains(err.Error(), "GEMINI_API_KEY") {
		t.Errorf("error should name the env variable, got: %v", err)
	}
}

func TestLoadFromReader_FallbackKeys(t *testing.T) {
	t.Setenv("VOICEGUIDE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "g-env")
	t.Setenv("OPENAI_API_KEY", "")

	const doc = "provider:\n  name: gemini-live\nfallbacks:\n  - name: gemini-live\n    model: spare\n  - name: openai-realtime\n"
	_, err := config.LoadFromReader(strings.NewReader(doc))
	if err == nil {
		t.Fatal("expected error for fallback without api_key, got nil")
	}
	if !strings.Contains(err.Error(), "fallbacks[1].api_key") || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Errorf("error should name the fallback and its env variable, got: %v", err)
	}

	t.Setenv("OPENAI_API_KEY", "o-env")
	cfg, err := config.LoadFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Fallbacks[0].APIKey != "g-env" || cfg.Fallbacks[1].APIKey != "o-env" {
		t.Errorf("fallback keys: got %q, %q", cfg.Fallbacks[0].APIKey, cfg.Fallbacks[1].APIKey)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("provider:\n  api_key: k\nnpcs: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_BadDuration(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("provider:\n  api_key: k\nvoice:\n  connect_timeout: soon\n"))
	if err == nil {
		t.Fatal("expected error for malformed duration, got nil")
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: verbose\n",
			wantErr: "log_level",
		},
		{
			name:    "incomplete tls",
			yaml:    "server:\n  tls:\n    cert_file: cert.pem\n",
			wantErr: "server.tls",
		},
		{
			name:    "negative frame samples",
			yaml:    "audio:\n  frame_samples: -1\n",
			wantErr: "audio.frame_samples",
		},
		{
			name:    "oversized frame",
			yaml:    "audio:\n  frame_samples: 1000000\n",
			wantErr: "audio.frame_samples",
		},
		{
			name:    "negative playback rate",
			yaml:    "audio:\n  playback_rate: -24000\n",
			wantErr: "audio.playback_rate",
		},
		{
			name:    "negative connect timeout",
			yaml:    "voice:\n  connect_timeout: -1s\n",
			wantErr: "voice.connect_timeout",
		},
		{
			name:    "negative idle timeout",
			yaml:    "voice:\n  idle_timeout: -5m\n",
			wantErr: "voice.idle_timeout",
		},
		{
			name:    "unknown initial page",
			yaml:    "site:\n  initial_page: cafeteria\n",
			wantErr: "cafeteria",
		},
		{
			name:    "fallback without name",
			yaml:    "fallbacks:\n  - model: spare\n",
			wantErr: "fallbacks[0].name",
		},
		{
			name:    "negative breaker failures",
			yaml:    "breaker:\n  max_failures: -2\n",
			wantErr: "breaker.max_failures",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader("provider:\n  api_key: k\n" + tc.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error should mention %q, got: %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:   config.ServerConfig{LogLevel: "loud"},
		Provider: config.ProviderEntry{Name: "gemini-live"},
		Audio:    config.AudioConfig{CaptureRate: -1},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	msg := err.Error()
	for _, want := range []string{"log_level", "api_key", "capture_rate"} {
		if !strings.Contains(msg, want) {
			t.Errorf("joined error should mention %q, got: %v", want, msg)
		}
	}
}

func TestValidate_UnknownProviderOnlyWarns(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Provider: config.ProviderEntry{Name: "acme-voice", APIKey: "k"}}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		t.Errorf("unexpected error for third-party provider: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"s2s", "audio"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] is empty", kind)
		}
	}
}

// ── Session settings ──────────────────────────────────────────────────────────

func TestSessionConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := cfg.SessionConfig()
	want := voice.DefaultConfig()
	want.Voice = "Puck"
	want.Instructions = "You are a helpful school guide."
	want.InputTranscription = false
	want.FrameSamples = 2048
	want.ConnectTimeout = 10 * time.Second
	want.IdleTimeout = 0
	if got != want {
		t.Errorf("SessionConfig:\n got %+v\nwant %+v", got, want)
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_UnknownS2S(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateS2S(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_UnknownAudio(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateAudio(config.AudioConfig{Device: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_RegisteredS2S(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	var gotKey string
	reg.RegisterS2S("stub", func(e config.ProviderEntry) (s2s.Provider, error) {
		gotKey = e.APIKey
		return &stubS2S{}, nil
	})
	p, err := reg.CreateS2S(config.ProviderEntry{Name: "stub", APIKey: "secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
	if gotKey != "secret" {
		t.Errorf("factory received api_key %q, want secret", gotKey)
	}
}

func TestRegistry_RegisteredAudio(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterAudio("stub", func(config.AudioConfig) (audio.Devices, error) {
		return stubDevices{}, nil
	})
	d, err := reg.CreateAudio(config.AudioConfig{Device: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d == nil {
		t.Fatal("expected non-nil devices")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	want := errors.New("factory boom")
	reg.RegisterS2S("broken", func(config.ProviderEntry) (s2s.Provider, error) {
		return nil, want
	})
	_, err := reg.CreateS2S(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, want) {
		t.Errorf("expected factory error, got %v", err)
	}
}

// ── stubs ─────────────────────────────────────────────────────────────────────

type stubS2S struct{}

func (s *stubS2S) Connect(_ context.Context, _ s2s.SessionConfig) (s2s.SessionHandle, error) {
	return nil, nil
}
func (s *stubS2S) Capabilities() s2s.Capabilities { return s2s.Capabilities{} }

type stubDevices struct{}

func (stubDevices) OpenInput(context.Context, audio.Format, int) (audio.InputDevice, error) {
	return nil, nil
}

func (stubDevices) OpenOutput(context.Context, audio.Format) (audio.OutputDevice, error) {
	return nil, nil
}
