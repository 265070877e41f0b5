// Command voiceguide is the main entry point for the voiceguide server: a
// speech-to-speech website guide that talks through the local microphone and
// speaker and navigates the host page on request.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/voiceguide/internal/app"
	"github.com/MrWong99/voiceguide/internal/config"
	"github.com/MrWong99/voiceguide/internal/observe"
	"github.com/MrWong99/voiceguide/internal/resilience"
	"github.com/MrWong99/voiceguide/pkg/audio"
	"github.com/MrWong99/voiceguide/pkg/audio/miniaudio"
	"github.com/MrWong99/voiceguide/pkg/provider/s2s"
	geminilive "github.com/MrWong99/voiceguide/pkg/provider/s2s/gemini"
	oais2s "github.com/MrWong99/voiceguide/pkg/provider/s2s/openai"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload the configuration file when it changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	// Polling starts inside application.Run, after application is assigned.
	var application *app.App
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		application.ApplyConfig(old, new)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voiceguide: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voiceguide: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("voiceguide starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voiceguide",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, logger)

	provider, err := reg.CreateS2S(cfg.Provider)
	if err != nil {
		slog.Error("failed to create s2s provider", "name", cfg.Provider.Name, "err", err)
		return 1
	}
	slog.Info("provider created", "kind", "s2s", "name", cfg.Provider.Name, "model", cfg.Provider.Model)

	if len(cfg.Fallbacks) > 0 {
		provider, err = withFallbacks(reg, cfg, provider)
		if err != nil {
			slog.Error("failed to create fallback provider", "err", err)
			return 1
		}
	}

	devices, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		slog.Error("failed to create audio backend", "name", cfg.Audio.Device, "err", err)
		return 1
	}
	slog.Info("provider created", "kind", "audio", "name", cfg.Audio.Device)

	// ── Application ───────────────────────────────────────────────────────────
	opts := []app.Option{
		app.WithLogger(logger),
		app.WithLevelVar(&level),
	}
	if *watch {
		opts = append(opts, app.WithWatcher(watcher))
	}

	application, err = app.New(cfg, provider, devices, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if c, ok := devices.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			slog.Warn("audio backend close error", "err", err)
		}
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// withFallbacks wraps primary in a failover group with every configured
// fallback. Each backend gets its own breaker tuned like the connect breaker.
func withFallbacks(reg *config.Registry, cfg *config.Config, primary s2s.Provider) (s2s.Provider, error) {
	fb := resilience.NewS2SFallback(primary, cfg.Provider.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Breaker.MaxFailures,
			ResetTimeout: cfg.Breaker.ResetTimeout,
		},
	})
	for i, entry := range cfg.Fallbacks {
		p, err := reg.CreateS2S(entry)
		if err != nil {
			return nil, fmt.Errorf("fallbacks[%d] %q: %w", i, entry.Name, err)
		}
		name := fmt.Sprintf("%s#%d", entry.Name, i+1)
		fb.AddFallback(name, p)
	}
	slog.Info("provider failover enabled", "order", fb.Names())
	return fb, nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry, logger *slog.Logger) {
	// ── S2S ───────────────────────────────────────────────────────────────────

	reg.RegisterS2S("gemini-live", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterS2S("openai-realtime", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []oais2s.Option
		if entry.Model != "" {
			opts = append(opts, oais2s.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oais2s.WithBaseURL(entry.BaseURL))
		}
		return oais2s.New(entry.APIKey, opts...), nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("miniaudio", func(config.AudioConfig) (audio.Devices, error) {
		return miniaudio.New(logger), nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}
