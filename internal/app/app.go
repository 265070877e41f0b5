// Package app wires the voiceguide subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the assistant, the page
// location and the HTTP control API, Run serves until the context ends, and
// Shutdown tears everything down in order.
//
// For testing, inject collaborators via functional options (WithBreaker,
// WithMetrics, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voiceguide/internal/config"
	"github.com/MrWong99/voiceguide/internal/health"
	"github.com/MrWong99/voiceguide/internal/observe"
	"github.com/MrWong99/voiceguide/internal/resilience"
	"github.com/MrWong99/voiceguide/internal/site"
	"github.com/MrWong99/voiceguide/internal/voice"
	"github.com/MrWong99/voiceguide/pkg/audio"
	"github.com/MrWong99/voiceguide/pkg/provider/s2s"
)

// shutdownGrace bounds the HTTP server drain when Run's context ends.
const shutdownGrace = 10 * time.Second

// App owns all subsystem lifetimes and serves the host page API.
type App struct {
	assistant *voice.Assistant
	location  *site.Location
	breaker   *resilience.CircuitBreaker
	metrics   *observe.Metrics
	logger    *slog.Logger
	level     *slog.LevelVar
	watcher   *config.Watcher
	server    *http.Server
	handler   http.Handler

	cfgMu sync.Mutex
	cfg   *config.Config

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithBreaker injects the circuit breaker guarding session establishment
// instead of creating one from config.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(a *App) { a.breaker = cb }
}

// WithMetrics injects a metrics sink instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithLevelVar lets config reloads change the log level of the handler that
// reads lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithWatcher runs w alongside the HTTP server. Its change callback should
// call [App.ApplyConfig]; polling only starts inside [App.Run], so the
// callback never observes a half-built App.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App around provider and devices. The page starts at
// cfg.Site.InitialPage.
func New(cfg *config.Config, provider s2s.Provider, devices audio.Devices, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if provider == nil {
		return nil, errors.New("app: nil provider")
	}
	if devices == nil {
		return nil, errors.New("app: nil audio devices")
	}

	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.breaker == nil {
		a.breaker = newBreaker(cfg.Breaker, a.logger)
	}

	initial := cfg.Site.InitialPage
	if initial == "" {
		initial = site.Home
	}
	a.location = site.NewLocation(initial)
	a.location.Subscribe(func(p site.Page) {
		a.logger.Info("page changed", "page", p)
	})

	vopts := []voice.Option{
		voice.WithConfig(cfg.SessionConfig()),
		voice.WithLogger(a.logger),
		voice.WithMetrics(a.metrics),
		voice.WithBreaker(a.breaker),
	}
	if cfg.Voice.Greeting != "" {
		vopts = append(vopts, voice.WithGreeting(cfg.Voice.Greeting))
	}
	a.assistant = voice.New(provider, devices, a.location, vopts...)

	a.handler = a.routes()
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a, nil
}

// newBreaker builds the connect breaker from config and logs its transitions.
func newBreaker(bc config.BreakerConfig, logger *slog.Logger) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "connect",
		MaxFailures:  bc.MaxFailures,
		ResetTimeout: bc.ResetTimeout,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving the control API.
func (a *App) Handler() http.Handler { return a.handler }

// Assistant returns the voice assistant.
func (a *App) Assistant() *voice.Assistant { return a.assistant }

// Location returns the page location the assistant navigates.
func (a *App) Location() *site.Location { return a.location }

// Config returns the active configuration.
func (a *App) Config() *config.Config {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	return a.cfg
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable part of a config change. Session
// settings take effect on the next Start; an open session keeps its own.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		a.logger.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SessionChanged {
		a.assistant.SetConfig(new.SessionConfig())
		a.logger.Info("session settings updated; applies to the next session")
	}
	if len(d.RestartRequired) > 0 {
		a.logger.Warn("config changes require a restart", "fields", d.RestartRequired)
	}

	a.cfgMu.Lock()
	a.cfg = new
	a.cfgMu.Unlock()
}

// SlogLevel maps a config log level onto slog.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address until ctx is cancelled. The
// config watcher, when set, runs alongside.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is like [App.Run] but accepts connections on ln.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("http server listening", "addr", ln.Addr().String())
		var err error
		if tls := a.Config().Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the voice session and the HTTP server. It respects the
// context deadline for the server drain.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down")

		// Release the audio devices first.
		if err := a.assistant.Close(); err != nil {
			a.logger.Warn("assistant close error", "err", err)
		}

		if err := a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownErr = err
			return
		}
		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/voice/start", a.handleStart)
	mux.HandleFunc("POST /api/voice/stop", a.handleStop)
	mux.HandleFunc("GET /api/voice", a.handleStatus)
	mux.HandleFunc("GET /api/page", a.handleGetPage)
	mux.HandleFunc("PUT /api/page", a.handlePutPage)

	health.New(health.BreakerCheck(a.breaker)).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(a.metrics)(mux)
}
