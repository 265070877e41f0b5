// Package voice is the real-time voice pipeline of the site guide.
//
// An [Assistant] owns at most one session at a time. A session acquires the
// microphone and speaker, opens a speech-to-speech channel through an
// [s2s.Provider], and then runs three paths until it ends:
//
//   - capture: microphone frames → PCM16 blobs → [s2s.SessionHandle.SendAudio]
//   - playback: model audio → [Playback], scheduled gap-free on the speaker
//   - control: transcripts → [Transcript]; tool calls → [ToolDispatcher];
//     interruptions → [Playback.Interrupt]
//
// Every way a session can end (Stop, remote close, remote error, idle
// timeout, failed setup) funnels into one cleanup routine that runs exactly
// once and releases everything the session acquired.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/voiceguide/internal/observe"
	"github.com/MrWong99/voiceguide/internal/resilience"
	"github.com/MrWong99/voiceguide/internal/site"
	"github.com/MrWong99/voiceguide/pkg/audio"
	"github.com/MrWong99/voiceguide/pkg/provider/s2s"
)

var (
	// ErrSessionActive is returned by [Assistant.Start] while another session
	// still owns the audio devices.
	ErrSessionActive = errors.New("voice: session already active")

	// ErrNotOpen is returned when audio arrives for a session that is no
	// longer open.
	ErrNotOpen = errors.New("voice: session not open")

	// errAborted marks a setup step that lost the race against Stop.
	errAborted = errors.New("voice: session stopped during setup")
)

// DefaultGreeting is the first entry of a fresh conversation log.
const DefaultGreeting = "Namaste! I am the Babu Ji School Guide. How can I assist you with admissions, academics, or our history today? I can also navigate you to different pages like Gallery, About Us, or Login."

// DefaultInstructions is the default system prompt.
const DefaultInstructions = `You are "Babu Ji Guide". You help navigate the Babu Ji School website. Pages: home, about, gallery, login, signup. If someone asks to go somewhere, use the navigateToPage tool.`

// Config holds per-session settings. A changed Config applies to the next
// session; an open session is never reconfigured.
type Config struct {
	// Voice, Instructions and the transcription toggles are passed to the
	// provider. The navigate tool is always added.
	Voice               string
	Instructions        string
	InputTranscription  bool
	OutputTranscription bool

	// CaptureRate and PlaybackRate are the device rates in Hz.
	CaptureRate  int
	PlaybackRate int

	// FrameSamples is the capture frame length.
	FrameSamples int

	// SendQueue bounds the frames waiting for the network.
	SendQueue int

	// ConnectTimeout bounds device acquisition plus the provider handshake.
	ConnectTimeout time.Duration

	// IdleTimeout closes an open session that received no event for this
	// long. Zero disables it.
	IdleTimeout time.Duration
}

// DefaultConfig returns the settings used when none are supplied.
func DefaultConfig() Config {
	return Config{
		Voice:               "Charon",
		Instructions:        DefaultInstructions,
		InputTranscription:  true,
		OutputTranscription: true,
		CaptureRate:         audio.CaptureSampleRate,
		PlaybackRate:        audio.PlaybackSampleRate,
		FrameSamples:        audio.DefaultFrameSamples,
		SendQueue:           defaultSendQueue,
		ConnectTimeout:      15 * time.Second,
		IdleTimeout:         2 * time.Minute,
	}
}

// Status is a snapshot of the assistant for the host page.
type Status struct {
	State      State     `json:"state"`
	SessionID  string    `json:"session_id,omitempty"`
	Listening  bool      `json:"listening"`
	Speaking   bool      `json:"speaking"`
	Transcript []Message `json:"transcript"`
}

// Option is a functional option for configuring an [Assistant].
type Option func(*Assistant)

// WithConfig sets the session settings.
func WithConfig(cfg Config) Option {
	return func(a *Assistant) { a.cfg = cfg }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *Assistant) { a.logger = l }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assistant) { a.metrics = m }
}

// WithBreaker guards the provider handshake with cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(a *Assistant) { a.breaker = cb }
}

// WithResolver overrides the page-name resolver used for tool calls.
func WithResolver(r *site.Resolver) Option {
	return func(a *Assistant) { a.resolver = r }
}

// WithGreeting overrides the greeting that seeds the conversation log.
func WithGreeting(g string) Option {
	return func(a *Assistant) { a.greeting = g }
}

// Assistant runs voice sessions for one host page. It is safe for concurrent
// use.
type Assistant struct {
	provider s2s.Provider
	devices  audio.Devices
	nav      site.Navigator
	resolver *site.Resolver
	breaker  *resilience.CircuitBreaker
	metrics  *observe.Metrics
	logger   *slog.Logger
	greeting string

	transcript *Transcript
	tools      *ToolDispatcher

	mu  sync.Mutex
	cfg Config
	cur *session
}

// New returns an Assistant that opens sessions on provider, audio on devices,
// and navigates nav.
func New(provider s2s.Provider, devices audio.Devices, nav site.Navigator, opts ...Option) *Assistant {
	a := &Assistant{
		provider: provider,
		devices:  devices,
		nav:      nav,
		cfg:      DefaultConfig(),
		greeting: DefaultGreeting,
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.transcript = NewTranscript(a.greeting)
	a.tools = NewToolDispatcher(nav, a.resolver, a.metrics, a.logger)
	return a
}

// SetConfig replaces the session settings used by the next Start.
func (a *Assistant) SetConfig(cfg Config) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
}

// Config returns the current session settings.
func (a *Assistant) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// session is one run through the lifecycle. Resources are attached under mu
// as setup acquires them, so cleanup releases exactly what exists.
type session struct {
	id     string
	cfg    Config
	logger *slog.Logger

	// ctx lives as long as the session; cancel aborts setup and the event
	// loop.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	in       audio.InputDevice
	out      audio.OutputDevice
	handle   s2s.SessionHandle
	capture  *Capture
	playback *Playback

	// loopStarted is set once the event loop owns closing loopDone.
	loopStarted bool

	cleanupOnce sync.Once
	done        chan struct{}
	loopDone    chan struct{}
}

func (s *session) getState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// attach stores a freshly acquired resource unless the session already left
// the opening state, in which case the caller must release it.
func (s *session) attach(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpening {
		return errAborted
	}
	fn()
	return nil
}

// Start opens a new session. It returns once the session is open, or with
// the setup error after the session has been fully cleaned up. While another
// session is active it returns [ErrSessionActive] and leaves that session
// untouched.
func (a *Assistant) Start(ctx context.Context) (err error) {
	started := time.Now()

	a.mu.Lock()
	if a.cur != nil && a.cur.getState().Active() {
		a.mu.Unlock()
		a.metrics.RecordSessionStart(ctx, "rejected", 0)
		return ErrSessionActive
	}
	cfg := a.cfg
	id := uuid.NewString()
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		id:       id,
		cfg:      cfg,
		logger:   a.logger.With("session_id", id),
		ctx:      sctx,
		cancel:   cancel,
		state:    StateOpening,
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	a.cur = s
	a.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "voice.start")
	span.SetAttributes(attribute.String("session.id", id))
	defer func() { observe.EndSpan(span, err) }()

	a.transcript.Seal()
	observe.WithTrace(ctx, s.logger).Info("voice: session opening")

	if err := a.open(ctx, s); err != nil {
		a.cleanup(s, "setup_failed", err)
		s.mu.Lock()
		started := s.loopStarted
		s.mu.Unlock()
		if !started {
			close(s.loopDone)
		}
		a.metrics.RecordSessionStart(ctx, "error", 0)
		return fmt.Errorf("voice: start: %w", err)
	}

	a.metrics.RecordSessionStart(ctx, "ok", time.Since(started))
	s.logger.Info("voice: session open", "setup", time.Since(started))
	return nil
}

// open runs the opening state: devices first, then the provider handshake,
// all bounded by the connect timeout.
func (a *Assistant) open(ctx context.Context, s *session) error {
	cctx, cancel := context.WithCancel(ctx)
	if s.cfg.ConnectTimeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	}
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	// Fail fast without touching the devices while the provider is known bad.
	if a.breaker != nil && a.breaker.State() == resilience.StateOpen {
		return fmt.Errorf("connect: %w", resilience.ErrCircuitOpen)
	}

	in, err := a.devices.OpenInput(cctx, audio.Format{SampleRate: s.cfg.CaptureRate, Channels: 1}, s.cfg.FrameSamples)
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}
	if err := s.attach(func() { s.in = in }); err != nil {
		_ = in.Close()
		return err
	}

	out, err := a.devices.OpenOutput(cctx, audio.Format{SampleRate: s.cfg.PlaybackRate, Channels: 1})
	if err != nil {
		return fmt.Errorf("open speaker: %w", err)
	}
	if err := s.attach(func() {
		s.out = out
		s.playback = NewPlayback(out, s.cfg.PlaybackRate, a.metrics, s.logger)
	}); err != nil {
		_ = out.Close()
		return err
	}

	handle, err := a.connect(cctx, s.cfg)
	if err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("connect: timed out after %s: %w", s.cfg.ConnectTimeout, err)
		}
		return fmt.Errorf("connect: %w", err)
	}
	capture := NewCapture(in, s.cfg.CaptureRate, s.cfg.SendQueue, a.metrics, s.logger)
	if err := s.attach(func() {
		s.handle = handle
		s.capture = capture
		s.loopStarted = true
	}); err != nil {
		_ = handle.Close()
		return err
	}

	go a.run(s)

	if err := capture.Start(s.ctx, handle); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpening {
		return errAborted
	}
	s.state = StateOpen
	a.metrics.ActiveSessions.Add(ctx, 1)
	return nil
}

func (a *Assistant) connect(ctx context.Context, cfg Config) (s2s.SessionHandle, error) {
	sc := s2s.SessionConfig{
		Voice:               cfg.Voice,
		Instructions:        cfg.Instructions,
		Tools:               []s2s.ToolDefinition{NavigateTool()},
		InputTranscription:  cfg.InputTranscription,
		OutputTranscription: cfg.OutputTranscription,
	}
	if a.breaker == nil {
		return a.provider.Connect(ctx, sc)
	}
	var handle s2s.SessionHandle
	err := a.breaker.Execute(func() error {
		var err error
		handle, err = a.provider.Connect(ctx, sc)
		return err
	})
	return handle, err
}

// run is the event loop of one session. It ends when the event stream
// closes or the idle timer fires.
func (a *Assistant) run(s *session) {
	defer close(s.loopDone)

	var (
		idle  <-chan time.Time
		timer *time.Timer
	)
	if s.cfg.IdleTimeout > 0 {
		timer = time.NewTimer(s.cfg.IdleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	events := s.handle.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if err := s.handle.Err(); err != nil {
					a.cleanup(s, "remote_error", err)
				} else {
					a.cleanup(s, "remote_closed", nil)
				}
				return
			}
			if timer != nil {
				timer.Reset(s.cfg.IdleTimeout)
			}
			a.handleEvent(s, ev)
		case <-idle:
			a.cleanup(s, "idle_timeout", nil)
			return
		}
	}
}

func (a *Assistant) handleEvent(s *session, ev s2s.Event) {
	switch ev.Kind {
	case s2s.EventTranscript:
		a.transcript.Append(ev.Role, ev.Text)
	case s2s.EventAudio:
		if _, err := s.playback.Enqueue(s.ctx, ev.Audio, ev.SampleRate); err != nil && !errors.Is(err, ErrNotOpen) {
			s.logger.Debug("voice: playback chunk rejected", "err", err)
		}
	case s2s.EventToolCall:
		if ev.ToolCall == nil {
			return
		}
		resp := a.tools.Dispatch(s.ctx, *ev.ToolCall)
		if err := s.handle.SendToolResponse(resp); err != nil {
			s.logger.Warn("voice: send tool response", "id", resp.ID, "err", err)
		}
	case s2s.EventInterrupted:
		n := s.playback.Interrupt()
		a.metrics.Interruptions.Add(s.ctx, 1)
		s.logger.Debug("voice: interrupted", "stopped_chunks", n)
	case s2s.EventTurnComplete:
		s.logger.Debug("voice: turn complete")
	}
}

// cleanup releases everything s acquired, in order: the channel, the capture
// path, the microphone, scheduled playback, the speaker. Only the first call
// has any effect.
func (a *Assistant) cleanup(s *session, reason string, cause error) {
	s.cleanupOnce.Do(func() {
		s.mu.Lock()
		wasOpen := s.state == StateOpen
		s.state = StateClosing
		handle, capture, in, playback, out := s.handle, s.capture, s.in, s.playback, s.out
		s.mu.Unlock()

		s.cancel()

		if handle != nil {
			if err := handle.Close(); err != nil {
				s.logger.Debug("voice: close channel", "err", err)
			}
		}
		if capture != nil {
			capture.Stop()
		}
		if in != nil {
			if err := in.Close(); err != nil {
				s.logger.Warn("voice: close microphone", "err", err)
			}
		}
		if playback != nil {
			playback.Close()
		}
		if out != nil {
			if err := out.Close(); err != nil {
				s.logger.Warn("voice: close speaker", "err", err)
			}
		}

		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		if wasOpen {
			a.metrics.ActiveSessions.Add(context.Background(), -1)
		}
		close(s.done)

		if cause != nil && !errors.Is(cause, errAborted) {
			s.logger.Warn("voice: session closed", "reason", reason, "err", cause)
		} else {
			s.logger.Info("voice: session closed", "reason", reason)
		}
	})
}

// Stop ends the current session, if any, and waits for its cleanup and event
// loop to finish. Safe to call in any state and more than once.
func (a *Assistant) Stop() {
	a.mu.Lock()
	s := a.cur
	a.mu.Unlock()
	if s == nil {
		return
	}
	a.cleanup(s, "stopped", nil)
	<-s.done
	<-s.loopDone
}

// Close stops the current session. The assistant must not be started again
// afterwards.
func (a *Assistant) Close() error {
	a.Stop()
	return nil
}

// Done returns a channel closed when the current session has been cleaned
// up. Without a session it returns a closed channel.
func (a *Assistant) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.cur.done
}

// Status returns a snapshot for the host page.
func (a *Assistant) Status() Status {
	st := Status{State: StateIdle, Transcript: a.transcript.Messages()}

	a.mu.Lock()
	s := a.cur
	a.mu.Unlock()
	if s == nil {
		return st
	}

	s.mu.Lock()
	st.State = s.state
	st.SessionID = s.id
	pb := s.playback
	s.mu.Unlock()

	st.Listening = st.State == StateOpen
	if pb != nil && st.Listening {
		st.Speaking = pb.Speaking()
	}
	return st
}

// Transcript returns a copy of the conversation log.
func (a *Assistant) Transcript() []Message {
	return a.transcript.Messages()
}
