// Package openai implements the s2s.Provider interface for OpenAI's Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// The Realtime API only accepts 24 kHz PCM16, so 16 kHz capture blobs are
// resampled before they are appended to the input buffer. Server-side voice
// activity detection reports barge-in as input_audio_buffer.speech_started,
// which is surfaced as [s2s.EventInterrupted].
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voiceguide/pkg/audio"
	"github.com/MrWong99/voiceguide/pkg/provider/s2s"
)

// Compile-time assertions that Provider and session satisfy the s2s interfaces.
var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*session)(nil)

const (
	// DefaultModel is the Realtime model used when none is configured.
	DefaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// sampleRate is the only PCM16 rate the Realtime API accepts and emits.
	sampleRate = 24000

	transcriptionModel = "whisper-1"
	readLimit          = 4 << 20
	eventBuffer        = 64
)

var voices = []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements s2s.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   DefaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the OpenAI Realtime provider.
func (p *Provider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{
		InputSampleRate:    audio.CaptureSampleRate,
		OutputSampleRate:   sampleRate,
		MaxSessionDuration: 30 * time.Minute,
		Voices:             slices.Clone(voices),
	}
}

// Connect dials the Realtime endpoint, waits for session.created and then
// configures the session with session.update. ctx bounds the handshake only.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, url.QueryEscape(p.model))

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan s2s.Event, eventBuffer),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.awaitCreated(ctx); err != nil {
		sessCancel()
		conn.Close(websocket.StatusPolicyViolation, "session not created")
		return nil, fmt.Errorf("openai: handshake: %w", err)
	}
	if err := sess.write(ctx, sessionUpdate(cfg)); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice                   string                   `json:"voice,omitempty"`
	Instructions            string                   `json:"instructions,omitempty"`
	Tools                   []oaiTool                `json:"tools,omitempty"`
	InputAudioFormat        string                   `json:"input_audio_format"`
	OutputAudioFormat       string                   `json:"output_audio_format"`
	InputAudioTranscription *inputAudioTranscription `json:"input_audio_transcription,omitempty"`
}

type inputAudioTranscription struct {
	Model string `json:"model"`
}

type oaiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (d *serverErrorDetail) err() error {
	if d == nil || d.Message == "" {
		return errors.New("openai: unknown error")
	}
	if d.Code != "" {
		return fmt.Errorf("openai: %s: %s", d.Code, d.Message)
	}
	return fmt.Errorf("openai: %s", d.Message)
}

// fatal reports whether the error ends the session. Most Realtime errors are
// per-request and leave the session usable.
func (d *serverErrorDetail) fatal() bool {
	return d != nil && d.Code == "session_expired"
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan s2s.Event

	mu     sync.Mutex
	errVal error
	closed bool
	ended  bool

	ctx    context.Context
	cancel context.CancelFunc
}

// sessionUpdate builds the session.update event configuring voice,
// instructions, tools and audio formats.
func sessionUpdate(cfg s2s.SessionConfig) sessionUpdateMessage {
	params := sessionParams{
		Instructions:      cfg.Instructions,
		Tools:             toOAITools(cfg.Tools),
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}
	// Voices from other providers are ignored; the server default applies.
	if slices.Contains(voices, cfg.Voice) {
		params.Voice = cfg.Voice
	}
	if cfg.InputTranscription {
		params.InputAudioTranscription = &inputAudioTranscription{Model: transcriptionModel}
	}
	return sessionUpdateMessage{Type: "session.update", Session: params}
}

// toOAITools converts tool definitions to the Realtime tool format.
func toOAITools(tools []s2s.ToolDefinition) []oaiTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]oaiTool, len(tools))
	for i, t := range tools {
		out[i] = oaiTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return out
}

// awaitCreated reads until the server announces session.created.
func (s *session) awaitCreated(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		switch evt.Type {
		case "session.created":
			return nil
		case "error":
			return evt.Error.err()
		}
	}
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	return s.write(s.ctx, v)
}

func (s *session) write(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and translates them.
// It owns the events channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer s.finish()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.setErr(fmt.Errorf("openai: read: %w", err))
			}
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		if evt.Type == "error" && evt.Error.fatal() {
			s.setErr(evt.Error.err())
			return
		}
		ev, ok := translate(&evt)
		if !ok {
			continue
		}
		select {
		case s.events <- ev:
		case <-s.ctx.Done():
			return
		}
	}
}

// translate maps a Realtime server event onto an s2s event. Events with no
// counterpart report false.
func translate(evt *serverEvent) (s2s.Event, bool) {
	switch evt.Type {
	case "response.audio.delta":
		if evt.Delta == "" {
			return s2s.Event{}, false
		}
		return s2s.Event{Kind: s2s.EventAudio, Audio: evt.Delta, SampleRate: sampleRate}, true

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return s2s.Event{}, false
		}
		return s2s.Event{Kind: s2s.EventTranscript, Role: s2s.RoleModel, Text: evt.Delta}, true

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return s2s.Event{}, false
		}
		return s2s.Event{Kind: s2s.EventTranscript, Role: s2s.RoleUser, Text: evt.Transcript}, true

	case "response.function_call_arguments.done":
		args := map[string]any{}
		if evt.Arguments != "" {
			// Malformed arguments still produce a call so it gets answered.
			_ = json.Unmarshal([]byte(evt.Arguments), &args)
		}
		return s2s.Event{
			Kind:     s2s.EventToolCall,
			ToolCall: &s2s.ToolCall{ID: evt.CallID, Name: evt.Name, Args: args},
		}, true

	case "input_audio_buffer.speech_started":
		return s2s.Event{Kind: s2s.EventInterrupted}, true

	case "response.done":
		return s2s.Event{Kind: s2s.EventTurnComplete}, true
	}
	return s2s.Event{}, false
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) finish() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	close(s.events)
}

func (s *session) usable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && !s.ended
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendAudio resamples the blob to 24 kHz and appends it to the input buffer.
func (s *session) SendAudio(blob audio.Blob) error {
	if !s.usable() {
		return s2s.ErrSessionClosed
	}
	frame, err := audio.DecodeBlob(blob, audio.CaptureSampleRate)
	if err != nil {
		return fmt.Errorf("openai: send audio: %w", err)
	}
	frame = audio.ResampleFrame(frame, sampleRate)

	err = s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(frame.Data),
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return s2s.ErrSessionClosed
		}
		return fmt.Errorf("openai: send audio: %w", err)
	}
	return nil
}

// SendToolResponse returns the tool output and asks the model to continue.
func (s *session) SendToolResponse(resp s2s.ToolResponse) error {
	if !s.usable() {
		return s2s.ErrSessionClosed
	}
	err := s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: resp.ID,
			Output: resp.Result,
		},
	})
	if err != nil {
		return fmt.Errorf("openai: send tool response: %w", err)
	}
	if err := s.writeJSON(map[string]string{"type": "response.create"}); err != nil {
		return fmt.Errorf("openai: request response: %w", err)
	}
	return nil
}

// Events returns the inbound event stream.
func (s *session) Events() <-chan s2s.Event { return s.events }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
