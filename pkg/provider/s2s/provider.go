// Package s2s defines the Provider interface for Speech-to-Speech (S2S) backends.
//
// An S2S provider wraps a real-time voice model that accepts a stream of PCM16
// microphone audio and answers with synthesised speech, transcripts, and tool
// calls over a single stateful session. Examples include Gemini Live and the
// OpenAI Realtime API.
//
// The central abstraction is SessionHandle: a bidirectional channel that
// carries audio out and a single ordered stream of [Event] values in. Keeping
// every inbound message on one channel preserves the order in which the model
// produced audio, interruptions, and tool calls; consumers rely on that order
// to cancel exactly the audio that precedes an interruption.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/voiceguide/pkg/audio"
)

// ErrSessionClosed is returned by SessionHandle methods after Close, or after
// the remote side ended the session.
var ErrSessionClosed = errors.New("s2s: session closed")

// Role identifies the speaker of a transcript fragment.
type Role string

const (
	// RoleUser marks recognised user speech.
	RoleUser Role = "user"

	// RoleModel marks the model's own spoken output.
	RoleModel Role = "model"
)

// EventKind discriminates the payload of an [Event].
type EventKind int

const (
	// EventTranscript carries a transcript fragment in Role/Text.
	EventTranscript EventKind = iota + 1

	// EventAudio carries one base64 PCM16 chunk in Audio/SampleRate.
	EventAudio

	// EventToolCall carries a function call request in ToolCall.
	EventToolCall

	// EventInterrupted signals that the user barged in and any audio produced
	// so far must be discarded.
	EventInterrupted

	// EventTurnComplete marks the end of a model turn.
	EventTurnComplete
)

// String returns a lower-case name for the kind.
func (k EventKind) String() string {
	switch k {
	case EventTranscript:
		return "transcript"
	case EventAudio:
		return "audio"
	case EventToolCall:
		return "tool_call"
	case EventInterrupted:
		return "interrupted"
	case EventTurnComplete:
		return "turn_complete"
	default:
		return "unknown"
	}
}

// Event is one inbound message from the model. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind EventKind

	// Role and Text are set for EventTranscript.
	Role Role
	Text string

	// Audio is base64-encoded little-endian PCM16 mono, set for EventAudio.
	// SampleRate is its rate in Hz.
	Audio      string
	SampleRate int

	// ToolCall is set for EventToolCall.
	ToolCall *ToolCall
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	// ID correlates the call with its [ToolResponse]. Echo it back verbatim.
	ID string

	// Name is the function name.
	Name string

	// Args holds the decoded JSON arguments.
	Args map[string]any
}

// ToolResponse acknowledges a [ToolCall].
type ToolResponse struct {
	ID     string
	Name   string
	Result string
}

// ToolDefinition describes a function the model may call. Parameters is a JSON
// Schema object using lower-case type names; providers translate it to their
// own dialect.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// Voice is the provider-specific prebuilt voice name (e.g. "Charon").
	Voice string

	// Instructions is the system-level prompt.
	Instructions string

	// Tools is the set of functions offered to the model.
	Tools []ToolDefinition

	// InputTranscription requests transcripts of the user's speech.
	InputTranscription bool

	// OutputTranscription requests transcripts of the model's speech.
	OutputTranscription bool
}

// Capabilities describes static properties of the S2S provider.
type Capabilities struct {
	// InputSampleRate is the rate SendAudio expects blobs at.
	InputSampleRate int

	// OutputSampleRate is the rate of EventAudio chunks.
	OutputSampleRate int

	// MaxSessionDuration is the provider-imposed session limit. Zero means no
	// documented limit.
	MaxSessionDuration time.Duration

	// Voices lists the prebuilt voices available.
	Voices []string
}

// SessionHandle represents an open S2S session. It is an interface so that test
// code can supply mock implementations without a live provider connection.
//
// All methods must be safe for concurrent use. Callers must call Close when the
// session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers one PCM16 blob to the model. Returns [ErrSessionClosed]
	// once the session has ended.
	SendAudio(blob audio.Blob) error

	// SendToolResponse acknowledges a tool call.
	SendToolResponse(resp ToolResponse) error

	// Events returns the inbound event stream. The channel is closed when the
	// session ends; call Err afterwards to learn why.
	Events() <-chan Event

	// Err returns the error that ended the session, or nil if it ended cleanly
	// or is still running.
	Err() error

	// Close terminates the session and closes the Events channel. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
type Provider interface {
	// Connect establishes a new session. It returns once the remote side has
	// acknowledged the session setup, or with an error if ctx ends first.
	// The caller owns the SessionHandle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
