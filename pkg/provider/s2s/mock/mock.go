// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and feed controlled S2S sessions.
// Use Session to drive the inbound event stream and inspect which messages the
// caller sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Push(s2s.Event{Kind: s2s.EventTranscript, Role: s2s.RoleModel, Text: "Hi"})
//	sess.End(nil)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voiceguide/pkg/audio"
	"github.com/MrWong99/voiceguide/pkg/provider/s2s"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect returns
	// a fresh [NewSession].
	Session s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectFunc, if set, replaces the default Connect behaviour entirely.
	// Use it to simulate slow handshakes.
	ConnectFunc func(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error)

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// CapabilitiesCallCount is the number of times Capabilities was called.
	CapabilitiesCallCount int
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	fn := p.ConnectFunc
	sess, err := p.Session, p.ConnectErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, cfg)
	}
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}
	return NewSession(), nil
}

// Capabilities records the call and returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ProviderCapabilities
}

// Calls returns a copy of the recorded Connect calls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
	p.CapabilitiesCallCount = 0
}

// Ensure Provider implements s2s.Provider at compile time.
var _ s2s.Provider = (*Provider)(nil)

// Session is a mock implementation of s2s.SessionHandle.
type Session struct {
	mu sync.Mutex

	events chan s2s.Event
	ended  bool
	err    error

	// SendAudioErr, if non-nil, is returned by SendAudio.
	SendAudioErr error

	// SendToolResponseErr, if non-nil, is returned by SendToolResponse.
	SendToolResponseErr error

	// CloseErr is returned by Close.
	CloseErr error

	// SentAudio records every blob passed to SendAudio.
	SentAudio []audio.Blob

	// ToolResponses records every response passed to SendToolResponse.
	ToolResponses []s2s.ToolResponse

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Ensure Session implements s2s.SessionHandle at compile time.
var _ s2s.SessionHandle = (*Session)(nil)

// NewSession returns a Session with a buffered events channel.
func NewSession() *Session {
	return &Session{events: make(chan s2s.Event, 256)}
}

// Push delivers ev on the events channel. It reports false if the session has
// already ended.
func (s *Session) Push(ev s2s.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.events <- ev
	return true
}

// End closes the events channel as if the remote side had hung up. err is
// reported by Err. Subsequent calls are no-ops.
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(err)
}

func (s *Session) endLocked(err error) {
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.events)
}

// SendAudio records the blob.
func (s *Session) SendAudio(blob audio.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return s2s.ErrSessionClosed
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	s.SentAudio = append(s.SentAudio, blob)
	return nil
}

// SendToolResponse records the response.
func (s *Session) SendToolResponse(resp s2s.ToolResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return s2s.ErrSessionClosed
	}
	if s.SendToolResponseErr != nil {
		return s.SendToolResponseErr
	}
	s.ToolResponses = append(s.ToolResponses, resp)
	return nil
}

// Events returns the events channel.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// Err returns the error passed to End.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close records the call and ends the session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	s.endLocked(nil)
	return s.CloseErr
}

// AudioCount returns how many blobs have been sent. Thread-safe.
func (s *Session) AudioCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SentAudio)
}

// Responses returns a copy of the recorded tool responses. Thread-safe.
func (s *Session) Responses() []s2s.ToolResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]s2s.ToolResponse, len(s.ToolResponses))
	copy(out, s.ToolResponses)
	return out
}

// Closes returns how many times Close was called. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}
