package resilience

import (
	"context"

	"github.com/MrWong99/voiceguide/pkg/provider/s2s"
)

// S2SFallback implements [s2s.Provider] with automatic failover across
// multiple speech-to-speech backends. Each backend has its own circuit
// breaker; when the primary fails to connect or its breaker is open, the next
// healthy fallback is tried.
//
// Only session establishment fails over. Once a session is open, its errors
// end that session and the next Connect starts again with the primary.
type S2SFallback struct {
	group *FallbackGroup[s2s.Provider]
}

// Compile-time interface assertion.
var _ s2s.Provider = (*S2SFallback)(nil)

// NewS2SFallback creates an [S2SFallback] with primary as the preferred backend.
func NewS2SFallback(primary s2s.Provider, primaryName string, cfg FallbackConfig) *S2SFallback {
	return &S2SFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional provider as a fallback.
func (f *S2SFallback) AddFallback(name string, provider s2s.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the backend names in failover order.
func (f *S2SFallback) Names() []string { return f.group.Names() }

// Connect opens a session on the first healthy provider. A cancelled or
// expired ctx stops the failover instead of burning through the fallbacks.
func (f *S2SFallback) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(p s2s.Provider) (s2s.SessionHandle, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return p.Connect(ctx, cfg)
	})
}

// Capabilities returns the primary's capabilities.
func (f *S2SFallback) Capabilities() s2s.Capabilities {
	return f.group.primary().Capabilities()
}
