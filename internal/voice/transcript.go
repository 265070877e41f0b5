package voice

import (
	"sync"

	"github.com/MrWong99/voiceguide/pkg/provider/s2s"
)

// Message is one entry of the conversation log.
type Message struct {
	Role    s2s.Role `json:"role"`
	Content string   `json:"content"`
}

// Transcript merges incremental transcript deltas into a flat message log.
// Consecutive deltas of the same role extend the last entry; a delta from the
// other role starts a new one. It is safe for concurrent use.
type Transcript struct {
	mu     sync.Mutex
	msgs   []Message
	sealed bool
}

// NewTranscript returns a log seeded with a model greeting. The greeting is
// sealed, so the first model delta starts its own entry. An empty greeting
// yields an empty log.
func NewTranscript(greeting string) *Transcript {
	t := &Transcript{}
	if greeting != "" {
		t.msgs = append(t.msgs, Message{Role: s2s.RoleModel, Content: greeting})
		t.sealed = true
	}
	return t
}

// Append merges one delta into the log. Empty deltas are ignored.
func (t *Transcript) Append(role s2s.Role, text string) {
	if text == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.msgs); n > 0 && !t.sealed && t.msgs[n-1].Role == role {
		t.msgs[n-1].Content += text
		return
	}
	t.msgs = append(t.msgs, Message{Role: role, Content: text})
	t.sealed = false
}

// Seal closes the last entry: the next delta starts a new one regardless of
// its role. The assistant seals the log when a new session starts.
func (t *Transcript) Seal() {
	t.mu.Lock()
	t.sealed = true
	t.mu.Unlock()
}

// Messages returns a copy of the log.
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.msgs)
}
