package voice

import "fmt"

// State is the lifecycle state of a voice session.
//
//	idle → opening → open → closing → closed
//	         └──────────────→ closing → closed   (setup failure)
type State int

const (
	// StateIdle means no session has been started yet.
	StateIdle State = iota

	// StateOpening covers device acquisition and the provider handshake.
	StateOpening

	// StateOpen means audio is flowing in both directions.
	StateOpen

	// StateClosing means cleanup is in progress.
	StateClosing

	// StateClosed means every resource of the session has been released.
	StateClosed
)

var stateNames = [...]string{
	StateIdle:    "idle",
	StateOpening: "opening",
	StateOpen:    "open",
	StateClosing: "closing",
	StateClosed:  "closed",
}

// String returns the lower-case state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Active reports whether a session in this state owns the audio devices.
func (s State) Active() bool {
	return s == StateOpening || s == StateOpen || s == StateClosing
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
