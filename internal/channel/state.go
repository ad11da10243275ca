package channel

import (
	"fmt"
	"time"
)

// State is a channel's lifecycle position.
type State int

const (
	Idle State = iota // created, not yet opened
	Connecting
	Ready
	ReconnectWait
	Failed // retries exhausted; terminal
	Closed // deliberately shut down; terminal
)

var stateNames = map[State]string{
	Idle:          "idle",
	Connecting:    "connecting",
	Ready:         "ready",
	ReconnectWait: "reconnect_wait",
	Failed:        "failed",
	Closed:        "closed",
}

var stateFromName = map[string]State{
	"idle":           Idle,
	"connecting":     Connecting,
	"ready":          Ready,
	"reconnect_wait": ReconnectWait,
	"failed":         Failed,
	"closed":         Closed,
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// IsTerminal reports whether no further transitions can happen.
func (s State) IsTerminal() bool {
	return s == Failed || s == Closed
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(data []byte) error {
	v, ok := stateFromName[string(data)]
	if !ok {
		return fmt.Errorf("channel: unknown state %q", string(data))
	}
	*s = v
	return nil
}

// Status is a point-in-time copy of a channel's bookkeeping, safe to retain.
type Status struct {
	EntityID        string     `json:"entityId"`
	State           State      `json:"state"`
	Attempts        int        `json:"attempts"`
	LastHeartbeatAt *time.Time `json:"lastHeartbeatAt,omitempty"`
	LastAckAt       *time.Time `json:"lastAckAt,omitempty"`
	LastError       string     `json:"lastError,omitempty"`
}
