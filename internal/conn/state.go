package conn

import (
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"
)

// State is the connection lifecycle state.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	// StateClosed is entered on teardown and never left.
	StateClosed State = "closed"
)

// Reconnect policy. These are part of the protocol contract with the
// server and are not configurable.
const (
	MaxAttempts = 5
	BaseDelay   = time.Second
	MaxDelay    = 30 * time.Second
)

const (
	eventOpen     = "open"
	eventDrop     = "drop"
	eventExhaust  = "exhaust"
	eventRetry    = "retry"
	eventTeardown = "teardown"
)

// transitions is the complete transition table. Anything not listed is
// rejected by the fsm.
var transitions = fsm.Events{
	{Name: eventOpen, Src: []string{string(StateConnecting), string(StateReconnecting)}, Dst: string(StateConnected)},
	{Name: eventDrop, Src: []string{string(StateConnecting), string(StateConnected), string(StateReconnecting)}, Dst: string(StateReconnecting)},
	{Name: eventExhaust, Src: []string{string(StateReconnecting)}, Dst: string(StateFailed)},
	{Name: eventRetry, Src: []string{string(StateFailed)}, Dst: string(StateConnecting)},
	{Name: eventTeardown, Src: []string{string(StateConnecting), string(StateConnected), string(StateReconnecting), string(StateFailed)}, Dst: string(StateClosed)},
}

func newFSM() *fsm.FSM {
	return fsm.NewFSM(string(StateConnecting), transitions, fsm.Callbacks{})
}

// ErrTornDown is returned by operations attempted after Teardown.
var ErrTornDown = errors.New("conn: torn down")

// ErrNotFailed is returned by Retry outside the failed state.
var ErrNotFailed = errors.New("conn: manual retry is only possible after failure")

// ExhaustedRetriesError is the terminal error of a machine in the failed
// state.
type ExhaustedRetriesError struct {
	Attempts int
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("connection failed after %d reconnect attempts", e.Attempts)
}

// Status is a snapshot of the machine for observers.
type Status struct {
	State       State     `json:"state"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	Countdown   int       `json:"countdown"`
	RetryAt     time.Time `json:"retry_at"`
	// FirstConnect is set on a Connecting→Connected transition, Recovered
	// on a Reconnecting→Connected one. Both are false on every other
	// status.
	FirstConnect bool   `json:"first_connect,omitempty"`
	Recovered    bool   `json:"recovered,omitempty"`
	Detail       string `json:"detail"`
	LastError    string `json:"last_error,omitempty"`
}

func (s Status) describe() string {
	switch s.State {
	case StateConnecting:
		return "connecting to analysis server"
	case StateConnected:
		if s.Recovered {
			return "reconnected to analysis server"
		}
		return "connected"
	case StateReconnecting:
		if s.Countdown > 0 {
			return fmt.Sprintf("connection lost; reconnecting in %ds (%d/%d)", s.Countdown, s.Attempt, s.MaxAttempts)
		}
		return fmt.Sprintf("reconnecting (%d/%d)", s.Attempt, s.MaxAttempts)
	case StateFailed:
		return "connection failed; manual retry required"
	case StateClosed:
		return "session closed"
	}
	return string(s.State)
}
