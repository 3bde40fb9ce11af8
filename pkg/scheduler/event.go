package scheduler

import "fmt"

// Kind identifies a perturbation type
type Kind string

const (
	KindLoadStep      Kind = "load_step"
	KindLineOutage    Kind = "line_outage"
	KindLineReconnect Kind = "line_reconnect"
	KindShortCircuit  Kind = "short_circuit"
	KindFaultCleared  Kind = "fault_cleared"
	KindTapChange     Kind = "tap_change"
	KindTapRestore    Kind = "tap_restore"
)

// Status is the application state of an Event
type Status int

const (
	StatusPending Status = iota
	StatusApplied
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApplied:
		return "applied"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event is one configured perturbation. Windowed events (short circuits,
// tap changes) record the first time their window opened.
type Event struct {
	Kind      Kind    `json:"kind"`
	Target    string  `json:"target"`
	Time      float64 `json:"time"`
	Status    Status  `json:"status"`
	AppliedAt float64 `json:"applied_at,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Occurrence is something that happened during one Apply call
type Occurrence struct {
	Kind   Kind    `json:"kind"`
	Target string  `json:"target"`
	T      float64 `json:"t"`
}

// EventError is a perturbation the engine rejected. It never aborts a run.
type EventError struct {
	Kind   Kind
	Target string
	T      float64
	Err    error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("%s %s at t=%g: %v", e.Kind, e.Target, e.T, e.Err)
}

func (e *EventError) Unwrap() error {
	return e.Err
}

// Report lists what one Apply call changed
type Report struct {
	T        float64
	Occurred []Occurrence
	Errors   []*EventError
}

// Observer is notified of every applied or failed perturbation
type Observer interface {
	ObserveEvent(kind string, ok bool)
}
