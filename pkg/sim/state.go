package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dd0wney/cluso-gridsim/pkg/aggregate"
)

// State is a driver lifecycle phase
type State int

const (
	StateIdle State = iota
	StateLoading
	StateInitializing
	StateStepping
	StateFinalizing
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateInitializing:
		return "initializing"
	case StateStepping:
		return "stepping"
	case StateFinalizing:
		return "finalizing"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether s ends a run
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// Observer follows one run through the driver
type Observer interface {
	Transition(s State)
	Progress(t float64)
	// Finish is called before the terminal message is published
	Finish(rs *aggregate.ResultSet, err error)
}

// RunInfo is a point-in-time view of the run state
type RunInfo struct {
	Running   bool      `json:"running"`
	RunID     string    `json:"run_id,omitempty"`
	Network   string    `json:"network,omitempty"`
	State     string    `json:"state"`
	T         float64   `json:"t"`
	StartedAt time.Time `json:"started_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// RunState is the process-wide gate that admits one run at a time and
// caches the last completed result set.
type RunState struct {
	mu      sync.Mutex
	running bool
	runID   string
	network string
	started time.Time
	state   State
	t       float64
	lastErr error
	results *aggregate.ResultSet
	cancel  context.CancelFunc
}

func NewRunState() *RunState {
	return &RunState{}
}

// TryStart admits a new run unless one is active. Cached results are
// cleared on success.
func (s *RunState) TryStart(runID, network string, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.runID = runID
	s.network = network
	s.started = time.Now()
	s.state = StateIdle
	s.t = 0
	s.lastErr = nil
	s.results = nil
	s.cancel = cancel
	return true
}

func (s *RunState) Transition(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

func (s *RunState) Progress(t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t = t
}

// Finish clears the running flag and caches rs when the run completed
func (s *RunState) Finish(rs *aggregate.ResultSet, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.cancel = nil
	s.lastErr = err
	if err == nil {
		s.results = rs
	}
}

// Cancel stops the active run. It reports false when nothing is running.
func (s *RunState) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

func (s *RunState) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Results returns the last completed result set
func (s *RunState) Results() (*aggregate.ResultSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results, s.results != nil
}

func (s *RunState) Info() RunInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := RunInfo{
		Running:   s.running,
		RunID:     s.runID,
		Network:   s.network,
		State:     s.state.String(),
		T:         s.t,
		StartedAt: s.started,
	}
	if s.lastErr != nil {
		info.LastError = message(s.lastErr)
	}
	return info
}
