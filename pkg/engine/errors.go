package engine

import (
	"errors"
	"fmt"
)

// Engine errors
var (
	// ErrModelNotFound is returned by a Catalog for unknown network names
	ErrModelNotFound = errors.New("engine: network model not found")

	// ErrPowerFlow indicates the steady-state solve did not converge
	ErrPowerFlow = errors.New("engine: power flow did not converge")

	// ErrNotConverged indicates dynamic initialization or a time step failed
	ErrNotConverged = errors.New("engine: solver did not converge")

	// ErrLineNotFound is returned by line events naming an unknown line
	ErrLineNotFound = errors.New("engine: line not found")

	// ErrUnsupported marks an optional capability the engine does not provide
	ErrUnsupported = errors.New("engine: operation not supported")

	// ErrIndexOutOfRange is returned by group accessors for a bad unit index
	ErrIndexOutOfRange = errors.New("engine: component index out of range")
)

// ModelLoadError reports a network that could not be resolved or built
type ModelLoadError struct {
	Network string
	Wrapped error
}

func (e *ModelLoadError) Error() string {
	if errors.Is(e.Wrapped, ErrModelNotFound) {
		return fmt.Sprintf("Network %s not found", e.Network)
	}
	return fmt.Sprintf("load network %s: %v", e.Network, e.Wrapped)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Wrapped
}

// ConvergenceError wraps a numerical failure with the stage and simulated
// time at which it happened.
type ConvergenceError struct {
	Stage   string
	Step    int
	Time    float64
	Wrapped error
}

func (e *ConvergenceError) Error() string {
	if e.Stage == "" {
		return e.Wrapped.Error()
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Wrapped)
}

func (e *ConvergenceError) Unwrap() error {
	return e.Wrapped
}
