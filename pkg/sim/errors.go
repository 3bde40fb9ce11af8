package sim

import (
	"context"
	"errors"
)

var (
	// ErrAlreadyRunning is returned by Start while a run is active
	ErrAlreadyRunning = errors.New("simulation already running")

	// ErrNoParameters is returned by StartPatch for an empty request
	ErrNoParameters = errors.New("no parameters provided")

	// ErrShutdown is returned by Start after Close
	ErrShutdown = errors.New("simulation service is shut down")
)

// Cancelled reports whether err ended a run because its context was done
func Cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// message is the text sent to consumers for a failed run
func message(err error) string {
	if Cancelled(err) {
		return "Simulation cancelled"
	}
	return err.Error()
}
