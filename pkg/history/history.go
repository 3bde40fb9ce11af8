// Package history records a summary row for every finished simulation run.
package history

import (
	"context"
	"time"
)

const (
	// DefaultLimit is used by Recent when limit is not positive
	DefaultLimit = 50
	// MaxLimit caps the number of rows Recent returns
	MaxLimit = 500
)

// Run summarizes one finished run
type Run struct {
	ID         string    `json:"id"`
	Network    string    `json:"network"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Steps      int       `json:"steps"`
	TEnd       float64   `json:"t_end"`
	Error      string    `json:"error,omitempty"`
	EMModes    int       `json:"em_modes"`
}

// Store persists run summaries
type Store interface {
	Record(ctx context.Context, run Run) error
	Recent(ctx context.Context, limit int) ([]Run, error)
	Ping(ctx context.Context) error
	Close() error
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
