package archive

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/dd0wney/cluso-gridsim/pkg/aggregate"
)

var (
	// ErrNotFound is returned by Get for an unknown run
	ErrNotFound = errors.New("archive: run not found")

	// ErrInvalidRunID rejects ids that cannot name an object safely
	ErrInvalidRunID = errors.New("archive: invalid run id")
)

// Store keeps result sets by run id
type Store interface {
	// Put stores rs under its run id and returns the encoded size
	Put(ctx context.Context, rs *aggregate.ResultSet) (int, error)
	Get(ctx context.Context, runID string) (*aggregate.ResultSet, error)
	Ping(ctx context.Context) error
}

var validRunID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// objectName maps a run id to its object name
func objectName(runID string) (string, error) {
	if !validRunID.MatchString(runID) {
		return "", fmt.Errorf("%w %q", ErrInvalidRunID, runID)
	}
	return runID + ".json.sz", nil
}
