package aggregate

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dd0wney/cluso-gridsim/pkg/collector"
	"github.com/dd0wney/cluso-gridsim/pkg/engine"
	"github.com/dd0wney/cluso-gridsim/pkg/logging"
	"github.com/dd0wney/cluso-gridsim/pkg/modal"
	"github.com/dd0wney/cluso-gridsim/pkg/scheduler"
)

// ErrNonFinite is returned when a final quantity is NaN or infinite
var ErrNonFinite = errors.New("non-finite value")

// Aggregator builds a ResultSet for one run. It is not safe for concurrent use.
type Aggregator struct {
	rs     *ResultSet
	logger logging.Logger
}

func New(runID, network string, started time.Time, logger logging.Logger) *Aggregator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Aggregator{
		rs: &ResultSet{
			RunID:     runID,
			Network:   network,
			StartedAt: started,
			Columns:   newColumns(),
			Lines:     map[string]LineFlow{},
		},
		logger: logger.With(logging.Component("aggregate"), logging.RunID(runID)),
	}
}

// Append adds one step
func (a *Aggregator) Append(r *collector.StepRecord) {
	a.rs.Columns.append(r)
}

// Steps returns the number of appended steps
func (a *Aggregator) Steps() int {
	return a.rs.Steps()
}

// Finalization inputs gathered by the driver at the end of stepping
type Finalization struct {
	System   engine.System
	X        []float64
	V        []complex128
	Pipeline *modal.Pipeline
	Events   []scheduler.Event
	Finished time.Time
}

// Finalize computes line flows, the eigen report and bus power, and returns
// the completed ResultSet. Missing engine data leaves the matching field
// empty.
func (a *Aggregator) Finalize(f Finalization) *ResultSet {
	rs := a.rs
	lines, dropped := LineFlows(f.System, f.X, f.V)
	for _, name := range dropped {
		a.logger.Warn("line flow skipped", logging.String("line", name), logging.Error(ErrNonFinite))
	}
	rs.Lines = lines

	if f.Pipeline != nil {
		rs.Eigenvalues = f.Pipeline.Analyze(f.System)
	} else {
		rs.Eigenvalues = modal.Empty()
	}

	if y, ok := f.System.LoadFlowAdmittance(); ok {
		bp, err := BusPowers(y, f.V)
		if err != nil {
			a.logger.Warn("bus power skipped", logging.Error(err))
		} else {
			rs.BusPower = bp
		}
	}
	rs.BusPowerRaw = RawInjections(f.System.PowerInjections())

	rs.Events = f.Events
	rs.DurationSeconds = f.Finished.Sub(rs.StartedAt).Seconds()
	return rs
}

// LineFlows maps each line's final flow by name. Lines without a name get
// L1, L2, ... by position. Flows with a non-finite component are left out
// and their names returned as dropped.
func LineFlows(sys engine.System, x []float64, v []complex128) (flowsByName map[string]LineFlow, dropped []string) {
	lines := sys.Lines()
	names := lines.Names()
	flows := lines.Flows(x, v)
	out := make(map[string]LineFlow, len(flows))
	for i, f := range flows {
		name := ""
		if i < len(names) {
			name = names[i]
		}
		if name == "" {
			name = fmt.Sprintf("L%d", i+1)
		}
		lf := LineFlow{PFrom: f.PFrom, QFrom: f.QFrom, PTo: f.PTo, QTo: f.QTo}
		if !finite(lf.PFrom, lf.QFrom, lf.PTo, lf.QTo) {
			dropped = append(dropped, name)
			continue
		}
		out[name] = lf
	}
	return out, dropped
}

// BusPowers returns S = V ⊙ conj(Y·V) per bus
func BusPowers(y [][]complex128, v []complex128) ([]BusPower, error) {
	if len(y) != len(v) {
		return nil, fmt.Errorf("admittance has %d rows for %d voltages", len(y), len(v))
	}
	out := make([]BusPower, len(v))
	for i, row := range y {
		if len(row) != len(v) {
			return nil, fmt.Errorf("admittance row %d has %d columns for %d voltages", i, len(row), len(v))
		}
		var current complex128
		for j, yij := range row {
			current += yij * v[j]
		}
		s := v[i] * complex(real(current), -imag(current))
		if !finite(real(s), imag(s)) {
			return nil, fmt.Errorf("bus %d power %v: %w", i, s, ErrNonFinite)
		}
		out[i] = BusPower{P: real(s), Q: imag(s)}
	}
	return out, nil
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// RawInjections formats the power-flow injections as strings like (1.2+0.3j)
func RawInjections(s []complex128) []string {
	out := make([]string, len(s))
	for i, z := range s {
		out[i] = fmt.Sprintf("(%g%+gj)", real(z), imag(z))
	}
	return out
}
