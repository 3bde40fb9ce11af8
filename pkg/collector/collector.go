// Package collector captures the per-step observables of a running
// simulation.
package collector

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/dd0wney/cluso-gridsim/pkg/engine"
)

var (
	// ErrNotIncreasing is returned when a record would not advance time
	ErrNotIncreasing = errors.New("step time did not increase")

	// ErrNonFinite is returned when the engine reports NaN or infinite
	// states, voltages or powers
	ErrNonFinite = errors.New("non-finite value")
)

// StepRecord is the snapshot of one simulation step
type StepRecord struct {
	T                float64   `json:"t"`
	X                []float64 `json:"x"`
	V                []Complex `json:"v"`
	VMagnitude       []float64 `json:"v_magnitude"`
	VAngle           []float64 `json:"v_angle"`
	GenSpeed         []float64 `json:"gen_speed"`
	GenI             []Complex `json:"gen_I"`
	LoadI            []Complex `json:"load_I"`
	LoadP            []float64 `json:"load_P"`
	LoadQ            []float64 `json:"load_Q"`
	TrafoCurrentFrom []Complex `json:"trafo_current_from"`
	TrafoCurrentTo   []Complex `json:"trafo_current_to"`
}

// MaxVoltage returns the largest bus voltage magnitude, or zero without buses
func (r *StepRecord) MaxVoltage() float64 {
	var m float64
	for _, v := range r.VMagnitude {
		if v > m {
			m = v
		}
	}
	return m
}

// Collector builds StepRecords from the engine's component groups
type Collector struct {
	sys     engine.System
	last    float64
	started bool
	count   int
}

func New(sys engine.System) *Collector {
	return &Collector{sys: sys}
}

// Count returns the number of records collected
func (c *Collector) Count() int {
	return c.count
}

// Collect snapshots the state at time t. Inputs are copied, so the caller
// may keep mutating x and v.
func (c *Collector) Collect(t float64, x []float64, v []complex128) (*StepRecord, error) {
	if c.started && t <= c.last {
		return nil, fmt.Errorf("t=%g after t=%g: %w", t, c.last, ErrNotIncreasing)
	}

	rec := &StepRecord{
		T:          t,
		X:          append(make([]float64, 0, len(x)), x...),
		V:          Complexes(v),
		VMagnitude: make([]float64, len(v)),
		VAngle:     make([]float64, len(v)),
	}
	for i, z := range v {
		rec.VMagnitude[i] = cmplx.Abs(z)
		rec.VAngle[i] = cmplx.Phase(z)
	}

	gens := c.sys.Generators()
	rec.GenSpeed = floats(gens.Speed(x, v))
	rec.GenI = Complexes(gens.Current(x, v))

	loads := c.sys.Loads()
	rec.LoadI = Complexes(loads.Current(x, v))
	rec.LoadP = floats(loads.ActivePower(x, v))
	rec.LoadQ = floats(loads.ReactivePower(x, v))

	trafos := c.sys.Transformers()
	rec.TrafoCurrentFrom = Complexes(trafos.CurrentFrom(x, v))
	rec.TrafoCurrentTo = Complexes(trafos.CurrentTo(x, v))

	if err := rec.checkFinite(); err != nil {
		return nil, fmt.Errorf("t=%g: %w", t, err)
	}

	c.last, c.started = t, true
	c.count++
	return rec, nil
}

// checkFinite rejects records whose real-valued fields cannot be encoded.
// Complex fields encode non-finite parts as null and are not checked.
func (r *StepRecord) checkFinite() error {
	fields := []struct {
		name string
		vals []float64
	}{
		{"x", r.X},
		{"v_magnitude", r.VMagnitude},
		{"v_angle", r.VAngle},
		{"gen_speed", r.GenSpeed},
		{"load_P", r.LoadP},
		{"load_Q", r.LoadQ},
	}
	for _, f := range fields {
		for i, v := range f.vals {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%s[%d] is %g: %w", f.name, i, v, ErrNonFinite)
			}
		}
	}
	return nil
}

// floats copies engine output and turns nil into an empty slice
func floats(in []float64) []float64 {
	return append(make([]float64, 0, len(in)), in...)
}
