package reference

import (
	"fmt"
	"math"

	"github.com/dd0wney/cluso-gridsim/pkg/engine"
)

// heun is a fixed-step modified Euler integrator. Time is computed from the
// step count so it does not drift, and the last step is clipped to tEnd.
type heun struct {
	sys  *System
	f    engine.DerivativeFunc
	t0   float64
	t    float64
	tEnd float64
	dt   float64
	k    int
	x    []float64
	v    []complex128
}

func (h *heun) T() float64      { return h.t }
func (h *heun) TEnd() float64   { return h.tEnd }
func (h *heun) Dt() float64     { return h.dt }
func (h *heun) X() []float64    { return h.x }
func (h *heun) V() []complex128 { return h.v }

// Step is a no-op once tEnd has been reached
func (h *heun) Step() error {
	if h.t >= h.tEnd {
		return nil
	}
	next := math.Min(h.t0+float64(h.k+1)*h.dt, h.tEnd)
	dt := next - h.t

	f1 := h.f(h.t, h.x, h.v)
	pred := make([]float64, len(h.x))
	for i := range pred {
		pred[i] = h.x[i] + dt*f1[i]
	}
	vPred := h.sys.SolveAlgebraic(next, pred)
	f2 := h.f(next, pred, vPred)

	x := make([]float64, len(h.x))
	for i := range x {
		x[i] = h.x[i] + dt/2*(f1[i]+f2[i])
		if math.IsNaN(x[i]) || math.IsInf(x[i], 0) {
			return &engine.ConvergenceError{
				Stage:   "integrate",
				Step:    h.k + 1,
				Time:    next,
				Wrapped: fmt.Errorf("%w: state %d diverged", engine.ErrNotConverged, i),
			}
		}
	}

	h.k++
	h.t = next
	h.x = x
	h.v = h.sys.SolveAlgebraic(next, x)
	h.sys.x = append(h.sys.x[:0], x...)
	return nil
}
