// Package reference is a small classical-machine engine. Generators are
// constant EMFs behind transient reactance, loads are constant admittances
// and the network is solved directly at every evaluation.
package reference

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"slices"

	"github.com/dd0wney/cluso-gridsim/pkg/engine"
	"github.com/spf13/cast"
)

const (
	maxPowerFlowIterations = 50
	powerFlowTolerance     = 1e-8
	perturbation           = 1e-6
)

// System implements engine.System
type System struct {
	net   *network
	fault []complex128

	delta0 []float64
	v0     []complex128
	s0     []complex128

	solved      bool
	initialized bool

	// operating point reached by the last integrator step
	x []float64
}

var _ engine.System = (*System)(nil)

// Factory builds reference systems. The "damping" option overrides D on
// every generator.
var Factory = engine.FactoryFunc(func(model *engine.ModelData, options map[string]any) (engine.System, error) {
	return Build(model, options)
})

// Build parses an adapted model into a System
func Build(model *engine.ModelData, options map[string]any) (*System, error) {
	net, err := parseNetwork(model)
	if err != nil {
		return nil, err
	}
	if raw, ok := options["damping"]; ok {
		d, err := cast.ToFloat64E(raw)
		if err != nil {
			return nil, fmt.Errorf("option damping: %w", err)
		}
		for i := range net.gens {
			net.gens[i].d = d * net.gens[i].sn / net.baseMVA
		}
	}
	return &System{
		net:   net,
		fault: make([]complex128, len(net.buses)),
	}, nil
}

func (s *System) NumBuses() int { return len(s.net.buses) }

// emf returns the internal voltage phasor of generator i at rotor angle delta
func (s *System) emf(i int, delta float64) complex128 {
	return cmplx.Rect(s.net.gens[i].e, delta)
}

// angle returns the rotor angle of generator i from a state vector
func angle(x []float64, i int) float64 { return x[2*i] }

func speed(x []float64, i int) float64 { return x[2*i+1] }

// busAdmittance is the network admittance with load and fault shunts
func (s *System) busAdmittance() [][]complex128 {
	y := s.net.networkAdmittance()
	for _, l := range s.net.loads {
		y[l.bus][l.bus] += complex(l.g, -l.b)
	}
	for b, yf := range s.fault {
		y[b][b] += yf
	}
	return y
}

// solveNetwork returns bus voltages for the given rotor angles
func (s *System) solveNetwork(deltas func(i int) float64) ([]complex128, error) {
	n := s.net
	y := s.busAdmittance()
	rhs := make([]complex128, len(n.buses))
	for i, g := range n.gens {
		yg := 1 / complex(0, g.xdt)
		y[g.bus][g.bus] += yg
		rhs[g.bus] += s.emf(i, deltas(i)) * yg
	}
	return solve(y, rhs)
}

func (s *System) genCurrent(i int, delta float64, v []complex128) complex128 {
	g := s.net.gens[i]
	return (s.emf(i, delta) - v[g.bus]) / complex(0, g.xdt)
}

func (s *System) electricalPower(i int, delta float64, v []complex128) float64 {
	return real(s.emf(i, delta) * cmplx.Conj(s.genCurrent(i, delta, v)))
}

// PowerFlow solves the bus voltages with Newton iterations on a
// finite-difference Jacobian. Generator buses hold their voltage setpoint
// and dispatch, the slack generator's bus sits at angle zero and takes up
// the balance, and all other buses have zero net injection. Each machine's
// EMF is then placed behind its transient reactance so that the dynamic
// network reproduces the solution exactly.
func (s *System) PowerFlow() error {
	n := s.net
	nb := len(n.buses)
	y := s.busAdmittance()
	slackBus := n.gens[n.slack].bus

	pSpec := make([]float64, nb)
	isGen := make([]bool, nb)
	vm := make([]float64, nb)
	th := make([]float64, nb)
	for b := range vm {
		vm[b] = 1
	}
	for _, g := range n.gens {
		pSpec[g.bus] += g.p
		if !isGen[g.bus] {
			vm[g.bus] = g.vSet
		}
		isGen[g.bus] = true
	}

	// unknowns: angles of every bus but the slack, magnitudes of load buses
	var angles, mags []int
	for b := 0; b < nb; b++ {
		if b != slackBus {
			angles = append(angles, b)
		}
		if !isGen[b] {
			mags = append(mags, b)
		}
	}
	size := len(angles) + len(mags)

	mismatch := func(vm, th []float64) ([]float64, []complex128) {
		v := make([]complex128, nb)
		for b := range v {
			v[b] = cmplx.Rect(vm[b], th[b])
		}
		inj := injections(y, v)
		r := make([]float64, 0, size)
		for _, b := range angles {
			r = append(r, pSpec[b]-real(inj[b]))
		}
		for _, b := range mags {
			r = append(r, -imag(inj[b]))
		}
		return r, v
	}
	update := func(vm, th, dx []float64) ([]float64, []float64) {
		vm, th = slices.Clone(vm), slices.Clone(th)
		for k, b := range angles {
			th[b] += dx[k]
		}
		for k, b := range mags {
			vm[b] += dx[len(angles)+k]
		}
		return vm, th
	}

	var (
		v         []complex128
		converged bool
		worst     float64
	)
	for iter := 0; iter < maxPowerFlowIterations; iter++ {
		r, volts := mismatch(vm, th)
		v = volts
		worst = 0
		for _, e := range r {
			worst = math.Max(worst, math.Abs(e))
		}
		if math.IsNaN(worst) {
			break
		}
		if worst < powerFlowTolerance {
			converged = true
			break
		}

		jac := newMatrix(size)
		dx := make([]float64, size)
		for c := 0; c < size; c++ {
			dx[c] = perturbation
			shifted, _ := mismatch(update(vm, th, dx))
			dx[c] = 0
			for row := 0; row < size; row++ {
				jac[row][c] = complex((r[row]-shifted[row])/perturbation, 0)
			}
		}
		rhs := make([]complex128, size)
		for k, e := range r {
			rhs[k] = complex(e, 0)
		}
		step, err := solve(jac, rhs)
		if err != nil {
			return fmt.Errorf("%w: %v", engine.ErrPowerFlow, err)
		}
		for k := range dx {
			dx[k] = real(step[k])
		}
		vm, th = update(vm, th, dx)
	}
	if !converged {
		return fmt.Errorf("%w: mismatch %.3g after %d iterations", engine.ErrPowerFlow, worst, maxPowerFlowIterations)
	}

	// machines sharing a bus split its injection by rating
	inj := injections(y, v)
	rating := make([]float64, nb)
	for _, g := range n.gens {
		rating[g.bus] += g.sn
	}
	delta := make([]float64, len(n.gens))
	for i := range n.gens {
		g := &n.gens[i]
		sg := inj[g.bus] * complex(g.sn/rating[g.bus], 0)
		e := v[g.bus] + complex(0, g.xdt)*cmplx.Conj(sg/v[g.bus])
		g.e = cmplx.Abs(e)
		delta[i] = cmplx.Phase(e)
	}

	s.delta0 = delta
	s.v0 = v
	s.s0 = injections(n.networkAdmittance(), v)
	s.solved = true
	return nil
}

func injections(y [][]complex128, v []complex128) []complex128 {
	i := matVec(y, v)
	out := make([]complex128, len(v))
	for k := range v {
		out[k] = v[k] * cmplx.Conj(i[k])
	}
	return out
}

// InitDynamic sets mechanical power to the electrical power at the power
// flow solution so that the initial state is an equilibrium.
func (s *System) InitDynamic() error {
	if !s.solved {
		return fmt.Errorf("%w: power flow has not been solved", engine.ErrNotConverged)
	}
	x0 := make([]float64, 2*len(s.net.gens))
	for i := range s.net.gens {
		x0[2*i] = s.delta0[i]
		s.net.gens[i].pm = s.electricalPower(i, s.delta0[i], s.v0)
	}
	s.x = x0
	s.initialized = true
	return nil
}

func (s *System) InitialState() ([]float64, []complex128) {
	x0 := make([]float64, 2*len(s.net.gens))
	for i := range s.net.gens {
		if s.delta0 != nil {
			x0[2*i] = s.delta0[i]
		}
	}
	return x0, append([]complex128(nil), s.v0...)
}

// StateDerivatives solves the network from x itself; v is ignored
func (s *System) StateDerivatives(t float64, x []float64, v []complex128) []float64 {
	dx := make([]float64, len(x))
	volts, err := s.solveNetwork(func(i int) float64 { return angle(x, i) })
	if err != nil {
		for i := range dx {
			dx[i] = math.NaN()
		}
		return dx
	}
	ws := 2 * math.Pi * s.net.freq
	for i, g := range s.net.gens {
		w := speed(x, i)
		pe := s.electricalPower(i, angle(x, i), volts)
		dx[2*i] = ws * w
		dx[2*i+1] = (g.pm - pe - g.d*w) / g.m
	}
	return dx
}

// SolveAlgebraic returns NaN voltages when the network is singular
func (s *System) SolveAlgebraic(t float64, x []float64) []complex128 {
	v, err := s.solveNetwork(func(i int) float64 { return angle(x, i) })
	if err != nil {
		v = make([]complex128, len(s.net.buses))
		for i := range v {
			v[i] = cmplx.NaN()
		}
	}
	return v
}

func (s *System) NewIntegrator(f engine.DerivativeFunc, t0 float64, x0 []float64, tEnd, maxStep float64) (engine.Integrator, error) {
	if !s.initialized {
		return nil, fmt.Errorf("%w: dynamic state not initialized", engine.ErrNotConverged)
	}
	if maxStep <= 0 {
		return nil, errors.New("reference: max step must be positive")
	}
	x := append([]float64(nil), x0...)
	return &heun{
		sys:  s,
		f:    f,
		t0:   t0,
		t:    t0,
		tEnd: tEnd,
		dt:   maxStep,
		x:    x,
		v:    s.SolveAlgebraic(t0, x),
	}, nil
}

func (s *System) FaultAdmittance(bus int) (complex128, error) {
	if bus < 0 || bus >= len(s.fault) {
		return 0, fmt.Errorf("bus %d: %w", bus, engine.ErrIndexOutOfRange)
	}
	return s.fault[bus], nil
}

func (s *System) SetFaultAdmittance(bus int, y complex128) error {
	if bus < 0 || bus >= len(s.fault) {
		return fmt.Errorf("bus %d: %w", bus, engine.ErrIndexOutOfRange)
	}
	s.fault[bus] = y
	return nil
}

func (s *System) LoadFlowAdmittance() ([][]complex128, bool) {
	return s.net.networkAdmittance(), true
}

func (s *System) PowerInjections() []complex128 {
	return append([]complex128(nil), s.s0...)
}

func (s *System) Loads() engine.LoadGroup               { return loadGroup{s} }
func (s *System) Generators() engine.GeneratorGroup     { return genGroup{s} }
func (s *System) Lines() engine.LineGroup               { return lineGroup{s} }
func (s *System) Transformers() engine.TransformerGroup { return trafoGroup{s} }

func (s *System) Linearize() (engine.Linearization, error) {
	if !s.initialized {
		return nil, fmt.Errorf("%w: dynamic state not initialized", engine.ErrNotConverged)
	}
	return &linearization{sys: s, x: append([]float64(nil), s.x...)}, nil
}
