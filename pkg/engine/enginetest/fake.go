// Package enginetest provides a scriptable in-memory engine for tests.
package enginetest

import (
	"fmt"
	"math"
	"sync"

	"github.com/dd0wney/cluso-gridsim/pkg/engine"
)

// Call is one mutating call made against the fake
type Call struct {
	Op     string
	Target string
	Value  float64
}

// Load is the state of one fake load
type Load struct {
	G, B float64
}

// Options configures a fake System
type Options struct {
	Buses        int
	Loads        []Load
	Generators   int
	Lines        []string
	Transformers []float64 // initial ratio_from per transformer

	PowerFlowErr  error
	InitErr       error
	IntegratorErr error
	StepErr       error
	StepErrAt     int // step count at which StepErr is returned
	PanicAt       int // step count at which Step panics; zero disables
	StallAt       int // step count from which Step stops advancing
	DisconnectErr map[string]error
	ReconnectErr  map[string]error
	Residual      float64
	NoAdmittance  bool
	Linearization *Linearization
	LinearizeErr  error
	StatesPerGen  int
	NaNFlowLine   string // line whose reported flow is NaN
	SetLoadErr    error
	SetLoadOKs    int // successful SetSetpoints calls before SetLoadErr is returned
}

// System is a fake engine.System. Load power equals the load setpoints and
// bus voltages are 1 pu, so setpoint changes show up directly in outputs.
type System struct {
	mu    sync.Mutex
	opts  Options
	loads []Load
	pm    []float64
	ratio []float64
	fault []complex128
	down  map[string]bool
	calls []Call
	sets  int

	// set by the derivative function
	evals int
}

var _ engine.System = (*System)(nil)

// New creates a fake with sensible defaults for unset sizes
func New(opts Options) *System {
	if opts.Buses == 0 {
		opts.Buses = 3
	}
	if opts.Loads == nil {
		opts.Loads = []Load{{G: 0.5, B: 0.1}}
	}
	if opts.Generators == 0 {
		opts.Generators = 2
	}
	if opts.Lines == nil {
		opts.Lines = []string{"L1", "L2"}
	}
	if opts.Transformers == nil {
		opts.Transformers = []float64{1.0}
	}
	if opts.StatesPerGen == 0 {
		opts.StatesPerGen = 2
	}
	s := &System{
		opts:  opts,
		loads: append([]Load(nil), opts.Loads...),
		pm:    make([]float64, opts.Generators),
		ratio: append([]float64(nil), opts.Transformers...),
		fault: make([]complex128, opts.Buses),
		down:  make(map[string]bool),
	}
	for i := range s.pm {
		s.pm[i] = 1
	}
	return s
}

// Factory returns an engine.Factory handing out sys for every build
func Factory(sys *System) engine.Factory {
	return engine.FactoryFunc(func(*engine.ModelData, map[string]any) (engine.System, error) {
		return sys, nil
	})
}

// FailingFactory returns a factory that always fails with err
func FailingFactory(err error) engine.Factory {
	return engine.FactoryFunc(func(*engine.ModelData, map[string]any) (engine.System, error) {
		return nil, err
	})
}

func (s *System) record(op, target string, v float64) {
	s.calls = append(s.calls, Call{Op: op, Target: target, Value: v})
}

// Calls returns the mutating calls made so far
func (s *System) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsOf returns calls with the given op
func (s *System) CallsOf(op string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Evaluations returns how many times StateDerivatives ran
func (s *System) Evaluations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evals
}

// LineDown reports whether a line is disconnected
func (s *System) LineDown(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.down[name]
}

func (s *System) PowerFlow() error   { return s.opts.PowerFlowErr }
func (s *System) InitDynamic() error { return s.opts.InitErr }

func (s *System) nStates() int { return s.opts.Generators * s.opts.StatesPerGen }

func (s *System) InitialState() ([]float64, []complex128) {
	return make([]float64, s.nStates()), s.voltages()
}

func (s *System) voltages() []complex128 {
	v := make([]complex128, s.opts.Buses)
	for i := range v {
		v[i] = 1
	}
	return v
}

// StateDerivatives returns the configured residual at t=0 and zero otherwise
func (s *System) StateDerivatives(t float64, x []float64, v []complex128) []float64 {
	s.mu.Lock()
	s.evals++
	s.mu.Unlock()
	dx := make([]float64, len(x))
	if t == 0 && len(dx) > 0 {
		dx[0] = s.opts.Residual
	}
	return dx
}

func (s *System) SolveAlgebraic(t float64, x []float64) []complex128 { return s.voltages() }

func (s *System) NewIntegrator(f engine.DerivativeFunc, t0 float64, x0 []float64, tEnd, maxStep float64) (engine.Integrator, error) {
	if s.opts.IntegratorErr != nil {
		return nil, s.opts.IntegratorErr
	}
	return &Integrator{sys: s, f: f, t0: t0, t: t0, tEnd: tEnd, dt: maxStep, x: append([]float64(nil), x0...), v: s.voltages()}, nil
}

func (s *System) NumBuses() int { return s.opts.Buses }

func (s *System) FaultAdmittance(bus int) (complex128, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bus < 0 || bus >= len(s.fault) {
		return 0, fmt.Errorf("bus %d: %w", bus, engine.ErrIndexOutOfRange)
	}
	return s.fault[bus], nil
}

func (s *System) SetFaultAdmittance(bus int, y complex128) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bus < 0 || bus >= len(s.fault) {
		return fmt.Errorf("bus %d: %w", bus, engine.ErrIndexOutOfRange)
	}
	s.fault[bus] = y
	return nil
}

func (s *System) LoadFlowAdmittance() ([][]complex128, bool) {
	if s.opts.NoAdmittance {
		return nil, false
	}
	n := s.opts.Buses
	y := make([][]complex128, n)
	for i := range y {
		y[i] = make([]complex128, n)
		y[i][i] = 1
	}
	return y, true
}

func (s *System) PowerInjections() []complex128 {
	out := make([]complex128, s.opts.Buses)
	for i := range out {
		out[i] = complex(0.1*float64(i), 0)
	}
	return out
}

func (s *System) Loads() engine.LoadGroup               { return loadGroup{s} }
func (s *System) Generators() engine.GeneratorGroup     { return genGroup{s} }
func (s *System) Lines() engine.LineGroup               { return lineGroup{s} }
func (s *System) Transformers() engine.TransformerGroup { return trafoGroup{s} }

func (s *System) Linearize() (engine.Linearization, error) {
	if s.opts.LinearizeErr != nil {
		return nil, s.opts.LinearizeErr
	}
	if s.opts.Linearization == nil {
		return &Linearization{}, nil
	}
	return s.opts.Linearization, nil
}

// Integrator is a fixed-step integrator that clips the last step to tEnd
type Integrator struct {
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

func (it *Integrator) T() float64      { return it.t }
func (it *Integrator) TEnd() float64   { return it.tEnd }
func (it *Integrator) Dt() float64     { return it.dt }
func (it *Integrator) X() []float64    { return it.x }
func (it *Integrator) V() []complex128 { return it.v }

func (it *Integrator) Step() error {
	o := it.sys.opts
	next := it.k + 1
	if o.PanicAt > 0 && next == o.PanicAt {
		panic("enginetest: scripted panic")
	}
	if o.StepErr != nil && next == o.StepErrAt {
		return o.StepErr
	}
	if o.StallAt > 0 && next >= o.StallAt {
		return nil
	}
	if it.t >= it.tEnd {
		return nil
	}
	t := math.Min(it.t0+float64(next)*it.dt, it.tEnd)
	dx := it.f(it.t, it.x, it.v)
	for i := range it.x {
		it.x[i] += (t - it.t) * dx[i]
	}
	it.k = next
	it.t = t
	return nil
}

type loadGroup struct{ s *System }

func (g loadGroup) Len() int { return len(g.s.loads) }

func (g loadGroup) Setpoints(index int) (float64, float64, error) {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	if index < 0 || index >= len(g.s.loads) {
		return 0, 0, engine.ErrIndexOutOfRange
	}
	return g.s.loads[index].G, g.s.loads[index].B, nil
}

func (g loadGroup) SetSetpoints(index int, gs, bs float64) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	if index < 0 || index >= len(g.s.loads) {
		return engine.ErrIndexOutOfRange
	}
	if g.s.opts.SetLoadErr != nil && g.s.sets >= g.s.opts.SetLoadOKs {
		return g.s.opts.SetLoadErr
	}
	g.s.sets++
	g.s.loads[index] = Load{G: gs, B: bs}
	g.s.record("set_load", fmt.Sprint(index), gs)
	return nil
}

func (g loadGroup) Current(x []float64, v []complex128) []complex128 {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	out := make([]complex128, len(g.s.loads))
	for i, l := range g.s.loads {
		out[i] = complex(l.G, -l.B)
	}
	return out
}

func (g loadGroup) ActivePower(x []float64, v []complex128) []float64 {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	out := make([]float64, len(g.s.loads))
	for i, l := range g.s.loads {
		out[i] = l.G
	}
	return out
}

func (g loadGroup) ReactivePower(x []float64, v []complex128) []float64 {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	out := make([]float64, len(g.s.loads))
	for i, l := range g.s.loads {
		out[i] = l.B
	}
	return out
}

type genGroup struct{ s *System }

func (g genGroup) Len() int { return g.s.opts.Generators }

func (g genGroup) StateBlock(index int) (int, int, error) {
	if index < 0 || index >= g.Len() {
		return 0, 0, engine.ErrIndexOutOfRange
	}
	n := g.s.opts.StatesPerGen
	return index * n, n, nil
}

func (g genGroup) MechanicalPower(index int) (float64, error) {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	if index < 0 || index >= len(g.s.pm) {
		return 0, engine.ErrIndexOutOfRange
	}
	return g.s.pm[index], nil
}

func (g genGroup) SetMechanicalPower(index int, p float64) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	if index < 0 || index >= len(g.s.pm) {
		return engine.ErrIndexOutOfRange
	}
	g.s.pm[index] = p
	return nil
}

func (g genGroup) Speed(x []float64, v []complex128) []float64 {
	out := make([]float64, g.Len())
	for i := range out {
		if idx := i*g.s.opts.StatesPerGen + 1; idx < len(x) {
			out[i] = x[idx]
		}
	}
	return out
}

func (g genGroup) Current(x []float64, v []complex128) []complex128 {
	return make([]complex128, g.Len())
}

type lineGroup struct{ s *System }

func (g lineGroup) Len() int        { return len(g.s.opts.Lines) }
func (g lineGroup) Names() []string { return append([]string(nil), g.s.opts.Lines...) }

func (g lineGroup) known(name string) bool {
	for _, n := range g.s.opts.Lines {
		if n == name {
			return true
		}
	}
	return false
}

func (g lineGroup) Disconnect(name string) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	g.s.record("disconnect", name, 0)
	if err := g.s.opts.DisconnectErr[name]; err != nil {
		return err
	}
	if !g.known(name) {
		return fmt.Errorf("%s: %w", name, engine.ErrLineNotFound)
	}
	g.s.down[name] = true
	return nil
}

func (g lineGroup) Reconnect(name string) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	g.s.record("reconnect", name, 0)
	if err := g.s.opts.ReconnectErr[name]; err != nil {
		return err
	}
	if !g.known(name) {
		return fmt.Errorf("%s: %w", name, engine.ErrLineNotFound)
	}
	g.s.down[name] = false
	return nil
}

func (g lineGroup) Flows(x []float64, v []complex128) []engine.LineFlow {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	out := make([]engine.LineFlow, len(g.s.opts.Lines))
	for i, name := range g.s.opts.Lines {
		if g.s.down[name] {
			continue
		}
		p := float64(i + 1)
		if name == g.s.opts.NaNFlowLine {
			p = math.NaN()
		}
		out[i] = engine.LineFlow{PFrom: p, QFrom: p / 10, PTo: -p, QTo: -p / 10}
	}
	return out
}

type trafoGroup struct{ s *System }

func (g trafoGroup) Len() int { return len(g.s.ratio) }

func (g trafoGroup) RatioFrom(index int) (float64, error) {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	if index < 0 || index >= len(g.s.ratio) {
		return 0, engine.ErrIndexOutOfRange
	}
	return g.s.ratio[index], nil
}

func (g trafoGroup) SetRatioFrom(index int, ratio float64) error {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	if index < 0 || index >= len(g.s.ratio) {
		return engine.ErrIndexOutOfRange
	}
	g.s.ratio[index] = ratio
	g.s.record("set_ratio", fmt.Sprint(index), ratio)
	return nil
}

func (g trafoGroup) CurrentFrom(x []float64, v []complex128) []complex128 {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	out := make([]complex128, len(g.s.ratio))
	for i, r := range g.s.ratio {
		out[i] = complex(r, 0)
	}
	return out
}

func (g trafoGroup) CurrentTo(x []float64, v []complex128) []complex128 {
	from := g.CurrentFrom(x, v)
	for i := range from {
		from[i] = -from[i]
	}
	return from
}

// Linearization is a scripted engine.Linearization
type Linearization struct {
	Eig       []complex128
	Vectors   [][]complex128
	Modes     []int
	LinErr    error
	DecompErr error
	ModesErr  error

	mu         sync.Mutex
	thresholds []float64
}

func (l *Linearization) Linearize() error                  { return l.LinErr }
func (l *Linearization) EigenvalueDecomposition() error    { return l.DecompErr }
func (l *Linearization) Eigenvalues() []complex128         { return l.Eig }
func (l *Linearization) RightEigenvectors() [][]complex128 { return l.Vectors }

func (l *Linearization) ModeIndices(categories []string, threshold float64) ([]int, error) {
	l.mu.Lock()
	l.thresholds = append(l.thresholds, threshold)
	l.mu.Unlock()
	return l.Modes, l.ModesErr
}

// Thresholds returns the damping thresholds ModeIndices was called with
func (l *Linearization) Thresholds() []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]float64(nil), l.thresholds...)
}
