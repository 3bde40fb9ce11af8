// Package sim runs simulations: the per-run driver state machine, the
// single-run gate and the service the API talks to.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"github.com/dd0wney/cluso-gridsim/pkg/aggregate"
	"github.com/dd0wney/cluso-gridsim/pkg/collector"
	"github.com/dd0wney/cluso-gridsim/pkg/engine"
	"github.com/dd0wney/cluso-gridsim/pkg/logging"
	"github.com/dd0wney/cluso-gridsim/pkg/metrics"
	"github.com/dd0wney/cluso-gridsim/pkg/modal"
	"github.com/dd0wney/cluso-gridsim/pkg/noise"
	"github.com/dd0wney/cluso-gridsim/pkg/params"
	"github.com/dd0wney/cluso-gridsim/pkg/publish"
	"github.com/dd0wney/cluso-gridsim/pkg/scheduler"
	"github.com/dd0wney/cluso-gridsim/pkg/stream"
)

const (
	DefaultMaxStep           = 5e-3
	DefaultResidualTolerance = 1e-6
)

// DriverConfig tunes the numerical side of a run
type DriverConfig struct {
	MaxStep           float64
	ResidualTolerance float64
	Modal             modal.Config
	// NoiseSeed makes noise reproducible; zero draws a random seed per run
	NoiseSeed uint64
}

// DefaultDriverConfig returns the standard settings
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		MaxStep:           DefaultMaxStep,
		ResidualTolerance: DefaultResidualTolerance,
		Modal:             modal.DefaultConfig(),
	}
}

// Driver executes runs against an engine
type Driver struct {
	catalog   engine.Catalog
	factory   engine.Factory
	channel   *stream.Channel
	publisher publish.Publisher
	metrics   *metrics.Registry
	logger    logging.Logger
	cfg       DriverConfig
}

// DriverOption configures a Driver
type DriverOption func(*Driver)

func WithPublisher(p publish.Publisher) DriverOption {
	return func(d *Driver) { d.publisher = p }
}

func WithMetrics(m *metrics.Registry) DriverOption {
	return func(d *Driver) { d.metrics = m }
}

func WithLogger(l logging.Logger) DriverOption {
	return func(d *Driver) { d.logger = l }
}

func NewDriver(catalog engine.Catalog, factory engine.Factory, channel *stream.Channel, cfg DriverConfig, opts ...DriverOption) *Driver {
	if cfg.MaxStep <= 0 {
		cfg.MaxStep = DefaultMaxStep
	}
	if cfg.ResidualTolerance <= 0 {
		cfg.ResidualTolerance = DefaultResidualTolerance
	}
	if cfg.Modal == (modal.Config{}) {
		cfg.Modal = modal.DefaultConfig()
	}
	d := &Driver{
		catalog: catalog,
		factory: factory,
		channel: channel,
		logger:  logging.NewNopLogger(),
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run is one simulation request
type Run struct {
	ID       string
	Params   *params.Parameters
	Started  time.Time
	Observer Observer
}

// runner holds the state of a single Run
type runner struct {
	d      *Driver
	run    Run
	logger logging.Logger
	state  State

	sys   engine.System
	sched *scheduler.Scheduler
	integ engine.Integrator
	steps int

	publishFailures int
}

// Run executes run to completion and publishes exactly one terminal
// message. The observer's Finish is called before that message goes out.
func (d *Driver) Run(ctx context.Context, run Run) (rs *aggregate.ResultSet, err error) {
	if run.Started.IsZero() {
		run.Started = time.Now()
	}
	r := &runner{
		d:   d,
		run: run,
		logger: d.logger.With(
			logging.Component("driver"),
			logging.RunID(run.ID),
			logging.Network(run.Params.Network),
		),
	}
	if d.metrics != nil {
		d.metrics.RunStarted()
	}

	defer func() {
		if p := recover(); p != nil {
			rs = nil
			err = fmt.Errorf("simulation panicked: %v", p)
			r.logger.Error("simulation panicked", logging.Any("panic", p), logging.String("stack", string(debug.Stack())))
		}
		r.finish(rs, err)
	}()

	return r.execute(ctx)
}

func (r *runner) transition(s State) {
	r.logger.Debug("state transition", logging.String("from", r.state.String()), logging.String("to", s.String()))
	r.state = s
	if r.run.Observer != nil {
		r.run.Observer.Transition(s)
	}
}

func (r *runner) emit(m stream.Message) {
	if err := r.d.channel.Publish(m); err != nil {
		r.logger.Warn("stream publish failed", logging.String("type", string(m.Type)), logging.Error(err))
	}
	if r.d.publisher == nil {
		return
	}
	err := r.d.publisher.Publish(m)
	if r.d.metrics != nil {
		r.d.metrics.RecordPublish(string(m.Type), err)
	}
	if err != nil {
		r.publishFailures++
		if r.publishFailures == 1 {
			r.logger.Warn("external publish failed", logging.String("type", string(m.Type)), logging.Error(err))
		}
	}
}

func (r *runner) finish(rs *aggregate.ResultSet, err error) {
	p := r.run.Params
	elapsed := time.Since(r.run.Started)

	status := metrics.StatusComplete
	if err != nil {
		r.transition(StateFailed)
		status = metrics.StatusFailed
		if Cancelled(err) {
			status = metrics.StatusCancelled
		}
		r.logger.Error("simulation failed", logging.Error(err), logging.Count(r.steps), logging.Latency(elapsed))
	} else {
		r.transition(StateComplete)
		r.logger.Info("simulation completed",
			logging.Count(r.steps),
			logging.Latency(elapsed),
			logging.Float64("t_end", p.TEnd),
		)
	}
	if r.d.metrics != nil {
		r.d.metrics.RunFinished(p.Network, status, elapsed)
		if rs != nil && rs.Eigenvalues != nil {
			r.d.metrics.ElectromechanicalModes.Set(float64(len(rs.Eigenvalues.ElectromechanicalModes)))
		}
	}
	if r.run.Observer != nil {
		r.run.Observer.Finish(rs, err)
	}

	if err != nil {
		r.emit(stream.Error(message(err)))
		return
	}
	r.emit(stream.Complete(rs))
}

func (r *runner) execute(ctx context.Context) (*aggregate.ResultSet, error) {
	if err := r.load(); err != nil {
		return nil, err
	}
	if err := r.initialize(); err != nil {
		return nil, err
	}
	agg, err := r.step(ctx)
	if err != nil {
		return nil, err
	}
	return r.finalize(agg), nil
}

func (r *runner) load() error {
	r.transition(StateLoading)
	name := r.run.Params.Network

	model, err := r.d.catalog.Load(name)
	if err != nil {
		var mle *engine.ModelLoadError
		if errors.As(err, &mle) {
			return err
		}
		return &engine.ModelLoadError{Network: name, Wrapped: err}
	}

	sys, err := r.d.factory.Build(engine.Adapt(model), r.run.Params.PLL)
	if err != nil {
		return &engine.ModelLoadError{Network: name, Wrapped: err}
	}
	r.sys = sys
	r.logger.Info("model loaded", logging.Int("buses", sys.NumBuses()))
	return nil
}

func (r *runner) initialize() error {
	r.transition(StateInitializing)

	if err := r.sys.PowerFlow(); err != nil {
		return &engine.ConvergenceError{Stage: "power flow", Wrapped: err}
	}
	if err := r.sys.InitDynamic(); err != nil {
		return &engine.ConvergenceError{Stage: "dynamic initialization", Wrapped: err}
	}

	x0, v0 := r.sys.InitialState()
	residual := maxAbs(r.sys.StateDerivatives(0, x0, v0))
	if !(residual <= r.d.cfg.ResidualTolerance) {
		r.logger.Warn("high residual in model initialization",
			logging.Float64("max_residual", residual),
			logging.Float64("tolerance", r.d.cfg.ResidualTolerance),
		)
		if r.d.metrics != nil {
			r.d.metrics.SimulationResidualWarnings.Inc()
		}
	}

	opts := []scheduler.Option{scheduler.WithLogger(r.logger)}
	if r.d.metrics != nil {
		opts = append(opts, scheduler.WithObserver(r.d.metrics))
	}
	r.sched = scheduler.New(r.run.Params, r.sys, opts...)

	nz := noise.New(r.run.Params.Noise, r.sys, r.rng(), r.logger)
	f := nz.Wrap(func(t float64, x []float64, v []complex128) []float64 {
		// a failed fault write is reported once by the step-level scheduler
		_ = r.sched.ApplyFault(t)
		return r.sys.StateDerivatives(t, x, v)
	})

	integ, err := r.sys.NewIntegrator(f, 0, x0, r.run.Params.TEnd, r.d.cfg.MaxStep)
	if err != nil {
		return &engine.ConvergenceError{Stage: "integrator setup", Wrapped: err}
	}
	r.integ = integ
	return nil
}

func (r *runner) rng() *rand.Rand {
	if r.d.cfg.NoiseSeed != 0 {
		return rand.New(rand.NewPCG(r.d.cfg.NoiseSeed, r.d.cfg.NoiseSeed^0x9e3779b97f4a7c15))
	}
	return nil
}

func (r *runner) step(ctx context.Context) (*aggregate.Aggregator, error) {
	r.transition(StateStepping)
	integ := r.integ
	r.emit(stream.Init(integ.TEnd(), integ.Dt()))

	coll := collector.New(r.sys)
	agg := aggregate.New(r.run.ID, r.run.Params.Network, r.run.Started, r.logger)

	for integ.T() <= integ.TEnd() {
		t := integ.T()
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("stopped at t=%g: %w", t, err)
		}

		r.sched.Apply(t)

		rec, err := coll.Collect(t, integ.X(), integ.V())
		if err != nil {
			return nil, &engine.ConvergenceError{Stage: "collect", Step: r.steps, Time: t, Wrapped: err}
		}
		r.emit(stream.Step(rec))
		agg.Append(rec)
		r.steps++
		if r.d.metrics != nil {
			r.d.metrics.RecordStep(t)
		}
		if r.run.Observer != nil {
			r.run.Observer.Progress(t)
		}

		if t >= integ.TEnd() {
			break
		}
		if err := integ.Step(); err != nil {
			var ce *engine.ConvergenceError
			if errors.As(err, &ce) {
				return nil, err
			}
			return nil, &engine.ConvergenceError{Stage: "step", Step: r.steps, Time: t, Wrapped: err}
		}
		if !(integ.T() > t) {
			return nil, &engine.ConvergenceError{
				Stage:   "step",
				Step:    r.steps,
				Time:    t,
				Wrapped: fmt.Errorf("integrator did not advance past t=%g: %w", t, engine.ErrNotConverged),
			}
		}
	}
	return agg, nil
}

func (r *runner) finalize(agg *aggregate.Aggregator) *aggregate.ResultSet {
	r.transition(StateFinalizing)
	return agg.Finalize(aggregate.Finalization{
		System:   r.sys,
		X:        r.integ.X(),
		V:        r.integ.V(),
		Pipeline: modal.New(r.d.cfg.Modal, r.logger),
		Events:   r.sched.Events(),
		Finished: time.Now(),
	})
}

func maxAbs(v []float64) float64 {
	var m float64
	for _, x := range v {
		if math.IsNaN(x) {
			return x
		}
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	return m
}
