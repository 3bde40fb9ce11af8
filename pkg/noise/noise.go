// Package noise injects Ornstein-Uhlenbeck filtered noise into load and
// generator setpoints.
package noise

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/dd0wney/cluso-gridsim/pkg/engine"
	"github.com/dd0wney/cluso-gridsim/pkg/logging"
	"github.com/dd0wney/cluso-gridsim/pkg/params"
)

// channel is one noisy degree of freedom
type channel struct {
	state   float64
	base    float64
	written float64
	ready   bool
}

// step advances the filter by h and returns the new setpoint for the
// engine value current
func (c *channel) step(current, h, tau, magnitude float64, rng *rand.Rand) float64 {
	if !c.ready || current != c.written {
		c.base = current
	}
	if h > 0 {
		if tau > 0 {
			c.state = math.Exp(-h/tau)*c.state + math.Sqrt(2*h/tau)*rng.NormFloat64()
		} else {
			c.state = rng.NormFloat64()
		}
	}
	c.written = c.base + magnitude*c.state
	c.ready = true
	return c.written
}

// Process holds the noise state of one run
type Process struct {
	cfg    params.NoiseParams
	sys    engine.System
	rng    *rand.Rand
	logger logging.Logger

	lastT   float64
	started bool

	loadG []channel
	loadB []channel
	genP  []channel

	failures map[string]int
}

// New creates a noise process. It returns nil when cfg is nil or no group
// is enabled; a nil *Process is a valid no-op.
func New(cfg *params.NoiseParams, sys engine.System, rng *rand.Rand, logger logging.Logger) *Process {
	if cfg == nil || (!cfg.Loads.Enabled && !cfg.Generators.Enabled) {
		return nil
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	p := &Process{
		cfg:      *cfg,
		sys:      sys,
		rng:      rng,
		logger:   logger.With(logging.Component("noise")),
		failures: make(map[string]int),
	}
	if cfg.Loads.Enabled {
		n := sys.Loads().Len()
		p.loadG = make([]channel, n)
		p.loadB = make([]channel, n)
	}
	if cfg.Generators.Enabled {
		p.genP = make([]channel, sys.Generators().Len())
	}
	return p
}

// Apply advances the noise to time t and writes the perturbed setpoints.
// A failing group is logged and skipped; the other group still runs.
func (p *Process) Apply(t float64) error {
	if p == nil {
		return nil
	}
	h := t
	if p.started {
		h = t - p.lastT
	}
	if h < 0 {
		h = 0
	}
	p.lastT, p.started = t, true

	var errs []error
	if p.cfg.Loads.Enabled {
		if err := p.applyLoads(h); err != nil {
			errs = append(errs, p.fail("loads", t, err))
		}
	}
	if p.cfg.Generators.Enabled {
		if err := p.applyGenerators(h); err != nil {
			errs = append(errs, p.fail("generators", t, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Process) fail(group string, t float64, err error) error {
	p.failures[group]++
	if p.failures[group] == 1 {
		p.logger.Error("noise injection failed", logging.String("group", group), logging.SimTime(t), logging.Error(err))
	}
	return fmt.Errorf("%s noise: %w", group, err)
}

// Failures returns how many times each group failed
func (p *Process) Failures() map[string]int {
	if p == nil {
		return nil
	}
	out := make(map[string]int, len(p.failures))
	for k, v := range p.failures {
		out[k] = v
	}
	return out
}

func (p *Process) applyLoads(h float64) error {
	loads := p.sys.Loads()
	cfg := p.cfg.Loads
	for i := range p.loadG {
		g, b, err := loads.Setpoints(i)
		if err != nil {
			return err
		}
		g = p.loadG[i].step(g, h, cfg.FilterTime, cfg.Magnitude, p.rng)
		b = p.loadB[i].step(b, h, cfg.FilterTime, cfg.Magnitude, p.rng)
		if err := loads.SetSetpoints(i, g, b); err != nil {
			return err
		}
	}
	return nil
}

func (p *Process) applyGenerators(h float64) error {
	gens := p.sys.Generators()
	cfg := p.cfg.Generators
	for i := range p.genP {
		pm, err := gens.MechanicalPower(i)
		if err != nil {
			return err
		}
		pm = p.genP[i].step(pm, h, cfg.FilterTime, cfg.Magnitude, p.rng)
		if err := gens.SetMechanicalPower(i, pm); err != nil {
			return err
		}
	}
	return nil
}

// Wrap returns f with noise applied before every evaluation
func (p *Process) Wrap(f engine.DerivativeFunc) engine.DerivativeFunc {
	if p == nil {
		return f
	}
	return func(t float64, x []float64, v []complex128) []float64 {
		_ = p.Apply(t)
		return f(t, x, v)
	}
}
