// Package modal runs the post-simulation small-signal analysis.
package modal

import (
	"fmt"

	"github.com/dd0wney/cluso-gridsim/pkg/engine"
	"github.com/dd0wney/cluso-gridsim/pkg/logging"
)

const (
	DefaultDampingThreshold = 0.3
	DefaultSpeedState       = 1
)

// Config tunes mode selection
type Config struct {
	// DampingThreshold is passed to the engine's mode classifier
	DampingThreshold float64
	// SpeedState is the offset of the rotor speed within each generator's
	// state block
	SpeedState int
}

func (c Config) withDefaults() Config {
	if c.DampingThreshold <= 0 {
		c.DampingThreshold = DefaultDampingThreshold
	}
	if c.SpeedState < 0 {
		c.SpeedState = DefaultSpeedState
	}
	return c
}

// DefaultConfig returns the standard selection settings
func DefaultConfig() Config {
	return Config{DampingThreshold: DefaultDampingThreshold, SpeedState: DefaultSpeedState}
}

// Pipeline linearizes a system and builds an EigenReport
type Pipeline struct {
	cfg    Config
	logger logging.Logger
}

func New(cfg Config, logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Pipeline{cfg: cfg.withDefaults(), logger: logger.With(logging.Component("modal"))}
}

// Analyze never fails: a broken linearization yields Empty, and a failure
// while extracting mode shapes only drops the shapes.
func (p *Pipeline) Analyze(sys engine.System) *EigenReport {
	timer := logging.StartTimer(p.logger, "modal analysis finished")

	lin, err := sys.Linearize()
	if err == nil {
		err = lin.Linearize()
	}
	if err == nil {
		err = lin.EigenvalueDecomposition()
	}
	var (
		modes []int
		eigs  []complex128
	)
	if err == nil {
		modes, err = lin.ModeIndices([]string{engine.ModeElectromechanical}, p.cfg.DampingThreshold)
	}
	if err == nil {
		eigs = lin.Eigenvalues()
		err = checkFinite("eigenvalue", eigs)
	}
	if err != nil {
		timer.EndError(err)
		return Empty()
	}

	report := NewReport(eigs, modes)

	shape, err := p.speedShapes(sys, lin.RightEigenvectors(), modes)
	if err == nil {
		for i, row := range shape {
			if err = checkFinite(fmt.Sprintf("generator %d shape", i), row); err != nil {
				break
			}
		}
	}
	if err != nil {
		p.logger.Warn("mode shapes unavailable", logging.Error(err))
	} else if shape != nil {
		Normalize(shape)
		report.ModeShapes = Polar(shape)
	}

	p.logSummary(eigs, modes)
	timer.End(logging.Count(len(eigs)), logging.Int("em_modes", len(modes)))
	return report
}

// speedShapes extracts the rows of the right eigenvectors belonging to the
// generator speed states, restricted to the selected modes
func (p *Pipeline) speedShapes(sys engine.System, rev [][]complex128, modes []int) ([][]complex128, error) {
	gens := sys.Generators()
	if gens.Len() == 0 {
		return nil, nil
	}
	rows := make([]int, gens.Len())
	for i := range rows {
		start, size, err := gens.StateBlock(i)
		if err != nil {
			return nil, fmt.Errorf("generator %d: %w", i, err)
		}
		if p.cfg.SpeedState >= size {
			return nil, fmt.Errorf("generator %d has %d states, speed offset %d: %w", i, size, p.cfg.SpeedState, engine.ErrIndexOutOfRange)
		}
		rows[i] = start + p.cfg.SpeedState
	}

	shape := make([][]complex128, len(rows))
	for i, r := range rows {
		if r >= len(rev) {
			return nil, fmt.Errorf("state %d outside eigenvector matrix: %w", r, engine.ErrIndexOutOfRange)
		}
		shape[i] = make([]complex128, len(modes))
		for j, m := range modes {
			if m < 0 || m >= len(rev[r]) {
				return nil, fmt.Errorf("mode %d outside eigenvector matrix: %w", m, engine.ErrIndexOutOfRange)
			}
			shape[i][j] = rev[r][m]
		}
	}
	return shape, nil
}

func (p *Pipeline) logSummary(eigs []complex128, modes []int) {
	em := make(map[int]bool, len(modes))
	for _, m := range modes {
		em[m] = true
	}
	for i, l := range eigs {
		p.logger.Debug("mode",
			logging.Int("mode", i+1),
			logging.Float64("real", real(l)),
			logging.Float64("imag", imag(l)),
			logging.Float64("frequency_hz", Frequency(l)),
			logging.Float64("damping_pct", Damping(l)),
			logging.Bool("electromechanical", em[i]),
		)
	}
}
