package noise

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/dd0wney/cluso-gridsim/pkg/engine"
	"github.com/dd0wney/cluso-gridsim/pkg/engine/enginetest"
	"github.com/dd0wney/cluso-gridsim/pkg/logging"
	"github.com/dd0wney/cluso-gridsim/pkg/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded() *rand.Rand { return rand.New(rand.NewPCG(7, 11)) }

func loadsOnly(mag, tau float64) *params.NoiseParams {
	return &params.NoiseParams{Loads: params.NoiseGroup{Enabled: true, Magnitude: mag, FilterTime: tau}}
}

func TestNewDisabled(t *testing.T) {
	sys := enginetest.New(enginetest.Options{})
	assert.Nil(t, New(nil, sys, nil, nil))
	assert.Nil(t, New(&params.NoiseParams{}, sys, nil, nil))

	var p *Process
	assert.NoError(t, p.Apply(1))
	assert.Nil(t, p.Failures())

	called := 0
	f := p.Wrap(func(t float64, x []float64, v []complex128) []float64 {
		called++
		return x
	})
	f(0, nil, nil)
	assert.Equal(t, 1, called)
	assert.Empty(t, sys.CallsOf("set_load"))
}

func TestFirstUpdateFollowsFilter(t *testing.T) {
	sys := enginetest.New(enginetest.Options{})
	p := New(loadsOnly(0.05, 0.5), sys, seeded(), nil)
	require.NotNil(t, p)

	require.NoError(t, p.Apply(0.1))

	ref := seeded()
	xg, xb := ref.NormFloat64(), ref.NormFloat64()
	scale := math.Sqrt(2 * 0.1 / 0.5)

	g, b, err := sys.Loads().Setpoints(0)
	require.NoError(t, err)
	assert.InDelta(t, 0.5+0.05*scale*xg, g, 1e-12)
	assert.InDelta(t, 0.1+0.05*scale*xb, b, 1e-12)
}

func TestSecondUpdateDecays(t *testing.T) {
	sys := enginetest.New(enginetest.Options{})
	p := New(loadsOnly(0.05, 0.5), sys, seeded(), nil)
	require.NoError(t, p.Apply(0.1))
	require.NoError(t, p.Apply(0.3))

	ref := seeded()
	xg1, _ := ref.NormFloat64(), ref.NormFloat64()
	xg2 := ref.NormFloat64()
	s1 := math.Sqrt(2*0.1/0.5) * xg1
	s2 := math.Exp(-0.2/0.5)*s1 + math.Sqrt(2*0.2/0.5)*xg2

	g, _, err := sys.Loads().Setpoints(0)
	require.NoError(t, err)
	assert.InDelta(t, 0.5+0.05*s2, g, 1e-9)
}

func TestRepeatedTimeKeepsState(t *testing.T) {
	sys := enginetest.New(enginetest.Options{})
	p := New(loadsOnly(0.05, 0.5), sys, seeded(), nil)
	require.NoError(t, p.Apply(0.1))
	g1, b1, _ := sys.Loads().Setpoints(0)

	require.NoError(t, p.Apply(0.1))
	g2, b2, _ := sys.Loads().Setpoints(0)
	assert.Equal(t, g1, g2)
	assert.Equal(t, b1, b2)
}

func TestSameSeedSameTrajectory(t *testing.T) {
	run := func() []float64 {
		sys := enginetest.New(enginetest.Options{})
		p := New(&params.NoiseParams{
			Loads:      params.NoiseGroup{Enabled: true, Magnitude: 0.1, FilterTime: 0.2},
			Generators: params.NoiseGroup{Enabled: true, Magnitude: 0.02, FilterTime: 1},
		}, sys, seeded(), nil)
		var out []float64
		for k := 0; k <= 20; k++ {
			require.NoError(t, p.Apply(float64(k)*0.05))
			g, b, _ := sys.Loads().Setpoints(0)
			pm, _ := sys.Generators().MechanicalPower(1)
			out = append(out, g, b, pm)
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestBaseAdoptsExternalWrite(t *testing.T) {
	sys := enginetest.New(enginetest.Options{})
	p := New(loadsOnly(0.001, 0.5), sys, seeded(), nil)
	require.NoError(t, p.Apply(0.1))

	// a load step lands between two noise updates
	require.NoError(t, sys.Loads().SetSetpoints(0, 0.9, 0.1))
	require.NoError(t, p.Apply(0.2))

	g, b, err := sys.Loads().Setpoints(0)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, g, 0.01)
	assert.InDelta(t, 0.1, b, 0.01)
}

func TestZeroMagnitudeLeavesSetpoints(t *testing.T) {
	sys := enginetest.New(enginetest.Options{})
	p := New(loadsOnly(0, 0.5), sys, seeded(), nil)
	for k := 1; k <= 5; k++ {
		require.NoError(t, p.Apply(float64(k)*0.1))
	}
	g, b, _ := sys.Loads().Setpoints(0)
	assert.Equal(t, 0.5, g)
	assert.Equal(t, 0.1, b)
}

func TestWhiteNoiseWithoutFilter(t *testing.T) {
	sys := enginetest.New(enginetest.Options{})
	p := New(&params.NoiseParams{Generators: params.NoiseGroup{Enabled: true, Magnitude: 0.1}}, sys, seeded(), nil)
	require.NoError(t, p.Apply(0.5))

	ref := seeded()
	x0 := ref.NormFloat64()
	pm, err := sys.Generators().MechanicalPower(0)
	require.NoError(t, err)
	assert.InDelta(t, 1+0.1*x0, pm, 1e-12)
}

type brokenLoads struct{ engine.LoadGroup }

func (brokenLoads) Setpoints(int) (float64, float64, error) {
	return 0, 0, errors.New("load model offline")
}

type brokenSystem struct{ *enginetest.System }

func (s brokenSystem) Loads() engine.LoadGroup { return brokenLoads{s.System.Loads()} }

func TestGroupFailureIsIsolated(t *testing.T) {
	fake := enginetest.New(enginetest.Options{})
	rec := logging.NewRecorder()
	p := New(&params.NoiseParams{
		Loads:      params.NoiseGroup{Enabled: true, Magnitude: 0.1, FilterTime: 0.5},
		Generators: params.NoiseGroup{Enabled: true, Magnitude: 0.1, FilterTime: 0.5},
	}, brokenSystem{fake}, seeded(), rec)

	for k := 1; k <= 3; k++ {
		err := p.Apply(float64(k) * 0.1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "loads noise")
	}

	pm, _ := fake.Generators().MechanicalPower(0)
	assert.NotEqual(t, 1.0, pm)
	assert.Equal(t, map[string]int{"loads": 3}, p.Failures())
	assert.Equal(t, 1, rec.Count(logging.ErrorLevel, "noise injection failed"))
}

func TestWrapAppliesBeforeEvaluation(t *testing.T) {
	sys := enginetest.New(enginetest.Options{})
	p := New(loadsOnly(0.05, 0.5), sys, seeded(), nil)

	var seen float64
	f := p.Wrap(func(t float64, x []float64, v []complex128) []float64 {
		seen, _, _ = sys.Loads().Setpoints(0)
		return x
	})
	f(0.1, []float64{0}, nil)
	assert.NotEqual(t, 0.5, seen)
	assert.Len(t, sys.CallsOf("set_load"), 1)
}
