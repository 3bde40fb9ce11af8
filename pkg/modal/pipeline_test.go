package modal

import (
	"encoding/json"
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"github.com/dd0wney/cluso-gridsim/pkg/engine/enginetest"
	"github.com/dd0wney/cluso-gridsim/pkg/logging"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoMachine is a scripted linearization of two machines with two states each
func twoMachine() *enginetest.Linearization {
	return &enginetest.Linearization{
		Eig: []complex128{complex(-0.5, 6), complex(-0.5, -6), 0, complex(-1, 0)},
		Vectors: [][]complex128{
			{1, 1, 1, 0},
			{complex(0, 2), complex(0, -2), 0, 1},
			{-1, -1, 1, 0},
			{complex(0, -1), complex(0, 1), 0, 1},
		},
		Modes: []int{0, 1},
	}
}

func TestAnalyzeBuildsReport(t *testing.T) {
	lin := twoMachine()
	sys := enginetest.New(enginetest.Options{Linearization: lin})
	rec := logging.NewRecorder()

	r := New(DefaultConfig(), rec).Analyze(sys)

	require.Len(t, r.Real, 4)
	assert.Equal(t, []float64{-0.5, -0.5, 0, -1}, r.Real)
	assert.Equal(t, []float64{6, -6, 0, 0}, r.Imag)
	assert.InDelta(t, 6/(2*math.Pi), r.Frequency[0], 1e-12)
	assert.InDelta(t, r.Frequency[0], r.Frequency[1], 1e-12)
	assert.InDelta(t, 100*0.5/math.Hypot(0.5, 6), r.Damping[0], 1e-12)
	assert.Equal(t, 0.0, r.Damping[2])
	assert.Equal(t, 100.0, r.Damping[3])
	assert.Equal(t, []int{0, 1}, r.ElectromechanicalModes)
	assert.Equal(t, []float64{0.3}, lin.Thresholds())

	require.NotNil(t, r.ModeShapes)
	// speed rows are states 1 and 3; generator 0 dominates both modes
	assert.InDeltaSlice(t, []float64{1, 1}, r.ModeShapes.Magnitude[0], 1e-12)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, r.ModeShapes.Magnitude[1], 1e-12)
	assert.InDeltaSlice(t, []float64{0, 0}, r.ModeShapes.Angle[0], 1e-9)
	assert.InDelta(t, 180, math.Abs(r.ModeShapes.Angle[1][0]), 1e-9)

	assert.Equal(t, 4, rec.Count(logging.DebugLevel, "mode"))
	assert.Equal(t, 1, rec.Count(logging.InfoLevel, "modal analysis finished"))
}

func TestAnalyzeUsesConfiguredThreshold(t *testing.T) {
	lin := twoMachine()
	sys := enginetest.New(enginetest.Options{Linearization: lin})
	New(Config{DampingThreshold: 0.05, SpeedState: 1}, nil).Analyze(sys)
	assert.Equal(t, []float64{0.05}, lin.Thresholds())
}

func TestFailedDecompositionGivesEmptyReport(t *testing.T) {
	for name, lin := range map[string]*enginetest.Linearization{
		"linearize": {LinErr: errors.New("singular jacobian")},
		"decompose": {DecompErr: errors.New("no convergence")},
		"modes":     {ModesErr: errors.New("bad category")},
	} {
		t.Run(name, func(t *testing.T) {
			sys := enginetest.New(enginetest.Options{Linearization: lin})
			rec := logging.NewRecorder()
			r := New(DefaultConfig(), rec).Analyze(sys)

			assert.True(t, r.IsEmpty())
			data, err := json.Marshal(r)
			require.NoError(t, err)
			assert.JSONEq(t, `{"real":[],"imag":[],"frequency":[],"damping":[],"electromechanical_modes":[]}`, string(data))
			assert.Equal(t, 1, rec.Count(logging.ErrorLevel, "modal analysis finished"))
		})
	}

	sys := enginetest.New(enginetest.Options{LinearizeErr: errors.New("not initialized")})
	assert.True(t, New(DefaultConfig(), nil).Analyze(sys).IsEmpty())
}

func TestShapeFailureKeepsEigenvalues(t *testing.T) {
	lin := twoMachine()
	lin.Vectors = lin.Vectors[:2]
	sys := enginetest.New(enginetest.Options{Linearization: lin})
	rec := logging.NewRecorder()

	r := New(DefaultConfig(), rec).Analyze(sys)
	assert.Len(t, r.Real, 4)
	assert.Nil(t, r.ModeShapes)
	assert.Equal(t, 1, rec.Count(logging.WarnLevel, "mode shapes unavailable"))

	r = New(Config{DampingThreshold: 0.3, SpeedState: 5}, nil).Analyze(sys)
	assert.Nil(t, r.ModeShapes)
}

func TestNonFiniteEigenvaluesGiveEmptyReport(t *testing.T) {
	lin := twoMachine()
	lin.Eig[2] = complex(math.NaN(), 0)
	sys := enginetest.New(enginetest.Options{Linearization: lin})
	rec := logging.NewRecorder()

	r := New(DefaultConfig(), rec).Analyze(sys)
	assert.True(t, r.IsEmpty())
	assert.Equal(t, 1, rec.Count(logging.ErrorLevel, "modal analysis finished"))

	_, err := json.Marshal(r)
	require.NoError(t, err)
}

func TestNonFiniteShapesAreDropped(t *testing.T) {
	lin := twoMachine()
	lin.Vectors[3][1] = cmplx.Inf()
	sys := enginetest.New(enginetest.Options{Linearization: lin})
	rec := logging.NewRecorder()

	r := New(DefaultConfig(), rec).Analyze(sys)
	assert.Len(t, r.Real, 4)
	assert.Nil(t, r.ModeShapes)
	assert.Equal(t, 1, rec.Count(logging.WarnLevel, "mode shapes unavailable"))

	_, err := json.Marshal(r)
	require.NoError(t, err)
}

func TestNormalizeLeavesZeroColumns(t *testing.T) {
	shape := [][]complex128{{0, complex(0, 2)}, {0, 1}}
	Normalize(shape)
	assert.Equal(t, complex128(0), shape[0][0])
	assert.Equal(t, complex128(0), shape[1][0])
	assert.InDelta(t, 1, real(shape[0][1]), 1e-12)
	assert.InDelta(t, 0, imag(shape[0][1]), 1e-12)
	assert.InDelta(t, 0, real(shape[1][1]), 1e-12)
	assert.InDelta(t, -0.5, imag(shape[1][1]), 1e-12)
	Normalize(nil)
}

func TestNormalizeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	entry := gen.Float64Range(-10, 10)
	properties.Property("peak becomes 1 at 0 degrees and ratios survive", prop.ForAll(
		func(re, im []float64) bool {
			n := len(re)
			if len(im) < n {
				n = len(im)
			}
			if n == 0 {
				return true
			}
			shape := make([][]complex128, n)
			orig := make([]complex128, n)
			for i := 0; i < n; i++ {
				orig[i] = complex(re[i], im[i])
				shape[i] = []complex128{orig[i]}
			}
			Normalize(shape)

			peak, peakAt := 0.0, 0
			for i := range orig {
				if a := cmplx.Abs(orig[i]); a > peak {
					peak, peakAt = a, i
				}
			}
			if peak == 0 {
				return true
			}
			if math.Abs(real(shape[peakAt][0])-1) > 1e-9 || math.Abs(imag(shape[peakAt][0])) > 1e-9 {
				return false
			}
			for i := range orig {
				if math.Abs(cmplx.Abs(shape[i][0])-cmplx.Abs(orig[i])/peak) > 1e-9 {
					return false
				}
				if cmplx.Abs(shape[i][0]) > 1+1e-9 {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(6, entry),
		gen.SliceOfN(6, entry),
	))

	properties.TestingRun(t)
}
