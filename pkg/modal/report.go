package modal

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
)

// ErrNonFinite is returned when the engine hands back NaN or infinite values
var ErrNonFinite = errors.New("non-finite value")

func checkFinite(what string, vals []complex128) error {
	for i, z := range vals {
		if cmplx.IsNaN(z) || cmplx.IsInf(z) {
			return fmt.Errorf("%s %d is %v: %w", what, i, z, ErrNonFinite)
		}
	}
	return nil
}

// ModeShapes holds normalized speed-state participation, indexed
// [generator][selected mode]. Angles are in degrees.
type ModeShapes struct {
	Magnitude [][]float64 `json:"magnitude"`
	Angle     [][]float64 `json:"angle"`
}

// EigenReport summarizes the small-signal modes at the final operating point
type EigenReport struct {
	Real                   []float64   `json:"real"`
	Imag                   []float64   `json:"imag"`
	Frequency              []float64   `json:"frequency"`
	Damping                []float64   `json:"damping"`
	ElectromechanicalModes []int       `json:"electromechanical_modes"`
	ModeShapes             *ModeShapes `json:"mode_shapes,omitempty"`
}

// Empty returns the report used when the analysis fails
func Empty() *EigenReport {
	return &EigenReport{
		Real:                   []float64{},
		Imag:                   []float64{},
		Frequency:              []float64{},
		Damping:                []float64{},
		ElectromechanicalModes: []int{},
	}
}

// IsEmpty reports whether no eigenvalues were found
func (r *EigenReport) IsEmpty() bool {
	return r == nil || len(r.Real) == 0
}

// Frequency returns |Im λ| / 2π in Hz
func Frequency(l complex128) float64 {
	return math.Abs(imag(l)) / (2 * math.Pi)
}

// Damping returns the damping ratio of λ in percent. A zero eigenvalue
// reports zero.
func Damping(l complex128) float64 {
	m := cmplx.Abs(l)
	if m == 0 {
		return 0
	}
	return -100 * real(l) / m
}

// NewReport fills the per-eigenvalue columns
func NewReport(eigs []complex128, modes []int) *EigenReport {
	r := Empty()
	for _, l := range eigs {
		r.Real = append(r.Real, real(l))
		r.Imag = append(r.Imag, imag(l))
		r.Frequency = append(r.Frequency, Frequency(l))
		r.Damping = append(r.Damping, Damping(l))
	}
	r.ElectromechanicalModes = append(r.ElectromechanicalModes, modes...)
	return r
}

// Normalize rotates and scales every column of shape in place so that its
// largest entry becomes 1∠0°. Columns that are all zero are left alone.
func Normalize(shape [][]complex128) {
	if len(shape) == 0 {
		return
	}
	for col := range shape[0] {
		var peak complex128
		for row := range shape {
			if cmplx.Abs(shape[row][col]) > cmplx.Abs(peak) {
				peak = shape[row][col]
			}
		}
		m := cmplx.Abs(peak)
		if m == 0 {
			continue
		}
		rot := cmplx.Exp(complex(0, -cmplx.Phase(peak))) / complex(m, 0)
		for row := range shape {
			shape[row][col] *= rot
		}
	}
}

// Polar converts a shape matrix to magnitude and angle in degrees
func Polar(shape [][]complex128) *ModeShapes {
	out := &ModeShapes{
		Magnitude: make([][]float64, len(shape)),
		Angle:     make([][]float64, len(shape)),
	}
	for i, row := range shape {
		out.Magnitude[i] = make([]float64, len(row))
		out.Angle[i] = make([]float64, len(row))
		for j, z := range row {
			out.Magnitude[i][j] = cmplx.Abs(z)
			out.Angle[i][j] = cmplx.Phase(z) * 180 / math.Pi
		}
	}
	return out
}
