package reference

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/dd0wney/cluso-gridsim/pkg/engine"
)

var errNotLinearized = errors.New("reference: model has not been linearized")

// linearization works on the swing equations only. The synchronizing
// matrix K = dPe/dδ is symmetrized with zero row sums, and the damping is
// taken as the mean d/m of all machines. The modes then follow in closed
// form from the eigenpairs of M^-1/2 K M^-1/2.
type linearization struct {
	sys *System
	x   []float64

	k      [][]float64
	eig    []complex128
	right  [][]complex128
	solved bool
}

func (l *linearization) Linearize() error {
	n := len(l.sys.net.gens)
	l.k = make([][]float64, n)
	for i := range l.k {
		l.k[i] = make([]float64, n)
	}

	pe := func(j int, shift float64) ([]float64, error) {
		v, err := l.sys.solveNetwork(func(i int) float64 {
			if i == j {
				return angle(l.x, i) + shift
			}
			return angle(l.x, i)
		})
		if err != nil {
			return nil, err
		}
		out := make([]float64, n)
		for i := range out {
			d := angle(l.x, i)
			if i == j {
				d += shift
			}
			out[i] = l.sys.electricalPower(i, d, v)
		}
		return out, nil
	}

	for j := 0; j < n; j++ {
		up, err := pe(j, perturbation)
		if err != nil {
			return fmt.Errorf("linearize: %w", err)
		}
		down, err := pe(j, -perturbation)
		if err != nil {
			return fmt.Errorf("linearize: %w", err)
		}
		for i := 0; i < n; i++ {
			l.k[i][j] = (up[i] - down[i]) / (2 * perturbation)
		}
	}
	l.solved = false
	return nil
}

func (l *linearization) EigenvalueDecomposition() error {
	if l.k == nil {
		return errNotLinearized
	}
	gens := l.sys.net.gens
	n := len(gens)
	ws := 2 * math.Pi * l.sys.net.freq

	scale := make([]float64, n)
	var damping float64
	for i, g := range gens {
		scale[i] = 1 / math.Sqrt(g.m)
		damping += g.d / g.m
	}
	damping /= float64(n)

	lap := make([][]float64, n)
	for i := range lap {
		lap[i] = make([]float64, n)
		for j := range lap[i] {
			if i != j {
				lap[i][j] = (l.k[i][j] + l.k[j][i]) / 2
				lap[i][i] -= lap[i][j]
			}
		}
	}
	sym := make([][]float64, n)
	for i := range sym {
		sym[i] = make([]float64, n)
		for j := range sym[i] {
			sym[i][j] = scale[i] * lap[i][j] * scale[j]
		}
	}
	mu, u, err := jacobiEigen(sym)
	if err != nil {
		return err
	}

	l.eig = make([]complex128, 0, 2*n)
	l.right = make([][]complex128, 2*n)
	for i := range l.right {
		l.right[i] = make([]complex128, 2*n)
	}
	for k := 0; k < n; k++ {
		root := cmplx.Sqrt(complex(damping*damping-4*ws*mu[k], 0))
		for _, lam := range []complex128{(complex(-damping, 0) + root) / 2, (complex(-damping, 0) - root) / 2} {
			col := len(l.eig)
			l.eig = append(l.eig, lam)
			for i := 0; i < n; i++ {
				phi := complex(scale[i]*u[i][k], 0)
				l.right[2*i][col] = phi * complex(ws, 0)
				l.right[2*i+1][col] = phi * lam
			}
		}
	}
	l.solved = true
	return nil
}

func (l *linearization) Eigenvalues() []complex128 {
	return append([]complex128(nil), l.eig...)
}

func (l *linearization) RightEigenvectors() [][]complex128 {
	out := make([][]complex128, len(l.right))
	for i, row := range l.right {
		out[i] = append([]complex128(nil), row...)
	}
	return out
}

// ModeIndices supports the electromechanical category only: oscillatory
// modes with positive frequency and damping ratio below the threshold.
func (l *linearization) ModeIndices(categories []string, dampingThreshold float64) ([]int, error) {
	if !l.solved {
		return nil, errNotLinearized
	}
	for _, c := range categories {
		if c != engine.ModeElectromechanical {
			return nil, fmt.Errorf("mode category %q: %w", c, engine.ErrUnsupported)
		}
	}
	var idx []int
	for i, lam := range l.eig {
		if imag(lam) <= 1e-9 {
			continue
		}
		if -real(lam)/cmplx.Abs(lam) < dampingThreshold {
			idx = append(idx, i)
		}
	}
	return idx, nil
}

// jacobiEigen diagonalizes a symmetric matrix. It returns the eigenvalues
// and the eigenvectors as columns of u.
func jacobiEigen(a [][]float64) ([]float64, [][]float64, error) {
	n := len(a)
	m := make([][]float64, n)
	u := make([][]float64, n)
	for i := range a {
		m[i] = append([]float64(nil), a[i]...)
		u[i] = make([]float64, n)
		u[i][i] = 1
	}

	for sweep := 0; sweep < 100; sweep++ {
		var off float64
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				off += m[i][j] * m[i][j]
			}
		}
		if off < 1e-22 {
			vals := make([]float64, n)
			for i := range vals {
				vals[i] = m[i][i]
			}
			return vals, u, nil
		}
		for p := 0; p < n; p++ {
			for q := p + 1; q < n; q++ {
				if math.Abs(m[p][q]) < 1e-300 {
					continue
				}
				theta := (m[q][q] - m[p][p]) / (2 * m[p][q])
				t := math.Copysign(1, theta) / (math.Abs(theta) + math.Sqrt(theta*theta+1))
				c := 1 / math.Sqrt(t*t+1)
				s := t * c
				for k := 0; k < n; k++ {
					mkp, mkq := m[k][p], m[k][q]
					m[k][p] = c*mkp - s*mkq
					m[k][q] = s*mkp + c*mkq
				}
				for k := 0; k < n; k++ {
					mpk, mqk := m[p][k], m[q][k]
					m[p][k] = c*mpk - s*mqk
					m[q][k] = s*mpk + c*mqk
				}
				for k := 0; k < n; k++ {
					ukp, ukq := u[k][p], u[k][q]
					u[k][p] = c*ukp - s*ukq
					u[k][q] = s*ukp + c*ukq
				}
			}
		}
	}
	return nil, nil, errors.New("reference: eigenvalue iteration did not converge")
}
