package reference

import (
	"errors"
	"math/cmplx"
)

var errSingular = errors.New("reference: singular admittance matrix")

// solve returns x with a·x = b using Gaussian elimination with partial
// pivoting. a and b are not modified.
func solve(a [][]complex128, b []complex128) ([]complex128, error) {
	n := len(b)
	m := make([][]complex128, n)
	for i := range a {
		m[i] = make([]complex128, n+1)
		copy(m[i], a[i])
		m[i][n] = b[i]
	}

	for col := 0; col < n; col++ {
		pivot := col
		best := cmplx.Abs(m[col][col])
		for r := col + 1; r < n; r++ {
			if v := cmplx.Abs(m[r][col]); v > best {
				pivot, best = r, v
			}
		}
		if best < 1e-14 {
			return nil, errSingular
		}
		m[col], m[pivot] = m[pivot], m[col]

		for r := col + 1; r < n; r++ {
			f := m[r][col] / m[col][col]
			if f == 0 {
				continue
			}
			for c := col; c <= n; c++ {
				m[r][c] -= f * m[col][c]
			}
		}
	}

	x := make([]complex128, n)
	for i := n - 1; i >= 0; i-- {
		s := m[i][n]
		for j := i + 1; j < n; j++ {
			s -= m[i][j] * x[j]
		}
		x[i] = s / m[i][i]
	}
	return x, nil
}

func matVec(a [][]complex128, v []complex128) []complex128 {
	out := make([]complex128, len(a))
	for i, row := range a {
		var s complex128
		for j, y := range row {
			s += y * v[j]
		}
		out[i] = s
	}
	return out
}

func newMatrix(n int) [][]complex128 {
	m := make([][]complex128, n)
	for i := range m {
		m[i] = make([]complex128, n)
	}
	return m
}
