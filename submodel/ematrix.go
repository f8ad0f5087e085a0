package submodel

import (
	"math"

	"github.com/gonum/matrix/mat64"
	"github.com/pkg/errors"
)

// minFreq is the smallest frequency used for symmetrization. States
// with zero frequency are unreachable, so flooring them only affects
// rows which are never weighted at the root.
const minFreq = 1e-10

// EMatrix stores a normalized Q-matrix and its eigendecomposition to
// quickly compute P=e^Qt.
type EMatrix struct {
	// Q is Q-matrix
	Q *mat64.Dense
	// Scale is the expected number of substitutions per unit time
	// before normalization.
	Scale float64
	// d are eigenvalues, left = Π^{-½}U and right = UᵀΠ^{½}, where
	// U are eigenvectors of the symmetric matrix Π^{½}QΠ^{-½}.
	d     []float64
	left  *mat64.Dense
	right *mat64.Dense
	ed    []float64
}

// NewEMatrix creates a new EMatrix from a rate matrix and normalizes
// it to one expected substitution per unit time given the equilibrium
// frequencies.
func NewEMatrix(Q *mat64.Dense, freqs []float64) (*EMatrix, error) {
	m := &EMatrix{}
	if err := m.Set(Q, freqs); err != nil {
		return nil, err
	}
	return m, nil
}

// Set sets Q-matrix, fills the diagonal, normalizes it and performs
// eigendecomposition. Q has to be reversible with respect to freqs.
func (m *EMatrix) Set(Q *mat64.Dense, freqs []float64) error {
	rows, cols := Q.Dims()
	if cols != rows {
		return errors.New("Q isn't a square matrix")
	}
	if len(freqs) != rows {
		return errors.Errorf("expected %d frequencies, got %d", rows, len(freqs))
	}
	scale := 0.0
	for i := 0; i < rows; i++ {
		rowSum := 0.0
		for j := 0; j < cols; j++ {
			if i != j {
				rowSum += Q.At(i, j)
			}
		}
		Q.Set(i, i, -rowSum)
		scale += freqs[i] * rowSum
	}
	if scale <= 0 {
		return errors.New("Q-matrix has no substitutions")
	}
	Q.Scale(1/scale, Q)
	m.Q = Q
	m.Scale = scale
	return m.eigen(freqs)
}

// eigen decomposes Π^{½}QΠ^{-½}, which is symmetric for a reversible Q.
func (m *EMatrix) eigen(freqs []float64) error {
	n, _ := m.Q.Dims()
	sq := make([]float64, n)
	for i, f := range freqs {
		sq[i] = math.Sqrt(math.Max(f, minFreq))
	}
	s := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := (sq[i]/sq[j]*m.Q.At(i, j) + sq[j]/sq[i]*m.Q.At(j, i)) / 2
			s[i*n+j] = v
			s[j*n+i] = v
		}
	}
	var es mat64.EigenSym
	if ok := es.Factorize(mat64.NewSymDense(n, s), true); !ok {
		return errors.New("eigendecomposition of Q-matrix failed")
	}
	m.d = es.Values(m.d)
	var u mat64.Dense
	u.EigenvectorsSym(&es)
	if m.left == nil {
		m.left = mat64.NewDense(n, n, nil)
		m.right = mat64.NewDense(n, n, nil)
		m.ed = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for k := 0; k < n; k++ {
			m.left.Set(i, k, u.At(i, k)/sq[i])
			m.right.Set(k, i, u.At(i, k)*sq[i])
		}
	}
	for k, v := range m.d {
		// Q is negative semidefinite, the stationary eigenvalue is zero
		if v > -1e-12 {
			m.d[k] = 0
		}
	}
	return nil
}

// Exp computes P=e^Qt and writes it to out in row-major order.
func (m *EMatrix) Exp(t float64, out []float64) {
	n := len(m.d)
	if t < smallTime {
		identity(n, out)
		return
	}
	for k, v := range m.d {
		// 0*Inf is NaN
		if v == 0 {
			m.ed[k] = 1
			continue
		}
		m.ed[k] = math.Exp(v * t)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			p := 0.0
			for k, e := range m.ed {
				p += m.left.At(i, k) * e * m.right.At(k, j)
			}
			// Remove slightly negative values
			out[i*n+j] = math.Max(0, p)
		}
	}
}
