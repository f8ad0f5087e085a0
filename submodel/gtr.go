package submodel

import (
	"sync"

	"github.com/gonum/matrix/mat64"
	"github.com/pkg/errors"
)

// GTR is the general time-reversible nucleotide model. Rates are the
// exchangeabilities AC, AG, AT, CG, CT, GT.
type GTR struct {
	freqs []float64
	rates [6]float64
	e     *EMatrix
	// mat64 workspace is not safe for concurrent use.
	mu sync.Mutex
}

// NewGTR creates a GTR model.
func NewGTR(rates []float64, freqs []float64) (*GTR, error) {
	if err := checkFrequencies(freqs, 4); err != nil {
		return nil, err
	}
	m := &GTR{freqs: append([]float64(nil), freqs...)}
	if err := m.SetRates(rates); err != nil {
		return nil, err
	}
	return m, nil
}

// NewHKY creates the HKY85 model with the transition/transversion
// ratio kappa.
func NewHKY(kappa float64, freqs []float64) (*GTR, error) {
	return NewGTR([]float64{1, kappa, 1, 1, kappa, 1}, freqs)
}

// SetRates sets the exchangeabilities and rebuilds the Q-matrix.
func (m *GTR) SetRates(rates []float64) error {
	if len(rates) != 6 {
		return errors.Errorf("GTR requires 6 rates, got %d", len(rates))
	}
	for _, r := range rates {
		if r < 0 {
			return errors.Errorf("negative exchangeability %v", r)
		}
	}
	copy(m.rates[:], rates)
	return m.update()
}

// Rates returns the exchangeabilities.
func (m *GTR) Rates() []float64 {
	return m.rates[:]
}

// SetKappa sets both transition exchangeabilities (AG and CT) to
// kappa and the transversions to one.
func (m *GTR) SetKappa(kappa float64) error {
	return m.SetRates([]float64{1, kappa, 1, 1, kappa, 1})
}

// Kappa returns the AG exchangeability relative to AC.
func (m *GTR) Kappa() float64 {
	return m.rates[1] / m.rates[0]
}

func (m *GTR) update() error {
	q := mat64.NewDense(4, 4, nil)
	k := 0
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			q.Set(i, j, m.rates[k]*m.freqs[j])
			q.Set(j, i, m.rates[k]*m.freqs[i])
			k++
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.e == nil {
		e, err := NewEMatrix(q, m.freqs)
		if err != nil {
			return err
		}
		m.e = e
		return nil
	}
	if err := m.e.Set(q, m.freqs); err != nil {
		return err
	}
	log.Debugf("GTR rates=%v, scale=%v", m.rates, m.e.Scale)
	return nil
}

// NStates returns 4.
func (m *GTR) NStates() int {
	return 4
}

// Frequencies returns the equilibrium frequencies.
func (m *GTR) Frequencies() []float64 {
	return m.freqs
}

// TransitionProbabilities computes P=e^{Q (start-end) rate}.
func (m *GTR) TransitionProbabilities(start, end, rate float64, out []float64) {
	t := (start - end) * rate
	m.mu.Lock()
	m.e.Exp(t, out)
	m.mu.Unlock()
}
