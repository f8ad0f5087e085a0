// Package submodel implements continuous-time Markov substitution
// models providing transition probability matrices.
package submodel

import (
	"math"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

var log = logging.MustGetLogger("submodel")

// smallTime is a time below which the transition matrix is
// replaced by the identity matrix.
const smallTime = 1e-300

// Model is a substitution model.
type Model interface {
	// NStates returns the number of states.
	NStates() int
	// Frequencies returns the equilibrium frequencies.
	Frequencies() []float64
	// TransitionProbabilities computes the transition matrix for a
	// branch spanning heights [start, end] and the rate multiplier
	// rate. out is row-major, out[i*n+j] = P(i->j).
	TransitionProbabilities(start, end, rate float64, out []float64)
}

// checkFrequencies verifies that frequencies form a distribution
// over n states.
func checkFrequencies(freqs []float64, n int) error {
	if len(freqs) != n {
		return errors.Errorf("expected %d frequencies, got %d", n, len(freqs))
	}
	sum := 0.0
	for _, f := range freqs {
		if f < 0 || math.IsNaN(f) {
			return errors.Errorf("invalid frequency %v", f)
		}
		sum += f
	}
	if math.Abs(sum-1) > 1e-6 {
		return errors.Errorf("frequencies sum to %v", sum)
	}
	return nil
}

func identity(n int, out []float64) {
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				out[i*n+j] = 1
			} else {
				out[i*n+j] = 0
			}
		}
	}
}

// EqualInput is the equal-input model (F81) for any number of
// states. With equal frequencies it is the Jukes-Cantor model.
type EqualInput struct {
	freqs []float64
	beta  float64
}

// NewEqualInput creates an equal-input model. The rate matrix is
// normalized to one expected substitution per unit time.
func NewEqualInput(freqs []float64) (*EqualInput, error) {
	if err := checkFrequencies(freqs, len(freqs)); err != nil {
		return nil, err
	}
	sum := 0.0
	for _, f := range freqs {
		sum += f * f
	}
	if sum >= 1 {
		return nil, errors.New("equal-input model requires at least two states with positive frequency")
	}
	m := &EqualInput{
		freqs: append([]float64(nil), freqs...),
		beta:  1 / (1 - sum),
	}
	return m, nil
}

// NewJC creates the Jukes-Cantor model with n states.
func NewJC(n int) *EqualInput {
	freqs := make([]float64, n)
	for i := range freqs {
		freqs[i] = 1 / float64(n)
	}
	m, err := NewEqualInput(freqs)
	if err != nil {
		panic(err)
	}
	return m
}

// NStates returns the number of states.
func (m *EqualInput) NStates() int {
	return len(m.freqs)
}

// Frequencies returns the equilibrium frequencies.
func (m *EqualInput) Frequencies() []float64 {
	return m.freqs
}

// TransitionProbabilities uses the closed form
// P(i->j) = pi_j + (delta_ij - pi_j) exp(-beta t).
func (m *EqualInput) TransitionProbabilities(start, end, rate float64, out []float64) {
	n := len(m.freqs)
	t := (start - end) * rate
	if t < smallTime {
		identity(n, out)
		return
	}
	e := math.Exp(-m.beta * t)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			p := m.freqs[j] * (1 - e)
			if i == j {
				p += e
			}
			out[i*n+j] = p
		}
	}
}
