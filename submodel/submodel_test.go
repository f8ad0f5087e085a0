package submodel

import (
	"math"
	"testing"

	"github.com/op/go-logging"
)

const smallDiff = 1e-8

func init() {
	logging.SetLevel(logging.WARNING, "submodel")
}

func rowsSumToOne(tst *testing.T, n int, p []float64) {
	for i := 0; i < n; i++ {
		s := 0.0
		for j := 0; j < n; j++ {
			if p[i*n+j] < 0 {
				tst.Error("Negative probability:", p[i*n+j])
			}
			s += p[i*n+j]
		}
		if math.Abs(s-1) > smallDiff {
			tst.Error("Row", i, "sums to", s)
		}
	}
}

func TestJC(tst *testing.T) {
	m := NewJC(4)
	p := make([]float64, 16)
	m.TransitionProbabilities(0.3, 0.1, 1, p)
	rowsSumToOne(tst, 4, p)
	t := 0.2
	same := 0.25 + 0.75*math.Exp(-4./3*t)
	diff := 0.25 - 0.25*math.Exp(-4./3*t)
	if math.Abs(p[0]-same) > smallDiff || math.Abs(p[1]-diff) > smallDiff {
		tst.Error("Wrong JC probabilities:", p[:4], same, diff)
	}

	m.TransitionProbabilities(0.1, 0.1, 1, p)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if (i == j) != (p[i*4+j] == 1) {
				tst.Error("Zero time should give identity:", p)
			}
		}
	}
}

func TestEqualInputBinary(tst *testing.T) {
	m, err := NewEqualInput([]float64{0.3, 0.7})
	if err != nil {
		tst.Fatal(err)
	}
	p := make([]float64, 4)
	m.TransitionProbabilities(100, 0, 1, p)
	rowsSumToOne(tst, 2, p)
	if math.Abs(p[0]-0.3) > smallDiff || math.Abs(p[3]-0.7) > smallDiff {
		tst.Error("Long branch should reach stationarity:", p)
	}
	if _, err := NewEqualInput([]float64{0.3, 0.3}); err == nil {
		tst.Error("Frequencies not summing to one should fail")
	}
}

func TestGTRvsJC(tst *testing.T) {
	freqs := []float64{0.25, 0.25, 0.25, 0.25}
	gtr, err := NewGTR([]float64{1, 1, 1, 1, 1, 1}, freqs)
	if err != nil {
		tst.Fatal(err)
	}
	jc := NewJC(4)
	p1 := make([]float64, 16)
	p2 := make([]float64, 16)
	for _, t := range []float64{0.001, 0.1, 0.5, 2} {
		gtr.TransitionProbabilities(t, 0, 1.3, p1)
		jc.TransitionProbabilities(t, 0, 1.3, p2)
		for i := range p1 {
			if math.Abs(p1[i]-p2[i]) > 1e-6 {
				tst.Fatal("GTR with equal rates differs from JC:", p1, p2)
			}
		}
	}
}

func TestHKY(tst *testing.T) {
	freqs := []float64{0.1, 0.2, 0.3, 0.4}
	m, err := NewHKY(4, freqs)
	if err != nil {
		tst.Fatal(err)
	}
	if math.Abs(m.Kappa()-4) > smallDiff {
		tst.Error("Wrong kappa:", m.Kappa())
	}
	p := make([]float64, 16)
	m.TransitionProbabilities(0.2, 0, 1, p)
	rowsSumToOne(tst, 4, p)
	// A->G is a transition, A->C is a transversion
	if p[0*4+2]/freqs[2] <= p[0*4+1]/freqs[1] {
		tst.Error("Transitions should be more likely:", p[:4])
	}
	// detailed balance
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.Abs(freqs[i]*p[i*4+j]-freqs[j]*p[j*4+i]) > 1e-6 {
				tst.Error("Model is not reversible at", i, j)
			}
		}
	}
	if err := m.SetKappa(1); err != nil {
		tst.Fatal(err)
	}
	m.TransitionProbabilities(50, 0, 1, p)
	for j := 0; j < 4; j++ {
		if math.Abs(p[j]-freqs[j]) > 1e-6 {
			tst.Error("Long branch should reach stationarity:", p[:4])
		}
	}
	if err := m.SetRates([]float64{1, 2}); err == nil {
		tst.Error("Wrong number of rates should fail")
	}
}

func TestGTRLongBranches(tst *testing.T) {
	freqs := []float64{0.25, 0.25, 0.25, 0.25}
	hky, err := NewHKY(1, freqs)
	if err != nil {
		tst.Fatal(err)
	}
	jc := NewJC(4)
	p1 := make([]float64, 16)
	p2 := make([]float64, 16)
	for _, t := range []float64{50, 200, 1e4, math.Inf(1)} {
		hky.TransitionProbabilities(t, 0, 1, p1)
		jc.TransitionProbabilities(t, 0, 1, p2)
		rowsSumToOne(tst, 4, p1)
		for i := range p1 {
			if math.Abs(p1[i]-p2[i]) > smallDiff {
				tst.Fatal("HKY with kappa=1 differs from JC at t =", t, p1, p2)
			}
		}
	}

	gtr, err := NewGTR([]float64{0.5, 3, 1.2, 0.7, 4, 1}, []float64{0.1, 0.2, 0.3, 0.4})
	if err != nil {
		tst.Fatal(err)
	}
	gtr.TransitionProbabilities(200, 0, 1, p1)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.Abs(p1[i*4+j]-gtr.Frequencies()[j]) > smallDiff {
				tst.Fatal("Long branch should reach stationarity:", p1)
			}
		}
	}
}

func TestGTRZeroFrequency(tst *testing.T) {
	m, err := NewHKY(2, []float64{0.3, 0.3, 0.4, 0})
	if err != nil {
		tst.Fatal(err)
	}
	p := make([]float64, 16)
	for _, t := range []float64{0.1, 1, 100} {
		m.TransitionProbabilities(t, 0, 1, p)
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				if math.IsNaN(p[i*4+j]) || p[i*4+j] > 1+smallDiff {
					tst.Fatal("Wrong probabilities:", p)
				}
			}
		}
		for i := 0; i < 3; i++ {
			if p[i*4+3] > 1e-4 {
				tst.Error("State with zero frequency should be unreachable:", p)
			}
		}
	}
}
