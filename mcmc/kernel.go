package mcmc

import (
	"math"
	"math/rand"
)

// bactrianM is the default distance of the two kernel modes from zero.
const bactrianM = 0.95

// Bactrian is a bimodal proposal kernel with modes at ±M and unit
// variance. Such kernels rarely propose values very close to the
// current one.
type Bactrian struct {
	M float64
}

// NewBactrian creates the kernel with the default mode offset.
func NewBactrian() Bactrian {
	return Bactrian{M: bactrianM}
}

// Delta returns a random step.
func (b Bactrian) Delta() float64 {
	d := b.M + rand.NormFloat64()*math.Sqrt(1-b.M*b.M)
	if rand.Intn(2) == 0 {
		return -d
	}
	return d
}

// Scaler returns a random multiplier exp(factor*Delta()).
func (b Bactrian) Scaler(factor float64) float64 {
	return math.Exp(factor * b.Delta())
}

// intervalScale moves value in (lower, upper) by scaling the ratio of
// the distances to the bounds. It returns the new value and the log
// Hastings ratio.
func intervalScale(value, lower, upper, scale float64) (float64, float64) {
	y := (upper - value) / (value - lower) * scale
	newValue := (upper + lower*y) / (y + 1)
	logHR := math.Log(scale) + 2*math.Log((newValue-lower)/(value-lower))
	return newValue, logHR
}
