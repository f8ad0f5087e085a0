// Package dist implements discretization of the gamma distribution
// used for among-site rate variation.
package dist

/*
The discretization follows PAML (Yang 1994), with the quantile and
incomplete gamma computations delegated to mathext.
*/

import (
	"math"

	"github.com/gonum/mathext"
)

// QuantileGamma returns z so that Prob{x<z}=prob where x is gamma
// distributed with shape alpha and rate beta.
func QuantileGamma(prob, alpha, beta float64) float64 {
	switch {
	case prob <= 0:
		return 0
	case prob >= 1:
		return math.Inf(1)
	}
	return mathext.GammaIncInv(alpha, prob) / beta
}

// QuantileNormal returns quantile for normal distribution.
func QuantileNormal(prob float64) float64 {
	return mathext.NormalQuantile(prob)
}

// IncompleteGamma returns the incomplete gamma ratio I(x,alpha) where x
// is the upper limit of the integration and alpha is the shape
// parameter.
func IncompleteGamma(x, alpha float64) float64 {
	return mathext.GammaInc(alpha, x)
}

// DiscreteGamma returns discrete gamma distribution with K equal
// probability categories. If UseMedian is true, category medians are
// used (rescaled to keep the mean), otherwise category means. tmp and
// res can be nil or slices of length K.
func DiscreteGamma(alpha, beta float64, K int, UseMedian bool, tmp, res []float64) []float64 {
	t := 0.0
	mean := alpha / beta

	if res == nil {
		res = make([]float64, K)
	}
	if tmp == nil {
		tmp = make([]float64, K)
	}
	if K == 1 {
		res[0] = mean
		return res
	}

	if UseMedian {
		for i := 0; i < K; i++ {
			res[i] = QuantileGamma((float64(i)*2.+1)/(2.*float64(K)), alpha, beta)
		}
		for i := 0; i < K; i++ {
			t += res[i]
		}
		for i := 0; i < K; i++ {
			// rescale so that the mean is alpha/beta
			res[i] *= mean * float64(K) / t
		}
	} else {
		// cutting points
		for i := 0; i < K-1; i++ {
			tmp[i] = QuantileGamma((float64(i)+1.0)/float64(K), alpha, beta)
		}
		for i := 0; i < K-1; i++ {
			tmp[i] = IncompleteGamma(tmp[i]*beta, alpha+1)
		}
		res[0] = tmp[0] * mean * float64(K)
		for i := 1; i < K-1; i++ {
			res[i] = (tmp[i] - tmp[i-1]) * mean * float64(K)
		}
		res[K-1] = (1 - tmp[K-2]) * mean * float64(K)
	}

	return res
}

// GammaRates returns K site rate multipliers with mean one for the
// gamma shape alpha.
func GammaRates(alpha float64, K int, UseMedian bool) []float64 {
	return DiscreteGamma(alpha, alpha, K, UseMedian, nil, nil)
}
