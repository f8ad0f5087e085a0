// Package sitemodel implements among-site rate heterogeneity and
// per-branch clock rates.
package sitemodel

import (
	"math"

	"github.com/op/go-logging"
	"github.com/pkg/errors"

	"bitbucket.org/Davydov/anchorlh/dist"
	"bitbucket.org/Davydov/anchorlh/tree"
)

var log = logging.MustGetLogger("sitemodel")

// SiteModel is a discrete gamma model with an optional proportion of
// invariable sites. Invariable sites are not a category; the
// remaining categories share 1-pInv of the weight and their rates are
// scaled so that the mean rate over all sites is one.
type SiteModel struct {
	nCat      int
	alpha     float64
	pInv      float64
	useMedian bool
	integrate bool

	rates []float64
	props []float64
}

// New creates a site model with nCat gamma categories. nCat=1 means
// no rate variation and alpha is ignored.
func New(nCat int, alpha, pInv float64) (*SiteModel, error) {
	if nCat < 1 {
		return nil, errors.Errorf("number of categories should be positive, got %d", nCat)
	}
	sm := &SiteModel{
		nCat:      nCat,
		alpha:     alpha,
		integrate: true,
		rates:     make([]float64, nCat),
		props:     make([]float64, nCat),
	}
	if err := sm.SetProportionInvariant(pInv); err != nil {
		return nil, err
	}
	if err := sm.SetAlpha(alpha); err != nil {
		return nil, err
	}
	return sm, nil
}

// SetUseMedian selects category medians instead of means.
func (sm *SiteModel) SetUseMedian(median bool) {
	sm.useMedian = median
	sm.update()
}

// SetAlpha sets the gamma shape parameter.
func (sm *SiteModel) SetAlpha(alpha float64) error {
	if sm.nCat > 1 && (alpha <= 0 || math.IsNaN(alpha)) {
		return errors.Errorf("gamma shape should be positive, got %v", alpha)
	}
	sm.alpha = alpha
	sm.update()
	return nil
}

// Alpha returns the gamma shape parameter.
func (sm *SiteModel) Alpha() float64 {
	return sm.alpha
}

// SetProportionInvariant sets the proportion of invariable sites.
func (sm *SiteModel) SetProportionInvariant(pInv float64) error {
	if pInv < 0 || pInv >= 1 || math.IsNaN(pInv) {
		return errors.Errorf("proportion of invariable sites should be in [0, 1), got %v", pInv)
	}
	sm.pInv = pInv
	sm.update()
	return nil
}

// ProportionInvariant returns the proportion of invariable sites.
func (sm *SiteModel) ProportionInvariant() float64 {
	return sm.pInv
}

// SetIntegrateAcrossCategories switches category integration. A
// likelihood cannot be computed without it.
func (sm *SiteModel) SetIntegrateAcrossCategories(integrate bool) {
	sm.integrate = integrate
}

// IntegrateAcrossCategories returns true if categories are summed
// over with their proportions.
func (sm *SiteModel) IntegrateAcrossCategories() bool {
	return sm.integrate
}

// CategoryCount returns the number of rate categories.
func (sm *SiteModel) CategoryCount() int {
	return sm.nCat
}

// RateForCategory returns the rate multiplier of category i.
func (sm *SiteModel) RateForCategory(i int) float64 {
	return sm.rates[i]
}

// CategoryRates returns all the rate multipliers.
func (sm *SiteModel) CategoryRates() []float64 {
	return sm.rates
}

// CategoryProportions returns the category weights, they sum to
// 1-ProportionInvariant().
func (sm *SiteModel) CategoryProportions() []float64 {
	return sm.props
}

func (sm *SiteModel) update() {
	if sm.rates == nil {
		return
	}
	if sm.nCat == 1 {
		sm.rates[0] = 1
	} else if sm.alpha > 0 {
		dist.DiscreteGamma(sm.alpha, sm.alpha, sm.nCat, sm.useMedian, nil, sm.rates)
	}
	for i := range sm.rates {
		sm.rates[i] /= 1 - sm.pInv
		sm.props[i] = (1 - sm.pInv) / float64(sm.nCat)
	}
	log.Debugf("alpha=%v, pInv=%v, rates=%v", sm.alpha, sm.pInv, sm.rates)
}

// BranchRateModel provides rate multipliers per branch.
type BranchRateModel interface {
	// RateForBranch returns the rate of the branch above node.
	RateForBranch(node *tree.Node) float64
}

// StrictClock has the same rate on all branches.
type StrictClock struct {
	Rate float64
}

// RateForBranch returns the clock rate.
func (c *StrictClock) RateForBranch(node *tree.Node) float64 {
	return c.Rate
}

// LocalClock has a rate per branch class (#k labels in Newick).
// Classes without an explicit rate use Rate.
type LocalClock struct {
	Rate    float64
	Classes map[int]float64
}

// NewLocalClock creates a local clock with default rate.
func NewLocalClock(rate float64) *LocalClock {
	return &LocalClock{Rate: rate, Classes: make(map[int]float64)}
}

// RateForBranch returns the rate for the class of node.
func (c *LocalClock) RateForBranch(node *tree.Node) float64 {
	if r, ok := c.Classes[node.Class]; ok {
		return r
	}
	return c.Rate
}
