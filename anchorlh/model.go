package main

import (
	"strconv"

	"github.com/pkg/errors"

	"bitbucket.org/Davydov/anchorlh/bio"
	"bitbucket.org/Davydov/anchorlh/optimize"
	"bitbucket.org/Davydov/anchorlh/sitemodel"
	"bitbucket.org/Davydov/anchorlh/submodel"
	"bitbucket.org/Davydov/anchorlh/tree"
	"bitbucket.org/Davydov/anchorlh/treelh"
)

// modelSettings are the command line model options.
type modelSettings struct {
	name      string
	freqs     string
	kappa     float64
	rates     string
	nCat      int
	alpha     float64
	pInv      float64
	rate      float64
	classRate map[string]string
	estRate   bool
	median    bool
}

// model is the tree likelihood together with its free parameters.
type model struct {
	lh    *treelh.TreeLikelihood
	gtr   *submodel.GTR
	site  *sitemodel.SiteModel
	clock *sitemodel.LocalClock

	kappa, alpha, pInv, rate float64
	parameters               optimize.FloatParameters
}

// getFrequencies returns state frequencies from a string: empirical,
// equal or a list of numbers.
func getFrequencies(s string, p *bio.Patterns) ([]float64, error) {
	switch s {
	case "empirical":
		return p.Frequencies(), nil
	case "equal":
		n := p.NStates()
		freqs := make([]float64, n)
		for i := range freqs {
			freqs[i] = 1 / float64(n)
		}
		return freqs, nil
	}
	freqs, err := optimize.ReadFloats(s)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse frequencies %q", s)
	}
	return freqs, nil
}

// getClock creates a local clock from class=rate pairs.
func getClock(rate float64, classRate map[string]string) (*sitemodel.LocalClock, error) {
	clock := sitemodel.NewLocalClock(rate)
	for k, v := range classRate {
		class, err := strconv.Atoi(k)
		if err != nil {
			return nil, errors.Wrapf(err, "wrong class %q", k)
		}
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r < 0 {
			return nil, errors.Errorf("wrong rate %q for class %d", v, class)
		}
		clock.Classes[class] = r
	}
	return clock, nil
}

// newModel creates the substitution, site and clock models and the tree
// likelihood.
func newModel(t *tree.Tree, p *bio.Patterns, s modelSettings, opts treelh.Options) (*model, error) {
	m := &model{
		kappa: s.kappa,
		alpha: s.alpha,
		pInv:  s.pInv,
		rate:  s.rate,
	}
	freqs, err := getFrequencies(s.freqs, p)
	if err != nil {
		return nil, err
	}

	var subst submodel.Model
	switch s.name {
	case "jc":
		log.Info("Using JC model")
		subst = submodel.NewJC(p.NStates())
	case "f81":
		log.Info("Using F81 model")
		subst, err = submodel.NewEqualInput(freqs)
	case "hky":
		log.Info("Using HKY model")
		m.gtr, err = submodel.NewHKY(s.kappa, freqs)
		subst = m.gtr
	case "gtr":
		log.Info("Using GTR model")
		var rates []float64
		rates, err = optimize.ReadFloats(s.rates)
		if err == nil {
			m.gtr, err = submodel.NewGTR(rates, freqs)
		}
		subst = m.gtr
	default:
		return nil, errors.Errorf("unknown model %s", s.name)
	}
	if err != nil {
		return nil, err
	}
	log.Debugf("Frequencies: %v", subst.Frequencies())

	if m.site, err = sitemodel.New(s.nCat, s.alpha, s.pInv); err != nil {
		return nil, err
	}
	m.site.SetUseMedian(s.median)
	log.Infof("%d gamma categories, rates: %v", s.nCat, m.site.CategoryRates())

	if m.clock, err = getClock(s.rate, s.classRate); err != nil {
		return nil, err
	}

	if m.lh, err = treelh.New(t, p, subst, m.site, m.clock, opts); err != nil {
		return nil, err
	}

	if s.name == "hky" {
		m.addParameter(&m.kappa, "kappa", 0, 100, optimize.ExponentialPrior(0.1, false), func() error {
			return m.gtr.SetKappa(m.kappa)
		})
	}
	if s.nCat > 1 {
		m.addParameter(&m.alpha, "alpha", 0.05, 100, optimize.ExponentialPrior(1, false), func() error {
			return m.site.SetAlpha(m.alpha)
		})
	}
	if s.pInv > 0 {
		m.addParameter(&m.pInv, "pinv", 0, 0.99, optimize.UniformPrior(0, 0.99, true, true), func() error {
			return m.site.SetProportionInvariant(m.pInv)
		})
	}
	if s.estRate {
		m.addParameter(&m.rate, "rate", 0, 100, optimize.ExponentialPrior(1, false), func() error {
			m.clock.Rate = m.rate
			return nil
		})
	}
	return m, nil
}

// addParameter adds a parameter which updates the model and marks
// the likelihood dirty on change.
func (m *model) addParameter(v *float64, name string, min, max float64, prior func(float64) float64, update func() error) {
	par := optimize.NewBasicFloatParameter(v, name)
	par.SetMin(min)
	par.SetMax(max)
	par.SetPriorFunc(prior)
	par.SetProposalFunc(optimize.NormalProposal(0.05 * (1 + *v)))
	par.SetOnChange(func() {
		if err := update(); err != nil {
			panic(errors.Wrapf(err, "setting %s", name))
		}
		m.lh.MarkModelChanged()
	})
	m.parameters.Append(par)
}

// FloatParameters returns the free model parameters.
func (m *model) FloatParameters() optimize.FloatParameters {
	return m.parameters
}

// Likelihood computes the log-likelihood at the current anchor.
func (m *model) Likelihood() float64 {
	return m.lh.Calculate()
}
