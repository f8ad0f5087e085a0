// Package treelh computes tree log-likelihoods with the pruning
// algorithm, either at the root or at any internal node (the anchor).
//
// At an anchor the tree is seen as unrooted: the anchor has three
// neighbors (two children and the node above it), and the two
// branches around the root are joined into one. Partials and matrices
// are kept between evaluations together with the orientation they
// were computed for, so only the part of the tree between a change
// and the anchor is recomputed.
package treelh

import (
	"math"

	"github.com/op/go-logging"
	"github.com/pkg/errors"

	"bitbucket.org/Davydov/anchorlh/bio"
	"bitbucket.org/Davydov/anchorlh/likelihood"
	"bitbucket.org/Davydov/anchorlh/sitemodel"
	"bitbucket.org/Davydov/anchorlh/submodel"
	"bitbucket.org/Davydov/anchorlh/tree"
)

var log = logging.MustGetLogger("treelh")

var (
	// ErrInvalidTarget is returned when the anchor is not an
	// internal node.
	ErrInvalidTarget = errors.New("invalid target")
	// ErrConfiguration is returned for unsupported setups.
	ErrConfiguration = likelihood.ErrConfiguration
)

// lengthTolerance is the branch length change which triggers matrix
// recomputation.
const lengthTolerance = 1e-13

// Partials orientation keys. Non-negative keys are ids of the
// neighbor which is excluded from the partials.
const (
	// keyInvalid means no valid data.
	keyInvalid = -4
	// keyReleased is the root not used at an anchor.
	keyReleased = -3
	// keyAnchor is a three neighbor merge.
	keyAnchor = -2
	// keyRoot is the root in the rooted mode.
	keyRoot = -1
)

// Scaling is the partials scaling policy.
type Scaling int

const (
	// ScalingNone never scales.
	ScalingNone Scaling = iota
	// ScalingAlways scales at every node.
	ScalingAlways
	// ScalingDynamic turns scaling on the first time the likelihood
	// underflows.
	ScalingDynamic
)

func (s Scaling) String() string {
	switch s {
	case ScalingNone:
		return "none"
	case ScalingAlways:
		return "always"
	case ScalingDynamic:
		return "dynamic"
	}
	return "unknown"
}

// ParseScaling converts a string to Scaling.
func ParseScaling(s string) (Scaling, error) {
	for _, sc := range []Scaling{ScalingNone, ScalingAlways, ScalingDynamic} {
		if sc.String() == s {
			return sc, nil
		}
	}
	return ScalingNone, errors.Errorf("unknown scaling %q", s)
}

// SiteModel provides rate categories.
type SiteModel interface {
	CategoryCount() int
	RateForCategory(i int) float64
	CategoryProportions() []float64
	ProportionInvariant() float64
	IntegrateAcrossCategories() bool
}

// Options are the evaluation settings.
type Options struct {
	Scaling Scaling
	// Threads is the number of pattern blocks evaluated in
	// parallel.
	Threads int
	// UseAmbiguities stores tips as partials resolving ambiguity
	// codes instead of state codes.
	UseAmbiguities bool
	// Generic disables the four state pruner.
	Generic bool
}

// TreeLikelihood is the likelihood of an alignment given a tree and
// models.
type TreeLikelihood struct {
	tree     *tree.Tree
	patterns *bio.Patterns
	subst    submodel.Model
	site     SiteModel
	clock    sitemodel.BranchRateModel
	opts     Options

	core *likelihood.Core
	// taxon is the alignment index per leaf id.
	taxon []int
	// constant lists states per pattern for which the pattern is
	// constant.
	constant [][]int

	// target is the anchor id, the root id means rooted evaluation.
	target  int
	hasDirt tree.Dirt

	// per node caches, double-buffered by Accept and Reject.
	lengths, storedLengths       []float64
	matKeys, storedMatKeys       []int
	partKeys, storedPartKeys     []int
	patternLnL, storedPatternLnL []float64
	lnL, storedLnL               float64

	updated    []int
	probs      []float64
	integrated []float64
}

// New creates a tree likelihood. All the leaves need a sequence with
// the same name.
func New(t *tree.Tree, patterns *bio.Patterns, subst submodel.Model, site SiteModel, clock sitemodel.BranchRateModel, opts Options) (*TreeLikelihood, error) {
	if err := t.Validate(); err != nil {
		return nil, errors.Wrap(ErrConfiguration, err.Error())
	}
	if len(patterns.Taxa) != t.NLeaves() {
		return nil, errors.Wrapf(ErrConfiguration, "tree has %d leaves, alignment has %d sequences",
			t.NLeaves(), len(patterns.Taxa))
	}
	n := patterns.NStates()
	if subst.NStates() != n {
		return nil, errors.Wrapf(ErrConfiguration, "substitution model has %d states, data has %d",
			subst.NStates(), n)
	}
	if !site.IntegrateAcrossCategories() {
		return nil, errors.Wrap(ErrConfiguration, "site categories are not integrated")
	}
	if clock == nil {
		clock = &sitemodel.StrictClock{Rate: 1}
	}

	nNodes := t.NNodes()
	core, err := likelihood.NewCore(likelihood.Options{
		States:   n,
		Nodes:    nNodes,
		Patterns: patterns.NPatterns(),
		Matrices: site.CategoryCount(),
		Scaling:  opts.Scaling == ScalingAlways,
		Threads:  opts.Threads,
		Generic:  opts.Generic,
	})
	if err != nil {
		return nil, err
	}

	lh := &TreeLikelihood{
		tree:       t,
		patterns:   patterns,
		subst:      subst,
		site:       site,
		clock:      clock,
		opts:       opts,
		core:       core,
		taxon:      make([]int, t.NLeaves()),
		target:     t.Root().Id,
		hasDirt:    tree.Filthy,
		lengths:    make([]float64, nNodes),
		matKeys:    make([]int, nNodes),
		partKeys:   make([]int, nNodes),
		patternLnL: make([]float64, patterns.NPatterns()),
		probs:      make([]float64, n*n),
		integrated: make([]float64, patterns.NPatterns()*n),
	}
	for i := range lh.matKeys {
		lh.lengths[i] = -1
		lh.matKeys[i] = keyInvalid
		lh.partKeys[i] = keyInvalid
	}
	for _, leaf := range t.Nodes()[:t.NLeaves()] {
		idx := patterns.TaxonIndex(leaf.Name)
		if idx < 0 {
			return nil, errors.Wrapf(ErrConfiguration, "no sequence for leaf %s", leaf.Name)
		}
		lh.taxon[leaf.Id] = idx
		if err := lh.setTipData(leaf); err != nil {
			return nil, err
		}
	}
	lh.constant = make([][]int, patterns.NPatterns())
	for _, i := range patterns.ConstantPatterns() {
		lh.constant[i/n] = append(lh.constant[i/n], i%n)
	}

	lh.storedLengths = append([]float64(nil), lh.lengths...)
	lh.storedMatKeys = append([]int(nil), lh.matKeys...)
	lh.storedPartKeys = append([]int(nil), lh.partKeys...)
	lh.storedPatternLnL = make([]float64, len(lh.patternLnL))
	core.Store()
	log.Debugf("Tree likelihood: %d leaves, %d patterns, %d categories, scaling %v",
		t.NLeaves(), patterns.NPatterns(), site.CategoryCount(), opts.Scaling)
	return lh, nil
}

func (lh *TreeLikelihood) setTipData(leaf *tree.Node) error {
	taxon := lh.taxon[leaf.Id]
	if lh.opts.UseAmbiguities {
		return lh.core.SetNodePartials(leaf.Id, lh.patterns.TipPartials(taxon))
	}
	return lh.core.SetNodeStates(leaf.Id, lh.patterns.States[taxon])
}

// must panics on core errors in the evaluation. They can only be
// caused by wiring defects since the setup was validated.
func must(err error) {
	if err != nil {
		panic(errors.Wrap(err, "likelihood evaluation"))
	}
}

// SetTarget sets the evaluation anchor. The root id selects rooted
// evaluation, leaves and out of range ids are rejected and the anchor
// is not changed.
func (lh *TreeLikelihood) SetTarget(target int) error {
	if target < lh.tree.NLeaves() || target >= lh.tree.NNodes() {
		return errors.Wrapf(ErrInvalidTarget, "target should be an internal node in range %d -- %d, not %d",
			lh.tree.NLeaves(), lh.tree.NNodes()-1, target)
	}
	if target != lh.target {
		log.Debugf("Target %d -> %d", lh.target, target)
	}
	lh.target = target
	return nil
}

// Target returns the evaluation anchor.
func (lh *TreeLikelihood) Target() int {
	return lh.target
}

// Core returns the likelihood core.
func (lh *TreeLikelihood) Core() *likelihood.Core {
	return lh.core
}

// Tree returns the tree.
func (lh *TreeLikelihood) Tree() *tree.Tree {
	return lh.tree
}

// MarkModelChanged forces recomputation of all the matrices, e.g.
// after changing substitution model, site model or clock parameters.
func (lh *TreeLikelihood) MarkModelChanged() {
	lh.hasDirt |= tree.Dirty
}

// MarkDataChanged additionally reloads the tip data.
func (lh *TreeLikelihood) MarkDataChanged() {
	lh.hasDirt |= tree.Filthy
}

// Updated returns ids of the nodes whose partials were recomputed
// during the last evaluation.
func (lh *TreeLikelihood) Updated() []int {
	return lh.updated
}

// LogLikelihood returns the last computed log-likelihood.
func (lh *TreeLikelihood) LogLikelihood() float64 {
	return lh.lnL
}

// PatternLogLikelihoods returns per pattern log-likelihoods of the
// last evaluation.
func (lh *TreeLikelihood) PatternLogLikelihoods() []float64 {
	return lh.patternLnL
}

// AnchorPartials returns a copy of the partials at the anchor.
func (lh *TreeLikelihood) AnchorPartials() []float64 {
	res := make([]float64, lh.core.PartialsSize())
	must(lh.core.NodePartials(lh.target, res))
	return res
}

// Accept makes the last evaluation the stored state and marks the tree
// clean.
func (lh *TreeLikelihood) Accept() {
	lh.core.Store()
	copy(lh.storedLengths, lh.lengths)
	copy(lh.storedMatKeys, lh.matKeys)
	copy(lh.storedPartKeys, lh.partKeys)
	copy(lh.storedPatternLnL, lh.patternLnL)
	lh.storedLnL = lh.lnL
	lh.tree.MakeClean()
}

// Reject brings back the state of the last Accept. The tree heights
// have to be restored by the caller.
func (lh *TreeLikelihood) Reject() {
	lh.core.Restore()
	copy(lh.lengths, lh.storedLengths)
	copy(lh.matKeys, lh.storedMatKeys)
	copy(lh.partKeys, lh.storedPartKeys)
	copy(lh.patternLnL, lh.storedPatternLnL)
	lh.lnL = lh.storedLnL
	lh.hasDirt = tree.Clean
}

// Calculate computes the log-likelihood at the current anchor.
func (lh *TreeLikelihood) Calculate() float64 {
	if lh.site.CategoryCount() != lh.core.NMatrices() {
		panic(errors.Wrapf(ErrConfiguration, "number of categories changed from %d to %d",
			lh.core.NMatrices(), lh.site.CategoryCount()))
	}
	if !lh.site.IntegrateAcrossCategories() {
		panic(errors.Wrap(ErrConfiguration, "site categories are not integrated"))
	}
	lnL := lh.evaluate()
	if math.IsInf(lnL, -1) && lh.opts.Scaling == ScalingDynamic && !lh.core.UseScaling() {
		log.Warning("Turning on scaling to prevent numeric instability")
		lh.core.SetUseScaling(true)
		lh.hasDirt = tree.Filthy
		updated := append([]int(nil), lh.updated...)
		lnL = lh.evaluate()
		lh.updated = append(updated, lh.updated...)
	}
	return lnL
}

func (lh *TreeLikelihood) evaluate() float64 {
	lh.updated = lh.updated[:0]
	anchor := lh.tree.NodeById(lh.target)
	if !anchor.IsRoot() {
		root := lh.tree.Root().Id
		if lh.partKeys[root] != keyReleased {
			must(lh.core.ReleaseNode(root))
			lh.partKeys[root] = keyReleased
		}
	}
	lh.traverse(visit{node: anchor})
	lh.integrate(anchor.Id)
	lh.hasDirt = tree.Clean
	lh.tree.MakeClean()
	return lh.lnL
}

// integrate computes pattern log-likelihoods at the anchor.
func (lh *TreeLikelihood) integrate(anchor int) {
	must(lh.core.IntegratePartials(anchor, lh.site.CategoryProportions(), lh.integrated))
	freqs := lh.subst.Frequencies()
	must(lh.core.CalculateLogLikelihoods(lh.integrated, freqs, lh.patternLnL))

	pInv := lh.site.ProportionInvariant()
	lh.lnL = 0
	for pattern, w := range lh.patterns.Weights {
		if pInv > 0 && len(lh.constant[pattern]) > 0 {
			f := 0.0
			for _, s := range lh.constant[pattern] {
				f += freqs[s]
			}
			// invariable sites are not scaled
			lh.patternLnL[pattern] = logAdd(lh.patternLnL[pattern], math.Log(pInv*f))
		}
		lh.lnL += float64(w) * lh.patternLnL[pattern]
	}
}

// logAdd returns log(exp(a)+exp(b)).
func logAdd(a, b float64) float64 {
	if a < b {
		a, b = b, a
	}
	if math.IsInf(b, -1) {
		return a
	}
	return a + math.Log1p(math.Exp(b-a))
}
