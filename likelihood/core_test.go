package likelihood

import (
	"math"
	"math/rand"
	"testing"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

const smallDiff = 1e-12

func init() {
	logging.SetLevel(logging.WARNING, "likelihood")
}

// randomMatrix returns a random row-stochastic matrix for every
// category.
func randomMatrix(rnd *rand.Rand, n, nCat int) []float64 {
	m := make([]float64, n*n*nCat)
	for r := 0; r < n*nCat; r++ {
		sum := 0.0
		for j := 0; j < n; j++ {
			m[r*n+j] = rnd.Float64()
			sum += m[r*n+j]
		}
		for j := 0; j < n; j++ {
			m[r*n+j] /= sum
		}
	}
	return m
}

func randomStates(rnd *rand.Rand, n, nPatterns int) []int {
	s := make([]int, nPatterns)
	for i := range s {
		// include ambiguous states
		s[i] = rnd.Intn(n + 1)
	}
	return s
}

func randomPartials(rnd *rand.Rand, size int) []float64 {
	p := make([]float64, size)
	for i := range p {
		p[i] = rnd.Float64()
	}
	return p
}

func setMatrices(tst *testing.T, c *Core, node int, m []float64) {
	n := c.NStates()
	for cat := 0; cat < c.NMatrices(); cat++ {
		if err := c.SetNodeMatrix(node, cat, m[cat*n*n:(cat+1)*n*n]); err != nil {
			tst.Fatal(err)
		}
	}
}

func nodePartials(tst *testing.T, c *Core, node int) []float64 {
	p := make([]float64, c.PartialsSize())
	if err := c.NodePartials(node, p); err != nil {
		tst.Fatal(err)
	}
	return p
}

func relEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > smallDiff*math.Max(1, math.Abs(b[i])) {
			return false
		}
	}
	return true
}

// setupCore fills nodes 0..3: 0 and 1 with states, 2 and 3 with
// partials.
func setupCore(tst *testing.T, opts Options, seed int64) *Core {
	rnd := rand.New(rand.NewSource(seed))
	c, err := NewCore(opts)
	if err != nil {
		tst.Fatal(err)
	}
	n := opts.States
	for node := 0; node < opts.Nodes; node++ {
		setMatrices(tst, c, node, randomMatrix(rnd, n, opts.Matrices))
	}
	for node := 0; node < 2; node++ {
		if err := c.SetNodeStates(node, randomStates(rnd, n, opts.Patterns)); err != nil {
			tst.Fatal(err)
		}
	}
	for node := 2; node < 4; node++ {
		if err := c.SetNodePartials(node, randomPartials(rnd, c.PartialsSize())); err != nil {
			tst.Fatal(err)
		}
	}
	return c
}

func TestGenericVsFourState(tst *testing.T) {
	opts := Options{States: 4, Nodes: 6, Patterns: 37, Matrices: 3}
	fast := setupCore(tst, opts, 1)
	opts.Generic = true
	generic := setupCore(tst, opts, 1)
	if _, ok := fast.pruner.(*fourStatePruner); !ok {
		tst.Fatal("Four state pruner should be used")
	}

	cases := [][]int{
		{0, 1}, {0, 2}, {2, 0}, {2, 3},
		{0, 1, 2}, {2, 0, 3}, {2, 3, 1}, {0, 1, 0},
	}
	for _, nbs := range cases {
		for _, c := range []*Core{fast, generic} {
			var err error
			if len(nbs) == 2 {
				err = c.CalculatePartials(nbs[0], nbs[1], 4)
			} else {
				err = c.CalculatePartials3(nbs[0], nbs[1], nbs[2], 4)
			}
			if err != nil {
				tst.Fatal(err)
			}
		}
		p1 := nodePartials(tst, fast, 4)
		p2 := nodePartials(tst, generic, 4)
		if !relEqual(p1, p2) {
			tst.Error("Pruners differ for neighbors", nbs)
		}
	}
}

func TestThreeNeighbors(tst *testing.T) {
	for _, generic := range []bool{false, true} {
		opts := Options{States: 4, Nodes: 7, Patterns: 20, Matrices: 2, Generic: generic}
		c := setupCore(tst, opts, 2)
		if err := c.CalculatePartials3(0, 2, 3, 6); err != nil {
			tst.Fatal(err)
		}
		direct := nodePartials(tst, c, 6)

		// merge two neighbors, then the result with the third
		if err := c.CalculatePartials(0, 2, 4); err != nil {
			tst.Fatal(err)
		}
		id := make([]float64, 16)
		for i := 0; i < 4; i++ {
			id[i*4+i] = 1
		}
		for cat := 0; cat < 2; cat++ {
			c.SetNodeMatrix(4, cat, id)
		}
		if err := c.CalculatePartials(4, 3, 5); err != nil {
			tst.Fatal(err)
		}
		twoStep := nodePartials(tst, c, 5)
		if !relEqual(direct, twoStep) {
			tst.Error("Three neighbor merge differs from two merges, generic =", generic)
		}
	}
}

func TestGenericStates(tst *testing.T) {
	// two states, one category, one pattern
	c, err := NewCore(Options{States: 2, Nodes: 3, Patterns: 1, Matrices: 1})
	if err != nil {
		tst.Fatal(err)
	}
	c.SetNodeStates(0, []int{0})
	c.SetNodeStates(1, []int{1})
	c.SetNodeMatrix(0, 0, []float64{0.9, 0.1, 0.2, 0.8})
	c.SetNodeMatrix(1, 0, []float64{0.7, 0.3, 0.4, 0.6})
	if err := c.CalculatePartials(0, 1, 2); err != nil {
		tst.Fatal(err)
	}
	p := nodePartials(tst, c, 2)
	exp := []float64{0.9 * 0.3, 0.2 * 0.6}
	if !relEqual(p[:2], exp) {
		tst.Error("Wrong partials:", p, exp)
	}

	// ambiguous state is elided
	c.SetNodeStates(1, []int{7})
	c.CalculatePartials(0, 1, 2)
	p = nodePartials(tst, c, 2)
	if !relEqual(p[:2], []float64{0.9, 0.2}) {
		tst.Error("Ambiguous state should be elided:", p)
	}

	integrated := make([]float64, 2)
	if err := c.IntegratePartials(2, []float64{1}, integrated); err != nil {
		tst.Fatal(err)
	}
	lnL := make([]float64, 1)
	if err := c.CalculateLogLikelihoods(integrated, []float64{0.5, 0.5}, lnL); err != nil {
		tst.Fatal(err)
	}
	if math.Abs(lnL[0]-math.Log(0.5*0.9+0.5*0.2)) > smallDiff {
		tst.Error("Wrong log-likelihood:", lnL[0])
	}
}

func logLikelihoods(tst *testing.T, c *Core, node int, props []float64) []float64 {
	n := c.NStates()
	integrated := make([]float64, c.NPatterns()*n)
	if err := c.IntegratePartials(node, props, integrated); err != nil {
		tst.Fatal(err)
	}
	freqs := make([]float64, n)
	for i := range freqs {
		freqs[i] = 1 / float64(n)
	}
	out := make([]float64, c.NPatterns())
	if err := c.CalculateLogLikelihoods(integrated, freqs, out); err != nil {
		tst.Fatal(err)
	}
	return out
}

func TestScaling(tst *testing.T) {
	opts := Options{States: 4, Nodes: 6, Patterns: 15, Matrices: 2}
	plain := setupCore(tst, opts, 3)
	opts.Scaling = true
	scaled := setupCore(tst, opts, 3)
	props := []float64{0.3, 0.7}
	for _, c := range []*Core{plain, scaled} {
		c.CalculatePartials(0, 2, 4)
		c.CalculatePartials(4, 3, 5)
	}
	l1 := logLikelihoods(tst, plain, 5, props)
	l2 := logLikelihoods(tst, scaled, 5, props)
	if !relEqual(l1, l2) {
		tst.Error("Scaling changes log-likelihoods:", l1, l2)
	}
	if scaled.LogScalingFactor(0) == 0 {
		tst.Error("Scaling factor should be recorded")
	}
	// every scaled pattern has maximum one
	p := nodePartials(tst, scaled, 5)
	for pattern := 0; pattern < opts.Patterns; pattern++ {
		max := 0.0
		for cat := 0; cat < opts.Matrices; cat++ {
			for s := 0; s < 4; s++ {
				max = math.Max(max, p[(cat*opts.Patterns+pattern)*4+s])
			}
		}
		if math.Abs(max-1) > smallDiff {
			tst.Error("Scaled maximum is", max)
		}
	}

	// released nodes do not contribute
	f := scaled.LogScalingFactor(0)
	f4 := scaled.nodes[4].scale[scaled.nodes[4].part.current][0]
	scaled.ReleaseNode(5)
	if math.Abs(scaled.LogScalingFactor(0)-f4) > smallDiff {
		tst.Error("Released node still contributes to the scaling factor")
	}
	scaled.Restore()
	if math.Abs(scaled.LogScalingFactor(0)-f) > smallDiff {
		tst.Error("Restore should bring the released node back")
	}
}

func TestZeroScaling(tst *testing.T) {
	c, _ := NewCore(Options{States: 2, Nodes: 3, Patterns: 1, Matrices: 1, Scaling: true})
	c.SetNodeStates(0, []int{0})
	c.SetNodeStates(1, []int{1})
	c.SetNodeMatrix(0, 0, []float64{1, 0, 0, 1})
	c.SetNodeMatrix(1, 0, []float64{1, 0, 0, 1})
	if err := c.CalculatePartials(0, 1, 2); err != nil {
		tst.Fatal(err)
	}
	if c.LogScalingFactor(0) != 0 {
		tst.Error("Zero maximum should record zero")
	}
	p := nodePartials(tst, c, 2)
	if p[0] != 0 || p[1] != 0 {
		tst.Error("Zero partials should stay zero:", p)
	}
}

func TestStoreRestore(tst *testing.T) {
	opts := Options{States: 4, Nodes: 6, Patterns: 10, Matrices: 1}
	c := setupCore(tst, opts, 4)
	c.CalculatePartials(0, 2, 4)
	c.Store()
	before := nodePartials(tst, c, 4)
	m := make([]float64, 16)
	c.NodeMatrix(0, 0, m)

	c.SetNodeMatrixForUpdate(0)
	c.SetNodeMatrixForUpdate(0)
	c.SetNodeMatrix(0, 0, randomMatrix(rand.New(rand.NewSource(5)), 4, 1))
	c.SetNodePartialsForUpdate(4)
	c.SetNodePartialsForUpdate(4)
	c.CalculatePartials(0, 2, 4)
	after := nodePartials(tst, c, 4)
	if relEqual(before, after) {
		tst.Fatal("Partials should change")
	}
	c.Restore()
	if !relEqual(before, nodePartials(tst, c, 4)) {
		tst.Error("Restore should bring back the stored partials")
	}
	m2 := make([]float64, 16)
	c.NodeMatrix(0, 0, m2)
	if !relEqual(m, m2) {
		tst.Error("Restore should bring back the stored matrix")
	}

	// accept
	c.SetNodePartialsForUpdate(4)
	c.CalculatePartials(2, 3, 4)
	accepted := nodePartials(tst, c, 4)
	c.Store()
	c.Restore()
	if !relEqual(accepted, nodePartials(tst, c, 4)) {
		tst.Error("Stored partials should survive restore")
	}
}

func TestThreads(tst *testing.T) {
	opts := Options{States: 4, Nodes: 6, Patterns: 101, Matrices: 4, Scaling: true}
	single := setupCore(tst, opts, 6)
	opts.Threads = 7
	threaded := setupCore(tst, opts, 6)
	if len(threaded.blocks) != 7 || threaded.blocks[6][1] != 101 {
		tst.Fatal("Wrong blocks:", threaded.blocks)
	}
	for _, c := range []*Core{single, threaded} {
		if err := c.CalculatePartials3(0, 2, 3, 4); err != nil {
			tst.Fatal(err)
		}
	}
	if !relEqual(nodePartials(tst, single, 4), nodePartials(tst, threaded, 4)) {
		tst.Error("Threaded partials differ")
	}
	for p := 0; p < opts.Patterns; p++ {
		if single.LogScalingFactor(p) != threaded.LogScalingFactor(p) {
			tst.Error("Threaded scaling differs at pattern", p)
		}
	}
}

func TestErrors(tst *testing.T) {
	if _, err := NewCore(Options{States: 1, Nodes: 3, Patterns: 1, Matrices: 1}); errors.Cause(err) != ErrConfiguration {
		tst.Error("One state should be a configuration error, got", err)
	}
	c := setupCore(tst, Options{States: 4, Nodes: 6, Patterns: 5, Matrices: 2}, 7)
	if err := c.CalculatePartials(0, 1, 6); errors.Cause(err) != ErrIndex {
		tst.Error("Expected index error, got", err)
	}
	if err := c.SetNodeMatrix(0, 2, make([]float64, 16)); errors.Cause(err) != ErrIndex {
		tst.Error("Expected index error for category, got", err)
	}
	if err := c.SetNodeMatrix(0, 0, make([]float64, 9)); errors.Cause(err) != ErrConfiguration {
		tst.Error("Expected configuration error for matrix size, got", err)
	}
	if err := c.SetNodePartialsForUpdate(-1); errors.Cause(err) != ErrIndex {
		tst.Error("Expected index error, got", err)
	}
	// node 5 has neither states nor partials
	if err := c.CalculatePartials(0, 5, 4); errors.Cause(err) != ErrConfiguration {
		tst.Error("Expected configuration error, got", err)
	}
	if err := c.IntegratePartials(4, []float64{1}, make([]float64, 20)); errors.Cause(err) == nil {
		tst.Error("Wrong number of proportions should fail")
	}
}

func TestPrunerFanOut(tst *testing.T) {
	nb := Neighbor{
		States:   make([]int, 3),
		Matrices: make([]float64, 16),
	}
	out := make([]float64, 3*4)
	pruners := map[string]Pruner{
		"generic":    newGenericPruner(4, 3, 1),
		"four state": newFourStatePruner(3, 1),
	}
	for name, p := range pruners {
		for _, nbs := range [][]Neighbor{{nb}, {nb, nb, nb, nb}} {
			func() {
				defer func() {
					if recover() == nil {
						tst.Errorf("%s pruner should panic with %d neighbors", name, len(nbs))
					}
				}()
				p.Prune(out, 0, 3, nbs...)
			}()
		}
	}
}
