// Package likelihood implements the per-node storage and the pruning
// kernels of Felsenstein's algorithm.
//
// Partials of a node are stored as
// partials[(category*nPatterns+pattern)*nStates+state] and matrices as
// matrices[category*nStates*nStates+i*nStates+j], where P[i][j] is the
// probability of going from the ancestral state i to the descendant
// state j.
//
// Every node has two slots for states, partials, matrices and scaling
// factors. Writes go to the current slot. A node has to be marked for
// update before it is recomputed, which selects the slot not holding
// the stored data. Store and Restore accept or discard all the changes
// by swapping slot indices.
package likelihood

import (
	"math"

	"github.com/grailbio/base/traverse"
	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

var log = logging.MustGetLogger("likelihood")

var (
	// ErrIndex is returned for out of range node, category or
	// pattern indices.
	ErrIndex = errors.New("index out of range")
	// ErrConfiguration is returned for shape mismatches and
	// unsupported setups.
	ErrConfiguration = errors.New("unsupported configuration")
)

// Options describe the core dimensions.
type Options struct {
	// States is the number of states.
	States int
	// Nodes is the number of tree nodes.
	Nodes int
	// Patterns is the number of site patterns.
	Patterns int
	// Matrices is the number of rate categories.
	Matrices int
	// Scaling enables partials scaling.
	Scaling bool
	// Threads is the number of pattern blocks evaluated in parallel,
	// values below 2 disable threading.
	Threads int
	// Generic forces the generic pruner even for four states.
	Generic bool
}

// buffers is a double-buffered array.
type buffers struct {
	current, stored int
}

// markForUpdate selects the slot which is not stored. Calling it
// repeatedly within a step has no further effect.
func (b *buffers) markForUpdate() {
	b.current = 1 - b.stored
}

type record struct {
	part buffers
	mat  buffers

	states   [2][]int
	partials [2][]float64
	matrices [2][]float64
	scale    [2][]float64
	// scaled is true if the slot holds scaled partials which
	// contribute to the scaling factor.
	scaled [2]bool
}

// Core stores partials and matrices for all the nodes and computes
// partials of internal nodes.
type Core struct {
	nStates, nNodes, nPatterns, nMatrices int
	partialsSize, matrixSize              int

	useScaling bool
	threads    int
	pruner     Pruner

	nodes []record
	// blocks are pattern ranges for threads.
	blocks [][2]int
}

// NewCore creates a likelihood core.
func NewCore(opts Options) (*Core, error) {
	if opts.States < 2 || opts.Nodes < 3 || opts.Patterns < 1 || opts.Matrices < 1 {
		return nil, errors.Wrapf(ErrConfiguration,
			"states=%d, nodes=%d, patterns=%d, matrices=%d",
			opts.States, opts.Nodes, opts.Patterns, opts.Matrices)
	}
	c := &Core{
		nStates:      opts.States,
		nNodes:       opts.Nodes,
		nPatterns:    opts.Patterns,
		nMatrices:    opts.Matrices,
		partialsSize: opts.Matrices * opts.Patterns * opts.States,
		matrixSize:   opts.States * opts.States,
		useScaling:   opts.Scaling,
		nodes:        make([]record, opts.Nodes),
	}
	if opts.States == 4 && !opts.Generic {
		c.pruner = newFourStatePruner(opts.Patterns, opts.Matrices)
	} else {
		c.pruner = newGenericPruner(opts.States, opts.Patterns, opts.Matrices)
	}
	c.setThreads(opts.Threads)
	log.Debugf("core: %d states, %d nodes, %d patterns, %d categories, %d blocks",
		c.nStates, c.nNodes, c.nPatterns, c.nMatrices, len(c.blocks))
	return c, nil
}

func (c *Core) setThreads(threads int) {
	if threads < 1 {
		threads = 1
	}
	if threads > c.nPatterns {
		threads = c.nPatterns
	}
	c.threads = threads
	c.blocks = make([][2]int, threads)
	for i := range c.blocks {
		c.blocks[i] = [2]int{i * c.nPatterns / threads, (i + 1) * c.nPatterns / threads}
	}
}

// NStates returns the number of states.
func (c *Core) NStates() int { return c.nStates }

// NNodes returns the number of nodes.
func (c *Core) NNodes() int { return c.nNodes }

// NPatterns returns the number of patterns.
func (c *Core) NPatterns() int { return c.nPatterns }

// NMatrices returns the number of categories.
func (c *Core) NMatrices() int { return c.nMatrices }

// PartialsSize returns the length of a node partials array.
func (c *Core) PartialsSize() int { return c.partialsSize }

func (c *Core) checkNode(node int) error {
	if node < 0 || node >= c.nNodes {
		return errors.Wrapf(ErrIndex, "node %d (%d nodes)", node, c.nNodes)
	}
	return nil
}

// SetNodeStates sets the state codes of a tip. Codes equal or larger
// than the number of states are ambiguous.
func (c *Core) SetNodeStates(node int, states []int) error {
	if err := c.checkNode(node); err != nil {
		return err
	}
	if len(states) != c.nPatterns {
		return errors.Wrapf(ErrConfiguration, "node %d: %d states for %d patterns",
			node, len(states), c.nPatterns)
	}
	r := &c.nodes[node]
	cur := r.part.current
	if r.states[cur] == nil {
		r.states[cur] = make([]int, c.nPatterns)
	}
	for i, s := range states {
		if s < 0 {
			return errors.Wrapf(ErrConfiguration, "node %d: negative state at pattern %d", node, i)
		}
		if s > c.nStates {
			s = c.nStates
		}
		r.states[cur][i] = s
	}
	r.partials[cur] = nil
	r.scaled[cur] = false
	return nil
}

// NodeStates copies the state codes of a tip to out.
func (c *Core) NodeStates(node int, out []int) error {
	if err := c.checkNode(node); err != nil {
		return err
	}
	r := &c.nodes[node]
	states := r.states[r.part.current]
	if states == nil {
		return errors.Wrapf(ErrConfiguration, "node %d has no states", node)
	}
	copy(out, states)
	return nil
}

// SetNodePartials sets the partials of a node. The length can be
// either nPatterns*nStates (the same for every category) or the full
// partials size.
func (c *Core) SetNodePartials(node int, partials []float64) error {
	if err := c.checkNode(node); err != nil {
		return err
	}
	one := c.nPatterns * c.nStates
	if len(partials) != one && len(partials) != c.partialsSize {
		return errors.Wrapf(ErrConfiguration, "node %d: partials length %d, expected %d or %d",
			node, len(partials), one, c.partialsSize)
	}
	r := &c.nodes[node]
	cur := r.part.current
	dst := c.partialsSlot(r, cur)
	for i := 0; i < c.partialsSize; i += len(partials) {
		copy(dst[i:], partials)
	}
	r.states[cur] = nil
	r.scaled[cur] = false
	return nil
}

// NodePartials copies the current partials of a node to out.
func (c *Core) NodePartials(node int, out []float64) error {
	if err := c.checkNode(node); err != nil {
		return err
	}
	r := &c.nodes[node]
	p := r.partials[r.part.current]
	if p == nil {
		return errors.Wrapf(ErrConfiguration, "node %d has no partials", node)
	}
	copy(out, p)
	return nil
}

func (c *Core) partialsSlot(r *record, slot int) []float64 {
	if r.partials[slot] == nil {
		r.partials[slot] = make([]float64, c.partialsSize)
	}
	return r.partials[slot]
}

// SetNodeMatrix copies the transition matrix of category cat into the
// current matrix slot of node.
func (c *Core) SetNodeMatrix(node, cat int, matrix []float64) error {
	if err := c.checkNode(node); err != nil {
		return err
	}
	if cat < 0 || cat >= c.nMatrices {
		return errors.Wrapf(ErrIndex, "category %d (%d categories)", cat, c.nMatrices)
	}
	if len(matrix) != c.matrixSize {
		return errors.Wrapf(ErrConfiguration, "matrix size %d, expected %d", len(matrix), c.matrixSize)
	}
	r := &c.nodes[node]
	cur := r.mat.current
	if r.matrices[cur] == nil {
		r.matrices[cur] = make([]float64, c.nMatrices*c.matrixSize)
	}
	copy(r.matrices[cur][cat*c.matrixSize:], matrix)
	return nil
}

// NodeMatrix copies the current matrix of category cat to out.
func (c *Core) NodeMatrix(node, cat int, out []float64) error {
	if err := c.checkNode(node); err != nil {
		return err
	}
	if cat < 0 || cat >= c.nMatrices {
		return errors.Wrapf(ErrIndex, "category %d (%d categories)", cat, c.nMatrices)
	}
	r := &c.nodes[node]
	m := r.matrices[r.mat.current]
	if m == nil {
		return errors.Wrapf(ErrConfiguration, "node %d has no matrices", node)
	}
	copy(out, m[cat*c.matrixSize:(cat+1)*c.matrixSize])
	return nil
}

// SetNodeMatrixForUpdate selects the matrix slot to be rewritten.
func (c *Core) SetNodeMatrixForUpdate(node int) error {
	if err := c.checkNode(node); err != nil {
		return err
	}
	c.nodes[node].mat.markForUpdate()
	return nil
}

// SetNodePartialsForUpdate selects the partials slot to be rewritten.
func (c *Core) SetNodePartialsForUpdate(node int) error {
	if err := c.checkNode(node); err != nil {
		return err
	}
	c.nodes[node].part.markForUpdate()
	return nil
}

// SetNodeStatesForUpdate selects the states slot to be rewritten.
// States share the slot index with partials.
func (c *Core) SetNodeStatesForUpdate(node int) error {
	return c.SetNodePartialsForUpdate(node)
}

// ReleaseNode marks the current partials of a node as unused: the
// node stops contributing to the scaling factor. The stored slot is
// kept, so Restore brings the node back.
func (c *Core) ReleaseNode(node int) error {
	if err := c.checkNode(node); err != nil {
		return err
	}
	r := &c.nodes[node]
	r.part.markForUpdate()
	r.scaled[r.part.current] = false
	return nil
}

// SetUseScaling switches scaling of newly computed partials.
func (c *Core) SetUseScaling(scaling bool) {
	if scaling != c.useScaling {
		log.Infof("Scaling set to %v", scaling)
	}
	c.useScaling = scaling
}

// UseScaling returns true if newly computed partials are scaled.
func (c *Core) UseScaling() bool {
	return c.useScaling
}

// Store makes the current slots of all the nodes the stored ones.
func (c *Core) Store() {
	for i := range c.nodes {
		r := &c.nodes[i]
		r.part.stored = r.part.current
		r.mat.stored = r.mat.current
	}
}

// Restore brings back the stored slots of all the nodes.
func (c *Core) Restore() {
	for i := range c.nodes {
		r := &c.nodes[i]
		r.part.current = r.part.stored
		r.mat.current = r.mat.stored
	}
}

// neighbor returns the current data of node for pruning.
func (c *Core) neighbor(node int) (nb Neighbor, err error) {
	if err = c.checkNode(node); err != nil {
		return
	}
	r := &c.nodes[node]
	nb.Matrices = r.matrices[r.mat.current]
	if nb.Matrices == nil {
		return nb, errors.Wrapf(ErrConfiguration, "node %d has no matrices", node)
	}
	cur := r.part.current
	nb.States = r.states[cur]
	if nb.States == nil {
		nb.Partials = r.partials[cur]
		if nb.Partials == nil {
			return nb, errors.Wrapf(ErrConfiguration, "node %d has neither states nor partials", node)
		}
	}
	return
}

// CalculatePartials computes the partials of parent from its two
// children. Parent should be marked for update.
func (c *Core) CalculatePartials(child1, child2, parent int) error {
	return c.calculate(parent, child1, child2)
}

// CalculatePartials3 computes the partials of anchor from its three
// neighbors. Anchor should be marked for update.
func (c *Core) CalculatePartials3(node1, node2, node3, anchor int) error {
	return c.calculate(anchor, node1, node2, node3)
}

func (c *Core) calculate(parent int, neighbors ...int) error {
	if err := c.checkNode(parent); err != nil {
		return err
	}
	nbs := make([]Neighbor, len(neighbors))
	for i, node := range neighbors {
		if node == parent {
			return errors.Wrapf(ErrConfiguration, "node %d is its own neighbor", node)
		}
		nb, err := c.neighbor(node)
		if err != nil {
			return err
		}
		nbs[i] = nb
	}
	r := &c.nodes[parent]
	cur := r.part.current
	out := c.partialsSlot(r, cur)
	r.states[cur] = nil
	var scale []float64
	if c.useScaling {
		if r.scale[cur] == nil {
			r.scale[cur] = make([]float64, c.nPatterns)
		}
		scale = r.scale[cur]
	}
	r.scaled[cur] = c.useScaling

	block := func(from, to int) {
		c.pruner.Prune(out, from, to, nbs...)
		if scale != nil {
			c.scalePartials(out, scale, from, to)
		}
	}
	if c.threads < 2 {
		block(0, c.nPatterns)
		return nil
	}
	// Each returns after all the blocks are done.
	return traverse.Each(len(c.blocks), func(i int) error {
		block(c.blocks[i][0], c.blocks[i][1])
		return nil
	})
}

// scalePartials divides partials of every pattern by the maximum over
// categories and states and records the log of the maximum. A zero
// maximum is left alone and recorded as zero.
func (c *Core) scalePartials(partials, scale []float64, from, to int) {
	n := c.nStates
	for pattern := from; pattern < to; pattern++ {
		max := 0.0
		for cat := 0; cat < c.nMatrices; cat++ {
			v := partials[(cat*c.nPatterns+pattern)*n:][:n]
			for _, p := range v {
				if p > max {
					max = p
				}
			}
		}
		if max == 0 {
			scale[pattern] = 0
			continue
		}
		for cat := 0; cat < c.nMatrices; cat++ {
			v := partials[(cat*c.nPatterns+pattern)*n:][:n]
			for i := range v {
				v[i] /= max
			}
		}
		scale[pattern] = math.Log(max)
	}
}

// LogScalingFactor returns the sum of log scaling factors of a pattern
// over all the nodes with scaled current partials.
func (c *Core) LogScalingFactor(pattern int) (res float64) {
	for i := range c.nodes {
		r := &c.nodes[i]
		cur := r.part.current
		if r.scaled[cur] {
			res += r.scale[cur][pattern]
		}
	}
	return
}

// IntegratePartials sums partials of node over categories with
// proportions. out has length nPatterns*nStates.
func (c *Core) IntegratePartials(node int, proportions []float64, out []float64) error {
	if err := c.checkNode(node); err != nil {
		return err
	}
	if len(proportions) != c.nMatrices {
		return errors.Wrapf(ErrConfiguration, "%d proportions for %d categories",
			len(proportions), c.nMatrices)
	}
	r := &c.nodes[node]
	partials := r.partials[r.part.current]
	if partials == nil {
		return errors.Wrapf(ErrConfiguration, "node %d has no partials", node)
	}
	size := c.nPatterns * c.nStates
	out = out[:size]
	for i := range out {
		out[i] = partials[i] * proportions[0]
	}
	for cat := 1; cat < c.nMatrices; cat++ {
		p := partials[cat*size : (cat+1)*size]
		w := proportions[cat]
		for i := range out {
			out[i] += p[i] * w
		}
	}
	return nil
}

// CalculateLogLikelihoods computes per pattern log-likelihoods from
// integrated root partials and state frequencies. Scaling factors are
// added.
func (c *Core) CalculateLogLikelihoods(partials, frequencies, out []float64) error {
	n := c.nStates
	if len(frequencies) != n {
		return errors.Wrapf(ErrConfiguration, "%d frequencies for %d states", len(frequencies), n)
	}
	if len(partials) < c.nPatterns*n || len(out) < c.nPatterns {
		return errors.Wrap(ErrConfiguration, "buffers are too short")
	}
	for pattern := 0; pattern < c.nPatterns; pattern++ {
		sum := 0.0
		for i, f := range frequencies {
			sum += f * partials[pattern*n+i]
		}
		out[pattern] = math.Log(sum) + c.LogScalingFactor(pattern)
	}
	return nil
}
