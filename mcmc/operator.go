package mcmc

import (
	"fmt"
	"math"
	"math/rand"

	"bitbucket.org/Davydov/anchorlh/optimize"
	"bitbucket.org/Davydov/anchorlh/tree"
)

// Operator proposes a change of the state.
type Operator interface {
	Name() string
	// Propose changes the state and returns the log of the Hastings
	// ratio times the prior ratio. -Inf means the move is impossible.
	Propose() float64
	Accept()
	Reject()
}

// TargetOperator is an operator acting on a node chosen by the
// schedule.
type TargetOperator interface {
	Operator
	SetTarget(*tree.Node)
	CanHandle(*tree.Node) bool
}

// Targetable is an object whose evaluation can be anchored at a node,
// e.g. a tree likelihood.
type Targetable interface {
	SetTarget(int) error
}

// treeOperator is embedded in operators changing node heights. Tree
// heights are stored and restored by the sampler.
type treeOperator struct{}

func (treeOperator) Accept() {}
func (treeOperator) Reject() {}

// NodeHeight changes the height of the target node between the heights
// of its children and its parent.
type NodeHeight struct {
	treeOperator
	Factor float64
	Kernel Bactrian
	node   *tree.Node
}

// NewNodeHeight creates a new node height operator.
func NewNodeHeight(factor float64) *NodeHeight {
	return &NodeHeight{Factor: factor, Kernel: NewBactrian()}
}

func (o *NodeHeight) Name() string {
	return "NodeHeight"
}

func (o *NodeHeight) SetTarget(node *tree.Node) {
	o.node = node
}

// CanHandle returns true for internal nodes except the root.
func (o *NodeHeight) CanHandle(node *tree.Node) bool {
	return !node.IsTerminal() && !node.IsRoot()
}

func (o *NodeHeight) Propose() float64 {
	if o.node == nil || !o.CanHandle(o.node) {
		return math.Inf(-1)
	}
	return moveNode(o.node, o.Kernel.Scaler(o.Factor))
}

// moveNode applies the interval scale to an internal non-root node.
func moveNode(node *tree.Node, scale float64) float64 {
	upper := node.Parent.Height
	lower := math.Max(node.Left().Height, node.Right().Height)
	value := node.Height
	if value <= lower || value >= upper {
		// zero length branch, the ratio is undefined
		return math.Inf(-1)
	}
	newValue, logHR := intervalScale(value, lower, upper, scale)
	if newValue < lower || newValue > upper {
		panic(fmt.Sprintf("proposed height %v outside (%v, %v)", newValue, lower, upper))
	}
	node.SetHeight(newValue)
	return logHR
}

// RootHeight scales the root height.
type RootHeight struct {
	treeOperator
	Factor float64
	Kernel Bactrian
	node   *tree.Node
}

// NewRootHeight creates a new root height operator.
func NewRootHeight(factor float64) *RootHeight {
	return &RootHeight{Factor: factor, Kernel: NewBactrian()}
}

func (o *RootHeight) Name() string {
	return "RootHeight"
}

func (o *RootHeight) SetTarget(node *tree.Node) {
	o.node = node
}

func (o *RootHeight) CanHandle(node *tree.Node) bool {
	return node.IsRoot()
}

func (o *RootHeight) Propose() float64 {
	if o.node == nil || !o.node.IsRoot() {
		return math.Inf(-1)
	}
	scale := o.Kernel.Scaler(o.Factor)
	h := o.node.Height * scale
	if h < math.Max(o.node.Left().Height, o.node.Right().Height) {
		return math.Inf(-1)
	}
	o.node.SetHeight(h)
	return math.Log(scale)
}

// MRCANode changes the height of the most recent common ancestor of a
// taxon set, its parent or one of its children. The affected
// likelihoods are anchored at the changed node.
type MRCANode struct {
	treeOperator
	Factor  float64
	Kernel  Bactrian
	taxa    []*tree.Node
	targets []Targetable
}

// NewMRCANode creates an operator for the set of taxa.
func NewMRCANode(factor float64, taxa []*tree.Node, targets ...Targetable) *MRCANode {
	return &MRCANode{
		Factor:  factor,
		Kernel:  NewBactrian(),
		taxa:    taxa,
		targets: targets,
	}
}

func (o *MRCANode) Name() string {
	return "MRCANode"
}

// CommonAncestor returns the common ancestor of the taxa.
func (o *MRCANode) CommonAncestor() *tree.Node {
	if len(o.taxa) == 0 {
		return nil
	}
	node := o.taxa[0]
	for _, taxon := range o.taxa[1:] {
		node = tree.CommonAncestor(node, taxon)
		if node == nil {
			return nil
		}
	}
	return node
}

func (o *MRCANode) Propose() float64 {
	node := o.CommonAncestor()
	if node == nil {
		return math.Inf(-1)
	}
	switch rand.Intn(4) {
	case 0:
		node = node.Parent
	case 1:
		node = node.Left()
	case 2:
		node = node.Right()
	}
	if node == nil || node.IsTerminal() || node.IsRoot() {
		return math.Inf(-1)
	}
	for _, t := range o.targets {
		if err := t.SetTarget(node.Id); err != nil {
			panic(err)
		}
	}
	return moveNode(node, o.Kernel.Scaler(o.Factor))
}

// Parameter proposes a new value of a model parameter.
type Parameter struct {
	par optimize.FloatParameter
}

// NewParameter creates an operator for the parameter.
func NewParameter(par optimize.FloatParameter) *Parameter {
	return &Parameter{par: par}
}

func (o *Parameter) Name() string {
	return o.par.Name()
}

// Propose returns the prior ratio, proposals are symmetric.
func (o *Parameter) Propose() float64 {
	o.par.Propose()
	return o.par.Prior() - o.par.OldPrior()
}

func (o *Parameter) Accept() {
	o.par.Accept()
}

func (o *Parameter) Reject() {
	o.par.Reject()
}
