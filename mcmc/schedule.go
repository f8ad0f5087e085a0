package mcmc

import (
	"math/rand"

	"github.com/pkg/errors"

	"bitbucket.org/Davydov/anchorlh/tree"
)

// maxAttempts is the number of times an operator unable to handle
// the current node is chosen before the schedule moves on.
const maxAttempts = 10

// Schedule chooses operators by weight. Operators acting on nodes
// visit the tree in a random in-order walk, several proposals per
// node, so that consecutive proposals change nearby nodes and the
// likelihood anchored at the current node stays cheap to update.
type Schedule struct {
	// ProposalsPerNode is the number of targeted proposals before
	// moving to the next node.
	ProposalsPerNode int
	// FullTraverse visits every internal node before, between and
	// after its subtrees instead of once.
	FullTraverse bool
	// IncludeLeaves adds leaves to the walk.
	IncludeLeaves bool

	tree      *tree.Tree
	targets   []Targetable
	operators []Operator
	weights   []float64
	total     float64

	order  []*tree.Node
	step   int
	target *tree.Node
}

// NewSchedule creates a schedule for the tree. Targets are anchored at
// every internal node the walk reaches.
func NewSchedule(t *tree.Tree, targets ...Targetable) *Schedule {
	return &Schedule{
		ProposalsPerNode: 3,
		FullTraverse:     true,
		tree:             t,
		targets:          targets,
	}
}

// Add adds an operator with a weight.
func (s *Schedule) Add(op Operator, weight float64) error {
	if weight <= 0 {
		return errors.Errorf("operator %s: weight should be positive, got %v", op.Name(), weight)
	}
	s.operators = append(s.operators, op)
	s.weights = append(s.weights, weight)
	s.total += weight
	return nil
}

// Operators returns the operators.
func (s *Schedule) Operators() []Operator {
	return s.operators
}

// Target returns the node of the current walk step.
func (s *Schedule) Target() *tree.Node {
	return s.target
}

// choose returns a random operator proportionally to the weights.
func (s *Schedule) choose() Operator {
	r := rand.Float64() * s.total
	for i, w := range s.weights {
		if r < w {
			return s.operators[i]
		}
		r -= w
	}
	return s.operators[len(s.operators)-1]
}

// chooseTargeted returns a random node operator.
func (s *Schedule) chooseTargeted() TargetOperator {
	for {
		if op, ok := s.choose().(TargetOperator); ok {
			return op
		}
	}
}

// walk fills the visiting order.
func (s *Schedule) walk(node *tree.Node) {
	if node.IsTerminal() {
		if s.IncludeLeaves {
			s.order = append(s.order, node)
		}
		return
	}
	if s.FullTraverse {
		s.order = append(s.order, node)
	}
	first, second := node.Left(), node.Right()
	if rand.Intn(2) == 0 {
		first, second = second, first
	}
	s.walk(first)
	s.order = append(s.order, node)
	s.walk(second)
	if s.FullTraverse {
		s.order = append(s.order, node)
	}
}

// stepCount returns the number of steps in one walk.
func (s *Schedule) stepCount() int {
	return s.ProposalsPerNode * len(s.order)
}

// advance moves to the next step, starting a new walk at the end.
func (s *Schedule) advance() {
	s.step++
	if s.step >= s.stepCount() {
		s.step = 0
	}
}

// setTarget makes node the current target. Likelihoods are only
// anchored at internal nodes.
func (s *Schedule) setTarget(node *tree.Node) {
	s.target = node
	if node.IsTerminal() {
		return
	}
	for _, t := range s.targets {
		if err := t.SetTarget(node.Id); err != nil {
			panic(err)
		}
	}
}

// Select returns the next operator. Node operators get the current
// node as a target.
func (s *Schedule) Select() Operator {
	if len(s.operators) == 0 {
		panic("no operators in the schedule")
	}
	if s.ProposalsPerNode < 1 {
		s.ProposalsPerNode = 1
	}
	op := s.choose()
	top, ok := op.(TargetOperator)
	if !ok {
		return op
	}
	attempts := 0
	skipped := 0
	for {
		if s.step == 0 {
			s.order = s.order[:0]
			s.walk(s.tree.Root())
		}
		if s.step%s.ProposalsPerNode == 0 {
			s.setTarget(s.order[s.step/s.ProposalsPerNode])
		}
		top.SetTarget(s.target)
		if top.CanHandle(s.target) || skipped > s.stepCount() {
			s.advance()
			return top
		}
		attempts++
		if attempts >= maxAttempts {
			s.advance()
			skipped++
			attempts = 0
		}
		top = s.chooseTargeted()
	}
}
