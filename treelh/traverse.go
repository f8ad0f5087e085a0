package treelh

import (
	"math"

	"bitbucket.org/Davydov/anchorlh/tree"
)

// visit is a traversal step: node is computed for the neighbor from.
// A nil from means node is the anchor.
type visit struct {
	node, from *tree.Node
}

// up returns the node above, the root is skipped by taking the other
// child.
func up(node *tree.Node) *tree.Node {
	if node.Parent.IsRoot() {
		return node.Sibling()
	}
	return node.Parent
}

// crossesRoot is true if the branch between node and from goes
// through the root.
func (v visit) crossesRoot() bool {
	return v.from != nil && !v.node.IsRoot() && !v.from.IsRoot() &&
		v.node.Parent.IsRoot() && v.from.Parent == v.node.Parent &&
		v.from != v.node
}

// neighbors returns the nodes contributing to the partials of
// v.node.
func (v visit) neighbors() []*tree.Node {
	node := v.node
	switch {
	case v.from == nil && node.IsRoot():
		return node.ChildNodes()
	case v.from == nil:
		return []*tree.Node{node.Left(), node.Right(), up(node)}
	case v.from == node.Parent || v.crossesRoot():
		return node.ChildNodes()
	case v.from == node.Left():
		return []*tree.Node{up(node), node.Right()}
	case v.from == node.Right():
		return []*tree.Node{node.Left(), up(node)}
	}
	panic("visiting a node from a non-neighbor")
}

// partialsKey identifies the orientation of partials computed for v.
func (v visit) partialsKey() int {
	switch {
	case v.from == nil && v.node.IsRoot():
		return keyRoot
	case v.from == nil:
		return keyAnchor
	case v.crossesRoot():
		// the same partials as for the root
		return v.node.Parent.Id
	}
	return v.from.Id
}

// joinBranches combines two branches around the root into one. The
// length is the sum of the times, the rate is the time-weighted
// average.
func joinBranches(t1, r1, t2, r2 float64) (t, r float64) {
	t = t1 + t2
	if t == 0 {
		return 0, r1
	}
	return t, (t1*r1 + t2*r2) / t
}

// branch returns the time, the rate and the start height of the
// branch between v.node and v.from.
func (lh *TreeLikelihood) branch(v visit) (time, rate, start float64) {
	node, from := v.node, v.from
	switch {
	case from == node.Parent:
		return from.Height - node.Height, lh.clock.RateForBranch(node), from.Height
	case node == from.Parent:
		return node.Height - from.Height, lh.clock.RateForBranch(from), node.Height
	case v.crossesRoot():
		root := node.Parent
		time, rate = joinBranches(
			root.Height-node.Height, lh.clock.RateForBranch(node),
			root.Height-from.Height, lh.clock.RateForBranch(from))
		return time, rate, node.Height + time
	}
	panic("branch between non-neighbors")
}

// updateMatrices recomputes the matrices of the branch of v if it
// changed. It returns true if matrices were recomputed.
func (lh *TreeLikelihood) updateMatrices(v visit, update tree.Dirt) bool {
	id := v.node.Id
	time, rate, start := lh.branch(v)
	length := time * rate
	if update == tree.Clean && lh.matKeys[id] == v.from.Id &&
		math.Abs(length-lh.lengths[id]) <= lengthTolerance {
		return false
	}
	must(lh.core.SetNodeMatrixForUpdate(id))
	end := start - time
	for cat := 0; cat < lh.site.CategoryCount(); cat++ {
		lh.subst.TransitionProbabilities(start, end, lh.site.RateForCategory(cat)*rate, lh.probs)
		must(lh.core.SetNodeMatrix(id, cat, lh.probs))
	}
	lh.lengths[id] = length
	lh.matKeys[id] = v.from.Id
	return true
}

// traverse updates the matrices and partials needed for v and returns
// the combined change state.
func (lh *TreeLikelihood) traverse(v visit) tree.Dirt {
	node := v.node
	id := node.Id
	update := node.Dirt() | lh.hasDirt

	if v.from == nil {
		// the anchor has no branch, its matrices go stale
		lh.matKeys[id] = keyInvalid
	} else if lh.updateMatrices(v, update) {
		update |= tree.Dirty
	}

	if node.IsTerminal() {
		if update >= tree.Filthy {
			must(lh.core.SetNodeStatesForUpdate(id))
			must(lh.setTipData(node))
		}
		return update
	}

	neighbors := v.neighbors()
	children := tree.Clean
	for _, nb := range neighbors {
		children |= lh.traverse(visit{node: nb, from: node})
	}

	key := v.partialsKey()
	if children != tree.Clean || lh.partKeys[id] != key {
		must(lh.core.SetNodePartialsForUpdate(id))
		if len(neighbors) == 3 {
			must(lh.core.CalculatePartials3(neighbors[0].Id, neighbors[1].Id, neighbors[2].Id, id))
		} else {
			must(lh.core.CalculatePartials(neighbors[0].Id, neighbors[1].Id, id))
		}
		lh.partKeys[id] = key
		lh.updated = append(lh.updated, id)
		update |= tree.Dirty
	}
	return update | children
}
