// Package tree implements rooted binary time trees. Every node carries a
// height; branch lengths are differences between parent and child
// heights.
//
// Nodes are numbered the way the likelihood code expects: leaves get ids
// 0..NLeaves()-1 in the order they appear in the Newick string, internal
// nodes follow in post-order and the root has the largest id.
package tree

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Dirt is the per-node change state. Values can be combined with
// bitwise OR, the result is at least as dirty as every operand.
type Dirt int

// Dirt states.
const (
	// Clean nodes have not changed since the last evaluation.
	Clean Dirt = 0
	// Dirty nodes have a changed branch or parameter.
	Dirty Dirt = 1
	// Filthy nodes additionally need their states re-resolved.
	Filthy Dirt = 2
)

func (d Dirt) String() string {
	switch {
	case d == Clean:
		return "clean"
	case d >= Filthy:
		return "filthy"
	}
	return "dirty"
}

// Tree is a rooted tree. The embedded Node is the root.
type Tree struct {
	*Node
	nodes   []*Node
	nLeaves int

	storedHeights []float64
}

// Node is a tree node.
type Node struct {
	Name string
	// Id is the node index, see package documentation.
	Id int
	// Class is the branch class as given by the #k Newick label.
	Class  int
	Height float64
	Parent *Node

	childNodes []*Node
	dirt       Dirt
	// length is the parsed branch length, only used to derive
	// heights.
	length float64
}

// NewNode creates a node attached to parent (which can be nil).
func NewNode(parent *Node, nodeId int) (node *Node) {
	node = &Node{Id: nodeId}
	if parent != nil {
		parent.AddChild(node)
	}
	return
}

// New creates a tree from the root node. Nodes are renumbered, heights
// are computed from the branch lengths so that the deepest leaf has
// height zero.
func New(root *Node) (*Tree, error) {
	if root == nil {
		return nil, errors.New("empty tree")
	}
	tree := &Tree{Node: root}
	tree.renumber()
	if err := tree.Validate(); err != nil {
		return nil, err
	}

	depth := make([]float64, len(tree.nodes))
	maxDepth := 0.0
	for _, node := range tree.preOrder(nil) {
		if !node.IsRoot() {
			depth[node.Id] = depth[node.Parent.Id] + node.length
		}
		maxDepth = math.Max(maxDepth, depth[node.Id])
	}
	for _, node := range tree.nodes {
		node.Height = maxDepth - depth[node.Id]
		node.dirt = Filthy
	}
	tree.Store()
	return tree, nil
}

// renumber assigns ids to the nodes.
func (tree *Tree) renumber() {
	var leaves, internal []*Node
	for _, node := range tree.postOrder(nil) {
		if node.IsTerminal() {
			leaves = append(leaves, node)
		} else {
			internal = append(internal, node)
		}
	}
	tree.nLeaves = len(leaves)
	tree.nodes = append(leaves, internal...)
	for i, node := range tree.nodes {
		node.Id = i
	}
}

// Validate checks that the tree is binary and heights are consistent.
func (tree *Tree) Validate() error {
	if tree.nLeaves < 2 {
		return errors.Errorf("tree needs at least two leaves, got %d", tree.nLeaves)
	}
	for _, node := range tree.nodes {
		if !node.IsTerminal() && len(node.childNodes) != 2 {
			return errors.Errorf("node %d has %d children, only binary trees are supported",
				node.Id, len(node.childNodes))
		}
		if !node.IsRoot() && node.Parent.Height < node.Height {
			return errors.Errorf("node %d is higher than its parent (%v > %v)",
				node.Id, node.Height, node.Parent.Height)
		}
	}
	return nil
}

// NNodes returns the total number of nodes.
func (tree *Tree) NNodes() int {
	return len(tree.nodes)
}

// NLeaves returns the number of leaves.
func (tree *Tree) NLeaves() int {
	return tree.nLeaves
}

// Nodes returns all the nodes indexed by id.
func (tree *Tree) Nodes() []*Node {
	return tree.nodes
}

// NodeById returns a node by its id or nil if there is no such node.
func (tree *Tree) NodeById(id int) *Node {
	if id < 0 || id >= len(tree.nodes) {
		return nil
	}
	return tree.nodes[id]
}

// Root returns the root node.
func (tree *Tree) Root() *Node {
	return tree.Node
}

// Leaf returns leaf by name.
func (tree *Tree) Leaf(name string) *Node {
	for _, node := range tree.nodes[:tree.nLeaves] {
		if node.Name == name {
			return node
		}
	}
	return nil
}

// Terminals returns a channel with all the leaves.
func (tree *Tree) Terminals() <-chan *Node {
	return tree.Walker(func(node *Node) bool {
		return node.IsTerminal()
	})
}

// NonTerminals returns a channel with all the internal nodes.
func (tree *Tree) NonTerminals() <-chan *Node {
	return tree.Walker(func(node *Node) bool {
		return !node.IsTerminal()
	})
}

// ClassNodes returns a channel with all the nodes of class.
func (tree *Tree) ClassNodes(class int) <-chan *Node {
	return tree.Walker(func(node *Node) bool {
		return node.Class == class
	})
}

// Walker returns a buffered channel with all the nodes passing filter
// in pre-order.
func (tree *Tree) Walker(filter func(*Node) bool) <-chan *Node {
	ch := make(chan *Node, tree.NNodes())
	tree.Walk(ch, filter)
	close(ch)
	return ch
}

// NodeOrder returns the internal nodes in post-order, i.e. children
// always come before their parent.
func (tree *Tree) NodeOrder() []*Node {
	return tree.postOrder(func(node *Node) bool {
		return !node.IsTerminal()
	})
}

func (tree *Tree) postOrder(filter func(*Node) bool) (nodes []*Node) {
	var visit func(*Node)
	visit = func(node *Node) {
		for _, child := range node.childNodes {
			visit(child)
		}
		if filter == nil || filter(node) {
			nodes = append(nodes, node)
		}
	}
	visit(tree.Node)
	return
}

func (tree *Tree) preOrder(filter func(*Node) bool) (nodes []*Node) {
	for node := range tree.Walker(filter) {
		nodes = append(nodes, node)
	}
	return
}

// MakeDirty marks every node with at least dirt d.
func (tree *Tree) MakeDirty(d Dirt) {
	for _, node := range tree.nodes {
		node.dirt |= d
	}
}

// MakeClean marks every node as clean.
func (tree *Tree) MakeClean() {
	for _, node := range tree.nodes {
		node.dirt = Clean
	}
}

// Store remembers all node heights, so they can be brought back by
// Restore.
func (tree *Tree) Store() {
	if tree.storedHeights == nil {
		tree.storedHeights = make([]float64, len(tree.nodes))
	}
	for i, node := range tree.nodes {
		tree.storedHeights[i] = node.Height
	}
}

// Restore sets the heights remembered by the last Store. Nodes are not
// marked dirty, since the likelihood restores its own buffers.
func (tree *Tree) Restore() {
	for i, node := range tree.nodes {
		node.Height = tree.storedHeights[i]
		node.dirt = Clean
	}
}

// CommonAncestor returns the most recent common ancestor of n1 and n2
// walking upwards by height. On equal heights (zero length branches)
// the side with a positive branch is kept; when both branches are
// zero the node which is not an ancestor of the other is advanced.
func CommonAncestor(n1, n2 *Node) *Node {
	for n1 != n2 {
		h1, h2 := n1.Height, n2.Height
		switch {
		case h1 < h2:
			n1 = n1.Parent
		case h2 < h1:
			n2 = n2.Parent
		default:
			switch {
			case !n1.IsRoot() && n1.Length() > 0:
				n2 = n2.Parent
			case !n2.IsRoot() && n2.Length() > 0:
				n1 = n1.Parent
			case n1.isAncestorOf(n2):
				n2 = n2.Parent
			default:
				n1 = n1.Parent
			}
		}
		if n1 == nil || n2 == nil {
			return nil
		}
	}
	return n1
}

// isAncestorOf returns true if node is an ancestor of other (or
// the same node).
func (node *Node) isAncestorOf(other *Node) bool {
	for n := other; n != nil; n = n.Parent {
		if n == node {
			return true
		}
	}
	return false
}

// Copy creates an independent copy of the tree.
func (tree *Tree) Copy() (newTree *Tree) {
	newTree = &Tree{
		nodes:   make([]*Node, len(tree.nodes)),
		nLeaves: tree.nLeaves,
	}

	for i, node := range tree.nodes {
		if i != node.Id {
			panic("node id mismatch")
		}
		newTree.nodes[i] = node.Copy()
	}

	// Rewire node/parent connections.
	for i, node := range tree.nodes {
		newNode := newTree.nodes[i]
		for _, child := range node.childNodes {
			newNode.AddChild(newTree.nodes[child.Id])
		}
	}

	newTree.Node = newTree.nodes[tree.Node.Id]
	newTree.Store()
	return
}

// Copy creates copy of node with empty parent and children.
func (node *Node) Copy() *Node {
	return &Node{
		Name:       node.Name,
		Id:         node.Id,
		Class:      node.Class,
		Height:     node.Height,
		length:     node.length,
		dirt:       node.dirt,
		childNodes: make([]*Node, 0, len(node.childNodes)),
	}
}

// AddChild adds subNode as the last child of node.
func (node *Node) AddChild(subNode *Node) {
	subNode.Parent = node
	node.childNodes = append(node.childNodes, subNode)
}

// ChildNodes returns the children.
func (node *Node) ChildNodes() []*Node {
	return node.childNodes
}

// Left returns the first child.
func (node *Node) Left() *Node {
	if len(node.childNodes) == 0 {
		return nil
	}
	return node.childNodes[0]
}

// Right returns the second child.
func (node *Node) Right() *Node {
	if len(node.childNodes) < 2 {
		return nil
	}
	return node.childNodes[1]
}

// Sibling returns the other child of the parent.
func (node *Node) Sibling() *Node {
	if node.Parent == nil {
		return nil
	}
	if node.Parent.Left() == node {
		return node.Parent.Right()
	}
	return node.Parent.Left()
}

// Length returns the branch length, i.e. the height difference with
// the parent. Root has zero length.
func (node *Node) Length() float64 {
	if node.Parent == nil {
		return 0
	}
	return node.Parent.Height - node.Height
}

// SetHeight changes the node height and marks the node and its children
// dirty, since all three branches change.
func (node *Node) SetHeight(h float64) {
	node.Height = h
	node.dirt |= Dirty
	for _, child := range node.childNodes {
		child.dirt |= Dirty
	}
}

// Dirt returns the change state of the node.
func (node *Node) Dirt() Dirt {
	return node.dirt
}

// MakeDirty marks the node with at least dirt d.
func (node *Node) MakeDirty(d Dirt) {
	node.dirt |= d
}

// MakeClean marks the node as clean.
func (node *Node) MakeClean() {
	node.dirt = Clean
}

// Walk sends all the nodes passing filter to ch in pre-order.
func (node *Node) Walk(ch chan *Node, filter func(*Node) bool) {
	if filter == nil || filter(node) {
		ch <- node
	}
	for _, node := range node.childNodes {
		node.Walk(ch, filter)
	}
}

// NSubNodes returns the size of the subtree including node.
func (node *Node) NSubNodes() (size int) {
	for _, node := range node.childNodes {
		size += node.NSubNodes()
	}
	return size + 1
}

// IsRoot returns true for the root node.
func (node *Node) IsRoot() bool {
	return node.Parent == nil
}

// IsTerminal returns true for leaves.
func (node *Node) IsTerminal() bool {
	return len(node.childNodes) == 0
}

// String returns the subtree in Newick format.
func (node *Node) String() (s string) {
	if node.IsTerminal() {
		return fmt.Sprintf("%s:%0.6f", node.Name, node.Length())
	}
	s += "("
	for i, child := range node.childNodes {
		s += child.String()
		if i != len(node.childNodes)-1 {
			s += ","
		}
	}
	s += fmt.Sprintf("):%0.6f", node.Length())
	if node.IsRoot() {
		s += ";"
	}
	return s
}

// IdString returns the subtree in Newick format with node ids instead
// of branch lengths.
func (node *Node) IdString() (s string) {
	if node.IsTerminal() {
		return fmt.Sprintf("%s#%d", node.Name, node.Id)
	}
	s += "("
	for i, child := range node.childNodes {
		s += child.IdString()
		if i != len(node.childNodes)-1 {
			s += ","
		}
	}
	s += fmt.Sprintf(")#%d", node.Id)
	if node.IsRoot() {
		s += ";"
	}
	return s
}

// LongString returns a single node description.
func (node *Node) LongString() (s string) {
	s = "<"
	if node.Parent == nil {
		s += "root, "
	}
	if node.Name != "" {
		s += "name=" + node.Name + ", "
	}
	s += fmt.Sprintf("Id=%v, Height=%v", node.Id, node.Height)
	if node.Class != 0 {
		s += fmt.Sprintf(", Class=%v", node.Class)
	}
	if node.dirt != Clean {
		s += ", " + node.dirt.String()
	}
	s += ">"
	return
}

// FullString returns an indented description of the subtree.
func (node *Node) FullString() string {
	return strings.TrimSpace(node.prefixString(""))
}

func (node *Node) prefixString(prefix string) (s string) {
	s = prefix + node.LongString() + "\n"
	for _, node := range node.childNodes {
		s += node.prefixString(prefix + "    ")
	}
	return
}
