// Package certificate maintains the UNSAT certificate tree: one node per
// decision taken by the search, holding the case split that produced it.
// The tree is an arena indexed by NodeID, so nodes carry no back-pointers.
package certificate

// A Split is the case split recorded on a node. The concrete type lives in
// the solver package; the tree only needs equality to locate children.
type Split interface {
	Equals(Split) bool
}

// A NodeID identifies a node within its Tree.
type NodeID int

// None is the absent node.
const None NodeID = -1

type node struct {
	parent        NodeID
	children      []NodeID
	split         Split
	contradiction bool
}

// A Tree is the proof tree. The root carries no split; every other node
// records the split taken to reach it.
type Tree struct {
	nodes []node
}

// NewTree returns a tree holding only the root.
func NewTree() *Tree {
	return &Tree{nodes: []node{{parent: None}}}
}

// Root returns the root node's id.
func (t *Tree) Root() NodeID {
	return 0
}

// Size returns the number of nodes.
func (t *Tree) Size() int {
	return len(t.nodes)
}

// AddChild creates a child of parent recording the given split.
func (t *Tree) AddChild(parent NodeID, split Split) NodeID {
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, node{parent: parent, split: split})
	t.nodes[parent].children = append(t.nodes[parent].children, id)
	return id
}

// Parent returns the parent of id, or None for the root.
func (t *Tree) Parent(id NodeID) NodeID {
	return t.nodes[id].parent
}

// Children returns the child ids of id.
func (t *Tree) Children(id NodeID) []NodeID {
	return t.nodes[id].children
}

// Split returns the split recorded on id; the root returns nil.
func (t *Tree) Split(id NodeID) Split {
	return t.nodes[id].split
}

// ChildBySplit returns the child of id whose split equals the given one,
// or None if id has no such child.
func (t *Tree) ChildBySplit(id NodeID, split Split) NodeID {
	for _, child := range t.nodes[id].children {
		if t.nodes[child].split != nil && t.nodes[child].split.Equals(split) {
			return child
		}
	}
	return None
}

// MarkContradiction flags id as closed by a contradiction.
func (t *Tree) MarkContradiction(id NodeID) {
	t.nodes[id].contradiction = true
}

// HasContradiction reports whether id was closed by a contradiction.
func (t *Tree) HasContradiction(id NodeID) bool {
	return t.nodes[id].contradiction
}
