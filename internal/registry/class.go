package registry

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring"
)

// NoParentToken is the literal archive value declaring "no base class".
// The archive that carries it defines the root of the class tree.
const NoParentToken = "None"

var (
	ErrDuplicateParent = errors.New("class already has a different parent")
	ErrUndefinedClass  = errors.New("class referenced as parent but never defined by an archive")
	ErrNoRoot          = errors.New("class tree has no root")
	ErrMultipleRoots   = errors.New("class tree has multiple roots")
	ErrIDsNotAssigned  = errors.New("class ids not assigned")
)

// ClassNode is one engine class. Identity is the case-insensitive name;
// ID is the database id, assigned by AssignIDs in pre-order so a parent's
// id is always lower than its children's.
type ClassNode struct {
	ID            uint32
	Name          string
	Category      *Category
	Parent        *ClassNode
	Children      []*ClassNode
	TotalChildren int // objects of this class or any descendant class
	NumChunkFiles int

	// Defined flips when the class's own archive is scanned. A node that
	// is only ever referenced as someone's parent stays undefined, which
	// Validate treats as corrupt source data.
	Defined bool

	// declaredRoot is set when the class's archive declares NoParentToken.
	// Such a node can never be given a parent afterward.
	declaredRoot bool

	// AggregateIDs is self plus every ancestor; SubclassIDs is self plus
	// every descendant. Both are valid only after the Compute* passes.
	AggregateIDs *roaring.Bitmap
	SubclassIDs  *roaring.Bitmap
}

// NumChildren returns the direct child count.
func (n *ClassNode) NumChildren() int { return len(n.Children) }

// Display prints the subtree rooted at n, one class per indented line.
func (n *ClassNode) Display(w io.Writer, level int) {
	fmt.Fprintf(w, "%s -> %s\n", strings.Repeat("  ", level), n.Name)
	for _, child := range sortedByName(n.Children) {
		child.Display(w, level+1)
	}
}

// ClassTree owns every ClassNode: an insertion-ordered arena plus a
// folded-name lookup map. Nodes are created lazily — a class may be
// referenced as a parent before its own archive is scanned.
type ClassTree struct {
	arena  []*ClassNode
	byName map[string]int // folded class name -> arena index
}

func NewClassTree() *ClassTree {
	return &ClassTree{byName: make(map[string]int)}
}

// GetOrCreate returns the node for name, creating it if needed. The
// NoParentToken sentinel returns nil: the caller is looking at the root's
// parent declaration.
func (t *ClassTree) GetOrCreate(name string) *ClassNode {
	if name == NoParentToken {
		return nil
	}
	folded := strings.ToLower(name)
	if i, ok := t.byName[folded]; ok {
		return t.arena[i]
	}
	n := &ClassNode{Name: name}
	t.arena = append(t.arena, n)
	t.byName[folded] = len(t.arena) - 1
	return n
}

// Lookup returns the node for name without creating it.
func (t *ClassTree) Lookup(name string) (*ClassNode, bool) {
	i, ok := t.byName[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return t.arena[i], true
}

// Len returns the number of known classes.
func (t *ClassTree) Len() int { return len(t.arena) }

// All returns every node in arena (discovery) order.
func (t *ClassTree) All() []*ClassNode { return t.arena }

// SetParent links child under parent. A child that already has a different
// parent means a corrupt or duplicate source archive; the run must abort
// rather than silently rewrite lineage.
func (t *ClassTree) SetParent(child, parent *ClassNode) error {
	if child.Parent == parent {
		return nil
	}
	if child.declaredRoot {
		return fmt.Errorf("%w: %s declared itself the root, refusing parent %s",
			ErrDuplicateParent, child.Name, parent.Name)
	}
	if child.Parent != nil {
		return fmt.Errorf("%w: %s has parent %s, refusing %s",
			ErrDuplicateParent, child.Name, child.Parent.Name, parent.Name)
	}
	child.Parent = parent
	parent.Children = append(parent.Children, child)
	return nil
}

// DeclareRoot records that n's own archive declared NoParentToken. The
// declaration is permanent for the run.
func (t *ClassTree) DeclareRoot(n *ClassNode) {
	n.declaredRoot = true
}

// Validate checks that every node referenced as a parent was eventually
// defined by its own archive, and that exactly one root exists. It must run
// after the full header scan and before any closure computation.
func (t *ClassTree) Validate() error {
	var missing []string
	for _, n := range t.arena {
		if !n.Defined {
			missing = append(missing, n.Name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s", ErrUndefinedClass, strings.Join(missing, ", "))
	}
	_, err := t.Root()
	return err
}

// Root returns the unique parentless node.
func (t *ClassTree) Root() (*ClassNode, error) {
	var root *ClassNode
	for _, n := range t.arena {
		if n.Parent != nil {
			continue
		}
		if root != nil {
			return nil, fmt.Errorf("%w: %s and %s", ErrMultipleRoots, root.Name, n.Name)
		}
		root = n
	}
	if root == nil {
		return nil, ErrNoRoot
	}
	return root, nil
}

// AssignIDs numbers every class 1..N in pre-order from the root, siblings
// in case-insensitive name order. Consumers rely on a parent id never
// exceeding its child's.
func (t *ClassTree) AssignIDs() error {
	root, err := t.Root()
	if err != nil {
		return err
	}
	next := uint32(1)
	t.walkPre(root, func(n *ClassNode) {
		n.ID = next
		next++
	})
	return nil
}

// ComputeAggregates fills AggregateIDs for every node: its own id plus the
// ids of every ancestor up to the root. Requires AssignIDs.
func (t *ClassTree) ComputeAggregates() error {
	root, err := t.Root()
	if err != nil {
		return err
	}
	if root.ID == 0 {
		return ErrIDsNotAssigned
	}
	var down func(n *ClassNode, inherited *roaring.Bitmap)
	down = func(n *ClassNode, inherited *roaring.Bitmap) {
		agg := inherited.Clone()
		agg.Add(n.ID)
		n.AggregateIDs = agg
		for _, child := range n.Children {
			down(child, agg)
		}
	}
	down(root, roaring.New())
	return nil
}

// ComputeSubclasses fills SubclassIDs for every node: its own id plus the
// ids of every descendant. Computed as its own post-order pass rather than
// inverted out of AggregateIDs — the store needs an enumerable set per
// class for the class_descendant join table.
func (t *ClassTree) ComputeSubclasses() error {
	root, err := t.Root()
	if err != nil {
		return err
	}
	if root.ID == 0 {
		return ErrIDsNotAssigned
	}
	var up func(n *ClassNode) *roaring.Bitmap
	up = func(n *ClassNode) *roaring.Bitmap {
		sub := roaring.New()
		sub.Add(n.ID)
		for _, child := range n.Children {
			sub.Or(up(child))
		}
		n.SubclassIDs = sub
		return sub
	}
	up(root)
	return nil
}

// IncTotalChildren counts one object instance against n and every class
// above it. Called once per object attached to the tree; this is how
// total_children is derived without a second table scan.
func (t *ClassTree) IncTotalChildren(n *ClassNode) {
	for c := n; c != nil; c = c.Parent {
		c.TotalChildren++
	}
}

// WalkPreOrder visits every node root-first, siblings in case-insensitive
// name order. This is the persistence order: a class row is never written
// before its parent's row.
func (t *ClassTree) WalkPreOrder(fn func(*ClassNode) error) error {
	root, err := t.Root()
	if err != nil {
		return err
	}
	var walk func(n *ClassNode) error
	walk = func(n *ClassNode) error {
		if err := fn(n); err != nil {
			return err
		}
		for _, child := range sortedByName(n.Children) {
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(root)
}

func (t *ClassTree) walkPre(n *ClassNode, fn func(*ClassNode)) {
	fn(n)
	for _, child := range sortedByName(n.Children) {
		t.walkPre(child, fn)
	}
}

func sortedByName(nodes []*ClassNode) []*ClassNode {
	out := make([]*ClassNode, len(nodes))
	copy(out, nodes)
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}
