package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring"
)

var ErrDuplicateObject = errors.New("object already completed from another record")

// ObjectNode is one node in the object namespace. Not every node is a real
// dumped object: path segments referenced by a child's name exist as bare
// "folders" with no class and no source location.
type ObjectNode struct {
	ID        uint32
	Name      string // fully-qualified, original case
	ShortName string
	Separator byte // '.' or ':', 0 for top-level nodes
	Parent    *ObjectNode
	Children  []*ObjectNode
	Class     *ClassNode

	// Source location of the dumped record. ChunkIndex is 1-based;
	// 0 means this node has no record of its own.
	ChunkIndex  int
	ChunkOffset int64
	ByteLength  int64

	TotalChildren int

	// ShowClassIDs is every class id whose selection should reveal this
	// node; HasClassChildren is the subset for which the match is on a
	// descendant rather than the node itself. Nil until the closure pass
	// runs (and left nil for nodes no class reaches).
	ShowClassIDs     *roaring.Bitmap
	HasClassChildren *roaring.Bitmap
}

// NumChildren returns the direct child count.
func (n *ObjectNode) NumChildren() int { return len(n.Children) }

// HasDump reports whether this node carries an actual dumped record.
func (n *ObjectNode) HasDump() bool { return n.ChunkIndex > 0 }

// ObjectTree owns every ObjectNode: an insertion-ordered arena plus a
// folded-name lookup map, mirroring ClassTree. Unlike the class tree the
// object namespace is a forest — there is no single root.
type ObjectTree struct {
	classes *ClassTree
	arena   []*ObjectNode
	byName  map[string]int // folded full name -> arena index
}

func NewObjectTree(classes *ClassTree) *ObjectTree {
	return &ObjectTree{classes: classes, byName: make(map[string]int)}
}

// GetOrCreate returns the node for the fully-qualified name, creating it —
// and its whole parent path — if needed. When class is non-nil the call
// "completes" the node with its class and record location; a node that was
// created earlier as a bare path segment is completed in place rather than
// duplicated. Completing a node twice means the source archives carry a
// duplicate record, which is fatal.
//
// Names split at the rightmost '.' or ':', whichever occurs later.
func (t *ObjectTree) GetOrCreate(name string, class *ClassNode, chunkIndex int, chunkOffset int64) (*ObjectNode, error) {
	folded := strings.ToLower(name)
	if i, ok := t.byName[folded]; ok {
		n := t.arena[i]
		if class == nil {
			return n, nil
		}
		if n.Class != nil {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateObject, name)
		}
		n.Class = class
		n.ChunkIndex = chunkIndex
		n.ChunkOffset = chunkOffset
		t.classes.IncTotalChildren(class)
		return n, nil
	}

	n := &ObjectNode{Name: name, ShortName: name}
	if idx := lastSeparator(name); idx >= 0 {
		parent, err := t.GetOrCreate(name[:idx], nil, 0, 0)
		if err != nil {
			return nil, err
		}
		n.ShortName = name[idx+1:]
		n.Separator = name[idx]
		n.Parent = parent
		parent.Children = append(parent.Children, n)
		for a := parent; a != nil; a = a.Parent {
			a.TotalChildren++
		}
	}
	if class != nil {
		n.Class = class
		n.ChunkIndex = chunkIndex
		n.ChunkOffset = chunkOffset
		t.classes.IncTotalChildren(class)
	}
	t.arena = append(t.arena, n)
	t.byName[folded] = len(t.arena) - 1
	return n, nil
}

// Lookup returns the node for name without creating it.
func (t *ObjectTree) Lookup(name string) (*ObjectNode, bool) {
	i, ok := t.byName[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return t.arena[i], true
}

// Len returns the number of known object nodes.
func (t *ObjectTree) Len() int { return len(t.arena) }

// All returns every node in arena (discovery) order.
func (t *ObjectTree) All() []*ObjectNode { return t.arena }

// FinalizeSpan fixes n's byte length once the following record (or end of
// stream) pins down where n's record stops. The dump format has no record
// terminator, so length is only recoverable this way.
func (t *ObjectTree) FinalizeSpan(n *ObjectNode, endOffset int64) {
	n.ByteLength = endOffset - n.ChunkOffset
}

// Roots returns the parentless nodes in case-insensitive name order.
func (t *ObjectTree) Roots() []*ObjectNode {
	var roots []*ObjectNode
	for _, n := range t.arena {
		if n.Parent == nil {
			roots = append(roots, n)
		}
	}
	sortObjectsByName(roots)
	return roots
}

// AssignIDs numbers every object 1..N in pre-order over the forest, roots
// and siblings in case-insensitive name order. Same contract as the class
// tree: a parent id never exceeds its child's.
func (t *ObjectTree) AssignIDs() {
	next := uint32(1)
	var walk func(n *ObjectNode)
	walk = func(n *ObjectNode) {
		n.ID = next
		next++
		children := make([]*ObjectNode, len(n.Children))
		copy(children, n.Children)
		sortObjectsByName(children)
		for _, c := range children {
			walk(c)
		}
	}
	for _, root := range t.Roots() {
		walk(root)
	}
}

// ComputeShowClassIDs decides, per object, every class id whose selection
// should reveal it. A node with a class seeds its class's full ancestor
// closure; the same set then propagates to every ancestor object, which
// also records it in HasClassChildren — the renderer's cue that the match
// is somewhere below, not on the ancestor itself.
func (t *ObjectTree) ComputeShowClassIDs() error {
	for _, n := range t.arena {
		if n.Class == nil {
			continue
		}
		if n.Class.AggregateIDs == nil {
			return fmt.Errorf("object %s: class %s has no aggregate ids (closures not computed)",
				n.Name, n.Class.Name)
		}
		ids := n.Class.AggregateIDs
		orInto(&n.ShowClassIDs, ids)
		for a := n.Parent; a != nil; a = a.Parent {
			orInto(&a.ShowClassIDs, ids)
			orInto(&a.HasClassChildren, ids)
		}
	}
	return nil
}

// WalkPreOrder visits the forest in persistence order: roots and siblings
// case-insensitive lexicographic, parents always before children.
func (t *ObjectTree) WalkPreOrder(fn func(*ObjectNode) error) error {
	var walk func(n *ObjectNode) error
	walk = func(n *ObjectNode) error {
		if err := fn(n); err != nil {
			return err
		}
		children := make([]*ObjectNode, len(n.Children))
		copy(children, n.Children)
		sortObjectsByName(children)
		for _, c := range children {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	for _, root := range t.Roots() {
		if err := walk(root); err != nil {
			return err
		}
	}
	return nil
}

// lastSeparator returns the index of the rightmost '.' or ':' in name,
// whichever occurs later, or -1.
func lastSeparator(name string) int {
	dot := strings.LastIndexByte(name, '.')
	colon := strings.LastIndexByte(name, ':')
	if colon > dot {
		return colon
	}
	return dot
}

func sortObjectsByName(nodes []*ObjectNode) {
	sort.Slice(nodes, func(i, j int) bool {
		return strings.ToLower(nodes[i].Name) < strings.ToLower(nodes[j].Name)
	})
}

func orInto(dst **roaring.Bitmap, src *roaring.Bitmap) {
	if *dst == nil {
		*dst = roaring.New()
	}
	(*dst).Or(src)
}
