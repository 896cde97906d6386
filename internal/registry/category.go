package registry

import (
	"errors"
	"fmt"
	"strings"
)

// OthersCategory is the fallback bucket for classes that no configured
// category claims. It is created lazily on the first unmatched lookup.
const OthersCategory = "Others"

var ErrCategoryConflict = errors.New("class claimed by two categories")

// Category is a named bucket of class names. Membership is remembered
// per run so repeated lookups for the same class are stable.
type Category struct {
	ID      uint32
	Name    string
	members map[string]struct{} // folded class names
}

// Members returns the folded class names assigned to this category,
// in no particular order.
func (c *Category) Members() []string {
	out := make([]string, 0, len(c.members))
	for m := range c.members {
		out = append(out, m)
	}
	return out
}

// CategoryIndex maps class names to their display category. Categories are
// append-only for the duration of a run; IDs are assigned on creation,
// starting at 1.
type CategoryIndex struct {
	arena   []*Category
	byName  map[string]int // folded category name -> arena index
	byClass map[string]int // folded class name -> arena index
	others  int            // arena index of the Others bucket, -1 until created
}

func NewCategoryIndex() *CategoryIndex {
	return &CategoryIndex{
		byName:  make(map[string]int),
		byClass: make(map[string]int),
		others:  -1,
	}
}

// Add registers a category and its initial member class names. A class name
// already claimed by a different category is a fatal data-entry mistake in
// the category table, not something to resolve by last-write-wins.
func (x *CategoryIndex) Add(name string, classNames []string) error {
	cat := x.getOrCreate(name)
	for _, cn := range classNames {
		folded := strings.ToLower(cn)
		if prev, ok := x.byClass[folded]; ok && x.arena[prev] != cat {
			return fmt.Errorf("%w: %s claimed by both %s and %s",
				ErrCategoryConflict, cn, x.arena[prev].Name, cat.Name)
		}
		cat.members[folded] = struct{}{}
		x.byClass[folded] = x.index(cat)
	}
	return nil
}

// Classify returns the category owning className, falling back to the
// Others bucket for unrecognized classes. The fallback assignment is
// memoized, so within one run the answer never changes.
func (x *CategoryIndex) Classify(className string) *Category {
	folded := strings.ToLower(className)
	if i, ok := x.byClass[folded]; ok {
		return x.arena[i]
	}
	if x.others == -1 {
		x.getOrCreate(OthersCategory)
		x.others = x.byName[strings.ToLower(OthersCategory)]
	}
	cat := x.arena[x.others]
	cat.members[folded] = struct{}{}
	x.byClass[folded] = x.others
	return cat
}

// Categories returns every category in creation order.
func (x *CategoryIndex) Categories() []*Category {
	return x.arena
}

func (x *CategoryIndex) getOrCreate(name string) *Category {
	folded := strings.ToLower(name)
	if i, ok := x.byName[folded]; ok {
		return x.arena[i]
	}
	cat := &Category{
		ID:      uint32(len(x.arena) + 1),
		Name:    name,
		members: make(map[string]struct{}),
	}
	x.arena = append(x.arena, cat)
	x.byName[folded] = len(x.arena) - 1
	return cat
}

func (x *CategoryIndex) index(c *Category) int {
	return int(c.ID) - 1
}
