package core

import (
	"log/slog"
	"strings"
)

// MergedCat is the union of same-path categories across splits. It is never
// persisted.
type MergedCat struct {
	Name     string   `json:"name"`
	NamePath []string `json:"namePath"`
	Amount   float64  `json:"amount"`
}

// CategoryNode is one node of a CategoryTree. Children are indexes into the
// tree's node arena.
type CategoryNode struct {
	Name     string   `json:"name"`
	Path     []string `json:"path"`
	Spent    float64  `json:"spent"`
	Received float64  `json:"received"`
	TxIDs    []string `json:"txIds"`
	Children []int    `json:"children"`

	spentCents    int64
	receivedCents int64
}

// CategoryTree is an arena of category nodes keyed by path prefix.
type CategoryTree struct {
	Nodes []CategoryNode `json:"nodes"`
	Roots []int          `json:"roots"`
}

const pathSep = "\x1f"

func pathKey(path []string) string {
	return strings.Join(path, pathSep)
}

// MergeSplitCategories folds the categories of every split into one entry
// per distinct name path, in first-seen order. Categories with an empty path
// are skipped.
func MergeSplitCategories(splits []Split) []MergedCat {
	m := newMerger()
	for _, s := range splits {
		m.addSplit(s)
	}
	return m.result()
}

// MergeTxCategories merges across every split of every transaction.
func MergeTxCategories(txs []Tx) []MergedCat {
	m := newMerger()
	for _, t := range txs {
		for _, s := range t.Splits {
			m.addSplit(s)
		}
	}
	return m.result()
}

type merger struct {
	index map[string]int
	out   []MergedCat
	cents []int64
}

func newMerger() *merger {
	return &merger{index: make(map[string]int)}
}

func (m *merger) addSplit(s Split) {
	for _, c := range s.Cats {
		if len(c.NamePath) == 0 {
			slog.Warn("Skipping category with empty name path",
				"component", "core", "split_user", s.UserID, "category", c.Name, "amount", c.Amount)
			continue
		}
		k := pathKey(c.NamePath)
		i, ok := m.index[k]
		if !ok {
			i = len(m.out)
			m.index[k] = i
			m.out = append(m.out, MergedCat{
				Name:     c.NamePath[len(c.NamePath)-1],
				NamePath: append([]string(nil), c.NamePath...),
			})
			m.cents = append(m.cents, 0)
		}
		m.cents[i] += ToCents(c.Amount)
	}
}

func (m *merger) result() []MergedCat {
	out := make([]MergedCat, len(m.out))
	for i, mc := range m.out {
		mc.Amount = FromCents(m.cents[i])
		out[i] = mc
	}
	return out
}

// BuildCategoryTree folds the merged categories of txs into a tree keyed by
// path segment. With a non-empty userID only that participant's split of
// each transaction is counted.
//
// Every node on a category's path accumulates the amount: positive amounts
// into Spent, negative amounts sign-flipped into Received. The transaction id
// is recorded only on the node matching the full path.
func BuildCategoryTree(txs []Tx, userID string) *CategoryTree {
	tree := &CategoryTree{Nodes: []CategoryNode{}, Roots: []int{}}
	for _, t := range txs {
		splits := t.Splits
		if userID != "" {
			i := t.SplitFor(userID)
			if i < 0 {
				continue
			}
			splits = t.Splits[i : i+1]
		}
		for _, mc := range MergeSplitCategories(splits) {
			tree.add(mc, t.ID())
		}
	}
	for i := range tree.Nodes {
		tree.Nodes[i].Spent = FromCents(tree.Nodes[i].spentCents)
		tree.Nodes[i].Received = FromCents(tree.Nodes[i].receivedCents)
	}
	return tree
}

func (t *CategoryTree) add(mc MergedCat, txID string) {
	cents := ToCents(mc.Amount)
	parent, idx := -1, -1
	for depth, name := range mc.NamePath {
		siblings := t.Roots
		if parent >= 0 {
			siblings = t.Nodes[parent].Children
		}
		idx = t.child(siblings, name)
		if idx < 0 {
			idx = len(t.Nodes)
			t.Nodes = append(t.Nodes, CategoryNode{
				Name:     name,
				Path:     append([]string(nil), mc.NamePath[:depth+1]...),
				TxIDs:    []string{},
				Children: []int{},
			})
			// Nodes may have been reallocated; index again.
			if parent >= 0 {
				t.Nodes[parent].Children = append(t.Nodes[parent].Children, idx)
			} else {
				t.Roots = append(t.Roots, idx)
			}
		}
		n := &t.Nodes[idx]
		if cents >= 0 {
			n.spentCents += cents
		} else {
			n.receivedCents -= cents
		}
		parent = idx
	}
	if idx >= 0 && txID != "" {
		leaf := &t.Nodes[idx]
		for _, id := range leaf.TxIDs {
			if id == txID {
				return
			}
		}
		leaf.TxIDs = append(leaf.TxIDs, txID)
	}
}

func (t *CategoryTree) child(siblings []int, name string) int {
	for _, i := range siblings {
		if t.Nodes[i].Name == name {
			return i
		}
	}
	return -1
}

// Find returns the node at the exact path, or nil.
func (t *CategoryTree) Find(path []string) *CategoryNode {
	siblings := t.Roots
	var node *CategoryNode
	for _, name := range path {
		i := t.child(siblings, name)
		if i < 0 {
			return nil
		}
		node = &t.Nodes[i]
		siblings = node.Children
	}
	return node
}

// Walk visits nodes depth first in sibling order. Returning false from fn
// skips the node's children.
func (t *CategoryTree) Walk(fn func(depth int, n *CategoryNode) bool) {
	var visit func(ids []int, depth int)
	visit = func(ids []int, depth int) {
		for _, i := range ids {
			if fn(depth, &t.Nodes[i]) {
				visit(t.Nodes[i].Children, depth+1)
			}
		}
	}
	visit(t.Roots, 0)
}
