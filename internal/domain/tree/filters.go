package tree

import (
	"strings"
)

// Filters are pure views over a Tree snapshot: they build fresh maps and
// nodes, sharing only untouched record pointers, and never mutate the
// canonical tree.

// FilterEmpty drops every branch that accumulated no observable content:
// server spans survive only if they, or some descendant, carry request or
// response data.
func FilterEmpty(t Tree) Tree {
	out := make(Tree)
	for _, root := range Roots(t) {
		copyNonEmpty(out, root)
	}
	return out
}

func copyNonEmpty(out Tree, n *Node) *Node {
	var kept []*Node
	for _, c := range n.Children {
		if copied := copyNonEmpty(out, c); copied != nil {
			kept = append(kept, copied)
		}
	}
	if n.Request == nil && n.Response == nil && len(kept) == 0 {
		return nil
	}
	copied := clone(n)
	for _, c := range kept {
		copied.appendChild(c)
	}
	insert(out, copied)
	return copied
}

// CollapseIntermediate flattens the forest for the condensed view: every
// leaf is re-parented directly under the top of its ancestor chain, and
// ancestors with no reachable leaves disappear. A leaf with no eligible
// ancestor stays a standalone root.
func CollapseIntermediate(t Tree) Tree {
	out := make(Tree)
	targets := make(map[*Node]*Node)

	for _, n := range t {
		if !n.IsLeaf() {
			continue
		}
		top := collapseTarget(t, n)
		if top == nil {
			insert(out, clone(n))
			continue
		}
		copied, ok := targets[top]
		if !ok {
			copied = clone(top)
			targets[top] = copied
			insert(out, copied)
		}
		if n != top {
			leaf := clone(n)
			copied.appendChild(leaf)
			insert(out, leaf)
		}
	}
	return out
}

// collapseTarget walks the parent chain skipping server-span ancestors
// until a non-server-span ancestor or the chain top. Nil means the leaf
// has no ancestor at all.
func collapseTarget(t Tree, leaf *Node) *Node {
	anc := parentOf(t, leaf)
	var top *Node
	for anc != nil && anc != leaf {
		top = anc
		if !anc.IsServerSpan {
			break
		}
		next := parentOf(t, anc)
		if next == anc {
			break
		}
		anc = next
	}
	return top
}

// RequestsOnly drops every server span, leaving the HTTP exchanges as a
// flat list. No hierarchy is reconstructed.
func RequestsOnly(t Tree) Tree {
	out := make(Tree)
	for _, n := range t {
		if n.IsServerSpan {
			continue
		}
		copied := clone(n)
		copied.Children = nil
		insert(out, copied)
	}
	return out
}

// FilterBySubstring keeps nodes whose identifying string — or any direct
// child's — contains needle (case-insensitive), together with every
// ancestor of a match and, iterated to a fixed point, every node with an
// included child. No match yields an empty tree.
func FilterBySubstring(t Tree, needle string) Tree {
	needle = strings.ToLower(needle)
	included := make(map[*Node]bool)

	for _, n := range t {
		if !matchesSubstring(n, needle) {
			continue
		}
		included[n] = true
		for anc := parentOf(t, n); anc != nil && !included[anc]; anc = parentOf(t, anc) {
			included[anc] = true
		}
	}

	// Inclusion cascades: a parent with any included child joins, which can
	// in turn include its own parent.
	for changed := true; changed; {
		changed = false
		for _, n := range t {
			if included[n] {
				continue
			}
			for _, c := range n.Children {
				if included[c] {
					included[n] = true
					changed = true
					break
				}
			}
		}
	}

	out := make(Tree)
	copies := make(map[*Node]*Node)
	for n := range included {
		copies[n] = clone(n)
	}
	for n, copied := range copies {
		for _, c := range n.Children {
			if childCopy, ok := copies[c]; ok {
				copied.appendChild(childCopy)
			}
		}
		insert(out, copied)
	}
	return out
}

func matchesSubstring(n *Node, needle string) bool {
	if strings.Contains(strings.ToLower(n.Label()), needle) {
		return true
	}
	for _, c := range n.Children {
		if strings.Contains(strings.ToLower(c.Label()), needle) {
			return true
		}
	}
	return false
}

// Roots yields the forest tops of a snapshot: every node not owned by some
// parent's children list, orphans included.
func Roots(t Tree) []*Node {
	var out []*Node
	for _, n := range t {
		if !n.owned {
			out = append(out, n)
		}
	}
	return out
}

func parentOf(t Tree, n *Node) *Node {
	if n.ParentSpanID == "" {
		return nil
	}
	parent, ok := t[SpanKey(n.ParentSpanID)]
	if !ok {
		return nil
	}
	return parent
}

// clone copies a node without its children or ownership.
func clone(n *Node) *Node {
	copied := *n
	copied.Children = nil
	copied.owned = false
	return &copied
}

// insert places a node back into a map under its natural key.
func insert(t Tree, n *Node) {
	if key, ok := nodeKey(n); ok {
		t[key] = n
	}
}

func nodeKey(n *Node) (Key, bool) {
	switch {
	case n.IsServerSpan && n.SpanID != "":
		return SpanKey(n.SpanID), true
	case n.Request != nil:
		return RequestKey(n.Request.ID), true
	case n.Response != nil:
		return RequestKey(n.Response.ID), true
	default:
		return Key{}, false
	}
}
