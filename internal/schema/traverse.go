package schema

import "github.com/pgsync-go/pgsync/internal/types"

// PreOrder visits the root, then each child's subtree, left to right.
func (t *Tree) PreOrder(visit func(*types.Node)) {
	preOrder(t.Root, visit)
}

func preOrder(n *types.Node, visit func(*types.Node)) {
	if n == nil {
		return
	}
	visit(n)
	for _, c := range n.Children {
		preOrder(c, visit)
	}
}

// PostOrder visits each child's subtree before the node itself — the order
// the query builder composes child subqueries bottom-up (§4.3).
func (t *Tree) PostOrder(visit func(*types.Node)) {
	postOrder(t.Root, visit)
}

func postOrder(n *types.Node, visit func(*types.Node)) {
	if n == nil {
		return
	}
	for _, c := range n.Children {
		postOrder(c, visit)
	}
	visit(n)
}

// BreadthFirst visits level by level starting from the root.
func (t *Tree) BreadthFirst(visit func(*types.Node)) {
	queue := []*types.Node{t.Root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n == nil {
			continue
		}
		visit(n)
		queue = append(queue, n.Children...)
	}
}

// NodesForTable returns every node in the tree whose Table matches (a table
// may appear more than once, e.g. self-referential subtrees).
func (t *Tree) NodesForTable(table string) []*types.Node {
	var out []*types.Node
	t.PreOrder(func(n *types.Node) {
		if n.Table == table {
			out = append(out, n)
		}
	})
	return out
}

// ThroughTableRef pairs a node whose relationship declares a through-table
// with that through-table's name (§4.3.1 "through child").
type ThroughTableRef struct {
	Node          *types.Node
	ThroughTable  string
}

// ThroughTables returns every through-table name used anywhere in the tree.
func (t *Tree) ThroughTables() []ThroughTableRef {
	var out []ThroughTableRef
	t.PreOrder(func(n *types.Node) {
		if n.Relationship.HasThrough() {
			out = append(out, ThroughTableRef{Node: n, ThroughTable: n.Relationship.ThroughTables[0]})
		}
	})
	return out
}

// WatchedColumnsTables returns the set of tables anywhere in the tree with a
// non-empty WatchedColumns list (§4.2, the ingestion fast path).
func (t *Tree) WatchedColumnsTables() map[string]bool {
	out := make(map[string]bool, len(t.watchedTables))
	for k, v := range t.watchedTables {
		out[k] = v
	}
	return out
}

func computeWatchedTables(root *types.Node) map[string]bool {
	out := map[string]bool{}
	preOrder(root, func(n *types.Node) {
		if len(n.WatchedColumns) > 0 {
			out[n.Table] = true
		}
	})
	return out
}
