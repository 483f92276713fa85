// Package querybuilder compiles a schema.Tree into one recursive SQL
// statement per root that emits _id/_source/_keys for every row selected by
// the root's filters (§4.3).
package querybuilder

import "fmt"

// aliaser hands out unique, deterministic table aliases so the same tree
// compiles to the same SQL text on every call (needed for self-referential
// subtrees, where the same table appears more than once).
type aliaser struct {
	n int
}

func (a *aliaser) next() string {
	a.n++
	return fmt.Sprintf("t%d", a.n)
}
