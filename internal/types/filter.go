package types

// RowFilter is a single column=value conjunction; a list of RowFilters is
// OR-ed together by the query builder, each RowFilter's entries AND-ed
// (§4.3.3).
type RowFilter map[string]any

// CtidRange scopes a resync to specific physical tuples: a page number and
// the set of offsets within it (§4.3.3 "ctid ∈ {pages → offsets}").
type CtidRange map[int64][]int64

// ResyncFilter is what C4 hands to C3: root-level restrictions plus
// optional per-node filters for targeted joins.
type ResyncFilter struct {
	// RootFilters restrict the root node's rows directly (OR of RowFilter).
	RootFilters []RowFilter

	// XminMin / XminMax bound xmin >= XminMin, xmin < XminMax when non-nil.
	XminMin *int64
	XminMax *int64

	// Ctid scopes the root query to specific tuples, when non-nil.
	Ctid CtidRange

	// NodeFilters restricts a named descendant node's rows directly; when
	// set for a node, the parent join for that node switches to INNER
	// (§4.3.3).
	NodeFilters map[string][]RowFilter
}

// Empty reports whether this filter carries no restriction at all (a full
// resync of every row).
func (f *ResyncFilter) Empty() bool {
	return f == nil || (len(f.RootFilters) == 0 && f.XminMin == nil && f.XminMax == nil && f.Ctid == nil && len(f.NodeFilters) == 0)
}

// DeleteAction is a direct delete the translator can hand to the sink
// without going through the query builder (§4.4).
type DeleteAction struct {
	ID string
}
