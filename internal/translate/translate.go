// Package translate implements C4: mapping a homogeneous batch of row
// changes to either a resync filter the query builder can compile, or a
// list of direct delete actions for the sink (§4.4).
package translate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pgsync-go/pgsync/internal/schema"
	"github.com/pgsync-go/pgsync/internal/types"
)

// MetaSearcher is the subset of C6 the translator needs: looking up which
// root documents carry a given descendant row in their _meta reverse index
// (§4.4 "use the search engine's _meta reverse index"). terms is
// column→candidate-values; an empty terms map means "any row with this
// table present at all" (used by TRUNCATE, §4.4 "whose _meta.{table} entry
// exists").
type MetaSearcher interface {
	SearchMeta(ctx context.Context, index, table string, terms map[string][]any) ([]string, error)
	AllIDs(ctx context.Context, index string) ([]string, error)
}

// Translator holds the immutable tree (for table→node resolution) and the
// sink's meta search capability.
type Translator struct {
	tree   *schema.Tree
	search MetaSearcher
}

// New constructs a Translator for tree, looking up affected roots via
// search.
func New(tree *schema.Tree, search MetaSearcher) *Translator {
	return &Translator{tree: tree, search: search}
}

// Translate maps one homogeneous batch to a resync filter and/or a set of
// direct deletes (§4.4). A nil filter with no deletes means the batch's
// table is not part of this tree and was dropped.
func (t *Translator) Translate(ctx context.Context, batch types.Batch) (*types.ResyncFilter, []types.DeleteAction, error) {
	root := t.tree.Root
	isRootTable := batch.Table == root.Table && batch.Schema == root.Schema

	switch batch.TgOp {
	case types.OpInsert:
		return t.translateInsert(batch, isRootTable)
	case types.OpUpdate:
		return t.translateUpdate(ctx, batch, isRootTable)
	case types.OpDelete:
		return t.translateDelete(ctx, batch, isRootTable)
	case types.OpTruncate:
		return t.translateTruncate(ctx, batch, isRootTable)
	default:
		return nil, nil, fmt.Errorf("unsupported tg_op %q in batch", batch.TgOp)
	}
}

func (t *Translator) translateInsert(batch types.Batch, isRootTable bool) (*types.ResyncFilter, []types.DeleteAction, error) {
	if isRootTable {
		var filters []types.RowFilter
		for _, e := range batch.Events {
			filters = append(filters, rowFilter(e.New, t.tree.Root.PrimaryKeys))
		}
		return &types.ResyncFilter{RootFilters: filters}, nil, nil
	}

	anchor := t.locateAnchor(batch.Schema, batch.Table)
	if anchor == nil {
		return nil, nil, nil
	}
	fk := foreignKeyToParent(anchor, batch.Table)
	var filters []types.RowFilter
	for _, e := range batch.Events {
		filters = append(filters, parentRowFilter(e.New, fk))
	}
	return &types.ResyncFilter{NodeFilters: map[string][]types.RowFilter{anchor.Parent.Label: filters}}, nil, nil
}

func (t *Translator) translateUpdate(ctx context.Context, batch types.Batch, isRootTable bool) (*types.ResyncFilter, []types.DeleteAction, error) {
	root := t.tree.Root

	if isRootTable {
		var filters []types.RowFilter
		var deletes []types.DeleteAction
		for _, e := range batch.Events {
			filters = append(filters, rowFilter(e.New, root.PrimaryKeys))
			if pkChanged(e.Old, e.New, root.PrimaryKeys) {
				deletes = append(deletes, types.DeleteAction{ID: idFromRow(e.Old, root.PrimaryKeys)})
			}
		}
		return &types.ResyncFilter{RootFilters: filters}, deletes, nil
	}

	anchor := t.locateAnchor(batch.Schema, batch.Table)
	if anchor == nil {
		return nil, nil, nil
	}

	ids := map[string]bool{}
	for _, e := range batch.Events {
		if err := t.collectMetaIDs(ctx, batch.Table, e.Old, primaryKeysFor(anchor, batch.Table), ids); err != nil {
			return nil, nil, err
		}
		if fk := foreignKeyToParent(anchor, batch.Table); fk != nil {
			if err := t.collectMetaIDs(ctx, batch.Table, e.Old, fk.Child, ids); err != nil {
				return nil, nil, err
			}
			if err := t.collectMetaIDs(ctx, batch.Table, e.New, fk.Child, ids); err != nil {
				return nil, nil, err
			}
		}
	}

	filters, err := rootFiltersFromIDs(ids, root.PrimaryKeys)
	if err != nil {
		return nil, nil, err
	}
	return &types.ResyncFilter{RootFilters: filters}, nil, nil
}

func (t *Translator) translateDelete(ctx context.Context, batch types.Batch, isRootTable bool) (*types.ResyncFilter, []types.DeleteAction, error) {
	root := t.tree.Root

	if isRootTable {
		deletes := make([]types.DeleteAction, 0, len(batch.Events))
		for _, e := range batch.Events {
			deletes = append(deletes, types.DeleteAction{ID: idFromRow(e.Old, root.PrimaryKeys)})
		}
		return nil, deletes, nil
	}

	anchor := t.locateAnchor(batch.Schema, batch.Table)
	if anchor == nil {
		return nil, nil, nil
	}

	ids := map[string]bool{}
	for _, e := range batch.Events {
		if err := t.collectMetaIDs(ctx, batch.Table, e.Old, primaryKeysFor(anchor, batch.Table), ids); err != nil {
			return nil, nil, err
		}
	}
	filters, err := rootFiltersFromIDs(ids, root.PrimaryKeys)
	if err != nil {
		return nil, nil, err
	}
	return &types.ResyncFilter{RootFilters: filters}, nil, nil
}

func (t *Translator) translateTruncate(ctx context.Context, batch types.Batch, isRootTable bool) (*types.ResyncFilter, []types.DeleteAction, error) {
	root := t.tree.Root

	if isRootTable {
		allIDs, err := t.search.AllIDs(ctx, t.tree.Index)
		if err != nil {
			return nil, nil, fmt.Errorf("enumerate all document ids for truncate of %s: %w", batch.Table, err)
		}
		deletes := make([]types.DeleteAction, 0, len(allIDs))
		for _, id := range allIDs {
			deletes = append(deletes, types.DeleteAction{ID: id})
		}
		return nil, deletes, nil
	}

	anchor := t.locateAnchor(batch.Schema, batch.Table)
	if anchor == nil {
		return nil, nil, nil
	}

	matching, err := t.search.SearchMeta(ctx, t.tree.Index, batch.Table, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("enumerate documents carrying %s for truncate: %w", batch.Table, err)
	}
	ids := map[string]bool{}
	for _, id := range matching {
		ids[id] = true
	}
	filters, err := rootFiltersFromIDs(ids, root.PrimaryKeys)
	if err != nil {
		return nil, nil, err
	}
	return &types.ResyncFilter{RootFilters: filters}, nil, nil
}

// locateAnchor finds the tree node whose own table is table, or — when
// table is used only as a through-table — the node that declares it, since
// that node's Parent and relationship are what C3 joined against (§4.4).
// Returns nil if table is not part of the tree at all (the event is
// dropped, §4.4 "neither in the tree nor a through-table").
func (t *Translator) locateAnchor(schemaName, table string) *types.Node {
	for _, n := range t.tree.NodesForTable(table) {
		if n.Schema == schemaName && !n.IsRoot() {
			return n
		}
	}
	for _, ref := range t.tree.ThroughTables() {
		if ref.ThroughTable == table {
			return ref.Node
		}
	}
	return nil
}

// primaryKeysFor returns the primary key columns _meta is keyed by for
// table: anchor's own when the event is on anchor's table directly, or the
// anonymous through node's reflected primary key when the event is on the
// join table itself (§3.1 I2, §4.3.2).
func primaryKeysFor(anchor *types.Node, table string) []string {
	if anchor.Relationship.HasThrough() && table == anchor.Relationship.ThroughTables[0] {
		return anchor.Relationship.ThroughPrimaryKeys
	}
	return anchor.PrimaryKeys
}

// foreignKeyToParent returns the FK pair linking table to its parent in the
// tree: anchor's direct ForeignKey when table is anchor's own table, or
// ThroughForeignKey (join table -> grandparent) when table is the join
// table (§4.4 INSERT "through-table only ... using the through-table's FK
// to the root's parent table").
func foreignKeyToParent(anchor *types.Node, table string) *types.ForeignKey {
	if anchor.Relationship.HasThrough() && table == anchor.Relationship.ThroughTables[0] {
		return anchor.Relationship.ThroughForeignKey
	}
	return anchor.Relationship.ForeignKey
}

// collectMetaIDs runs a _meta terms search on row's values for cols against
// _meta.table, adding every resulting document id to ids.
func (t *Translator) collectMetaIDs(ctx context.Context, table string, row map[string]any, cols []string, ids map[string]bool) error {
	terms := termsFromRow(row, cols)
	if len(terms) == 0 {
		return nil
	}
	found, err := t.search.SearchMeta(ctx, t.tree.Index, table, terms)
	if err != nil {
		return fmt.Errorf("search _meta.%s: %w", table, err)
	}
	for _, id := range found {
		ids[id] = true
	}
	return nil
}

func rowFilter(row map[string]any, cols []string) types.RowFilter {
	f := make(types.RowFilter, len(cols))
	for _, c := range cols {
		f[c] = row[c]
	}
	return f
}

// parentRowFilter restricts the parent's own PK columns using the FK
// child-side values carried on the changed row (§4.4 INSERT non-root case).
func parentRowFilter(row map[string]any, fk *types.ForeignKey) types.RowFilter {
	f := make(types.RowFilter, len(fk.Parent))
	for i, parentCol := range fk.Parent {
		if i < len(fk.Child) {
			f[parentCol] = row[fk.Child[i]]
		}
	}
	return f
}

func termsFromRow(row map[string]any, cols []string) map[string][]any {
	terms := map[string][]any{}
	for _, c := range cols {
		if v, ok := row[c]; ok && v != nil {
			terms[c] = []any{v}
		}
	}
	return terms
}

func pkChanged(old, new_ map[string]any, pkCols []string) bool {
	for _, c := range pkCols {
		if fmt.Sprint(old[c]) != fmt.Sprint(new_[c]) {
			return true
		}
	}
	return false
}

func idFromRow(row map[string]any, pkCols []string) string {
	parts := make([]string, len(pkCols))
	for i, c := range pkCols {
		parts[i] = fmt.Sprint(row[c])
	}
	return strings.Join(parts, types.RootIDDelimiter)
}

// rootFiltersFromIDs splits each document _id back into its constituent
// root PK values and builds one RowFilter per id, sorted for determinism
// (§4.4 "split each _id back into the root's PK values").
func rootFiltersFromIDs(ids map[string]bool, pkCols []string) ([]types.RowFilter, error) {
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	filters := make([]types.RowFilter, 0, len(sorted))
	for _, id := range sorted {
		parts := strings.Split(id, types.RootIDDelimiter)
		if len(parts) != len(pkCols) {
			return nil, fmt.Errorf("document id %q has %d parts, want %d for root primary key %v", id, len(parts), len(pkCols), pkCols)
		}
		f := make(types.RowFilter, len(pkCols))
		for i, c := range pkCols {
			f[c] = parts[i]
		}
		filters = append(filters, f)
	}
	return filters, nil
}
