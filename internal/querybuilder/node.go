package querybuilder

import (
	"fmt"
	"strings"

	"github.com/pgsync-go/pgsync/internal/sourcedb"
	"github.com/pgsync-go/pgsync/internal/types"
)

// compiledNode is what buildNode/buildThroughChild return for any non-root
// node: a derived-table definition that, joined to its parent's raw row
// alias on condition, yields one row per distinct FK group carrying that
// node's already-aggregated payload and _meta contribution (§4.3.1).
type compiledNode struct {
	label     string
	fromSQL   string // "(<select ...>) AS alias"
	alias     string
	joinType  string // "LEFT" or "INNER"
	condition string // ON clause, referencing the parent's raw alias
}

// buildRoot compiles the tree's root node into a standalone SELECT
// producing one row per document: _id, _source (including _meta nested
// under "_meta"), and the raw _keys object for the outer translator's own
// use (§4.3, §3.3).
func buildRoot(root *types.Node, rootFilter *types.ResyncFilter, nodeFilters map[string][]types.RowFilter) (string, []any, error) {
	a := &aliaser{}
	args := &argCollector{}

	raw := a.next()
	children, err := buildChildren(root, raw, a, args, nodeFilters)
	if err != nil {
		return "", nil, err
	}

	payload, err := payloadExpression(root, raw, children)
	if err != nil {
		return "", nil, err
	}
	keys := keysExpression(root, raw, children)

	idParts := make([]string, len(root.PrimaryKeys))
	for i, pk := range root.PrimaryKeys {
		idParts[i] = fmt.Sprintf("%s.%s::text", raw, quoteIdent(pk))
	}
	idExpr := fmt.Sprintf("array_to_string(ARRAY[%s], %s)", strings.Join(idParts, ", "), quoteLiteral(types.RootIDDelimiter))

	sourceExpr := fmt.Sprintf("(%s::jsonb || JSONB_BUILD_OBJECT(%s, %s))", payload, quoteLiteral(types.MetaField), keys)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s AS _id, %s AS _source, %s AS _keys\n", idExpr, sourceExpr, keys)
	fmt.Fprintf(&b, "FROM %s.%s AS %s\n", quoteIdent(root.Schema), quoteIdent(root.Table), raw)
	for _, c := range children {
		fmt.Fprintf(&b, "%s JOIN %s ON %s\n", c.joinType, c.fromSQL, c.condition)
	}

	ownFilters := nodeFilters[root.Label]
	where := rootFiltersSQL(raw, rootFilter, args)
	if row := rowFiltersSQL(raw, ownFilters, args); row != "" {
		if where != "" {
			where = where + " AND (" + row + ")"
		} else {
			where = row
		}
	}
	if where != "" {
		fmt.Fprintf(&b, "WHERE %s\n", where)
	}

	return b.String(), args.args, nil
}

// buildChildren compiles every child of n (through and non-through alike)
// against raw, n's own raw row alias.
func buildChildren(n *types.Node, raw string, a *aliaser, args *argCollector, nodeFilters map[string][]types.RowFilter) ([]*compiledNode, error) {
	var out []*compiledNode
	for _, child := range n.Children {
		var (
			cc  *compiledNode
			err error
		)
		if child.Relationship.HasThrough() {
			cc, err = buildThroughChild(child, raw, a, args, nodeFilters)
		} else {
			cc, err = buildNonThroughChild(child, raw, a, args, nodeFilters, false)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cc)
	}
	return out, nil
}

// buildNonThroughChild compiles child into a derived table grouped on the
// FK columns pointing back to its parent, joined to the parent's raw
// alias (§4.3.1 "non-through child"). singular forces the one_to_one shape
// (no JSON_AGG, no GROUP BY) regardless of the declared relationship type:
// buildThroughChild uses this for the inner join table->child.Relationship
// query table join, since each join-table row matches exactly one child row
// and the declared one_to_many cardinality is the join table's fan-out
// against the grandparent, aggregated once at the outer level instead.
func buildNonThroughChild(child *types.Node, parentRaw string, a *aliaser, args *argCollector, nodeFilters map[string][]types.RowFilter, singular bool) (*compiledNode, error) {
	raw := a.next()

	grandchildren, err := buildChildren(child, raw, a, args, nodeFilters)
	if err != nil {
		return nil, err
	}

	payload, err := payloadExpression(child, raw, grandchildren)
	if err != nil {
		return nil, err
	}
	keys := keysExpression(child, raw, grandchildren)

	oneToMany := !singular && child.Relationship.Type == types.RelOneToMany
	if oneToMany {
		payload = fmt.Sprintf("JSON_AGG(%s)", payload)
		keys = fmt.Sprintf("%s.%s(%s)", child.Schema, sourcedb.MetaMergeAggregate, keys)
	}

	fkCols := child.Relationship.ForeignKey.Child
	parentCols := child.Relationship.ForeignKey.Parent

	var b strings.Builder
	b.WriteString("SELECT ")
	for _, col := range fkCols {
		fmt.Fprintf(&b, "%s.%s AS %s, ", raw, quoteIdent(col), quoteIdent(col))
	}
	fmt.Fprintf(&b, "%s AS payload, %s AS keys\n", payload, keys)
	fmt.Fprintf(&b, "FROM %s.%s AS %s\n", quoteIdent(child.Schema), quoteIdent(child.Table), raw)
	for _, gc := range grandchildren {
		fmt.Fprintf(&b, "%s JOIN %s ON %s\n", gc.joinType, gc.fromSQL, gc.condition)
	}

	ownFilters := nodeFilters[child.Label]
	innerJoin := len(ownFilters) > 0
	if where := rowFiltersSQL(raw, ownFilters, args); where != "" {
		fmt.Fprintf(&b, "WHERE %s\n", where)
	}
	if oneToMany && len(fkCols) > 0 {
		quoted := make([]string, len(fkCols))
		for i, c := range fkCols {
			quoted[i] = fmt.Sprintf("%s.%s", raw, quoteIdent(c))
		}
		fmt.Fprintf(&b, "GROUP BY %s\n", strings.Join(quoted, ", "))
	}

	alias := a.next()
	return &compiledNode{
		label:     child.Label,
		fromSQL:   fmt.Sprintf("(%s) AS %s", b.String(), alias),
		alias:     alias,
		joinType:  joinTypeFor(innerJoin),
		condition: joinCondition(parentRaw, parentCols, alias, fkCols, child.IsSelfReferential()),
	}, nil
}

// buildThroughChild compiles child's relationship when it routes through
// a join table T: an inner subquery over T joined to the child's own
// derived table on C's PK columns, wrapped in JSON_AGG and grouped by T's
// FK columns pointing back to the parent (§4.3.1 "through child").
func buildThroughChild(child *types.Node, parentRaw string, a *aliaser, args *argCollector, nodeFilters map[string][]types.RowFilter) (*compiledNode, error) {
	through := child.Relationship.ThroughTables[0]
	throughRaw := a.next()

	inner, err := buildNonThroughChild(child, throughRaw, a, args, nodeFilters, true)
	if err != nil {
		return nil, err
	}
	// buildNonThroughChild joins the child table to throughRaw using
	// child.Relationship.ForeignKey, which schema.Build resolves as the FK
	// between the through table and the child (not the grandparent and the
	// child). The FK linking the through table back to the grandparent is
	// a separate pair, ThroughForeignKey.
	parentFK := child.Relationship.ThroughForeignKey

	// The anonymous through node's own primary keys (I2), reflected by
	// schema.Build from the through table's catalog entry.
	throughPK := child.Relationship.ThroughPrimaryKeys

	pkPairs := make([]string, 0, len(throughPK))
	for _, pk := range throughPK {
		pkPairs = append(pkPairs, quoteLiteral(pk), fmt.Sprintf("JSONB_BUILD_ARRAY(%s.%s)", throughRaw, quoteIdent(pk)))
	}
	// Nest the through table's own PK contribution under its table name,
	// matching the per-node shape keysExpression produces elsewhere (§4.3.2
	// "Through nodes contribute {through_table: [{pk_col: [pk_values]}]}").
	innerPayload := fmt.Sprintf("(JSONB_BUILD_OBJECT(%s, JSONB_BUILD_OBJECT(%s)) || COALESCE(%s.keys, '{}'::jsonb))",
		quoteLiteral(through), strings.Join(pkPairs, ", "), inner.alias)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT ")
	for _, col := range parentFK.Child {
		fmt.Fprintf(&b, "%s.%s AS %s, ", throughRaw, quoteIdent(col), quoteIdent(col))
	}
	fmt.Fprintf(&b, "JSON_AGG(%s) AS payload, %s.%s(%s) AS keys\n",
		fmt.Sprintf("COALESCE(%s.payload, 'null'::json)", inner.alias), child.Schema, sourcedb.MetaMergeAggregate, innerPayload)
	fmt.Fprintf(&b, "FROM %s.%s AS %s\n", quoteIdent(child.Schema), quoteIdent(through), throughRaw)
	fmt.Fprintf(&b, "%s JOIN %s ON %s\n", inner.joinType, inner.fromSQL, inner.condition)

	quoted := make([]string, len(parentFK.Child))
	for i, c := range parentFK.Child {
		quoted[i] = fmt.Sprintf("%s.%s", throughRaw, quoteIdent(c))
	}
	fmt.Fprintf(&b, "GROUP BY %s\n", strings.Join(quoted, ", "))

	alias := a.next()
	ownFilters := nodeFilters[child.Label]
	return &compiledNode{
		label:     child.Label,
		fromSQL:   fmt.Sprintf("(%s) AS %s", b.String(), alias),
		alias:     alias,
		joinType:  joinTypeFor(len(ownFilters) > 0),
		condition: joinCondition(parentRaw, parentFK.Parent, alias, parentFK.Child, child.IsSelfReferential()),
	}, nil
}

func joinTypeFor(inner bool) string {
	if inner {
		return "INNER"
	}
	return "LEFT"
}

// joinCondition builds the ON clause between a parent row alias and a
// child derived table, using OR instead of AND on the FK equalities when
// the relationship is self-referential (§4.3.1).
func joinCondition(parentRaw string, parentCols []string, childAlias string, childCols []string, selfRef bool) string {
	n := len(parentCols)
	if len(childCols) < n {
		n = len(childCols)
	}
	preds := make([]string, 0, n)
	for i := 0; i < n; i++ {
		preds = append(preds, fmt.Sprintf("%s.%s = %s.%s", parentRaw, quoteIdent(parentCols[i]), childAlias, quoteIdent(childCols[i])))
	}
	sep := " AND "
	if selfRef {
		sep = " OR "
	}
	return strings.Join(preds, sep)
}

func payloadExpression(n *types.Node, raw string, children []*compiledNode) (string, error) {
	if n.Relationship != nil && n.Relationship.Variant == types.RelVariantScalar {
		if len(n.Columns) == 0 {
			return "", fmt.Errorf("scalar relationship on %q has no column to project", n.Table)
		}
		return columnValueExpr(raw, n.Columns[0]), nil
	}

	renamed := map[string]string{}
	if n.Transform != nil {
		renamed = n.Transform.Rename
	}

	pairs := make([]string, 0, 2*(len(n.Columns)+len(children)))
	for _, c := range n.Columns {
		label := c.Label()
		if alt, ok := renamed[c.Name]; ok {
			label = alt
		}
		pairs = append(pairs, quoteLiteral(label), columnValueExpr(raw, c))
	}
	if n.Transform != nil && n.Transform.Concat != nil {
		ct := n.Transform.Concat
		quoted := make([]string, len(ct.Columns))
		for i, col := range ct.Columns {
			quoted[i] = fmt.Sprintf("%s.%s::text", raw, quoteIdent(col))
		}
		concatExpr := fmt.Sprintf("array_to_string(ARRAY[%s], %s)", strings.Join(quoted, ", "), quoteLiteral(ct.Delimiter))
		pairs = append(pairs, quoteLiteral(ct.Destination), concatExpr)
	}
	for _, c := range children {
		pairs = append(pairs, quoteLiteral(c.label), fmt.Sprintf("COALESCE(%s.payload, 'null'::json)", c.alias))
	}
	return fmt.Sprintf("JSON_BUILD_OBJECT(%s)", strings.Join(pairs, ", ")), nil
}

// keysExpression folds this node's own PK contribution with every child's
// already-computed keys column (§4.3.2). The PK values are wrapped one per
// row as a single-element JSONB array rather than aggregated here: when the
// caller wraps a one_to_many child's keys in the MetaMergeAggregate
// (§4.3.1), that aggregate is what concatenates and de-duplicates the
// per-row arrays across the GROUP BY; computing an aggregate over them here
// too would aggregate across the wrong rowset (the whole join, not the
// per-parent group).
func keysExpression(n *types.Node, raw string, children []*compiledNode) string {
	pkPairs := make([]string, 0, 2*len(n.PrimaryKeys))
	for _, pk := range n.PrimaryKeys {
		pkPairs = append(pkPairs, quoteLiteral(pk), fmt.Sprintf("JSONB_BUILD_ARRAY(%s.%s)", raw, quoteIdent(pk)))
	}
	merged := fmt.Sprintf("JSONB_BUILD_OBJECT(%s, JSONB_BUILD_OBJECT(%s))", quoteLiteral(n.Table), strings.Join(pkPairs, ", "))
	for _, c := range children {
		merged = fmt.Sprintf("(%s || COALESCE(%s.keys, '{}'::jsonb))", merged, c.alias)
	}
	return merged
}

func columnValueExpr(alias string, c types.ColumnRef) string {
	if len(c.Path) == 0 {
		return fmt.Sprintf("%s.%s", alias, quoteIdent(c.Name))
	}
	expr := fmt.Sprintf("%s.%s", alias, quoteIdent(c.Name))
	for i, seg := range c.Path {
		op := "->"
		if i == len(c.Path)-1 {
			op = "->>"
		}
		expr = fmt.Sprintf("%s%s%s", expr, op, quoteLiteral(seg))
	}
	return expr
}
