// Package types holds the value types shared across the schema tree, query
// builder, change translator, and sink: the Node graph (§3.1), the reflected
// relational Model (§3.2), the emitted Document (§3.3), and the replication
// ChangeEvent (§3.5).
package types

// RelVariant selects whether a relationship's payload is a scalar column or
// a JSON object/array (§3.1 relationship.variant).
type RelVariant string

const (
	RelVariantScalar RelVariant = "scalar"
	RelVariantObject RelVariant = "object"
)

// RelType selects cardinality (§3.1 relationship.type).
type RelType string

const (
	RelOneToOne  RelType = "one_to_one"
	RelOneToMany RelType = "one_to_many"
)

// ForeignKey is an ordered pair of column lists: parent-side and child-side,
// equal in length and positionally matched.
type ForeignKey struct {
	Parent []string
	Child  []string
}

// Relationship describes how a non-root node joins to its parent (§3.1).
//
// For a direct (non-through) child, ForeignKey links the parent node's
// table to this node's table: Parent holds the parent's columns, Child
// this node's columns.
//
// For a through child, the join routes via an anonymous join table T
// (ThroughTables[0]), so a single ForeignKey pair cannot describe it:
// ForeignKey links T to this node (Parent = T's columns, Child = this
// node's columns, §4.3.1 "through child ... joined to the child's own
// subquery"), while ThroughForeignKey links the parent node's table to T
// (Parent = parent's columns, Child = T's columns, §4.3.1 "grouped by T's
// FK columns pointing back to N"). ThroughPrimaryKeys holds T's own
// primary key, contributed to _meta under T's table name (§3.1 I2, §4.3.2).
type Relationship struct {
	Variant       RelVariant
	Type          RelType
	ThroughTables []string
	ForeignKey    *ForeignKey

	ThroughForeignKey *ForeignKey
	ThroughPrimaryKeys []string
}

// HasThrough reports whether the relationship routes through a join table
// (§3.1 invariant I2: ThroughTables has length 0 or 1).
func (r *Relationship) HasThrough() bool {
	return r != nil && len(r.ThroughTables) == 1
}

// ConcatTransform concatenates several columns with a delimiter into a new
// destination field (§3.1 transform.concat).
type ConcatTransform struct {
	Columns     []string
	Delimiter   string
	Destination string
}

// Transform holds the per-node rename/concat/mapping overrides (§3.1).
type Transform struct {
	Rename  map[string]string
	Concat  *ConcatTransform
	Mapping map[string]any
}

// ColumnRef is either a bare column reference or a JSON-path traversal into
// a JSON column: "col->a->b" parses into Name="col", Path=["a","b"] (§3.1).
type ColumnRef struct {
	Name string
	Path []string
}

// Label returns the JSON key this column ref contributes under: the last
// path segment if any, else the column name.
func (c ColumnRef) Label() string {
	if len(c.Path) > 0 {
		return c.Path[len(c.Path)-1]
	}
	return c.Name
}

// Node is one vertex of the schema tree (§3.1).
type Node struct {
	Table  string
	Schema string
	Label  string

	Columns        []ColumnRef
	PrimaryKeys    []string
	Relationship   *Relationship
	Transform      *Transform
	WatchedColumns []string
	JoinDepth      int
	Filters        []map[string]any

	Children []*Node

	// Parent is set by schema.Build; nil on the root.
	Parent *Node
}

// IsRoot reports whether this node has no parent.
func (n *Node) IsRoot() bool { return n.Parent == nil }

// IsThroughChild reports whether this node is reached via a through-table
// (§4.3.1).
func (n *Node) IsThroughChild() bool {
	return n.Relationship.HasThrough()
}

// IsSelfReferential reports whether this child's table equals its parent's
// table, requiring an OR join predicate (§4.3.1, §9).
func (n *Node) IsSelfReferential() bool {
	return n.Parent != nil && n.Parent.Table == n.Table
}

// QualifiedTable returns "schema.table".
func (n *Node) QualifiedTable() string {
	return n.Schema + "." + n.Table
}
