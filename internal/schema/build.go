package schema

import (
	"fmt"

	"github.com/pgsync-go/pgsync/internal/errs"
	"github.com/pgsync-go/pgsync/internal/types"
)

// Tree is the built, immutable schema tree plus the index-level settings
// from the schema document (§3.6 "built once per schema document... then
// immutable").
type Tree struct {
	Database string
	Index    string
	Plugins  []string
	Routing  string
	Setting  map[string]any
	Mapping  map[string]any
	Pipeline string

	Root *types.Node

	// watchedTables is the set of tables anywhere in the tree with a
	// non-empty WatchedColumns list (§4.2 watched_columns_tables).
	watchedTables map[string]bool
}

// Build walks the raw schema document and produces a validated Tree,
// resolving primary keys, foreign keys, and through-tables against catalog
// (§4.1, §4.2). It is the sole entry point for C2.
func Build(data []byte, catalog Catalog) (*Tree, error) {
	doc, err := parseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("parse schema document: %w", err)
	}
	if doc.Index == "" {
		return nil, fmt.Errorf("schema document missing required \"index\" field")
	}

	b := &builder{catalog: catalog, labelsByParent: map[*types.Node]map[string]bool{}}
	root, err := b.buildNode(doc.Nodes, nil)
	if err != nil {
		return nil, err
	}

	t := &Tree{
		Database: doc.Database,
		Index:    doc.Index,
		Plugins:  doc.Plugins,
		Routing:  doc.Routing,
		Setting:  doc.Setting,
		Mapping:  doc.Mapping,
		Pipeline: doc.Pipeline,
		Root:     root,
	}
	t.watchedTables = computeWatchedTables(root)
	return t, nil
}

// builder carries per-build state: sibling label collision tracking (I3).
type builder struct {
	catalog        Catalog
	labelsByParent map[*types.Node]map[string]bool
}

func (b *builder) buildNode(raw map[string]any, parent *types.Node) (*types.Node, error) {
	for key := range raw {
		if !nodeAttributes[key] {
			return nil, &errs.NodeError{Err: fmt.Errorf("%w: %q", errs.ErrNodeAttribute, key)}
		}
	}

	table, _ := raw["table"].(string)
	if table == "" {
		return nil, &errs.NodeError{Err: errs.ErrTableNotInNode}
	}

	nodeSchema, _ := raw["schema"].(string)
	if nodeSchema == "" {
		nodeSchema = "public"
	}
	if !b.catalog.HasSchema(nodeSchema) {
		return nil, &errs.NodeError{Table: table, Err: fmt.Errorf("%w: %q", errs.ErrInvalidSchema, nodeSchema)}
	}

	model, err := b.catalog.Model(nodeSchema, table)
	if err != nil {
		return nil, &errs.NodeError{Table: table, Err: err}
	}

	label, _ := raw["label"].(string)
	if label == "" {
		label = table
	}

	n := &types.Node{
		Table:       table,
		Schema:      nodeSchema,
		Label:       label,
		PrimaryKeys: stringSlice(raw["primary_key"]),
		Parent:      parent,
		JoinDepth:   intField(raw["join_depth"]),
	}
	if len(n.PrimaryKeys) == 0 {
		n.PrimaryKeys = model.PrimaryKeys
	}

	if err := b.checkLabelCollision(parent, label); err != nil {
		return nil, err
	}

	if cols, ok := raw["columns"].([]any); ok {
		for _, c := range cols {
			name, path, valid := parseColumnRef(c)
			if !valid {
				continue
			}
			if !model.HasColumn(name) {
				return nil, &errs.NodeError{Table: table, Label: label, Err: &errs.ColumnError{Table: table, Column: name}}
			}
			n.Columns = append(n.Columns, types.ColumnRef{Name: name, Path: path})
		}
	} else {
		for _, c := range model.Columns {
			if c.Name == types.XminColumn || c.Name == types.CtidColumn {
				continue
			}
			n.Columns = append(n.Columns, types.ColumnRef{Name: c.Name})
		}
	}

	n.WatchedColumns = stringSlice(raw["watched_columns"])
	for _, wc := range n.WatchedColumns {
		if !model.HasColumn(wc) {
			return nil, &errs.NodeError{Table: table, Label: label, Err: &errs.ColumnError{Table: table, Column: wc}}
		}
	}

	if tr, ok := raw["transform"].(map[string]any); ok {
		transform, err := b.buildTransform(tr, model)
		if err != nil {
			return nil, &errs.NodeError{Table: table, Label: label, Err: err}
		}
		n.Transform = transform
	}

	if fl, ok := raw["filters"].([]any); ok {
		for _, f := range fl {
			if m, ok := f.(map[string]any); ok {
				n.Filters = append(n.Filters, m)
			}
		}
	}

	if parent != nil {
		rel, ok := raw["relationship"].(map[string]any)
		if !ok {
			return nil, &errs.NodeError{Table: table, Label: label, Err: errs.ErrRelationship}
		}
		relationship, err := b.buildRelationship(rel, parent, model)
		if err != nil {
			return nil, &errs.NodeError{Table: table, Label: label, Err: err}
		}
		n.Relationship = relationship
	} else if _, ok := raw["relationship"]; ok {
		return nil, &errs.NodeError{Table: table, Label: label, Err: fmt.Errorf("root node must not declare a relationship")}
	}

	if children, ok := raw["children"].([]any); ok {
		for _, c := range children {
			cm, ok := c.(map[string]any)
			if !ok {
				continue
			}
			child, err := b.buildNode(cm, n)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
		}
	}

	return n, nil
}

func (b *builder) checkLabelCollision(parent *types.Node, label string) error {
	if parent == nil {
		return nil
	}
	seen := b.labelsByParent[parent]
	if seen == nil {
		seen = map[string]bool{}
		b.labelsByParent[parent] = seen
	}
	if seen[label] {
		return &errs.NodeError{Err: fmt.Errorf("label %q collides with a sibling under %q", label, parent.Table)}
	}
	seen[label] = true
	return nil
}

func (b *builder) buildTransform(raw map[string]any, model *types.Model) (*types.Transform, error) {
	t := &types.Transform{}
	if rn, ok := raw["rename"].(map[string]any); ok {
		t.Rename = map[string]string{}
		for k, v := range rn {
			if s, ok := v.(string); ok {
				t.Rename[k] = s
			}
		}
	}
	if mp, ok := raw["mapping"].(map[string]any); ok {
		t.Mapping = mp
	}
	if cc, ok := raw["concat"].(map[string]any); ok {
		concat := &types.ConcatTransform{
			Columns:     stringSlice(cc["columns"]),
			Delimiter:   stringField(cc["delimiter"]),
			Destination: stringField(cc["destination"]),
		}
		for _, col := range concat.Columns {
			if !model.HasColumn(col) {
				return nil, &errs.ColumnError{Table: model.Table, Column: col}
			}
		}
		t.Concat = concat
	}
	return t, nil
}

func (b *builder) buildRelationship(raw map[string]any, parent *types.Node, childModel *types.Model) (*types.Relationship, error) {
	for key := range raw {
		if !relationshipAttributes[key] {
			return nil, fmt.Errorf("%w: %q", errs.ErrRelationshipAttribute, key)
		}
	}

	variant := types.RelVariant(stringField(raw["variant"]))
	switch variant {
	case types.RelVariantScalar, types.RelVariantObject:
	case "":
		variant = types.RelVariantObject
	default:
		return nil, fmt.Errorf("%w: %q", errs.ErrRelationshipVariant, variant)
	}

	relType := types.RelType(stringField(raw["type"]))
	switch relType {
	case types.RelOneToOne, types.RelOneToMany:
	case "":
		relType = types.RelOneToMany
	default:
		return nil, fmt.Errorf("%w: %q", errs.ErrRelationshipType, relType)
	}

	through := stringSlice(raw["through_tables"])
	if len(through) > 1 {
		return nil, errs.ErrMultipleThroughTables
	}

	rel := &types.Relationship{Variant: variant, Type: relType, ThroughTables: through}

	parentModel, err := b.catalog.Model(parent.Schema, parent.Table)
	if err != nil {
		return nil, err
	}

	if len(through) == 1 {
		throughModel, err := b.catalog.Model(parent.Schema, through[0])
		if err != nil {
			return nil, err
		}
		if len(throughModel.PrimaryKeys) == 0 {
			return nil, fmt.Errorf("%w: through-table %q has no primary key", errs.ErrRelationship, through[0])
		}
		rel.ThroughPrimaryKeys = throughModel.PrimaryKeys

		throughToParent, err := b.catalog.ForeignKey(parentModel, throughModel)
		if err != nil {
			return nil, err
		}
		rel.ThroughForeignKey = throughToParent

		if fk, ok := raw["foreign_key"].(map[string]any); ok {
			rel.ForeignKey = &types.ForeignKey{
				Parent: stringSlice(fk["parent"]),
				Child:  stringSlice(fk["child"]),
			}
			return rel, nil
		}

		// ForeignKey here links the through-table to this node, not the
		// parent to this node (§4.3.1 "inner subquery ... joined to the
		// child's own subquery on C's PK columns").
		throughToChild, err := b.catalog.ForeignKey(throughModel, childModel)
		if err != nil {
			return nil, err
		}
		rel.ForeignKey = throughToChild
		return rel, nil
	}

	if fk, ok := raw["foreign_key"].(map[string]any); ok {
		rel.ForeignKey = &types.ForeignKey{
			Parent: stringSlice(fk["parent"]),
			Child:  stringSlice(fk["child"]),
		}
		return rel, nil
	}

	fk, err := b.catalog.ForeignKey(parentModel, childModel)
	if err != nil {
		return nil, err
	}
	rel.ForeignKey = fk
	return rel, nil
}

func stringField(v any) string {
	s, _ := v.(string)
	return s
}

func intField(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
