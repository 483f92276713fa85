package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgsync-go/pgsync/internal/types"
)

// fakeCatalog implements Catalog over an in-memory table map, for tests
// that don't need a live Postgres connection.
type fakeCatalog struct {
	schemas map[string]bool
	models  map[string]*types.Model
	fks     map[string]*types.ForeignKey // key: "parentTable|childTable"
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		schemas: map[string]bool{"public": true},
		models:  map[string]*types.Model{},
		fks:     map[string]*types.ForeignKey{},
	}
}

func (f *fakeCatalog) addModel(schema, table string, pk []string, cols ...string) {
	m := &types.Model{Schema: schema, Table: table, PrimaryKeys: pk}
	for _, c := range cols {
		m.Columns = append(m.Columns, types.Column{Name: c, Type: "text"})
	}
	for _, p := range pk {
		found := false
		for _, c := range m.Columns {
			if c.Name == p {
				found = true
			}
		}
		if !found {
			m.Columns = append(m.Columns, types.Column{Name: p, Type: "integer"})
		}
	}
	f.models[schema+"."+table] = m
}

func (f *fakeCatalog) addFK(parentTable, childTable string, fk *types.ForeignKey) {
	f.fks[parentTable+"|"+childTable] = fk
}

func (f *fakeCatalog) HasSchema(schema string) bool { return f.schemas[schema] }

func (f *fakeCatalog) Model(schema, table string) (*types.Model, error) {
	m, ok := f.models[schema+"."+table]
	if !ok {
		return nil, &notFoundErr{table}
	}
	return m, nil
}

func (f *fakeCatalog) ForeignKey(parent, child *types.Model) (*types.ForeignKey, error) {
	fk, ok := f.fks[parent.Table+"|"+child.Table]
	if !ok {
		return nil, &notFoundErr{child.Table}
	}
	return fk, nil
}

type notFoundErr struct{ table string }

func (e *notFoundErr) Error() string { return "not found: " + e.table }

func bookPublisherSchema() []byte {
	return []byte(`{
		"index": "testdb",
		"nodes": {
			"table": "book",
			"columns": ["isbn", "title", "publisher_id"],
			"children": [
				{
					"table": "publisher",
					"columns": ["id", "name"],
					"label": "publisher",
					"relationship": {"variant": "object", "type": "one_to_one"}
				}
			]
		}
	}`)
}

func newBookCatalog() *fakeCatalog {
	cat := newFakeCatalog()
	cat.addModel("public", "book", []string{"isbn"}, "isbn", "title", "publisher_id")
	cat.addModel("public", "publisher", []string{"id"}, "id", "name")
	cat.addFK("book", "publisher", &types.ForeignKey{Parent: []string{"publisher_id"}, Child: []string{"id"}})
	return cat
}

func TestBuild_RootAndChild(t *testing.T) {
	tree, err := Build(bookPublisherSchema(), newBookCatalog())
	require.NoError(t, err)
	require.Equal(t, "testdb", tree.Index)
	require.Equal(t, "book", tree.Root.Table)
	require.True(t, tree.Root.IsRoot())
	require.Len(t, tree.Root.Children, 1)

	pub := tree.Root.Children[0]
	require.Equal(t, "publisher", pub.Label)
	require.False(t, pub.IsRoot())
	require.NotNil(t, pub.Relationship)
	require.Equal(t, types.RelOneToOne, pub.Relationship.Type)
	require.Equal(t, []string{"publisher_id"}, pub.Relationship.ForeignKey.Parent)
	require.Equal(t, []string{"id"}, pub.Relationship.ForeignKey.Child)
}

func TestBuild_MissingTable(t *testing.T) {
	_, err := Build([]byte(`{"index":"t","nodes":{}}`), newBookCatalog())
	require.Error(t, err)
}

func TestBuild_UnknownNodeAttribute(t *testing.T) {
	_, err := Build([]byte(`{"index":"t","nodes":{"table":"book","bogus":1}}`), newBookCatalog())
	require.Error(t, err)
}

func TestBuild_NonRootMissingRelationship(t *testing.T) {
	doc := []byte(`{
		"index": "t",
		"nodes": {
			"table": "book",
			"children": [{"table": "publisher"}]
		}
	}`)
	_, err := Build(doc, newBookCatalog())
	require.Error(t, err)
}

func TestBuild_SiblingLabelCollision(t *testing.T) {
	cat := newBookCatalog()
	cat.addModel("public", "author", []string{"id"}, "id", "name")
	cat.addFK("book", "author", &types.ForeignKey{Parent: []string{"id"}, Child: []string{"author_id"}})
	cat.addModel("public", "book2", []string{"isbn"}, "isbn", "author_id")

	doc := []byte(`{
		"index": "t",
		"nodes": {
			"table": "book",
			"children": [
				{"table": "publisher", "label": "dup", "relationship": {"type": "one_to_one"}},
				{"table": "author", "label": "dup", "relationship": {"type": "one_to_one"}}
			]
		}
	}`)
	_, err := Build(doc, cat)
	require.Error(t, err)
}

func TestBuild_ColumnNotFound(t *testing.T) {
	doc := []byte(`{"index":"t","nodes":{"table":"book","columns":["nope"]}}`)
	_, err := Build(doc, newBookCatalog())
	require.Error(t, err)
}

func TestTree_WatchedColumnsTables(t *testing.T) {
	doc := []byte(`{
		"index": "t",
		"nodes": {
			"table": "book",
			"watched_columns": ["title"],
			"children": [
				{"table": "publisher", "relationship": {"type": "one_to_one"}}
			]
		}
	}`)
	tree, err := Build(doc, newBookCatalog())
	require.NoError(t, err)
	watched := tree.WatchedColumnsTables()
	require.True(t, watched["book"])
	require.False(t, watched["publisher"])
}

func bookAuthorSchema() []byte {
	return []byte(`{
		"index": "testdb",
		"nodes": {
			"table": "book",
			"columns": ["isbn", "title"],
			"children": [
				{
					"table": "author",
					"columns": ["id", "name"],
					"label": "authors",
					"relationship": {"variant": "object", "type": "one_to_many", "through_tables": ["book_author"]}
				}
			]
		}
	}`)
}

func newBookAuthorCatalog() *fakeCatalog {
	cat := newFakeCatalog()
	cat.addModel("public", "book", []string{"isbn"}, "isbn", "title")
	cat.addModel("public", "author", []string{"id"}, "id", "name")
	cat.addModel("public", "book_author", []string{"book_isbn", "author_id"}, "book_isbn", "author_id")
	cat.addFK("book", "book_author", &types.ForeignKey{Parent: []string{"isbn"}, Child: []string{"book_isbn"}})
	cat.addFK("book_author", "author", &types.ForeignKey{Parent: []string{"author_id"}, Child: []string{"id"}})
	return cat
}

// TestBuild_ThroughTableResolvesBothForeignKeys covers §4.3.1 "through
// child": a through relationship needs the FK pair linking the join table
// to the child (ForeignKey) and, separately, the pair linking the join
// table back to the parent (ThroughForeignKey) — they involve distinct
// column sets and must not be conflated.
func TestBuild_ThroughTableResolvesBothForeignKeys(t *testing.T) {
	tree, err := Build(bookAuthorSchema(), newBookAuthorCatalog())
	require.NoError(t, err)

	author := tree.Root.Children[0]
	require.True(t, author.Relationship.HasThrough())
	require.Equal(t, []string{"book_author"}, author.Relationship.ThroughTables)

	require.Equal(t, []string{"author_id"}, author.Relationship.ForeignKey.Parent)
	require.Equal(t, []string{"id"}, author.Relationship.ForeignKey.Child)

	require.Equal(t, []string{"isbn"}, author.Relationship.ThroughForeignKey.Parent)
	require.Equal(t, []string{"book_isbn"}, author.Relationship.ThroughForeignKey.Child)

	require.Equal(t, []string{"book_isbn", "author_id"}, author.Relationship.ThroughPrimaryKeys)
}

// TestBuild_ThroughTableWithoutPrimaryKeyRejected resolves Open Question
// (b) in spec.md §9: a through-table lacking its own primary key is
// rejected at build time rather than allowed through to an unidentifiable
// runtime TRUNCATE/row-change event.
func TestBuild_ThroughTableWithoutPrimaryKeyRejected(t *testing.T) {
	cat := newBookAuthorCatalog()
	cat.models["public.book_author"].PrimaryKeys = nil

	_, err := Build(bookAuthorSchema(), cat)
	require.Error(t, err)
}

func TestTree_Traversals(t *testing.T) {
	tree, err := Build(bookPublisherSchema(), newBookCatalog())
	require.NoError(t, err)

	var pre, post []string
	tree.PreOrder(func(n *types.Node) { pre = append(pre, n.Table) })
	tree.PostOrder(func(n *types.Node) { post = append(post, n.Table) })

	require.Equal(t, []string{"book", "publisher"}, pre)
	require.Equal(t, []string{"publisher", "book"}, post)
}
