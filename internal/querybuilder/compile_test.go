package querybuilder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgsync-go/pgsync/internal/schema"
	"github.com/pgsync-go/pgsync/internal/types"
)

func buildBookTree(t *testing.T) *schema.Tree {
	t.Helper()
	doc := []byte(`{
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

	cat := newTestCatalog()
	tree, err := schema.Build(doc, cat)
	require.NoError(t, err)
	return tree
}

func TestCompile_FullResync(t *testing.T) {
	tree := buildBookTree(t)
	compiled, err := Compile(tree, nil, nil)
	require.NoError(t, err)
	require.Contains(t, compiled.SQL, `"book"`)
	require.Contains(t, compiled.SQL, `"publisher"`)
	require.Contains(t, compiled.SQL, "_id")
	require.Contains(t, compiled.SQL, "_source")
	require.Contains(t, compiled.SQL, "_meta")
	require.Empty(t, compiled.Args)
}

func TestCompile_RootFilterBindsArgs(t *testing.T) {
	tree := buildBookTree(t)
	filter := &types.ResyncFilter{
		RootFilters: []types.RowFilter{{"isbn": "978-0-13"}},
	}
	compiled, err := Compile(tree, filter, nil)
	require.NoError(t, err)
	require.Contains(t, compiled.SQL, "WHERE")
	require.Contains(t, compiled.SQL, "$1")
	require.Equal(t, []any{"978-0-13"}, compiled.Args)
}

func TestCompile_XminRange(t *testing.T) {
	tree := buildBookTree(t)
	var lo, hi int64 = 100, 200
	filter := &types.ResyncFilter{XminMin: &lo, XminMax: &hi}
	compiled, err := Compile(tree, filter, nil)
	require.NoError(t, err)
	require.Contains(t, compiled.SQL, "xmin >=")
	require.Contains(t, compiled.SQL, "xmin <")
	require.Equal(t, []any{lo, hi}, compiled.Args)
}

func TestCompile_NodeFilterForcesInnerJoin(t *testing.T) {
	tree := buildBookTree(t)
	nodeFilters := map[string][]types.RowFilter{
		"publisher": {{"id": 7}},
	}
	compiled, err := Compile(tree, nil, nodeFilters)
	require.NoError(t, err)
	require.Contains(t, compiled.SQL, "INNER JOIN")
}

func TestCompile_NoRootIsError(t *testing.T) {
	_, err := Compile(&schema.Tree{}, nil, nil)
	require.Error(t, err)
}

func buildBookAuthorTree(t *testing.T) *schema.Tree {
	t.Helper()
	doc := []byte(`{
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

	cat := &stubCatalog{
		models: map[string]*types.Model{
			"public.book": {
				Schema: "public", Table: "book", PrimaryKeys: []string{"isbn"},
				Columns: []types.Column{{Name: "isbn", Type: "text"}, {Name: "title", Type: "text"}},
			},
			"public.author": {
				Schema: "public", Table: "author", PrimaryKeys: []string{"id"},
				Columns: []types.Column{{Name: "id", Type: "integer"}, {Name: "name", Type: "text"}},
			},
			"public.book_author": {
				Schema: "public", Table: "book_author", PrimaryKeys: []string{"book_isbn", "author_id"},
				Columns: []types.Column{{Name: "book_isbn", Type: "text"}, {Name: "author_id", Type: "integer"}},
			},
		},
		fks: map[string]*types.ForeignKey{
			"book|book_author":   {Parent: []string{"isbn"}, Child: []string{"book_isbn"}},
			"book_author|author": {Parent: []string{"author_id"}, Child: []string{"id"}},
		},
	}
	tree, err := schema.Build(doc, cat)
	require.NoError(t, err)
	return tree
}

// TestCompile_ThroughTable covers the S5 through-table shape (§4.3.1
// "through child"): the compiled SQL must reference the join table and nest
// its own primary key contribution under its own table name in _meta.
func TestCompile_ThroughTable(t *testing.T) {
	tree := buildBookAuthorTree(t)
	compiled, err := Compile(tree, nil, nil)
	require.NoError(t, err)
	require.Contains(t, compiled.SQL, `"book_author"`)
	require.Contains(t, compiled.SQL, `"author"`)
	require.Contains(t, compiled.SQL, "book_author")
	// The one_to_many fan-out aggregates once, at the join-table level, not
	// once more inside it: a doubly-wrapped JSON_AGG would nest each
	// author's payload in its own single-element array.
	require.NotContains(t, compiled.SQL, "JSON_AGG(JSON_AGG")
}

func newTestCatalog() *stubCatalog {
	c := &stubCatalog{
		models: map[string]*types.Model{
			"public.book": {
				Schema: "public", Table: "book", PrimaryKeys: []string{"isbn"},
				Columns: []types.Column{{Name: "isbn", Type: "text"}, {Name: "title", Type: "text"}, {Name: "publisher_id", Type: "integer"}},
			},
			"public.publisher": {
				Schema: "public", Table: "publisher", PrimaryKeys: []string{"id"},
				Columns: []types.Column{{Name: "id", Type: "integer"}, {Name: "name", Type: "text"}},
			},
		},
		fks: map[string]*types.ForeignKey{
			"book|publisher": {Parent: []string{"publisher_id"}, Child: []string{"id"}},
		},
	}
	return c
}

// stubCatalog is a minimal schema.Catalog implementation local to this
// package's tests, kept separate from schema's own fakeCatalog since
// querybuilder tests only need read access to the same fixture shape.
type stubCatalog struct {
	models map[string]*types.Model
	fks    map[string]*types.ForeignKey
}

func (c *stubCatalog) HasSchema(schema string) bool { return schema == "public" }

func (c *stubCatalog) Model(schema, table string) (*types.Model, error) {
	m, ok := c.models[schema+"."+table]
	if !ok {
		return nil, errNotFound(table)
	}
	return m, nil
}

func (c *stubCatalog) ForeignKey(parent, child *types.Model) (*types.ForeignKey, error) {
	fk, ok := c.fks[parent.Table+"|"+child.Table]
	if !ok {
		return nil, errNotFound(child.Table)
	}
	return fk, nil
}

type errNotFound string

func (e errNotFound) Error() string { return "not found: " + string(e) }
