package translate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgsync-go/pgsync/internal/schema"
	"github.com/pgsync-go/pgsync/internal/types"
)

type fakeCatalog struct {
	schemas map[string]bool
	models  map[string]*types.Model
	fks     map[string]*types.ForeignKey
}

func (f *fakeCatalog) HasSchema(s string) bool { return f.schemas[s] }
func (f *fakeCatalog) Model(s, table string) (*types.Model, error) {
	m, ok := f.models[s+"."+table]
	if !ok {
		return nil, errNotFound(table)
	}
	return m, nil
}
func (f *fakeCatalog) ForeignKey(parent, child *types.Model) (*types.ForeignKey, error) {
	fk, ok := f.fks[parent.Table+"|"+child.Table]
	if !ok {
		return nil, errNotFound(child.Table)
	}
	return fk, nil
}

type errNotFound string

func (e errNotFound) Error() string { return "not found: " + string(e) }

func buildBookTree(t *testing.T) *schema.Tree {
	t.Helper()
	cat := &fakeCatalog{
		schemas: map[string]bool{"public": true},
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
	tree, err := schema.Build(doc, cat)
	require.NoError(t, err)
	return tree
}

type fakeSearcher struct {
	byTerms map[string][]string // "table:col=val" -> ids
	allIDs  []string
	existsFor map[string][]string
}

func (f *fakeSearcher) SearchMeta(ctx context.Context, index, table string, terms map[string][]any) ([]string, error) {
	if len(terms) == 0 {
		return f.existsFor[table], nil
	}
	var out []string
	for col, vals := range terms {
		for _, v := range vals {
			key := table + ":" + col + "=" + toStr(v)
			out = append(out, f.byTerms[key]...)
		}
	}
	return out, nil
}

func (f *fakeSearcher) AllIDs(ctx context.Context, index string) ([]string, error) {
	return f.allIDs, nil
}

func toStr(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func TestTranslate_InsertRoot(t *testing.T) {
	tree := buildBookTree(t)
	tr := New(tree, &fakeSearcher{})

	batch := types.Batch{TgOp: types.OpInsert, Schema: "public", Table: "book", Events: []types.ChangeEvent{
		{TgOp: types.OpInsert, Schema: "public", Table: "book", New: map[string]any{"isbn": "111"}},
	}}
	filter, deletes, err := tr.Translate(context.Background(), batch)
	require.NoError(t, err)
	require.Empty(t, deletes)
	require.Len(t, filter.RootFilters, 1)
	require.Equal(t, "111", filter.RootFilters[0]["isbn"])
}

func TestTranslate_InsertNonRootSetsNodeFilter(t *testing.T) {
	tree := buildBookTree(t)
	tr := New(tree, &fakeSearcher{})

	batch := types.Batch{TgOp: types.OpInsert, Schema: "public", Table: "publisher", Events: []types.ChangeEvent{
		{TgOp: types.OpInsert, Schema: "public", Table: "publisher", New: map[string]any{"id": 7}},
	}}
	filter, _, err := tr.Translate(context.Background(), batch)
	require.NoError(t, err)
	require.Contains(t, filter.NodeFilters, "book")
	require.Equal(t, 7, filter.NodeFilters["book"][0]["publisher_id"])
}

func TestTranslate_UpdateRootPKChangeEmitsDelete(t *testing.T) {
	tree := buildBookTree(t)
	tr := New(tree, &fakeSearcher{})

	batch := types.Batch{TgOp: types.OpUpdate, Schema: "public", Table: "book", Events: []types.ChangeEvent{
		{TgOp: types.OpUpdate, Schema: "public", Table: "book",
			Old: map[string]any{"isbn": "111"}, New: map[string]any{"isbn": "222"}},
	}}
	filter, deletes, err := tr.Translate(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, filter.RootFilters, 1)
	require.Equal(t, "222", filter.RootFilters[0]["isbn"])
	require.Len(t, deletes, 1)
	require.Equal(t, "111", deletes[0].ID)
}

func TestTranslate_UpdateNonRootUsesMetaSearch(t *testing.T) {
	tree := buildBookTree(t)
	search := &fakeSearcher{byTerms: map[string][]string{
		"publisher:id=7": {"111"},
	}}
	tr := New(tree, search)

	batch := types.Batch{TgOp: types.OpUpdate, Schema: "public", Table: "publisher", Events: []types.ChangeEvent{
		{TgOp: types.OpUpdate, Schema: "public", Table: "publisher",
			Old: map[string]any{"id": "7"}, New: map[string]any{"id": "7"}},
	}}
	// Note: fakeSearcher only matches string-typed terms; id stored as string here.
	batch.Events[0].Old["id"] = "7"
	filter, _, err := tr.Translate(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, filter.RootFilters, 1)
	require.Equal(t, "111", filter.RootFilters[0]["isbn"])
}

func TestTranslate_DeleteRoot(t *testing.T) {
	tree := buildBookTree(t)
	tr := New(tree, &fakeSearcher{})

	batch := types.Batch{TgOp: types.OpDelete, Schema: "public", Table: "book", Events: []types.ChangeEvent{
		{TgOp: types.OpDelete, Schema: "public", Table: "book", Old: map[string]any{"isbn": "333"}},
	}}
	filter, deletes, err := tr.Translate(context.Background(), batch)
	require.NoError(t, err)
	require.Nil(t, filter)
	require.Len(t, deletes, 1)
	require.Equal(t, "333", deletes[0].ID)
}

func TestTranslate_TruncateRootDeletesAll(t *testing.T) {
	tree := buildBookTree(t)
	tr := New(tree, &fakeSearcher{allIDs: []string{"1", "2", "3"}})

	batch := types.Batch{TgOp: types.OpTruncate, Schema: "public", Table: "book"}
	filter, deletes, err := tr.Translate(context.Background(), batch)
	require.NoError(t, err)
	require.Nil(t, filter)
	require.Len(t, deletes, 3)
}

func buildBookAuthorTree(t *testing.T) *schema.Tree {
	t.Helper()
	cat := &fakeCatalog{
		schemas: map[string]bool{"public": true},
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
	tree, err := schema.Build(doc, cat)
	require.NoError(t, err)
	return tree
}

// TestTranslate_ThroughTableInsert covers the S5 scenario: an INSERT into
// the anonymous join table resyncs the root using the join table's own FK
// back to the root, not any FK on the author table itself (§4.4 INSERT
// "through-table only").
func TestTranslate_ThroughTableInsert(t *testing.T) {
	tree := buildBookAuthorTree(t)
	tr := New(tree, &fakeSearcher{})

	batch := types.Batch{TgOp: types.OpInsert, Schema: "public", Table: "book_author", Events: []types.ChangeEvent{
		{TgOp: types.OpInsert, Schema: "public", Table: "book_author",
			New: map[string]any{"book_isbn": "abc", "author_id": 1}},
	}}
	filter, deletes, err := tr.Translate(context.Background(), batch)
	require.NoError(t, err)
	require.Empty(t, deletes)
	require.Contains(t, filter.NodeFilters, "book")
	require.Equal(t, "abc", filter.NodeFilters["book"][0]["isbn"])
}

// TestTranslate_ThroughTableDeleteUsesJoinTableMeta covers DELETE on the
// join table: the _meta lookup must use the join table's own reflected
// primary key (book_isbn, author_id), not the author node's PK (id).
func TestTranslate_ThroughTableDeleteUsesJoinTableMeta(t *testing.T) {
	tree := buildBookAuthorTree(t)
	search := &fakeSearcher{byTerms: map[string][]string{
		"book_author:author_id=1": {"abc"},
	}}
	// fakeSearcher only matches string-typed term values.
	tr := New(tree, search)

	batch := types.Batch{TgOp: types.OpDelete, Schema: "public", Table: "book_author", Events: []types.ChangeEvent{
		{TgOp: types.OpDelete, Schema: "public", Table: "book_author",
			Old: map[string]any{"book_isbn": "abc", "author_id": "1"}},
	}}
	filter, _, err := tr.Translate(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, filter.RootFilters, 1)
	require.Equal(t, "abc", filter.RootFilters[0]["isbn"])
}

func TestTranslate_UnrelatedTableDropped(t *testing.T) {
	tree := buildBookTree(t)
	tr := New(tree, &fakeSearcher{})

	batch := types.Batch{TgOp: types.OpInsert, Schema: "public", Table: "unrelated", Events: []types.ChangeEvent{
		{TgOp: types.OpInsert, Schema: "public", Table: "unrelated", New: map[string]any{"id": "1"}},
	}}
	filter, deletes, err := tr.Translate(context.Background(), batch)
	require.NoError(t, err)
	require.Nil(t, filter)
	require.Nil(t, deletes)
}
