package sink

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgsync-go/pgsync/internal/schema"
	"github.com/pgsync-go/pgsync/internal/types"
)

func bookTree() (*schema.Tree, map[string]*types.Model) {
	root := &types.Node{
		Table:  "book",
		Schema: "public",
		Label:  "book",
		Columns: []types.ColumnRef{
			{Name: "isbn"}, {Name: "title"}, {Name: "published"},
		},
		PrimaryKeys: []string{"isbn"},
	}
	author := &types.Node{
		Table:  "author",
		Schema: "public",
		Label:  "author",
		Columns: []types.ColumnRef{
			{Name: "id"}, {Name: "name"},
		},
		PrimaryKeys:  []string{"id"},
		Parent:       root,
		Relationship: &types.Relationship{Variant: types.RelVariantObject, Type: types.RelOneToMany},
	}
	root.Children = []*types.Node{author}

	tree := &schema.Tree{Index: "books", Root: root}
	models := map[string]*types.Model{
		"public.book": {
			Schema: "public", Table: "book", PrimaryKeys: []string{"isbn"},
			Columns: []types.Column{{Name: "isbn", Type: "text"}, {Name: "title", Type: "text"}, {Name: "published", Type: "bool"}},
		},
		"public.author": {
			Schema: "public", Table: "author", PrimaryKeys: []string{"id"},
			Columns: []types.Column{{Name: "id", Type: "int8"}, {Name: "name", Type: "text"}},
		},
	}
	return tree, models
}

func TestBuildMapping_DefaultsPerColumnKind(t *testing.T) {
	tree, models := bookTree()
	mapping, err := BuildMapping(tree, models)
	require.NoError(t, err)

	props := mapping["properties"].(map[string]any)
	published := props["published"].(map[string]any)
	require.Equal(t, "boolean", published["type"])

	author := props["author"].(map[string]any)
	require.Equal(t, "object", author["type"])
	authorProps := author["properties"].(map[string]any)
	idMapping := authorProps["id"].(map[string]any)
	require.Equal(t, "long", idMapping["type"])

	meta := props[types.MetaField].(map[string]any)
	require.Equal(t, "object", meta["type"])
}

func TestBuildMapping_RejectsUnknownType(t *testing.T) {
	tree, models := bookTree()
	tree.Mapping = map[string]any{"weird": map[string]any{"type": "not_a_real_type"}}
	_, err := BuildMapping(tree, models)
	require.Error(t, err)
}

func TestBuildMapping_RejectsUnknownParameter(t *testing.T) {
	tree, models := bookTree()
	tree.Mapping = map[string]any{"weird": map[string]any{"type": "keyword", "not_a_param": true}}
	_, err := BuildMapping(tree, models)
	require.Error(t, err)
}

func TestBuildMapping_ScalarRelationshipUsesColumnKind(t *testing.T) {
	tree, models := bookTree()
	tree.Root.Children[0].Relationship.Variant = types.RelVariantScalar
	mapping, err := BuildMapping(tree, models)
	require.NoError(t, err)
	props := mapping["properties"].(map[string]any)
	author := props["author"].(map[string]any)
	require.Equal(t, "long", author["type"])
}
