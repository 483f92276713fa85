package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgsync-go/pgsync/internal/types"
)

var errTransformFailed = errors.New("transform failed")

type upperTitlePlugin struct{}

func (upperTitlePlugin) Transform(_ context.Context, doc types.Document) (types.Document, error) {
	if doc.Source == nil {
		doc.Source = map[string]any{}
	}
	doc.Source["shout"] = true
	return doc, nil
}

func TestResolvePlugins_Identity(t *testing.T) {
	chain, err := ResolvePlugins([]string{"identity"})
	require.NoError(t, err)
	require.Len(t, chain, 1)

	doc := types.Document{ID: "1", Source: map[string]any{"a": 1}}
	out, err := chain.Apply(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, doc, out)
}

func TestResolvePlugins_UnknownNameErrors(t *testing.T) {
	_, err := ResolvePlugins([]string{"does-not-exist"})
	require.Error(t, err)
}

func TestPluginChain_AppliesInOrder(t *testing.T) {
	chain := PluginChain{IdentityPlugin{}, upperTitlePlugin{}}
	doc := types.Document{ID: "1", Source: map[string]any{}}
	out, err := chain.Apply(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, true, out.Source["shout"])
}

type erroringPlugin struct{}

func (erroringPlugin) Transform(_ context.Context, doc types.Document) (types.Document, error) {
	return doc, errTransformFailed
}

func TestPluginChain_StopsOnFirstError(t *testing.T) {
	calls := 0
	recording := recordingPlugin{calls: &calls}
	chain := PluginChain{erroringPlugin{}, recording}

	doc := types.Document{ID: "1"}
	_, err := chain.Apply(context.Background(), doc)
	require.Error(t, err)
	require.Equal(t, 0, calls)
}

type recordingPlugin struct {
	calls *int
}

func (r recordingPlugin) Transform(_ context.Context, doc types.Document) (types.Document, error) {
	*r.calls++
	return doc, nil
}
