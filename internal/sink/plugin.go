package sink

import (
	"context"
	"fmt"

	"github.com/pgsync-go/pgsync/internal/types"
)

// Plugin transforms one assembled document before it reaches the bulk
// indexer (§12 "plugin pipeline", generalizing the original's
// Plugins.transform() chain). Document-embedding and other ML plugins are
// glue per the purpose statement; only the chain mechanism and an identity
// plugin live here.
type Plugin interface {
	Transform(ctx context.Context, doc types.Document) (types.Document, error)
}

// IdentityPlugin returns its input unchanged; the only bundled Plugin.
type IdentityPlugin struct{}

func (IdentityPlugin) Transform(_ context.Context, doc types.Document) (types.Document, error) {
	return doc, nil
}

// PluginChain runs an ordered list of Plugins over a document, each
// receiving the previous one's output (§12).
type PluginChain []Plugin

// Apply runs every plugin in order, stopping at the first error.
func (c PluginChain) Apply(ctx context.Context, doc types.Document) (types.Document, error) {
	for i, p := range c {
		var err error
		doc, err = p.Transform(ctx, doc)
		if err != nil {
			return doc, fmt.Errorf("plugin %d/%d transform document %s: %w", i+1, len(c), doc.ID, err)
		}
	}
	return doc, nil
}

// PluginRegistry resolves a schema document's declared plugin names (§6.4
// "plugins": [string]) to Plugin implementations. Unknown names are a
// configuration error when the run command builds its pipeline, rather
// than a silent no-op.
var PluginRegistry = map[string]Plugin{
	"identity": IdentityPlugin{},
}

// ResolvePlugins builds a PluginChain from a list of names declared in the
// schema document.
func ResolvePlugins(names []string) (PluginChain, error) {
	chain := make(PluginChain, 0, len(names))
	for _, name := range names {
		p, ok := PluginRegistry[name]
		if !ok {
			return nil, fmt.Errorf("unknown plugin %q", name)
		}
		chain = append(chain, p)
	}
	return chain, nil
}
