package sourcedb

import (
	"context"

	"github.com/pgsync-go/pgsync/internal/types"
)

// CatalogView adapts Adapter's context-taking methods to the schema.Catalog
// interface, which the tree builder needs synchronously during bootstrap.
// It is constructed with a fixed context for the (short-lived) build pass.
type CatalogView struct {
	adapter *Adapter
	ctx     context.Context
}

// NewCatalogView binds adapter to ctx for use as a schema.Catalog.
func NewCatalogView(ctx context.Context, adapter *Adapter) *CatalogView {
	return &CatalogView{adapter: adapter, ctx: ctx}
}

func (v *CatalogView) HasSchema(schema string) bool {
	return v.adapter.HasSchema(schema)
}

func (v *CatalogView) Model(schema, table string) (*types.Model, error) {
	return v.adapter.Model(v.ctx, schema, table)
}

func (v *CatalogView) ForeignKey(parent, child *types.Model) (*types.ForeignKey, error) {
	return v.adapter.ForeignKey(v.ctx, parent, child)
}
