package schema

import "github.com/pgsync-go/pgsync/internal/types"

// Catalog is the subset of the source-DB adapter (C1) the tree builder
// needs: schema existence, per-table reflection, and FK resolution between
// two reflected models (§4.1). Declaring it here — rather than importing
// sourcedb directly — keeps the tree builder fully offline-testable and
// matches the "dynamic relationship maps" design note (§9): dispatch is
// resolved once per node at build time against whatever Catalog is passed
// in, never re-derived per row.
type Catalog interface {
	HasSchema(schema string) bool
	Model(schema, table string) (*types.Model, error)
	ForeignKey(parent, child *types.Model) (*types.ForeignKey, error)
}
