package querybuilder

import (
	"fmt"

	"github.com/pgsync-go/pgsync/internal/schema"
	"github.com/pgsync-go/pgsync/internal/types"
)

// Compiled is one root query plus its positional arguments, ready to hand
// to pgxpool.Query (§4.3).
type Compiled struct {
	SQL  string
	Args []any
}

// Compile produces the single recursive SQL statement for tree's root,
// restricted by filter (nil or empty for a full resync) and per-node
// filters keyed by node label, which additionally force that node's join
// to INNER (§4.3.3).
func Compile(tree *schema.Tree, filter *types.ResyncFilter, nodeFilters map[string][]types.RowFilter) (*Compiled, error) {
	if tree.Root == nil {
		return nil, fmt.Errorf("schema tree has no root")
	}
	if filter == nil {
		filter = &types.ResyncFilter{}
	}
	if nodeFilters == nil {
		nodeFilters = map[string][]types.RowFilter{}
	}

	sql, args, err := buildRoot(tree.Root, filter, nodeFilters)
	if err != nil {
		return nil, fmt.Errorf("compile query for root %s: %w", tree.Root.QualifiedTable(), err)
	}
	return &Compiled{SQL: sql, Args: args}, nil
}

func quoteLiteral(s string) string {
	return "'" + s + "'"
}
