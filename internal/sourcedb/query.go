package sourcedb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pgsync-go/pgsync/internal/types"
)

// ExecuteQuery runs a compiled query builder statement (§4.3) and streams
// each resulting row to yield as a Document. sql/args come straight from
// querybuilder.Compiled; the pair is passed positionally rather than as
// that struct to avoid an import cycle (querybuilder already imports this
// package for the _meta merge aggregate name).
//
// The compiled statement is a single read-only SELECT, so no explicit
// transaction or isolation level is needed here (§5 "CPU-bound or short
// I/O" — bulk document assembly happens server-side).
func (a *Adapter) ExecuteQuery(ctx context.Context, sql string, args []any, yield func(types.Document) error) error {
	rows, err := a.pool.Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("execute compiled query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var sourceRaw, keysRaw []byte
		if err := rows.Scan(&id, &sourceRaw, &keysRaw); err != nil {
			return fmt.Errorf("scan document row: %w", err)
		}

		var source map[string]any
		if err := json.Unmarshal(sourceRaw, &source); err != nil {
			return fmt.Errorf("decode _source for document %s: %w", id, err)
		}
		var meta types.Meta
		if err := json.Unmarshal(keysRaw, &meta); err != nil {
			return fmt.Errorf("decode _meta for document %s: %w", id, err)
		}

		if err := yield(types.Document{ID: id, Source: source, Meta: meta}); err != nil {
			return err
		}
	}
	return rows.Err()
}
