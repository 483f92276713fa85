package pipeline

import "github.com/pgsync-go/pgsync/internal/types"

// chunkBatches groups a source-ordered event stream into homogeneous runs
// of (tg_op, table) (§4.5.1 consumer "chunks into homogeneous runs"). Order
// is preserved across the returned batches; the INSERT fast path (§4.4.1)
// is applied later, by the caller deciding whether to run independent
// batches concurrently, not here.
func chunkBatches(events []types.ChangeEvent) []types.Batch {
	var batches []types.Batch
	for _, e := range events {
		if n := len(batches); n > 0 {
			last := &batches[n-1]
			if last.TgOp == e.TgOp && last.Table == e.Table && last.Schema == e.Schema {
				last.Events = append(last.Events, e)
				continue
			}
		}
		batches = append(batches, types.Batch{TgOp: e.TgOp, Table: e.Table, Schema: e.Schema, Events: []types.ChangeEvent{e}})
	}
	return batches
}

// allInsertFastPath reports whether every batch in the run is an INSERT,
// making it safe to process them concurrently grouped by table rather
// than strictly in order (§4.4.1).
func allInsertFastPath(batches []types.Batch) bool {
	for _, b := range batches {
		if b.TgOp != types.OpInsert {
			return false
		}
	}
	return len(batches) > 0
}

// groupByTable merges same-table INSERT batches together for the fast
// path, since chunkBatches only merges adjacent runs.
func groupByTable(batches []types.Batch) []types.Batch {
	byTable := map[string]*types.Batch{}
	var order []string
	for _, b := range batches {
		key := b.Schema + "." + b.Table
		g, ok := byTable[key]
		if !ok {
			nb := types.Batch{TgOp: b.TgOp, Table: b.Table, Schema: b.Schema}
			byTable[key] = &nb
			g = &nb
			order = append(order, key)
		}
		g.Events = append(g.Events, b.Events...)
	}
	out := make([]types.Batch, 0, len(order))
	for _, key := range order {
		out = append(out, *byTable[key])
	}
	return out
}

func minXmin(events []types.ChangeEvent) int64 {
	var min int64
	for i, e := range events {
		if i == 0 || e.Xmin < min {
			min = e.Xmin
		}
	}
	return min
}
