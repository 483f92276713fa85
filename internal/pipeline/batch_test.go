package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgsync-go/pgsync/internal/types"
)

func event(op types.TgOp, table string, xmin int64) types.ChangeEvent {
	return types.ChangeEvent{TgOp: op, Schema: "public", Table: table, Xmin: xmin}
}

func TestChunkBatches_MergesAdjacentRuns(t *testing.T) {
	events := []types.ChangeEvent{
		event(types.OpInsert, "books", 1),
		event(types.OpInsert, "books", 2),
		event(types.OpUpdate, "books", 3),
		event(types.OpInsert, "authors", 4),
		event(types.OpInsert, "authors", 5),
	}
	batches := chunkBatches(events)
	require.Len(t, batches, 3)
	require.Equal(t, types.OpInsert, batches[0].TgOp)
	require.Equal(t, "books", batches[0].Table)
	require.Len(t, batches[0].Events, 2)
	require.Equal(t, types.OpUpdate, batches[1].TgOp)
	require.Len(t, batches[1].Events, 1)
	require.Equal(t, "authors", batches[2].Table)
	require.Len(t, batches[2].Events, 2)
}

func TestChunkBatches_DoesNotMergeAcrossSchema(t *testing.T) {
	events := []types.ChangeEvent{
		{TgOp: types.OpInsert, Schema: "public", Table: "books", Xmin: 1},
		{TgOp: types.OpInsert, Schema: "audit", Table: "books", Xmin: 2},
	}
	batches := chunkBatches(events)
	require.Len(t, batches, 2)
}

func TestAllInsertFastPath(t *testing.T) {
	require.True(t, allInsertFastPath([]types.Batch{
		{TgOp: types.OpInsert, Table: "books"},
		{TgOp: types.OpInsert, Table: "authors"},
	}))
	require.False(t, allInsertFastPath([]types.Batch{
		{TgOp: types.OpInsert, Table: "books"},
		{TgOp: types.OpUpdate, Table: "books"},
	}))
	require.False(t, allInsertFastPath(nil))
}

func TestGroupByTable_MergesNonAdjacentSameTableBatches(t *testing.T) {
	batches := []types.Batch{
		{TgOp: types.OpInsert, Schema: "public", Table: "books", Events: []types.ChangeEvent{event(types.OpInsert, "books", 1)}},
		{TgOp: types.OpInsert, Schema: "public", Table: "authors", Events: []types.ChangeEvent{event(types.OpInsert, "authors", 2)}},
		{TgOp: types.OpInsert, Schema: "public", Table: "books", Events: []types.ChangeEvent{event(types.OpInsert, "books", 3)}},
	}
	grouped := groupByTable(batches)
	require.Len(t, grouped, 2)
	require.Equal(t, "books", grouped[0].Table)
	require.Len(t, grouped[0].Events, 2)
	require.Equal(t, "authors", grouped[1].Table)
}

func TestMinXmin(t *testing.T) {
	events := []types.ChangeEvent{
		event(types.OpInsert, "books", 5),
		event(types.OpInsert, "books", 2),
		event(types.OpInsert, "books", 9),
	}
	require.Equal(t, int64(2), minXmin(events))
}
