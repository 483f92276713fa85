package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pgsync-go/pgsync/internal/sourcedb"
	"github.com/pgsync-go/pgsync/internal/types"
)

// Pull is the one-shot puller (§4.5.1): it records txmin = checkpoint and
// txmax = txid_current, runs a forward-pass full resync over
// [txmin, txmax), replays the slot over the same range to catch anything
// the forward pass missed, and finally advances the checkpoint to txmax.
func (p *Pipeline) Pull(ctx context.Context) error {
	txmin, err := p.Checkpoint.Read()
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	txmax, err := p.Adapter.TxidCurrent(ctx)
	if err != nil {
		return fmt.Errorf("read txid_current: %w", err)
	}

	filter := &types.ResyncFilter{XminMin: &txmin, XminMax: &txmax}
	indexed, err := p.runResync(ctx, filter)
	if err != nil {
		return fmt.Errorf("puller forward resync: %w", err)
	}
	p.Logger.Info("puller forward resync complete",
		zap.Int64("txmin", txmin), zap.Int64("txmax", txmax), zap.Int("indexed", indexed))

	events, err := p.Adapter.PeekSlot(ctx, p.Database, p.Tree.Index, sourcedb.SlotRange{Txmin: &txmin, Txmax: &txmax})
	if err != nil {
		return fmt.Errorf("puller slot replay: %w", err)
	}
	p.status.incXlogEvents(len(events))

	for _, batch := range chunkBatches(events) {
		if err := p.processBatch(ctx, batch); err != nil {
			return fmt.Errorf("puller slot replay: %w", err)
		}
	}

	if err := p.Checkpoint.Write(txmax); err != nil {
		return fmt.Errorf("advance checkpoint to %d: %w", txmax, err)
	}
	p.Logger.Info("puller advanced checkpoint", zap.Int64("txid", txmax))
	return nil
}
