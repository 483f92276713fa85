package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pgsync-go/pgsync/internal/types"
)

// runConsumer is the consumer task (§4.5.1): it bulk-pops from the queue,
// chunks the drained events into homogeneous (tg_op, table) runs in
// source order, hands each run through C4/C3, and advances the checkpoint
// only after every run in the drain has flushed successfully (§4.5.2
// "the checkpoint never advances past an event that has not been acked by
// the sink"). It blocks on an empty queue with ConsumerPopTimeout and
// returns when ctx is canceled, once any in-flight drain has completed
// (§4.5.3).
func (p *Pipeline) runConsumer(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		events, err := p.drain(ctx)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			continue
		}

		if err := p.processDrain(context.WithoutCancel(ctx), events); err != nil {
			return fmt.Errorf("consumer: %w", err)
		}
	}
}

// drain returns whatever is immediately available in the queue, blocking
// (with a timeout) for at least one item if the queue is currently empty.
func (p *Pipeline) drain(ctx context.Context) ([]types.ChangeEvent, error) {
	var events []types.ChangeEvent
	if err := p.Queue.BulkPop(ctx, func(raw [][]byte) error {
		for _, r := range raw {
			var e types.ChangeEvent
			if err := json.Unmarshal(r, &e); err != nil {
				return fmt.Errorf("decode queued event: %w", err)
			}
			events = append(events, e)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if len(events) > 0 {
		return events, nil
	}

	raw, err := p.Queue.Pop(ctx, p.Opts.ConsumerPopTimeout)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var e types.ChangeEvent
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode queued event: %w", err)
	}
	return []types.ChangeEvent{e}, nil
}

// processDrain chunks events into homogeneous batches and runs them,
// applying the INSERT fast path (§4.4.1) when the entire drain is inserts,
// then advances the checkpoint.
func (p *Pipeline) processDrain(ctx context.Context, events []types.ChangeEvent) error {
	batches := chunkBatches(events)

	if allInsertFastPath(batches) {
		g, gctx := errgroup.WithContext(ctx)
		for _, b := range groupByTable(batches) {
			b := b
			g.Go(func() error { return p.processBatch(gctx, b) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	} else {
		for _, b := range batches {
			if err := p.processBatch(ctx, b); err != nil {
				return err
			}
		}
	}

	txidCurrent, err := p.Adapter.TxidCurrent(ctx)
	if err != nil {
		return fmt.Errorf("read txid_current: %w", err)
	}
	checkpointTxid := minXmin(events) - 1
	if txidCurrent-1 < checkpointTxid {
		checkpointTxid = txidCurrent - 1
	}
	current, err := p.Checkpoint.Read()
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	if checkpointTxid > current {
		if err := p.Checkpoint.Write(checkpointTxid); err != nil {
			return fmt.Errorf("advance checkpoint to %d: %w", checkpointTxid, err)
		}
	}
	p.Logger.Debug("consumer flushed drain", zap.Int("events", len(events)), zap.Int64("checkpoint", checkpointTxid))
	return nil
}
