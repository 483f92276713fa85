package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pgsync-go/pgsync/internal/sourcedb"
)

// runCompactor periodically drains the replication slot destructively up
// to the last durable checkpoint, preventing unbounded WAL retention
// (§4.5.1). It only ever consumes up to the checkpoint — never past it —
// since everything beyond the checkpoint may still need to be replayed by
// the puller after a crash (§4.5.2 idempotent per-txid).
func (p *Pipeline) runCompactor(ctx context.Context) error {
	ticker := time.NewTicker(p.Opts.CompactInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.compactOnce(ctx); err != nil {
				p.Logger.Warn("compactor pass failed", zap.Error(err))
			}
		}
	}
}

func (p *Pipeline) compactOnce(ctx context.Context) error {
	txmax, err := p.Checkpoint.Read()
	if err != nil {
		return err
	}
	if txmax == 0 {
		return nil
	}
	events, err := p.Adapter.ConsumeSlot(ctx, p.Database, p.Tree.Index, sourcedb.SlotRange{Txmax: &txmax})
	if err != nil {
		return err
	}
	if len(events) > 0 {
		p.Logger.Debug("compactor drained slot", zap.Int("events", len(events)), zap.Int64("upto_txid", txmax))
	}
	return nil
}
