package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pgsync-go/pgsync/internal/querybuilder"
	"github.com/pgsync-go/pgsync/internal/types"
)

// runResync compiles filter against the tree, streams the resulting
// documents through the plugin chain, and bulk-upserts them to the sink in
// QueryChunkSize-sized pages (§4.3, §4.6). Returns the number of documents
// indexed.
func (p *Pipeline) runResync(ctx context.Context, filter *types.ResyncFilter) (int, error) {
	if filter == nil {
		filter = &types.ResyncFilter{}
	}
	compiled, err := querybuilder.Compile(p.Tree, filter, filter.NodeFilters)
	if err != nil {
		return 0, fmt.Errorf("compile resync query: %w", err)
	}

	var (
		buf   = make([]types.BulkAction, 0, p.Opts.QueryChunkSize)
		total int
	)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		res, err := p.Sink.Bulk(ctx, p.Tree.Index, buf, p.Opts.BulkOptions)
		if err != nil {
			return fmt.Errorf("bulk upsert: %w", err)
		}
		total += res.Indexed
		p.status.incDocsIndexed(res.Indexed)
		buf = buf[:0]
		return nil
	}

	err = p.Adapter.ExecuteQuery(ctx, compiled.SQL, compiled.Args, func(doc types.Document) error {
		doc, err := p.Plugins.Apply(ctx, doc)
		if err != nil {
			return err
		}
		source := doc.Source
		if source == nil {
			source = map[string]any{}
		}
		source[types.MetaField] = doc.Meta
		buf = append(buf, types.BulkAction{
			Op:      types.BulkIndex,
			Index:   p.Tree.Index,
			ID:      doc.ID,
			Routing: doc.Routing,
			Source:  source,
		})
		if len(buf) >= p.Opts.QueryChunkSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}

// runDeletes bulk-deletes the given actions from the sink.
func (p *Pipeline) runDeletes(ctx context.Context, deletes []types.DeleteAction) (int, error) {
	if len(deletes) == 0 {
		return 0, nil
	}
	actions := make([]types.BulkAction, len(deletes))
	for i, d := range deletes {
		actions[i] = types.BulkAction{Op: types.BulkDelete, Index: p.Tree.Index, ID: d.ID}
	}
	res, err := p.Sink.Bulk(ctx, p.Tree.Index, actions, p.Opts.BulkOptions)
	if err != nil {
		return 0, fmt.Errorf("bulk delete: %w", err)
	}
	return res.Deleted, nil
}

// processBatch translates one homogeneous batch and applies whatever
// resync filter and/or direct deletes it produces (§4.4, §4.5.1 consumer).
func (p *Pipeline) processBatch(ctx context.Context, batch types.Batch) error {
	filter, deletes, err := p.Translator.Translate(ctx, batch)
	if err != nil {
		return fmt.Errorf("translate batch %s.%s/%s: %w", batch.Schema, batch.Table, batch.TgOp, err)
	}
	if len(deletes) > 0 {
		if _, err := p.runDeletes(ctx, deletes); err != nil {
			return err
		}
	}
	if filter != nil && !filter.Empty() {
		if _, err := p.runResync(ctx, filter); err != nil {
			return err
		}
	}
	p.Logger.Debug("processed batch",
		zap.String("table", batch.Table), zap.String("tg_op", string(batch.TgOp)), zap.Int("events", len(batch.Events)))
	return nil
}
