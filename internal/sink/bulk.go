package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"go.uber.org/zap"

	"github.com/pgsync-go/pgsync/internal/types"
)

// BulkOptions controls one Bulk call (§4.6 "chunk size, byte ceiling ...
// booleans for raise-on-error / raise-on-exception").
type BulkOptions struct {
	ChunkSize      int
	FlushBytes     int
	RaiseOnError   bool
	RaiseOnFailure bool
}

// DefaultBulkOptions mirrors the original's defaults.
var DefaultBulkOptions = BulkOptions{
	ChunkSize:  500,
	FlushBytes: 5 << 20,
}

// BulkResult summarizes one Bulk call's outcome.
type BulkResult struct {
	Indexed int
	Deleted int
	Failed  int
}

// Bulk streams actions to the search engine via the client's bulk indexer.
// A failed bulk request as a whole (including a 429 status on the bulk
// endpoint) is retried with exponential backoff; per-item failures, a
// per-item 429 included, are not retried. Failed items are always
// logged; RaiseOnError additionally returns the first failure as an error.
func (s *Sink) Bulk(ctx context.Context, index string, actions []types.BulkAction, opts BulkOptions) (*BulkResult, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultBulkOptions.ChunkSize
	}
	if opts.FlushBytes <= 0 {
		opts.FlushBytes = DefaultBulkOptions.FlushBytes
	}

	result := &BulkResult{}
	var firstErr error

	// A send-level error (connection reset, 429 on the bulk endpoint
	// itself rather than a per-item failure) retries the whole batch with
	// exponential backoff (§4.6, §7 "Transient I/O").
	sendErr := backoff.Retry(func() error {
		result.Indexed, result.Deleted, result.Failed = 0, 0, 0
		firstErr = nil
		var flushErr error

		indexer, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
			Index:         index,
			Client:        s.client,
			NumWorkers:    1,
			FlushBytes:    opts.FlushBytes,
			FlushInterval: 0,
			OnError: func(_ context.Context, err error) {
				s.logger.Error("bulk indexer error", zap.String("index", index), zap.Error(err))
				flushErr = err
			},
		})
		if err != nil {
			return fmt.Errorf("create bulk indexer for %s: %w", index, err)
		}

		for _, action := range actions {
			item := esutil.BulkIndexerItem{
				Action:     string(action.Op),
				DocumentID: action.ID,
				OnSuccess: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem) {
					if action.Op == types.BulkDelete {
						result.Deleted++
					} else {
						result.Indexed++
					}
				},
				OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
					result.Failed++
					s.logger.Warn("bulk item failed",
						zap.String("op", item.Action), zap.String("index", index), zap.String("id", item.DocumentID),
						zap.Error(err), zap.String("reason", res.Error.Reason))
					if firstErr == nil {
						firstErr = fmt.Errorf("bulk %s failed for %s: %s: %s", item.Action, item.DocumentID, res.Error.Type, res.Error.Reason)
					}
				},
			}
			if action.Routing != "" {
				item.Routing = action.Routing
			}
			if action.Op != types.BulkDelete {
				body, err := json.Marshal(action.Source)
				if err != nil {
					return backoff.Permanent(fmt.Errorf("marshal document %s: %w", action.ID, err))
				}
				item.Body = bytes.NewReader(body)
			}
			if err := indexer.Add(ctx, item); err != nil {
				return fmt.Errorf("queue bulk item %s: %w", action.ID, err)
			}
		}

		if err := indexer.Close(ctx); err != nil {
			return fmt.Errorf("flush bulk indexer for %s: %w", index, err)
		}
		if flushErr != nil {
			return fmt.Errorf("flush bulk indexer for %s: %w", index, flushErr)
		}
		return nil
	}, s.retry.backoff())
	if sendErr != nil {
		return nil, sendErr
	}

	if opts.RaiseOnError && firstErr != nil {
		return result, firstErr
	}
	if opts.RaiseOnFailure && result.Failed > 0 {
		return result, fmt.Errorf("%d bulk item(s) failed for index %s", result.Failed, index)
	}
	return result, nil
}
