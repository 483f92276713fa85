package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/pgsync-go/pgsync/internal/sourcedb"
	"github.com/pgsync-go/pgsync/internal/types"
)

// runListener is the producer task (§4.5.1): it opens a dedicated LISTEN
// connection, blocks on notifications with a bounded poll timeout,
// buffers decoded events, and bulk-pushes the buffer to the durable queue
// once it reaches ListenerChunkSize or the poll times out with a
// non-empty partial buffer. It returns when ctx is canceled, after
// draining whatever remains buffered (§4.5.3).
func (p *Pipeline) runListener(ctx context.Context) error {
	l, err := p.Adapter.Listen(ctx, p.SourceDSN, p.Opts.Channel)
	if err != nil {
		return err
	}
	defer l.Close(context.Background())

	buf := make([]types.ChangeEvent, 0, p.Opts.ListenerChunkSize)
	for {
		if ctx.Err() != nil {
			return p.flushListenerBuffer(context.Background(), &buf)
		}

		waitCtx, cancel := context.WithTimeout(ctx, p.Opts.ListenerPollTimeout)
		n, err := l.WaitForNotification(waitCtx)
		cancel()

		switch {
		case err == nil:
			p.status.incNotifies()
			buf = append(buf, notificationToEvent(n))
			if len(buf) >= p.Opts.ListenerChunkSize {
				if err := p.flushListenerBuffer(ctx, &buf); err != nil {
					return err
				}
			}
		case errors.Is(err, context.DeadlineExceeded):
			if err := p.flushListenerBuffer(ctx, &buf); err != nil {
				return err
			}
		case errors.Is(err, context.Canceled):
			return p.flushListenerBuffer(context.Background(), &buf)
		default:
			p.Logger.Warn("listener wait failed", zap.Error(err))
			return err
		}
	}
}

// flushListenerBuffer bulk-pushes buf to the queue if non-empty and
// resets it.
func (p *Pipeline) flushListenerBuffer(ctx context.Context, buf *[]types.ChangeEvent) error {
	if len(*buf) == 0 {
		return nil
	}
	items := make([]any, len(*buf))
	for i, e := range *buf {
		items[i] = e
	}
	if err := p.Queue.BulkPush(ctx, items); err != nil {
		return err
	}
	*buf = (*buf)[:0]
	return nil
}

func notificationToEvent(n *sourcedb.Notification) types.ChangeEvent {
	return types.ChangeEvent{
		TgOp:    types.TgOp(n.TgOp),
		Schema:  n.Schema,
		Table:   n.Table,
		Old:     n.Old,
		New:     n.New,
		Xmin:    n.Xmin,
		Indices: n.Indices,
	}
}
