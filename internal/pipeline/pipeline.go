// Package pipeline implements C5: the replication pipeline that moves row
// changes from the source database into the search-index sink. It wires
// together C1 (sourcedb), C2 (schema), C3 (querybuilder), C4 (translate),
// and C6 (sink) into five cooperating tasks — listener, puller, consumer,
// compactor, and status reporter (§4.5.1) — coordinated with
// golang.org/x/sync/errgroup the way the teacher's own daemon task group
// coordinates its background workers.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pgsync-go/pgsync/internal/checkpoint"
	"github.com/pgsync-go/pgsync/internal/queue"
	"github.com/pgsync-go/pgsync/internal/schema"
	"github.com/pgsync-go/pgsync/internal/sink"
	"github.com/pgsync-go/pgsync/internal/sourcedb"
	"github.com/pgsync-go/pgsync/internal/translate"
)

// Options tunes the pipeline's chunk sizes and poll/report intervals
// (§4.5.1, §12 "settings precedence"); Config.Load supplies these in
// cmd/pgsync.
type Options struct {
	Channel string // NOTIFY channel, conventionally the database name (§4.1)

	ListenerChunkSize   int
	ListenerPollTimeout time.Duration
	NthreadsPolldb      int

	ConsumerPopTimeout time.Duration

	QueryChunkSize int

	BulkOptions sink.BulkOptions

	CompactInterval time.Duration
	StatusInterval  time.Duration
}

// defaultOptions mirrors internal/config's defaults so callers that build
// Options by hand (tests) get the same behavior as the CLI. The one
// exception is ListenerChunkSize: it has no config key of its own, and
// cmd/pgsync sets it from query_chunk_size instead of using 100.
var defaultOptions = Options{
	ListenerChunkSize:   100,
	ListenerPollTimeout: time.Second,
	NthreadsPolldb:      1,
	ConsumerPopTimeout:  time.Second,
	QueryChunkSize:      10000,
	BulkOptions:         sink.DefaultBulkOptions,
	CompactInterval:     30 * time.Second,
	StatusInterval:      10 * time.Second,
}

// WithDefaults fills any zero-valued field of opts from defaultOptions.
func (o Options) WithDefaults() Options {
	d := defaultOptions
	if o.ListenerChunkSize > 0 {
		d.ListenerChunkSize = o.ListenerChunkSize
	}
	if o.ListenerPollTimeout > 0 {
		d.ListenerPollTimeout = o.ListenerPollTimeout
	}
	if o.NthreadsPolldb > 0 {
		d.NthreadsPolldb = o.NthreadsPolldb
	}
	if o.ConsumerPopTimeout > 0 {
		d.ConsumerPopTimeout = o.ConsumerPopTimeout
	}
	if o.QueryChunkSize > 0 {
		d.QueryChunkSize = o.QueryChunkSize
	}
	if o.BulkOptions.ChunkSize > 0 {
		d.BulkOptions = o.BulkOptions
	}
	if o.CompactInterval > 0 {
		d.CompactInterval = o.CompactInterval
	}
	if o.StatusInterval > 0 {
		d.StatusInterval = o.StatusInterval
	}
	d.Channel = o.Channel
	return d
}

// Pipeline owns one (database, index) replication flow: the source
// adapter, schema tree, durable queue, checkpoint file, and search sink
// that the five C5 tasks share (§3.4, §3.6).
type Pipeline struct {
	Adapter    *sourcedb.Adapter
	Tree       *schema.Tree
	Queue      *queue.Queue
	Checkpoint *checkpoint.File
	Sink       *sink.Sink
	Plugins    sink.PluginChain
	Translator *translate.Translator

	Database  string
	SourceDSN string
	Opts      Options
	Logger    *zap.Logger

	status *statusReporter
}

// New wires a Pipeline from its already-constructed dependencies. Callers
// (cmd/pgsync) run schema.Build and open the adapter, queue, checkpoint
// and sink before calling this; New itself builds the translate.Translator
// over tree and sk.
func New(database, sourceDSN string, adapter *sourcedb.Adapter, tree *schema.Tree, q *queue.Queue, cp *checkpoint.File, sk *sink.Sink, plugins sink.PluginChain, opts Options, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	resolved := opts.WithDefaults()

	status, err := newStatusReporter(resolved.StatusInterval, logger)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		Adapter:    adapter,
		Tree:       tree,
		Queue:      q,
		Checkpoint: cp,
		Sink:       sk,
		Plugins:    plugins,
		Translator: translate.New(tree, sk),
		Database:   database,
		SourceDSN:  sourceDSN,
		Opts:       resolved,
		Logger:     logger,
		status:     status,
	}, nil
}

// Run performs the one-shot forward resync (the puller), then launches the
// listener(s), consumer, compactor, and status reporter as long-lived
// tasks under ctx, returning when ctx is canceled and every task has
// finished its in-flight work (§4.5.3 "lets the in-flight consumer batch
// complete, then exits").
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.Pull(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.Opts.NthreadsPolldb; i++ {
		g.Go(func() error { return p.runListener(gctx) })
	}
	g.Go(func() error { return p.runConsumer(gctx) })
	g.Go(func() error { return p.runCompactor(gctx) })
	g.Go(func() error { return p.runStatusReporter(gctx) })
	return g.Wait()
}
