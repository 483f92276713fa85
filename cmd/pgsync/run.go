package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pgsync-go/pgsync/internal/checkpoint"
	"github.com/pgsync-go/pgsync/internal/pipeline"
	"github.com/pgsync-go/pgsync/internal/queue"
	"github.com/pgsync-go/pgsync/internal/sink"
)

var daemonMode bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Pull the current backlog and, with --daemon, stay resident consuming live changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		targets, err := a.loadTargets(ctx)
		if err != nil {
			return err
		}

		pipelines := make([]*pipeline.Pipeline, 0, len(targets))
		for _, t := range targets {
			p, err := buildPipeline(ctx, a, t)
			if err != nil {
				return fmt.Errorf("build pipeline for %s: %w", t.tree.Index, err)
			}
			pipelines = append(pipelines, p)
		}

		if !daemonMode {
			for _, p := range pipelines {
				if err := p.Pull(ctx); err != nil {
					return err
				}
			}
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, p := range pipelines {
			p := p
			g.Go(func() error { return p.Run(gctx) })
		}
		return g.Wait()
	},
}

func init() {
	runCmd.Flags().BoolVar(&daemonMode, "daemon", false, "stay resident, consuming live changes after the initial pull (§4.5.1)")
}

func buildPipeline(ctx context.Context, a *app, t *target) (*pipeline.Pipeline, error) {
	tree := t.tree
	database := a.cfg.Database

	q, err := queue.New(ctx, a.cfg.RedisURL, database, tree.Index, queue.WithChunkSize(a.cfg.RedisReadChunkSize))
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}

	cp, err := checkpoint.Open(a.cfg.CheckpointPath, database, tree.Index)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}

	plugins, err := sink.ResolvePlugins(tree.Plugins)
	if err != nil {
		return nil, fmt.Errorf("resolve plugins: %w", err)
	}

	opts := pipeline.Options{
		Channel:             database,
		ListenerChunkSize:   a.cfg.QueryChunkSize,
		ListenerPollTimeout: a.cfg.PollTimeout,
		NthreadsPolldb:      a.cfg.NthreadsPolldb,
		ConsumerPopTimeout:  timeoutOrDefault(a.cfg.PollTimeout),
		QueryChunkSize:      a.cfg.QueryChunkSize,
		BulkOptions:         sink.BulkOptions{ChunkSize: a.cfg.BulkChunkSize},
		CompactInterval:     30 * time.Second,
		StatusInterval:      10 * time.Second,
	}

	return pipeline.New(database, a.cfg.SourceDSN, a.adapter, tree, q, cp, a.sinkFor(tree), plugins, opts, a.logger.With(zap.String("index", tree.Index)))
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	return d
}
