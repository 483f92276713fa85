package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pgsync-go/pgsync/internal/checkpoint"
	"github.com/pgsync-go/pgsync/internal/queue"
)

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Drop triggers, the replication slot, _view, the meta-merge aggregate, the checkpoint, queue, and index",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		targets, err := a.loadTargets(ctx)
		if err != nil {
			return err
		}
		for _, t := range targets {
			if err := teardownTarget(ctx, a, t); err != nil {
				return fmt.Errorf("teardown %s: %w", t.tree.Index, err)
			}
			a.logger.Info("teardown complete", zap.String("index", t.tree.Index))
		}
		return nil
	},
}

func teardownTarget(ctx context.Context, a *app, t *target) error {
	tree := t.tree
	database := a.cfg.Database

	schemas, tableModels, err := collectSchemasAndModels(ctx, a.adapter, tree)
	if err != nil {
		return err
	}
	rows := viewRowsForTree(tree, tableModels)

	for qualified := range rows {
		s, table := qualifiedSchema(qualified), qualifiedTable(qualified)
		if err := a.adapter.DropTriggers(ctx, s, table); err != nil {
			return err
		}
	}
	for s := range schemas {
		if err := a.adapter.DropView(ctx, s); err != nil {
			return err
		}
		if err := a.adapter.DropMetaMergeAggregate(ctx, s); err != nil {
			return err
		}
	}
	if err := a.adapter.DropSlot(ctx, database, tree.Index); err != nil {
		return err
	}

	q, err := queue.New(ctx, a.cfg.RedisURL, database, tree.Index)
	if err != nil {
		return fmt.Errorf("open queue for teardown: %w", err)
	}
	defer q.Close()
	if err := q.Delete(ctx); err != nil {
		return err
	}

	cp, err := checkpoint.Open(a.cfg.CheckpointPath, database, tree.Index)
	if err != nil {
		return fmt.Errorf("open checkpoint for teardown: %w", err)
	}
	if err := cp.Delete(); err != nil {
		return err
	}

	return a.sinkFor(tree).Teardown(ctx, tree.Index)
}
