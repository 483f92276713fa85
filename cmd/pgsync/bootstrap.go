package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pgsync-go/pgsync/internal/schema"
	"github.com/pgsync-go/pgsync/internal/sink"
	"github.com/pgsync-go/pgsync/internal/sourcedb"
	"github.com/pgsync-go/pgsync/internal/types"
)

var dryRun bool

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Install the replication slot, triggers, _view manifest, meta-merge aggregate, and search index",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if err := validatePrivileges(ctx, a); err != nil {
			return err
		}
		if dryRun {
			a.logger.Info("--dry-run: privileges and wal_level validated, no changes made")
			return nil
		}

		targets, err := a.loadTargets(ctx)
		if err != nil {
			return err
		}
		for _, t := range targets {
			if err := bootstrapTarget(ctx, a, t); err != nil {
				return fmt.Errorf("bootstrap %s: %w", t.tree.Index, err)
			}
			a.logger.Info("bootstrap complete", zap.String("index", t.tree.Index))
		}
		return nil
	},
}

func init() {
	bootstrapCmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate privileges and wal_level only, make no changes (§6.1, §12)")
}

// validatePrivileges runs the original's utils.validate-equivalent check:
// the connecting role must be able to create logical replication slots and
// the server must run with wal_level=logical (§6.1, §12 "--validate /
// dry-run bootstrap").
func validatePrivileges(ctx context.Context, a *app) error {
	ok, err := a.adapter.CheckReplicationPrivilege(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("connecting role lacks REPLICATION privilege")
	}
	logical, err := a.adapter.WalLevelLogical(ctx)
	if err != nil {
		return err
	}
	if !logical {
		return fmt.Errorf("source database is not running with wal_level=logical")
	}
	return nil
}

func bootstrapTarget(ctx context.Context, a *app, t *target) error {
	tree := t.tree
	channel := tree.Database
	if channel == "" {
		channel = a.cfg.Database
	}

	schemas, tableModels, err := collectSchemasAndModels(ctx, a.adapter, tree)
	if err != nil {
		return err
	}

	if err := a.adapter.CreateSlot(ctx, a.cfg.Database, tree.Index); err != nil {
		return err
	}

	for s := range schemas {
		if err := a.adapter.CreateMetaMergeAggregate(ctx, s); err != nil {
			return err
		}
		if err := a.adapter.CreateTriggerFunction(ctx, s, channel); err != nil {
			return err
		}
	}

	rows := viewRowsForTree(tree, tableModels)
	bySchema := map[string][]sourcedb.ViewRow{}
	for qualified, row := range rows {
		s := qualifiedSchema(qualified)
		bySchema[s] = append(bySchema[s], row)
	}
	for s, rs := range bySchema {
		if err := a.adapter.CreateMaterializedView(ctx, s, rs); err != nil {
			return err
		}
	}

	for qualified := range rows {
		s, table := qualifiedSchema(qualified), qualifiedTable(qualified)
		if err := a.adapter.CreateTriggers(ctx, s, table); err != nil {
			return err
		}
	}

	mapping, err := sink.BuildMapping(tree, tableModels)
	if err != nil {
		return err
	}
	return a.sinkFor(tree).CreateIndex(ctx, tree.Index, tree.Setting, mapping, tree.Routing)
}

// collectSchemasAndModels walks tree plus its through-tables, reflecting
// every distinct table once and recording the set of schemas that need
// the shared trigger function and meta-merge aggregate installed.
func collectSchemasAndModels(ctx context.Context, adapter *sourcedb.Adapter, tree *schema.Tree) (map[string]bool, map[string]*types.Model, error) {
	schemas := map[string]bool{}
	models := map[string]*types.Model{}

	var walkErr error
	tree.PreOrder(func(n *types.Node) {
		if walkErr != nil {
			return
		}
		schemas[n.Schema] = true
		m, err := adapter.Model(ctx, n.Schema, n.Table)
		if err != nil {
			walkErr = err
			return
		}
		models[n.QualifiedTable()] = m
	})
	if walkErr != nil {
		return nil, nil, walkErr
	}

	for _, ref := range tree.ThroughTables() {
		key := ref.Node.Schema + "." + ref.ThroughTable
		if _, ok := models[key]; ok {
			continue
		}
		m, err := adapter.Model(ctx, ref.Node.Schema, ref.ThroughTable)
		if err != nil {
			return nil, nil, err
		}
		models[key] = m
	}
	return schemas, models, nil
}

// viewRowsForTree derives one _view row per distinct table in the tree
// (including through-tables), keyed by "schema.table". Columns is the
// node's declared watched_columns when set, else every real column on the
// table — comparing every column against its prior value reproduces
// "notify on any change" through the same trigger logic that gates on
// watched_columns when they're declared (§4.1.1, §4.2).
func viewRowsForTree(tree *schema.Tree, models map[string]*types.Model) map[string]sourcedb.ViewRow {
	rows := map[string]sourcedb.ViewRow{}

	tree.PreOrder(func(n *types.Node) {
		key := n.QualifiedTable()
		model := models[key]
		row := sourcedb.ViewRow{
			TableName:   n.Table,
			PrimaryKeys: n.PrimaryKeys,
			Indices:     n.PrimaryKeys,
			Columns:     watchColumnsOrAll(n, model),
		}
		if n.Relationship != nil && n.Relationship.ForeignKey != nil {
			row.ForeignKeys = n.Relationship.ForeignKey.Child
		}
		rows[key] = row
	})

	for _, ref := range tree.ThroughTables() {
		key := ref.Node.Schema + "." + ref.ThroughTable
		if _, ok := rows[key]; ok {
			continue
		}
		model := models[key]
		rows[key] = sourcedb.ViewRow{
			TableName:   ref.ThroughTable,
			PrimaryKeys: modelPrimaryKeys(model),
			Columns:     allColumns(model),
		}
	}
	return rows
}

func watchColumnsOrAll(n *types.Node, model *types.Model) []string {
	if len(n.WatchedColumns) > 0 {
		return n.WatchedColumns
	}
	return allColumns(model)
}

func allColumns(model *types.Model) []string {
	if model == nil {
		return nil
	}
	cols := make([]string, 0, len(model.Columns))
	for _, c := range model.Columns {
		cols = append(cols, c.Name)
	}
	return cols
}

func modelPrimaryKeys(model *types.Model) []string {
	if model == nil {
		return nil
	}
	return model.PrimaryKeys
}

func qualifiedSchema(qualified string) string {
	for i, r := range qualified {
		if r == '.' {
			return qualified[:i]
		}
	}
	return qualified
}

func qualifiedTable(qualified string) string {
	for i, r := range qualified {
		if r == '.' {
			return qualified[i+1:]
		}
	}
	return qualified
}
