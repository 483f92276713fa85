package sourcedb

import (
	"context"
	"fmt"
)

// ViewName is the per-schema manifest the trigger function reads from to
// learn each table's watched primary/foreign keys and columns (§4.2.1).
// It is stored as a plain table, not a Postgres materialized view.
const ViewName = "_view"

// ViewRow is one row of the _view manifest.
type ViewRow struct {
	TableName   string
	PrimaryKeys []string
	ForeignKeys []string
	Indices     []string
	Columns     []string
}

// CreateMaterializedView drops and recreates the _view manifest table for
// schema, with one row per table in rows (§4.2.1); no materialized view is
// created. Named CreateMaterializedView
// rather than an implicit bootstrap side effect so teardown has a symmetric
// DropView to call (§9 "the _view lifecycle").
func (a *Adapter) CreateMaterializedView(ctx context.Context, schema string, rows []ViewRow) error {
	if err := a.DropView(ctx, schema); err != nil {
		return err
	}

	if _, err := a.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE %s.%s (
			table_name   text PRIMARY KEY,
			primary_keys text[],
			foreign_keys text[],
			indices      text[],
			columns      text[]
		)
	`, quoteIdent(schema), ViewName)); err != nil {
		return fmt.Errorf("create %s.%s: %w", schema, ViewName, err)
	}

	for _, r := range rows {
		if _, err := a.pool.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s.%s (table_name, primary_keys, foreign_keys, indices, columns)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (table_name) DO UPDATE SET
				primary_keys = EXCLUDED.primary_keys,
				foreign_keys = EXCLUDED.foreign_keys,
				indices = EXCLUDED.indices,
				columns = EXCLUDED.columns
		`, quoteIdent(schema), ViewName), r.TableName, r.PrimaryKeys, r.ForeignKeys, r.Indices, r.Columns); err != nil {
			return fmt.Errorf("populate %s.%s for table %s: %w", schema, ViewName, r.TableName, err)
		}
	}
	return nil
}

// RefreshMaterializedView repopulates _view after the set of in-tree tables
// or watched columns changes (§4.2.1 "refreshed whenever ... changes").
func (a *Adapter) RefreshMaterializedView(ctx context.Context, schema string, rows []ViewRow) error {
	return a.CreateMaterializedView(ctx, schema, rows)
}

// DropView removes the _view manifest for schema, ignoring not-found
// (§6.5 teardown).
func (a *Adapter) DropView(ctx context.Context, schema string) error {
	_, err := a.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s.%s`, quoteIdent(schema), ViewName))
	if err != nil {
		return fmt.Errorf("drop %s.%s: %w", schema, ViewName, err)
	}
	return nil
}

func quoteIdent(s string) string {
	return `"` + s + `"`
}
