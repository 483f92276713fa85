package sourcedb

import (
	"context"
	"fmt"

	"github.com/pgsync-go/pgsync/internal/errs"
	"github.com/pgsync-go/pgsync/internal/types"
)

// Model reflects and caches a single (schema, table) pair (§3.2, §4.1
// "reflect"). The returned Model additionally carries xmin/ctid as synthetic
// columns so the query builder can filter on them without re-querying the
// catalog.
func (a *Adapter) Model(ctx context.Context, schema, table string) (*types.Model, error) {
	key := schema + "." + table

	a.mu.RLock()
	if m, ok := a.models[key]; ok {
		a.mu.RUnlock()
		return m, nil
	}
	a.mu.RUnlock()

	cols, err := a.reflectColumns(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s.%s not found in catalog", schema, table)
	}

	pks, err := a.reflectPrimaryKeys(ctx, schema, table)
	if err != nil {
		return nil, err
	}

	m := &types.Model{Schema: schema, Table: table, Columns: cols, PrimaryKeys: pks}

	a.mu.Lock()
	a.models[key] = m
	a.mu.Unlock()

	return m, nil
}

func (a *Adapter) reflectColumns(ctx context.Context, schema, table string) ([]types.Column, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT column_name, udt_name
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("reflect columns for %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var cols []types.Column
	for rows.Next() {
		var name, udt string
		if err := rows.Scan(&name, &udt); err != nil {
			return nil, err
		}
		cols = append(cols, types.Column{Name: name, Type: udt})
	}
	return cols, rows.Err()
}

func (a *Adapter) reflectPrimaryKeys(ctx context.Context, schema, table string) ([]string, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT a.attname
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indrelid = (quote_ident($1) || '.' || quote_ident($2))::regclass
		  AND i.indisprimary
		ORDER BY array_position(i.indkey, a.attnum)
	`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("reflect primary keys for %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var pks []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		pks = append(pks, name)
	}
	return pks, rows.Err()
}

// ForeignKey resolves the ordered column lists linking parent and child,
// trying child->parent first, then parent->child (a relationship may be
// declared from either side). Returns ForeignKeyError if neither direction
// has a catalog FK (§4.1).
func (a *Adapter) ForeignKey(ctx context.Context, parent, child *types.Model) (*types.ForeignKey, error) {
	if fk, err := a.lookupForeignKey(ctx, child, parent); err == nil {
		return fk, nil
	}
	if fk, err := a.lookupForeignKey(ctx, parent, child); err == nil {
		return &types.ForeignKey{Parent: fk.Child, Child: fk.Parent}, nil
	}
	return nil, &errs.ForeignKeyError{TableA: parent.Table, TableB: child.Table}
}

// lookupForeignKey finds an FK declared on `from` referencing `to`,
// returning Parent = to's referenced columns, Child = from's columns.
func (a *Adapter) lookupForeignKey(ctx context.Context, from, to *types.Model) (*types.ForeignKey, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT
			(SELECT array_agg(att2.attname ORDER BY ord)
			 FROM unnest(c.confkey) WITH ORDINALITY AS u(attnum, ord)
			 JOIN pg_attribute att2 ON att2.attrelid = c.confrelid AND att2.attnum = u.attnum),
			(SELECT array_agg(att1.attname ORDER BY ord)
			 FROM unnest(c.conkey) WITH ORDINALITY AS u(attnum, ord)
			 JOIN pg_attribute att1 ON att1.attrelid = c.conrelid AND att1.attnum = u.attnum)
		FROM pg_constraint c
		WHERE c.contype = 'f'
		  AND c.conrelid = (quote_ident($1) || '.' || quote_ident($2))::regclass
		  AND c.confrelid = (quote_ident($3) || '.' || quote_ident($4))::regclass
		LIMIT 1
	`, from.Schema, from.Table, to.Schema, to.Table)
	if err != nil {
		return nil, fmt.Errorf("lookup foreign key %s -> %s: %w", from.Table, to.Table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, &errs.ForeignKeyError{TableA: from.Table, TableB: to.Table}
	}
	var parentCols, childCols []string
	if err := rows.Scan(&parentCols, &childCols); err != nil {
		return nil, err
	}
	if len(parentCols) == 0 {
		return nil, &errs.ForeignKeyError{TableA: from.Table, TableB: to.Table}
	}
	return &types.ForeignKey{Parent: parentCols, Child: childCols}, nil
}
