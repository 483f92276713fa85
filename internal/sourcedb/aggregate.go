package sourcedb

import (
	"context"
	"fmt"
)

// MetaMergeFunction is the PL/pgSQL state-transition function backing the
// MetaMergeAggregate custom aggregate (§3.3, §4.3.2): it deep-merges two
// `{table: {column: [values]}}` objects, concatenating and de-duplicating
// the leaf value arrays, so the query builder can fold many rows' _meta
// contributions into one _meta object without a client-side pass.
const MetaMergeFunction = "_meta_merge_step"

// MetaMergeAggregate is the aggregate name the compiled query text calls;
// querybuilder references this constant directly.
const MetaMergeAggregate = "_meta_merge"

const metaMergeSQL = `
CREATE OR REPLACE FUNCTION %[1]s.%[2]s(state jsonb, next jsonb) RETURNS jsonb AS $$
DECLARE
	tbl  text;
	col  text;
	merged jsonb := coalesce(state, '{}'::jsonb);
BEGIN
	IF next IS NULL THEN
		RETURN merged;
	END IF;

	FOR tbl IN SELECT jsonb_object_keys(next) LOOP
		FOR col IN SELECT jsonb_object_keys(next -> tbl) LOOP
			merged := jsonb_set(
				merged,
				ARRAY[tbl, col],
				(
					SELECT to_jsonb(array_agg(DISTINCT v ORDER BY v))
					FROM (
						SELECT jsonb_array_elements(coalesce(merged -> tbl -> col, '[]'::jsonb)) AS v
						UNION
						SELECT jsonb_array_elements(next -> tbl -> col) AS v
					) dedup
				),
				true
			);
		END LOOP;
	END LOOP;

	RETURN merged;
END;
$$ LANGUAGE plpgsql IMMUTABLE;

CREATE AGGREGATE %[1]s.%[3]s(jsonb) (
	SFUNC = %[1]s.%[2]s,
	STYPE = jsonb,
	INITCOND = '{}'
);
`

// CreateMetaMergeAggregate installs the merge function and aggregate in
// schema, replacing any prior version (bootstrap is idempotent, §6.5).
func (a *Adapter) CreateMetaMergeAggregate(ctx context.Context, schema string) error {
	if _, err := a.pool.Exec(ctx, fmt.Sprintf(`DROP AGGREGATE IF EXISTS %s.%s(jsonb)`, quoteIdent(schema), MetaMergeAggregate)); err != nil {
		return fmt.Errorf("drop existing %s.%s aggregate: %w", schema, MetaMergeAggregate, err)
	}
	stmt := fmt.Sprintf(metaMergeSQL, quoteIdent(schema), MetaMergeFunction, MetaMergeAggregate)
	if _, err := a.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("create %s.%s aggregate: %w", schema, MetaMergeAggregate, err)
	}
	return nil
}

// DropMetaMergeAggregate removes the aggregate and its function, ignoring
// not-found (§6.5 teardown).
func (a *Adapter) DropMetaMergeAggregate(ctx context.Context, schema string) error {
	if _, err := a.pool.Exec(ctx, fmt.Sprintf(`DROP AGGREGATE IF EXISTS %s.%s(jsonb)`, quoteIdent(schema), MetaMergeAggregate)); err != nil {
		return fmt.Errorf("drop %s.%s aggregate: %w", schema, MetaMergeAggregate, err)
	}
	if _, err := a.pool.Exec(ctx, fmt.Sprintf(`DROP FUNCTION IF EXISTS %s.%s(jsonb, jsonb)`, quoteIdent(schema), MetaMergeFunction)); err != nil {
		return fmt.Errorf("drop %s.%s function: %w", schema, MetaMergeFunction, err)
	}
	return nil
}
