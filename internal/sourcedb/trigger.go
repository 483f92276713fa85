package sourcedb

import (
	"context"
	"fmt"
)

// TriggerFunction is the name of the shared PL/pgSQL function every managed
// table's triggers call (§4.1.1).
const TriggerFunction = "_notify_change"

// triggerFunctionBody is installed once per schema. It looks up the
// firing table's row in _view to learn its primary keys, foreign keys and
// watched columns, compares OLD and NEW on UPDATE to decide whether any
// watched column actually changed, and if so pg_notifies the channel with
// a JSON payload carrying xmin, new/old row data, the table's indices and
// tg_op (§4.1.1).
const triggerFunctionBody = `
CREATE OR REPLACE FUNCTION %[1]s.%[2]s() RETURNS trigger AS $$
DECLARE
	meta        %[1]s.%[3]s%%ROWTYPE;
	changed     boolean := true;
	payload     json;
	col         text;
	old_json    json;
	new_json    json;
	old_payload jsonb;
	new_payload jsonb;
	payload_keys text[];
BEGIN
	SELECT * INTO meta FROM %[1]s._view WHERE table_name = TG_TABLE_NAME;
	IF NOT FOUND THEN
		RETURN NULL;
	END IF;

	IF TG_OP = 'UPDATE' THEN
		changed := false;
		old_json := row_to_json(OLD);
		new_json := row_to_json(NEW);
		FOREACH col IN ARRAY meta.columns LOOP
			IF (old_json ->> col) IS DISTINCT FROM (new_json ->> col) THEN
				changed := true;
				EXIT;
			END IF;
		END LOOP;
		IF NOT changed THEN
			RETURN NULL;
		END IF;
	END IF;

	-- old_row/new_row are restricted to primary_keys union foreign_keys;
	-- DELETE only ever has an old_row, restricted to primary_keys alone.
	payload_keys := meta.primary_keys || meta.foreign_keys;
	IF TG_OP = 'DELETE' THEN
		payload_keys := meta.primary_keys;
	END IF;

	IF TG_OP IN ('INSERT', 'UPDATE') THEN
		SELECT COALESCE(jsonb_object_agg(e.key, e.value), '{}'::jsonb) INTO new_payload
		FROM jsonb_each(to_jsonb(NEW)) AS e(key, value)
		WHERE e.key = ANY(payload_keys);
	END IF;
	IF TG_OP IN ('UPDATE', 'DELETE') THEN
		SELECT COALESCE(jsonb_object_agg(e.key, e.value), '{}'::jsonb) INTO old_payload
		FROM jsonb_each(to_jsonb(OLD)) AS e(key, value)
		WHERE e.key = ANY(payload_keys);
	END IF;

	payload := json_build_object(
		'xmin', txid_current(),
		'new', new_payload,
		'old', old_payload,
		'indices', meta.primary_keys,
		'tg_op', TG_OP,
		'table', TG_TABLE_NAME,
		'schema', TG_TABLE_SCHEMA
	);

	PERFORM pg_notify(%[4]s, payload::text);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;
`

// CreateTriggerFunction installs (or replaces) the shared notify function
// for schema, channel being the NOTIFY channel name (conventionally the
// database name, §4.1).
func (a *Adapter) CreateTriggerFunction(ctx context.Context, schema, channel string) error {
	stmt := fmt.Sprintf(triggerFunctionBody, quoteIdent(schema), TriggerFunction, ViewName, quoteLiteral(channel))
	if _, err := a.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("create trigger function %s.%s: %w", schema, TriggerFunction, err)
	}
	return nil
}

// CreateTriggers installs the AFTER INSERT/UPDATE/DELETE FOR EACH ROW
// trigger and the AFTER TRUNCATE FOR EACH STATEMENT trigger on table,
// replacing any previous version of each (§4.1.1).
func (a *Adapter) CreateTriggers(ctx context.Context, schema, table string) error {
	rowTrigger := triggerName(table, "row")
	truncTrigger := triggerName(table, "truncate")

	stmts := []string{
		fmt.Sprintf(`DROP TRIGGER IF EXISTS %s ON %s.%s`, quoteIdent(rowTrigger), quoteIdent(schema), quoteIdent(table)),
		fmt.Sprintf(`DROP TRIGGER IF EXISTS %s ON %s.%s`, quoteIdent(truncTrigger), quoteIdent(schema), quoteIdent(table)),
		fmt.Sprintf(`
			CREATE TRIGGER %s
			AFTER INSERT OR UPDATE OR DELETE ON %s.%s
			FOR EACH ROW EXECUTE FUNCTION %s.%s()
		`, quoteIdent(rowTrigger), quoteIdent(schema), quoteIdent(table), quoteIdent(schema), TriggerFunction),
		fmt.Sprintf(`
			CREATE TRIGGER %s
			AFTER TRUNCATE ON %s.%s
			FOR EACH STATEMENT EXECUTE FUNCTION %s.%s()
		`, quoteIdent(truncTrigger), quoteIdent(schema), quoteIdent(table), quoteIdent(schema), TriggerFunction),
	}

	for _, stmt := range stmts {
		if _, err := a.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("install triggers on %s.%s: %w", schema, table, err)
		}
	}
	return nil
}

// DropTriggers removes both triggers from table, ignoring not-found
// (§6.5 teardown).
func (a *Adapter) DropTriggers(ctx context.Context, schema, table string) error {
	for _, name := range []string{triggerName(table, "row"), triggerName(table, "truncate")} {
		stmt := fmt.Sprintf(`DROP TRIGGER IF EXISTS %s ON %s.%s`, quoteIdent(name), quoteIdent(schema), quoteIdent(table))
		if _, err := a.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("drop trigger %s: %w", name, err)
		}
	}
	return nil
}

func triggerName(table, kind string) string {
	return sanitizeIdentifier(table) + "_" + kind + "_trigger"
}

func quoteLiteral(s string) string {
	return "'" + s + "'"
}
