package sourcedb

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pgsync-go/pgsync/internal/types"
)

// OutputPlugin is the logical-decoding output plugin this adapter parses
// (§4.1, §6.1).
const OutputPlugin = "test_decoding"

// SlotName derives the deterministic, single-consumer slot name for a
// (database, index) pair (§3.4, §6.1).
func SlotName(database, index string) string {
	return sanitizeIdentifier(database + "_" + index)
}

func sanitizeIdentifier(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// CreateSlot creates the logical replication slot for (database, index) if
// it does not already exist.
func (a *Adapter) CreateSlot(ctx context.Context, database, index string) error {
	slot := SlotName(database, index)
	var exists bool
	if err := a.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM pg_replication_slots WHERE slot_name = $1)`, slot,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check slot existence: %w", err)
	}
	if exists {
		return nil
	}
	_, err := a.pool.Exec(ctx, `SELECT pg_create_logical_replication_slot($1, $2)`, slot, OutputPlugin)
	if err != nil {
		return fmt.Errorf("create logical replication slot %s: %w", slot, err)
	}
	return nil
}

// DropSlot removes the replication slot, ignoring not-found (§6.5 teardown).
func (a *Adapter) DropSlot(ctx context.Context, database, index string) error {
	slot := SlotName(database, index)
	_, err := a.pool.Exec(ctx, `SELECT pg_drop_replication_slot($1)`, slot)
	if err != nil && !strings.Contains(err.Error(), "does not exist") {
		return fmt.Errorf("drop logical replication slot %s: %w", slot, err)
	}
	return nil
}

// SlotRange bounds a peek/consume call by transaction id, and optionally a
// row count (§4.1).
type SlotRange struct {
	Txmin *int64
	Txmax *int64
	UptoN *int64
}

// slotLine is one row of pg_logical_slot_{peek,get}_changes output.
type slotLine struct {
	lsn  string
	xid  int64
	data string
}

// PeekSlot performs a non-destructive read of the slot's pending changes
// (§4.1).
func (a *Adapter) PeekSlot(ctx context.Context, database, index string, r SlotRange) ([]types.ChangeEvent, error) {
	return a.readSlot(ctx, "pg_logical_slot_peek_changes", database, index, r)
}

// ConsumeSlot performs a destructive read, advancing the slot (§4.1, §4.5.1
// compactor).
func (a *Adapter) ConsumeSlot(ctx context.Context, database, index string, r SlotRange) ([]types.ChangeEvent, error) {
	return a.readSlot(ctx, "pg_logical_slot_get_changes", database, index, r)
}

func (a *Adapter) readSlot(ctx context.Context, fn, database, index string, r SlotRange) ([]types.ChangeEvent, error) {
	slot := SlotName(database, index)
	uptoN := int64(-1)
	if r.UptoN != nil {
		uptoN = *r.UptoN
	}

	// pg_logical_slot_{peek,get}_changes(slot_name name, upto_lsn pg_lsn,
	// upto_nchanges int, VARIADIC options text[]): the third positional
	// argument is upto_nchanges, not an options value, so the call must
	// bind exactly slot/upto_lsn/upto_nchanges, matching the original's
	// 3-arg (slot, NULL, upto_n) call (_examples/original_source/pgsync/base.py).
	query := fmt.Sprintf(`SELECT lsn, xid, data FROM %s($1, $2, $3)`, fn)
	args := []any{slot, nil, nilableUptoN(uptoN)}

	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s(%s): %w", fn, slot, err)
	}
	defer rows.Close()

	var lines []slotLine
	for rows.Next() {
		var l slotLine
		var xidStr string
		if err := rows.Scan(&l.lsn, &xidStr, &l.data); err != nil {
			return nil, err
		}
		xid, err := strconv.ParseInt(xidStr, 10, 64)
		if err != nil {
			// Some builds return xid as an integer already; pgx will have
			// scanned it directly in that case and this branch is unreached
			// in practice, but keep a definite behavior rather than panic.
			continue
		}
		l.xid = xid
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	events := make([]types.ChangeEvent, 0, len(lines))
	for _, l := range lines {
		if r.Txmin != nil && l.xid < *r.Txmin {
			continue
		}
		if r.Txmax != nil && l.xid >= *r.Txmax {
			continue
		}
		// test_decoding emits a framing line ("BEGIN"/"COMMIT") per
		// transaction in addition to one line per row change; skip those.
		if l.data == "BEGIN "+strconv.FormatInt(l.xid, 10) || strings.HasPrefix(l.data, "COMMIT") {
			continue
		}
		event, err := ParseSlotLine(l.data, l.xid)
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
	return events, nil
}

func nilableUptoN(n int64) any {
	if n < 0 {
		return nil
	}
	return n
}
