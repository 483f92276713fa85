// Package sourcedb is the source-DB adapter (C1, §4.1): catalog reflection,
// primary/foreign-key resolution, the NOTIFY listener, logical-decoding slot
// peek/consume, trigger installation, and txid_current.
package sourcedb

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgsync-go/pgsync/internal/errs"
	"github.com/pgsync-go/pgsync/internal/types"
)

// builtinSchemas are never valid targets for a tree node (I5).
var builtinSchemas = map[string]bool{
	"pg_catalog":         true,
	"information_schema": true,
	"pg_toast":           true,
}

// Adapter wraps a pgx connection pool to the source database and caches
// reflected models (§3.6 "built once per process per (schema,table)").
type Adapter struct {
	pool *pgxpool.Pool

	mu     sync.RWMutex
	models map[string]*types.Model
}

// New wraps an existing pool. The pool's DSN must point at a role with
// REPLICATION and the privileges to create slots/triggers (§6.1); Bootstrap
// verifies this before mutating anything.
func New(pool *pgxpool.Pool) *Adapter {
	return &Adapter{pool: pool, models: map[string]*types.Model{}}
}

// Connect opens a pool for dsn.
func Connect(ctx context.Context, dsn string) (*Adapter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to source database: %w", err)
	}
	return New(pool), nil
}

// Close releases the pool.
func (a *Adapter) Close() { a.pool.Close() }

// HasSchema reports whether schema exists in the database catalog and is
// not a built-in schema (I5). Implements schema.Catalog.
func (a *Adapter) HasSchema(schema string) bool {
	if builtinSchemas[schema] {
		return false
	}
	var exists bool
	err := a.pool.QueryRow(context.Background(),
		`SELECT EXISTS(SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`, schema,
	).Scan(&exists)
	return err == nil && exists
}

// TxidCurrent reads the server's current transaction id (§4.1).
func (a *Adapter) TxidCurrent(ctx context.Context) (int64, error) {
	var txid int64
	err := a.pool.QueryRow(ctx, `SELECT txid_current()`).Scan(&txid)
	if err != nil {
		return 0, fmt.Errorf("txid_current: %w", err)
	}
	return txid, nil
}

// CheckReplicationPrivilege verifies the connecting role can create logical
// replication slots, either via the superuser/replication role bit or, on
// RDS, the rds_replication-equivalent setting (§6.1).
func (a *Adapter) CheckReplicationPrivilege(ctx context.Context) (bool, error) {
	var ok bool
	err := a.pool.QueryRow(ctx, `
		SELECT rolsuper OR rolreplication OR EXISTS (
			SELECT 1 FROM pg_roles r
			JOIN pg_auth_members m ON m.roleid = r.oid
			WHERE r.rolname = 'rds_replication' AND m.member = current_user::regrole
		)
		FROM pg_roles WHERE rolname = current_user
	`).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check replication privilege: %w", err)
	}
	return ok, nil
}

// WalLevelLogical verifies wal_level = logical (§6.1).
func (a *Adapter) WalLevelLogical(ctx context.Context) (bool, error) {
	var level string
	if err := a.pool.QueryRow(ctx, `SHOW wal_level`).Scan(&level); err != nil {
		return false, fmt.Errorf("show wal_level: %w", err)
	}
	return level == "logical", nil
}

// ForeignKeyError is returned by ForeignKey when no FK edge exists in
// either direction; kept as an alias for errs.ForeignKeyError so callers in
// this package don't need to import errs directly for the common case.
type ForeignKeyError = errs.ForeignKeyError
