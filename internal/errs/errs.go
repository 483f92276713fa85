// Package errs defines the error kinds named in the pipeline's error
// handling design: configuration/validation errors raised while building
// the schema tree or reflecting the source database, and the parse/runtime
// errors raised while consuming logical-decoding output.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Use errors.Is against these, or errors.As against the
// wrapper types below when positional context (table, column, line) matters.
var (
	ErrNodeAttribute        = errors.New("unknown node attribute")
	ErrTableNotInNode        = errors.New("node missing table")
	ErrInvalidSchema         = errors.New("schema not present in database")
	ErrColumnNotFound        = errors.New("column not found on table")
	ErrRelationshipType      = errors.New("invalid relationship type")
	ErrRelationshipVariant   = errors.New("invalid relationship variant")
	ErrRelationshipAttribute = errors.New("invalid relationship attribute")
	ErrMultipleThroughTables = errors.New("node declares more than one through-table")
	ErrRelationship          = errors.New("non-root node missing relationship")
	ErrForeignKey            = errors.New("no foreign key path between tables")
	ErrLogicalSlotParse      = errors.New("could not parse logical decoding output")
	ErrUnknownTgOp           = errors.New("unknown tg_op in change event")
	ErrMappingConflict       = errors.New("conflicting field mapping override")
)

// NodeError wraps a schema-build-time error with the table/label that
// triggered it, so a bootstrap failure points at the offending node.
type NodeError struct {
	Table string
	Label string
	Err   error
}

func (e *NodeError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("node %q (table %s): %v", e.Label, e.Table, e.Err)
	}
	return fmt.Sprintf("node (table %s): %v", e.Table, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// ColumnError wraps ErrColumnNotFound with the offending table/column.
type ColumnError struct {
	Table  string
	Column string
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("column %q not found on table %q: %v", e.Column, e.Table, ErrColumnNotFound)
}

func (e *ColumnError) Unwrap() error { return ErrColumnNotFound }

// ForeignKeyError wraps ErrForeignKey with the two tables that have no
// discoverable edge.
type ForeignKeyError struct {
	TableA string
	TableB string
}

func (e *ForeignKeyError) Error() string {
	return fmt.Sprintf("no foreign key between %q and %q", e.TableA, e.TableB)
}

func (e *ForeignKeyError) Unwrap() error { return ErrForeignKey }

// SlotParseError wraps ErrLogicalSlotParse with the offending line, so the
// operator can diagnose without advancing the slot past it (§7).
type SlotParseError struct {
	Line string
	Err  error
}

func (e *SlotParseError) Error() string {
	return fmt.Sprintf("parse slot line %q: %v", e.Line, e.Err)
}

func (e *SlotParseError) Unwrap() error { return e.Err }
