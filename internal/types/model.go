package types

// ColumnKind is the scalar kind a SQL type is mapped to when parsing
// logical-decoding output (§4.1 parse_slot_line).
type ColumnKind string

const (
	KindInteger  ColumnKind = "integer"
	KindText     ColumnKind = "text"
	KindBoolean  ColumnKind = "boolean"
	KindFloating ColumnKind = "floating"
)

// Column is a reflected column: its name and its Postgres type name.
type Column struct {
	Name string
	Type string
}

// Kind maps a Postgres type name to its scalar kind (§4.1).
func (c Column) Kind() ColumnKind {
	switch c.Type {
	case "int2", "int4", "int8", "smallint", "integer", "bigint", "serial", "bigserial":
		return KindInteger
	case "bool", "boolean":
		return KindBoolean
	case "float4", "float8", "real", "double precision", "numeric", "decimal":
		return KindFloating
	default:
		return KindText
	}
}

// Model is the catalog reflection of a single (schema, table) pair (§3.2).
// XminColumn and CtidColumn are synthetic: they participate in queries
// (filters, resync ranges) but are never part of a Column list emitted to a
// document.
type Model struct {
	Schema      string
	Table       string
	Columns     []Column
	PrimaryKeys []string
}

const (
	// XminColumn is the row transaction id, a synthetic BigInt column.
	XminColumn = "xmin"
	// CtidColumn is the physical tuple identifier, an opaque round-trippable
	// synthetic column.
	CtidColumn = "ctid"
)

// QualifiedTable returns "schema.table".
func (m *Model) QualifiedTable() string {
	return m.Schema + "." + m.Table
}

// HasColumn reports whether the model has the named column (I4).
func (m *Model) HasColumn(name string) bool {
	for _, c := range m.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}
