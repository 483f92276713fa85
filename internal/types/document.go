package types

// Meta is the reverse index embedded in every document: table name to
// column name to the sorted, de-duplicated list of contributing values
// (§3.3, §4.4 reverse lookups).
type Meta map[string]map[string][]any

// Document is one emitted unit: an _id, a _source body whose "_meta" field
// carries the Meta reverse index, and an optional routing value (§3.3).
type Document struct {
	ID      string
	Source  map[string]any
	Meta    Meta
	Routing string
}

// MetaField is the reserved key under which Meta is nested in _source.
const MetaField = "_meta"

// RootIDDelimiter joins root primary key values into a document _id (§3.3).
const RootIDDelimiter = "|"

// BulkOp names a single bulk action against the search engine (§4.6).
type BulkOp string

const (
	BulkIndex  BulkOp = "index"
	BulkDelete BulkOp = "delete"
)

// BulkAction is one item of a bulk request body.
type BulkAction struct {
	Op      BulkOp
	Index   string
	ID      string
	Routing string
	Source  map[string]any // nil for BulkDelete
}
