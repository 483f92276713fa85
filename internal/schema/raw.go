// Package schema builds and validates the Node tree (C2, §4.2) from the
// user's schema document (§6.4) and exposes traversals over it.
package schema

import (
	"encoding/json"
	"strings"
)

// document mirrors the top-level schema-document shape (§6.4). Nodes is
// decoded loosely so buildNode can report precise NodeAttributeError
// failures instead of a generic JSON unmarshal failure.
type document struct {
	Database string         `json:"database"`
	Index    string         `json:"index"`
	Plugins  []string       `json:"plugins"`
	Routing  string         `json:"routing"`
	Setting  map[string]any `json:"setting"`
	Mapping  map[string]any `json:"mapping"`
	Pipeline string         `json:"pipeline"`
	Nodes    map[string]any `json:"nodes"`
}

// parseDocument decodes the raw schema-document bytes.
func parseDocument(data []byte) (*document, error) {
	var d document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// nodeAttributes are the keys a node object is allowed to carry (§3.1,
// §6.4). Anything else is a NodeAttributeError.
var nodeAttributes = map[string]bool{
	"table": true, "schema": true, "columns": true, "label": true,
	"primary_key": true, "transform": true, "relationship": true,
	"children": true, "watched_columns": true, "join_depth": true,
	"filters": true,
}

// relationshipAttributes are the keys a relationship object is allowed to
// carry (§3.1).
var relationshipAttributes = map[string]bool{
	"variant": true, "type": true, "through_tables": true, "foreign_key": true,
}

// splitColumnPath parses "col->a->b" into ("col", ["a","b"]) (§3.1).
func splitColumnPath(s string) (string, []string) {
	parts := strings.Split(s, "->")
	if len(parts) <= 1 {
		return s, nil
	}
	return parts[0], parts[1:]
}

// parseColumnRef accepts either a bare string ("col" or "col->a->b") or an
// object form ({"name": "col", "path": ["a","b"]}).
func parseColumnRef(v any) (name string, path []string, ok bool) {
	switch val := v.(type) {
	case string:
		n, p := splitColumnPath(val)
		return n, p, true
	case map[string]any:
		n, _ := val["name"].(string)
		var p []string
		if raw, exists := val["path"].([]any); exists {
			for _, e := range raw {
				if s, isStr := e.(string); isStr {
					p = append(p, s)
				}
			}
		}
		return n, p, n != ""
	default:
		return "", nil, false
	}
}

// stringSlice extracts a []string from a loosely-typed JSON array value.
func stringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
