package sink

import (
	"fmt"

	"github.com/pgsync-go/pgsync/internal/schema"
	"github.com/pgsync-go/pgsync/internal/types"
)

// esTypeVocabulary is the set of field "type" values the engine accepts
// (§4.6 "validate every declared type against the engine's type
// vocabulary"). Kept to the common, version-stable subset rather than the
// full list, since a schema document's transform.mapping overrides are
// meant for everyday field tuning, not exotic field types.
var esTypeVocabulary = map[string]bool{
	"keyword": true, "text": true, "long": true, "integer": true, "short": true,
	"byte": true, "double": true, "float": true, "half_float": true,
	"scaled_float": true, "date": true, "date_nanos": true, "boolean": true,
	"binary": true, "object": true, "nested": true, "geo_point": true,
	"geo_shape": true, "ip": true, "completion": true, "token_count": true,
	"flattened": true, "rank_feature": true, "rank_features": true,
	"dense_vector": true,
}

// esMappingParamVocabulary is the set of per-field mapping parameters the
// engine accepts (§4.6 "validate ... every mapping parameter against the
// engine's parameter vocabulary").
var esMappingParamVocabulary = map[string]bool{
	"type": true, "fields": true, "properties": true, "analyzer": true,
	"search_analyzer": true, "search_quote_analyzer": true, "normalizer": true,
	"boost": true, "coerce": true, "copy_to": true, "doc_values": true,
	"dynamic": true, "eager_global_ordinals": true, "enabled": true,
	"format": true, "ignore_above": true, "ignore_malformed": true,
	"index": true, "index_options": true, "index_phrases": true,
	"index_prefixes": true, "meta": true, "fielddata": true,
	"fielddata_frequency_filter": true, "norms": true, "null_value": true,
	"position_increment_gap": true, "similarity": true, "store": true,
	"term_vector": true,
}

// defaultMappingForKind returns the engine field mapping this reflected
// column kind gets when the schema document declares no override
// (§4.6 create_index "compute the mapping by walking the tree post-order").
func defaultMappingForKind(kind types.ColumnKind) map[string]any {
	switch kind {
	case types.KindInteger:
		return map[string]any{"type": "long"}
	case types.KindBoolean:
		return map[string]any{"type": "boolean"}
	case types.KindFloating:
		return map[string]any{"type": "double"}
	default:
		return map[string]any{
			"type":   "text",
			"fields": map[string]any{"keyword": map[string]any{"type": "keyword", "ignore_above": 256}},
		}
	}
}

// validateFieldMapping checks a single field's mapping object against the
// engine's type/parameter vocabularies, recursing into "properties" for
// nested object fields.
func validateFieldMapping(field string, m map[string]any) error {
	if t, ok := m["type"]; ok {
		name, _ := t.(string)
		if !esTypeVocabulary[name] {
			return fmt.Errorf("field %q declares unknown mapping type %q", field, name)
		}
	}
	for param := range m {
		if !esMappingParamVocabulary[param] {
			return fmt.Errorf("field %q declares unknown mapping parameter %q", field, param)
		}
	}
	if props, ok := m["properties"].(map[string]any); ok {
		for name, sub := range props {
			subMap, ok := sub.(map[string]any)
			if !ok {
				return fmt.Errorf("field %q.%s: mapping must be an object", field, name)
			}
			if err := validateFieldMapping(field+"."+name, subMap); err != nil {
				return err
			}
		}
	}
	return nil
}

// BuildMapping walks tree recursively, each node's own columns before its
// children, and derives the engine mapping "properties" object for its
// documents: every reflected column gets a default mapping from its Kind,
// every node's transform.mapping entries override or extend it, and every
// object child nests as "properties" of its own object field rather than
// a flat namespace collision with siblings (§4.6, §3.1 transform).
// models is keyed by "schema.table", reflected ahead of time by C1.
func BuildMapping(tree *schema.Tree, models map[string]*types.Model) (map[string]any, error) {
	properties, err := nodeProperties(tree.Root, models)
	if err != nil {
		return nil, err
	}
	properties[types.MetaField] = map[string]any{"type": "object", "enabled": true}

	if len(tree.Mapping) > 0 {
		for field, override := range tree.Mapping {
			m, ok := override.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("index-level mapping override for %q must be an object", field)
			}
			if err := validateFieldMapping(field, m); err != nil {
				return nil, err
			}
			properties[field] = m
		}
	}
	return map[string]any{"properties": properties}, nil
}

func nodeProperties(n *types.Node, models map[string]*types.Model) (map[string]any, error) {
	model := models[n.QualifiedTable()]
	properties := map[string]any{}

	for _, c := range n.Columns {
		label := c.Label()
		if n.Transform != nil {
			if alt, ok := n.Transform.Rename[c.Name]; ok {
				label = alt
			}
		}
		m := defaultMappingForKind(columnKind(model, c.Name))
		if n.Transform != nil {
			if override, ok := n.Transform.Mapping[label]; ok {
				overrideMap, ok := override.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("node %q: mapping override for %q must be an object", n.Label, label)
				}
				m = overrideMap
			}
		}
		if err := validateFieldMapping(n.Label+"."+label, m); err != nil {
			return nil, err
		}
		properties[label] = m
	}

	if n.Transform != nil && n.Transform.Concat != nil {
		properties[n.Transform.Concat.Destination] = map[string]any{"type": "keyword"}
	}

	for _, child := range n.Children {
		if child.Relationship != nil && child.Relationship.Variant == types.RelVariantScalar {
			kind := columnKind(models[child.QualifiedTable()], firstColumnName(child))
			properties[child.Label] = defaultMappingForKind(kind)
			continue
		}
		childProps, err := nodeProperties(child, models)
		if err != nil {
			return nil, err
		}
		properties[child.Label] = map[string]any{"type": "object", "properties": childProps}
	}

	return properties, nil
}

func firstColumnName(n *types.Node) string {
	if len(n.Columns) == 0 {
		return ""
	}
	return n.Columns[0].Name
}

func columnKind(model *types.Model, column string) types.ColumnKind {
	if model == nil {
		return types.KindText
	}
	for _, c := range model.Columns {
		if c.Name == column {
			return c.Kind()
		}
	}
	return types.KindText
}
