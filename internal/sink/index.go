package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// CreateIndex creates index if it does not already exist, with the given
// index settings and field mapping, and marks routing required when
// routingField is non-empty (§4.6 "_routing.required is set when routing
// is supplied").
func (s *Sink) CreateIndex(ctx context.Context, index string, setting, mapping map[string]any, routingField string) error {
	exists, err := s.indexExists(ctx, index)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	body := map[string]any{}
	if len(setting) > 0 {
		body["settings"] = setting
	}
	if mapping != nil {
		mappings := map[string]any{}
		for k, v := range mapping {
			mappings[k] = v
		}
		if routingField != "" {
			mappings["_routing"] = map[string]any{"required": true}
		}
		body["mappings"] = mappings
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal create-index body for %s: %w", index, err)
	}

	res, err := esapi.IndicesCreateRequest{Index: index, Body: bytes.NewReader(encoded)}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("create index %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index %s: %s", index, res.String())
	}
	return nil
}

func (s *Sink) indexExists(ctx context.Context, index string) (bool, error) {
	res, err := esapi.IndicesExistsRequest{Index: []string{index}}.Do(ctx, s.client)
	if err != nil {
		return false, fmt.Errorf("check index %s exists: %w", index, err)
	}
	defer res.Body.Close()
	return res.StatusCode == 200, nil
}

// Teardown deletes index, ignoring not-found (§4.6, §6.5).
func (s *Sink) Teardown(ctx context.Context, index string) error {
	res, err := esapi.IndicesDeleteRequest{Index: []string{index}, IgnoreUnavailable: boolPtr(true)}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("delete index %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() && !strings.Contains(res.String(), "index_not_found") {
		return fmt.Errorf("delete index %s: %s", index, res.String())
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }
