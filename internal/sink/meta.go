package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const scrollKeepAlive = "1m"
const scrollPageSize = 1000

// SearchMeta builds a Bool filter of terms over _meta.{table}.{col} (also
// matching the .keyword subfield, since many mappings index keyword
// columns both ways) for each provided column, and returns every matching
// document id (§4.6 "search_meta"). An empty terms map matches any
// document where _meta.{table} exists at all (§4.4 TRUNCATE non-root
// case).
func (s *Sink) SearchMeta(ctx context.Context, index, table string, terms map[string][]any) ([]string, error) {
	var query map[string]any
	if len(terms) == 0 {
		query = map[string]any{
			"query": map[string]any{
				"exists": map[string]any{"field": fmt.Sprintf("_meta.%s", table)},
			},
		}
	} else {
		filters := make([]any, 0, len(terms))
		for col, vals := range terms {
			field := fmt.Sprintf("_meta.%s.%s", table, col)
			filters = append(filters, map[string]any{
				"bool": map[string]any{
					"should": []any{
						map[string]any{"terms": map[string]any{field: vals}},
						map[string]any{"terms": map[string]any{field + ".keyword": vals}},
					},
					"minimum_should_match": 1,
				},
			})
		}
		query = map[string]any{"query": map[string]any{"bool": map[string]any{"filter": filters}}}
	}
	return s.scrollIDs(ctx, index, query)
}

// AllIDs enumerates every document id in index (§4.4 TRUNCATE root case).
func (s *Sink) AllIDs(ctx context.Context, index string) ([]string, error) {
	return s.scrollIDs(ctx, index, map[string]any{"query": map[string]any{"match_all": map[string]any{}}})
}

type scrollResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []struct {
			ID string `json:"_id"`
		} `json:"hits"`
	} `json:"hits"`
}

func (s *Sink) scrollIDs(ctx context.Context, index string, query map[string]any) ([]string, error) {
	body, err := json.Marshal(withSourceDisabled(query))
	if err != nil {
		return nil, fmt.Errorf("marshal meta search query: %w", err)
	}

	res, err := esapi.SearchRequest{
		Index:  []string{index},
		Body:   bytes.NewReader(body),
		Scroll: mustParseDuration(scrollKeepAlive),
		Size:   intPtr(scrollPageSize),
	}.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("search _meta.%s: %w", index, err)
	}
	defer res.Body.Close()

	var ids []string
	page, scroll, err := decodeScroll(res.Body)
	if err != nil && !ignorableMetaError(err) {
		return nil, err
	}
	ids = append(ids, page...)

	for len(page) > 0 && scroll != "" {
		scrollRes, err := esapi.ScrollRequest{ScrollID: scroll, Scroll: mustParseDuration(scrollKeepAlive)}.Do(ctx, s.client)
		if err != nil {
			return nil, fmt.Errorf("scroll _meta.%s: %w", index, err)
		}
		page, scroll, err = decodeScroll(scrollRes.Body)
		scrollRes.Body.Close()
		if err != nil {
			if ignorableMetaError(err) {
				break
			}
			return nil, err
		}
		ids = append(ids, page...)
	}

	clearScroll(ctx, s, scroll)
	return ids, nil
}

// decodeScroll parses one page of scroll results, returning its hit ids
// and the scroll id to fetch the next page with.
func decodeScroll(r io.Reader) (ids []string, scrollID string, err error) {
	var parsed scrollResponse
	if err := json.NewDecoder(r).Decode(&parsed); err != nil {
		return nil, "", fmt.Errorf("decode scroll response: %w", err)
	}
	for _, h := range parsed.Hits.Hits {
		ids = append(ids, h.ID)
	}
	return ids, parsed.ScrollID, nil
}

func clearScroll(ctx context.Context, s *Sink, scrollID string) {
	if scrollID == "" {
		return
	}
	res, err := esapi.ClearScrollRequest{ScrollID: []string{scrollID}}.Do(ctx, s.client)
	if err != nil {
		return
	}
	res.Body.Close()
}

// ignorableMetaError ignores the engine-specific "integer out of range"
// parse error (§4.6): _meta payload keys may be larger than the engine's
// `long` type when a root primary key is a bigint near its ceiling.
func ignorableMetaError(err error) bool {
	return strings.Contains(err.Error(), "out of range")
}

func withSourceDisabled(query map[string]any) map[string]any {
	out := make(map[string]any, len(query)+1)
	for k, v := range query {
		out[k] = v
	}
	out["_source"] = false
	return out
}

func intPtr(n int) *int { return &n }

func mustParseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("invalid duration literal %q: %v", s, err))
	}
	return d
}
