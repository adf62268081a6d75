package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	es "github.com/elastic/go-elasticsearch/v8"
)

// Hit is one search result.
type Hit struct {
	ID    string   `json:"id"`
	Score float64  `json:"score"`
	Event EventDoc `json:"event"`
}

// Search runs a full-text query over public events. An empty query matches
// everything, soonest start date first.
func Search(ctx context.Context, c *es.Client, query string, size int) ([]Hit, error) {
	if size <= 0 || size > 100 {
		size = 20
	}
	body := map[string]any{"size": size}
	if q := strings.TrimSpace(query); q != "" {
		body["query"] = map[string]any{"multi_match": map[string]any{
			"query":     q,
			"fields":    []string{"title^3", "description", "venue", "city", "categories", "areas"},
			"fuzziness": "AUTO",
		}}
	} else {
		body["query"] = map[string]any{"match_all": map[string]any{}}
		body["sort"] = []any{map[string]any{"start_date": "asc"}}
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	res, err := c.Search(
		c.Search.WithContext(ctx),
		c.Search.WithIndex(IdxEvents),
		c.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search: %s", res.Status())
	}

	var out struct {
		Hits struct {
			Hits []struct {
				ID     string   `json:"_id"`
				Score  float64  `json:"_score"`
				Source EventDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search: %w", err)
	}
	hits := make([]Hit, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score, Event: h.Source})
	}
	return hits, nil
}
