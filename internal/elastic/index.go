package elastic

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	es "github.com/elastic/go-elasticsearch/v8"
)

const IdxEvents = "events_v1"

const eventsMapping = `{"settings":{"number_of_shards":1,"analysis":{"analyzer":{"folded":{
		"type":"custom","tokenizer":"standard","filter":["lowercase","asciifolding"]}}}},
	"mappings":{"dynamic":"strict","properties":{
		"title":{"type":"text","analyzer":"folded"},"description":{"type":"text","analyzer":"folded"},
		"city":{"type":"keyword"},"venue":{"type":"text","analyzer":"folded"},
		"state":{"type":"keyword"},"has_cost":{"type":"boolean"},
		"categories":{"type":"keyword"},"areas":{"type":"keyword"},
		"start_date":{"type":"date"},"end_date":{"type":"date"},"updated_at":{"type":"date"}
	}}}`

// EnsureIndexes creates the search indexes that do not exist yet.
func EnsureIndexes(ctx context.Context, c *es.Client) error {
	return ensure(ctx, c, IdxEvents, eventsMapping)
}

func ensure(ctx context.Context, c *es.Client, index, body string) error {
	exists, err := c.Indices.Exists([]string{index}, c.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", index, err)
	}
	exists.Body.Close()
	if exists.StatusCode == http.StatusOK {
		return nil
	}
	res, err := c.Indices.Create(index, c.Indices.Create.WithBody(bytes.NewBufferString(body)), c.Indices.Create.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("create index %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index %s: %s", index, res.Status())
	}
	return nil
}
