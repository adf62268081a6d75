package elastic

import (
	"fmt"
	"log"

	es "github.com/elastic/go-elasticsearch/v8"
)

// Connect builds a client for url. An empty url disables search and yields
// a nil client.
func Connect(url string) (*es.Client, error) {
	if url == "" {
		log.Println("ℹ️ ELASTIC_URL not set, search sync disabled")
		return nil, nil
	}
	client, err := es.NewClient(es.Config{Addresses: []string{url}})
	if err != nil {
		return nil, fmt.Errorf("connect elasticsearch: %w", err)
	}
	log.Println("✅ Connected to Elasticsearch")
	return client, nil
}
