package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
)

// SearchOptions configures NewSearchClient
type SearchOptions struct {
	Addresses []string
	Username  string
	Password  string
}

// NewSearchClient builds an Elasticsearch client
func NewSearchClient(opts SearchOptions) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: opts.Addresses,
		Username:  opts.Username,
		Password:  opts.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return client, nil
}

// Search proxies the search service to a match query on an index's content field
type Search struct {
	client *elasticsearch.Client
	index  string
}

// NewSearch creates the search adapter
func NewSearch(client *elasticsearch.Client, index string) *Search {
	return &Search{client: client, index: index}
}

func (s *Search) ServiceID() string { return domain.ServiceSearch }

func (s *Search) Info() ServiceInfo {
	return ServiceInfo{
		ID:          domain.ServiceSearch,
		Name:        domain.ServiceName(domain.ServiceSearch),
		Status:      "active",
		Description: "Full-text search via Elasticsearch",
	}
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string          `json:"_id"`
			Score  float64         `json:"_score"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Call runs the query in the "query" parameter.
func (s *Search) Call(ctx context.Context, userID int64, req Request) (interface{}, error) {
	if req.Operation != OpSearch {
		return nil, unsupported(domain.ServiceSearch, req.Operation)
	}
	query := strings.TrimSpace(req.Param("query"))
	if query == "" {
		return nil, &domain.InvalidInputError{Field: "query", Reason: "a search query is required"}
	}

	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(map[string]interface{}{
		"query": map[string]interface{}{
			"match": map[string]interface{}{"content": query},
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(&body),
	)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search returned %s", res.Status())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	hits := make([]map[string]interface{}, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hits = append(hits, map[string]interface{}{
			"id":     h.ID,
			"score":  h.Score,
			"source": h.Source,
		})
	}
	return map[string]interface{}{
		"query": query,
		"total": parsed.Hits.Total.Value,
		"hits":  hits,
	}, nil
}
