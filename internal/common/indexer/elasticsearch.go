package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/project-tktt/offer-collector/internal/domain"
)

// ElasticsearchIndexer indexes enriched offers to Elasticsearch
type ElasticsearchIndexer struct {
	client    *elasticsearch.Client
	indexName string
	logger    *zap.Logger
}

// NewElasticsearchIndexer creates the client and checks the cluster is reachable
func NewElasticsearchIndexer(addresses []string, indexName string, logger *zap.Logger) (*ElasticsearchIndexer, error) {
	if logger == nil {
		logger = zap.L()
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: addresses})
	if err != nil {
		return nil, eris.Wrap(err, "create es client")
	}

	res, err := client.Info()
	if err != nil {
		return nil, eris.Wrap(err, "es info")
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, eris.Errorf("es error: %s", res.Status())
	}

	return &ElasticsearchIndexer{
		client:    client,
		indexName: indexName,
		logger:    logger.Named("indexer.elasticsearch"),
	}, nil
}

// BulkIndex indexes offers with one _bulk request. Item failures are logged, not returned.
func (i *ElasticsearchIndexer) BulkIndex(ctx context.Context, offers []domain.EnrichedOffer) error {
	if len(offers) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, o := range offers {
		doc, err := json.Marshal(o)
		if err != nil {
			i.logger.Error("marshal offer", zap.String("url", o.DetailURL), zap.Error(err))
			continue
		}
		meta, _ := json.Marshal(map[string]any{
			"index": map[string]any{"_index": i.indexName, "_id": o.ID()},
		})
		buf.Write(meta)
		buf.WriteByte('\n')
		buf.Write(doc)
		buf.WriteByte('\n')
	}

	res, err := i.client.Bulk(bytes.NewReader(buf.Bytes()), i.client.Bulk.WithContext(ctx))
	if err != nil {
		return eris.Wrap(err, "bulk request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return eris.Errorf("bulk error: %s", res.Status())
	}

	var bulkRes struct {
		Errors bool `json:"errors"`
		Items  []struct {
			Index struct {
				ID     string `json:"_id"`
				Status int    `json:"status"`
				Error  struct {
					Type   string `json:"type"`
					Reason string `json:"reason"`
				} `json:"error"`
			} `json:"index"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkRes); err != nil {
		return eris.Wrap(err, "parse bulk response")
	}

	if bulkRes.Errors {
		for _, item := range bulkRes.Items {
			if item.Index.Status >= 400 {
				i.logger.Error("bulk index item failed",
					zap.String("id", item.Index.ID),
					zap.String("type", item.Index.Error.Type),
					zap.String("reason", item.Index.Error.Reason),
				)
			}
		}
	}

	return nil
}

// EnsureIndex creates the index with a French analyzer if it doesn't exist
func (i *ElasticsearchIndexer) EnsureIndex(ctx context.Context) error {
	res, err := i.client.Indices.Exists([]string{i.indexName}, i.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return eris.Wrap(err, "check index")
	}
	res.Body.Close()

	if res.StatusCode == 200 {
		return nil
	}

	res, err = i.client.Indices.Create(
		i.indexName,
		i.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
		i.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return eris.Wrap(err, "create index")
	}
	defer res.Body.Close()

	if res.IsError() {
		return eris.Errorf("create index error: %s", res.Status())
	}

	return nil
}

// Close is a no-op; the ES client holds no persistent connection to release
func (i *ElasticsearchIndexer) Close() error {
	return nil
}

const indexMapping = `{
	"settings": {
		"analysis": {
			"analyzer": {
				"french_folded": {
					"type": "custom",
					"tokenizer": "standard",
					"filter": ["lowercase", "asciifolding"]
				}
			}
		}
	},
	"mappings": {
		"properties": {
			"title": {
				"type": "text",
				"analyzer": "french_folded",
				"fields": {"keyword": {"type": "keyword"}}
			},
			"url": {"type": "keyword"},
			"company": {"type": "text", "analyzer": "french_folded"},
			"location": {"type": "text", "analyzer": "french_folded", "fields": {"keyword": {"type": "keyword"}}},
			"contract_type": {"type": "keyword"},
			"published": {"type": "date"},
			"hard_skills": {"type": "keyword"},
			"soft_skills": {"type": "keyword"},
			"years_experience_min": {"type": "integer"},
			"domains": {"type": "keyword"},
			"source": {"type": "keyword"},
			"run_id": {"type": "keyword"},
			"outcome": {"type": "keyword"},
			"crawled_at": {"type": "date"}
		}
	}
}`
