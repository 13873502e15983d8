package collection

import (
	"fmt"

	"github.com/kailas-cloud/querynode/internal/db"
	"github.com/kailas-cloud/querynode/internal/domain"
)

// Chunk hash fields.
const (
	fieldContent   = "content"
	fieldChunk     = "chunk"
	fieldEmbedding = "embedding"
)

// buildIndex creates the FT definition for a collection's chunk hashes.
func buildIndex(name string, vectorDim int, hnsw HNSWConfig) (*db.IndexDefinition, error) {
	def, err := db.NewIndex(indexName(name)).
		Prefix(collectionPrefix(name)).
		Text(fieldContent).
		Numeric(fieldChunk).
		Vector(fieldEmbedding, vectorDim, hnsw.M, hnsw.EFConstruct).
		Build()
	if err != nil {
		return nil, fmt.Errorf("index definition for %s: %w", name, err)
	}
	return def, nil
}

// Redis key patterns: querynode:collection:{name}, querynode:{name}:idx, querynode:{name}:

func metaKey(name string) string {
	return fmt.Sprintf("%scollection:%s", domain.KeyPrefix, name)
}

func indexName(name string) string {
	return fmt.Sprintf("%s%s:idx", domain.KeyPrefix, name)
}

func collectionPrefix(name string) string {
	return fmt.Sprintf("%s%s:", domain.KeyPrefix, name)
}
