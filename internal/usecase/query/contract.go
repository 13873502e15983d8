package query

import (
	"context"

	"github.com/kailas-cloud/querynode/internal/domain"
)

// Registry resolves file identifiers to registry records.
type Registry interface {
	ResolveFileID(ctx context.Context, url string) (int64, error)
	GetFile(ctx context.Context, id int64) (domain.FileRecord, error)
}

// Materializer guarantees a collection exists for a file.
type Materializer interface {
	Ensure(ctx context.Context, file domain.FileRecord) (string, error)
	Forget(name string)
}

// Searcher queries a built collection.
type Searcher interface {
	Search(ctx context.Context, collection, query string, limit *int) ([]domain.Passage, error)
}
