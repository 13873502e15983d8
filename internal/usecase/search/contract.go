package search

import (
	"context"

	"github.com/kailas-cloud/querynode/internal/domain"
)

// Index runs similarity search over a built collection.
type Index interface {
	Search(ctx context.Context, name, query string, limit int) ([]domain.Passage, error)
}
