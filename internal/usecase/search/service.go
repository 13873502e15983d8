// Package search runs semantic queries against a materialized collection.
package search

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kailas-cloud/querynode/internal/domain"
)

const (
	defaultLimit = 3
	defaultMax   = 100
)

var tracer = otel.Tracer("querynode/usecase/search")

// Service executes searches with a bounded result limit.
type Service struct {
	index        Index
	defaultLimit int
	maxLimit     int
}

// New creates a search service.
func New(index Index) *Service {
	return &Service{index: index, defaultLimit: defaultLimit, maxLimit: defaultMax}
}

// WithLimits sets the default and maximum result counts.
func (s *Service) WithLimits(def, maxLimit int) *Service {
	if def > 0 {
		s.defaultLimit = def
	}
	if maxLimit > 0 {
		s.maxLimit = maxLimit
	}
	return s
}

// Search returns up to limit passages from collection, best first. The result is never nil.
func (s *Service) Search(ctx context.Context, collection, query string, limit *int) ([]domain.Passage, error) {
	k := s.limit(limit)

	ctx, span := tracer.Start(ctx, "search.Search")
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("limit", k))
	defer span.End()

	passages, err := s.index.Search(ctx, collection, query, k)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, domain.Classify(domain.KindSearchFailed, err)
	}
	if len(passages) > k {
		passages = passages[:k]
	}
	if passages == nil {
		passages = []domain.Passage{}
	}
	return passages, nil
}

func (s *Service) limit(limit *int) int {
	if limit == nil || *limit <= 0 {
		return s.defaultLimit
	}
	return min(*limit, s.maxLimit)
}
