// Package query routes a RAG request through file resolution, collection build and search.
package query

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/kailas-cloud/querynode/internal/domain"
	logpkg "github.com/kailas-cloud/querynode/internal/logger"
	"github.com/kailas-cloud/querynode/internal/metrics"
)

var tracer = otel.Tracer("querynode/usecase/query")

var (
	errIndexUnavailable = errors.New("Vector storage not available - index initialization failed") //nolint:staticcheck,revive // client-facing text
	errNoFileID         = errors.New("File ID or URL is required")                                  //nolint:staticcheck,revive // client-facing text
)

// Service is the request router.
type Service struct {
	registry     Registry
	materializer Materializer
	searcher     Searcher
}

// New creates a router. Pass nil materializer and searcher when the vector index failed to initialize;
// every request is then rejected as unavailable.
func New(registry Registry, materializer Materializer, searcher Searcher) *Service {
	return &Service{registry: registry, materializer: materializer, searcher: searcher}
}

// Available reports whether the vector index is usable.
func (s *Service) Available() bool {
	return s.materializer != nil && s.searcher != nil
}

// Handle answers req against the file it names.
func (s *Service) Handle(ctx context.Context, req domain.QueryRequest) (res domain.QueryResult, err error) {
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = domain.KindOf(err).String()
		}
		metrics.QueriesTotal.WithLabelValues(outcome).Inc()
	}()

	if !s.Available() {
		return domain.QueryResult{}, domain.NewError(domain.KindServiceUnavailable, errIndexUnavailable)
	}

	ctx, span := tracer.Start(ctx, "query.Handle")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, domain.KindOf(err).String())
		}
		span.End()
	}()

	id, err := s.resolveID(ctx, req)
	if err != nil {
		return domain.QueryResult{}, err
	}
	span.SetAttributes(attribute.Int64("file_id", id))

	file, err := s.registry.GetFile(ctx, id)
	if err != nil {
		return domain.QueryResult{}, domain.Classify(domain.KindInternal, err)
	}

	collection, passages, err := s.search(ctx, file, req)
	if err != nil {
		return domain.QueryResult{}, err
	}

	logpkg.FromContext(ctx).Info("Successfully processed request for file",
		zap.Int64("file_id", file.ID),
		zap.String("collection", collection),
		zap.Int("passages", len(passages)),
	)

	return domain.QueryResult{
		Data:     passages,
		Owner:    file.Owner,
		FileID:   file.ID,
		FileURL:  file.URL,
		FileHash: file.Hash,
	}, nil
}

// search builds the file's collection if needed and queries it. A collection that vanished
// from the index after it was built is rebuilt once.
func (s *Service) search(ctx context.Context, file domain.FileRecord, req domain.QueryRequest) (string, []domain.Passage, error) {
	collection, err := s.materializer.Ensure(ctx, file)
	if err != nil {
		return "", nil, err
	}

	passages, err := s.searcher.Search(ctx, collection, req.Query, req.Limit)
	if !errors.Is(err, domain.ErrCollectionNotFound) {
		return collection, passages, err
	}

	logpkg.FromContext(ctx).Warn("Collection missing from index, rebuilding",
		zap.String("collection", collection), zap.Error(err))
	s.materializer.Forget(collection)

	if collection, err = s.materializer.Ensure(ctx, file); err != nil {
		return "", nil, err
	}
	passages, err = s.searcher.Search(ctx, collection, req.Query, req.Limit)
	return collection, passages, err
}

// resolveID prefers file_url over file_id. An unknown url resolves to no id.
func (s *Service) resolveID(ctx context.Context, req domain.QueryRequest) (int64, error) {
	var id int64
	switch {
	case req.FileURL != nil && strings.TrimSpace(*req.FileURL) != "":
		resolved, err := s.registry.ResolveFileID(ctx, *req.FileURL)
		if err != nil {
			return 0, domain.Classify(domain.KindInternal, err)
		}
		id = resolved
	case req.FileID != nil:
		id = *req.FileID
	}
	if id == 0 {
		return 0, domain.NewError(domain.KindInvalidRequest, errNoFileID)
	}
	return id, nil
}
