// Package materialize makes sure a searchable collection exists for a file's content hash.
package materialize

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/querynode/internal/domain"
	logpkg "github.com/kailas-cloud/querynode/internal/logger"
	"github.com/kailas-cloud/querynode/internal/metrics"
)

var tracer = otel.Tracer("querynode/usecase/materialize")

// Service builds collections lazily, once per content hash.
type Service struct {
	index     Index
	registry  Registry
	decryptor Decryptor
	chunker   Chunker
	consumer  string

	group singleflight.Group
	ready sync.Map // collection name -> struct{}
}

// New creates a materializer. consumer is the address decryption grants are issued to.
func New(index Index, registry Registry, decryptor Decryptor, chunker Chunker, consumer string) *Service {
	return &Service{
		index:     index,
		registry:  registry,
		decryptor: decryptor,
		chunker:   chunker,
		consumer:  consumer,
	}
}

// Ensure returns the collection name for file, building it first if needed.
// Concurrent calls for the same hash share one build. The build is not cancelled
// when a single caller goes away.
func (s *Service) Ensure(ctx context.Context, file domain.FileRecord) (string, error) {
	name := domain.CollectionName(file.Hash)

	if _, ok := s.ready.Load(name); ok {
		metrics.CollectionCacheTotal.WithLabelValues("hit").Inc()
		return name, nil
	}
	metrics.CollectionCacheTotal.WithLabelValues("miss").Inc()

	ch := s.group.DoChan(name, func() (any, error) {
		return nil, s.build(context.WithoutCancel(ctx), name, file)
	})

	select {
	case <-ctx.Done():
		return "", domain.NewError(domain.KindInternal, ctx.Err())
	case res := <-ch:
		if res.Shared {
			metrics.MaterializationsTotal.WithLabelValues("shared").Inc()
		}
		if res.Err != nil {
			return "", res.Err
		}
		return name, nil
	}
}

// Forget drops name from the ready set so the next Ensure checks the index again.
func (s *Service) Forget(name string) {
	s.ready.Delete(name)
}

func (s *Service) build(ctx context.Context, name string, file domain.FileRecord) (err error) {
	ctx, span := tracer.Start(ctx, "materialize.Ensure")
	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int64("file_id", file.ID),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	exists, err := s.index.HasCollection(ctx, name)
	if err != nil {
		return domain.Classify(domain.KindInternal, err)
	}
	if exists {
		s.ready.Store(name, struct{}{})
		return nil
	}

	log := logpkg.FromContext(ctx).With(zap.String("collection", name), zap.Int64("file_id", file.ID))
	start := time.Now()

	if err := s.materialize(ctx, name, file); err != nil {
		metrics.MaterializationsTotal.WithLabelValues("error").Inc()
		log.Error("Collection build failed", zap.Error(err))
		return err
	}

	metrics.MaterializationsTotal.WithLabelValues("success").Inc()
	metrics.MaterializationDuration.Observe(time.Since(start).Seconds())
	s.ready.Store(name, struct{}{})
	log.Info("Collection built", zap.Duration("took", time.Since(start)))
	return nil
}

func (s *Service) materialize(ctx context.Context, name string, file domain.FileRecord) error {
	key, err := s.registry.GetDecryptionKey(ctx, file.ID, s.consumer)
	if err != nil {
		return domain.Classify(domain.KindInternal, err)
	}

	plain, err := s.decrypt(ctx, file.URL, key)
	if err != nil {
		return err
	}

	chunks, err := s.chunker.Chunk(string(plain))
	if err != nil {
		return domain.Classify(domain.KindInternal, err)
	}

	if err := s.index.CreateCollection(ctx, name); err != nil {
		return domain.Classify(domain.KindInternal, err)
	}
	if err := s.index.Save(ctx, name, chunks); err != nil {
		return domain.Classify(domain.KindInternal, err)
	}
	return nil
}

func (s *Service) decrypt(ctx context.Context, url, key string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "materialize.Decrypt")
	defer span.End()

	plain, err := s.decryptor.Decrypt(ctx, url, key)
	if err != nil {
		span.SetStatus(codes.Error, "decrypt failed")
		return nil, domain.Classify(domain.KindDecryptionFailed, err)
	}
	if !utf8.Valid(plain) {
		span.SetStatus(codes.Error, "invalid utf-8")
		return nil, domain.NewError(domain.KindDecryptionFailed, errors.New("decrypted file is not valid UTF-8 text"))
	}
	return plain, nil
}
