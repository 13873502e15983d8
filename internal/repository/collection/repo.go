package collection

import (
	"context"
	"errors"
	"fmt"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/querynode/internal/db"
	"github.com/kailas-cloud/querynode/internal/domain"
)

// store is the consumer interface for collections (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, key string) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	DropIndex(ctx context.Context, name string, deleteDocs bool) error
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}

// HNSWConfig HNSW index parameters.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Repo is the Redis vector index: one FT index plus a metadata hash per collection.
type Repo struct {
	store     store
	docs      domain.BatchEmbedder
	query     domain.Embedder
	vectorDim int
	hnsw      HNSWConfig
	pool      *ants.Pool
	batchSize int
	logger    *zap.Logger
}

// New creates a collection repository. docs embeds chunks at build time, query embeds search text.
func New(
	s store, docs domain.BatchEmbedder, query domain.Embedder,
	vectorDim int, pool *ants.Pool, logger *zap.Logger,
) *Repo {
	return &Repo{
		store:     s,
		docs:      docs,
		query:     query,
		vectorDim: vectorDim,
		hnsw:      HNSWConfig{M: 16, EFConstruct: 200},
		pool:      pool,
		batchSize: 64,
		logger:    logger,
	}
}

// WithHNSW configures HNSW index parameters.
func (r *Repo) WithHNSW(cfg HNSWConfig) *Repo {
	if cfg.M > 0 {
		r.hnsw.M = cfg.M
	}
	if cfg.EFConstruct > 0 {
		r.hnsw.EFConstruct = cfg.EFConstruct
	}
	return r
}

// WithBatchSize sets how many chunks go into one embedding request.
func (r *Repo) WithBatchSize(n int) *Repo {
	if n > 0 {
		r.batchSize = n
	}
	return r
}

// HasCollection reports whether the collection finished building.
func (r *Repo) HasCollection(ctx context.Context, name string) (bool, error) {
	m, err := r.store.HGetAll(ctx, metaKey(name))
	if err != nil {
		return false, fmt.Errorf("hgetall collection %s: %w", name, err)
	}
	return m["state"] == stateReady, nil
}

// CreateCollection writes metadata in state building, then FT.CREATE.
// A leftover building collection is dropped first. On FT.CREATE failure the metadata is rolled back.
func (r *Repo) CreateCollection(ctx context.Context, name string) error {
	m, err := r.store.HGetAll(ctx, metaKey(name))
	if err != nil {
		return fmt.Errorf("hgetall collection %s: %w", name, err)
	}
	switch m["state"] {
	case stateReady:
		return nil
	case stateBuilding:
		r.logger.Warn("Dropping unfinished collection", zap.String("collection", name))
		if err := r.dropIndex(ctx, name); err != nil {
			return err
		}
	}

	indexDef, err := buildIndex(name, r.vectorDim, r.hnsw)
	if err != nil {
		return err
	}

	if err := r.store.HSet(ctx, metaKey(name), buildingMeta(name, r.vectorDim)); err != nil {
		return fmt.Errorf("hset collection %s: %w", name, err)
	}

	err = r.store.CreateIndex(ctx, indexDef)
	if errors.Is(err, db.ErrIndexExists) {
		// index without metadata: a crash between FT.CREATE and the metadata rollback
		if err = r.dropIndex(ctx, name); err == nil {
			err = r.store.CreateIndex(ctx, indexDef)
		}
	}
	if err != nil {
		cleanupErr := r.store.Del(ctx, metaKey(name))
		return errors.Join(fmt.Errorf("create index %s: %w", name, err), cleanupErr)
	}

	return nil
}

// Save embeds and stores every chunk, then publishes the collection as ready.
func (r *Repo) Save(ctx context.Context, name string, chunks []string) error {
	vectors, err := r.embedAll(ctx, chunks)
	if err != nil {
		return fmt.Errorf("embed chunks for %s: %w", name, err)
	}

	for start := 0; start < len(chunks); start += r.batchSize {
		end := min(start+r.batchSize, len(chunks))
		items := make([]db.HashSetItem, 0, end-start)
		for i := start; i < end; i++ {
			items = append(items, chunkToHash(name, i, chunks[i], vectors[i]))
		}
		if err := r.store.HSetMulti(ctx, items); err != nil {
			return fmt.Errorf("store chunks %d-%d for %s: %w", start, end, name, err)
		}
	}

	if err := r.store.HSet(ctx, metaKey(name), readyMeta(len(chunks))); err != nil {
		return fmt.Errorf("publish collection %s: %w", name, err)
	}
	return nil
}

// Search embeds the query and returns the nearest chunks, best first.
func (r *Repo) Search(ctx context.Context, name, query string, limit int) ([]domain.Passage, error) {
	emb, err := r.query.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	res, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    indexName(name),
		Vector:       emb.Vector,
		K:            limit,
		ReturnFields: []string{fieldContent},
	})
	if errors.Is(err, db.ErrIndexNotFound) {
		return nil, fmt.Errorf("knn search %s: %w: %w", name, domain.ErrCollectionNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("knn search %s: %w", name, err)
	}

	passages := make([]domain.Passage, 0, len(res.Entries))
	for _, e := range res.Entries {
		passages = append(passages, domain.Passage{Content: e.Fields[fieldContent], Score: e.Score})
	}
	return passages, nil
}

func (r *Repo) dropIndex(ctx context.Context, name string) error {
	err := r.store.DropIndex(ctx, indexName(name), true)
	if err != nil && !errors.Is(err, db.ErrIndexNotFound) {
		return fmt.Errorf("drop index %s: %w", name, err)
	}
	return nil
}

// embedAll runs one EmbedBatch per batch on the worker pool; the first failure cancels the rest.
func (r *Repo) embedAll(ctx context.Context, chunks []string) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	if len(chunks) == 0 {
		return vectors, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.pool.Cap())

	for start := 0; start < len(chunks); start += r.batchSize {
		end := min(start+r.batchSize, len(chunks))
		offset, batch := start, chunks[start:end]

		g.Go(func() error {
			done := make(chan error, 1)
			if err := r.pool.Submit(func() {
				done <- r.embedBatch(gctx, offset, batch, vectors)
			}); err != nil {
				return fmt.Errorf("submit batch at %d: %w", offset, err)
			}
			return <-done
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// embedBatch fills vectors[offset:offset+len(batch)].
func (r *Repo) embedBatch(ctx context.Context, offset int, batch []string, vectors [][]float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := r.docs.EmbedBatch(ctx, batch)
	if err != nil {
		return fmt.Errorf("batch at %d: %w", offset, err)
	}
	if len(res.Vectors) != len(batch) {
		return fmt.Errorf("batch at %d: got %d embeddings for %d chunks", offset, len(res.Vectors), len(batch))
	}
	for i, vec := range res.Vectors {
		if len(vec) != r.vectorDim {
			return fmt.Errorf("chunk %d: vector dimension %d, index expects %d", offset+i, len(vec), r.vectorDim)
		}
		vectors[offset+i] = vec
	}
	return nil
}
