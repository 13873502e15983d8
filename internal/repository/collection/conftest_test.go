package collection

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/querynode/internal/db"
	"github.com/kailas-cloud/querynode/internal/domain"
)

const testVectorDim = 4

// mockStore implements the consumer interface for tests.
type mockStore struct {
	mu sync.Mutex

	hsetFn        func(ctx context.Context, key string, fields map[string]string) error
	hsetMultiFn   func(ctx context.Context, items []db.HashSetItem) error
	hgetAllFn     func(ctx context.Context, key string) (map[string]string, error)
	delFn         func(ctx context.Context, key string) error
	createIndexFn func(ctx context.Context, def *db.IndexDefinition) error
	dropIndexFn   func(ctx context.Context, name string, deleteDocs bool) error
	searchKNNFn   func(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)

	stored []db.HashSetItem
}

func (m *mockStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if m.hsetFn != nil {
		return m.hsetFn(ctx, key, fields)
	}
	return nil
}

func (m *mockStore) HSetMulti(ctx context.Context, items []db.HashSetItem) error {
	if m.hsetMultiFn != nil {
		return m.hsetMultiFn(ctx, items)
	}
	m.mu.Lock()
	m.stored = append(m.stored, items...)
	m.mu.Unlock()
	return nil
}

func (m *mockStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if m.hgetAllFn != nil {
		return m.hgetAllFn(ctx, key)
	}
	return map[string]string{}, nil
}

func (m *mockStore) Del(ctx context.Context, key string) error {
	if m.delFn != nil {
		return m.delFn(ctx, key)
	}
	return nil
}

func (m *mockStore) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	if m.createIndexFn != nil {
		return m.createIndexFn(ctx, def)
	}
	return nil
}

func (m *mockStore) DropIndex(ctx context.Context, name string, deleteDocs bool) error {
	if m.dropIndexFn != nil {
		return m.dropIndexFn(ctx, name, deleteDocs)
	}
	return nil
}

func (m *mockStore) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if m.searchKNNFn != nil {
		return m.searchKNNFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

// mockEmbedder returns a fixed-dimension vector per text and counts calls.
type mockEmbedder struct {
	mu      sync.Mutex
	calls   int
	dim     int
	batchFn func(texts []string) (domain.Embeddings, error)
}

func (e *mockEmbedder) Embed(_ context.Context, text string) (domain.Embedding, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return domain.Embedding{Vector: e.vector(text)}, nil
}

func (e *mockEmbedder) EmbedBatch(_ context.Context, texts []string) (domain.Embeddings, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.batchFn != nil {
		return e.batchFn(texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return domain.Embeddings{Vectors: out, Tokens: len(texts)}, nil
}

func (e *mockEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dim)
	v[0] = float32(len(strings.TrimSpace(text)))
	return v
}

func newTestRepo(t *testing.T) (*Repo, *mockStore, *mockEmbedder) {
	t.Helper()
	pool, err := ants.NewPool(2)
	if err != nil {
		t.Fatalf("ants pool: %v", err)
	}
	t.Cleanup(pool.Release)

	ms := &mockStore{}
	emb := &mockEmbedder{dim: testVectorDim}
	repo := New(ms, emb, emb, testVectorDim, pool, zap.NewNop()).WithBatchSize(2)
	return repo, ms, emb
}
