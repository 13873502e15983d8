package collection

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kailas-cloud/querynode/internal/db"
	"github.com/kailas-cloud/querynode/internal/domain"
)

// --- HasCollection ---

func TestHasCollection_OnlyReady(t *testing.T) {
	repo, ms, _ := newTestRepo(t)
	ctx := context.Background()

	states := map[string]bool{"": false, stateBuilding: false, stateReady: true}
	for state, want := range states {
		ms.hgetAllFn = func(_ context.Context, key string) (map[string]string, error) {
			if key != "querynode:collection:query_abc" {
				t.Errorf("unexpected key: %s", key)
			}
			if state == "" {
				return map[string]string{}, nil
			}
			return map[string]string{"state": state}, nil
		}
		got, err := repo.HasCollection(ctx, "query_abc")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("state %q: expected %v, got %v", state, want, got)
		}
	}
}

func TestHasCollection_StoreError(t *testing.T) {
	repo, ms, _ := newTestRepo(t)
	ms.hgetAllFn = func(_ context.Context, _ string) (map[string]string, error) {
		return nil, errors.New("connection refused")
	}

	if _, err := repo.HasCollection(context.Background(), "query_abc"); err == nil {
		t.Fatal("expected error")
	}
}

// --- CreateCollection ---

func TestCreateCollection_HappyPath(t *testing.T) {
	repo, ms, _ := newTestRepo(t)

	var metaState string
	ms.hsetFn = func(_ context.Context, key string, fields map[string]string) error {
		if key != "querynode:collection:query_abc" {
			t.Errorf("unexpected key: %s", key)
		}
		metaState = fields["state"]
		return nil
	}
	ms.createIndexFn = func(_ context.Context, def *db.IndexDefinition) error {
		if def.Name != "querynode:query_abc:idx" {
			t.Errorf("unexpected index name: %s", def.Name)
		}
		if def.Prefix != "querynode:query_abc:" {
			t.Errorf("unexpected prefix: %q", def.Prefix)
		}
		return nil
	}

	if err := repo.CreateCollection(context.Background(), "query_abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if metaState != stateBuilding {
		t.Errorf("expected building state, got %q", metaState)
	}
}

func TestCreateCollection_ReadyIsNoop(t *testing.T) {
	repo, ms, _ := newTestRepo(t)
	ms.hgetAllFn = func(_ context.Context, _ string) (map[string]string, error) {
		return map[string]string{"state": stateReady}, nil
	}
	ms.createIndexFn = func(_ context.Context, _ *db.IndexDefinition) error {
		t.Error("CreateIndex should not be called for a ready collection")
		return nil
	}

	if err := repo.CreateCollection(context.Background(), "query_abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateCollection_DropsLeftoverBuild(t *testing.T) {
	repo, ms, _ := newTestRepo(t)
	ms.hgetAllFn = func(_ context.Context, _ string) (map[string]string, error) {
		return map[string]string{"state": stateBuilding}, nil
	}
	var dropped bool
	ms.dropIndexFn = func(_ context.Context, name string, deleteDocs bool) error {
		if name != "querynode:query_abc:idx" || !deleteDocs {
			t.Errorf("unexpected drop: %s dd=%v", name, deleteDocs)
		}
		dropped = true
		return nil
	}

	if err := repo.CreateCollection(context.Background(), "query_abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dropped {
		t.Error("expected leftover index to be dropped")
	}
}

func TestCreateCollection_OrphanIndexRecreated(t *testing.T) {
	repo, ms, _ := newTestRepo(t)
	calls := 0
	ms.createIndexFn = func(_ context.Context, _ *db.IndexDefinition) error {
		calls++
		if calls == 1 {
			return db.ErrIndexExists
		}
		return nil
	}

	if err := repo.CreateCollection(context.Background(), "query_abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 CreateIndex calls, got %d", calls)
	}
}

func TestCreateCollection_RollbackOnIndexError(t *testing.T) {
	repo, ms, _ := newTestRepo(t)
	indexErr := errors.New("FT.CREATE failed")
	ms.createIndexFn = func(_ context.Context, _ *db.IndexDefinition) error { return indexErr }

	var delKey string
	ms.delFn = func(_ context.Context, key string) error {
		delKey = key
		return nil
	}

	err := repo.CreateCollection(context.Background(), "query_abc")
	if !errors.Is(err, indexErr) {
		t.Fatalf("expected index error, got %v", err)
	}
	if delKey != "querynode:collection:query_abc" {
		t.Errorf("expected metadata rollback, got del %q", delKey)
	}
}

func TestCreateCollection_RollbackFailureJoined(t *testing.T) {
	repo, ms, _ := newTestRepo(t)
	indexErr := errors.New("FT.CREATE failed")
	delErr := errors.New("DEL failed")
	ms.createIndexFn = func(_ context.Context, _ *db.IndexDefinition) error { return indexErr }
	ms.delFn = func(_ context.Context, _ string) error { return delErr }

	err := repo.CreateCollection(context.Background(), "query_abc")
	if !errors.Is(err, indexErr) || !errors.Is(err, delErr) {
		t.Fatalf("expected both errors, got %v", err)
	}
}

func TestCreateCollection_InvalidName(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	if err := repo.CreateCollection(context.Background(), "query_a b"); err == nil {
		t.Fatal("expected error for name with spaces")
	}
}

// --- Save ---

func TestSave_StoresChunksThenPublishes(t *testing.T) {
	repo, ms, emb := newTestRepo(t)
	chunks := []string{"alpha", "beta", "gamma", "delta", "epsilon"}

	var published map[string]string
	ms.hsetFn = func(_ context.Context, _ string, fields map[string]string) error {
		published = fields
		return nil
	}

	if err := repo.Save(context.Background(), "query_abc", chunks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ms.stored) != len(chunks) {
		t.Fatalf("expected %d stored chunks, got %d", len(chunks), len(ms.stored))
	}
	for _, item := range ms.stored {
		if !strings.HasPrefix(item.Key, "querynode:query_abc:") {
			t.Errorf("chunk key outside collection prefix: %s", item.Key)
		}
		if len(item.Fields[fieldEmbedding]) != testVectorDim*4 {
			t.Errorf("unexpected embedding blob length %d", len(item.Fields[fieldEmbedding]))
		}
	}
	if published["state"] != stateReady || published["chunks"] != "5" {
		t.Errorf("unexpected publish fields: %v", published)
	}
	// batch size 2 -> 3 embedding requests
	if emb.calls != 3 {
		t.Errorf("expected 3 batch calls, got %d", emb.calls)
	}
}

func TestSave_DeterministicKeys(t *testing.T) {
	repo, ms, _ := newTestRepo(t)
	ctx := context.Background()

	if err := repo.Save(ctx, "query_abc", []string{"one", "two"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.Save(ctx, "query_abc", []string{"one", "two"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	keys := map[string]bool{}
	for _, item := range ms.stored {
		keys[item.Key] = true
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 distinct keys across rebuilds, got %d", len(keys))
	}
}

func TestSave_EmbedErrorDoesNotPublish(t *testing.T) {
	repo, ms, emb := newTestRepo(t)
	emb.batchFn = func(_ []string) (domain.Embeddings, error) {
		return domain.Embeddings{}, domain.ErrEmbeddingProviderError
	}
	ms.hsetFn = func(_ context.Context, _ string, _ map[string]string) error {
		t.Error("collection must not be published after a failed embed")
		return nil
	}

	err := repo.Save(context.Background(), "query_abc", []string{"a", "b", "c"})
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestSave_DimensionMismatch(t *testing.T) {
	repo, _, emb := newTestRepo(t)
	emb.batchFn = func(texts []string) (domain.Embeddings, error) {
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = []float32{1, 2}
		}
		return domain.Embeddings{Vectors: out}, nil
	}

	err := repo.Save(context.Background(), "query_abc", []string{"a"})
	if err == nil || !strings.Contains(err.Error(), "vector dimension 2") {
		t.Fatalf("expected dimension error, got %v", err)
	}
}

func TestSave_HSetMultiError(t *testing.T) {
	repo, ms, _ := newTestRepo(t)
	ms.hsetMultiFn = func(_ context.Context, _ []db.HashSetItem) error {
		return errors.New("OOM")
	}

	if err := repo.Save(context.Background(), "query_abc", []string{"a"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSave_EmptyChunksPublishes(t *testing.T) {
	repo, ms, _ := newTestRepo(t)
	var published bool
	ms.hsetFn = func(_ context.Context, _ string, fields map[string]string) error {
		published = fields["state"] == stateReady && fields["chunks"] == "0"
		return nil
	}

	if err := repo.Save(context.Background(), "query_abc", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !published {
		t.Error("expected empty collection to be published")
	}
}

func TestSave_CanceledContext(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := repo.Save(ctx, "query_abc", []string{"a", "b"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// --- Search ---

func TestSearch_MapsEntries(t *testing.T) {
	repo, ms, _ := newTestRepo(t)
	ms.searchKNNFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		if q.IndexName != "querynode:query_abc:idx" || q.K != 5 {
			t.Errorf("unexpected query: %+v", q)
		}
		if len(q.Vector) != testVectorDim {
			t.Errorf("unexpected vector length %d", len(q.Vector))
		}
		return &db.SearchResult{Total: 2, Entries: []db.SearchEntry{
			{Key: "k1", Score: 0.9, Fields: map[string]string{"content": "the hero"}},
			{Key: "k2", Score: 0.4, Fields: map[string]string{"content": "the villain"}},
		}}, nil
	}

	got, err := repo.Search(context.Background(), "query_abc", "best character?", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].Content != "the hero" || got[0].Score != 0.9 {
		t.Errorf("unexpected passages: %+v", got)
	}
}

func TestSearch_EmptyIsNonNil(t *testing.T) {
	repo, _, _ := newTestRepo(t)

	got, err := repo.Search(context.Background(), "query_abc", "q", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil {
		t.Error("expected non-nil empty slice")
	}
}

func TestSearch_StoreError(t *testing.T) {
	repo, ms, _ := newTestRepo(t)
	ms.searchKNNFn = func(_ context.Context, _ *db.KNNQuery) (*db.SearchResult, error) {
		return nil, &db.Error{Op: "FT.SEARCH", Err: errors.New("Unknown Index name")}
	}

	_, err := repo.Search(context.Background(), "query_abc", "q", 3)
	var dbErr *db.Error
	if !errors.As(err, &dbErr) {
		t.Fatalf("expected db.Error, got %v", err)
	}
}

func TestSearch_MissingIndexIsCollectionNotFound(t *testing.T) {
	repo, ms, _ := newTestRepo(t)
	ms.searchKNNFn = func(_ context.Context, _ *db.KNNQuery) (*db.SearchResult, error) {
		return nil, &db.Error{Op: "FT.SEARCH", Err: db.ErrIndexNotFound}
	}

	_, err := repo.Search(context.Background(), "query_abc", "q", 3)
	if !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Fatalf("expected ErrCollectionNotFound, got %v", err)
	}
	if !errors.Is(err, db.ErrIndexNotFound) {
		t.Errorf("expected the store error kept in the chain, got %v", err)
	}
}

// --- embedAll ---

func TestEmbedAll_MoreBatchesThanWorkers(t *testing.T) {
	repo, _, emb := newTestRepo(t)
	chunks := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff", "g"}

	vectors, err := repo.embedAll(context.Background(), chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, c := range chunks {
		if vectors[i] == nil || vectors[i][0] != float32(len(c)) {
			t.Errorf("chunk %d: vector out of place: %v", i, vectors[i])
		}
	}
	if emb.calls != 4 {
		t.Errorf("expected 4 batches, got %d", emb.calls)
	}
}

func TestEmbedAll_ReportsFailingBatch(t *testing.T) {
	repo, _, emb := newTestRepo(t)
	emb.batchFn = func(texts []string) (domain.Embeddings, error) {
		if texts[0] == "bad" {
			return domain.Embeddings{}, errors.New("provider down")
		}
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = make([]float32, testVectorDim)
		}
		return domain.Embeddings{Vectors: out}, nil
	}

	_, err := repo.embedAll(context.Background(), []string{"a", "b", "c", "d", "bad", "e"})
	if err == nil || !strings.Contains(err.Error(), "batch at 4") || !strings.Contains(err.Error(), "provider down") {
		t.Fatalf("expected failure of batch at 4, got %v", err)
	}
}
