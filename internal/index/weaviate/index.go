// Package weaviate stores collections as Weaviate classes with caller-supplied vectors.
package weaviate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate/entities/models"
	"go.uber.org/zap"

	"github.com/kailas-cloud/querynode/internal/domain"
)

const (
	propContent = "content"
	propChunk   = "chunk"
)

var objectNamespace = uuid.MustParse("b0c5a9d4-7e31-4f2a-8d8e-3c6a2f4e9b17")

// Index is the Weaviate vector index. One class per collection, vectorizer none.
type Index struct {
	backend   backend
	docs      domain.BatchEmbedder
	query     domain.Embedder
	vectorDim int
	batchSize int
	logger    *zap.Logger
}

// New connects to Weaviate. No request is made until the first call.
func New(cfg Config, docs domain.BatchEmbedder, query domain.Embedder, vectorDim int, logger *zap.Logger) (*Index, error) {
	b, err := newSDKBackend(cfg)
	if err != nil {
		return nil, err
	}
	return newIndex(b, docs, query, vectorDim, logger), nil
}

func newIndex(b backend, docs domain.BatchEmbedder, query domain.Embedder, vectorDim int, logger *zap.Logger) *Index {
	return &Index{
		backend:   b,
		docs:      docs,
		query:     query,
		vectorDim: vectorDim,
		batchSize: 64,
		logger:    logger,
	}
}

// WithBatchSize sets how many chunks go into one embedding and import request.
func (x *Index) WithBatchSize(n int) *Index {
	if n > 0 {
		x.batchSize = n
	}
	return x
}

// Ping checks that Weaviate is ready to serve.
func (x *Index) Ping(ctx context.Context) error {
	return x.backend.Ready(ctx)
}

// HasCollection reports whether the collection's class exists.
func (x *Index) HasCollection(ctx context.Context, name string) (bool, error) {
	return x.backend.ClassExists(ctx, className(name))
}

// CreateCollection creates the class. An existing class is kept.
func (x *Index) CreateCollection(ctx context.Context, name string) error {
	class := className(name)
	ok, err := x.backend.ClassExists(ctx, class)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return x.backend.CreateClass(ctx, classSchema(class))
}

// Save embeds and imports every chunk. On failure the class is deleted so the next request rebuilds it.
func (x *Index) Save(ctx context.Context, name string, chunks []string) error {
	class := className(name)
	err := x.save(ctx, class, chunks)
	if err == nil {
		return nil
	}

	x.logger.Warn("Reverting partially populated class", zap.String("class", class), zap.Error(err))
	if delErr := x.backend.DeleteClass(context.WithoutCancel(ctx), class); delErr != nil {
		return errors.Join(err, delErr)
	}
	return err
}

func (x *Index) save(ctx context.Context, class string, chunks []string) error {
	for start := 0; start < len(chunks); start += x.batchSize {
		end := min(start+x.batchSize, len(chunks))
		batch := chunks[start:end]

		res, err := x.docs.EmbedBatch(ctx, batch)
		if err != nil {
			return fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
		}
		if len(res.Vectors) != len(batch) {
			return fmt.Errorf("embed chunks %d-%d: got %d embeddings", start, end, len(res.Vectors))
		}

		objects := make([]*models.Object, 0, len(batch))
		for i, vec := range res.Vectors {
			if len(vec) != x.vectorDim {
				return fmt.Errorf("chunk %d: vector dimension %d, index expects %d", start+i, len(vec), x.vectorDim)
			}
			objects = append(objects, chunkObject(class, start+i, batch[i], vec))
		}
		if err := x.backend.BatchObjects(ctx, objects); err != nil {
			return fmt.Errorf("import chunks %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// Search embeds the query and returns the nearest chunks, best first.
func (x *Index) Search(ctx context.Context, name, query string, limit int) ([]domain.Passage, error) {
	emb, err := x.query.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	class := className(name)
	hits, err := x.backend.NearVector(ctx, class, emb.Vector, limit)
	if err != nil {
		if ok, existsErr := x.backend.ClassExists(ctx, class); existsErr == nil && !ok {
			return nil, fmt.Errorf("%w: %w", domain.ErrCollectionNotFound, err)
		}
		return nil, err
	}

	passages := make([]domain.Passage, 0, len(hits))
	for _, h := range hits {
		passages = append(passages, domain.Passage{
			Content: h.Content,
			Score:   max(0, 1-h.Additional.Distance),
		})
	}
	return passages, nil
}

// className maps a collection name to a class name. Weaviate requires an uppercase first letter.
func className(name string) string {
	if name == "" {
		return name
	}
	r := []rune(name)
	r[0] = unicode.ToUpper(r[0])
	return strings.ReplaceAll(string(r), "-", "_")
}

func classSchema(class string) *models.Class {
	return &models.Class{
		Class:       class,
		Description: "Chunks of one decrypted data file.",
		Vectorizer:  "none",
		VectorIndexConfig: map[string]interface{}{
			"distance": "cosine",
		},
		Properties: []*models.Property{
			{Name: propContent, DataType: []string{"text"}, Tokenization: "word"},
			{Name: propChunk, DataType: []string{"int"}},
		},
	}
}

func chunkObject(class string, i int, content string, vec []float32) *models.Object {
	id := uuid.NewSHA1(objectNamespace, []byte(class+"/"+strconv.Itoa(i)))
	return &models.Object{
		Class:  class,
		ID:     strfmt.UUID(id.String()),
		Vector: vec,
		Properties: map[string]interface{}{
			propContent: content,
			propChunk:   i,
		},
	}
}
