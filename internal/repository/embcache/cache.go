// Package embcache keeps vectors in Redis so repeated chunks and queries skip the provider.
package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/querynode/internal/db"
	"github.com/kailas-cloud/querynode/internal/domain"
	"github.com/kailas-cloud/querynode/internal/metrics"
)

const keyPrefix = domain.KeyPrefix + "emb:"

// DefaultTTL applies when New gets a non-positive ttl.
const DefaultTTL = 7 * 24 * time.Hour

type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cache is a read-through embedding cache. Store failures degrade to a miss.
type Cache struct {
	inner  domain.Embedder
	store  store
	model  string
	ttl    time.Duration
	logger *zap.Logger
}

// New caches vectors produced by inner for model. Keys of different models never collide.
func New(inner domain.Embedder, s store, model string, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{inner: inner, store: s, model: model, ttl: ttl, logger: logger}
}

// Embed implements domain.Embedder. A hit bills no tokens.
func (c *Cache) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	key := c.key(text)
	if vec, ok := c.load(ctx, key); ok {
		return domain.Embedding{Vector: vec}, nil
	}

	res, err := c.inner.Embed(ctx, text)
	if err != nil {
		return domain.Embedding{}, err
	}
	c.save(ctx, key, res.Vector)
	return res, nil
}

// EmbedBatch implements domain.BatchEmbedder. Only misses reach the provider, in one call.
func (c *Cache) EmbedBatch(ctx context.Context, texts []string) (domain.Embeddings, error) {
	out := domain.Embeddings{Vectors: make([][]float32, len(texts))}
	keys := make([]string, len(texts))
	var missing []int
	for i, text := range texts {
		keys[i] = c.key(text)
		if vec, ok := c.load(ctx, keys[i]); ok {
			out.Vectors[i] = vec
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	todo := make([]string, len(missing))
	for j, i := range missing {
		todo[j] = texts[i]
	}
	fresh, err := domain.EmbedAll(ctx, c.inner, todo)
	if err != nil {
		return domain.Embeddings{}, err
	}
	if len(fresh.Vectors) != len(todo) {
		return domain.Embeddings{}, fmt.Errorf("got %d vectors for %d texts: %w",
			len(fresh.Vectors), len(todo), domain.ErrEmbeddingProviderError)
	}
	for j, i := range missing {
		out.Vectors[i] = fresh.Vectors[j]
		c.save(ctx, keys[i], fresh.Vectors[j])
	}
	out.Tokens = fresh.Tokens
	return out, nil
}

func (c *Cache) key(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return keyPrefix + hex.EncodeToString(sum[:])
}

func (c *Cache) load(ctx context.Context, key string) ([]float32, bool) {
	raw, err := c.store.Get(ctx, key)
	switch {
	case errors.Is(err, db.ErrKeyNotFound):
	case err != nil:
		c.logger.Warn("Embedding cache read failed", zap.String("key", key), zap.Error(err))
	default:
		if vec, ok := decode(raw); ok {
			metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
			return vec, true
		}
		c.logger.Warn("Corrupt cached embedding", zap.String("key", key), zap.Int("bytes", len(raw)))
	}
	metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()
	return nil, false
}

func (c *Cache) save(ctx context.Context, key string, vec []float32) {
	if err := c.store.SetWithTTL(ctx, key, encode(vec), c.ttl); err != nil {
		c.logger.Warn("Embedding cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// encode stores float32s little-endian, 4 bytes each.
func encode(vec []float32) []byte {
	buf := make([]byte, 0, 4*len(vec))
	for _, f := range vec {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return buf
}

func decode(raw []byte) ([]float32, bool) {
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil, false
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return vec, true
}
