package main

import (
	"context"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/querynode/internal/config"
	dbRedis "github.com/kailas-cloud/querynode/internal/db/redis"
	"github.com/kailas-cloud/querynode/internal/domain"
	"github.com/kailas-cloud/querynode/internal/index/weaviate"
	collectionrepo "github.com/kailas-cloud/querynode/internal/repository/collection"
	"github.com/kailas-cloud/querynode/internal/repository/embcache"
	quotarepo "github.com/kailas-cloud/querynode/internal/repository/quota"
	openaiEmb "github.com/kailas-cloud/querynode/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/querynode/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/querynode/internal/usecase/health"
	materializeuc "github.com/kailas-cloud/querynode/internal/usecase/materialize"
	"github.com/kailas-cloud/querynode/internal/usecase/quota"
	searchuc "github.com/kailas-cloud/querynode/internal/usecase/search"
)

// embedder is what both index backends need from the embedding chain.
type embedder interface {
	domain.Embedder
	domain.BatchEmbedder
}

// vectorIndex is one of the index backends.
type vectorIndex interface {
	materializeuc.Index
	searchuc.Index
	healthuc.Pinger
}

// redisIndex reports the Redis connection as the index health.
type redisIndex struct {
	*collectionrepo.Repo
	pinger healthuc.Pinger
}

func (r redisIndex) Ping(ctx context.Context) error { return r.pinger.Ping(ctx) }

// readinessWaiter blocks until a backend answers or the timeout passes.
type readinessWaiter interface {
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// waitForRedis reports whether Redis answered in time. An unreachable Redis
// is fatal only when settlement is enabled: nonces and quota counters live there.
func waitForRedis(
	ctx context.Context, r readinessWaiter, timeout time.Duration, settlement bool, logger *zap.Logger,
) (bool, error) {
	err := r.WaitForReady(ctx, timeout)
	if err == nil {
		logger.Info("Connected to redis")
		return true, nil
	}
	if settlement {
		return false, fmt.Errorf("redis not ready: %w", err)
	}
	logger.Warn("Redis not ready", zap.Error(err))
	return false, nil
}

// buildIndex returns nil when the configured backend cannot be reached. Queries then fail with 503.
// redisUp is the outcome of waitForRedis.
func buildIndex(
	ctx context.Context, cfg config.Config, store *dbRedis.Store, redisUp bool,
	docs, query embedder, pool *ants.Pool, logger *zap.Logger,
) vectorIndex {
	switch cfg.Index.Driver {
	case config.IndexDriverWeaviate:
		idx, err := weaviate.New(weaviate.Config{URL: cfg.Weaviate.URL, APIKey: cfg.Weaviate.APIKey},
			docs, query, cfg.Embedding.Dimensions, logger)
		if err != nil {
			logger.Warn("Failed to initialize weaviate index", zap.Error(err))
			logger.Warn("Running without vector storage - queries will be rejected")
			return nil
		}
		readyCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second)
		defer cancel()
		if err := idx.Ping(readyCtx); err != nil {
			logger.Warn("Weaviate not ready", zap.Error(err))
			logger.Warn("Running without vector storage - queries will be rejected")
			return nil
		}
		logger.Info("Weaviate index initialized", zap.String("url", cfg.Weaviate.URL))
		return idx.WithBatchSize(cfg.Materialize.BatchSize)

	default:
		if !redisUp {
			logger.Warn("Running without vector storage - queries will be rejected")
			return nil
		}
		repo := collectionrepo.New(store, docs, query, cfg.Embedding.Dimensions, pool, logger).
			WithHNSW(collectionrepo.HNSWConfig{M: cfg.Index.HNSWM, EFConstruct: cfg.Index.HNSWEFConstruct}).
			WithBatchSize(cfg.Materialize.BatchSize)
		logger.Info("Redis index initialized")
		return redisIndex{Repo: repo, pinger: store}
	}
}

// buildEmbedders assembles the chain provider -> cache -> budget -> instruction
// and returns the bare provider for health checks.
func buildEmbedders(
	ctx context.Context,
	cfg config.EmbeddingConfig,
	store *dbRedis.Store,
	counters *quotarepo.Store,
	logger *zap.Logger,
) (docs, query embedder, provider healthuc.Pinger) {
	base := openaiEmb.New(openaiEmb.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		Logger:     logger,
	})
	cached := embcache.New(base, store, cfg.Model, time.Duration(cfg.CacheTTLHours)*time.Hour, logger)

	// nil interface, not a typed nil, when no budget is configured
	var budget embeddinguc.Budget
	if cfg.Budget.DailyTokenLimit > 0 || cfg.Budget.MonthlyTokenLimit > 0 {
		budget = quota.NewTracker("embedding:"+cfg.Provider, quota.Limits{
			Daily:   cfg.Budget.DailyTokenLimit,
			Monthly: cfg.Budget.MonthlyTokenLimit,
			Action:  quota.Action(cfg.Budget.Action),
		}, domain.ErrEmbeddingQuotaExceeded, logger).WithStore(ctx, counters)
	}
	budgeted := embeddinguc.NewBudgeted(cached, budget, cfg.Model, logger)

	return withInstruction(budgeted, cfg.DocumentInstruction),
		withInstruction(budgeted, cfg.QueryInstruction),
		base
}

// withInstruction is the outermost layer so the cache key includes the instruction.
func withInstruction(inner embedder, instruction string) embedder {
	if instruction == "" {
		return inner
	}
	return domain.Instruct(inner, instruction)
}
