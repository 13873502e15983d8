// Package openai embeds text through any OpenAI-compatible embeddings endpoint.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/querynode/internal/domain"
	"github.com/kailas-cloud/querynode/internal/metrics"
)

// Config selects the endpoint and model.
type Config struct {
	APIKey     string
	BaseURL    string // empty means api.openai.com
	Model      string
	Dimensions int // 0 keeps the model default
	Logger     *zap.Logger
}

// Client calls the embeddings endpoint. It implements domain.Embedder and domain.BatchEmbedder.
type Client struct {
	api        *openai.Client
	model      string
	dimensions int
	logger     *zap.Logger
}

// New creates a client. No request is made until the first Embed or Ping.
func New(cfg Config) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		api:        openai.NewClientWithConfig(apiCfg),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		logger:     logger,
	}
}

// Embed embeds one text.
func (c *Client) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	res, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return domain.Embedding{}, err
	}
	return domain.Embedding{Vector: res.Vectors[0], Tokens: res.Tokens}, nil
}

// EmbedBatch embeds texts in one request. Vectors come back in input order
// whatever order the provider lists them in.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) (domain.Embeddings, error) {
	if len(texts) == 0 {
		return domain.Embeddings{}, nil
	}

	start := time.Now()
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:          texts,
		Model:          openai.EmbeddingModel(c.model),
		Dimensions:     c.dimensions,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	})
	metrics.EmbeddingDuration.WithLabelValues(c.model).Observe(time.Since(start).Seconds())
	if err != nil {
		c.count("error")
		c.logger.Debug("Embedding request failed", zap.Int("texts", len(texts)), zap.Error(err))
		return domain.Embeddings{}, providerError(err)
	}

	vectors, err := inInputOrder(resp.Data, len(texts))
	if err != nil {
		c.count("bad_response")
		return domain.Embeddings{}, err
	}

	c.count("success")
	metrics.EmbeddingTokensTotal.WithLabelValues(c.model).Add(float64(resp.Usage.TotalTokens))
	return domain.Embeddings{Vectors: vectors, Tokens: resp.Usage.TotalTokens}, nil
}

// Ping lists models, which is free on every compatible provider we target.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

func (c *Client) count(outcome string) {
	metrics.EmbeddingRequestsTotal.WithLabelValues(c.model, outcome).Inc()
}

func inInputOrder(data []openai.Embedding, n int) ([][]float32, error) {
	vectors := make([][]float32, n)
	for _, d := range data {
		if d.Index < 0 || d.Index >= n || vectors[d.Index] != nil {
			return nil, fmt.Errorf("embedding index %d out of place for %d inputs: %w",
				d.Index, n, domain.ErrEmbeddingProviderError)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("no embedding for input %d: %w", i, domain.ErrEmbeddingProviderError)
		}
	}
	return vectors, nil
}

// providerError keeps the status and the provider's own message. Every result wraps
// domain.ErrEmbeddingProviderError; context errors stay matchable too.
func providerError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding provider %d: %s: %w",
			apiErr.HTTPStatusCode, apiErr.Message, domain.ErrEmbeddingProviderError)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("embedding provider %d: %s: %w",
			reqErr.HTTPStatusCode, bodyMessage(reqErr.Body), domain.ErrEmbeddingProviderError)
	}
	return fmt.Errorf("embedding request: %w: %w", domain.ErrEmbeddingProviderError, err)
}

// bodyMessage digs the message out of non-OpenAI error bodies ({"detail": ...} from
// vLLM/TEI style servers). Anything else is returned truncated.
func bodyMessage(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
		Error  struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Detail != "" {
			return parsed.Detail
		}
		if parsed.Error.Message != "" {
			return parsed.Error.Message
		}
	}
	const maxBody = 200
	if len(body) > maxBody {
		return string(body[:maxBody]) + "..."
	}
	return string(body)
}
