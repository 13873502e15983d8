package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kailas-cloud/querynode/internal/domain"
	"github.com/kailas-cloud/querynode/internal/metrics"
)

type embeddingsRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions"`
}

type embeddingItem struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingsResponse struct {
	Object string          `json:"object"`
	Data   []embeddingItem `json:"data"`
	Model  string          `json:"model"`
	Usage  struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// provider answers /embeddings with a vector per input, listed in reverse order.
type provider struct {
	t        *testing.T
	requests []embeddingsRequest
	reply    func(w http.ResponseWriter, req embeddingsRequest) bool
}

func (p *provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/models":
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": []any{}})
		return
	case "/embeddings":
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
		p.t.Errorf("unexpected authorization %q", got)
	}

	var req embeddingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		p.t.Errorf("decode request: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	p.requests = append(p.requests, req)
	if p.reply != nil && p.reply(w, req) {
		return
	}

	resp := embeddingsResponse{Object: "list", Model: req.Model}
	for i := len(req.Input) - 1; i >= 0; i-- {
		resp.Data = append(resp.Data, embeddingItem{
			Object:    "embedding",
			Embedding: []float32{float32(i), float32(len(req.Input[i]))},
			Index:     i,
		})
	}
	resp.Usage.PromptTokens = 4 * len(req.Input)
	resp.Usage.TotalTokens = 4 * len(req.Input)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestClient(t *testing.T, p *provider) *Client {
	t.Helper()
	p.t = t
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	return New(Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "text-embedding-3-small", Dimensions: 2})
}

func TestEmbed(t *testing.T) {
	p := &provider{}
	c := newTestClient(t, p)

	res, err := c.Embed(context.Background(), "Elizabeth")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Vector) != 2 || res.Vector[1] != 9 {
		t.Errorf("unexpected vector %v", res.Vector)
	}
	if res.Tokens != 4 {
		t.Errorf("expected 4 tokens, got %d", res.Tokens)
	}
	if len(p.requests) != 1 || p.requests[0].Model != "text-embedding-3-small" || p.requests[0].Dimensions != 2 {
		t.Errorf("unexpected requests %+v", p.requests)
	}
}

func TestEmbedBatch_InputOrder(t *testing.T) {
	p := &provider{}
	c := newTestClient(t, p)
	tokens := metrics.EmbeddingTokensTotal.WithLabelValues("text-embedding-3-small")
	before := testutil.ToFloat64(tokens)

	texts := []string{"a", "bb", "ccc"}
	res, err := c.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.requests) != 1 {
		t.Fatalf("expected one request, got %d", len(p.requests))
	}
	for i, v := range res.Vectors {
		if v[0] != float32(i) || v[1] != float32(len(texts[i])) {
			t.Errorf("vector %d out of order: %v", i, v)
		}
	}
	if got := testutil.ToFloat64(tokens) - before; got != 12 {
		t.Errorf("expected 12 tokens recorded, got %v", got)
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	p := &provider{}
	c := newTestClient(t, p)

	res, err := c.EmbedBatch(context.Background(), nil)
	if err != nil || len(res.Vectors) != 0 {
		t.Fatalf("expected empty result, got %+v, %v", res, err)
	}
	if len(p.requests) != 0 {
		t.Error("no request expected for empty input")
	}
}

func TestEmbedBatch_MissingVector(t *testing.T) {
	p := &provider{reply: func(w http.ResponseWriter, req embeddingsRequest) bool {
		_ = json.NewEncoder(w).Encode(embeddingsResponse{
			Object: "list",
			Data:   []embeddingItem{{Object: "embedding", Embedding: []float32{1}, Index: 0}},
		})
		return true
	}}
	c := newTestClient(t, p)

	_, err := c.EmbedBatch(context.Background(), []string{"x", "y"})
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if !strings.Contains(err.Error(), "no embedding for input 1") {
		t.Errorf("unexpected message %q", err)
	}
}

func TestEmbedBatch_DuplicateIndex(t *testing.T) {
	p := &provider{reply: func(w http.ResponseWriter, req embeddingsRequest) bool {
		_ = json.NewEncoder(w).Encode(embeddingsResponse{
			Object: "list",
			Data: []embeddingItem{
				{Object: "embedding", Embedding: []float32{1}, Index: 0},
				{Object: "embedding", Embedding: []float32{2}, Index: 0},
			},
		})
		return true
	}}
	c := newTestClient(t, p)

	_, err := c.EmbedBatch(context.Background(), []string{"x", "y"})
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestEmbed_ProviderErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"openai error", http.StatusBadRequest, `{"error":{"message":"model not found","type":"invalid_request_error"}}`, "model not found"},
		{"detail body", http.StatusUnprocessableEntity, `{"detail":"input too long"}`, "input too long"},
		{"plain body", http.StatusBadGateway, `upstream down`, "502"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &provider{reply: func(w http.ResponseWriter, _ embeddingsRequest) bool {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
				return true
			}}
			c := newTestClient(t, p)
			errorsCounter := metrics.EmbeddingRequestsTotal.WithLabelValues("text-embedding-3-small", "error")
			before := testutil.ToFloat64(errorsCounter)

			_, err := c.Embed(context.Background(), "x")
			if !errors.Is(err, domain.ErrEmbeddingProviderError) {
				t.Fatalf("expected provider error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected %q in %q", tt.want, err)
			}
			if testutil.ToFloat64(errorsCounter)-before != 1 {
				t.Error("expected the error to be counted")
			}
		})
	}
}

func TestEmbed_ContextCanceled(t *testing.T) {
	c := newTestClient(t, &provider{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Embed(ctx, "x")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in chain, got %v", err)
	}
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Errorf("expected provider error in chain, got %v", err)
	}
}

func TestPing(t *testing.T) {
	c := newTestClient(t, &provider{})
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	down := New(Config{APIKey: "sk-test", BaseURL: "http://127.0.0.1:1", Model: "m"})
	if err := down.Ping(context.Background()); err == nil {
		t.Error("expected error for unreachable provider")
	}
}

func TestBodyMessage_Truncates(t *testing.T) {
	got := bodyMessage([]byte(strings.Repeat("x", 500)))
	if len(got) != 203 || !strings.HasSuffix(got, "...") {
		t.Errorf("unexpected truncation: %d chars", len(got))
	}
}
