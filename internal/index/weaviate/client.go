package weaviate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

const batchSuccess = "SUCCESS"

// Config is the Weaviate connection.
type Config struct {
	URL    string
	APIKey string
}

// backend is the subset of the Weaviate API the index uses.
type backend interface {
	ClassExists(ctx context.Context, class string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	DeleteClass(ctx context.Context, class string) error
	BatchObjects(ctx context.Context, objects []*models.Object) error
	NearVector(ctx context.Context, class string, vector []float32, limit int) ([]hit, error)
	Ready(ctx context.Context) error
}

// hit is one nearVector result row.
type hit struct {
	Content    string `json:"content"`
	Additional struct {
		Distance float64 `json:"distance"`
	} `json:"_additional"`
}

type sdkBackend struct {
	client *weaviate.Client
}

// newSDKBackend builds a client from a URL such as http://localhost:8080.
func newSDKBackend(cfg Config) (*sdkBackend, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", cfg.URL)
	}
	wcfg := weaviate.Config{Host: u.Host, Scheme: u.Scheme}
	if cfg.APIKey != "" {
		wcfg.Headers = map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	}
	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &sdkBackend{client: client}, nil
}

func (b *sdkBackend) Ready(ctx context.Context) error {
	ok, err := b.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate ready check: %w", err)
	}
	if !ok {
		return fmt.Errorf("weaviate not ready")
	}
	return nil
}

func (b *sdkBackend) ClassExists(ctx context.Context, class string) (bool, error) {
	ok, err := b.client.Schema().ClassExistenceChecker().WithClassName(class).Do(ctx)
	if err != nil {
		return false, fmt.Errorf("check class %s: %w", class, err)
	}
	return ok, nil
}

func (b *sdkBackend) CreateClass(ctx context.Context, class *models.Class) error {
	if err := b.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", class.Class, err)
	}
	return nil
}

func (b *sdkBackend) DeleteClass(ctx context.Context, class string) error {
	if err := b.client.Schema().ClassDeleter().WithClassName(class).Do(ctx); err != nil {
		return fmt.Errorf("delete class %s: %w", class, err)
	}
	return nil
}

func (b *sdkBackend) BatchObjects(ctx context.Context, objects []*models.Object) error {
	resp, err := b.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("batch import: %w", err)
	}

	var failed []string
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == batchSuccess {
			continue
		}
		if item.Result != nil && item.Result.Errors != nil {
			for _, e := range item.Result.Errors.Error {
				failed = append(failed, e.Message)
			}
			continue
		}
		failed = append(failed, fmt.Sprintf("object %s: no status", item.ID))
	}
	if len(failed) > 0 {
		return fmt.Errorf("batch import: %d of %d objects failed: %s",
			len(failed), len(objects), strings.Join(failed, "; "))
	}
	return nil
}

func (b *sdkBackend) NearVector(ctx context.Context, class string, vector []float32, limit int) ([]hit, error) {
	nearVector := b.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	fields := []graphql.Field{
		{Name: propContent},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	resp, err := b.client.GraphQL().Get().
		WithClassName(class).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("near vector %s: %w", class, err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("near vector %s: %s", class, resp.Errors[0].Message)
	}
	return parseHits(resp, class)
}

func parseHits(resp *models.GraphQLResponse, class string) ([]hit, error) {
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql data: %w", err)
	}
	var parsed struct {
		Get map[string][]hit `json:"Get"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal graphql data: %w", err)
	}
	return parsed.Get[class], nil
}
