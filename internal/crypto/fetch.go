package crypto

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// FetcherConfig configures remote file access.
type FetcherConfig struct {
	MaxBytes           int64
	Timeout            time.Duration
	IPFSGateway        string
	GCSCredentialsFile string
}

// Fetcher downloads encrypted files over http(s), gs:// and ipfs://.
type Fetcher struct {
	http     *http.Client
	gcs      *storage.Client
	gateway  string
	maxBytes int64
}

// NewFetcher creates a fetcher. The GCS client is created only when a credentials file is configured.
func NewFetcher(ctx context.Context, cfg FetcherConfig) (*Fetcher, error) {
	f := &Fetcher{
		http:     &http.Client{Timeout: cfg.Timeout},
		gateway:  strings.TrimSuffix(cfg.IPFSGateway, "/") + "/",
		maxBytes: cfg.MaxBytes,
	}
	if cfg.GCSCredentialsFile != "" {
		gcs, err := storage.NewClient(ctx, option.WithCredentialsFile(cfg.GCSCredentialsFile))
		if err != nil {
			return nil, fmt.Errorf("create GCS storage client: %w", err)
		}
		f.gcs = gcs
	}
	return f, nil
}

// Close releases the GCS client.
func (f *Fetcher) Close() error {
	if f.gcs != nil {
		return f.gcs.Close()
	}
	return nil
}

// Fetch returns the file body, refusing anything larger than the configured limit.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse file url: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		return f.fetchHTTP(ctx, u.String())
	case "ipfs":
		cid := strings.TrimPrefix(u.Host+u.Path, "ipfs/")
		return f.fetchHTTP(ctx, f.gateway+cid)
	case "gs":
		return f.fetchGCS(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
	default:
		return nil, fmt.Errorf("unsupported file url scheme %q", u.Scheme)
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch file: status %d", resp.StatusCode)
	}
	return f.readLimited(resp.Body)
}

func (f *Fetcher) fetchGCS(ctx context.Context, bucket, object string) ([]byte, error) {
	if f.gcs == nil {
		return nil, fmt.Errorf("gs:// url requires crypto.gcs_credentials_file")
	}
	r, err := f.gcs.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", bucket, object, err)
	}
	defer r.Close()
	return f.readLimited(r)
}

func (f *Fetcher) readLimited(r io.Reader) ([]byte, error) {
	if f.maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("file exceeds %d bytes", f.maxBytes)
	}
	return data, nil
}
