package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Index drivers.
const (
	IndexDriverRedis    = "redis"
	IndexDriverWeaviate = "weaviate"
)

// Config holds the query node configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Database    DatabaseConfig    `yaml:"database"`
	Index       IndexConfig       `yaml:"index"`
	Weaviate    WeaviateConfig    `yaml:"weaviate"`
	Registry    RegistryConfig    `yaml:"registry"`
	Crypto      CryptoConfig      `yaml:"crypto"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Materialize MaterializeConfig `yaml:"materialize"`
	Settlement  SettlementConfig  `yaml:"settlement"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Exporter string `yaml:"exporter"` // none, stdout
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	ShutdownSec     int    `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds Redis connection settings (vector index, caches, counters).
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// IndexConfig holds vector index and search settings.
type IndexConfig struct {
	Driver             string `yaml:"driver"` // redis, weaviate (default: redis)
	HNSWM              int    `yaml:"hnsw_m"`
	HNSWEFConstruct    int    `yaml:"hnsw_ef_construction"`
	DefaultSearchLimit int    `yaml:"default_search_limit"`
	MaxSearchLimit     int    `yaml:"max_search_limit"`
}

// WeaviateConfig holds the alternative vector index connection.
type WeaviateConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// RegistryConfig holds the file registry (Postgres) settings.
type RegistryConfig struct {
	DSN                 string `yaml:"dsn"`
	DataRegistryAddress string `yaml:"data_registry_address"`
	MaxConns            int32  `yaml:"max_conns"`
}

// CryptoConfig holds file decryption settings.
type CryptoConfig struct {
	RSAPrivateKeyBase64 string `yaml:"rsa_private_key_base64"`
	MaxFileBytes        int64  `yaml:"max_file_bytes"`
	FetchTimeoutSec     int    `yaml:"fetch_timeout_sec"`
	IPFSGateway         string `yaml:"ipfs_gateway"`
	GCSCredentialsFile  string `yaml:"gcs_credentials_file"`
}

// ChunkingConfig holds text splitting settings.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// BudgetConfig holds token budget settings.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider            string       `yaml:"provider"`
	APIKey              string       `yaml:"api_key"`
	BaseURL             string       `yaml:"base_url"`
	Model               string       `yaml:"model"`
	Dimensions          int          `yaml:"dimensions"`
	DocumentInstruction string       `yaml:"document_instruction"`
	QueryInstruction    string       `yaml:"query_instruction"`
	CacheTTLHours       int          `yaml:"cache_ttl_hours"`
	Budget              BudgetConfig `yaml:"budget"`
}

// MaterializeConfig holds collection build settings.
type MaterializeConfig struct {
	Workers   int `yaml:"workers"`
	BatchSize int `yaml:"batch_size"`
}

// SettlementConfig holds pay-per-query settings.
type SettlementConfig struct {
	Enabled           bool   `yaml:"enabled"`
	PricePerQuery     int64  `yaml:"price_per_query"`
	DailyQueryLimit   int64  `yaml:"daily_query_limit"`   // 0 = unlimited
	MonthlyQueryLimit int64  `yaml:"monthly_query_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" (default) | "warn"
	NonceTTLSec       int    `yaml:"nonce_ttl_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse expands env variables in raw YAML, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Host == "" {
		c.HTTP.Host = "127.0.0.1"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8000
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Index.Driver == "" {
		c.Index.Driver = IndexDriverRedis
	}
	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 16
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 200
	}
	if c.Index.DefaultSearchLimit <= 0 {
		c.Index.DefaultSearchLimit = 3
	}
	if c.Index.MaxSearchLimit <= 0 {
		c.Index.MaxSearchLimit = 100
	}
	if c.Registry.MaxConns <= 0 {
		c.Registry.MaxConns = 8
	}
	if c.Crypto.MaxFileBytes <= 0 {
		c.Crypto.MaxFileBytes = 64 << 20
	}
	if c.Crypto.FetchTimeoutSec <= 0 {
		c.Crypto.FetchTimeoutSec = 60
	}
	if c.Crypto.IPFSGateway == "" {
		c.Crypto.IPFSGateway = "https://gateway.pinata.cloud/ipfs/"
	}
	if c.Chunking.Size <= 0 {
		c.Chunking.Size = 1000
	}
	if c.Chunking.Overlap <= 0 {
		c.Chunking.Overlap = 100
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 1024
	}
	if c.Embedding.CacheTTLHours <= 0 {
		c.Embedding.CacheTTLHours = 24 * 7
	}
	if c.Materialize.Workers <= 0 {
		c.Materialize.Workers = 4
	}
	if c.Materialize.BatchSize <= 0 {
		c.Materialize.BatchSize = 64
	}
	if c.Settlement.Action == "" {
		c.Settlement.Action = "reject"
	}
	if c.Settlement.NonceTTLSec <= 0 {
		c.Settlement.NonceTTLSec = 3600
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "none"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	switch c.Index.Driver {
	case IndexDriverRedis:
	case IndexDriverWeaviate:
		if c.Weaviate.URL == "" {
			return fmt.Errorf("weaviate.url is required for index.driver %q", IndexDriverWeaviate)
		}
	default:
		return fmt.Errorf("index.driver must be %q or %q, got %q", IndexDriverRedis, IndexDriverWeaviate, c.Index.Driver)
	}
	if c.Index.DefaultSearchLimit > c.Index.MaxSearchLimit {
		return fmt.Errorf("index.default_search_limit (%d) exceeds index.max_search_limit (%d)",
			c.Index.DefaultSearchLimit, c.Index.MaxSearchLimit)
	}
	if c.Registry.DSN == "" {
		return fmt.Errorf("registry.dsn is required")
	}
	if c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap (%d) must be smaller than chunking.size (%d)",
			c.Chunking.Overlap, c.Chunking.Size)
	}
	if err := validateAction("embedding.budget.action", c.Embedding.Budget.Action); err != nil {
		return err
	}
	if err := validateAction("settlement.action", c.Settlement.Action); err != nil {
		return err
	}
	if c.Settlement.PricePerQuery < 0 {
		return fmt.Errorf("settlement.price_per_query must not be negative")
	}
	switch c.Tracing.Exporter {
	case "none", "stdout":
	default:
		return fmt.Errorf("tracing.exporter must be \"none\" or \"stdout\", got %q", c.Tracing.Exporter)
	}
	return nil
}

func validateAction(path, action string) error {
	switch action {
	case "", "warn", "reject":
		return nil
	default:
		return fmt.Errorf("%s must be \"warn\" or \"reject\", got %q", path, action)
	}
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
