package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/joho/godotenv"
	"github.com/panjf2000/ants/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/querynode/internal/chunk"
	"github.com/kailas-cloud/querynode/internal/config"
	"github.com/kailas-cloud/querynode/internal/crypto"
	dbRedis "github.com/kailas-cloud/querynode/internal/db/redis"
	"github.com/kailas-cloud/querynode/internal/domain"
	logpkg "github.com/kailas-cloud/querynode/internal/logger"
	"github.com/kailas-cloud/querynode/internal/metrics"
	"github.com/kailas-cloud/querynode/internal/registry/postgres"
	noncerepo "github.com/kailas-cloud/querynode/internal/repository/nonce"
	quotarepo "github.com/kailas-cloud/querynode/internal/repository/quota"
	"github.com/kailas-cloud/querynode/internal/tracing"
	chiTransport "github.com/kailas-cloud/querynode/internal/transport/chi"
	billinguc "github.com/kailas-cloud/querynode/internal/usecase/billing"
	healthuc "github.com/kailas-cloud/querynode/internal/usecase/health"
	materializeuc "github.com/kailas-cloud/querynode/internal/usecase/materialize"
	queryuc "github.com/kailas-cloud/querynode/internal/usecase/query"
	"github.com/kailas-cloud/querynode/internal/usecase/quota"
	searchuc "github.com/kailas-cloud/querynode/internal/usecase/search"
	"github.com/kailas-cloud/querynode/internal/version"
)

type flags struct {
	env        string
	host       string
	port       int
	model      string
	settlement bool
}

func main() {
	// .env first so ENV and ${VAR} expansion see it
	_ = godotenv.Load(".env")

	var f flags
	root := &cobra.Command{
		Use:   "querynode",
		Short: "Privacy data query node",
		Long: `Serves retrieval queries over encrypted data files: fetches and decrypts a granted file,
indexes it once per content hash and answers semantic queries against it.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(f.env)
			if err != nil {
				return err
			}
			applyFlags(cmd, f, &cfg)
			return run(f.env, cfg)
		},
	}
	root.Flags().StringVar(&f.env, "env", config.GetEnv(), "Config environment (config/<env>.yaml)")
	root.Flags().StringVar(&f.host, "host", "127.0.0.1", "Server host")
	root.Flags().IntVar(&f.port, "port", 8000, "Server port")
	root.Flags().StringVar(&f.model, "model", "", "Embedding model name, overrides embedding.model")
	root.Flags().BoolVar(&f.settlement, "settlement", false, "Enable pay-per-query settlement")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "querynode:", err)
		os.Exit(1)
	}
}

// applyFlags lets explicitly set flags win over the config file.
func applyFlags(cmd *cobra.Command, f flags, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.HTTP.Host = f.host
	}
	if cmd.Flags().Changed("port") {
		cfg.HTTP.Port = f.port
	}
	if f.model != "" {
		cfg.Embedding.Model = f.model
	}
	if f.settlement {
		cfg.Settlement.Enabled = true
	}
}

func run(env string, cfg config.Config) error {
	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	defer memguard.Purge()

	logger.Info("Starting query node",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.String("host", cfg.HTTP.Host),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("index_driver", cfg.Index.Driver),
		zap.Bool("settlement", cfg.Settlement.Enabled),
	)

	ctx := context.Background()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    logpkg.ServiceName,
		ServiceVersion: version.Version,
		Environment:    env,
		Exporter:       cfg.Tracing.Exporter,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	metrics.Register()

	// Redis: vector index (redis driver), embedding cache, quota counters, nonces
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		return fmt.Errorf("create redis store: %w", err)
	}
	defer store.Close()

	redisUp, err := waitForRedis(ctx, store,
		time.Duration(cfg.Database.ReadinessTimeout)*time.Second, cfg.Settlement.Enabled, logger)
	if err != nil {
		return err
	}

	registry, err := postgres.New(ctx, postgres.Config{DSN: cfg.Registry.DSN, MaxConns: cfg.Registry.MaxConns})
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer registry.Close()
	if err := registry.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate registry: %w", err)
	}
	logger.Info("Connected to registry")

	key, err := crypto.NewSealedKey(cfg.Crypto.RSAPrivateKeyBase64)
	if err != nil {
		return fmt.Errorf("load node decryption key: %w", err)
	}
	fetcher, err := crypto.NewFetcher(ctx, crypto.FetcherConfig{
		MaxBytes:           cfg.Crypto.MaxFileBytes,
		Timeout:            time.Duration(cfg.Crypto.FetchTimeoutSec) * time.Second,
		IPFSGateway:        cfg.Crypto.IPFSGateway,
		GCSCredentialsFile: cfg.Crypto.GCSCredentialsFile,
	})
	if err != nil {
		return fmt.Errorf("create file fetcher: %w", err)
	}
	defer func() { _ = fetcher.Close() }()
	decryptor := crypto.NewDecryptor(key, fetcher)

	counters := quotarepo.New(store, 48*time.Hour, 62*24*time.Hour)

	docEmbedder, queryEmbedder, provider := buildEmbedders(ctx, cfg.Embedding, store, counters, logger)
	logger.Info("Embedders created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	pool, err := ants.NewPool(cfg.Materialize.Workers)
	if err != nil {
		return fmt.Errorf("create embedding pool: %w", err)
	}
	defer pool.Release()

	index := buildIndex(ctx, cfg, store, redisUp, docEmbedder, queryEmbedder, pool, logger)

	// Pass nil interfaces (not typed nil pointers) when the index is unavailable.
	var (
		materializer queryuc.Materializer
		searcher     queryuc.Searcher
		indexPinger  healthuc.Pinger
	)
	if index != nil {
		materializer = materializeuc.New(index, registry, decryptor,
			chunk.New(cfg.Chunking.Size, cfg.Chunking.Overlap), cfg.Registry.DataRegistryAddress)
		searcher = searchuc.New(index).WithLimits(cfg.Index.DefaultSearchLimit, cfg.Index.MaxSearchLimit)
		indexPinger = index
	}
	querySvc := queryuc.New(registry, materializer, searcher)

	healthSvc := healthuc.New(map[string]healthuc.Pinger{
		"index":     indexPinger,
		"registry":  registry,
		"cache":     store,
		"embedding": provider,
	})

	var biller chiTransport.Biller
	if cfg.Settlement.Enabled {
		quotas := quota.NewSet("query", quota.Limits{
			Daily:   cfg.Settlement.DailyQueryLimit,
			Monthly: cfg.Settlement.MonthlyQueryLimit,
			Action:  quota.Action(cfg.Settlement.Action),
		}, domain.ErrQueryQuotaExceeded, counters, logger)
		nonces := noncerepo.New(store, time.Duration(cfg.Settlement.NonceTTLSec)*time.Second)
		biller = billinguc.New(registry, nonces, quotas, cfg.Settlement.PricePerQuery, os.Getenv("PRIVATE_KEY"), logger)
	}

	server := chiTransport.NewServer(querySvc, healthSvc, logger)
	handler := chiTransport.NewRouter(server, biller, logger)

	addr := net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port))
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-quit:
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
	return nil
}
