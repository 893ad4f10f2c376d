// Package main wires together the content pipeline service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/storechat/content-pipeline/internal/api"
	"github.com/storechat/content-pipeline/internal/archive"
	archivegcs "github.com/storechat/content-pipeline/internal/archive/gcs"
	archivelocal "github.com/storechat/content-pipeline/internal/archive/local"
	"github.com/storechat/content-pipeline/internal/cache"
	"github.com/storechat/content-pipeline/internal/chunk"
	"github.com/storechat/content-pipeline/internal/clock/system"
	"github.com/storechat/content-pipeline/internal/concurrency"
	"github.com/storechat/content-pipeline/internal/config"
	"github.com/storechat/content-pipeline/internal/dedup"
	"github.com/storechat/content-pipeline/internal/embed"
	"github.com/storechat/content-pipeline/internal/extract"
	collyfetcher "github.com/storechat/content-pipeline/internal/fetcher/colly"
	"github.com/storechat/content-pipeline/internal/fetcher/detector"
	headlessfetcher "github.com/storechat/content-pipeline/internal/fetcher/headless"
	"github.com/storechat/content-pipeline/internal/id/uuid"
	"github.com/storechat/content-pipeline/internal/logging"
	"github.com/storechat/content-pipeline/internal/orchestrator"
	"github.com/storechat/content-pipeline/internal/pipeline"
	memorypublisher "github.com/storechat/content-pipeline/internal/publisher/memory"
	pubsubpublisher "github.com/storechat/content-pipeline/internal/publisher/pubsub"
	queuememory "github.com/storechat/content-pipeline/internal/queue/memory"
	"github.com/storechat/content-pipeline/internal/ratelimit"
	"github.com/storechat/content-pipeline/internal/retrieval"
	storememory "github.com/storechat/content-pipeline/internal/store/memory"
	storepostgres "github.com/storechat/content-pipeline/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()
	queue := queuememory.NewQueue(cfg.Crawler.QueueDepth)

	jobs, pages, dedupStore, vectors, closeStores, err := buildStores(ctx, cfg)
	if err != nil {
		logger.Error("store init failed", zap.Error(err))
		return
	}
	defer closeStores()

	blobStore, err := buildBlobStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("blob store init failed", zap.Error(err))
		return
	}
	archiver := archive.New(blobStore, cfg.Storage.Prefix, cfg.Storage.ContentType)

	cacheLayer, err := buildCache(ctx, cfg, logger)
	if err != nil {
		logger.Error("cache init failed", zap.Error(err))
		return
	}

	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})
	var headless pipeline.Fetcher
	if cfg.Headless.Enabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			headless = hf
			defer hf.Close()
		}
	}

	publisher, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Error("publisher init failed", zap.Error(err))
		return
	}

	embedder := embed.NewOpenAIEmbedder(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimension)
	processor := embed.NewProcessor(embedder, vectors, embed.Config{
		BatchSize:  cfg.Embedding.BatchSize,
		MaxRetries: cfg.Embedding.MaxRetries,
		QueueDepth: cfg.Embedding.QueueDepth,
	}, nil, logger.Named("embed"))

	splitter, err := chunk.NewSplitter(cfg.Chunking.TargetTokens, cfg.Chunking.OverlapTokens)
	if err != nil {
		logger.Error("splitter init failed", zap.Error(err))
		return
	}

	controller := concurrency.New(concurrency.Config{
		Min:             cfg.Concurrency.Min,
		Max:             cfg.Concurrency.Max,
		Step:            cfg.Concurrency.Step,
		LowWatermarkMB:  cfg.Concurrency.LowWatermarkMB,
		HighWatermarkMB: cfg.Concurrency.HighWatermarkMB,
	}, logger.Named("concurrency"))

	orch, err := orchestrator.New(orchestrator.Config{
		DefaultMaxPages: cfg.Crawler.MaxPagesDefault,
		Topic:           cfg.PubSub.TopicName,
		Retry: orchestrator.RetryPolicy{
			MaxRetries: cfg.Crawler.MaxRetries,
			Initial:    time.Duration(cfg.Crawler.BackoffInitialMs) * time.Millisecond,
			Max:        time.Duration(cfg.Crawler.BackoffMaxMs) * time.Millisecond,
		},
	}, orchestrator.Deps{
		Queue:      queue,
		Jobs:       jobs,
		Pages:      pages,
		Vectors:    vectors,
		Dedup:      dedup.New(dedupStore, clock, logger.Named("dedup")),
		Splitter:   splitter,
		Embedder:   processor,
		Extractor:  extract.New(extract.Config{MinWordCount: cfg.Extraction.MinWordCount}, logger.Named("extract")),
		Probe:      probe,
		Headless:   headless,
		Detector:   detector.NewHeuristic(cfg.Headless.PromoteThresh),
		Discover:   probe.DiscoverSitemap,
		Controller: controller,
		Limiter:    ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Crawler.DomainRPS}),
		Archiver:   archiver,
		Publisher:  publisher,
		Clock:      clock,
		IDs:        idGen,
		Logger:     logger.Named("orchestrator"),
	})
	if err != nil {
		logger.Error("orchestrator init failed", zap.Error(err))
		return
	}

	sampler := concurrency.NewSampler(controller, orch.SuccessRate, 5*time.Second, logger.Named("sampler"))

	retrievalSvc, err := retrieval.New(embedder, vectors, cacheLayer, clock, retrieval.Config{}, logger.Named("retrieval"))
	if err != nil {
		logger.Error("retrieval init failed", zap.Error(err))
		return
	}

	apiServer := api.NewServer(orch, retrievalSvc, cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("orchestrator started")
		orch.Run(ctx)
	}()
	go func() {
		logger.Info("embed processor started")
		processor.Run(ctx)
	}()
	go sampler.Run(ctx)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	<-processor.Done()
	logger.Info("shutdown complete")
}

// buildStores selects Postgres persistence when a DSN is configured,
// otherwise in-memory stores for local development.
func buildStores(ctx context.Context, cfg config.Config) (
	pipeline.JobStore, pipeline.PageStore, pipeline.DedupStore, pipeline.VectorStore, func(), error,
) {
	if cfg.DB.DSN == "" {
		return storememory.NewJobStore(), storememory.NewPageStore(),
			storememory.NewDedupStore(), storememory.NewVectorStore(), func() {}, nil
	}
	pool, err := storepostgres.NewPool(ctx, storepostgres.PoolConfig{DSN: cfg.DB.DSN})
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	if err := storepostgres.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, nil, nil, err
	}
	jobs, err := storepostgres.NewJobStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, nil, err
	}
	pages, err := storepostgres.NewPageStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, nil, err
	}
	dedupStore, err := storepostgres.NewDedupStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, nil, err
	}
	vectors, err := storepostgres.NewVectorStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, nil, err
	}
	return jobs, pages, dedupStore, vectors, pool.Close, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return archivegcs.New(client, archivegcs.Config{Bucket: cfg.Storage.GCSBucket})
	case "local":
		return archivelocal.New(archivelocal.Config{BaseDir: cfg.Storage.LocalDir})
	case "none", "":
		logger.Info("page archival disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}

// buildPublisher emits job lifecycle events to Pub/Sub when a project is
// configured; otherwise events stay in memory for inspection.
func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.Publisher, error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		logger.Info("pubsub not configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	return pubsubpublisher.New(client.Topic(cfg.PubSub.TopicName)), nil
}

func buildCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (*cache.Layer, error) {
	backend, err := cache.SelectBackend(ctx, cfg.Cache.Backend, cfg.Cache.RedisAddr, cfg.Cache.MaxEntries, logger.Named("cache"))
	if err != nil {
		return nil, err
	}
	return cache.NewLayer(backend, cache.Config{
		Namespace: cfg.Cache.Namespace,
		Version:   cfg.Cache.Version,
		TTL:       cfg.CacheTTL(),
		OpTimeout: time.Duration(cfg.Cache.OpTimeoutMs) * time.Millisecond,
	}, logger.Named("cache")), nil
}
