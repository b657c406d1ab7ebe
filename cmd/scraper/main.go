// Package main wires together the scraping engine service.
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

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/newsloom/scraper/internal/api"
	"github.com/newsloom/scraper/internal/clock/system"
	"github.com/newsloom/scraper/internal/config"
	"github.com/newsloom/scraper/internal/dispatcher"
	"github.com/newsloom/scraper/internal/engine"
	"github.com/newsloom/scraper/internal/events"
	"github.com/newsloom/scraper/internal/extract"
	"github.com/newsloom/scraper/internal/feed"
	collyfetch "github.com/newsloom/scraper/internal/fetch/colly"
	"github.com/newsloom/scraper/internal/hash/sha256"
	"github.com/newsloom/scraper/internal/id/uuid"
	"github.com/newsloom/scraper/internal/logging"
	"github.com/newsloom/scraper/internal/metrics"
	"github.com/newsloom/scraper/internal/persist"
	memorypublisher "github.com/newsloom/scraper/internal/publisher/memory"
	pubsubpublisher "github.com/newsloom/scraper/internal/publisher/pubsub"
	"github.com/newsloom/scraper/internal/storage/gcs"
	memorystorage "github.com/newsloom/scraper/internal/storage/memory"
	"github.com/newsloom/scraper/internal/storage/postgres"
	"github.com/newsloom/scraper/internal/verify"
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

	metrics.Init()

	var (
		jobStore     engine.JobStore
		articleStore engine.ArticleStore
		eventLog     events.Log
	)
	if cfg.DB.DSN != "" {
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		defer pool.Close()
		jobStore = postgres.NewJobStore(pool)
		articleStore = postgres.NewArticleStore(pool)
		eventLog = postgres.NewEventLog(pool)
		logger.Info("using postgres storage")
	} else {
		jobStore = memorystorage.NewJobStore()
		articleStore = memorystorage.NewArticleStore()
		eventLog = memorystorage.NewEventLog()
		logger.Info("using in-memory storage")
	}

	var blobStore engine.BlobStore
	if cfg.Storage.GCSBucket != "" {
		gcsClient, err := gcstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("gcs client init failed", zap.Error(err))
		}
		defer gcsClient.Close() //nolint:errcheck // best-effort close
		blobStore, err = gcs.New(gcsClient, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			logger.Fatal("gcs blob store init failed", zap.Error(err))
		}
	} else {
		blobStore = memorystorage.NewBlobStore()
	}

	var publisher engine.Publisher
	if cfg.PubSub.ProjectID != "" {
		psClient, err := gcpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub client init failed", zap.Error(err))
		}
		defer psClient.Close() //nolint:errcheck // best-effort close
		psPublisher := pubsubpublisher.New(psClient)
		defer psPublisher.Close()
		publisher = psPublisher
	} else {
		publisher = memorypublisher.NewPublisher()
	}

	hasher := sha256.New()
	clock := system.New()
	idGen := uuid.New()
	registry := config.NewRegistry(cfg.Sources)

	fetcher := collyfetch.New(collyfetch.Config{
		UserAgent:    cfg.HTTP.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	})
	feeds := feed.NewLister(fetcher, logger.Named("feed"))
	extractor := extract.New(extract.Config{
		MinContentLength: cfg.Extract.MinContentLength,
		PageTextCap:      cfg.Extract.PageTextCap,
		FilterMinLength:  cfg.Extract.FilterMinLength,
	}, nil)

	worker := engine.NewCrawlWorker(
		fetcher,
		extractor,
		blobStore,
		eventLog,
		clock,
		engine.NewExponentialRetryPolicy(cfg.HTTP.MaxRetries+1),
		engine.WorkerConfig{
			FetchConcurrency: cfg.Engine.FetchConcurrency,
			BlobPrefix:       cfg.Storage.Prefix,
			ContentType:      cfg.Storage.ContentType,
		},
		logger.Named("worker"),
	)
	persister := persist.New(
		articleStore,
		publisher,
		eventLog,
		hasher,
		idGen,
		clock,
		persist.Config{Topic: cfg.PubSub.TopicName},
		logger.Named("persist"),
	)
	verifier := verify.New(articleStore, eventLog, clock, logger.Named("verify"))

	orchestrator := engine.NewOrchestrator(
		registry,
		feeds,
		worker,
		persister,
		verifier,
		jobStore,
		eventLog,
		idGen,
		clock,
		engine.OrchestratorConfig{
			MaxArticlesPerSource:   cfg.Engine.MaxArticlesPerSource,
			DefaultCandidateMargin: cfg.Engine.DefaultCandidateMargin,
			SourceTimeout:          cfg.SourceTimeout(),
		},
		logger.Named("orchestrator"),
	)

	dispatch := dispatcher.New(orchestrator, dispatcher.Config{
		Workers:    cfg.Engine.Dispatchers,
		QueueDepth: cfg.Engine.JobQueueDepth,
	}, logger.Named("dispatcher"))

	apiServer := api.NewServer(orchestrator, dispatch, jobStore, eventLog, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Engine.Dispatchers))
		dispatch.Run(ctx)
	}()

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
	logger.Info("shutdown complete")
}
