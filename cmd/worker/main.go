/**
 * Document Intelligence Worker - Main Entry Point
 *
 * Go worker for Arabic document analysis.
 *
 * Architecture:
 * - Asynq consumer for the Redis-backed task queue (document:analyze, document:batch)
 * - OCR orchestration over Document AI, Azure Read and local Tesseract
 * - Arabic text enhancement, document classification and quality assessment
 * - PostgreSQL persistence with a Qdrant near-duplicate index
 * - Redis result cache keyed by content hash
 * - Gin operations API for submission, health and review
 *
 * Engine preference order:
 * 1. Google Document AI (when a processor is configured)
 * 2. Azure Document Intelligence Read (when an endpoint is configured)
 * 3. Tesseract (local, always registered)
 */

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/adverant/nexus/docintel-worker/internal/cache"
	"github.com/adverant/nexus/docintel-worker/internal/classifier"
	"github.com/adverant/nexus/docintel-worker/internal/config"
	"github.com/adverant/nexus/docintel-worker/internal/httpserver"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
	"github.com/adverant/nexus/docintel-worker/internal/ocr"
	"github.com/adverant/nexus/docintel-worker/internal/pipeline"
	"github.com/adverant/nexus/docintel-worker/internal/queue"
	"github.com/adverant/nexus/docintel-worker/internal/source"
	"github.com/adverant/nexus/docintel-worker/internal/storage"
)

func main() {
	logger := logging.NewLogger("Worker")

	// Load environment variables
	if err := godotenv.Load(".env.docintel"); err != nil {
		logger.Warn(".env.docintel not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if cfg.NodeEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("Document Intelligence Worker starting...",
		"queue", cfg.QueueName,
		"workers", cfg.WorkerConcurrency,
		"storage", cfg.DatabaseURL != "",
		"similarityIndex", cfg.QdrantURL != "",
		"cache", cfg.CacheEnabled)

	ctx := context.Background()

	// OCR engines in preference order
	orchestrator := ocr.NewOrchestrator(ocr.OrchestratorConfig{
		Engines:        buildEngines(cfg, logger),
		BatchChunkSize: cfg.BatchChunkSize,
		Logger:         logging.NewLogger("OCROrchestrator"),
	})

	cls, err := buildClassifier(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load classifier catalog")
	}

	checks := map[string]httpserver.Pinger{}
	deps := httpserver.Dependencies{
		Engines:            orchestrator,
		Classifier:         cls,
		Checks:             checks,
		MaxRequestBodySize: cfg.MaxFileSize,
		Logger:             logging.NewLogger("HTTPServer"),
	}
	analyzerCfg := pipeline.AnalyzerConfig{
		Orchestrator: orchestrator,
		Classifier:   cls,
		MaxFileSize:  cfg.MaxFileSize,
		Logger:       logging.NewLogger("Analyzer"),
	}

	// Storage is optional; without it records only live in the cache and task results
	var storageManager *storage.StorageManager
	if cfg.DatabaseURL != "" {
		logger.Info("Connecting to storage (PostgreSQL + Qdrant)...")
		storageManager, err = storage.NewStorageManager(ctx, storage.StorageConfig{
			DatabaseURL:      cfg.DatabaseURL,
			QdrantAddress:    cfg.QdrantURL,
			QdrantCollection: cfg.QdrantCollection,
			Logger:           logging.NewLogger("StorageManager"),
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize storage manager")
		}
		analyzerCfg.Store = storageManager
		deps.Records = storageManager
		checks["storage"] = storageManager
	}

	var resultCache *cache.ResultCache
	if cfg.CacheEnabled {
		resultCache, err = cache.NewResultCache(ctx, cache.ResultCacheConfig{
			RedisURL: cfg.RedisURL,
			Prefix:   cfg.QueueName,
			TTL:      cfg.CacheTTL,
			Logger:   logging.NewLogger("ResultCache"),
		})
		if err != nil {
			logger.WithError(err).Warn("Result cache unavailable, continuing without it")
			resultCache = nil
		} else {
			analyzerCfg.Cache = resultCache
			deps.Stats = resultCache
			checks["cache"] = resultCache
		}
	}

	analyzer, err := pipeline.NewAnalyzer(analyzerCfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize analyzer")
	}

	resolver, err := buildResolver(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize document sources")
	}

	defaults := ocr.DefaultOptions()
	defaults.Language = cfg.TesseractLanguages
	defaults.Confidence = cfg.ConfidenceThreshold

	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		Analyzer:          analyzer,
		Resolver:          resolver,
		ProcessingTimeout: cfg.ProcessingTimeout,
		DefaultOptions:    defaults,
		Logger:            logging.NewLogger("QueueConsumer"),
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize queue consumer")
	}

	enqueuer, err := queue.NewEnqueuer(cfg.RedisURL, cfg.QueueName)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize task enqueuer")
	}
	deps.Enqueuer = enqueuer

	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start queue consumer")
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpserver.NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Starting HTTP server", "address", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	for _, status := range orchestrator.Availability(ctx) {
		logger.Info("OCR engine", "name", status.Name, "available", status.Available)
	}
	logger.Info("Document Intelligence Worker is READY", "statistics", consumer.GetStatistics())

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Initiating graceful shutdown...", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Error stopping HTTP server")
	}
	if err := consumer.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Error stopping queue consumer")
	}
	if err := enqueuer.Close(); err != nil {
		logger.WithError(err).Warn("Error closing task enqueuer")
	}
	if resultCache != nil {
		if err := resultCache.Close(); err != nil {
			logger.WithError(err).Warn("Error closing result cache")
		}
	}
	if storageManager != nil {
		if err := storageManager.Close(); err != nil {
			logger.WithError(err).Warn("Error closing storage manager")
		}
	}

	logger.Info("Shutdown complete")
}

// buildEngines registers the cloud engines that are configured, then Tesseract
func buildEngines(cfg *config.Config, logger *logging.Logger) []ocr.Engine {
	var engines []ocr.Engine
	poll := ocr.PollPolicy{MaxAttempts: cfg.PollMaxAttempts, Interval: cfg.PollInterval}

	if cfg.DocumentAIEnabled() {
		engines = append(engines, ocr.NewDocumentAIEngine(ocr.DocumentAIConfig{
			ProjectID:            cfg.DocumentAIProjectID,
			Location:             cfg.DocumentAILocation,
			ProcessorID:          cfg.DocumentAIProcessorID,
			CredentialsFile:      cfg.DocumentAICredentialsFile,
			LineClusterThreshold: cfg.LineClusterThreshold,
		}))
	}
	if cfg.AzureEndpoint != "" {
		engines = append(engines, ocr.NewAzureReadEngine(ocr.AzureReadConfig{
			Endpoint:             cfg.AzureEndpoint,
			Key:                  cfg.AzureKey,
			APIVersion:           cfg.AzureAPIVersion,
			Poll:                 poll,
			LineClusterThreshold: cfg.LineClusterThreshold,
		}))
	}
	engines = append(engines, ocr.NewTesseractEngine(&ocr.TesseractConfig{
		TesseractPath:        cfg.TesseractPath,
		Languages:            cfg.TesseractLanguages,
		LineClusterThreshold: cfg.LineClusterThreshold,
	}))

	names := make([]string, 0, len(engines))
	for _, e := range engines {
		names = append(names, e.Name())
	}
	logger.Info("OCR engines registered", "engines", names)
	return engines
}

func buildClassifier(cfg *config.Config) (*classifier.Classifier, error) {
	if cfg.ClassifierCatalogPath == "" {
		return classifier.NewClassifier(classifier.DefaultCatalog()), nil
	}
	data, err := os.ReadFile(cfg.ClassifierCatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	catalog, err := classifier.ParseCatalog(data)
	if err != nil {
		return nil, err
	}
	return classifier.NewClassifier(catalog), nil
}

func buildResolver(cfg *config.Config) (*source.Resolver, error) {
	httpFetcher := source.NewHTTPFetcher(source.HTTPFetcherConfig{
		MaxFileSize: cfg.MaxFileSize,
		Logger:      logging.NewLogger("HTTPFetcher"),
	})
	if !cfg.BlobEnabled() {
		return source.NewResolver(httpFetcher, nil), nil
	}
	blobFetcher, err := source.NewBlobFetcher(cfg.BlobAccountName, cfg.BlobAccountKey, cfg.BlobContainer, cfg.MaxFileSize)
	if err != nil {
		return nil, err
	}
	return source.NewResolver(httpFetcher, blobFetcher), nil
}
