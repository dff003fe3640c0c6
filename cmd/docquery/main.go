package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docquery/internal/config"
	"github.com/kailas-cloud/docquery/internal/db"
	"github.com/kailas-cloud/docquery/internal/db/opensearch"
	dbRedis "github.com/kailas-cloud/docquery/internal/db/redis"
	"github.com/kailas-cloud/docquery/internal/domain"
	logpkg "github.com/kailas-cloud/docquery/internal/logger"
	"github.com/kailas-cloud/docquery/internal/metrics"
	"github.com/kailas-cloud/docquery/internal/provision"
	"github.com/kailas-cloud/docquery/internal/repository/embcache"
	searchrepo "github.com/kailas-cloud/docquery/internal/repository/search"
	chiTransport "github.com/kailas-cloud/docquery/internal/transport/chi"
	"github.com/kailas-cloud/docquery/internal/transport/ollama"
	openaiGen "github.com/kailas-cloud/docquery/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/docquery/internal/usecase/embedding"
	"github.com/kailas-cloud/docquery/internal/usecase/generate"
	healthuc "github.com/kailas-cloud/docquery/internal/usecase/health"
	queryuc "github.com/kailas-cloud/docquery/internal/usecase/query"
	"github.com/kailas-cloud/docquery/internal/version"
)

const cacheReadinessTimeout = 30 * time.Second

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting docquery API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("search_url", cfg.Search.URL),
		zap.String("index", cfg.Search.IndexName),
		zap.String("embedding_model", cfg.Embedding.Model),
		zap.Bool("remote_provision", cfg.Embedding.RemoteProvision),
	)

	// Register retrieval metrics explicitly (no init())
	metrics.RegisterRetrievalMetrics()

	osClient, err := opensearch.NewClient(opensearch.Config{
		BaseURL:   cfg.Search.URL,
		IndexName: cfg.Search.IndexName,
		Timeout:   time.Duration(cfg.Search.RequestTimeoutSec) * time.Second,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Failed to create search client", zap.Error(err))
	}

	// Optional embedding cache. Redis and Valkey speak the same protocol,
	// one store serves both drivers.
	ctx := context.Background()
	var cacheStore db.Store
	if len(cfg.Cache.Addrs) > 0 {
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Cache.Addrs,
			Password: cfg.Cache.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create cache store", zap.Error(err))
		}
		defer store.Close()

		if err := store.WaitForReady(ctx, cacheReadinessTimeout); err != nil {
			logger.Fatal("Cache not ready", zap.Error(err))
		}
		cacheStore = store
		logger.Info("Connected to embedding cache",
			zap.String("driver", cfg.Cache.Driver),
			zap.Strings("addrs", cfg.Cache.Addrs),
		)
	}

	ollamaClient, err := ollama.NewClient(ollama.Config{
		BaseURL:        cfg.Embedding.OllamaURL,
		Model:          cfg.Embedding.Model,
		RequestTimeout: time.Duration(cfg.Search.RequestTimeoutSec) * time.Second,
		PullTimeout:    time.Duration(cfg.Embedding.PullTimeoutSec) * time.Second,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("Failed to create embedding client", zap.Error(err))
	}

	// Direct embedding path, cached when a store is configured
	direct := buildDirectEmbedder(ollamaClient, cacheStore, cfg.Embedding.Model, logger)

	// Remote path through the engine's ML plane, when enabled.
	// Pass nil interface (not typed nil pointer!) when disabled.
	var remote embeddinguc.RemoteInferrer
	if cfg.Embedding.RemoteProvision {
		manager, err := provision.NewManager(provision.Config{
			BaseURL:        cfg.Search.URL,
			OllamaURL:      cfg.Embedding.OllamaURL,
			Model:          cfg.Embedding.Model,
			RequestTimeout: time.Duration(cfg.Search.RequestTimeoutSec) * time.Second,
			WaitTimeout:    time.Duration(cfg.Embedding.ProvisionWaitSec) * time.Second,
			Logger:         logger,
		})
		if err != nil {
			logger.Fatal("Failed to create provisioning manager", zap.Error(err))
		}
		remote = manager
	}

	embedder := embeddinguc.NewProvider(remote, direct, logger)

	// Best-effort index bootstrap: probe dimensions from the live model,
	// fall back to the configured default when the backend is down.
	dims := ollamaClient.ProbeDims(ctx)
	if dims <= 0 {
		dims = cfg.Embedding.DefaultDims
	}
	if err := osClient.EnsureIndex(ctx, dims); err != nil {
		logger.Warn("Index bootstrap failed, continuing",
			zap.String("index", cfg.Search.IndexName),
			zap.Int("dims", dims),
			zap.Error(err),
		)
	}

	searchRepo := searchrepo.New(osClient)

	generator := buildGenerator(cfg.Generation, logger)

	querySvc := queryuc.New(searchRepo, embedder, generator, queryuc.Options{
		BM25TopN:   cfg.Retrieval.BM25TopN,
		VectorTopN: cfg.Retrieval.VectorTopN,
		RRFK:       cfg.Retrieval.RRFK,
		QueryTopK:  cfg.Retrieval.QueryTopK,
	}, logger)

	// Health service — cache is optional, same typed-nil care as above
	var cachePinger healthuc.CachePinger
	if cacheStore != nil {
		cachePinger = cacheStore
	}
	healthSvc := healthuc.New(osClient, ollamaClient, cachePinger)

	server := chiTransport.NewServer(querySvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	r.Post("/query", server.HandleQuery)
	r.Get("/healthz", server.HandleHealth)
	r.Get("/metrics", server.HandleMetrics)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildDirectEmbedder wraps the direct client with the cache decorator when a
// store is available.
func buildDirectEmbedder(
	client *ollama.Client,
	store db.Store,
	model string,
	logger *zap.Logger,
) domain.BatchEmbedder {
	if store == nil {
		return client
	}
	return embcache.New(client, store, model, metrics.EmbeddingCacheTotal, logger)
}

// buildGenerator selects the LLM generator when an API key is configured and
// the deterministic extractive generator otherwise.
func buildGenerator(cfg config.GenerationConfig, logger *zap.Logger) generate.Generator {
	if cfg.APIKey == "" {
		logger.Info("Generation API key not set, using extractive generator")
		return generate.NewExtractive()
	}
	return openaiGen.NewGenerator(openaiGen.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		Logger:  logger,
	})
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
