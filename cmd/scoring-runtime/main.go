package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/machinewatch/scoring-runtime/internal/cache"
	"github.com/machinewatch/scoring-runtime/internal/registry"
	"github.com/machinewatch/scoring-runtime/internal/scoring"
)

func main() {
	var (
		addr         = flag.String("addr", envOr("SCORING_ADDR", ":8080"), "HTTP listen address")
		pipelineName = flag.String("pipeline", envOr("SCORING_PIPELINE", "native"), "pipeline backend: native|bridge")
		modelPath    = flag.String("model-path", envOr("SCORING_MODEL_PATH", ""), "model artifact path (file or directory)")
		modelName    = flag.String("model-name", envOr("SCORING_MODEL_NAME", ""), "resolve the artifact from the registry instead of -model-path")
		registryRoot = flag.String("registry-root", envOr("SCORING_REGISTRY_ROOT", "models/registry"), "model registry root directory")
		bridgeCmd    = flag.String("bridge-cmd", envOr("SCORING_BRIDGE_CMD", ""), "bridge interpreter command (bridge pipeline)")

		batchWindowMS   = flag.Int("batch-window-ms", envInt("SCORING_BATCH_WINDOW_MS", 8), "batch coalescing window in milliseconds (0 disables batching)")
		maxBatchVectors = flag.Int("max-batch-vectors", envInt("SCORING_MAX_BATCH_VECTORS", 64), "maximum feature vectors per coalesced transform")
		queueSize       = flag.Int("queue-size", envInt("SCORING_QUEUE_SIZE", 256), "request queue size")

		keyedResults = flag.Bool("keyed-results", envBool("SCORING_KEYED_RESULTS", false), "key the result map by entity id instead of positional array")

		redisAddr   = flag.String("redis-addr", envOr("SCORING_REDIS_ADDR", ""), "optional Redis address for the score cache")
		cacheTTLSec = flag.Int("cache-ttl-sec", envInt("SCORING_CACHE_TTL_SEC", 300), "score cache TTL in seconds")

		logFormat = flag.String("log-format", envOr("SCORING_LOG_FORMAT", "json"), "log format: json|text")
		logLevel  = flag.String("log-level", envOr("SCORING_LOG_LEVEL", "info"), "log level: debug|info|warn|error")
	)
	flag.Parse()

	logger, err := buildLogger(*logFormat, *logLevel)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	artifactPath := *modelPath
	if strings.TrimSpace(*modelName) != "" {
		reg, regErr := registry.Open(*registryRoot)
		if regErr != nil {
			log.Fatalf("failed to open model registry: %v", regErr)
		}
		model, resolveErr := reg.Latest(strings.TrimSpace(*modelName))
		if resolveErr != nil {
			log.Fatalf("failed to resolve model %q: %v", *modelName, resolveErr)
		}
		if verifyErr := reg.Verify(model); verifyErr != nil {
			log.Fatalf("model artifact failed verification: %v", verifyErr)
		}
		artifactPath = model.Path
		logger.Info(
			"model_resolved_from_registry",
			"model", model.Name,
			"version", model.Version,
			"checksum", model.Checksum,
		)
	}

	manifest, err := scoring.LoadManifest(artifactPath)
	if err != nil {
		log.Fatalf("failed to load feature manifest: %v", err)
	}
	if manifest == nil {
		logger.Warn(
			"feature_manifest_missing",
			"artifact", artifactPath,
			"effect", "feature order follows the incoming frame",
		)
	}

	pipeline, err := buildPipeline(*pipelineName, artifactPath, *bridgeCmd, manifest)
	if err != nil {
		// Model load failures are fatal: there is no fallback model.
		log.Fatalf("failed to load pipeline: %v", err)
	}
	defer func() {
		if closeErr := pipeline.Close(); closeErr != nil {
			log.Printf("pipeline close error: %v", closeErr)
		}
	}()

	metrics := scoring.NewMetrics()

	var executor scoring.Executor
	var batchExecutor *scoring.BatchExecutor
	if *batchWindowMS > 0 {
		batchExecutor, err = scoring.NewBatchExecutor(pipeline, scoring.BatchExecutorConfig{
			MaxBatchVectors: *maxBatchVectors,
			BatchWindow:     time.Duration(*batchWindowMS) * time.Millisecond,
			QueueSize:       *queueSize,
			Logger:          logger,
			OnBatch: func(vectorCount int, _ time.Duration, transformTime time.Duration, _ error) {
				metrics.RecordTransformBatch(vectorCount, transformTime)
			},
		})
		if err != nil {
			log.Fatalf("failed to create batch executor: %v", err)
		}
		batchExecutor.Start()
		defer batchExecutor.Stop()
		executor = batchExecutor
	} else {
		executor = scoring.NewDirectExecutor(pipeline)
	}

	adapter, err := scoring.NewAdapter(pipeline, executor, scoring.NewReconciler(manifest), scoring.AdapterConfig{
		KeyedResults: *keyedResults,
		Logger:       logger,
	})
	if err != nil {
		log.Fatalf("failed to create adapter: %v", err)
	}

	var resultCache scoring.ResultCache
	if strings.TrimSpace(*redisAddr) != "" {
		scoreCache := cache.New(cache.Config{
			Addr:   strings.TrimSpace(*redisAddr),
			TTL:    time.Duration(*cacheTTLSec) * time.Second,
			Logger: logger,
		})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
		if pingErr := scoreCache.Ping(pingCtx); pingErr != nil {
			logger.Warn("score_cache_unreachable", "addr", *redisAddr, "error", pingErr.Error())
		}
		pingCancel()
		defer func() {
			_ = scoreCache.Close()
		}()
		resultCache = scoreCache
	}

	httpService, err := scoring.NewHTTPService(adapter, scoring.HTTPServiceConfig{
		Logger:  logger,
		Metrics: metrics,
		Cache:   resultCache,
	})
	if err != nil {
		log.Fatalf("failed to create http service: %v", err)
	}

	mux := http.NewServeMux()
	httpService.RegisterRoutes(mux)

	handler := scoring.Chain(mux,
		scoring.RequestIDMiddleware,
		scoring.RecoveryMiddleware(logger),
		scoring.LoggingMiddleware(logger),
	)

	server := &http.Server{
		Addr:              *addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info(
			"scoring_server_start",
			"addr", *addr,
			"pipeline", pipeline.Name(),
			"artifact", artifactPath,
			"batch_window_ms", *batchWindowMS,
			"max_batch_vectors", *maxBatchVectors,
			"queue_size", *queueSize,
			"keyed_results", *keyedResults,
			"cache_enabled", resultCache != nil,
		)
		if serveErr := server.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			log.Fatalf("http serve failed: %v", serveErr)
		}
	}()

	waitForSignal()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := server.Shutdown(ctx); shutdownErr != nil {
		log.Printf("http shutdown error: %v", shutdownErr)
	}
}

func buildPipeline(
	name string,
	artifactPath string,
	bridgeCmd string,
	manifest *scoring.FeatureManifest,
) (scoring.Pipeline, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "native":
		return scoring.NewNativePipeline(artifactPath, manifest)
	case "bridge":
		return scoring.NewBridgePipeline(artifactPath, bridgeCmd)
	default:
		return nil, fmt.Errorf("unsupported pipeline %q", name)
	}
}

func buildLogger(format string, level string) (*slog.Logger, error) {
	normalizedFormat := strings.ToLower(strings.TrimSpace(format))
	normalizedLevel := strings.ToLower(strings.TrimSpace(level))

	var slogLevel slog.Level
	switch normalizedLevel {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info", "":
		slogLevel = slog.LevelInfo
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return nil, fmt.Errorf("unsupported log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: slogLevel}
	switch normalizedFormat {
	case "json", "":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	case "discard":
		return slog.New(slog.NewJSONHandler(io.Discard, opts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
}

func envOr(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return fallback
	}
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func waitForSignal() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	<-signals
}
