package scoring

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ResultCache short-circuits repeat batches to their previous envelope.
// Implementations must only ever hold successful envelopes.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Put(ctx context.Context, key string, envelope []byte)
}

type HTTPServiceConfig struct {
	Logger  *slog.Logger
	Hooks   TelemetryHooks
	Metrics *Metrics
	Cache   ResultCache
}

// HTTPService hosts the scoring contract: POST /score is the run entry
// point, health and metrics ride alongside. Scoring errors stay inside
// the soft-fail envelope with HTTP success semantics; only transport
// misuse (wrong method) gets a protocol-level error.
type HTTPService struct {
	adapter *Adapter
	metrics *Metrics
	logger  *slog.Logger
	hooks   TelemetryHooks
	cache   ResultCache
}

func NewHTTPService(adapter *Adapter, cfg HTTPServiceConfig) (*HTTPService, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	hooks := cfg.Hooks
	if hooks == nil {
		hooks = NopTelemetryHooks{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &HTTPService{
		adapter: adapter,
		metrics: metrics,
		logger:  logger,
		hooks:   hooks,
		cache:   cfg.Cache,
	}, nil
}

func (s *HTTPService) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/score", s.handleScore)
}

func (s *HTTPService) handleHealth(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		http.Error(writer, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	response := map[string]string{
		"status":   "ok",
		"pipeline": s.adapter.PipelineName(),
	}
	writeJSON(writer, http.StatusOK, response)
}

func (s *HTTPService) handleScore(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()
	if request.Method != http.MethodPost {
		http.Error(writer, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	requestID, _ := request.Context().Value(RequestIDKey).(string)
	s.hooks.OnHTTPRequestStart(request.Context(), "/score", requestID)
	s.metrics.RecordRequestStart()

	raw, readErr := io.ReadAll(request.Body)
	if readErr != nil {
		// Feed the broken body through the normal path so the reply is
		// still a well-formed envelope.
		raw = nil
	}

	cacheKey := ""
	if s.cache != nil {
		digest := sha256.Sum256(raw)
		cacheKey = hex.EncodeToString(digest[:])
		if envelope, ok := s.cache.Get(request.Context(), cacheKey); ok {
			s.metrics.RecordCacheHit()
			s.metrics.RecordRequestDone(time.Since(start), nil)
			s.hooks.OnHTTPRequestDone(
				request.Context(),
				"/score",
				requestID,
				http.StatusOK,
				time.Since(start),
				nil,
			)
			writeRawJSON(writer, http.StatusOK, envelope)
			return
		}
		s.metrics.RecordCacheMiss()
	}

	envelope, scoreErr := s.adapter.Run(request.Context(), raw)
	s.metrics.RecordRequestDone(time.Since(start), scoreErr)
	s.hooks.OnHTTPRequestDone(
		request.Context(),
		"/score",
		requestID,
		http.StatusOK,
		time.Since(start),
		scoreErr,
	)
	if scoreErr != nil {
		s.logger.Error(
			"score_request_soft_fail",
			"request_id", requestID,
			"kind", failKind(scoreErr),
			"error", scoreErr.Error(),
		)
	} else {
		s.logger.Info(
			"score_request_done",
			"request_id", requestID,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		if s.cache != nil {
			s.cache.Put(request.Context(), cacheKey, envelope)
		}
	}
	writeRawJSON(writer, http.StatusOK, envelope)
}

func writeJSON(writer http.ResponseWriter, statusCode int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(statusCode)
	_ = json.NewEncoder(writer).Encode(payload)
}

func writeRawJSON(writer http.ResponseWriter, statusCode int, payload []byte) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(statusCode)
	_, _ = writer.Write(payload)
}
