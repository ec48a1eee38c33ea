package scoring

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrQueueFull       = errors.New("request queue is full")
	ErrExecutorStopped = errors.New("batch executor is stopped")
)

type batchItem struct {
	ctx      context.Context
	vectors  [][]float64
	enqueued time.Time
	result   chan batchResult
}

type batchResult struct {
	predictions []string
	err         error
}

type BatchExecutorConfig struct {
	// MaxBatchVectors bounds the number of feature vectors coalesced into
	// a single pipeline transform, across concurrent callers.
	MaxBatchVectors int
	BatchWindow     time.Duration
	QueueSize       int
	OnBatch         func(vectorCount int, avgQueueWait time.Duration, transformTime time.Duration, err error)
	Logger          *slog.Logger
	Hooks           TelemetryHooks
}

// BatchExecutor coalesces concurrent score calls into one pipeline
// transform per window and splits the predictions back per caller. Each
// caller still blocks until its own slice of the batch is done, so the
// request/response contract stays synchronous.
type BatchExecutor struct {
	pipeline Pipeline
	cfg      BatchExecutorConfig

	queue  chan batchItem
	stop   chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger
	hooks  TelemetryHooks
}

func NewBatchExecutor(pipeline Pipeline, cfg BatchExecutorConfig) (*BatchExecutor, error) {
	if pipeline == nil {
		return nil, errors.New("pipeline must not be nil")
	}
	if cfg.MaxBatchVectors <= 0 {
		return nil, fmt.Errorf("max batch vectors must be > 0")
	}
	if cfg.BatchWindow <= 0 {
		return nil, fmt.Errorf("batch window must be > 0")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	hooks := cfg.Hooks
	if hooks == nil {
		hooks = NopTelemetryHooks{}
	}
	return &BatchExecutor{
		pipeline: pipeline,
		cfg:      cfg,
		queue:    make(chan batchItem, cfg.QueueSize),
		stop:     make(chan struct{}),
		logger:   logger,
		hooks:    hooks,
	}, nil
}

func (e *BatchExecutor) Start() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run()
	}()
}

func (e *BatchExecutor) Stop() {
	close(e.stop)
	e.wg.Wait()
}

func (e *BatchExecutor) Execute(
	ctx context.Context,
	vectors [][]float64,
) ([]string, error) {
	resultCh := make(chan batchResult, 1)
	item := batchItem{
		ctx:      ctx,
		vectors:  vectors,
		enqueued: time.Now(),
		result:   resultCh,
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.stop:
		return nil, ErrExecutorStopped
	default:
	}

	select {
	case e.queue <- item:
	default:
		return nil, ErrQueueFull
	}

	select {
	case result := <-resultCh:
		return result.predictions, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.stop:
		return nil, ErrExecutorStopped
	}
}

func (e *BatchExecutor) run() {
	for {
		select {
		case <-e.stop:
			return
		case first := <-e.queue:
			e.processBatch(first)
		}
	}
}

func (e *BatchExecutor) processBatch(first batchItem) {
	batch := []batchItem{first}
	vectorCount := len(first.vectors)
	timer := time.NewTimer(e.cfg.BatchWindow)
	defer timer.Stop()

collectLoop:
	for vectorCount < e.cfg.MaxBatchVectors {
		select {
		case <-e.stop:
			e.failAll(batch, ErrExecutorStopped)
			return
		case next := <-e.queue:
			batch = append(batch, next)
			vectorCount += len(next.vectors)
		case <-timer.C:
			break collectLoop
		}
	}

	combined := make([][]float64, 0, vectorCount)
	for _, item := range batch {
		combined = append(combined, item.vectors...)
	}

	batchStart := time.Now()
	queueWaitTotal := time.Duration(0)
	for _, item := range batch {
		wait := batchStart.Sub(item.enqueued)
		if wait < 0 {
			wait = 0
		}
		queueWaitTotal += wait
	}
	avgQueueWait := queueWaitTotal / time.Duration(len(batch))

	transformStart := time.Now()
	predictions, err := e.pipeline.Transform(context.Background(), combined)
	transformTime := time.Since(transformStart)
	if err == nil && len(predictions) != len(combined) {
		err = fmt.Errorf(
			"%w: pipeline returned %d predictions for %d vectors",
			ErrTransform,
			len(predictions),
			len(combined),
		)
	}
	if e.cfg.OnBatch != nil {
		e.cfg.OnBatch(len(combined), avgQueueWait, transformTime, err)
	}
	e.hooks.OnTransformBatch(context.Background(), len(combined), avgQueueWait, transformTime, err)

	if err != nil {
		e.logger.Error(
			"batch_transform_failed",
			"pipeline", e.pipeline.Name(),
			"vectors", len(combined),
			"callers", len(batch),
			"queue_wait_ms", avgQueueWait.Seconds()*1000.0,
			"transform_ms", transformTime.Seconds()*1000.0,
			"error", err.Error(),
		)
		e.failAll(batch, err)
		return
	}
	e.logger.Info(
		"batch_transform_done",
		"pipeline", e.pipeline.Name(),
		"vectors", len(combined),
		"callers", len(batch),
		"queue_wait_ms", avgQueueWait.Seconds()*1000.0,
		"transform_ms", transformTime.Seconds()*1000.0,
	)

	offset := 0
	for _, item := range batch {
		slice := predictions[offset : offset+len(item.vectors)]
		offset += len(item.vectors)
		item.result <- batchResult{predictions: slice}
	}
}

func (e *BatchExecutor) failAll(batch []batchItem, err error) {
	for _, item := range batch {
		item.result <- batchResult{err: err}
	}
}
