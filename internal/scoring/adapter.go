package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
)

type AdapterConfig struct {
	// KeyedResults switches the success envelope from a positional array
	// to an entity-id keyed map. Off by default for wire compatibility.
	KeyedResults bool
	Logger       *slog.Logger
}

// Adapter is the deployable scoring unit: it owns the loaded pipeline for
// the life of the process and turns one raw JSON batch into one response
// envelope. Errors never escape Run as structural failures; they are
// rendered into the envelope as a message string.
type Adapter struct {
	pipeline   Pipeline
	executor   Executor
	reconciler *Reconciler
	keyed      bool
	logger     *slog.Logger
}

func NewAdapter(
	pipeline Pipeline,
	executor Executor,
	reconciler *Reconciler,
	cfg AdapterConfig,
) (*Adapter, error) {
	if pipeline == nil {
		return nil, errors.New("pipeline must not be nil")
	}
	if reconciler == nil {
		return nil, errors.New("reconciler must not be nil")
	}
	if executor == nil {
		executor = NewDirectExecutor(pipeline)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Adapter{
		pipeline:   pipeline,
		executor:   executor,
		reconciler: reconciler,
		keyed:      cfg.KeyedResults,
		logger:     logger,
	}, nil
}

func (a *Adapter) PipelineName() string {
	return a.pipeline.Name()
}

// scoreOutcome is the explicit success-or-failure result of one batch,
// rendered into the single wire shape as the final step.
type scoreOutcome struct {
	entityIDs   []string
	predictions []string
	err         error
}

// Run scores one serialized batch. The returned bytes are always a valid
// envelope; the returned error reports what failed (nil on success) so
// callers can count and log without parsing the envelope back.
func (a *Adapter) Run(ctx context.Context, raw []byte) ([]byte, error) {
	outcome := a.score(ctx, raw)
	return renderEnvelope(outcome, a.keyed), outcome.err
}

func (a *Adapter) score(ctx context.Context, raw []byte) scoreOutcome {
	records, err := DecodeRecords(raw)
	if err != nil {
		return scoreOutcome{err: err}
	}
	observations, err := a.reconciler.Reconcile(records)
	if err != nil {
		return scoreOutcome{err: err}
	}
	vectors := make([][]float64, len(observations))
	entityIDs := make([]string, len(observations))
	for idx, observation := range observations {
		vectors[idx] = observation.Features
		entityIDs[idx] = observation.EntityID
	}
	predictions, err := a.executor.Execute(ctx, vectors)
	if err != nil {
		return scoreOutcome{err: err}
	}
	if len(predictions) != len(observations) {
		return scoreOutcome{err: errors.Join(
			ErrTransform,
			errors.New("prediction count does not match record count"),
		)}
	}
	return scoreOutcome{entityIDs: entityIDs, predictions: predictions}
}

func renderEnvelope(outcome scoreOutcome, keyed bool) []byte {
	var envelope Envelope
	switch {
	case outcome.err != nil:
		envelope.Result = outcome.err.Error()
	case keyed:
		byEntity := make(map[string]string, len(outcome.predictions))
		for idx, prediction := range outcome.predictions {
			byEntity[outcome.entityIDs[idx]] = prediction
		}
		envelope.Result = byEntity
	default:
		envelope.Result = outcome.predictions
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		// Strings and string maps always marshal; this is unreachable in
		// practice but the contract says the response is well-formed JSON.
		return []byte(`{"result":"internal encoding failure"}`)
	}
	return raw
}

// failKind buckets a scoring error for metrics labels.
func failKind(err error) string {
	switch {
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrSchemaMismatch):
		return "schema_mismatch"
	case errors.Is(err, ErrTransform):
		return "transform"
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrExecutorStopped):
		return "capacity"
	default:
		return "other"
	}
}
