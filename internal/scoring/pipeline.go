package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// Pipeline is the opaque pre-trained transform+classify unit. It is loaded
// once at startup, never mutated afterwards, and must be safe for
// concurrent read-only use.
type Pipeline interface {
	Name() string
	Transform(ctx context.Context, batch [][]float64) ([]string, error)
	Close() error
}

// Executor runs one batch of feature vectors through the pipeline. The
// direct executor calls the pipeline inline; the batch executor coalesces
// concurrent callers first.
type Executor interface {
	Execute(ctx context.Context, vectors [][]float64) ([]string, error)
}

type directExecutor struct {
	pipeline Pipeline
}

func NewDirectExecutor(pipeline Pipeline) Executor {
	return &directExecutor{pipeline: pipeline}
}

func (e *directExecutor) Execute(
	ctx context.Context,
	vectors [][]float64,
) ([]string, error) {
	return e.pipeline.Transform(ctx, vectors)
}

// NativeWeightsFileName is the default artifact file of the native
// pipeline inside a model directory.
const NativeWeightsFileName = "weights.json"

type nativeArtifact struct {
	Bias      float64            `json:"bias"`
	Weights   map[string]float64 `json:"weights"`
	Threshold float64            `json:"threshold,omitempty"`
	Classes   []string           `json:"classes,omitempty"`
}

// NativePipeline applies a fitted linear classifier in-process. The
// manifest aligns the weight map with the feature order the reconciler
// produces.
type NativePipeline struct {
	artifactPath string
	weights      []float64
	bias         float64
	threshold    float64
	classes      [2]string
}

func NewNativePipeline(
	artifactPath string,
	manifest *FeatureManifest,
) (*NativePipeline, error) {
	resolvedPath, err := resolveArtifactPath(
		artifactPath,
		"SCORING_MODEL_PATH",
		"model artifact",
	)
	if err != nil {
		return nil, err
	}
	if info, statErr := os.Stat(resolvedPath); statErr == nil && info.IsDir() {
		resolvedPath = filepath.Join(resolvedPath, NativeWeightsFileName)
	}
	raw, readErr := os.ReadFile(resolvedPath)
	if readErr != nil {
		return nil, fmt.Errorf("%w: reading %q: %v", ErrModelLoad, resolvedPath, readErr)
	}
	var artifact nativeArtifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return nil, fmt.Errorf("%w: decoding %q: %v", ErrModelLoad, resolvedPath, err)
	}
	if manifest == nil {
		return nil, fmt.Errorf(
			"%w: native pipeline requires a feature manifest beside %q",
			ErrModelLoad,
			resolvedPath,
		)
	}
	weights := make([]float64, len(manifest.Features))
	for idx, feature := range manifest.Features {
		weight, ok := artifact.Weights[feature]
		if !ok {
			return nil, fmt.Errorf(
				"%w: artifact has no weight for feature %q",
				ErrModelLoad,
				feature,
			)
		}
		weights[idx] = weight
	}
	threshold := artifact.Threshold
	if threshold <= 0.0 || threshold >= 1.0 {
		threshold = 0.5
	}
	classes := [2]string{"0", "1"}
	if len(manifest.Classes) == 2 {
		classes = [2]string{manifest.Classes[0], manifest.Classes[1]}
	} else if len(artifact.Classes) == 2 {
		classes = [2]string{artifact.Classes[0], artifact.Classes[1]}
	}
	return &NativePipeline{
		artifactPath: resolvedPath,
		weights:      weights,
		bias:         artifact.Bias,
		threshold:    threshold,
		classes:      classes,
	}, nil
}

func (p *NativePipeline) Name() string {
	return "native-linear"
}

func (p *NativePipeline) Transform(
	_ context.Context,
	batch [][]float64,
) ([]string, error) {
	predictions := make([]string, len(batch))
	for idx, vector := range batch {
		if len(vector) != len(p.weights) {
			return nil, fmt.Errorf(
				"%w: vector %d has %d features, model expects %d",
				ErrTransform,
				idx,
				len(vector),
				len(p.weights),
			)
		}
		z := p.bias
		for pos, value := range vector {
			z += p.weights[pos] * value
		}
		probability := 1.0 / (1.0 + math.Exp(-z))
		if probability >= p.threshold {
			predictions[idx] = p.classes[1]
		} else {
			predictions[idx] = p.classes[0]
		}
	}
	return predictions, nil
}

func (p *NativePipeline) Close() error { return nil }

func resolveArtifactPath(value string, envVar string, label string) (string, error) {
	candidate := value
	if candidate == "" {
		candidate = os.Getenv(envVar)
	}
	candidate = filepath.Clean(candidate)
	if candidate == "" || candidate == "." {
		return "", fmt.Errorf("%w: %s path is required (flag or %s)", ErrModelLoad, label, envVar)
	}
	absPath, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("%w: resolving %s path %q: %v", ErrModelLoad, label, candidate, err)
	}
	if _, statErr := os.Stat(absPath); statErr != nil {
		return "", fmt.Errorf("%w: %s path %q: %v", ErrModelLoad, label, absPath, statErr)
	}
	return absPath, nil
}
