package scoring

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseBridgeCommand(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		parts, err := parseBridgeCommand("   ")
		if err != nil {
			t.Fatalf("parseBridgeCommand() error = %v", err)
		}
		if len(parts) != 0 {
			t.Fatalf("expected empty command, got %v", parts)
		}
	})

	t.Run("split", func(t *testing.T) {
		parts, err := parseBridgeCommand("python -m scoring.bridge")
		if err != nil {
			t.Fatalf("parseBridgeCommand() error = %v", err)
		}
		want := []string{"python", "-m", "scoring.bridge"}
		if !reflect.DeepEqual(parts, want) {
			t.Fatalf("unexpected command parts: got %v want %v", parts, want)
		}
	})
}

func TestNewBridgePipelineWithoutCommandFails(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "pipeline.pkl")
	if err := os.WriteFile(artifact, []byte("pkl"), 0o644); err != nil {
		t.Fatalf("failed to write artifact: %v", err)
	}
	t.Setenv("SCORING_BRIDGE_CMD", "")

	_, err := NewBridgePipeline(artifact, "")
	if !errors.Is(err, ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
}

func TestNewBridgePipelineMissingArtifactFails(t *testing.T) {
	_, err := NewBridgePipeline(filepath.Join(t.TempDir(), "missing.pkl"), "python bridge.py")
	if !errors.Is(err, ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
}

func TestBridgePipelineTransformUsesBridge(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "pipeline.pkl")
	if err := os.WriteFile(artifact, []byte("pkl"), 0o644); err != nil {
		t.Fatalf("failed to write artifact: %v", err)
	}
	pipeline, err := NewBridgePipeline(artifact, "python bridge.py")
	if err != nil {
		t.Fatalf("NewBridgePipeline() error = %v", err)
	}

	original := runBridgeTransform
	t.Cleanup(func() { runBridgeTransform = original })

	var captured bridgeTransformRequest
	runBridgeTransform = func(
		_ context.Context,
		_ []string,
		request bridgeTransformRequest,
	) ([]string, error) {
		captured = request
		out := make([]string, len(request.Features))
		for idx := range out {
			out[idx] = "1"
		}
		return out, nil
	}

	predictions, err := pipeline.Transform(context.Background(), [][]float64{{1, 2}, {3, 4}})
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if len(predictions) != 2 {
		t.Fatalf("unexpected prediction count: %d", len(predictions))
	}
	if captured.ArtifactPath != pipeline.artifactPath {
		t.Fatalf("bridge did not receive artifact path: %+v", captured)
	}
}

func TestBridgePipelineCountMismatchIsTransformError(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "pipeline.pkl")
	if err := os.WriteFile(artifact, []byte("pkl"), 0o644); err != nil {
		t.Fatalf("failed to write artifact: %v", err)
	}
	pipeline, err := NewBridgePipeline(artifact, "python bridge.py")
	if err != nil {
		t.Fatalf("NewBridgePipeline() error = %v", err)
	}

	original := runBridgeTransform
	t.Cleanup(func() { runBridgeTransform = original })
	runBridgeTransform = func(
		_ context.Context,
		_ []string,
		_ bridgeTransformRequest,
	) ([]string, error) {
		return []string{"1"}, nil
	}

	_, err = pipeline.Transform(context.Background(), [][]float64{{1}, {2}})
	if !errors.Is(err, ErrTransform) {
		t.Fatalf("expected ErrTransform, got %v", err)
	}
}

func TestDefaultRunBridgeTransformNoCommandFails(t *testing.T) {
	_, err := defaultRunBridgeTransform(context.Background(), nil, bridgeTransformRequest{})
	if !errors.Is(err, ErrTransform) {
		t.Fatalf("expected ErrTransform, got %v", err)
	}
}
