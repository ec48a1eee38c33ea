package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeNativeArtifact(t *testing.T, dir string, artifact nativeArtifact) string {
	t.Helper()
	raw, err := json.Marshal(artifact)
	if err != nil {
		t.Fatalf("failed to encode artifact: %v", err)
	}
	path := filepath.Join(dir, NativeWeightsFileName)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("failed to write artifact: %v", err)
	}
	return path
}

func TestNewNativePipelineLoadsArtifact(t *testing.T) {
	dir := t.TempDir()
	manifest := &FeatureManifest{
		Features: []string{"volt", "rotate"},
		Classes:  []string{"healthy", "failing"},
	}
	writeNativeArtifact(t, dir, nativeArtifact{
		Bias:    -1.0,
		Weights: map[string]float64{"volt": 2.0, "rotate": -0.5},
	})

	pipeline, err := NewNativePipeline(dir, manifest)
	if err != nil {
		t.Fatalf("NewNativePipeline() error = %v", err)
	}
	t.Cleanup(func() {
		_ = pipeline.Close()
	})

	predictions, err := pipeline.Transform(context.Background(), [][]float64{
		{10.0, 2.0},  // strongly positive logit
		{-10.0, 2.0}, // strongly negative logit
	})
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if predictions[0] != "failing" {
		t.Fatalf("expected positive class, got %q", predictions[0])
	}
	if predictions[1] != "healthy" {
		t.Fatalf("expected negative class, got %q", predictions[1])
	}
}

func TestNewNativePipelineMissingArtifactFails(t *testing.T) {
	manifest := &FeatureManifest{Features: []string{"volt"}}
	_, err := NewNativePipeline(filepath.Join(t.TempDir(), "missing.json"), manifest)
	if !errors.Is(err, ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
}

func TestNewNativePipelineMissingWeightFails(t *testing.T) {
	dir := t.TempDir()
	manifest := &FeatureManifest{Features: []string{"volt", "rotate"}}
	writeNativeArtifact(t, dir, nativeArtifact{
		Weights: map[string]float64{"volt": 2.0},
	})

	_, err := NewNativePipeline(dir, manifest)
	if !errors.Is(err, ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
}

func TestNewNativePipelineRequiresManifest(t *testing.T) {
	dir := t.TempDir()
	writeNativeArtifact(t, dir, nativeArtifact{
		Weights: map[string]float64{"volt": 2.0},
	})

	_, err := NewNativePipeline(dir, nil)
	if !errors.Is(err, ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
}

func TestNativePipelineVectorWidthMismatchIsTransformError(t *testing.T) {
	dir := t.TempDir()
	manifest := &FeatureManifest{Features: []string{"volt"}}
	writeNativeArtifact(t, dir, nativeArtifact{
		Weights: map[string]float64{"volt": 1.0},
	})

	pipeline, err := NewNativePipeline(dir, manifest)
	if err != nil {
		t.Fatalf("NewNativePipeline() error = %v", err)
	}
	_, err = pipeline.Transform(context.Background(), [][]float64{{1.0, 2.0}})
	if !errors.Is(err, ErrTransform) {
		t.Fatalf("expected ErrTransform, got %v", err)
	}
}

func TestLoadManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	manifest := &FeatureManifest{
		EntityField: "machineID",
		Features:    []string{"volt", "rotate", "pressure", "vibration"},
		Classes:     []string{"0", "1"},
	}
	if err := WriteManifest(dir, manifest); err != nil {
		t.Fatalf("WriteManifest() error = %v", err)
	}
	loaded, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}
	if loaded == nil {
		t.Fatalf("expected manifest, got nil")
	}
	if len(loaded.Features) != 4 || loaded.Features[0] != "volt" {
		t.Fatalf("unexpected manifest features: %v", loaded.Features)
	}
}

func TestLoadManifestAbsentIsNotAnError(t *testing.T) {
	loaded, err := LoadManifest(t.TempDir())
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}
	if loaded != nil {
		t.Fatalf("expected nil manifest for absent file, got %+v", loaded)
	}
}

func TestManifestValidateRejectsDuplicates(t *testing.T) {
	manifest := &FeatureManifest{Features: []string{"volt", "volt"}}
	if err := manifest.Validate(); !errors.Is(err, ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
}
