package scoring

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ManifestFileName is the feature-order manifest written at training time
// next to the model artifact.
const ManifestFileName = "feature_manifest.json"

const defaultEntityField = "machineID"

// defaultReservedFields are the columns excluded from feature vectors:
// identifiers, training-time labels and redundant encodings.
var defaultReservedFields = []string{
	"label_e",
	"machineID",
	"dt_truncated",
	"failure",
	"model_encoded",
	"model",
}

// FeatureManifest pins the feature column order the pipeline was fitted
// with. Without it the runtime falls back to the order of the incoming
// frame, which is only correct when callers send columns the way the
// training set laid them out.
type FeatureManifest struct {
	EntityField string   `json:"entity_field,omitempty"`
	Features    []string `json:"features"`
	Reserved    []string `json:"reserved,omitempty"`
	Classes     []string `json:"classes,omitempty"`
}

func (m *FeatureManifest) Validate() error {
	if len(m.Features) == 0 {
		return fmt.Errorf("%w: manifest lists no features", ErrModelLoad)
	}
	seen := make(map[string]struct{}, len(m.Features))
	for _, name := range m.Features {
		if name == "" {
			return fmt.Errorf("%w: manifest contains an empty feature name", ErrModelLoad)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: manifest feature %q is duplicated", ErrModelLoad, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func (m *FeatureManifest) entityField() string {
	if m == nil || m.EntityField == "" {
		return defaultEntityField
	}
	return m.EntityField
}

func (m *FeatureManifest) reservedSet() map[string]struct{} {
	names := defaultReservedFields
	if m != nil && len(m.Reserved) > 0 {
		names = m.Reserved
	}
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// LoadManifest reads the manifest that sits beside the model artifact.
// A missing manifest is not an error: the caller gets nil and the
// reconciler derives the order from the batch instead.
func LoadManifest(artifactPath string) (*FeatureManifest, error) {
	dir := artifactPath
	if info, err := os.Stat(artifactPath); err == nil && !info.IsDir() {
		dir = filepath.Dir(artifactPath)
	}
	raw, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading manifest: %v", ErrModelLoad, err)
	}
	var manifest FeatureManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("%w: decoding manifest: %v", ErrModelLoad, err)
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// WriteManifest persists a manifest beside the artifact directory. Used by
// training-side tooling and tests.
func WriteManifest(dir string, manifest *FeatureManifest) error {
	if err := manifest.Validate(); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding manifest: %v", ErrModelLoad, err)
	}
	return os.WriteFile(filepath.Join(dir, ManifestFileName), raw, 0o644)
}
