// Package registry is a file-backed model registry: versioned artifact
// directories with checksums and metadata, resolvable by name. It stands
// in for the managed-platform registry at the developer-facing end of the
// deployment flow.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("model not found in registry")

const indexFileName = "index.json"

// Model describes one registered artifact version.
type Model struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Path      string            `json:"path"`
	Checksum  string            `json:"checksum"`
	SizeBytes int64             `json:"size_bytes"`
	CreatedAt time.Time         `json:"created_at"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Registry owns a root directory of artifact copies plus a JSON index.
type Registry struct {
	root string

	mu     sync.Mutex
	models []Model
}

func Open(root string) (*Registry, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating registry root %q: %w", root, err)
	}
	registry := &Registry{root: root}
	raw, err := os.ReadFile(filepath.Join(root, indexFileName))
	if errors.Is(err, os.ErrNotExist) {
		return registry, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading registry index: %w", err)
	}
	if err := json.Unmarshal(raw, &registry.models); err != nil {
		return nil, fmt.Errorf("decoding registry index: %w", err)
	}
	return registry, nil
}

// Register copies the artifact directory into the registry and records a
// new version with a content checksum.
func (r *Registry) Register(
	name string,
	artifactDir string,
	tags map[string]string,
) (Model, error) {
	if name == "" {
		return Model{}, errors.New("model name is required")
	}
	info, err := os.Stat(artifactDir)
	if err != nil {
		return Model{}, fmt.Errorf("artifact dir %q: %w", artifactDir, err)
	}
	if !info.IsDir() {
		return Model{}, fmt.Errorf("artifact path %q is not a directory", artifactDir)
	}

	version := uuid.NewString()
	destination := filepath.Join(r.root, name, version)
	size, err := copyTree(artifactDir, destination)
	if err != nil {
		return Model{}, fmt.Errorf("copying artifact: %w", err)
	}
	checksum, err := checksumTree(destination)
	if err != nil {
		return Model{}, fmt.Errorf("checksumming artifact: %w", err)
	}

	model := Model{
		Name:      name,
		Version:   version,
		Path:      destination,
		Checksum:  checksum,
		SizeBytes: size,
		CreatedAt: time.Now().UTC(),
		Tags:      tags,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = append(r.models, model)
	if err := r.saveLocked(); err != nil {
		return Model{}, err
	}
	return model, nil
}

// Latest resolves the most recently registered version of a model.
func (r *Registry) Latest(name string) (Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *Model
	for idx := range r.models {
		model := &r.models[idx]
		if model.Name != name {
			continue
		}
		if latest == nil || model.CreatedAt.After(latest.CreatedAt) {
			latest = model
		}
	}
	if latest == nil {
		return Model{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return *latest, nil
}

// List returns all versions of a model, newest first.
func (r *Registry) List(name string) ([]Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Model
	for _, model := range r.models {
		if model.Name == name {
			out = append(out, model)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Verify recomputes the stored artifact's checksum.
func (r *Registry) Verify(model Model) error {
	checksum, err := checksumTree(model.Path)
	if err != nil {
		return err
	}
	if checksum != model.Checksum {
		return fmt.Errorf(
			"checksum mismatch for %s@%s: stored %s, computed %s",
			model.Name,
			model.Version,
			model.Checksum,
			checksum,
		)
	}
	return nil
}

func (r *Registry) saveLocked() error {
	raw, err := json.MarshalIndent(r.models, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding registry index: %w", err)
	}
	return os.WriteFile(filepath.Join(r.root, indexFileName), raw, 0o644)
}

func copyTree(src string, dst string) (int64, error) {
	var total int64
	err := filepath.WalkDir(src, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		relative, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, relative)
		if entry.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() {
			_ = in.Close()
		}()
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		written, copyErr := io.Copy(out, in)
		total += written
		if closeErr := out.Close(); copyErr == nil {
			copyErr = closeErr
		}
		return copyErr
	})
	return total, err
}

// checksumTree hashes file contents and relative paths in a stable order.
func checksumTree(root string) (string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !entry.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(files)

	hash := sha256.New()
	for _, path := range files {
		relative, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return "", relErr
		}
		if _, err := hash.Write([]byte(relative)); err != nil {
			return "", err
		}
		file, openErr := os.Open(path)
		if openErr != nil {
			return "", openErr
		}
		_, copyErr := io.Copy(hash, file)
		if closeErr := file.Close(); copyErr == nil {
			copyErr = closeErr
		}
		if copyErr != nil {
			return "", copyErr
		}
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
