package workspace

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/crossbatch/scrna-integration-framework/analysis"
)

const (
	artifactsDirName = "artifacts"
	artifactExt      = ".json"
	artifactGzExt    = ".json.gz"
)

// gzipThreshold is the encoded size above which an artifact is stored
// compressed. Embeddings and score matrices over tens of thousands of cells
// compress roughly 4x.
const gzipThreshold = 1 << 20

var _ analysis.ArtifactStore = (*ArtifactsDir)(nil)

// ArtifactsDir persists typed JSON artifacts in a run's artifacts directory,
// one file per stage and name.
type ArtifactsDir struct {
	dir string

	// gzipAt overrides gzipThreshold in tests.
	gzipAt int
}

// Artifacts returns the run's artifact store.
func (r Run) Artifacts() *ArtifactsDir {
	return &ArtifactsDir{dir: filepath.Join(r.dir, artifactsDirName), gzipAt: gzipThreshold}
}

func artifactKey(stage, name string) (string, error) {
	key := stage + "_" + name
	if stage == "" || name == "" || strings.ContainsAny(key, "/\\") {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}

	return key, nil
}

// Save writes the artifact for a stage under the given name, replacing any
// previous version. Large artifacts are gzip-compressed.
func (d *ArtifactsDir) Save(stage, name string, v any) error {
	key, err := artifactKey(stage, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifacts directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode artifact %s: %w", key, err)
	}

	path := filepath.Join(d.dir, key+artifactExt)
	stale := path + ".gz"
	if len(data) > d.gzipAt {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return fmt.Errorf("failed to compress artifact %s: %w", key, err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to compress artifact %s: %w", key, err)
		}
		data = buf.Bytes()
		path, stale = stale, path
	}

	if err := writeAtomic(path, data); err != nil {
		return err
	}

	// Drop the other encoding of the same key so a re-save never leaves two
	// versions behind.
	if err := os.Remove(stale); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove stale artifact %s: %w", stale, err)
	}

	return nil
}

// Load reads the artifact for a stage into out.
func (d *ArtifactsDir) Load(stage, name string, out any) error {
	key, err := artifactKey(stage, name)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Join(d.dir, key+artifactExt))
	if errors.Is(err, fs.ErrNotExist) {
		data, err = d.readCompressed(key)
	}
	if err != nil {
		return fmt.Errorf("failed to read artifact %s: %w", key, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode artifact %s: %w", key, err)
	}

	return nil
}

// Raw returns the decoded JSON bytes of an artifact by its flattened key, as
// listed by List.
func (d *ArtifactsDir) Raw(key string) ([]byte, error) {
	if strings.ContainsAny(key, "/\\") {
		return nil, fmt.Errorf("invalid artifact key %q", key)
	}

	data, err := os.ReadFile(filepath.Join(d.dir, key+artifactExt))
	if errors.Is(err, fs.ErrNotExist) {
		data, err = d.readCompressed(key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", key, err)
	}

	return data, nil
}

func (d *ArtifactsDir) readCompressed(key string) ([]byte, error) {
	f, err := os.Open(filepath.Join(d.dir, key+artifactGzExt))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	return io.ReadAll(zr)
}

// List returns the stored artifact keys in lexical order. Keys are the
// flattened <stage>_<name> form without file extensions.
func (d *ArtifactsDir) List() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, artifactGzExt):
			keys = append(keys, strings.TrimSuffix(name, artifactGzExt))
		case strings.HasSuffix(name, artifactExt):
			keys = append(keys, strings.TrimSuffix(name, artifactExt))
		}
	}
	sort.Strings(keys)

	return keys, nil
}
