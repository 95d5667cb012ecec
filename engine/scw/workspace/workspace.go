// Package workspace manages the on-disk layout of an scw workspace:
//
//	<workspace>/
//	  datastore.json
//	  runs/<run-id>/
//	    reports.json
//	    artifacts/<stage>_<name>.json[.gz]
//
// Run IDs are KSUIDs, which sort lexicographically by creation time, so a
// sorted directory listing is a chronological run history.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/segmentio/ksuid"

	"github.com/crossbatch/scrna-integration-framework/datastore"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

const (
	dataStoreFile = "datastore.json"
	runsDirName   = "runs"
)

// ErrNoRuns is returned by LatestRun on a workspace without any runs.
var ErrNoRuns = errors.New("workspace has no runs")

// Workspace is a handle on a workspace directory.
type Workspace struct {
	root string
	lggr logger.Logger
}

// New opens the workspace rooted at the given directory, creating the layout
// if needed.
func New(root string, lggr logger.Logger) (*Workspace, error) {
	if root == "" {
		return nil, errors.New("workspace root is required")
	}
	if err := os.MkdirAll(filepath.Join(root, runsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace layout: %w", err)
	}

	return &Workspace{root: root, lggr: lggr}, nil
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string {
	return w.root
}

// DataStorePath returns the path of the workspace datastore file.
func (w *Workspace) DataStorePath() string {
	return filepath.Join(w.root, dataStoreFile)
}

// LoadDataStore reads the workspace datastore. A workspace without one yet
// yields an empty store.
func (w *Workspace) LoadDataStore() (*datastore.MemoryDataStore, error) {
	data, err := os.ReadFile(w.DataStorePath())
	if errors.Is(err, fs.ErrNotExist) {
		return datastore.NewMemoryDataStore(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace datastore: %w", err)
	}

	store, err := datastore.FromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse workspace datastore: %w", err)
	}

	return store, nil
}

// SaveDataStore writes the workspace datastore, replacing the previous file
// only once the new one is fully written.
func (w *Workspace) SaveDataStore(store *datastore.MemoryDataStore) error {
	data, err := store.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode workspace datastore: %w", err)
	}

	return writeAtomic(w.DataStorePath(), data)
}

// Run is a handle on one run directory within a workspace.
type Run struct {
	id  string
	dir string
}

// ID returns the run's KSUID.
func (r Run) ID() string { return r.id }

// Dir returns the run's directory.
func (r Run) Dir() string { return r.dir }

func (w *Workspace) runDir(id string) string {
	return filepath.Join(w.root, runsDirName, id)
}

// NewRun creates a fresh run directory under a new KSUID.
func (w *Workspace) NewRun() (Run, error) {
	id := ksuid.New().String()
	dir := w.runDir(id)
	if err := os.MkdirAll(filepath.Join(dir, artifactsDirName), 0o755); err != nil {
		return Run{}, fmt.Errorf("failed to create run directory: %w", err)
	}

	if w.lggr != nil {
		w.lggr.Infow("Created run", "runId", id, "dir", dir)
	}

	return Run{id: id, dir: dir}, nil
}

// Run opens an existing run by ID.
func (w *Workspace) Run(id string) (Run, error) {
	if _, err := ksuid.Parse(id); err != nil {
		return Run{}, fmt.Errorf("invalid run ID %q: %w", id, err)
	}

	dir := w.runDir(id)
	if _, err := os.Stat(dir); err != nil {
		return Run{}, fmt.Errorf("run %s not found: %w", id, err)
	}

	return Run{id: id, dir: dir}, nil
}

// Runs returns every run ID in the workspace in chronological order.
func (w *Workspace) Runs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(w.root, runsDirName))
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := ksuid.Parse(e.Name()); err != nil {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)

	return ids, nil
}

// LatestRun opens the most recent run. Returns ErrNoRuns on an empty
// workspace.
func (w *Workspace) LatestRun() (Run, error) {
	ids, err := w.Runs()
	if err != nil {
		return Run{}, err
	}
	if len(ids) == 0 {
		return Run{}, ErrNoRuns
	}

	id := ids[len(ids)-1]

	return Run{id: id, dir: w.runDir(id)}, nil
}

// writeAtomic stages data in a sibling temp file and renames it into place.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".partial-*")
	if err != nil {
		return fmt.Errorf("failed to create staging file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write staging file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close staging file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", filepath.Base(path), err)
	}

	return nil
}
