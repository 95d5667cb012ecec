package integrate

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/crossbatch/scrna-integration-framework/analysis"
	"github.com/crossbatch/scrna-integration-framework/dataset"
	"github.com/crossbatch/scrna-integration-framework/dataset/local"
	"github.com/crossbatch/scrna-integration-framework/datastore"
	"github.com/crossbatch/scrna-integration-framework/internal/testutils"
	"github.com/crossbatch/scrna-integration-framework/operations"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

// memArtifacts is an in-memory analysis.ArtifactStore for tests.
type memArtifacts struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{data: make(map[string][]byte)}
}

func (m *memArtifacts) Save(stage, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[stage+"_"+name] = data

	return nil
}

func (m *memArtifacts) Load(stage, name string, out any) error {
	m.mu.Lock()
	data, ok := m.data[stage+"_"+name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("artifact %s_%s not found", stage, name)
	}

	return json.Unmarshal(data, out)
}

func (m *memArtifacts) List() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys, nil
}

var simBatches = []string{"plateA", "plateB", "plateC"}

// newSimEnvironment builds an environment over three simulated batches with
// planted populations and a mild batch effect.
func newSimEnvironment(t *testing.T, reporter operations.Reporter, artifacts analysis.ArtifactStore) analysis.Environment {
	t.Helper()

	exps := testutils.SimulateBatches(testutils.SimConfig{
		Genes:    200,
		Types:    []string{"alpha", "beta", "delta"},
		CellsPer: 40,
		Seed:     42,
	}, simBatches, 0.05)

	sets := make([]dataset.Dataset, len(exps))
	for i, exp := range exps {
		sets[i] = local.Dataset{DatasetName: simBatches[i], Dir: "sim://" + simBatches[i], Exp: exp}
	}
	collection := dataset.NewCollectionFromSlice(sets)

	return analysis.New(
		logger.Test(t), nil, collection, datastore.NewMemoryDataStore(), reporter, artifacts, nil,
	)
}

// simConfig keeps every stage small enough for fast deterministic tests.
func simConfig() Config {
	cfg := DefaultConfig()
	cfg.Datasets = append([]string(nil), simBatches...)
	cfg.HVG.N = 60
	cfg.HVG.Prop = 0
	cfg.Components = 10
	cfg.MNN.K = 10
	cfg.Cluster.K = 8
	cfg.Cluster.Seed = 1
	cfg.TSNE = TSNEConfig{Perplexity: 15, MaxIter: 60, Seed: 7}
	cfg.MarkerGenes = []string{"gene0001", "gene0011", "gene0021", "gene9999"}

	return cfg
}
