package environment

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossbatch/scrna-integration-framework/engine/scw/config"
	"github.com/crossbatch/scrna-integration-framework/operations"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
	"github.com/crossbatch/scrna-integration-framework/workflows/integrate"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()

	return &config.Config{
		LogLevel:     "info",
		CacheDir:     filepath.Join(dir, "cache"),
		WorkspaceDir: filepath.Join(dir, "workspace"),
		HTTPTimeout:  time.Minute,
	}
}

func Test_Load_Defaults(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	env, err := Load(t.Context(), cfg, logger.Test(t))
	require.NoError(t, err)

	// A new run was minted and wired through.
	assert.NotEmpty(t, env.RunID)
	assert.Equal(t, env.Run.ID(), env.RunID)
	assert.NotNil(t, env.DataStore)
	assert.NotNil(t, env.Artifacts)

	// The built-in pancreas manifest backs the collection and parameters.
	assert.True(t, env.Datasets.ExistsN(integrate.PancreasDatasets...))
	hvg, ok := env.Params["hvg"].(map[string]any)
	require.True(t, ok)
	assert.InEpsilon(t, 2000.0, hvg["n"], 1e-12)

	// The derived workflow configuration round-trips.
	wfCfg, err := integrate.ConfigFromEnvironment(env.Environment)
	require.NoError(t, err)
	assert.Equal(t, integrate.PancreasConfig(), wfCfg)
}

func Test_Load_ManifestAndParams(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	path := writeManifest(t, testManifest)

	env, err := Load(t.Context(), cfg, logger.Test(t),
		WithManifest(path),
		WithParams(map[string]any{"components": 10}),
	)
	require.NoError(t, err)

	assert.True(t, env.Datasets.ExistsN("grun", "lawlor", "segerstolpe"))

	// CLI parameters override the manifest's.
	assert.Equal(t, 10, env.Params["components"])
	hvg, ok := env.Params["hvg"].(map[string]any)
	require.True(t, ok)
	assert.InEpsilon(t, 2000.0, hvg["n"], 1e-12)
}

func Test_Load_ResumeRun(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	lggr := logger.Test(t)

	first, err := Load(t.Context(), cfg, lggr)
	require.NoError(t, err)

	report := operations.NewReport[any, any](operations.Definition{
		ID:      "fetch-dataset",
		Version: semver.MustParse("1.0.0"),
	}, nil, nil, nil)
	require.NoError(t, first.Reporter.AddReport(report))
	require.NoError(t, first.Run.SaveReports(first.Reporter))

	// Resuming picks up the persisted reports.
	resumed, err := Load(t.Context(), cfg, lggr, WithRun(first.RunID))
	require.NoError(t, err)
	assert.Equal(t, first.RunID, resumed.RunID)

	reports, err := resumed.Reporter.GetReports()
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, report.ID, reports[0].ID)

	// A fresh reporter discards them, forcing re-execution.
	forced, err := Load(t.Context(), cfg, lggr, WithRun(first.RunID), WithFreshReporter())
	require.NoError(t, err)
	reports, err = forced.Reporter.GetReports()
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func Test_NewWorkflowRegistry(t *testing.T) {
	t.Parallel()

	registry, err := NewWorkflowRegistry()
	require.NoError(t, err)

	assert.Equal(t, []string{"integrate@1.0.0"}, registry.List())

	_, version, err := registry.Latest(integrate.WorkflowName)
	require.NoError(t, err)
	assert.True(t, version.Equal(integrate.WorkflowVersion()))
}
