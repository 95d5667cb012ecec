package integrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossbatch/scrna-integration-framework/datastore"
	"github.com/crossbatch/scrna-integration-framework/operations"
)

func Test_Workflow_FullRun(t *testing.T) {
	t.Parallel()

	e := newSimEnvironment(t, operations.NewMemoryReporter(), newMemArtifacts())
	cfg := simConfig()

	require.NoError(t, Workflow{}.VerifyPreconditions(e, cfg))

	out, err := Workflow{}.Apply(e, cfg)
	require.NoError(t, err)

	// Three fetches, eight stages and the sequence itself.
	assert.Len(t, out.Reports, 12)

	for _, key := range []string{
		StageQC + "_" + artifactKeptCells,
		StageNormalize + "_" + artifactSizeFactors,
		StageVariance + "_" + artifactStats,
		StagePCA + "_" + artifactScores + "_plateA",
		StagePCA + "_" + artifactScores + "_plateB",
		StagePCA + "_" + artifactScores + "_plateC",
		StageCorrect + "_" + artifactCorrected,
		StageCluster + "_" + artifactLabels,
		StageTSNE + "_" + artifactCoordinates,
		StageMarkers + "_" + artifactMarkers,
	} {
		assert.Contains(t, out.Artifacts, key)
	}

	runs, err := e.DataStore.RunMetadata().Fetch()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, WorkflowName, runs[0].Workflow)

	summary, err := datastore.As[RunSummary](runs[0].Metadata)
	require.NoError(t, err)
	assert.Equal(t, Stages, summary.Completed)
	assert.Len(t, summary.Datasets, 3)
	assert.Equal(t, 60, summary.HVGs)
	assert.Positive(t, summary.CellsKept)
	// The three planted populations should dominate the clustering.
	assert.GreaterOrEqual(t, summary.NumClusters, 3)
}

func Test_Workflow_SecondRunIsMemoized(t *testing.T) {
	t.Parallel()

	reporter := operations.NewMemoryReporter()
	e := newSimEnvironment(t, reporter, newMemArtifacts())
	cfg := simConfig()

	first, err := Workflow{}.Apply(e, cfg)
	require.NoError(t, err)

	before, err := reporter.GetReports()
	require.NoError(t, err)

	second, err := Workflow{}.Apply(e, cfg)
	require.NoError(t, err)

	// Nothing re-executed: the reporter holds no new reports and the
	// artifacts are untouched.
	after, err := reporter.GetReports()
	require.NoError(t, err)
	assert.Len(t, after, len(before))
	assert.Equal(t, first.Artifacts, second.Artifacts)
}

func Test_Workflow_DownstreamChangeRerunsDownstreamOnly(t *testing.T) {
	t.Parallel()

	reporter := operations.NewMemoryReporter()
	artifacts := newMemArtifacts()
	e := newSimEnvironment(t, reporter, artifacts)
	cfg := simConfig()

	_, err := Workflow{}.Apply(e, cfg)
	require.NoError(t, err)

	before, err := reporter.GetReports()
	require.NoError(t, err)

	// A fresh environment drops all in-memory state, as after a process
	// restart. Changing only the t-SNE seed must re-run that stage alone,
	// rebuilding its input from the corrected-embedding artifact.
	e2 := newSimEnvironment(t, reporter, artifacts)
	cfg.TSNE.Seed = 99

	_, err = Workflow{}.Apply(e2, cfg)
	require.NoError(t, err)

	after, err := reporter.GetReports()
	require.NoError(t, err)
	assert.Len(t, after, len(before)+2, "expected only the embedding stage and the sequence to re-run")
}

func Test_Workflow_StopAfter(t *testing.T) {
	t.Parallel()

	e := newSimEnvironment(t, operations.NewMemoryReporter(), newMemArtifacts())
	cfg := simConfig()
	cfg.StopAfter = StageNormalize

	out, err := Workflow{}.Apply(e, cfg)
	require.NoError(t, err)

	runs, err := e.DataStore.RunMetadata().Fetch()
	require.NoError(t, err)
	require.Len(t, runs, 1)

	summary, err := datastore.As[RunSummary](runs[0].Metadata)
	require.NoError(t, err)
	assert.Equal(t, []string{StageFetch, StageQC, StageNormalize}, summary.Completed)

	assert.Contains(t, out.Artifacts, StageNormalize+"_"+artifactSizeFactors)
	assert.NotContains(t, out.Artifacts, StageCorrect+"_"+artifactCorrected)
}

func Test_Workflow_VerifyPreconditions(t *testing.T) {
	t.Parallel()

	e := newSimEnvironment(t, nil, newMemArtifacts())

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		require.NoError(t, Workflow{}.VerifyPreconditions(e, simConfig()))
	})

	t.Run("invalid config", func(t *testing.T) {
		t.Parallel()

		cfg := simConfig()
		cfg.Components = 0
		require.ErrorContains(t, Workflow{}.VerifyPreconditions(e, cfg), "components")
	})

	t.Run("unknown dataset", func(t *testing.T) {
		t.Parallel()

		cfg := simConfig()
		cfg.Datasets = append(cfg.Datasets, "retina")
		require.ErrorContains(t, Workflow{}.VerifyPreconditions(e, cfg), "missing")
	})

	t.Run("single dataset", func(t *testing.T) {
		t.Parallel()

		cfg := simConfig()
		cfg.Datasets = cfg.Datasets[:1]
		require.ErrorContains(t, Workflow{}.VerifyPreconditions(e, cfg), "at least two datasets")
	})

	t.Run("no artifact store", func(t *testing.T) {
		t.Parallel()

		bare := e
		bare.Artifacts = nil
		require.ErrorContains(t, Workflow{}.VerifyPreconditions(bare, simConfig()), "artifact store")
	})
}
