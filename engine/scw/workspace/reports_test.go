package workspace

import (
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossbatch/scrna-integration-framework/operations"
)

func Test_Reports_RoundTrip(t *testing.T) {
	t.Parallel()

	w := newTestWorkspace(t)
	run, err := w.NewRun()
	require.NoError(t, err)

	// A fresh run yields an empty reporter.
	reporter, err := run.LoadReports()
	require.NoError(t, err)
	reports, err := reporter.GetReports()
	require.NoError(t, err)
	assert.Empty(t, reports)

	report := operations.NewReport[any, any](operations.Definition{
		ID:      "quality-control",
		Version: semver.MustParse("1.0.0"),
	}, map[string]any{"nmads": 3.0}, map[string]any{"kept": 120.0}, nil)
	require.NoError(t, reporter.AddReport(report))
	require.NoError(t, run.SaveReports(reporter))

	restored, err := run.LoadReports()
	require.NoError(t, err)
	reports, err = restored.GetReports()
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, report.ID, reports[0].ID)
	assert.Equal(t, "quality-control", reports[0].Def.ID)
	assert.Equal(t, map[string]any{"kept": 120.0}, reports[0].Output)
}
