// Package integrate implements the reference batch-correction workflow: it
// fetches a set of datasets, filters and normalizes them, selects highly
// variable genes, computes batch-weighted principal components, aligns the
// batches by mutual-nearest-neighbour correction and derives clusters, a
// two-dimensional embedding and marker summaries from the corrected
// coordinates.
package integrate

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/crossbatch/scrna-integration-framework/analysis"
	"github.com/crossbatch/scrna-integration-framework/datastore"
	"github.com/crossbatch/scrna-integration-framework/operations"
	"github.com/crossbatch/scrna-integration-framework/workflows"
)

// WorkflowName is the registry name of the integration workflow.
const WorkflowName = "integrate"

// WorkflowVersion is the registry version of the integration workflow.
func WorkflowVersion() *semver.Version {
	return version
}

var _ workflows.Workflow[Config] = Workflow{}

// Workflow is the integration workflow. Register it with
// workflows.Configure(integrate.Workflow{}).WithConfigFrom(integrate.ConfigFromEnvironment).
type Workflow struct{}

// VerifyPreconditions checks the configuration and that the environment can
// satisfy it, without fetching anything.
func (Workflow) VerifyPreconditions(e analysis.Environment, config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	if e.Artifacts == nil {
		return fmt.Errorf("environment has no artifact store")
	}
	if e.DataStore == nil {
		return fmt.Errorf("environment has no datastore")
	}

	names := config.Datasets
	datasets := e.Datasets
	if len(names) == 0 {
		names = datasets.List()
	}
	if len(names) < 2 {
		return fmt.Errorf("integration needs at least two datasets, got %d", len(names))
	}
	if !datasets.ExistsN(names...) {
		return fmt.Errorf("collection is missing some of the datasets %v", names)
	}

	return nil
}

// Apply runs the integration sequence and records the run in the workspace
// datastore. The returned reports include memoized stages.
func (Workflow) Apply(e analysis.Environment, config Config) (workflows.Output, error) {
	names := config.Datasets
	if len(names) == 0 {
		datasets := e.Datasets
		names = datasets.List()
	}

	deps := Deps{Env: e, State: NewState(config, names)}
	seqReport, err := operations.ExecuteSequence(e.OperationsBundle(), Sequence, deps, config)

	reports := append([]operations.Report[any, any]{}, seqReport.ExecutionReports...)
	if seqReport.ID != "" {
		reports = append(reports, seqReport.ToGenericReport())
	}
	if err != nil {
		return workflows.Output{Reports: reports}, err
	}

	artifacts, err := e.Artifacts.List()
	if err != nil {
		return workflows.Output{Reports: reports}, fmt.Errorf("failed to list run artifacts: %w", err)
	}

	runID := e.RunID
	if runID == "" {
		runID = datastore.NewRunID()
	}
	if err = e.DataStore.RunMetadata().Upsert(datastore.RunMetadata{
		RunID:    runID,
		Workflow: WorkflowName,
		Metadata: seqReport.Output,
	}); err != nil {
		return workflows.Output{Reports: reports}, fmt.Errorf("failed to record the run: %w", err)
	}

	return workflows.Output{Reports: reports, Artifacts: artifacts}, nil
}
