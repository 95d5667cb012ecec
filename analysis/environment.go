// Package analysis ties the stage packages together. An Environment carries
// everything a workflow needs to run: the dataset collection, the workspace
// datastore, report and artifact persistence, and the workflow parameters.
package analysis

import (
	"context"

	"github.com/crossbatch/scrna-integration-framework/dataset"
	"github.com/crossbatch/scrna-integration-framework/datastore"
	"github.com/crossbatch/scrna-integration-framework/operations"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

// ArtifactStore persists typed stage artifacts for a run. Artifacts are the
// externally consumable outputs of a workflow (embeddings, cluster labels,
// marker tables) as opposed to reports, which record execution.
type ArtifactStore interface {
	// Save writes the artifact for a stage under the given name.
	Save(stage, name string, v any) error
	// Load reads the artifact for a stage into out.
	Load(stage, name string, out any) error
	// List returns the stored artifact keys in lexical order.
	List() ([]string, error)
}

// Environment is the runtime context handed to every workflow.
type Environment struct {
	// Logger is the structured logger for the run.
	Logger logger.Logger
	// RunID identifies the run this environment was built for. Empty when
	// the caller does not track runs; workflows then mint their own.
	RunID string
	// GetContext returns the context governing blocking work in the run.
	GetContext func() context.Context
	// Datasets is the collection of datasets available to the workflow.
	Datasets dataset.Collection
	// DataStore is the workspace datastore holding dataset references and
	// run records.
	DataStore datastore.MutableDataStore
	// Reporter receives operation reports; a file-backed reporter makes
	// memoization survive process restarts.
	Reporter operations.Reporter
	// Artifacts persists stage outputs for the run.
	Artifacts ArtifactStore
	// Params holds the workflow parameters loaded from configuration.
	Params map[string]any
}

// New constructs an Environment. A nil getContext defaults to
// context.Background and a nil reporter to an in-memory one.
func New(
	lggr logger.Logger,
	getContext func() context.Context,
	datasets dataset.Collection,
	store datastore.MutableDataStore,
	reporter operations.Reporter,
	artifacts ArtifactStore,
	params map[string]any,
) Environment {
	if getContext == nil {
		getContext = context.Background
	}
	if reporter == nil {
		reporter = operations.NewMemoryReporter()
	}

	return Environment{
		Logger:     lggr,
		GetContext: getContext,
		Datasets:   datasets,
		DataStore:  store,
		Reporter:   reporter,
		Artifacts:  artifacts,
		Params:     params,
	}
}

// OperationsBundle assembles the operations execution bundle for this
// environment.
func (e Environment) OperationsBundle() operations.Bundle {
	return operations.NewBundle(e.GetContext, e.Logger, e.Reporter)
}
