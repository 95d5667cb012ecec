// Package workflows defines the contract a runnable analysis workflow
// implements and a registry that resolves workflows by name and version.
package workflows

import (
	"github.com/crossbatch/scrna-integration-framework/analysis"
	"github.com/crossbatch/scrna-integration-framework/operations"
)

// Output is the result of applying a workflow.
type Output struct {
	// Reports are the operation reports produced by the run, including
	// memoized reports returned for skipped stages.
	Reports []operations.Report[any, any]
	// Artifacts lists the artifact keys the run saved, in save order.
	Artifacts []string
}

// Workflow pairs precondition checks with the execution of an analysis over
// an environment. C is the workflow's typed configuration.
type Workflow[C any] interface {
	// VerifyPreconditions checks that the environment and configuration are
	// sufficient to run, without performing any work.
	VerifyPreconditions(e analysis.Environment, config C) error
	// Apply runs the workflow against the environment.
	Apply(e analysis.Environment, config C) (Output, error)
}

// internalWorkflow provides an opaque type, to force the usage of only the
// workflowImpl for this purpose, while allowing the flexibility of an
// interface to work around the lack of covariant type-parameters.
type internalWorkflow interface {
	noop() // unexported to prevent arbitrary structs from implementing ConfiguredWorkflow.
	Apply(e analysis.Environment) (Output, error)
}

// ConfiguredWorkflow is a workflow paired with its configuration, ready for
// registration and execution.
type ConfiguredWorkflow internalWorkflow

// WrappedWorkflow wraps a Workflow to host the fluent "With" functions, so
// you can write `Configure(myWorkflow).With(aConfig)` in a typesafe way and
// pass the result into Registry.Add.
type WrappedWorkflow[C any] struct {
	workflow Workflow[C]
}

// Configure begins a chain of functions that pairs a Workflow to a config,
// for registration.
func Configure[C any](workflow Workflow[C]) WrappedWorkflow[C] {
	return WrappedWorkflow[C]{workflow: workflow}
}

// With returns a fully configured workflow with a fixed configuration.
func (f WrappedWorkflow[C]) With(config C) ConfiguredWorkflow {
	return workflowImpl[C]{
		workflow:       f,
		configProvider: func(analysis.Environment) (C, error) { return config, nil },
	}
}

// WithConfigFrom takes a provider that derives the configuration from the
// environment at execution time, typically from Environment.Params. Errors
// from the provider abort execution before any stage runs.
func (f WrappedWorkflow[C]) WithConfigFrom(configProvider func(e analysis.Environment) (C, error)) ConfiguredWorkflow {
	return workflowImpl[C]{workflow: f, configProvider: configProvider}
}

var _ ConfiguredWorkflow = workflowImpl[any]{}

type workflowImpl[C any] struct {
	workflow       WrappedWorkflow[C]
	configProvider func(e analysis.Environment) (C, error)
}

func (w workflowImpl[C]) noop() {}

func (w workflowImpl[C]) Apply(e analysis.Environment) (Output, error) {
	config, err := w.configProvider(e)
	if err != nil {
		return Output{}, err
	}

	if err = w.workflow.workflow.VerifyPreconditions(e, config); err != nil {
		return Output{}, err
	}

	return w.workflow.workflow.Apply(e, config)
}
