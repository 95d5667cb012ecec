package environment

import (
	"fmt"

	"github.com/crossbatch/scrna-integration-framework/workflows"
	"github.com/crossbatch/scrna-integration-framework/workflows/integrate"
)

// NewWorkflowRegistry builds the registry of workflows the engine can run.
// Every workflow derives its configuration from the environment's parameters,
// so the same registration serves any manifest.
func NewWorkflowRegistry() (*workflows.Registry, error) {
	registry := workflows.NewRegistry()

	err := registry.Add(
		integrate.WorkflowName,
		integrate.WorkflowVersion(),
		workflows.Configure(integrate.Workflow{}).WithConfigFrom(integrate.ConfigFromEnvironment),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register the %s workflow: %w", integrate.WorkflowName, err)
	}

	return registry, nil
}
