/*
Package operations provides the Operations API for managing and executing analysis stages
in a structured, reliable, and traceable manner.

# Operations API

The Operations API enables:
- Defining reusable analysis operations with versioning
- Executing operations with retry logic and error handling
- Tracking operation results and generating reports
- Sequencing multiple operations into pipelines

# Core Components

Operation:
  - Defines a single unit of work with inputs, dependencies, and outputs
  - Includes versioning, validation, and execution logic
  - Supports generic typing for type-safe operation definitions

Registry:
  - Stores and retrieves operations by ID and version
  - Enables operation lookup and reuse across pipelines
  - Provides centralized operation management

Executor:
  - Executes operations with configurable retry policies
  - Handles operation failures and recovery strategies
  - Supports input hooks for dynamic parameter adjustment

Sequence:
  - Orchestrates multiple operations in dependency order
  - Manages operation execution flow and error propagation
  - Provides sequence-level reporting and validation

Reporter:
  - Tracks operation execution results and metadata
  - Generates detailed reports for audit and debugging
  - Allows previously completed work to be skipped on re-runs

# Basic Usage

	// Define an operation
	op := operations.NewOperation(
		"normalize-counts", semver.MustParse("1.0.0"), "Log-normalize a count matrix",
		handler,
	)

	// Execute the operation
	bundle := operations.NewBundle(ctxGetter, logger, reporter)
	result, err := operations.ExecuteOperation(bundle, op, deps, input)
*/
package operations
