// Package optest provides testing utilities for the operations package.
package optest

import (
	"testing"

	"github.com/crossbatch/scrna-integration-framework/operations"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

// NewBundle creates a new operations.Bundle for testing purposes.
// It uses the test context and a no-op logger, and stores reports in memory.
func NewBundle(t *testing.T) operations.Bundle {
	t.Helper()

	return operations.NewBundle(t.Context, logger.Nop(), operations.NewMemoryReporter())
}
