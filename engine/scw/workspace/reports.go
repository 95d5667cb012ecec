package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/crossbatch/scrna-integration-framework/operations"
)

const reportsFile = "reports.json"

// ReportsPath returns the path of the run's report file.
func (r Run) ReportsPath() string {
	return filepath.Join(r.dir, reportsFile)
}

// SaveReports persists every report the reporter holds, replacing the run's
// report file. Persisted reports are what lets a re-run skip completed stages
// after a process restart.
func (r Run) SaveReports(reporter operations.Reporter) error {
	reports, err := reporter.GetReports()
	if err != nil {
		return fmt.Errorf("failed to collect reports: %w", err)
	}

	data, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode reports: %w", err)
	}

	return writeAtomic(r.ReportsPath(), data)
}

// LoadReports reads the run's persisted reports into a memory reporter. A run
// without a report file yields an empty reporter.
func (r Run) LoadReports() (*operations.MemoryReporter, error) {
	data, err := os.ReadFile(r.ReportsPath())
	if errors.Is(err, fs.ErrNotExist) {
		return operations.NewMemoryReporter(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read reports: %w", err)
	}

	var reports []operations.Report[any, any]
	if err := json.Unmarshal(data, &reports); err != nil {
		return nil, fmt.Errorf("failed to parse reports of run %s: %w", r.id, err)
	}

	return operations.NewMemoryReporter(operations.WithReports(reports)), nil
}
