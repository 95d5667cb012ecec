package datastore

import (
	"errors"

	"github.com/segmentio/ksuid"
)

var ErrRunMetadataNotFound = errors.New("no run metadata record can be found for the provided key")
var ErrRunMetadataExists = errors.New("a run metadata record with the supplied key already exists")

// RunMetadata implements the UniqueRecord interface.
var _ UniqueRecord[RunMetadataKey, RunMetadata] = RunMetadata{}

// RunMetadata is a struct that holds the metadata for a single workflow run,
// such as the parameter set used or stage summaries.
// NOTE: Metadata can be of any type. To convert from any to a specific type, use the utility method As.
type RunMetadata struct {
	// RunID is the KSUID of the run. KSUIDs sort lexicographically by creation
	// time, so a sorted listing of run IDs is a chronological history.
	RunID string `json:"runId"`
	// Workflow is the name of the workflow that produced the run.
	Workflow string `json:"workflow"`
	// Metadata is the metadata associated with the run.
	Metadata any `json:"metadata"`
}

// Clone creates a copy of the RunMetadata.
func (r RunMetadata) Clone() (RunMetadata, error) {
	metaClone, err := clone(r.Metadata)
	if err != nil {
		return RunMetadata{}, err
	}

	return RunMetadata{
		RunID:    r.RunID,
		Workflow: r.Workflow,
		Metadata: metaClone,
	}, nil
}

// Key returns the RunMetadataKey for the RunMetadata.
// It is used to uniquely identify the run metadata in the datastore.
func (r RunMetadata) Key() RunMetadataKey {
	return NewRunMetadataKey(r.RunID)
}

// NewRunID generates a fresh run identifier.
func NewRunID() string {
	return ksuid.New().String()
}

// runMetadataKey implements the RunMetadataKey interface.
var _ RunMetadataKey = runMetadataKey{}

type runMetadataKey struct {
	runID string
}

// RunID returns the KSUID of the workflow run.
func (k runMetadataKey) RunID() string { return k.runID }

// Equals returns true if the two RunMetadataKey instances are equal, false otherwise.
func (k runMetadataKey) Equals(other RunMetadataKey) bool {
	return k.runID == other.RunID()
}

// NewRunMetadataKey creates a new RunMetadataKey instance.
func NewRunMetadataKey(runID string) RunMetadataKey {
	return runMetadataKey{runID: runID}
}
