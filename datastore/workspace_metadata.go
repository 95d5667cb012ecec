package datastore

import "errors"

var ErrWorkspaceMetadataNotSet = errors.New("no workspace metadata set")

// WorkspaceMetadata is a struct that holds the metadata for a whole analysis
// workspace. There is at most one record per datastore.
// NOTE: Metadata can be of any type. To convert from any to a specific type, use the utility method As.
type WorkspaceMetadata struct {
	// Metadata is the metadata associated with the workspace.
	Metadata any `json:"metadata"`
}

// Clone creates a copy of the WorkspaceMetadata.
func (r WorkspaceMetadata) Clone() (WorkspaceMetadata, error) {
	metaClone, err := clone(r.Metadata)
	if err != nil {
		return WorkspaceMetadata{}, err
	}

	return WorkspaceMetadata{
		Metadata: metaClone,
	}, nil
}
