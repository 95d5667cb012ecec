package datastore

import (
	"encoding/json"
	"fmt"
)

// As converts the any-typed Metadata field of a record into a concrete type
// by round-tripping it through JSON. Records read back from a serialized
// datastore carry their metadata as generic maps; As recovers the domain type.
func As[T any](metadata any) (T, error) {
	var out T

	b, err := json.Marshal(metadata)
	if err != nil {
		return out, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("failed to unmarshal metadata to %T: %w", out, err)
	}

	return out, nil
}
