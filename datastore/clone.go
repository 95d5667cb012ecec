package datastore

import (
	"bytes"
	"encoding/json"
)

// clone creates a copy of the given value using JSON serialization.
// It returns the cloned value or an error if the cloning process fails.
func clone[T any](v T) (T, error) {
	var zero T
	b, err := json.Marshal(v)
	if err != nil {
		return zero, err
	}

	// Decode with UseNumber so numeric metadata keeps its original textual
	// form as json.Number instead of collapsing to float64.
	var cloned T
	decoder := json.NewDecoder(bytes.NewReader(b))
	decoder.UseNumber()
	if err = decoder.Decode(&cloned); err != nil {
		return zero, err
	}

	return cloned, nil
}
