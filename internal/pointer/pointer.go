// Package pointer provides a helper for getting a pointer to a value.
package pointer

// To returns a pointer to the given value.
func To[T any](v T) *T {
	return &v
}
