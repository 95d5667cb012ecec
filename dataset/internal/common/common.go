// Package common holds the repository identifiers and helpers shared by the
// dataset family packages.
package common

import "fmt"

// Repository identifiers for the supported dataset sources.
const (
	RepositoryGEO          = "geo"
	RepositoryArrayExpress = "arrayexpress"
	RepositoryLocal        = "local"
)

// Label renders the conventional "<name> (<accession>)" form used by
// Dataset.String implementations.
func Label(name, accession string) string {
	return fmt.Sprintf("%s (%s)", name, accession)
}
