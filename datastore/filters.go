package datastore

import (
	"github.com/Masterminds/semver/v3"
)

// The following functions are a default set of filters that can be used with the Filter method of the
// DatasetRefStore interface. These filters are composable and can be combined to create more complex
// filters. For example, to filter references by repository and label:
//	```
//		records := store.Filter(
//			DatasetRefByRepository("geo"),
//			DatasetRefByLabel("pancreas"),
//		)
//	```
// Any user can create their own custom filters by implementing the FilterFunc type.

// All the filters below are used to filter DatasetRef records in the DatasetRefStore.
// They all implement the FilterFunc type.
var _ FilterFunc[DatasetRefKey, DatasetRef] = DatasetRefByRepository("")
var _ FilterFunc[DatasetRefKey, DatasetRef] = DatasetRefByName("")
var _ FilterFunc[DatasetRefKey, DatasetRef] = DatasetRefByVersion(nil)
var _ FilterFunc[DatasetRefKey, DatasetRef] = DatasetRefByLabel("")
var _ FilterFunc[DatasetRefKey, DatasetRef] = DatasetRefByQualifier("")

// datasetRefFilter returns a filter that includes records for which the predicate returns true.
// This is a generalized filter function that can be used to create custom filters.
func datasetRefFilter(predicate func(record DatasetRef) bool) FilterFunc[DatasetRefKey, DatasetRef] {
	return func(records []DatasetRef) []DatasetRef {
		filtered := make([]DatasetRef, 0, len(records))
		for _, record := range records {
			if predicate(record) {
				filtered = append(filtered, record)
			}
		}

		return filtered
	}
}

// DatasetRefByRepository returns a filter that only includes references from the provided repository family.
func DatasetRefByRepository(repository string) FilterFunc[DatasetRefKey, DatasetRef] {
	return datasetRefFilter(func(record DatasetRef) bool {
		return record.Repository == repository
	})
}

// DatasetRefByName returns a filter that only includes references with the provided dataset name.
func DatasetRefByName(name string) FilterFunc[DatasetRefKey, DatasetRef] {
	return datasetRefFilter(func(record DatasetRef) bool {
		return record.Name == name
	})
}

// DatasetRefByVersion returns a filter that only includes references with the provided version.
func DatasetRefByVersion(version *semver.Version) FilterFunc[DatasetRefKey, DatasetRef] {
	return datasetRefFilter(func(record DatasetRef) bool {
		return versionsEqual(record.Version, version)
	})
}

// DatasetRefByLabel returns a filter that only includes references carrying the provided label.
func DatasetRefByLabel(label string) FilterFunc[DatasetRefKey, DatasetRef] {
	return datasetRefFilter(func(record DatasetRef) bool {
		return record.Labels.Contains(label)
	})
}

// DatasetRefByQualifier returns a filter that only includes references with the provided qualifier.
func DatasetRefByQualifier(qualifier string) FilterFunc[DatasetRefKey, DatasetRef] {
	return datasetRefFilter(func(record DatasetRef) bool {
		return record.Qualifier == qualifier
	})
}

// DatasetMetadataByAccession returns a filter that only includes records for the provided accession.
func DatasetMetadataByAccession(accession string) FilterFunc[DatasetMetadataKey, DatasetMetadata] {
	return func(records []DatasetMetadata) []DatasetMetadata {
		filtered := make([]DatasetMetadata, 0, len(records))
		for _, record := range records {
			if record.Accession == accession {
				filtered = append(filtered, record)
			}
		}

		return filtered
	}
}

// RunMetadataByWorkflow returns a filter that only includes records produced by the provided workflow.
func RunMetadataByWorkflow(workflow string) FilterFunc[RunMetadataKey, RunMetadata] {
	return func(records []RunMetadata) []RunMetadata {
		filtered := make([]RunMetadata, 0, len(records))
		for _, record := range records {
			if record.Workflow == workflow {
				filtered = append(filtered, record)
			}
		}

		return filtered
	}
}
