package catalog

const (
	schemaDatasetRefs = `
		CREATE TABLE dataset_refs (
			repository    varchar(255) not null,
			accession     varchar(255) not null,
			qualifier     varchar(255) not null,
			name          varchar(255) not null,
			version       varchar(255) not null,
			uri           text not null,
			label_set     text not null,

			PRIMARY KEY(repository, accession, qualifier)
		);`

	schemaDatasetMetadata = `
		CREATE TABLE dataset_metadata (
			repository    varchar(255) not null,
			accession     varchar(255) not null,
			metadata      text,

			PRIMARY KEY(repository, accession)
		);`

	schemaRunMetadata = `
		CREATE TABLE run_metadata (
			run_id        varchar(255) not null,
			workflow      varchar(255) not null,
			metadata      text,

			PRIMARY KEY(run_id)
		);`
)
