// Package environment assembles the runtime environment a workflow executes
// in: the dataset collection from a manifest, the workspace datastore, and
// per-run report and artifact persistence.
package environment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/crossbatch/scrna-integration-framework/analysis"
	"github.com/crossbatch/scrna-integration-framework/analysis/fetch"
	"github.com/crossbatch/scrna-integration-framework/dataset"
	"github.com/crossbatch/scrna-integration-framework/datastore"
	"github.com/crossbatch/scrna-integration-framework/datastore/catalog"
	"github.com/crossbatch/scrna-integration-framework/engine/scw/config"
	"github.com/crossbatch/scrna-integration-framework/engine/scw/workspace"
	"github.com/crossbatch/scrna-integration-framework/operations"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
	"github.com/crossbatch/scrna-integration-framework/workflows/integrate"
)

// Environment couples the analysis environment with the workspace handles the
// CLI needs to persist the run afterwards.
type Environment struct {
	analysis.Environment

	Workspace *workspace.Workspace
	Run       workspace.Run
	// Store is the concrete datastore behind Environment.DataStore, exposed
	// for persistence back into the workspace.
	Store *datastore.MemoryDataStore
}

type loadConfig struct {
	manifestPath  string
	params        map[string]any
	runID         string
	freshReporter bool
}

// LoadOpt configures Load.
type LoadOpt func(*loadConfig)

// WithManifest loads the dataset collection and base parameters from a YAML
// manifest instead of the built-in pancreas manifest.
func WithManifest(path string) LoadOpt {
	return func(c *loadConfig) { c.manifestPath = path }
}

// WithParams layers workflow parameters over those of the manifest.
func WithParams(params map[string]any) LoadOpt {
	return func(c *loadConfig) { c.params = params }
}

// WithRun resumes an existing run instead of creating a new one, picking up
// its persisted reports so completed stages are skipped.
func WithRun(id string) LoadOpt {
	return func(c *loadConfig) { c.runID = id }
}

// WithFreshReporter ignores any persisted reports, forcing every stage to
// execute again.
func WithFreshReporter() LoadOpt {
	return func(c *loadConfig) { c.freshReporter = true }
}

// Load builds the environment for a workflow run.
func Load(ctx context.Context, cfg *config.Config, lggr logger.Logger, opts ...LoadOpt) (Environment, error) {
	var o loadConfig
	for _, opt := range opts {
		opt(&o)
	}

	ws, err := workspace.New(cfg.WorkspaceDir, lggr)
	if err != nil {
		return Environment{}, err
	}

	store, err := ws.LoadDataStore()
	if err != nil {
		return Environment{}, err
	}
	if cfg.Catalog.DSN != "" {
		cat, err := catalog.Open(catalog.Config{DSN: cfg.Catalog.DSN})
		if err != nil {
			return Environment{}, err
		}
		defer cat.Close()

		remote, err := cat.Load(ctx)
		if err != nil {
			return Environment{}, fmt.Errorf("failed to load the catalog: %w", err)
		}
		if err := store.Merge(remote.Seal()); err != nil {
			return Environment{}, fmt.Errorf("failed to merge the catalog into the workspace: %w", err)
		}
	}

	collection, baseParams, err := NewCollection(ctx, cfg, lggr, o.manifestPath)
	if err != nil {
		return Environment{}, err
	}
	params := config.MergeParams(baseParams, o.params)

	var run workspace.Run
	if o.runID != "" {
		run, err = ws.Run(o.runID)
	} else {
		run, err = ws.NewRun()
	}
	if err != nil {
		return Environment{}, err
	}

	var reporter operations.Reporter
	if o.freshReporter {
		reporter = operations.NewMemoryReporter()
	} else {
		reporter, err = run.LoadReports()
		if err != nil {
			return Environment{}, err
		}
	}

	env := analysis.New(
		lggr,
		func() context.Context { return ctx },
		collection,
		store,
		reporter,
		run.Artifacts(),
		params,
	)
	env.RunID = run.ID()

	return Environment{Environment: env, Workspace: ws, Run: run, Store: store}, nil
}

// NewCache builds the download cache from the engine configuration.
func NewCache(cfg *config.Config, lggr logger.Logger) (*fetch.Cache, error) {
	opts := []fetch.CacheOption{
		fetch.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
	}

	if cfg.S3 != (config.S3Config{}) {
		downloader, err := newS3Downloader(cfg.S3)
		if err != nil {
			return nil, err
		}
		opts = append(opts, fetch.WithS3Downloader(downloader))
	}

	return fetch.New(cfg.CacheDir, lggr.Named("fetch"), opts...)
}

// NewCollection builds the dataset collection and its base workflow
// parameters. An empty manifest path selects the built-in pancreas manifest.
func NewCollection(
	ctx context.Context, cfg *config.Config, lggr logger.Logger, manifestPath string,
) (dataset.Collection, map[string]any, error) {
	cache, err := NewCache(cfg, lggr)
	if err != nil {
		return dataset.Collection{}, nil, err
	}

	if manifestPath == "" {
		collection, err := integrate.NewPancreasCollection(ctx, cache, lggr)
		if err != nil {
			return dataset.Collection{}, nil, err
		}

		params, err := paramsFromConfig(integrate.PancreasConfig())
		if err != nil {
			return dataset.Collection{}, nil, err
		}

		return collection, params, nil
	}

	m, err := LoadManifest(manifestPath)
	if err != nil {
		return dataset.Collection{}, nil, err
	}
	collection, err := m.Collection(ctx, cache, lggr)
	if err != nil {
		return dataset.Collection{}, nil, err
	}

	return collection, m.Params, nil
}

// paramsFromConfig flattens a typed workflow configuration into the generic
// parameter tree the environment carries.
func paramsFromConfig(cfg integrate.Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow config: %w", err)
	}

	params := map[string]any{}
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("failed to decode workflow config: %w", err)
	}

	return params, nil
}

func newS3Downloader(cfg config.S3Config) (fetch.S3Downloader, error) {
	awsCfg := aws.NewConfig()
	if cfg.Region != "" {
		awsCfg = awsCfg.WithRegion(cfg.Region)
	}
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}
	if cfg.AnonymousCredentials {
		awsCfg = awsCfg.WithCredentials(credentials.AnonymousCredentials)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return s3manager.NewDownloader(sess), nil
}
