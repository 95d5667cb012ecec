package dataset

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/crossbatch/scrna-integration-framework/dataset/arrayexpress"
	"github.com/crossbatch/scrna-integration-framework/dataset/geo"
	"github.com/crossbatch/scrna-integration-framework/dataset/local"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

var _ Dataset = geo.Dataset{}
var _ Dataset = arrayexpress.Dataset{}
var _ Dataset = local.Dataset{}

// Collection represents a set of datasets that supports both eager and lazy
// loading. It provides querying capabilities across repository families.
// The struct can operate in two modes:
// - Eager mode: all datasets are loaded upfront
// - Lazy mode: datasets are downloaded and parsed on first access
type Collection struct {
	// Eager loading fields (used when lazyState = nil)
	datasets map[string]Dataset

	// Lazy loading state (used when non-nil)
	lazyState *lazyLoadingState
}

// lazyLoadingState holds the state for lazy loading mode.
type lazyLoadingState struct {
	mu        sync.RWMutex
	loaded    map[string]Dataset
	loaders   map[string]Loader // keyed by repository family
	supported map[string]string // maps dataset name to repository family
	ctx       context.Context   //nolint:containedctx // Context is needed for lazy loading operations
	lggr      logger.Logger
}

// NewCollection initializes a new Collection instance
func NewCollection(datasets map[string]Dataset) Collection {
	// perform a copy of datasets
	// to avoid mutating the original map
	if datasets == nil {
		datasets = make(map[string]Dataset)
	} else {
		copied := make(map[string]Dataset, len(datasets))
		for k, v := range datasets {
			copied[k] = v
		}
		datasets = copied
	}

	return Collection{
		datasets:  datasets,
		lazyState: nil, // nil indicates eager loading
	}
}

// NewCollectionFromSlice initializes a new Collection instance from a slice
// of Dataset.
func NewCollectionFromSlice(datasets []Dataset) Collection {
	m := make(map[string]Dataset, len(datasets))
	for _, d := range datasets {
		m[d.Name()] = d
	}

	return NewCollection(m)
}

// NewLazyCollection creates a Collection that defers dataset loading until
// first access. This avoids downloading and parsing datasets a run never
// touches.
//
// Parameters:
//   - ctx: Context for dataset loading operations
//   - supported: Maps dataset names to their repository family
//   - loaders: Provides the Loader for each repository family
//   - lggr: Logger for recording dataset loading events and errors
//
// If a dataset fails to load during access, the error is logged and the
// failing dataset is skipped, so successfully loaded datasets remain
// accessible while failures are visible in logs.
func NewLazyCollection(
	ctx context.Context,
	supported map[string]string,
	loaders map[string]Loader,
	lggr logger.Logger,
) Collection {
	return Collection{
		lazyState: &lazyLoadingState{
			loaded:    make(map[string]Dataset),
			loaders:   loaders,
			supported: supported,
			ctx:       ctx,
			lggr:      lggr,
		},
	}
}

// Get returns a dataset by name.
// In eager mode, returns the pre-loaded dataset immediately.
// In lazy mode, loads the dataset on-demand if not already loaded.
func (c *Collection) Get(name string) (Dataset, error) {
	if c.lazyState != nil {
		return c.getLazy(name)
	}

	return c.getEager(name)
}

func (c *Collection) getEager(name string) (Dataset, error) {
	if d, ok := c.datasets[name]; ok {
		return d, nil
	}

	return nil, ErrDatasetNotFound
}

func (c *Collection) getLazy(name string) (Dataset, error) {
	lazy := c.lazyState

	// Fast path: check if already loaded
	lazy.mu.RLock()
	if d, ok := lazy.loaded[name]; ok {
		lazy.mu.RUnlock()
		return d, nil
	}
	lazy.mu.RUnlock()

	// Slow path: need to load the dataset
	lazy.mu.Lock()
	defer lazy.mu.Unlock()

	// Double-check after acquiring write lock
	if d, ok := lazy.loaded[name]; ok {
		return d, nil
	}

	family, ok := lazy.supported[name]
	if !ok {
		return nil, ErrDatasetNotFound
	}

	loader, ok := lazy.loaders[family]
	if !ok {
		return nil, ErrDatasetNotFound
	}

	d, err := loader.Load(lazy.ctx, name)
	if err != nil {
		return nil, err
	}

	// Cache the loaded dataset
	lazy.loaded[name] = d

	return d, nil
}

// Exists checks if a dataset with the given name exists (not necessarily
// loaded).
func (c Collection) Exists(name string) bool {
	if c.lazyState != nil {
		_, ok := c.lazyState.supported[name]
		return ok
	}
	_, ok := c.datasets[name]

	return ok
}

// ExistsN checks if all datasets with the given names exist.
func (c Collection) ExistsN(names ...string) bool {
	for _, name := range names {
		if !c.Exists(name) {
			return false
		}
	}

	return true
}

// All returns an iterator over all datasets in name order.
// In lazy mode, datasets are loaded on-demand during iteration. If a dataset
// fails to load, the error is logged and the dataset is skipped.
//
// Note: lazy mode loads datasets sequentially during iteration. For faster
// loading when iterating over everything, convert to eager mode first using
// ToEagerCollection(), which loads all datasets in parallel.
func (c *Collection) All() iter.Seq2[string, Dataset] {
	if c.lazyState != nil {
		return c.allLazy()
	}

	return func(yield func(string, Dataset) bool) {
		names := slices.Sorted(maps.Keys(c.datasets))
		for _, name := range names {
			if !yield(name, c.datasets[name]) {
				return
			}
		}
	}
}

func (c *Collection) allLazy() iter.Seq2[string, Dataset] {
	lazy := c.lazyState
	return func(yield func(string, Dataset) bool) {
		names := slices.Sorted(maps.Keys(lazy.supported))
		for _, name := range names {
			d, err := c.Get(name)
			if err != nil {
				lazy.lggr.Errorw("Failed to load dataset during iteration",
					"dataset", name,
					"error", err,
				)
				// Skip datasets that fail to load
				continue
			}
			if !yield(name, d) {
				return
			}
		}
	}
}

// GEODatasets returns a map of all GEO datasets by name.
// In lazy mode, datasets are loaded on-demand. If a dataset fails to load,
// the error is logged and the dataset is skipped.
func (c *Collection) GEODatasets() map[string]geo.Dataset {
	if c.lazyState != nil {
		datasets, err := tryByRepository[geo.Dataset, *geo.Dataset](c, RepositoryGEO)
		if err != nil {
			c.lazyState.lggr.Errorw("Failed to load one or more GEO datasets", "error", err)
		}

		return datasets
	}

	return getByType[geo.Dataset, *geo.Dataset](*c)
}

// ArrayExpressDatasets returns a map of all ArrayExpress datasets by name.
// In lazy mode, datasets are loaded on-demand. If a dataset fails to load,
// the error is logged and the dataset is skipped.
func (c *Collection) ArrayExpressDatasets() map[string]arrayexpress.Dataset {
	if c.lazyState != nil {
		datasets, err := tryByRepository[arrayexpress.Dataset, *arrayexpress.Dataset](c, RepositoryArrayExpress)
		if err != nil {
			c.lazyState.lggr.Errorw("Failed to load one or more ArrayExpress datasets", "error", err)
		}

		return datasets
	}

	return getByType[arrayexpress.Dataset, *arrayexpress.Dataset](*c)
}

// LocalDatasets returns a map of all local datasets by name.
// In lazy mode, datasets are loaded on-demand. If a dataset fails to load,
// the error is logged and the dataset is skipped.
func (c *Collection) LocalDatasets() map[string]local.Dataset {
	if c.lazyState != nil {
		datasets, err := tryByRepository[local.Dataset, *local.Dataset](c, RepositoryLocal)
		if err != nil {
			c.lazyState.lggr.Errorw("Failed to load one or more local datasets", "error", err)
		}

		return datasets
	}

	return getByType[local.Dataset, *local.Dataset](*c)
}

// ListOption defines a function type for configuring List
type ListOption func(*listOptions)

type listOptions struct {
	// Use map for faster lookups
	includedRepositories map[string]struct{}
	excludedNames        map[string]struct{}
}

// WithRepository returns an option to filter datasets by repository family
// (geo, arrayexpress, local). This can be used more than once to include
// multiple families.
func WithRepository(repository string) ListOption {
	return func(o *listOptions) {
		if o.includedRepositories == nil {
			o.includedRepositories = make(map[string]struct{})
		}
		o.includedRepositories[repository] = struct{}{}
	}
}

// WithExclusion returns an option to exclude specific dataset names.
func WithExclusion(names []string) ListOption {
	return func(o *listOptions) {
		if o.excludedNames == nil {
			o.excludedNames = make(map[string]struct{})
		}
		for _, name := range names {
			o.excludedNames[name] = struct{}{}
		}
	}
}

// List returns all dataset names with optional filtering, sorted for
// consistent output.
// Options:
// - WithRepository: filter by repository family
// - WithExclusion: exclude specific dataset names
func (c Collection) List(options ...ListOption) []string {
	opts := listOptions{}
	for _, option := range options {
		option(&opts)
	}

	var names []string

	if c.lazyState != nil {
		names = make([]string, 0, len(c.lazyState.supported))
		for name, family := range c.lazyState.supported {
			if opts.skip(name, family) {
				continue
			}
			names = append(names, name)
		}
	} else {
		names = make([]string, 0, len(c.datasets))
		for name, d := range c.datasets {
			if opts.skip(name, d.Repository()) {
				continue
			}
			names = append(names, name)
		}
	}

	slices.Sort(names)

	return names
}

func (o listOptions) skip(name, family string) bool {
	if o.excludedNames != nil {
		if _, excluded := o.excludedNames[name]; excluded {
			return true
		}
	}
	if o.includedRepositories != nil {
		if _, ok := o.includedRepositories[family]; !ok {
			return true
		}
	}

	return false
}

// IsLazy returns true if the Collection instance uses lazy loading.
func (c Collection) IsLazy() bool {
	return c.lazyState != nil
}

// ToEagerCollection converts a lazy collection to an eagerly-loaded one.
// This loads all available datasets in parallel and returns a new Collection
// instance. If already eager, returns a copy of the current instance.
func (c *Collection) ToEagerCollection() (Collection, error) {
	if c.lazyState == nil {
		// Already eager, return a copy
		return NewCollection(c.datasets), nil
	}

	names := make([]string, 0, len(c.lazyState.supported))
	for name := range c.lazyState.supported {
		names = append(names, name)
	}

	if len(names) == 0 {
		return NewCollection(make(map[string]Dataset)), nil
	}

	results := c.loadParallel(names)

	datasets := make(map[string]Dataset)
	for res := range results {
		if res.err != nil {
			return Collection{}, fmt.Errorf("failed to load dataset %s: %w", res.name, res.err)
		}
		datasets[res.name] = res.dataset
	}

	return NewCollection(datasets), nil
}

// loadResult represents the result of loading a single dataset.
type loadResult struct {
	name    string
	dataset Dataset
	err     error
}

// loadParallel loads multiple datasets in parallel and returns a channel of
// results. The channel is closed when all datasets have been loaded.
func (c *Collection) loadParallel(names []string) <-chan loadResult {
	results := make(chan loadResult, len(names))
	var wg sync.WaitGroup

	for _, name := range names {
		wg.Add(1)
		go func(n string) {
			defer wg.Done()
			d, err := c.Get(n)
			results <- loadResult{
				name:    n,
				dataset: d,
				err:     err,
			}
		}(name)
	}

	// Close results channel when all goroutines are done
	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// tryByRepository loads all datasets of a repository family in parallel
// (lazy mode only). It returns a map of successfully loaded datasets and an
// error containing all failures.
// This is a standalone function because Go doesn't support generic methods.
func tryByRepository[T any, PT interface {
	*T
}](c *Collection, family string) (map[string]T, error) {
	names := make([]string, 0)
	for name, f := range c.lazyState.supported {
		if f == family {
			names = append(names, name)
		}
	}

	if len(names) == 0 {
		return make(map[string]T), nil
	}

	results := c.loadParallel(names)

	datasets := make(map[string]T)
	var errs []error

	for res := range results {
		if res.err != nil {
			errs = append(errs, fmt.Errorf("failed to load %s dataset %s: %w", family, res.name, res.err))
			continue
		}

		// Type assertion to convert Dataset to the specific family type
		switch d := res.dataset.(type) {
		case T:
			datasets[res.name] = d
		case PT:
			if d != nil {
				datasets[res.name] = *d
			}
		}
	}

	if len(errs) > 0 {
		return datasets, errors.Join(errs...)
	}

	return datasets, nil
}

// getByType extracts datasets of a specific type from a Collection (eager
// mode). It handles both value and pointer types, allowing for flexibility
// in how datasets are stored.
func getByType[VT any, PT any](c Collection) map[string]VT {
	datasets := make(map[string]VT, len(c.datasets))
	for name, d := range c.datasets {
		switch v := any(d).(type) {
		case VT:
			datasets[name] = v
		case PT:
			val := reflect.ValueOf(v)
			if val.Kind() == reflect.Ptr && !val.IsNil() {
				elem := val.Elem()
				if elem.CanInterface() {
					if typed, ok := elem.Interface().(VT); ok {
						datasets[name] = typed
					}
				}
			}
		}
	}

	return datasets
}
