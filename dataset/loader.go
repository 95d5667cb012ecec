package dataset

import (
	"context"
	"fmt"
)

// TypedProvider is the shape every family provider (geo, arrayexpress,
// local) exposes with its concrete dataset type.
type TypedProvider[D Dataset] interface {
	Initialize(ctx context.Context) (D, error)
	Name() string
	Accession() string
	Dataset() D
}

// AsProvider adapts a typed family provider to the Provider interface.
func AsProvider[D Dataset](p TypedProvider[D]) Provider {
	return providerAdapter[D]{p}
}

type providerAdapter[D Dataset] struct {
	p TypedProvider[D]
}

func (a providerAdapter[D]) Initialize(ctx context.Context) (Dataset, error) {
	d, err := a.p.Initialize(ctx)
	if err != nil {
		return nil, err
	}

	return d, nil
}

func (a providerAdapter[D]) Name() string      { return a.p.Name() }
func (a providerAdapter[D]) Accession() string { return a.p.Accession() }
func (a providerAdapter[D]) Dataset() Dataset  { return a.p.Dataset() }

// NewLoader builds a Loader over typed family providers, keyed by dataset
// name. Used to wire one repository family into a lazy Collection.
func NewLoader[D Dataset, P TypedProvider[D]](providers ...P) (Loader, error) {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if _, dup := byName[p.Name()]; dup {
			return nil, fmt.Errorf("duplicate dataset name %q", p.Name())
		}
		byName[p.Name()] = AsProvider[D](p)
	}

	return loaderFunc(func(ctx context.Context, name string) (Dataset, error) {
		p, ok := byName[name]
		if !ok {
			return nil, ErrDatasetNotFound
		}

		return p.Initialize(ctx)
	}), nil
}

type loaderFunc func(ctx context.Context, name string) (Dataset, error)

func (f loaderFunc) Load(ctx context.Context, name string) (Dataset, error) {
	return f(ctx, name)
}
