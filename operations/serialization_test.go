package operations

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

func Test_IsSerializable(t *testing.T) {
	t.Parallel()

	type exported struct {
		Accession string
		NumCells  int
	}
	type withUnexported struct {
		Accession string
		hidden    string
	}
	type nested struct {
		Inner *exported
	}

	tests := []struct {
		name string
		v    any
		want bool
	}{
		{name: "nil", v: nil, want: true},
		{name: "int", v: 1, want: true},
		{name: "string", v: "GSE81076", want: true},
		{name: "bool", v: true, want: true},
		{name: "float", v: 0.1, want: true},
		{name: "NaN", v: math.NaN(), want: false},
		{name: "Inf", v: math.Inf(1), want: false},
		{name: "func", v: func() bool { return true }, want: false},
		{name: "chan", v: make(chan int), want: false},
		{name: "exported struct", v: exported{Accession: "GSE81076", NumCells: 100}, want: true},
		{name: "struct with unexported field", v: withUnexported{Accession: "GSE81076", hidden: "x"}, want: false},
		{name: "pointer to struct", v: &exported{Accession: "GSE81076"}, want: true},
		{name: "nil pointer", v: (*exported)(nil), want: true},
		{name: "nested nil pointer", v: nested{}, want: true},
		{name: "slice of structs", v: []exported{{Accession: "a"}, {Accession: "b"}}, want: true},
		{name: "slice with func element", v: []any{1, func() {}}, want: false},
		{name: "string keyed map", v: map[string]any{"k": 1.5}, want: true},
		{name: "int keyed map", v: map[int]string{1: "a"}, want: true},
		{name: "float keyed map", v: map[float64]string{1.5: "a"}, want: false},
		{name: "map with NaN value", v: map[string]any{"k": math.NaN()}, want: false},
		{name: "time implements its own round trip", v: time.Now(), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, IsSerializable(logger.Test(t), tt.v))
		})
	}
}

func Test_constructUniqueHashFrom(t *testing.T) {
	t.Parallel()

	def := Definition{
		ID:          "normalize-counts",
		Version:     semver.MustParse("1.0.0"),
		Description: "log-normalize a count matrix",
	}

	type input struct {
		Accession string `json:"accession"`
		NMADs     int    `json:"nmads"`
	}

	t.Run("same definition and input produce the same hash", func(t *testing.T) {
		t.Parallel()

		cache := &sync.Map{}
		h1, err := constructUniqueHashFrom(cache, def, input{Accession: "GSE81076", NMADs: 3})
		require.NoError(t, err)
		h2, err := constructUniqueHashFrom(cache, def, input{Accession: "GSE81076", NMADs: 3})
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
	})

	t.Run("different inputs produce different hashes", func(t *testing.T) {
		t.Parallel()

		cache := &sync.Map{}
		h1, err := constructUniqueHashFrom(cache, def, input{Accession: "GSE81076", NMADs: 3})
		require.NoError(t, err)
		h2, err := constructUniqueHashFrom(cache, def, input{Accession: "GSE85241", NMADs: 3})
		require.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})

	t.Run("different definitions produce different hashes", func(t *testing.T) {
		t.Parallel()

		cache := &sync.Map{}
		other := def
		other.Version = semver.MustParse("2.0.0")

		h1, err := constructUniqueHashFrom(cache, def, input{Accession: "GSE81076"})
		require.NoError(t, err)
		h2, err := constructUniqueHashFrom(cache, other, input{Accession: "GSE81076"})
		require.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})

	t.Run("typed input matches its generic form loaded from disk", func(t *testing.T) {
		t.Parallel()

		// Reports read back from disk carry inputs as map[string]any. Memoization
		// across processes depends on both forms hashing identically.
		cache := &sync.Map{}
		h1, err := constructUniqueHashFrom(cache, def, input{Accession: "GSE81076", NMADs: 3})
		require.NoError(t, err)
		h2, err := constructUniqueHashFrom(cache, def, map[string]any{"nmads": 3, "accession": "GSE81076"})
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
	})

	t.Run("unserializable input returns an error", func(t *testing.T) {
		t.Parallel()

		cache := &sync.Map{}
		_, err := constructUniqueHashFrom(cache, def, math.NaN())
		require.Error(t, err)
	})
}
