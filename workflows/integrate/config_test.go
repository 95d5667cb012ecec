package integrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossbatch/scrna-integration-framework/analysis"
	"github.com/crossbatch/scrna-integration-framework/dataset"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

func Test_DefaultConfig_IsValid(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultConfig().Validate())
}

func Test_Config_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing batch column",
			mutate:  func(c *Config) { c.BatchCol = "" },
			wantErr: "batch column is required",
		},
		{
			name:    "negative nmads",
			mutate:  func(c *Config) { c.QC.NMADs = -1 },
			wantErr: "nmads must be positive",
		},
		{
			name:    "zero components",
			mutate:  func(c *Config) { c.Components = 0 },
			wantErr: "components must be positive",
		},
		{
			name: "no hvg selection",
			mutate: func(c *Config) {
				c.HVG.N = 0
				c.HVG.Prop = 0
				c.HVG.VarThreshold = false
			},
			wantErr: "hvg selection",
		},
		{
			name:    "unknown stage",
			mutate:  func(c *Config) { c.StopAfter = "make-coffee" },
			wantErr: `unknown stage "make-coffee"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func Test_ConfigFromEnvironment(t *testing.T) {
	t.Parallel()

	e := analysis.New(logger.Test(t), nil, dataset.Collection{}, nil, nil, nil, map[string]any{
		"datasets":    []any{"grun", "muraro"},
		"spikePrefix": "ERCC-",
		"components":  25,
		"qc":          map[string]any{"nmads": 5.0},
		"mnn":         map[string]any{"k": 30},
	})

	cfg, err := ConfigFromEnvironment(e)
	require.NoError(t, err)

	assert.Equal(t, []string{"grun", "muraro"}, cfg.Datasets)
	assert.Equal(t, "ERCC-", cfg.SpikePrefix)
	assert.Equal(t, 25, cfg.Components)
	assert.InEpsilon(t, 5.0, cfg.QC.NMADs, 1e-12)
	assert.Equal(t, 30, cfg.MNN.K)

	// Untouched parameters keep their defaults.
	assert.Equal(t, "batch", cfg.BatchCol)
	assert.InEpsilon(t, DefaultConfig().MNN.Sigma, cfg.MNN.Sigma, 1e-12)
}

func Test_ConfigFromEnvironment_NoParams(t *testing.T) {
	t.Parallel()

	e := analysis.New(logger.Test(t), nil, dataset.Collection{}, nil, nil, nil, nil)

	cfg, err := ConfigFromEnvironment(e)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func Test_ConfigFromEnvironment_RejectsInvalid(t *testing.T) {
	t.Parallel()

	e := analysis.New(logger.Test(t), nil, dataset.Collection{}, nil, nil, nil, map[string]any{
		"components": -3,
	})

	_, err := ConfigFromEnvironment(e)
	require.ErrorContains(t, err, "components must be positive")
}
