package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// LoadParams reads a TOML workflow-parameter file into the parameter tree a
// workflow decodes its configuration from. Keys mirror the workflow's config
// fields, e.g.
//
//	components = 50
//	[qc]
//	nmads = 3.0
//	[tsne]
//	perplexity = 30.0
//	seed = 42
//
// Keys absent from the file keep the workflow's defaults. An empty path
// returns a nil tree, which workflows also treat as all-defaults.
func LoadParams(filePath string) (map[string]any, error) {
	if filePath == "" {
		return nil, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read params file: %w", err)
	}

	params := map[string]any{}
	if err := toml.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("failed to parse params file %s: %w", filePath, err)
	}

	return params, nil
}

// MergeParams layers override onto base, recursing into nested tables so a
// partial override file replaces only the keys it names. Neither input is
// modified.
func MergeParams(base, override map[string]any) map[string]any {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}

	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		sub, ok := v.(map[string]any)
		if !ok {
			merged[k] = v
			continue
		}
		baseSub, ok := merged[k].(map[string]any)
		if !ok {
			merged[k] = sub
			continue
		}
		merged[k] = MergeParams(baseSub, sub)
	}

	return merged
}
