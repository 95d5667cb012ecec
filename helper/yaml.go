package helper

import (
	"math"
	"regexp"
	"strconv"
)

type KeyMatchFunc func(key string) bool

// CoerceNumericStrings walks a yaml.Unmarshal result (maps/slices/scalars) and
// converts *string* values that parse as finite numbers into float64, and the
// "NA" marker into nil. It mutates map[string]any and []any in-place.
func CoerceNumericStrings(v any) any {
	return coerceNumericStrings(v, "", nil)
}

// CoerceNumericStringsForKeys is the safer variant: only converts numeric strings
// under specific leaf keys (e.g. "perplexity").
func CoerceNumericStringsForKeys(v any, matchFunc KeyMatchFunc) any {
	return coerceNumericStrings(v, "", matchFunc)
}

func coerceNumericStrings(v any, currentKey string, matchFunc KeyMatchFunc) any {
	switch x := v.(type) {
	case map[string]any:
		for k, vv := range x {
			key := currentKey + "." + k
			x[k] = coerceNumericStrings(vv, key, matchFunc)
		}

		return x

	case []map[string]any:
		for i := range x {
			// elements in a list don't have their own key, so we use the parent key with a ".[]" suffix
			// to check if we should coerce numeric strings in this list.
			key := currentKey + ".[]"
			x[i] = coerceNumericStrings(x[i], key, matchFunc).(map[string]any)
		}

		return x

	case []any:
		for i := range x {
			// elements in a list don't have their own key, so we use the parent key with a ".[]" suffix
			// to check if we should coerce numeric strings in this list.
			key := currentKey + ".[]"
			x[i] = coerceNumericStrings(x[i], key, matchFunc)
		}

		return x

	case string:
		if matchFunc != nil {
			if !matchFunc(currentKey) {
				return x
			}
		}
		if n, ok := stringToNumberOrNA(x); ok {
			return n // nil for "NA", float64 otherwise
		}
		return x

	default:
		return v
	}
}

func stringToNumberOrNA(s string) (any, bool) {
	// R writes missing values as the bare string NA.
	if s == "NA" {
		return nil, true
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, false
	}
	// Non-finite values like "Inf" parse but cannot round-trip through JSON; keep them as strings.
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}

	return f, true
}

// FIXUP: we coerce numeric strings to avoid yaml parsing issues where parameter values
// exported from R sessions arrive as quoted strings or NA markers instead of numbers.
func DefaultMatchKeysToFix(key string) bool {
	patterns := []string{
		// Matching examples:
		//	.stages.[].params.nmads
		//	.stages.[].params.sigma
		//	.stages.[].params.perplexity
		`^.*\.stages\.\[\]\.params\.(?:nmads|sigma|theta|perplexity|minmean|mincells)$`,
		// Matching examples:
		//	.datasets.[].qc.nmads
		`^.*\.datasets\.\[\]\.qc\.nmads$`,
	}

	matched := false
	for _, p := range patterns {
		var err error
		matched, err = regexp.MatchString(p, key)
		if err != nil {
			break
		}
		if matched {
			break
		}
	}

	return matched
}
