package common

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/crossbatch/scrna-integration-framework/analysis/experiment"
	"github.com/crossbatch/scrna-integration-framework/analysis/matrix"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

// SpikeCol is the RowData column marking spike-in control rows.
const SpikeCol = "spike"

// FieldRule derives a per-cell annotation field, either by copying an
// existing metadata column or by capturing a regexp group from the cell ID.
// Exactly one of the two must be set.
type FieldRule struct {
	// Column names a metadata column to copy.
	Column string
	// Pattern is a regexp with one capture group applied to each cell ID.
	Pattern string
}

// IsZero reports whether the rule is unset.
func (r FieldRule) IsZero() bool {
	return r.Column == "" && r.Pattern == ""
}

func (r FieldRule) derive(colData *experiment.Table, cellIDs []string) ([]string, error) {
	switch {
	case r.Column != "" && r.Pattern != "":
		return nil, fmt.Errorf("field rule sets both column %q and pattern %q", r.Column, r.Pattern)
	case r.Column != "":
		values, ok := colData.StrCol(r.Column)
		if !ok {
			return nil, fmt.Errorf("metadata has no string column %q", r.Column)
		}

		return values, nil
	case r.Pattern != "":
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid field pattern %q: %w", r.Pattern, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("field pattern %q has no capture group", r.Pattern)
		}
		values := make([]string, len(cellIDs))
		for i, id := range cellIDs {
			m := re.FindStringSubmatch(id)
			if m == nil {
				return nil, fmt.Errorf("cell %q (column %d) does not match field pattern %q", id, i, r.Pattern)
			}
			values[i] = m[1]
		}

		return values, nil
	default:
		return nil, fmt.Errorf("empty field rule")
	}
}

// BuildExperiment assembles the parsed pieces into an Experiment: spike-in
// rows marked in RowData by gene-ID prefix, aligned cell annotations (nil
// for none), and derived per-cell fields added in sorted name order.
func BuildExperiment(
	lggr logger.Logger,
	sp *matrix.Sparse,
	colData *experiment.Table,
	spikePrefix string,
	fields map[string]FieldRule,
	src string,
) (*experiment.Experiment, error) {
	var rowData *experiment.Table
	if spikePrefix != "" {
		rowData = experiment.NewTable(sp.RowIDs())
		mask := make([]bool, len(sp.RowIDs()))
		n := 0
		for i, id := range sp.RowIDs() {
			if strings.HasPrefix(id, spikePrefix) {
				mask[i] = true
				n++
			}
		}
		if err := rowData.AddBoolCol(SpikeCol, mask); err != nil {
			return nil, fmt.Errorf("%s: %w", src, err)
		}
		lggr.Infow("Marked spike-in rows", "source", src, "prefix", spikePrefix, "rows", n)
	}

	if colData == nil {
		colData = experiment.NewTable(sp.ColIDs())
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		values, err := fields[name].derive(colData, sp.ColIDs())
		if err != nil {
			return nil, fmt.Errorf("%s: field %q: %w", src, name, err)
		}
		if colData.HasCol(name) {
			// A derived field replaces a same-named metadata column only by
			// explicit Column self-reference; anything else is a conflict.
			if fields[name].Column != name {
				return nil, fmt.Errorf("%s: field %q collides with a metadata column", src, name)
			}
			continue
		}
		if err := colData.AddStrCol(name, values); err != nil {
			return nil, fmt.Errorf("%s: field %q: %w", src, name, err)
		}
	}

	exp, err := experiment.New(sp, rowData, colData)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src, err)
	}

	return exp, nil
}
