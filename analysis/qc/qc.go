// Package qc computes per-cell quality-control metrics and discards
// low-quality cells before normalization. Outlier calls use the median
// absolute deviation so a handful of damaged cells cannot drag the
// thresholds, and can be blocked on a batch annotation so each donor or
// plate is judged against its own distribution.
package qc

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/crossbatch/scrna-integration-framework/analysis/experiment"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

// madScale rescales the median absolute deviation into a consistent
// estimator of the standard deviation under normality.
const madScale = 1.4826

// minBatchSize is the smallest batch block that still gets its own
// thresholds. Smaller blocks fall back to the global thresholds.
const minBatchSize = 3

// GlobalBlock keys the whole-dataset thresholds in OutlierResult.Thresholds.
const GlobalBlock = "all"

// Metrics holds the per-cell quality-control metrics, index-aligned with the
// experiment's cells.
type Metrics struct {
	// Sum is the total count of each cell.
	Sum []float64
	// Detected is the number of genes with nonzero counts in each cell.
	Detected []float64
	// SpikePct is the percentage of each cell's counts assigned to spike-in
	// rows. Cells with no counts at all report 0, not NaN.
	SpikePct []float64
}

// ComputeMetrics derives per-cell metrics from the counts assay. Spike-in
// rows are identified by the gene ID prefix, e.g. "ERCC-"; an empty prefix
// yields SpikePct 0 everywhere.
func ComputeMetrics(exp *experiment.Experiment, spikePrefix string) (*Metrics, error) {
	counts := exp.Counts()
	if counts == nil {
		return nil, fmt.Errorf("experiment has no sparse %q assay", experiment.AssayCounts)
	}

	spike := make([]bool, exp.NumGenes())
	if spikePrefix != "" {
		for i, id := range exp.GeneIDs() {
			spike[i] = strings.HasPrefix(id, spikePrefix)
		}
	}

	ncells := exp.NumCells()
	m := &Metrics{
		Sum:      counts.ColSums(),
		Detected: make([]float64, ncells),
		SpikePct: make([]float64, ncells),
	}
	for c, nz := range counts.ColNonzeros() {
		m.Detected[c] = float64(nz)
	}
	for c := 0; c < ncells; c++ {
		if m.Sum[c] == 0 {
			continue
		}
		var inSpike float64
		counts.DoColNonZero(c, func(i int, v float64) {
			if spike[i] {
				inSpike += v
			}
		})
		m.SpikePct[c] = 100 * inSpike / m.Sum[c]
	}

	return m, nil
}

// OutlierType selects which tail of the distribution flags outliers.
type OutlierType string

const (
	OutlierLower  OutlierType = "lower"
	OutlierHigher OutlierType = "higher"
	OutlierBoth   OutlierType = "both"
)

// OutlierOptions configures IsOutlier.
type OutlierOptions struct {
	// NMADs is the number of median absolute deviations a value may stray
	// from the median before it is flagged. Defaults to 3.
	NMADs float64
	// Type selects the flagged tail. Defaults to OutlierBoth.
	Type OutlierType
	// Log applies a log2(1+x) transform before computing thresholds, which
	// suits positively skewed metrics such as library sizes. Thresholds are
	// reported back on the original scale.
	Log bool
	// Batch computes thresholds separately per batch block. Blocks with
	// fewer than three cells fall back to the global thresholds.
	Batch []string
}

// Thresholds are the acceptance bounds derived for one batch block, on the
// original scale of the values.
type Thresholds struct {
	Lower float64
	Upper float64
}

// OutlierResult holds the outlier mask and the thresholds that produced it.
type OutlierResult struct {
	// Outlier is true for each value flagged as an outlier.
	Outlier []bool
	// Thresholds maps each batch block, plus GlobalBlock, to its bounds.
	Thresholds map[string]Thresholds
}

// IsOutlier flags values more than NMADs median absolute deviations from the
// median, per batch block when batches are given.
func IsOutlier(values []float64, opts OutlierOptions) (*OutlierResult, error) {
	if opts.NMADs == 0 {
		opts.NMADs = 3
	}
	if opts.NMADs < 0 {
		return nil, fmt.Errorf("nmads must be positive, got %v", opts.NMADs)
	}
	switch opts.Type {
	case "":
		opts.Type = OutlierBoth
	case OutlierLower, OutlierHigher, OutlierBoth:
	default:
		return nil, fmt.Errorf("unknown outlier type %q", opts.Type)
	}
	if opts.Batch != nil && len(opts.Batch) != len(values) {
		return nil, fmt.Errorf("got %d batch labels for %d values", len(opts.Batch), len(values))
	}

	work := values
	if opts.Log {
		work = make([]float64, len(values))
		for i, v := range values {
			if v < 0 {
				return nil, fmt.Errorf("value %d is negative (%v); log transform requires non-negative values", i, v)
			}
			work[i] = math.Log2(1 + v)
		}
	}

	global := boundsFor(work, opts)
	res := &OutlierResult{
		Outlier:    make([]bool, len(values)),
		Thresholds: map[string]Thresholds{GlobalBlock: global.onOriginalScale(opts.Log)},
	}

	blocks := map[string][]int{}
	if opts.Batch != nil {
		for i, b := range opts.Batch {
			blocks[b] = append(blocks[b], i)
		}
	}

	if len(blocks) == 0 {
		for i, v := range work {
			res.Outlier[i] = global.flags(v, opts.Type)
		}

		return res, nil
	}

	for name, idx := range blocks {
		b := global
		if len(idx) >= minBatchSize {
			sub := make([]float64, len(idx))
			for j, i := range idx {
				sub[j] = work[i]
			}
			b = boundsFor(sub, opts)
		}
		res.Thresholds[name] = b.onOriginalScale(opts.Log)
		for _, i := range idx {
			res.Outlier[i] = b.flags(work[i], opts.Type)
		}
	}

	return res, nil
}

// bounds are acceptance bounds on the (possibly transformed) working scale.
type bounds struct {
	lower float64
	upper float64
}

func boundsFor(values []float64, opts OutlierOptions) bounds {
	med := median(values)
	dev := make([]float64, len(values))
	for i, v := range values {
		dev[i] = math.Abs(v - med)
	}
	mad := madScale * median(dev)

	return bounds{
		lower: med - opts.NMADs*mad,
		upper: med + opts.NMADs*mad,
	}
}

func (b bounds) flags(v float64, t OutlierType) bool {
	switch t {
	case OutlierLower:
		return v < b.lower
	case OutlierHigher:
		return v > b.upper
	default:
		return v < b.lower || v > b.upper
	}
}

func (b bounds) onOriginalScale(logged bool) Thresholds {
	if !logged {
		return Thresholds{Lower: b.lower, Upper: b.upper}
	}

	return Thresholds{
		Lower: math.Exp2(b.lower) - 1,
		Upper: math.Exp2(b.upper) - 1,
	}
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}

	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// FilterOptions configures Filter.
type FilterOptions struct {
	// SpikePrefix identifies spike-in rows by gene ID prefix.
	SpikePrefix string
	// NMADs is passed through to the outlier calls. Defaults to 3.
	NMADs float64
	// BatchCol names a ColData string column to block the thresholds on,
	// typically the donor. Empty means global thresholds.
	BatchCol string
}

// Discard summarizes why cells were removed. A cell can be counted under
// several reasons but contributes once to Total.
type Discard struct {
	LowLibSize   int `json:"lowLibSize"`
	LowNFeatures int `json:"lowNFeatures"`
	HighSpikePct int `json:"highSpikePct"`
	Total        int `json:"total"`
	Kept         int `json:"kept"`
}

// Render returns the discard summary as a printable table.
func (d Discard) Render() string {
	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.SetHeader([]string{"Reason", "Cells"})
	table.AppendBulk([][]string{
		{"low library size", fmt.Sprint(d.LowLibSize)},
		{"low detected genes", fmt.Sprint(d.LowNFeatures)},
		{"high spike-in pct", fmt.Sprint(d.HighSpikePct)},
		{"discarded", fmt.Sprint(d.Total)},
		{"kept", fmt.Sprint(d.Kept)},
	})
	table.Render()

	return sb.String()
}

// Filter removes low-quality cells: low log-total counts, low log-detected
// genes, or high spike-in percentage, each judged by an NMADs outlier call.
// It returns the filtered experiment alongside the discard summary.
func Filter(lggr logger.Logger, exp *experiment.Experiment, opts FilterOptions) (*experiment.Experiment, *Discard, error) {
	m, err := ComputeMetrics(exp, opts.SpikePrefix)
	if err != nil {
		return nil, nil, err
	}

	var batch []string
	if opts.BatchCol != "" {
		col, ok := exp.ColData().StrCol(opts.BatchCol)
		if !ok {
			return nil, nil, fmt.Errorf("batch column %q is not a string column", opts.BatchCol)
		}
		batch = col
	}

	lowLib, err := IsOutlier(m.Sum, OutlierOptions{NMADs: opts.NMADs, Type: OutlierLower, Log: true, Batch: batch})
	if err != nil {
		return nil, nil, fmt.Errorf("library size: %w", err)
	}
	lowFeat, err := IsOutlier(m.Detected, OutlierOptions{NMADs: opts.NMADs, Type: OutlierLower, Log: true, Batch: batch})
	if err != nil {
		return nil, nil, fmt.Errorf("detected genes: %w", err)
	}
	highSpike, err := IsOutlier(m.SpikePct, OutlierOptions{NMADs: opts.NMADs, Type: OutlierHigher, Batch: batch})
	if err != nil {
		return nil, nil, fmt.Errorf("spike-in percentage: %w", err)
	}

	discard := &Discard{}
	keep := make([]bool, exp.NumCells())
	for i := range keep {
		drop := false
		if lowLib.Outlier[i] {
			discard.LowLibSize++
			drop = true
		}
		if lowFeat.Outlier[i] {
			discard.LowNFeatures++
			drop = true
		}
		if highSpike.Outlier[i] {
			discard.HighSpikePct++
			drop = true
		}
		if drop {
			discard.Total++
		}
		keep[i] = !drop
	}
	discard.Kept = exp.NumCells() - discard.Total

	filtered, err := exp.SubsetCellsMask(keep)
	if err != nil {
		return nil, nil, err
	}

	lggr.Infow("Filtered low-quality cells",
		"discarded", discard.Total,
		"kept", discard.Kept,
		"lowLibSize", discard.LowLibSize,
		"lowNFeatures", discard.LowNFeatures,
		"highSpikePct", discard.HighSpikePct,
	)

	return filtered, discard, nil
}
