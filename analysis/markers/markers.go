// Package markers summarizes the expression of known marker genes per
// cluster, the quick sanity check that clusters line up with expected cell
// types.
package markers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/crossbatch/scrna-integration-framework/analysis/experiment"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

// Summary holds per-cluster expression summaries for a set of genes.
type Summary struct {
	// Genes are the requested genes present in the experiment, in request
	// order.
	Genes []string
	// Clusters are the sorted distinct cluster labels.
	Clusters []string
	// MeanLog[c][g] is the mean log-expression of Genes[g] in Clusters[c].
	MeanLog [][]float64
	// DetectFrac[c][g] is the fraction of Clusters[c] cells expressing
	// Genes[g].
	DetectFrac [][]float64
	// Missing are the requested genes absent from the experiment.
	Missing []string
}

// Summarize computes per-cluster mean log-expression and detection fraction
// for the given genes. Genes absent from the experiment are reported in the
// summary and logged, not fatal.
func Summarize(lggr logger.Logger, exp *experiment.Experiment, labels, genes []string) (*Summary, error) {
	logged := exp.LogCounts()
	if logged == nil {
		return nil, fmt.Errorf("experiment has no dense %q assay", experiment.AssayLogCounts)
	}
	if len(labels) != exp.NumCells() {
		return nil, fmt.Errorf("got %d labels for %d cells", len(labels), exp.NumCells())
	}
	if len(genes) == 0 {
		return nil, fmt.Errorf("no genes requested")
	}

	geneRow := make(map[string]int, exp.NumGenes())
	for i, id := range exp.GeneIDs() {
		geneRow[id] = i
	}

	s := &Summary{}
	var rows []int
	for _, g := range genes {
		r, ok := geneRow[g]
		if !ok {
			s.Missing = append(s.Missing, g)
			continue
		}
		s.Genes = append(s.Genes, g)
		rows = append(rows, r)
	}
	if len(s.Missing) > 0 {
		lggr.Warnw("Some marker genes are absent from the experiment", "missing", s.Missing)
	}
	if len(s.Genes) == 0 {
		return nil, fmt.Errorf("none of the %d requested genes are present", len(genes))
	}

	clusterCells := map[string][]int{}
	for c, label := range labels {
		clusterCells[label] = append(clusterCells[label], c)
	}
	s.Clusters = make([]string, 0, len(clusterCells))
	for label := range clusterCells {
		s.Clusters = append(s.Clusters, label)
	}
	sort.Strings(s.Clusters)

	s.MeanLog = make([][]float64, len(s.Clusters))
	s.DetectFrac = make([][]float64, len(s.Clusters))
	for ci, label := range s.Clusters {
		cells := clusterCells[label]
		means := make([]float64, len(rows))
		fracs := make([]float64, len(rows))
		for gi, r := range rows {
			var sum float64
			detected := 0
			for _, c := range cells {
				v := logged.At(r, c)
				sum += v
				if v > 0 {
					detected++
				}
			}
			means[gi] = sum / float64(len(cells))
			fracs[gi] = float64(detected) / float64(len(cells))
		}
		s.MeanLog[ci] = means
		s.DetectFrac[ci] = fracs
	}

	return s, nil
}

// Render returns the summary as a printable table: one row per cluster, one
// column per gene showing "mean (fraction)".
func (s *Summary) Render() string {
	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.SetHeader(append([]string{"Cluster"}, s.Genes...))

	body := make([][]string, len(s.Clusters))
	for ci, label := range s.Clusters {
		line := make([]string, 0, len(s.Genes)+1)
		line = append(line, label)
		for gi := range s.Genes {
			line = append(line, fmt.Sprintf("%.2f (%.0f%%)", s.MeanLog[ci][gi], 100*s.DetectFrac[ci][gi]))
		}
		body[ci] = line
	}
	table.AppendBulk(body)
	table.Render()

	return sb.String()
}
